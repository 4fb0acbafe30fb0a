package wrpc

import (
	"errors"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrBufferMoved = errors.New("wrpc: buffer has been moved")
)

// Buffer 可转移资源：一段所有权可随调用在信道两端之间移动的字节
//
// 转移后原持有者观察到 moved-from 状态：Len() == 0，Bytes() == nil。
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	moved  bool
	origin *Buffer // 窃取来源，发送失败时可撤销
}

func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: data}
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

// Moved 是否已被转移
func (b *Buffer) Moved() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.moved
}

// move 窃取内容到一个新 Buffer，原 Buffer 进入 moved-from 状态
func (b *Buffer) move() *Buffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	stolen := &Buffer{data: b.data, origin: b}
	b.data = nil
	b.moved = true
	return stolen
}

// RestoreBuffers 撤销一次未送达的窃取，原 Buffer 重新可见
//
// 只对本端 EncodeValues 产出的窃取副本有意义；经信道送达对端后
// origin 指向的是发送方的对象，接收方不应调用。
func RestoreBuffers(stolen []*Buffer) {
	for _, s := range stolen {
		if s == nil {
			continue
		}
		s.mu.Lock()
		origin, data := s.origin, s.data
		s.data = nil
		s.origin = nil
		s.mu.Unlock()
		if origin == nil {
			continue
		}
		origin.mu.Lock()
		origin.data = data
		origin.moved = false
		origin.mu.Unlock()
	}
}

var (
	_ msgpack.CustomEncoder = (*Buffer)(nil)
	_ msgpack.CustomDecoder = (*Buffer)(nil)
)

// EncodeMsgpack 嵌套在复合值内部时按字节序列化
func (b *Buffer) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.EncodeBytes(b.Bytes())
}

func (b *Buffer) DecodeMsgpack(dec *msgpack.Decoder) error {
	data, err := dec.DecodeBytes()
	if err != nil {
		return err
	}
	b.data = data
	b.moved = false
	return nil
}

// TransferDescriptor 转移标记：包裹一个值并列出其中必须移动的资源
//
// 包裹单个 *Buffer 时资源表缺省为其自身；包裹复合值时调用方必须显式
// 列出每个内嵌 Buffer（包装器不推断结构）。
type TransferDescriptor struct {
	Value     interface{}
	Resources []*Buffer
}

// Transfer 构造转移标记
func Transfer(value interface{}, resources ...*Buffer) *TransferDescriptor {
	if len(resources) == 0 {
		if b, ok := value.(*Buffer); ok {
			resources = []*Buffer{b}
		}
	}
	return &TransferDescriptor{Value: value, Resources: resources}
}

// transferRef 顶层 *Buffer 实参/结果在 Args 中的占位编码，
// 指向 Pack.Transfer 的下标，载荷字节不经过编解码器。
type transferRef struct {
	Ref int `msgpack:"__transfer_ref__"`
}

type transferProbe struct {
	Ref *int `msgpack:"__transfer_ref__"`
}

// EncodeValues 编码一组实参/结果，抽出转移标记并合并资源表
//
// transfer 为随包搬运的窃取副本，只含被占位引用的顶层 Buffer；嵌套
// Buffer 的字节已随载荷编码，只被置为 moved-from，不占转移表。moved
// 覆盖全部窃取副本（含嵌套），发送失败时交给 RestoreBuffers 撤销。
// 调用方原 Buffer 在返回时已处于 moved-from 状态。
func EncodeValues(values []interface{}) (args [][]byte, transfer []*Buffer, moved []*Buffer, err error) {
	var resources []*Buffer
	payloads := make([]interface{}, len(values))
	for i, v := range values {
		if td, ok := v.(*TransferDescriptor); ok {
			payloads[i] = td.Value
			for _, r := range td.Resources {
				if !containsBuffer(resources, r) {
					resources = append(resources, r)
				}
			}
		} else {
			payloads[i] = v
		}
	}

	var refs []*Buffer // 被占位引用的顶层 Buffer，顺序即转移表下标
	args = make([][]byte, len(payloads))
	for i, v := range payloads {
		if b, ok := v.(*Buffer); ok && containsBuffer(resources, b) {
			idx := indexOfBuffer(refs, b)
			if idx < 0 {
				idx = len(refs)
				refs = append(refs, b)
			}
			raw, merr := msgpack.Marshal(&transferRef{Ref: idx})
			if merr != nil {
				return nil, nil, nil, merr
			}
			args[i] = raw
			continue
		}
		raw, merr := msgpack.Marshal(v)
		if merr != nil {
			return nil, nil, nil, merr
		}
		args[i] = raw
	}

	// 编码完成后再窃取，嵌套 Buffer 的字节已进入载荷
	stolen := make(map[*Buffer]*Buffer, len(resources))
	moved = make([]*Buffer, len(resources))
	for i, r := range resources {
		if r.Moved() {
			RestoreBuffers(moved[:i])
			return nil, nil, nil, ErrBufferMoved
		}
		s := r.move()
		stolen[r] = s
		moved[i] = s
	}
	transfer = make([]*Buffer, len(refs))
	for i, r := range refs {
		transfer[i] = stolen[r]
	}
	return args, transfer, moved, nil
}

// DecodeValue 解码单个实参/结果，转移占位则从资源表取出
func DecodeValue(raw []byte, out interface{}, transfer []*Buffer) error {
	var probe transferProbe
	if err := msgpack.Unmarshal(raw, &probe); err == nil && probe.Ref != nil {
		ref := *probe.Ref
		if ref < 0 || ref >= len(transfer) {
			return errors.New("wrpc: transfer ref out of range")
		}
		bp, ok := out.(**Buffer)
		if !ok {
			return errors.New("wrpc: transferred buffer must decode into **Buffer")
		}
		*bp = transfer[ref]
		return nil
	}
	return msgpack.Unmarshal(raw, out)
}

func containsBuffer(list []*Buffer, b *Buffer) bool {
	return indexOfBuffer(list, b) >= 0
}

func indexOfBuffer(list []*Buffer, b *Buffer) int {
	for i, item := range list {
		if item == b {
			return i
		}
	}
	return -1
}
