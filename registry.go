package wrpc

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var (
	ErrInvalidMethodName = errors.New("wrpc: register method err: empty name")
	ErrNilMethodFunc     = errors.New("wrpc: register method err: nil func")
)

// FuncMode 方法类别，注册时静态声明，不做运行期探测
type FuncMode int

const (
	Value  FuncMode = iota // 单值方法
	Stream                 // 流式方法
)

// Args 一次调用的实参表（msgpack 编码 + 随包资源）
type Args struct {
	raw      [][]byte
	transfer []*Buffer
}

func NewArgs(raw [][]byte, transfer []*Buffer) Args {
	return Args{raw: raw, transfer: transfer}
}

func (a Args) Len() int { return len(a.raw) }

// Decode 解码第 i 个实参；被转移的 Buffer 须解码到 **Buffer
func (a Args) Decode(i int, out interface{}) error {
	if i < 0 || i >= len(a.raw) {
		return fmt.Errorf("wrpc: arg index %d out of range (%d args)", i, len(a.raw))
	}
	return DecodeValue(a.raw[i], out, a.transfer)
}

// ValueFunc 单值方法：返回一个结果（可为 *TransferDescriptor）
type ValueFunc func(ctx context.Context, args Args) (interface{}, error)

// StreamFunc 流式方法：通过 sink 逐条产出，返回 nil 表示正常结束
type StreamFunc func(ctx context.Context, args Args, sink *Sink) error

type method struct {
	name   string
	mode   FuncMode
	value  ValueFunc
	stream StreamFunc
}

// Registry 暴露方法表
//
// 每个方法在注册时声明为 Value 或 Stream 之一，执行端据此驱动结果，
// 不对返回值做形态嗅探。
type Registry struct {
	methods map[string]*method
}

func NewRegistry() *Registry {
	return &Registry{methods: make(map[string]*method)}
}

// Value 注册单值方法
func (r *Registry) Value(name string, fn ValueFunc) error {
	if name == "" {
		return ErrInvalidMethodName
	}
	if fn == nil {
		return ErrNilMethodFunc
	}
	r.methods[name] = &method{name: name, mode: Value, value: fn}
	return nil
}

// Stream 注册流式方法
func (r *Registry) Stream(name string, fn StreamFunc) error {
	if name == "" {
		return ErrInvalidMethodName
	}
	if fn == nil {
		return ErrNilMethodFunc
	}
	r.methods[name] = &method{name: name, mode: Stream, stream: fn}
	return nil
}

// Methods 方法名列表（READY 通告用，仅供参考）
func (r *Registry) Methods() []string {
	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) lookup(name string) (*method, bool) {
	m, ok := r.methods[name]
	return m, ok
}
