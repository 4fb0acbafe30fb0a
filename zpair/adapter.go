// Package zpair 基于 zmq.PAIR 的点对点传输实现。
//
// 线格式：帧 0 为 msgpack 编码的 Pack，帧 1..n 依次为转移缓冲区的
// 原始字节。转移资源以独立帧搬运，不经过编解码器。
package zpair

import (
	"sync"

	"github.com/hunyxv/wrpc"
	"github.com/vmihailenco/msgpack/v5"
	pkgerr "github.com/pkg/errors"
)

func init() {
	for _, scheme := range []string{"tcp", "ipc", "inproc"} {
		wrpc.RegisterTransport(scheme, Dial)
	}
}

// Dial 建立调用端信道（zmq connect）
func Dial(endpoint string) (wrpc.CallerAdapter, error) {
	soc, err := newSocket(endpoint, false)
	if err != nil {
		return nil, pkgerr.WithMessage(err, "zpair: dial "+endpoint)
	}
	return newAdapter(soc), nil
}

// Bind 建立执行端信道（zmq bind）
func Bind(endpoint string) (wrpc.CalleeAdapter, error) {
	soc, err := newSocket(endpoint, true)
	if err != nil {
		return nil, pkgerr.WithMessage(err, "zpair: bind "+endpoint)
	}
	return newAdapter(soc), nil
}

// Adapter 把 socket 适配成协议核心消费的信道能力。
// 同一实现同时满足调用端与执行端接口。
type Adapter struct {
	soc *socket

	lock    sync.Mutex
	started bool
	handler func(*wrpc.Pack)
	errh    func(error)
}

func newAdapter(soc *socket) *Adapter {
	a := &Adapter{soc: soc}
	go a.errLoop()
	return a
}

func (a *Adapter) PostMessage(p *wrpc.Pack) error {
	if a.soc.closed() {
		return wrpc.ErrAdapterClosed
	}
	frames, err := marshalFrames(p)
	if err != nil {
		return err
	}
	select {
	case a.soc.sendChan <- frames:
		return nil
	case <-a.soc.done:
		return wrpc.ErrAdapterClosed
	}
}

func (a *Adapter) OnMessage(handler func(*wrpc.Pack)) {
	a.lock.Lock()
	a.handler = handler
	if a.started {
		a.lock.Unlock()
		return
	}
	a.started = true
	a.lock.Unlock()

	go func() {
		for {
			select {
			case frames := <-a.soc.recvChan:
				p, err := unmarshalFrames(frames)
				if err != nil {
					a.reportErr(pkgerr.WithMessage(err, "zpair: malformed frames"))
					continue
				}
				a.lock.Lock()
				h := a.handler
				a.lock.Unlock()
				if h != nil {
					h(p)
				}
			case <-a.soc.done:
				return
			}
		}
	}()
}

func (a *Adapter) OnError(handler func(error)) {
	a.lock.Lock()
	a.errh = handler
	a.lock.Unlock()
}

func (a *Adapter) Terminate() {
	a.soc.Close()
}

// Raw 底层 zmq socket 包装，逃生舱
func (a *Adapter) Raw() interface{} {
	return a.soc.soc
}

func (a *Adapter) errLoop() {
	for {
		select {
		case err := <-a.soc.errChan:
			a.reportErr(err)
		case <-a.soc.done:
			return
		}
	}
}

func (a *Adapter) reportErr(err error) {
	a.lock.Lock()
	h := a.errh
	a.lock.Unlock()
	if h != nil {
		h(err)
	}
}

func marshalFrames(p *wrpc.Pack) ([][]byte, error) {
	raw, err := msgpack.Marshal(p)
	if err != nil {
		return nil, err
	}
	frames := make([][]byte, 0, 1+len(p.Transfer))
	frames = append(frames, raw)
	for _, b := range p.Transfer {
		frames = append(frames, b.Bytes())
	}
	return frames, nil
}

func unmarshalFrames(frames [][]byte) (*wrpc.Pack, error) {
	if len(frames) == 0 {
		return nil, pkgerr.New("zpair: empty message")
	}
	var p wrpc.Pack
	if err := msgpack.Unmarshal(frames[0], &p); err != nil {
		return nil, err
	}
	for _, raw := range frames[1:] {
		p.Transfer = append(p.Transfer, wrpc.NewBuffer(raw))
	}
	return &p, nil
}
