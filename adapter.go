package wrpc

import (
	"errors"
	"strings"
	"sync"
)

var (
	ErrAdapterClosed = errors.New("wrpc: adapter is closed")
)

// CallerAdapter 调用端信道能力
//
// 协议核心只消费这组能力，任何保序、保消息边界的点对点信道都可以
// 通过实现它接入。Raw 暴露底层传输句柄作为逃生舱。
type CallerAdapter interface {
	PostMessage(p *Pack) error
	OnMessage(handler func(*Pack))
	OnError(handler func(error))
	Terminate()
	Raw() interface{}
}

// CalleeAdapter 执行端信道能力
type CalleeAdapter interface {
	PostMessage(p *Pack) error
	OnMessage(handler func(*Pack))
}

// Dialer 按 endpoint 建立调用端信道
type Dialer func(endpoint string) (CallerAdapter, error)

var (
	transportMu sync.RWMutex
	transports  = make(map[string]Dialer)
)

// RegisterTransport 注册 scheme 对应的传输实现
func RegisterTransport(scheme string, d Dialer) {
	transportMu.Lock()
	transports[scheme] = d
	transportMu.Unlock()
}

// Dial 按 endpoint 的 scheme 选择传输并建立信道；
// 无对应传输时返回 *UnsupportedRuntimeError。
func Dial(endpoint string) (CallerAdapter, error) {
	scheme := endpoint
	if i := strings.Index(endpoint, "://"); i >= 0 {
		scheme = endpoint[:i]
	}
	transportMu.RLock()
	d, ok := transports[scheme]
	transportMu.RUnlock()
	if !ok {
		return nil, &UnsupportedRuntimeError{Scheme: scheme}
	}
	return d(endpoint)
}

const pipeChanCap = 1024

// pipeEnd 进程内信道的一端，Pack 按指针搬运，转移资源零拷贝
type pipeEnd struct {
	peer *pipeEnd
	in   chan *Pack

	mu      sync.Mutex
	started bool
	handler func(*Pack)
	errh    func(error)

	closed    chan struct{}
	closeOnce *sync.Once
}

// Pipe 进程内信道：返回互联的调用端/执行端两端
//
// 每个方向由单 goroutine 派发，方向内保序。OnMessage 注册前到达的
// Pack 缓存在信道里。
func Pipe() (CallerAdapter, CalleeAdapter) {
	closed := make(chan struct{})
	once := new(sync.Once)
	caller := &pipeEnd{in: make(chan *Pack, pipeChanCap), closed: closed, closeOnce: once}
	callee := &pipeEnd{in: make(chan *Pack, pipeChanCap), closed: closed, closeOnce: once}
	caller.peer = callee
	callee.peer = caller
	return caller, callee
}

func (e *pipeEnd) PostMessage(p *Pack) error {
	select {
	case <-e.closed:
		return ErrAdapterClosed
	default:
	}
	select {
	case e.peer.in <- p:
		return nil
	case <-e.closed:
		return ErrAdapterClosed
	}
}

func (e *pipeEnd) OnMessage(handler func(*Pack)) {
	e.mu.Lock()
	e.handler = handler
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()

	go func() {
		for {
			select {
			case p := <-e.in:
				e.mu.Lock()
				h := e.handler
				e.mu.Unlock()
				if h != nil {
					h(p)
				}
			case <-e.closed:
				return
			}
		}
	}()
}

func (e *pipeEnd) OnError(handler func(error)) {
	e.mu.Lock()
	e.errh = handler
	e.mu.Unlock()
}

func (e *pipeEnd) Terminate() {
	e.closeOnce.Do(func() {
		close(e.closed)
	})
}

func (e *pipeEnd) Raw() interface{} {
	return e
}
