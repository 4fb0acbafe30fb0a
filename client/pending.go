package client

import (
	"io"
	"sync"
	"time"

	"github.com/hunyxv/wrpc"
)

// pendingCall 单值模式的挂起项：结算回调、方法名、调用点堆栈、超时句柄
//
// 结算只发生一次；之后任意多次 Await 都观察同一结果（fan-out）。
type pendingCall struct {
	method    string
	callStack string

	timer *time.Timer

	once sync.Once
	done chan struct{}
	pack *wrpc.Pack // 结算值（RESOLVE 包）
	err  error
}

func newPendingCall(method, callStack string) *pendingCall {
	return &pendingCall{
		method:    method,
		callStack: callStack,
		done:      make(chan struct{}),
	}
}

func (pc *pendingCall) resolve(p *wrpc.Pack) {
	pc.once.Do(func() {
		pc.pack = p
		close(pc.done)
	})
}

func (pc *pendingCall) reject(err error) {
	pc.once.Do(func() {
		pc.err = err
		close(pc.done)
	})
}

func (pc *pendingCall) settled() bool {
	select {
	case <-pc.done:
		return true
	default:
		return false
	}
}

func (pc *pendingCall) stopTimer() {
	if pc.timer != nil {
		pc.timer.Stop()
	}
}

// pendingStream 流式模式的挂起项：消费侧缓冲 + 终态
//
// 缓冲无上界（快生产者慢消费者会堆积，见 DESIGN.md 的遗留缺口）。
// 终态到来后先清空缓冲再上报：已送达的值不会被错误抹掉。
type pendingStream struct {
	method    string
	callStack string

	timer *time.Timer

	mu     sync.Mutex
	cond   *sync.Cond
	buf    []*wrpc.Pack
	closed bool
	err    error // nil + closed == 正常 DONE
}

func newPendingStream(method, callStack string) *pendingStream {
	ps := &pendingStream{
		method:    method,
		callStack: callStack,
	}
	ps.cond = sync.NewCond(&ps.mu)
	return ps
}

func (ps *pendingStream) push(p *wrpc.Pack) {
	ps.mu.Lock()
	if ps.closed {
		// id 已死，迟到的 YIELD 静默丢弃
		ps.mu.Unlock()
		return
	}
	ps.buf = append(ps.buf, p)
	ps.mu.Unlock()
	ps.cond.Signal()
}

func (ps *pendingStream) finish(err error) {
	ps.mu.Lock()
	if ps.closed {
		ps.mu.Unlock()
		return
	}
	ps.closed = true
	ps.err = err
	ps.mu.Unlock()
	ps.cond.Broadcast()
}

// next 阻塞取下一条；缓冲清空后返回终态（正常结束为 io.EOF）
func (ps *pendingStream) next() (*wrpc.Pack, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for {
		if len(ps.buf) > 0 {
			p := ps.buf[0]
			ps.buf = ps.buf[1:]
			return p, nil
		}
		if ps.closed {
			if ps.err != nil {
				return nil, ps.err
			}
			return nil, io.EOF
		}
		ps.cond.Wait()
	}
}

// drop 提前退出：停止缓冲并丢弃未消费的值
func (ps *pendingStream) drop(err error) {
	ps.mu.Lock()
	if ps.closed {
		ps.mu.Unlock()
		return
	}
	ps.closed = true
	ps.err = err
	ps.buf = nil
	ps.mu.Unlock()
	ps.cond.Broadcast()
}

func (ps *pendingStream) stopTimer() {
	if ps.timer != nil {
		ps.timer.Stop()
	}
}

func (ps *pendingStream) resetTimer(window time.Duration) {
	if ps.timer != nil {
		ps.timer.Reset(window)
	}
}
