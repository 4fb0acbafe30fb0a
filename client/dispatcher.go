package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hunyxv/wrpc"
	pkgerr "github.com/pkg/errors"
)

type connState int

const (
	stateInit  connState = iota // 信道未确认，调用排队
	stateReady                  // 已收到 READY，直接发送
	stateDead                   // 终态
)

// queuedCall READY 之前排队待发的调用
type queuedCall struct {
	pack  *wrpc.Pack
	call  *Call
	moved []*wrpc.Buffer // 全部窃取副本，未送达时撤销用
}

// Conn 调用端连接（wrap）
//
// 显式连接对象：关联id分配、挂起表、发送队列、状态机都归它所有，
// 终止是它的方法。关联id按连接单调递增、永不复用，同一时刻最多
// 出现在 发送队列/单值挂起表/流式挂起表 之一中。
type Conn struct {
	id      string
	adapter wrpc.CallerAdapter
	opts    *options
	logger  wrpc.Logger

	mu      sync.Mutex
	state   connState
	nextID  uint64
	queue   []*queuedCall
	calls   map[uint64]*pendingCall
	streams map[uint64]*pendingStream
	methods []string
}

// New 在给定信道上建立连接
func New(adapter wrpc.CallerAdapter, opts ...Option) *Conn {
	defopts := &options{
		Timeout: 5 * time.Minute,
		Logger:  wrpc.DefaultLogger(),
	}
	for _, f := range opts {
		f(defopts)
	}

	c := &Conn{
		id:      wrpc.NewConnID(),
		adapter: adapter,
		opts:    defopts,
		logger:  defopts.Logger,
		calls:   make(map[uint64]*pendingCall),
		streams: make(map[uint64]*pendingStream),
	}
	adapter.OnError(c.fatal)
	adapter.OnMessage(c.receive)
	return c
}

// ID 连接标识（日志用）
func (c *Conn) ID() string { return c.id }

// Methods READY 通告的远端方法表（仅供参考）
func (c *Conn) Methods() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, len(c.methods))
	copy(names, c.methods)
	return names
}

// Call 发起一次调用，返回双模句柄
//
// 实参中的 *TransferDescriptor 会被抽出并随包转移。状态 Init 时按
// 提交顺序排队，READY 后按原顺序冲刷；状态 Dead 时立即以 *InitError
// 失败，不触碰传输层。
func (c *Conn) Call(ctx context.Context, method string, args ...interface{}) *Call {
	call := newCall(c, method, callSiteStack(method))

	c.mu.Lock()
	if c.state == stateDead {
		c.mu.Unlock()
		call.pc.reject(&wrpc.InitError{Reason: "call after termination"})
		return call
	}

	rawArgs, transfer, moved, err := wrpc.EncodeValues(args)
	if err != nil {
		c.mu.Unlock()
		call.pc.reject(pkgerr.WithMessage(err, "wrpc-cli: encode args"))
		return call
	}

	c.nextID++
	call.id = c.nextID

	pack := &wrpc.Pack{ID: call.id, Stage: wrpc.CALL, Args: rawArgs, Transfer: transfer}
	pack.SetMethodName(method)
	wrpc.InjectTrace(ctx, pack.Header)

	if c.state == stateInit {
		c.queue = append(c.queue, &queuedCall{pack: pack, call: call, moved: moved})
		c.mu.Unlock()
		return call
	}

	c.dispatchLocked(pack, call, moved)
	c.mu.Unlock()
	return call
}

// dispatchLocked 登记挂起项并发送（持锁调用，保证 FIFO）
func (c *Conn) dispatchLocked(pack *wrpc.Pack, call *Call, moved []*wrpc.Buffer) {
	if call.promoted {
		c.streams[call.id] = call.stream.ps
		c.startStreamTimerLocked(call.id, call.stream.ps)
	} else {
		c.calls[call.id] = call.pc
		c.startCallTimerLocked(call.id, call.pc)
	}
	call.sent = true

	if err := c.adapter.PostMessage(pack); err != nil {
		delete(c.calls, call.id)
		delete(c.streams, call.id)
		call.pc.stopTimer()
		// 未送达：窃取撤销，moved-from 只绑定成功发送
		wrpc.RestoreBuffers(moved)
		cause := &wrpc.InitError{Reason: fmt.Sprintf("post message fail: %v", err)}
		call.pc.reject(cause)
		if call.promoted {
			call.stream.ps.stopTimer()
			call.stream.ps.finish(cause)
		}
	}
}

func (c *Conn) startCallTimerLocked(id uint64, pc *pendingCall) {
	if c.opts.Timeout <= 0 {
		return
	}
	pc.timer = time.AfterFunc(c.opts.Timeout, func() { c.timeoutCall(id, pc) })
}

func (c *Conn) startStreamTimerLocked(id uint64, ps *pendingStream) {
	if c.opts.Timeout <= 0 {
		return
	}
	ps.timer = time.AfterFunc(c.opts.Timeout, func() { c.timeoutStream(id, ps) })
}

func (c *Conn) timeoutCall(id uint64, pc *pendingCall) {
	c.mu.Lock()
	cur, ok := c.calls[id]
	if !ok || cur != pc {
		c.mu.Unlock()
		return
	}
	delete(c.calls, id)
	// 结算必须在持锁状态下完成：Stream() 依靠 mu 下的 settled()
	// 判断与挂起表保持一致
	pc.reject(&wrpc.TimeoutError{Method: pc.method, Window: c.opts.Timeout})
	c.mu.Unlock()
}

func (c *Conn) timeoutStream(id uint64, ps *pendingStream) {
	c.mu.Lock()
	cur, ok := c.streams[id]
	if !ok || cur != ps {
		c.mu.Unlock()
		return
	}
	delete(c.streams, id)
	dead := c.state == stateDead
	ps.finish(&wrpc.TimeoutError{Method: ps.method, Window: c.opts.Timeout})
	c.mu.Unlock()

	// 尽力通知远端；远端可能在观察到之前继续产出，迟到的包会因 id
	// 已移出挂起表而被丢弃
	if !dead {
		c.sendCancel(id)
	}
}

func (c *Conn) sendCancel(id uint64) {
	if err := c.adapter.PostMessage(&wrpc.Pack{ID: id, Stage: wrpc.CANCEL}); err != nil {
		c.logger.Debugf("wrpc-cli: cancel %d: %v", id, err)
	}
}

func (c *Conn) receive(p *wrpc.Pack) {
	switch p.Stage {
	case wrpc.READY:
		c.mu.Lock()
		c.methods = p.MethodList()
		if c.state == stateInit {
			c.state = stateReady
			queue := c.queue
			c.queue = nil
			for _, q := range queue {
				// 排队期间已被消费端关闭的流不再发出
				if q.call.closed {
					continue
				}
				c.dispatchLocked(q.pack, q.call, q.moved)
			}
		}
		c.mu.Unlock()
	case wrpc.RESOLVE:
		c.settle(p, nil)
	case wrpc.REJECT:
		var raw []byte
		if len(p.Args) > 0 {
			raw = p.Args[0]
		}
		c.settle(p, wrpc.UnmarshalErrFrame(raw))
	case wrpc.YIELD:
		c.yield(p)
	case wrpc.DONE:
		c.done(p)
	default:
		c.logger.Warnf("wrpc-cli: unexpected %s pack, dropped", wrpc.StageName(p.Stage))
	}
}

// settle 先查单值挂起表，再查流式挂起表（调用可能已被提升）
func (c *Conn) settle(p *wrpc.Pack, frame *wrpc.ErrFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pc, ok := c.calls[p.ID]; ok {
		delete(c.calls, p.ID)
		pc.stopTimer()
		if frame == nil {
			pc.resolve(p)
		} else {
			pc.reject(wrpc.RehydrateError(frame, pc.method, pc.callStack))
		}
		return
	}
	if ps, ok := c.streams[p.ID]; ok {
		delete(c.streams, p.ID)
		ps.stopTimer()
		if frame == nil {
			// 已提升的流收到 RESOLVE：该值作为最后一条送达后正常收尾
			ps.push(p)
			ps.finish(nil)
		} else {
			ps.finish(wrpc.RehydrateError(frame, ps.method, ps.callStack))
		}
		return
	}
	// 死 id 的迟到包，丢弃
}

func (c *Conn) yield(p *wrpc.Pack) {
	c.mu.Lock()
	ps, ok := c.streams[p.ID]
	if ok && c.opts.Timeout > 0 {
		// 生产端仍在推进，重置超时窗口
		ps.resetTimer(c.opts.Timeout)
	}
	c.mu.Unlock()
	if ok {
		ps.push(p)
	}
}

func (c *Conn) done(p *wrpc.Pack) {
	c.mu.Lock()
	ps, ok := c.streams[p.ID]
	if ok {
		delete(c.streams, p.ID)
		ps.stopTimer()
	}
	c.mu.Unlock()
	if ok {
		ps.finish(nil)
	}
}

func (c *Conn) fatal(err error) {
	c.shutdown(&wrpc.InitError{Reason: fmt.Sprintf("channel error: %v", err)}, false)
}

// Close 终止连接：同步拒绝所有挂起与排队中的调用并释放传输层
func (c *Conn) Close() error {
	c.shutdown(&wrpc.InitError{Reason: "connection terminated"}, true)
	return nil
}

func (c *Conn) shutdown(cause *wrpc.InitError, terminate bool) {
	c.mu.Lock()
	if c.state == stateDead {
		c.mu.Unlock()
		return
	}
	c.state = stateDead
	for _, q := range c.queue {
		wrpc.RestoreBuffers(q.moved)
		q.call.pc.reject(cause)
		if q.call.stream != nil {
			q.call.stream.ps.finish(cause)
		}
	}
	c.queue = nil
	for _, pc := range c.calls {
		pc.stopTimer()
		pc.reject(cause)
	}
	c.calls = make(map[uint64]*pendingCall)
	for _, ps := range c.streams {
		ps.stopTimer()
		ps.finish(cause)
	}
	c.streams = make(map[uint64]*pendingStream)
	c.mu.Unlock()

	c.logger.Debugf("wrpc-cli: conn %s terminated: %v", c.id, cause)
	if terminate {
		c.adapter.Terminate()
	}
}

func callSiteStack(method string) string {
	return fmt.Sprintf("%+v", pkgerr.New(method))
}
