package client

import (
	"sync"

	"github.com/hunyxv/wrpc"
	pkgerr "github.com/pkg/errors"
)

var (
	// ErrPromoted 句柄已被 Stream() 提升，不能再 Await
	ErrPromoted = pkgerr.New("wrpc-cli: call promoted to stream")
	// ErrAwaited 句柄已被 Await 消费，不能再提升
	ErrAwaited = pkgerr.New("wrpc-cli: call already awaited")
	// ErrStreamTaken Stream() 只允许调用一次
	ErrStreamTaken = pkgerr.New("wrpc-cli: stream already taken")
	// ErrStreamClosed 消费端已 Close 该流
	ErrStreamClosed = pkgerr.New("wrpc-cli: stream closed by consumer")
)

// Call 双模结果句柄
//
// Await 与 Stream 互斥：首次 Await 把句柄固定在单值模式（之后可重复
// Await，观察同一结算）；Stream 把它提升为流式模式且只能取一次。
type Call struct {
	conn   *Conn
	id     uint64
	method string

	pc *pendingCall

	// 以下字段由 conn.mu 保护
	promoted bool
	awaited  bool
	closed   bool // 流已被消费端关闭；排队中的调用冲刷时跳过
	stream   *Stream
	sent     bool
}

func newCall(c *Conn, method, callStack string) *Call {
	return &Call{
		conn:   c,
		id:     0,
		method: method,
		pc:     newPendingCall(method, callStack),
	}
}

// Method 本次调用的方法名
func (c *Call) Method() string { return c.method }

// Await 阻塞等待单值结算并解码进 out（out 为 nil 则丢弃值）
func (c *Call) Await(out interface{}) error {
	c.conn.mu.Lock()
	if c.promoted {
		c.conn.mu.Unlock()
		return ErrPromoted
	}
	c.awaited = true
	c.conn.mu.Unlock()

	<-c.pc.done
	if c.pc.err != nil {
		return c.pc.err
	}
	if out == nil || len(c.pc.pack.Args) == 0 {
		return nil
	}
	return wrpc.DecodeValue(c.pc.pack.Args[0], out, c.pc.pack.Transfer)
}

// Stream 把句柄提升为流式消费（一次性）
//
// 远端按单值方法结算时，该值作为流的最后一条元素送达。
func (c *Call) Stream() (*Stream, error) {
	c.conn.mu.Lock()
	defer c.conn.mu.Unlock()

	if c.awaited {
		return nil, ErrAwaited
	}
	if c.promoted {
		return nil, ErrStreamTaken
	}
	c.promoted = true

	ps := newPendingStream(c.method, c.pc.callStack)
	c.stream = &Stream{call: c, ps: ps}

	switch {
	case c.pc.settled():
		// 已结算（含 Dead 态拒绝、编码失败）：结果转为流的终态
		if c.pc.err != nil {
			ps.finish(c.pc.err)
		} else {
			if len(c.pc.pack.Args) > 0 {
				ps.buf = append(ps.buf, c.pc.pack)
			}
			ps.finish(nil)
		}
	case !c.sent:
		// 仍在发送队列中，冲刷时按 promoted 登记
	default:
		// 已在单值挂起表中：迁移到流式挂起表并重新计时
		if cur, ok := c.conn.calls[c.id]; ok && cur == c.pc {
			delete(c.conn.calls, c.id)
			c.pc.stopTimer()
			c.conn.streams[c.id] = ps
			c.conn.startStreamTimerLocked(c.id, ps)
		}
	}
	return c.stream, nil
}

// Stream 流式消费端
type Stream struct {
	call *Call
	ps   *pendingStream

	closeOnce sync.Once
}

// Recv 阻塞取下一条元素并解码进 out；流正常结束返回 io.EOF
func (s *Stream) Recv(out interface{}) error {
	p, err := s.ps.next()
	if err != nil {
		return err
	}
	if out == nil || len(p.Args) == 0 {
		return nil
	}
	return wrpc.DecodeValue(p.Args[0], out, p.Transfer)
}

// Close 提前退出：丢弃未消费的值并向远端发一条 CANCEL（幂等）
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		conn := s.call.conn
		conn.mu.Lock()
		s.call.closed = true
		live := false
		if cur, ok := conn.streams[s.call.id]; ok && cur == s.ps {
			delete(conn.streams, s.call.id)
			live = true
		}
		sent := s.call.sent
		dead := conn.state == stateDead
		conn.mu.Unlock()

		s.ps.stopTimer()
		s.ps.drop(ErrStreamClosed)
		if live && sent && !dead {
			conn.sendCancel(s.call.id)
		}
	})
	return nil
}
