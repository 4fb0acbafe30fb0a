package wrpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/hunyxv/utils/spinlock"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/trace"
)

// Executor 执行端（expose）
//
// 收到 CALL 后在工作池中解析方法表并驱动执行：单值方法回 RESOLVE，
// 流式方法登记进活动表、逐条回 YIELD、正常结束回 DONE；任何失败
// （error 返回值或 panic）回 REJECT。CANCEL 把流移出活动表并取消其
// context，此后该 id 不再发出任何包。
type Executor struct {
	adapter  CalleeAdapter
	registry *Registry
	logger   Logger
	pool     *ants.Pool

	active sync.Map // id -> *activeStream

	mu       sync.Mutex
	isClosed bool
}

// activeStream 活动表项
//
// 登记发生在 handle 的 CALL 分支（与 CANCEL 同一派发序），cancel 由
// 工作池中的 doStream 稍后补上；若 CANCEL 先于补上到达，bind 观察到
// canceled 并告知 doStream 整体放弃。
type activeStream struct {
	mu       sync.Mutex
	canceled bool
	cancel   context.CancelFunc
}

func (s *activeStream) bind(cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.canceled {
		return false
	}
	s.cancel = cancel
	return true
}

func (s *activeStream) abort() {
	s.mu.Lock()
	s.canceled = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Expose 在信道上暴露方法表，并立即通告 READY
//
// READY 携带的方法表仅供参考，未知方法名仍按调用时惰性拒绝。
func Expose(adapter CalleeAdapter, registry *Registry, opts ...Option) (*Executor, error) {
	defopts := &options{
		Logger: DefaultLogger(),
	}
	for _, f := range opts {
		f(defopts)
	}

	pool, err := ants.NewPool(defopts.WorkPoolSize, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}

	e := &Executor{
		adapter:  adapter,
		registry: registry,
		logger:   defopts.Logger,
		pool:     pool,
	}
	adapter.OnMessage(e.handle)

	ready := &Pack{Stage: READY}
	ready.SetMethodList(registry.Methods())
	if err := adapter.PostMessage(ready); err != nil {
		pool.Release()
		return nil, errors.WithMessage(err, "wrpc: announce ready")
	}
	return e, nil
}

// Close 停止接收新任务并释放工作池
func (e *Executor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isClosed {
		return
	}
	e.isClosed = true
	e.pool.Release()
}

func (e *Executor) closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isClosed
}

func (e *Executor) handle(p *Pack) {
	switch p.Stage {
	case CALL:
		if e.closed() {
			return
		}
		name := p.MethodName()
		if name == "" {
			e.reject(p.ID, &ErrFrame{Name: "Error", Message: ErrNoMethodName.Error()})
			return
		}
		m, ok := e.registry.lookup(name)
		if !ok {
			e.reject(p.ID, &ErrFrame{
				Name:    "Error",
				Message: fmt.Sprintf("Method '%s' not found", name),
			})
			return
		}
		// 流式调用的活动表登记必须与 CANCEL 处理同序：
		// 在提交工作池之前完成，紧随 CALL 的 CANCEL 才不会扑空
		var as *activeStream
		if m.mode == Stream {
			as = &activeStream{}
			e.active.Store(p.ID, as)
		}
		if err := e.pool.Submit(func() { e.do(p, m, as) }); err != nil {
			if errors.Is(err, ants.ErrPoolOverload) {
				e.logger.Warnf("executor: %v", err)
			} else {
				e.logger.Errorf("executor: %v", err)
			}
			if as != nil {
				if _, live := e.active.LoadAndDelete(p.ID); !live {
					return
				}
			}
			e.reject(p.ID, NormalizeError(err))
		}
	case CANCEL:
		if v, ok := e.active.LoadAndDelete(p.ID); ok {
			v.(*activeStream).abort()
		}
	default:
		e.logger.Warnf("executor: unexpected %s pack, dropped", StageName(p.Stage))
	}
}

func (e *Executor) do(p *Pack, m *method, as *activeStream) {
	ctx, span := ExtractTrace(context.Background(), p.Header, m.name)
	defer endSpan(span)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	args := NewArgs(p.Args, p.Transfer)
	switch m.mode {
	case Value:
		e.doValue(ctx, p.ID, m, args, span)
	case Stream:
		e.doStream(ctx, p.ID, m, args, span, as, cancel)
	}
}

func (e *Executor) doValue(ctx context.Context, id uint64, m *method, args Args, span trace.Span) {
	defer func() {
		if r := recover(); r != nil {
			frame := NormalizeRecovered(r)
			e.logger.Errorf("[panic]: method %s: %s", m.name, frame.Message)
			setSpanError(span, frame.Message)
			e.reject(id, frame)
		}
	}()

	result, err := m.value(ctx, args)
	if err != nil {
		setSpanError(span, err.Error())
		e.reject(id, NormalizeError(err))
		return
	}
	e.resolve(id, result)
}

func (e *Executor) doStream(ctx context.Context, id uint64, m *method, args Args, span trace.Span, as *activeStream, cancel context.CancelFunc) {
	// CANCEL 已抢先到达：整体放弃，不发任何包
	if !as.bind(cancel) {
		return
	}
	sink := newSink(e, id)

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				frame := NormalizeRecovered(r)
				e.logger.Errorf("[panic]: method %s: %s", m.name, frame.Message)
				err = &NamedError{Name: frame.Name, Message: frame.Message}
			}
		}()
		err = m.stream(ctx, args, sink)
	}()

	// 清理路径：仍在活动表中才允许收尾；CANCEL 已移出则保持沉默
	if _, live := e.active.LoadAndDelete(id); !live {
		return
	}
	if err != nil {
		setSpanError(span, err.Error())
		e.reject(id, NormalizeError(err))
		return
	}
	e.post(&Pack{ID: id, Stage: DONE})
}

func (e *Executor) resolve(id uint64, result interface{}) {
	args, transfer, _, err := EncodeValues([]interface{}{result})
	if err != nil {
		e.reject(id, NormalizeError(err))
		return
	}
	e.post(&Pack{ID: id, Stage: RESOLVE, Args: args, Transfer: transfer})
}

func (e *Executor) reject(id uint64, frame *ErrFrame) {
	e.post(&Pack{ID: id, Stage: REJECT, Args: [][]byte{MarshalErrFrame(frame)}})
}

func (e *Executor) post(p *Pack) {
	if err := e.adapter.PostMessage(p); err != nil {
		e.logger.Errorf("executor: post %s fail: %v", p, err)
	}
}

// Sink 流式方法的产出口
//
// Yield 在发出每条 YIELD 前重查活动表：CANCEL 可能已在迭代中途把
// 本流移出，此后 Yield 返回 ErrStreamCanceled，方法实现应尽快返回。
type Sink struct {
	exec *Executor
	id   uint64

	lock    sync.Locker
	stopped bool
}

var ErrStreamCanceled = errors.New("wrpc: stream canceled by consumer")

func newSink(e *Executor, id uint64) *Sink {
	return &Sink{exec: e, id: id, lock: spinlock.NewSpinLock()}
}

// Yield 产出一条流式结果（值可为 *TransferDescriptor）
func (s *Sink) Yield(v interface{}) error {
	s.lock.Lock()
	if s.stopped {
		s.lock.Unlock()
		return ErrStreamCanceled
	}
	s.lock.Unlock()

	if _, live := s.exec.active.Load(s.id); !live {
		s.lock.Lock()
		s.stopped = true
		s.lock.Unlock()
		return ErrStreamCanceled
	}

	args, transfer, _, err := EncodeValues([]interface{}{v})
	if err != nil {
		return err
	}
	return s.exec.adapter.PostMessage(&Pack{ID: s.id, Stage: YIELD, Args: args, Transfer: transfer})
}
