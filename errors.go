package wrpc

import (
	"fmt"
	"time"

	pkgerr "github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrFrame 异常在信道上的传输形态
//
// 执行端把任意失败（error 返回值、panic）归一化成 ErrFrame，
// 调用端再还原为 *WorkerError。Stack 为执行端堆栈，可为空。
type ErrFrame struct {
	Name    string `msgpack:"name"`
	Message string `msgpack:"message"`
	Stack   string `msgpack:"stack,omitempty"`
}

// NamedError 携带类型名的业务异常
//
// 方法实现返回 NamedError 时，Name 会原样出现在调用端的 WorkerError 中。
type NamedError struct {
	Name    string
	Message string
}

func (e *NamedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// Errorf 构造 NamedError
func Errorf(name string, format string, args ...interface{}) *NamedError {
	return &NamedError{Name: name, Message: fmt.Sprintf(format, args...)}
}

type stackTracer interface {
	StackTrace() pkgerr.StackTrace
}

// NormalizeError error -> ErrFrame
func NormalizeError(err error) *ErrFrame {
	frame := &ErrFrame{Name: "Error"}
	if err == nil {
		return frame
	}

	var named *NamedError
	if pkgerr.As(err, &named) {
		frame.Name = named.Name
		frame.Message = named.Message
	} else {
		frame.Message = err.Error()
	}

	if st, ok := err.(stackTracer); ok {
		frame.Stack = fmt.Sprintf("%+v", st.StackTrace())
	}
	return frame
}

// NormalizeRecovered panic 值 -> ErrFrame
func NormalizeRecovered(v interface{}) *ErrFrame {
	if err, ok := v.(error); ok {
		return NormalizeError(err)
	}
	return &ErrFrame{Name: "Error", Message: fmt.Sprintf("%v", v)}
}

func MarshalErrFrame(frame *ErrFrame) []byte {
	raw, _ := msgpack.Marshal(frame)
	return raw
}

func UnmarshalErrFrame(raw []byte) *ErrFrame {
	var frame ErrFrame
	if err := msgpack.Unmarshal(raw, &frame); err != nil {
		return &ErrFrame{Name: "Error", Message: "wrpc: malformed error frame"}
	}
	if frame.Name == "" {
		frame.Name = "Error"
	}
	return &frame
}

// WorkerError 远端抛出的异常
//
// RemoteStack 为执行端堆栈，CallStack 为调用端发起调用处的堆栈，
// 二者含义不同，不做合并。
type WorkerError struct {
	Name        string
	Message     string
	Method      string
	RemoteStack string
	CallStack   string
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("wrpc: %s calling %q: %s", e.Name, e.Method, e.Message)
}

// RehydrateError ErrFrame -> WorkerError
func RehydrateError(frame *ErrFrame, method string, callStack string) *WorkerError {
	return &WorkerError{
		Name:        frame.Name,
		Message:     frame.Message,
		Method:      method,
		RemoteStack: frame.Stack,
		CallStack:   callStack,
	}
}

// TimeoutError 超时窗口内未收到任何结算或流式进展
type TimeoutError struct {
	Method string
	Window time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("wrpc: method %q timed out after %s", e.Method, e.Window)
}

// InitError 信道致命错误，或连接终止后仍发起调用
type InitError struct {
	Reason string
}

func (e *InitError) Error() string {
	if e.Reason == "" {
		return "wrpc: connection is dead"
	}
	return "wrpc: " + e.Reason
}

// UnsupportedRuntimeError 当前环境没有可用的传输原语
type UnsupportedRuntimeError struct {
	Scheme string
}

func (e *UnsupportedRuntimeError) Error() string {
	return fmt.Sprintf("wrpc: no transport available for scheme %q", e.Scheme)
}
