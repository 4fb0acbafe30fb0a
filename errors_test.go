package wrpc

import (
	"strings"
	"testing"

	pkgerr "github.com/pkg/errors"
)

func TestNormalizeNamedError(t *testing.T) {
	err := Errorf("TypeError", "Invalid %s", "type")
	frame := NormalizeError(err)
	if frame.Name != "TypeError" || frame.Message != "Invalid type" {
		t.Fatalf("frame: %+v", frame)
	}

	// 包装后仍能提取类型名
	wrapped := pkgerr.WithMessage(err, "handler")
	frame = NormalizeError(wrapped)
	if frame.Name != "TypeError" {
		t.Fatalf("wrapped frame: %+v", frame)
	}
}

func TestNormalizePlainError(t *testing.T) {
	frame := NormalizeError(pkgerr.New("boom"))
	if frame.Name != "Error" || frame.Message != "boom" {
		t.Fatalf("frame: %+v", frame)
	}
	// pkg/errors 构造的错误携带执行端堆栈
	if frame.Stack == "" {
		t.Fatal("stack missing")
	}
}

func TestNormalizeRecovered(t *testing.T) {
	frame := NormalizeRecovered("kaboom")
	if frame.Name != "Error" || frame.Message != "kaboom" {
		t.Fatalf("frame: %+v", frame)
	}
	frame = NormalizeRecovered(Errorf("RangeError", "out of range"))
	if frame.Name != "RangeError" {
		t.Fatalf("frame: %+v", frame)
	}
}

func TestErrFrameCodec(t *testing.T) {
	raw := MarshalErrFrame(&ErrFrame{Name: "TypeError", Message: "Invalid type", Stack: "at x"})
	frame := UnmarshalErrFrame(raw)
	if frame.Name != "TypeError" || frame.Message != "Invalid type" || frame.Stack != "at x" {
		t.Fatalf("frame: %+v", frame)
	}

	// 坏帧降级为通用错误而不是 panic
	frame = UnmarshalErrFrame([]byte{0xc1})
	if frame.Name != "Error" {
		t.Fatalf("frame: %+v", frame)
	}
}

func TestRehydrateError(t *testing.T) {
	we := RehydrateError(&ErrFrame{Name: "TypeError", Message: "Invalid type", Stack: "remote"}, "add", "local")
	if we.Name != "TypeError" || we.Method != "add" {
		t.Fatalf("worker error: %+v", we)
	}
	if we.RemoteStack != "remote" || we.CallStack != "local" {
		t.Fatal("stacks swapped or lost")
	}
	if !strings.Contains(we.Error(), `TypeError calling "add"`) {
		t.Fatal(we.Error())
	}
}
