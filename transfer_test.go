package wrpc

import (
	"bytes"
	"testing"
)

func TestEncodeValuesMovesBuffer(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 1024)
	buf := NewBuffer(data)

	args, transfer, moved, err := EncodeValues([]interface{}{Transfer(buf)})
	if err != nil {
		t.Fatal(err)
	}
	if len(args) != 1 || len(transfer) != 1 || len(moved) != 1 {
		t.Fatalf("args=%d transfer=%d moved=%d", len(args), len(transfer), len(moved))
	}

	// 原 Buffer 进入 moved-from 状态
	if !buf.Moved() || buf.Len() != 0 || buf.Bytes() != nil {
		t.Fatal("sender still observes the bytes")
	}
	if transfer[0].Len() != 1024 {
		t.Fatal("stolen buffer lost bytes")
	}

	var out *Buffer
	if err := DecodeValue(args[0], &out, transfer); err != nil {
		t.Fatal(err)
	}
	if out != transfer[0] {
		t.Fatal("decode did not hand back the transferred buffer")
	}
}

func TestEncodeValuesDedupesResources(t *testing.T) {
	buf := NewBuffer([]byte("shared"))
	_, transfer, moved, err := EncodeValues([]interface{}{Transfer(buf), Transfer(buf)})
	if err != nil {
		t.Fatal(err)
	}
	if len(transfer) != 1 || len(moved) != 1 {
		t.Fatalf("resource duplicated: transfer=%d moved=%d", len(transfer), len(moved))
	}
}

func TestNestedBufferTransfer(t *testing.T) {
	type blob struct {
		Name string  `msgpack:"name"`
		Data *Buffer `msgpack:"data"`
	}
	inner := NewBuffer([]byte("inner-bytes"))
	v := &blob{Name: "b1", Data: inner}

	// 复合值：内嵌 Buffer 须显式列出，字节随载荷编码
	args, transfer, moved, err := EncodeValues([]interface{}{Transfer(v, inner)})
	if err != nil {
		t.Fatal(err)
	}
	if !inner.Moved() {
		t.Fatal("nested buffer not moved")
	}
	// 字节已在载荷里，转移表不再重复携带
	if len(transfer) != 0 {
		t.Fatalf("nested buffer duplicated in transfer table: %d", len(transfer))
	}
	if len(moved) != 1 {
		t.Fatalf("moved=%d", len(moved))
	}

	var out blob
	if err := DecodeValue(args[0], &out, nil); err != nil {
		t.Fatal(err)
	}
	if out.Name != "b1" || !bytes.Equal(out.Data.Bytes(), []byte("inner-bytes")) {
		t.Fatalf("decoded: %+v", out)
	}
}

func TestPlainValuesUntouched(t *testing.T) {
	args, transfer, moved, err := EncodeValues([]interface{}{1, "two", []int{3}})
	if err != nil {
		t.Fatal(err)
	}
	if len(transfer) != 0 || len(moved) != 0 {
		t.Fatal("plain values produced transfer entries")
	}

	var a int
	var b string
	var c []int
	if err := DecodeValue(args[0], &a, nil); err != nil {
		t.Fatal(err)
	}
	if err := DecodeValue(args[1], &b, nil); err != nil {
		t.Fatal(err)
	}
	if err := DecodeValue(args[2], &c, nil); err != nil {
		t.Fatal(err)
	}
	if a != 1 || b != "two" || len(c) != 1 || c[0] != 3 {
		t.Fatalf("%v %v %v", a, b, c)
	}
}

func TestEncodeMovedBuffer(t *testing.T) {
	buf := NewBuffer([]byte("once"))
	if _, _, _, err := EncodeValues([]interface{}{Transfer(buf)}); err != nil {
		t.Fatal(err)
	}
	// 再次转移同一 Buffer：moved-from 状态被拒绝
	if _, _, _, err := EncodeValues([]interface{}{Transfer(buf)}); err != ErrBufferMoved {
		t.Fatal(err)
	}
}

// 发送失败时撤销窃取：moved-from 只绑定成功发送
func TestRestoreBuffers(t *testing.T) {
	top := NewBuffer([]byte("top-bytes"))
	inner := NewBuffer([]byte("inner-bytes"))
	type blob struct {
		Data *Buffer `msgpack:"data"`
	}
	_, _, moved, err := EncodeValues([]interface{}{
		Transfer(top),
		Transfer(&blob{Data: inner}, inner),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !top.Moved() || !inner.Moved() {
		t.Fatal("buffers not moved")
	}

	RestoreBuffers(moved)
	if top.Moved() || top.Len() != len("top-bytes") {
		t.Fatal("top buffer not restored")
	}
	if inner.Moved() || inner.Len() != len("inner-bytes") {
		t.Fatal("nested buffer not restored")
	}
}

func TestDecodeRefOutOfRange(t *testing.T) {
	buf := NewBuffer([]byte("x"))
	args, _, _, err := EncodeValues([]interface{}{Transfer(buf)})
	if err != nil {
		t.Fatal(err)
	}
	var out *Buffer
	if err := DecodeValue(args[0], &out, nil); err == nil {
		t.Fatal("missing transfer table not detected")
	}
}
