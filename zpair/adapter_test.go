package zpair

import (
	"bytes"
	"testing"

	"github.com/hunyxv/wrpc"
)

func TestFrameCodec(t *testing.T) {
	buf := wrpc.NewBuffer([]byte("payload-bytes"))
	args, transfer, _, err := wrpc.EncodeValues([]interface{}{wrpc.Transfer(buf)})
	if err != nil {
		t.Fatal(err)
	}
	p := &wrpc.Pack{ID: 3, Stage: wrpc.CALL, Args: args, Transfer: transfer}
	p.SetMethodName("stamp")

	frames, err := marshalFrames(p)
	if err != nil {
		t.Fatal(err)
	}
	// 帧 0 信封，帧 1 转移字节
	if len(frames) != 2 {
		t.Fatalf("frames: %d", len(frames))
	}
	if !bytes.Equal(frames[1], []byte("payload-bytes")) {
		t.Fatal("transfer bytes not framed raw")
	}

	got, err := unmarshalFrames(frames)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != 3 || got.Stage != wrpc.CALL || got.MethodName() != "stamp" {
		t.Fatalf("envelope: %s", got)
	}
	var out *wrpc.Buffer
	if err := wrpc.DecodeValue(got.Args[0], &out, got.Transfer); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out.Bytes(), []byte("payload-bytes")) {
		t.Fatal("transfer bytes lost")
	}
}

// 嵌套 Buffer 的字节随载荷编码，不再重复占一帧
func TestNestedBufferNotFramedTwice(t *testing.T) {
	type blob struct {
		Data *wrpc.Buffer `msgpack:"data"`
	}
	inner := wrpc.NewBuffer([]byte("inner"))
	args, transfer, _, err := wrpc.EncodeValues([]interface{}{wrpc.Transfer(&blob{Data: inner}, inner)})
	if err != nil {
		t.Fatal(err)
	}
	p := &wrpc.Pack{ID: 4, Stage: wrpc.CALL, Args: args, Transfer: transfer}

	frames, err := marshalFrames(p)
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 1 {
		t.Fatalf("frames: %d", len(frames))
	}

	got, err := unmarshalFrames(frames)
	if err != nil {
		t.Fatal(err)
	}
	var out blob
	if err := wrpc.DecodeValue(got.Args[0], &out, got.Transfer); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out.Data.Bytes(), []byte("inner")) {
		t.Fatal("nested bytes lost")
	}
}

func TestUnmarshalEmptyMessage(t *testing.T) {
	if _, err := unmarshalFrames(nil); err == nil {
		t.Fatal("empty message accepted")
	}
}
