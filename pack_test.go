package wrpc

import (
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

func TestPackCodec(t *testing.T) {
	p := &Pack{ID: 42, Stage: CALL, Args: [][]byte{{0x01}, {0x02}}}
	p.SetMethodName("add")
	p.Transfer = []*Buffer{NewBuffer([]byte("payload"))}

	raw, err := msgpack.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}

	var got Pack
	if err := msgpack.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != 42 || got.Stage != CALL {
		t.Fatalf("bad envelope: %s", &got)
	}
	if got.MethodName() != "add" {
		t.Fatalf("method name: %q", got.MethodName())
	}
	if len(got.Args) != 2 {
		t.Fatalf("args: %d", len(got.Args))
	}
	// 转移表不参与编码，由 adapter 原生搬运
	if got.Transfer != nil {
		t.Fatal("transfer leaked into codec")
	}
}

func TestMethodList(t *testing.T) {
	p := &Pack{Stage: READY}
	p.SetMethodList([]string{"add", "countdown"})
	list := p.MethodList()
	if len(list) != 2 || list[0] != "add" || list[1] != "countdown" {
		t.Fatalf("method list: %v", list)
	}
}

func TestHeader(t *testing.T) {
	h := make(Header)
	h.Set("k", "v1")
	h.Add("k", "v2")
	if h.Get("k") != "v1" {
		t.Fatal(h.Get("k"))
	}
	if len(h.Values("k")) != 2 {
		t.Fatal(h.Values("k"))
	}
	if h.Has("missing") {
		t.Fatal("missing key reported present")
	}
}

func TestStageName(t *testing.T) {
	if StageName(YIELD) != "YIELD" {
		t.Fatal(StageName(YIELD))
	}
	if StageName("zz") != "UNKNOWN" {
		t.Fatal(StageName("zz"))
	}
}
