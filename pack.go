package wrpc

import (
	"errors"
	"strconv"
)

// 协议阶段（每个 Pack 属于其中之一）
//
//	调用端 -> 执行端: CALL CANCEL
//	执行端 -> 调用端: READY RESOLVE REJECT YIELD DONE
const (
	READY   = string(rune(iota + 1)) // 方法表通告
	CALL                             // 调用请求
	CANCEL                           // 取消流式调用
	RESOLVE                          // 单值结果
	REJECT                           // 异常结果
	YIELD                            // 流式结果（一条）
	DONE                             // 流式结果结束
)

var stageName = map[string]string{
	READY:   "READY",
	CALL:    "CALL",
	CANCEL:  "CANCEL",
	RESOLVE: "RESOLVE",
	REJECT:  "REJECT",
	YIELD:   "YIELD",
	DONE:    "DONE",
}

// StageName 阶段名称（日志用）
func StageName(stage string) string {
	if name, ok := stageName[stage]; ok {
		return name
	}
	return "UNKNOWN"
}

const (
	METHOD_NAME  = "__method_name__"   // 方法名称
	METHOD_LIST  = "__method_list__"   // READY 通告的方法表
	TRACEPAYLOAD = "__trace_payload__" // 链路追踪上下文
)

var (
	ErrNoMethodName = errors.New("wrpc: pack: no method name")
)

type Header map[string][]string

func (h Header) Set(key, value string) {
	h[key] = []string{value}
}

func (h Header) Add(key, value string) {
	h[key] = append(h[key], value)
}

func (h Header) Get(key string) string {
	if len(h[key]) == 0 {
		return ""
	}
	return h[key][0]
}

func (h Header) Values(key string) []string {
	return h[key]
}

func (h Header) Has(key string) bool {
	_, ok := h[key]
	return ok
}

// Pack 信道上传输的信封
//
// ID 为关联id：由调用端按连接单调递增分配，一次调用（或一条流）的所有
// Pack 共享同一个 ID。Args 为 msgpack 编码的值。Transfer 为本次发送的
// 资源转移表，不参与 msgpack 编码，由各 adapter 原生搬运。
type Pack struct {
	ID       uint64    `msgpack:"id"`
	Stage    string    `msgpack:"stage"`
	Header   Header    `msgpack:"head"`
	Args     [][]byte  `msgpack:"args"`
	Transfer []*Buffer `msgpack:"-"`
}

func (p *Pack) Set(key, value string) {
	if p.Header == nil {
		p.Header = make(Header)
	}
	p.Header.Set(key, value)
}

func (p *Pack) Get(key string) string {
	if p.Header == nil {
		return ""
	}
	return p.Header.Get(key)
}

func (p *Pack) SetMethodName(method string) {
	p.Set(METHOD_NAME, method)
}

func (p *Pack) MethodName() string {
	return p.Get(METHOD_NAME)
}

// SetMethodList READY 包携带的方法表
func (p *Pack) SetMethodList(names []string) {
	if p.Header == nil {
		p.Header = make(Header)
	}
	p.Header[METHOD_LIST] = names
}

func (p *Pack) MethodList() []string {
	if p.Header == nil {
		return nil
	}
	return p.Header.Values(METHOD_LIST)
}

func (p *Pack) String() string {
	return StageName(p.Stage) + "#" + strconv.FormatUint(p.ID, 10)
}
