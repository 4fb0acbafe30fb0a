package client

import (
	"time"

	"github.com/hunyxv/wrpc"
)

type Option func(opt *options)

type options struct {
	Timeout time.Duration // 无结算/无进展超时窗口（0 不限时）
	Logger  wrpc.Logger   // logger
}

// WithTimeout 设置超时窗口
//
// 单值调用：从发出到结算；流式调用：每收到一条 YIELD 重新计时。
func WithTimeout(t time.Duration) Option {
	return func(opt *options) {
		opt.Timeout = t
	}
}

// WithLogger 设置 logger
func WithLogger(logger wrpc.Logger) Option {
	return func(opt *options) {
		opt.Logger = logger
	}
}
