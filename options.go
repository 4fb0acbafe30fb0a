package wrpc

type Option func(opt *options)

type options struct {
	Logger       Logger // logger
	WorkPoolSize int    // 工作池大小（<=0 不限制）
}

// WithLogger 设置 logger
func WithLogger(logger Logger) Option {
	return func(opt *options) {
		opt.Logger = logger
	}
}

// WithWorkPoolSize 设置执行端工作池大小（默认不限制）
func WithWorkPoolSize(size int) Option {
	return func(opt *options) {
		opt.WorkPoolSize = size
	}
}
