package wrpc

import "log"

type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
}

// DefaultLogger 标准库 log 实现
func DefaultLogger() Logger { return &stdLogger{} }

type stdLogger struct{}

func (*stdLogger) Debug(args ...interface{}) {
	log.Println(append([]interface{}{"[wrpc]"}, args...)...)
}
func (*stdLogger) Debugf(format string, args ...interface{}) {
	log.Printf("[wrpc] "+format, args...)
}
func (*stdLogger) Info(args ...interface{}) {
	log.Println(append([]interface{}{"[wrpc]"}, args...)...)
}
func (*stdLogger) Infof(format string, args ...interface{}) {
	log.Printf("[wrpc] "+format, args...)
}
func (*stdLogger) Warn(args ...interface{}) {
	log.Println(append([]interface{}{"[wrpc]"}, args...)...)
}
func (*stdLogger) Warnf(format string, args ...interface{}) {
	log.Printf("[wrpc] "+format, args...)
}
func (*stdLogger) Error(args ...interface{}) {
	log.Println(append([]interface{}{"[wrpc]"}, args...)...)
}
func (*stdLogger) Errorf(format string, args ...interface{}) {
	log.Printf("[wrpc] "+format, args...)
}
