package logger

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// cronLogger 把 cron 的 key/value 日志转成 zap 字段
type cronLogger struct {
	l Logger
}

// CronLogger 适配 cron.Logger，用于 cron.WithLogger 与 Job 包装链
func CronLogger(l Logger) cron.Logger {
	return &cronLogger{l: l.With(String("component", "cron"))}
}

func (c *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, kvFields(keysAndValues)...)
}

func (c *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := append(kvFields(keysAndValues), Error(err))
	c.l.Error(msg, fields...)
}

func kvFields(kv []interface{}) []Field {
	fields := make([]Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		fields = append(fields, Any(key, kv[i+1]))
	}
	return fields
}
