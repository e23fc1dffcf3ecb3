// Package notifier 定义推送渠道接口与错误分类
package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LJTian/NewsRelay/internal/processor"
)

// CaptionLimit Telegram 图片说明的最大字符数
const CaptionLimit = 1024

// Notifier 把一条图文推送到下游渠道
type Notifier interface {
	Deliver(ctx context.Context, img processor.Image, caption string) error
}

var (
	// ErrTransient 可重试：网络错误、限流、服务端错误
	ErrTransient = errors.New("transient notifier error")
	// ErrFatal 不可重试：凭据或目标频道失效，本轮推送应中止
	ErrFatal = errors.New("fatal notifier error")
)

// Error 带分类的推送错误，可用 errors.Is(err, ErrFatal) 判断
type Error struct {
	Fatal  bool
	Status int
	// 限流时服务端要求的等待时间
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	kind := "transient"
	if e.Fatal {
		kind = "fatal"
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s notifier error (status %d): %v", kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s notifier error: %v", kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrFatal:
		return e.Fatal
	case ErrTransient:
		return !e.Fatal
	}
	return false
}

// Transient 包装为可重试错误
func Transient(err error) error { return &Error{Err: err} }

// Fatal 包装为不可重试错误
func Fatal(err error) error { return &Error{Fatal: true, Err: err} }

// IsFatal 是否为不可重试错误。未分类的错误按可重试处理
func IsFatal(err error) bool { return errors.Is(err, ErrFatal) }

// RetryAfter 服务端要求的等待时间，没有时返回 0
func RetryAfter(err error) time.Duration {
	var ne *Error
	if errors.As(err, &ne) {
		return ne.RetryAfter
	}
	return 0
}
