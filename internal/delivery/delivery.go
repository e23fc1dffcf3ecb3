// Package delivery 按顺序把未推送记录逐条交给 Notifier，带重试与发送间隔。
// 首次运行只推送最新的 BootstrapLimit 条，其余直接标记为已推送。
package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/LJTian/NewsRelay/internal/logger"
	"github.com/LJTian/NewsRelay/internal/metrics"
	"github.com/LJTian/NewsRelay/internal/notifier"
	"github.com/LJTian/NewsRelay/internal/processor"
)

// BootstrapLimit 首次运行推送的条数
const BootstrapLimit = 7

// Store 推送阶段用到的存储能力
type Store interface {
	ListUndelivered(ctx context.Context) ([]processor.Record, error)
	MarkDelivered(ctx context.Context, link string) error
	MarkAllUndeliveredAsDelivered(ctx context.Context) (int64, error)
}

// Policy 重试与节奏
type Policy struct {
	// 单条记录最多尝试次数（含首次）
	MaxAttempts int
	// 可重试错误后的等待
	RetryDelay time.Duration
	// 成功推送后的停顿
	Pause time.Duration
	// 可替换的等待函数，测试中注入；返回错误表示被取消
	Sleep func(ctx context.Context, d time.Duration) error
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		RetryDelay:  5 * time.Second,
		Pause:       10 * time.Second,
		Sleep:       SleepContext,
	}
}

// SleepContext 等待 d，ctx 取消时提前返回
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep == nil {
		return SleepContext(ctx, d)
	}
	return p.Sleep(ctx, d)
}

// Report 一次 Drain 的结果
type Report struct {
	// 尝试推送的记录数
	Attempted int
	Delivered int
	// 重试耗尽后留待下轮的记录数
	Failed int
	// 首次运行时未推送、直接标记为已推送的记录数
	Retired int
}

type Queue struct {
	store    Store
	notifier notifier.Notifier
	policy   Policy
	metrics  *metrics.Metrics
	log      logger.Logger
}

func New(store Store, n notifier.Notifier, policy Policy, log logger.Logger, m *metrics.Metrics) *Queue {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Queue{
		store:    store,
		notifier: n,
		policy:   policy,
		metrics:  m,
		log:      log.With(logger.String("component", "delivery")),
	}
}

// Drain 推送所有未推送记录（bootstrap 时只推最新的 BootstrapLimit 条）。
// 遇到不可重试的推送错误或存储错误时中止并返回该错误。
func (q *Queue) Drain(ctx context.Context, bootstrap bool) (Report, error) {
	defer q.metrics.ObservePhase("drain", time.Now())

	var rep Report
	list, err := q.store.ListUndelivered(ctx)
	if err != nil {
		return rep, err
	}

	window, backlog := list, []processor.Record(nil)
	if bootstrap && len(list) > BootstrapLimit {
		window, backlog = bootstrapWindow(list)
	}

	for _, rec := range window {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if err := q.deliverOne(ctx, rec, &rep); err != nil {
			if bootstrap && notifier.IsFatal(err) {
				// 窗口外的旧记录不能留到下次，否则恢复后会整批推送
				q.retire(ctx, backlog, &rep)
			}
			q.finish(rep, bootstrap)
			return rep, err
		}
	}

	if bootstrap {
		n, err := q.store.MarkAllUndeliveredAsDelivered(ctx)
		if err != nil {
			return rep, err
		}
		rep.Retired = int(n)
		q.metrics.Delivery("retired", rep.Retired)
	}

	q.finish(rep, bootstrap)
	return rep, nil
}

// bootstrapWindow 取日期最新的 BootstrapLimit 条（按日期升序），其余为 backlog。
// list 按 ListUndelivered 的顺序排列：有效日期在前且升序，无效日期在最后。
func bootstrapWindow(list []processor.Record) (window, backlog []processor.Record) {
	dated := 0
	for dated < len(list) && list[dated].Date.Valid() {
		dated++
	}
	start := dated - BootstrapLimit
	if start < 0 {
		start = 0
	}
	window = list[start:dated]
	backlog = make([]processor.Record, 0, len(list)-len(window))
	backlog = append(backlog, list[:start]...)
	backlog = append(backlog, list[dated:]...)
	return window, backlog
}

func (q *Queue) deliverOne(ctx context.Context, rec processor.Record, rep *Report) error {
	rep.Attempted++
	caption := processor.CaptionWithin(rec, notifier.CaptionLimit)
	log := q.log.With(logger.String("link", rec.Link))

	for attempt := 1; ; attempt++ {
		q.metrics.Attempt()
		err := q.notifier.Deliver(ctx, rec.Image, caption)
		if err == nil {
			// 发送成功后才标记
			if err := q.store.MarkDelivered(ctx, rec.Link); err != nil {
				return err
			}
			rep.Delivered++
			q.metrics.Delivery("delivered", 1)
			log.Info("news delivered", logger.Int("attempt", attempt))
			return q.policy.sleep(ctx, q.policy.Pause)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if notifier.IsFatal(err) {
			q.metrics.Delivery("fatal", 1)
			log.Error("deliver failed, aborting drain", logger.Error(err))
			return fmt.Errorf("deliver %s: %w", rec.Link, err)
		}
		if attempt >= q.policy.MaxAttempts {
			rep.Failed++
			q.metrics.Delivery("failed", 1)
			log.Warn("deliver failed, giving up until next cycle",
				logger.Int("attempts", attempt),
				logger.Error(err),
			)
			return nil
		}

		delay := q.policy.RetryDelay
		if ra := notifier.RetryAfter(err); ra > delay {
			delay = ra
		}
		log.Warn("deliver failed, retrying",
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Error(err),
		)
		if err := q.policy.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (q *Queue) retire(ctx context.Context, backlog []processor.Record, rep *Report) {
	for _, rec := range backlog {
		if err := q.store.MarkDelivered(ctx, rec.Link); err != nil {
			q.log.Error("retire backlog failed", logger.String("link", rec.Link), logger.Error(err))
			return
		}
		rep.Retired++
	}
	q.metrics.Delivery("retired", rep.Retired)
}

func (q *Queue) finish(rep Report, bootstrap bool) {
	q.log.Info("drain done",
		logger.Bool("bootstrap", bootstrap),
		logger.Int("attempted", rep.Attempted),
		logger.Int("delivered", rep.Delivered),
		logger.Int("failed", rep.Failed),
		logger.Int("retired", rep.Retired),
	)
}
