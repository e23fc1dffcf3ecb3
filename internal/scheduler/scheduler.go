package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/LJTian/NewsRelay/internal/delivery"
	"github.com/LJTian/NewsRelay/internal/logger"
	"github.com/LJTian/NewsRelay/internal/metrics"
	"github.com/LJTian/NewsRelay/internal/storage"
)

// State 调度状态：启动后先执行一次 Bootstrap 周期，之后一直是 Steady
type State int32

const (
	Bootstrap State = iota
	Steady
)

func (s State) String() string {
	if s == Steady {
		return "steady"
	}
	return "bootstrap"
}

type Fetcher interface {
	Fetch(ctx context.Context) (int, error)
}

type Drainer interface {
	Drain(ctx context.Context, bootstrap bool) (delivery.Report, error)
}

// Locker 周期互斥锁，多个进程共用一个库时避免周期重叠
type Locker interface {
	AcquireCycleLock(ctx context.Context, ttl time.Duration) (release func(), ok bool, err error)
}

const defaultLockTTL = 30 * time.Minute

type Scheduler struct {
	spec    string
	fetcher Fetcher
	drainer Drainer
	locker  Locker
	lockTTL time.Duration
	metrics *metrics.Metrics
	log     logger.Logger

	state atomic.Int32
}

type Option func(*Scheduler)

func WithLocker(l Locker, ttl time.Duration) Option {
	return func(s *Scheduler) {
		s.locker = l
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option { return func(s *Scheduler) { s.metrics = m } }

// New spec 为 cron 表达式，支持 "@every 1m" 这类写法
func New(spec string, f Fetcher, d Drainer, log logger.Logger, opts ...Option) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	if log == nil {
		log = logger.NewNop()
	}
	s := &Scheduler{
		spec:    spec,
		fetcher: f,
		drainer: d,
		lockTTL: defaultLockTTL,
		log:     log.With(logger.String("component", "scheduler")),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Scheduler) State() State { return State(s.state.Load()) }

// Run 先同步执行 Bootstrap 周期，再按 cron 周期执行 Steady 周期，直到 ctx 取消。
// Bootstrap 周期因周期锁被跳过时保持 Bootstrap 状态，由后续 cron 周期补做。
// 只有存储错误会让 Run 返回非 nil，调用方应退出进程。
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("bootstrap cycle start")
	ran, err := s.cycle(ctx, true)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return nil
	}
	if ran {
		s.state.Store(int32(Steady))
	}

	cl := logger.CronLogger(s.log)
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	errCh := make(chan error, 1)
	if _, err := c.AddFunc(s.spec, func() {
		bootstrap := s.State() == Bootstrap
		ran, err := s.cycle(ctx, bootstrap)
		if err != nil {
			select {
			case errCh <- err:
			default:
			}
			return
		}
		if bootstrap && ran && ctx.Err() == nil {
			s.state.Store(int32(Steady))
		}
	}); err != nil {
		return err
	}

	c.Start()
	s.log.Info("scheduler started", logger.String("spec", s.spec), logger.String("state", s.State().String()))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		s.log.Error("store failure, stopping scheduler", logger.Error(runErr))
	}

	// 等待正在执行的周期结束
	<-c.Stop().Done()
	s.log.Info("scheduler stopped")
	return runErr
}

// RunOnce 执行一个周期：Fetch 后 Drain。除存储错误外的失败只记录日志
func (s *Scheduler) RunOnce(ctx context.Context, bootstrap bool) error {
	_, err := s.cycle(ctx, bootstrap)
	return err
}

// cycle ran 表示拿到周期锁并执行到了 Drain
func (s *Scheduler) cycle(ctx context.Context, bootstrap bool) (ran bool, err error) {
	mode := "steady"
	if bootstrap {
		mode = "bootstrap"
	}
	log := s.log.With(logger.String("mode", mode))

	if s.locker != nil {
		release, ok, err := s.locker.AcquireCycleLock(ctx, s.lockTTL)
		if err != nil {
			log.Warn("acquire cycle lock failed, skipping cycle", logger.Error(err))
			s.metrics.Cycle(mode, "skipped")
			return false, nil
		}
		if !ok {
			log.Info("another process holds the cycle lock, skipping cycle")
			s.metrics.Cycle(mode, "skipped")
			return false, nil
		}
		defer release()
	}

	inserted, err := s.fetcher.Fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		if errors.Is(err, storage.ErrStore) {
			s.metrics.Cycle(mode, "error")
			return false, err
		}
		log.Error("fetch failed", logger.Error(err))
	}

	rep, err := s.drainer.Drain(ctx, bootstrap)
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		s.metrics.Cycle(mode, "error")
		if errors.Is(err, storage.ErrStore) {
			return true, err
		}
		// 下一周期会重新尝试
		log.Error("drain aborted", logger.Error(err))
		return true, nil
	}

	s.metrics.Cycle(mode, "ok")
	log.Info("cycle done",
		logger.Int("inserted", inserted),
		logger.Int("delivered", rep.Delivered),
		logger.Int("failed", rep.Failed),
		logger.Int("retired", rep.Retired),
	)
	return true, nil
}
