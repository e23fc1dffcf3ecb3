// Package app 按配置组装存储、渲染、采集、推送与调度，供各个命令入口共用
package app

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/LJTian/NewsRelay/internal/aggregator"
	"github.com/LJTian/NewsRelay/internal/collector"
	"github.com/LJTian/NewsRelay/internal/config"
	"github.com/LJTian/NewsRelay/internal/delivery"
	"github.com/LJTian/NewsRelay/internal/logger"
	"github.com/LJTian/NewsRelay/internal/metrics"
	"github.com/LJTian/NewsRelay/internal/notifier"
	"github.com/LJTian/NewsRelay/internal/render"
	"github.com/LJTian/NewsRelay/internal/scheduler"
	"github.com/LJTian/NewsRelay/internal/storage"
)

type App struct {
	Store      *storage.Store
	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
	Aggregator *aggregator.Aggregator
	// withDelivery=false 时为空
	Queue     *delivery.Queue
	Scheduler *scheduler.Scheduler

	chrome *render.Chrome
	log    logger.Logger
}

// New 组装全部组件。withDelivery=false 时不创建 Telegram 客户端与推送队列（只采集）
func New(cfg *config.Config, log logger.Logger, withDelivery bool) (*App, error) {
	sources, err := collector.LoadSources(cfg.SourcesFile)
	if err != nil {
		return nil, err
	}

	a := &App{log: log, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.New(a.Registry)

	a.Store, err = storage.Open(storage.Options{
		Driver:        cfg.DBDriver,
		DSN:           cfg.DBDSN,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
	}, log)
	if err != nil {
		return nil, err
	}

	renderers := aggregator.Renderers{Static: &render.Static{UserAgent: cfg.UserAgent}}
	if needsBrowser(sources) {
		a.chrome, err = render.NewChrome(render.ChromeConfig{
			Headless:  !cfg.NoHeadless,
			ExecPath:  cfg.ChromePath,
			UserAgent: cfg.UserAgent,
		}, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		renderers.Browser = a.chrome
	}

	opts := []aggregator.Option{aggregator.WithMetrics(a.Metrics)}
	if cfg.ValidateImages {
		opts = append(opts, aggregator.WithImageProbe(aggregator.NewHTTPImageProbe(0, cfg.UserAgent)))
	}
	a.Aggregator, err = aggregator.New(aggregator.Config{
		Sources:       sources,
		Workers:       cfg.FetchWorkers,
		RenderTimeout: cfg.RenderTimeout,
	}, renderers, a.Store, log, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}

	if !withDelivery {
		return a, nil
	}

	tg, err := notifier.NewTelegram(notifier.TelegramConfig{
		Token:       cfg.TelegramToken,
		ChatID:      cfg.TelegramChatID,
		BaseURL:     cfg.TelegramAPI,
		MinInterval: cfg.SendInterval,
	}, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Queue = delivery.New(a.Store, tg, delivery.Policy{
		MaxAttempts: cfg.MaxAttempts,
		RetryDelay:  cfg.RetryDelay,
		Pause:       cfg.Pause,
		Sleep:       delivery.SleepContext,
	}, log, a.Metrics)

	a.Scheduler, err = scheduler.New(cfg.CronSpec, a.Aggregator, a.Queue, log,
		scheduler.WithLocker(a.Store, 0),
		scheduler.WithMetrics(a.Metrics),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init scheduler: %w", err)
	}
	return a, nil
}

func needsBrowser(sources []collector.Source) bool {
	for _, s := range sources {
		if !s.Static {
			return true
		}
	}
	return false
}

// Close 关闭浏览器与数据库连接
func (a *App) Close() {
	if a.chrome != nil {
		a.chrome.Close()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.log.Warn("close store failed", logger.Error(err))
		}
	}
}
