package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/LJTian/NewsRelay/internal/app"
	"github.com/LJTian/NewsRelay/internal/config"
	"github.com/LJTian/NewsRelay/internal/logger"
)

// 一个仅执行一轮任务的命令行入口：采集入库后推送未推送记录。
// --dry-run 只采集入库，不推送。
func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, config.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log, err := logger.New(cfg.LogLevel, cfg.Debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(!cfg.DryRun); err != nil {
		log.Error("invalid configuration", logger.Error(err))
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("collect failed", logger.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	a, err := app.New(cfg, log, !cfg.DryRun)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.DryRun {
		n, err := a.Aggregator.Fetch(ctx)
		if err != nil {
			return err
		}
		log.Info("dry run done", logger.Int("inserted", n))
		return nil
	}

	// 手动触发的一轮按常规周期处理，不做首次运行的截断
	return a.Scheduler.RunOnce(ctx, false)
}
