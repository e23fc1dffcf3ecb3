package render

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/LJTian/NewsRelay/internal/logger"
)

const (
	scrollStep     = 1000
	scrollWait     = time.Second
	maxScrollTurns = 200
	// 滚动超时后取快照的时间
	snapshotTimeout = 10 * time.Second
)

// ChromeConfig 无头浏览器配置
type ChromeConfig struct {
	Headless  bool
	ExecPath  string
	UserAgent string
}

// Chrome 复用一个浏览器实例，每次渲染开一个新标签页
type Chrome struct {
	allocCtx      context.Context
	browserCtx    context.Context
	cancelAlloc   context.CancelFunc
	cancelBrowser context.CancelFunc
	log           logger.Logger
}

// NewChrome 启动浏览器并预热，避免首个数据源耗时过长
func NewChrome(cfg ChromeConfig, log logger.Logger) (*Chrome, error) {
	if log == nil {
		log = logger.NewNop()
	}
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("headless", cfg.Headless))
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	return &Chrome{
		allocCtx:      allocCtx,
		browserCtx:    browserCtx,
		cancelAlloc:   cancelAlloc,
		cancelBrowser: cancelBrowser,
		log:           log.With(logger.String("component", "render.chrome")),
	}, nil
}

// Render 打开新标签页加载 url，按需滚动到底，然后取整页 HTML 快照
func (c *Chrome) Render(ctx context.Context, url string, opts Options) (*Page, error) {
	tabCtx, cancelTab := chromedp.NewContext(c.browserCtx)
	defer cancelTab()

	// 调用方取消时同时终止标签页
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	// 先在 tabCtx 上建立标签页，标签页生命周期不受下面的超时影响
	if err := chromedp.Run(tabCtx); err != nil {
		return nil, classify(url, err)
	}

	runCtx, cancel := context.WithTimeout(tabCtx, opts.timeout())
	defer cancel()

	if err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return nil, classify(url, err)
	}

	snapCtx := runCtx
	if opts.Scroll {
		turns, err := scrollUntilStable(runCtx)
		switch {
		case scrollTimedOut(ctx, runCtx, err):
			// 页面一直在增长，保留已加载的部分
			c.log.Warn("scroll did not settle before deadline, using partial page",
				logger.String("url", url), logger.Int("turns", turns))
			var cancelSnap context.CancelFunc
			snapCtx, cancelSnap = context.WithTimeout(tabCtx, snapshotTimeout)
			defer cancelSnap()
		case err != nil:
			return nil, classify(url, err)
		default:
			c.log.Debug("scrolled to bottom", logger.String("url", url), logger.Int("turns", turns))
		}
	}

	var html string
	if err := chromedp.Run(snapCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return nil, classify(url, err)
	}
	return NewPage(url, html)
}

// scrollTimedOut 滚动阶段的错误只是渲染超时（调用方未取消）
func scrollTimedOut(parent, run context.Context, err error) bool {
	if err == nil || parent.Err() != nil {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(run.Err(), context.DeadlineExceeded)
}

// scrollUntilStable 每次下拉一屏后等待懒加载，连续两次高度不变即认为到底
func scrollUntilStable(ctx context.Context) (int, error) {
	var last int64 = -1
	for turn := 1; turn <= maxScrollTurns; turn++ {
		var (
			scrolled bool
			height   int64
		)
		err := chromedp.Run(ctx,
			chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d), true", scrollStep), &scrolled),
			chromedp.Sleep(scrollWait),
			chromedp.Evaluate("document.body.scrollHeight", &height),
		)
		if err != nil {
			return turn, err
		}
		if height == last {
			return turn, nil
		}
		last = height
	}
	return maxScrollTurns, nil
}

// Close 关闭浏览器
func (c *Chrome) Close() {
	c.cancelBrowser()
	c.cancelAlloc()
}
