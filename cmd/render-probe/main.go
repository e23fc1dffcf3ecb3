package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/LJTian/NewsRelay/internal/collector"
	"github.com/LJTian/NewsRelay/internal/config"
	"github.com/LJTian/NewsRelay/internal/logger"
	"github.com/LJTian/NewsRelay/internal/processor"
	"github.com/LJTian/NewsRelay/internal/render"
)

// 调试用的 HTTP 服务：渲染指定页面并用抽取器解析，返回规范化结果与推送文案，不入库、不推送。
// 用于新增数据源或站点改版后核对选择器。

type extractRequest struct {
	URL    string         `json:"url" binding:"required"`
	Kind   collector.Kind `json:"extractor" binding:"required"`
	Scroll bool           `json:"scroll"`
	Static bool           `json:"static"`
}

type extractedItem struct {
	Link    string `json:"link"`
	Title   string `json:"title"`
	Date    string `json:"date"`
	Valid   bool   `json:"dateValid"`
	Hashtag string `json:"hashtag"`
	Caption string `json:"caption"`
	Error   string `json:"error,omitempty"`
}

type extractResponse struct {
	OK    bool            `json:"ok"`
	Items []extractedItem `json:"items,omitempty"`
	Error string          `json:"error,omitempty"`
}

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

	// 整个进程复用一个浏览器实例
	chrome, err := render.NewChrome(render.ChromeConfig{
		Headless:  !cfg.NoHeadless,
		ExecPath:  cfg.ChromePath,
		UserAgent: cfg.UserAgent,
	}, log)
	if err != nil {
		log.Error("start chrome failed", logger.Error(err))
		os.Exit(1)
	}
	defer chrome.Close()

	p := &probe{
		browser: chrome,
		static:  &render.Static{UserAgent: cfg.UserAgent},
		timeout: cfg.RenderTimeout,
		log:     log,
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.POST("/extract", p.extract)

	addr := ":" + cfg.AppPort
	log.Info("render-probe listening", logger.String("addr", addr))
	if err := r.Run(addr); err != nil {
		log.Error("http server error", logger.Error(err))
		os.Exit(1)
	}
}

type probe struct {
	browser render.Renderer
	static  render.Renderer
	timeout time.Duration
	log     logger.Logger
}

func (p *probe) extract(c *gin.Context) {
	var req extractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, extractResponse{Error: "url and extractor are required"})
		return
	}
	ex, err := collector.ExtractorFor(req.Kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, extractResponse{Error: err.Error()})
		return
	}

	renderer := p.browser
	if req.Static {
		renderer = p.static
	}

	// 每个请求单独超时，浏览器实例共用
	ctx, cancel := context.WithTimeout(c.Request.Context(), p.timeout+10*time.Second)
	defer cancel()

	page, err := renderer.Render(ctx, req.URL, render.Options{Timeout: p.timeout, Scroll: req.Scroll})
	if err != nil {
		p.log.Warn("render failed", logger.String("url", req.URL), logger.Error(err))
		c.JSON(http.StatusOK, extractResponse{Error: err.Error()})
		return
	}

	raw, err := ex.Extract(page)
	if err != nil {
		c.JSON(http.StatusOK, extractResponse{Error: err.Error()})
		return
	}

	items := make([]extractedItem, 0, len(raw))
	for _, it := range raw {
		rec, err := processor.Normalize(req.URL, it)
		if err != nil {
			items = append(items, extractedItem{Link: it.Link, Title: it.Title, Error: err.Error()})
			continue
		}
		items = append(items, extractedItem{
			Link:    rec.Link,
			Title:   rec.Title,
			Date:    rec.Date.Display(),
			Valid:   rec.Date.Valid(),
			Hashtag: rec.Hashtag,
			Caption: processor.Caption(rec),
		})
	}
	c.JSON(http.StatusOK, extractResponse{OK: true, Items: items})
}
