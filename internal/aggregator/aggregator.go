// Package aggregator 一轮采集：并发渲染各站点并抽取条目，汇总后规范化、去重、排序并入库。
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/LJTian/NewsRelay/internal/collector"
	"github.com/LJTian/NewsRelay/internal/logger"
	"github.com/LJTian/NewsRelay/internal/metrics"
	"github.com/LJTian/NewsRelay/internal/processor"
	"github.com/LJTian/NewsRelay/internal/render"
	"github.com/LJTian/NewsRelay/internal/storage"
)

// Store 采集阶段用到的存储能力
type Store interface {
	Exists(ctx context.Context, link string) (bool, error)
	Insert(ctx context.Context, rec processor.Record) (storage.InsertResult, error)
}

// ImageProbe 校验远程图片是否可用
type ImageProbe interface {
	Valid(ctx context.Context, url string) bool
}

type Config struct {
	Sources []collector.Source
	// 同时渲染的站点数，<=0 时每个站点一个
	Workers       int
	RenderTimeout time.Duration
}

// Renderers Browser 用于需要执行 JS 的站点，Static 用于 Static=true 的站点。
// Browser 为空时所有站点都走 Static。
type Renderers struct {
	Browser render.Renderer
	Static  render.Renderer
}

type Aggregator struct {
	cfg       Config
	renderers Renderers
	store     Store
	probe     ImageProbe
	metrics   *metrics.Metrics
	log       logger.Logger
}

type Option func(*Aggregator)

// WithImageProbe 入库前校验远程图片，不可用的条目丢弃
func WithImageProbe(p ImageProbe) Option { return func(a *Aggregator) { a.probe = p } }

func WithMetrics(m *metrics.Metrics) Option { return func(a *Aggregator) { a.metrics = m } }

func New(cfg Config, renderers Renderers, store Store, log logger.Logger, opts ...Option) (*Aggregator, error) {
	if len(cfg.Sources) == 0 {
		return nil, errors.New("no sources configured")
	}
	if renderers.Browser == nil && renderers.Static == nil {
		return nil, errors.New("no renderer configured")
	}
	for _, s := range cfg.Sources {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if s.Static && renderers.Static == nil {
			return nil, fmt.Errorf("source %s needs the static renderer", s.Name)
		}
	}
	if log == nil {
		log = logger.NewNop()
	}
	a := &Aggregator{
		cfg:       cfg,
		renderers: renderers,
		store:     store,
		log:       log.With(logger.String("component", "aggregator")),
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Fetch 执行一轮采集，返回新入库的条数。单个站点失败只记录日志；存储错误直接返回。
func (a *Aggregator) Fetch(ctx context.Context) (int, error) {
	start := time.Now()
	defer a.metrics.ObservePhase("fetch", start)

	// 所有站点结束后再统一排序入库
	results := make([][]collector.RawItem, len(a.cfg.Sources))
	var g errgroup.Group
	g.SetLimit(a.workers())
	for i, src := range a.cfg.Sources {
		i, src := i, src
		g.Go(func() error {
			results[i] = a.fetchSource(ctx, src)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	records, err := a.collect(ctx, results)
	if err != nil {
		return 0, err
	}
	processor.SortByDate(records)

	inserted := 0
	for _, rec := range records {
		res, err := a.store.Insert(ctx, rec)
		if err != nil {
			return inserted, err
		}
		if res == storage.AlreadyExists {
			a.metrics.Skipped("exists")
			continue
		}
		inserted++
		a.metrics.Inserted()
		a.log.Debug("news stored",
			logger.String("source", rec.Source),
			logger.String("link", rec.Link),
			logger.String("date", rec.Date.Stored()),
		)
	}

	a.log.Info("fetch done",
		logger.Int("candidates", len(records)),
		logger.Int("inserted", inserted),
		logger.Duration("took", time.Since(start)),
	)
	return inserted, nil
}

func (a *Aggregator) workers() int {
	if a.cfg.Workers > 0 {
		return a.cfg.Workers
	}
	return len(a.cfg.Sources)
}

func (a *Aggregator) rendererFor(src collector.Source) render.Renderer {
	if src.Static || a.renderers.Browser == nil {
		return a.renderers.Static
	}
	return a.renderers.Browser
}

func (a *Aggregator) fetchSource(ctx context.Context, src collector.Source) []collector.RawItem {
	log := a.log.With(logger.String("source", src.Name))

	page, err := a.rendererFor(src).Render(ctx, src.URL, render.Options{
		Timeout: a.cfg.RenderTimeout,
		Scroll:  src.Scroll,
	})
	if err != nil {
		log.Warn("render failed", logger.String("url", src.URL), logger.Error(err))
		a.metrics.SourceFetched(src.Name, "fetch_error", 0)
		return nil
	}

	ex, err := collector.ExtractorFor(src.Kind)
	if err != nil {
		log.Error("no extractor", logger.Error(err))
		a.metrics.SourceFetched(src.Name, "extract_error", 0)
		return nil
	}
	items, err := ex.Extract(page)
	if err != nil {
		log.Warn("extract failed", logger.Error(err))
		a.metrics.SourceFetched(src.Name, "extract_error", 0)
		return nil
	}

	log.Info("source fetched", logger.Int("items", len(items)))
	a.metrics.SourceFetched(src.Name, "ok", len(items))
	return items
}

// collect 规范化并过滤：非法条目、本轮重复、库中已有、图片不可用
func (a *Aggregator) collect(ctx context.Context, results [][]collector.RawItem) ([]processor.Record, error) {
	var out []processor.Record
	seen := make(map[string]struct{})

	for i, items := range results {
		src := a.cfg.Sources[i]
		for _, it := range items {
			rec, err := processor.Normalize(src.Name, it)
			if err != nil {
				a.log.Debug("drop invalid item", logger.String("source", src.Name), logger.Error(err))
				a.metrics.Skipped("invalid")
				continue
			}
			// 同一链接在本轮出现多次时保留先出现的
			if _, dup := seen[rec.Link]; dup {
				a.metrics.Skipped("exists")
				continue
			}
			seen[rec.Link] = struct{}{}

			exists, err := a.store.Exists(ctx, rec.Link)
			if err != nil {
				return nil, err
			}
			if exists {
				a.metrics.Skipped("exists")
				continue
			}

			if a.probe != nil && !rec.Image.Embedded() && !a.probe.Valid(ctx, rec.Image.URL) {
				a.log.Info("drop item with unusable image",
					logger.String("link", rec.Link),
					logger.String("image", rec.Image.URL),
				)
				a.metrics.Skipped("image")
				continue
			}

			out = append(out, rec)
		}
	}
	return out, nil
}
