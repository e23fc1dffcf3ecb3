// Package render 负责把 URL 渲染成可查询的 DOM 快照。
// Chrome 使用 chromedp 执行 JS 与无限滚动，Static 使用 colly 直接抓取静态 HTML。
package render

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// DefaultTimeout 单个页面渲染的硬超时
const DefaultTimeout = 60 * time.Second

// Options 控制一次渲染
type Options struct {
	Timeout time.Duration
	// Scroll 为 true 时反复下拉直到页面高度不再变化，用于懒加载列表
	Scroll bool
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

// Renderer 渲染边界
type Renderer interface {
	Render(ctx context.Context, url string, opts Options) (*Page, error)
}

// Page 渲染完成后的 DOM 快照
type Page struct {
	url  string
	base *url.URL
	root *goquery.Selection
}

// NewPage 从 HTML 文本构造页面，供 Chrome 快照、探针接口与测试使用
func NewPage(pageURL, html string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return newPageFromSelection(pageURL, doc.Selection), nil
}

func newPageFromSelection(pageURL string, sel *goquery.Selection) *Page {
	base, _ := url.Parse(pageURL)
	return &Page{url: pageURL, base: base, root: sel}
}

func (p *Page) URL() string { return p.url }

// Selection 返回根节点
func (p *Page) Selection() *goquery.Selection { return p.root }

// Find 在整页范围内按 CSS 选择器查询
func (p *Page) Find(selector string) *goquery.Selection {
	return p.root.Find(selector)
}

// Resolve 把相对地址补全为绝对地址；data URI 与已是绝对地址的原样返回
func (p *Page) Resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "data:") || p.base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return p.base.ResolveReference(u).String()
}

// FetchErrorKind 渲染失败分类
type FetchErrorKind string

const (
	KindTimeout FetchErrorKind = "timeout"
	KindNetwork FetchErrorKind = "network"
	KindOther   FetchErrorKind = "other"
)

// FetchError 单个数据源的渲染失败，调用方记录后跳过该源
type FetchError struct {
	URL  string
	Kind FetchErrorKind
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("render %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func classify(pageURL string, err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	kind := KindOther
	var urlErr *url.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &urlErr):
		if urlErr.Timeout() {
			kind = KindTimeout
		} else {
			kind = KindNetwork
		}
	case strings.Contains(err.Error(), "net::ERR_"):
		// chromedp 把导航失败透传为 Chrome 的 net::ERR_* 文本
		kind = KindNetwork
	}
	return &FetchError{URL: pageURL, Kind: kind, Err: err}
}
