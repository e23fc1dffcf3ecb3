package collector

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/LJTian/NewsRelay/internal/render"
)

// RawItem 抽取器输出的原始字段，尚未规范化
type RawItem struct {
	Title string
	Link  string
	// Image 远程图片地址，或 data:image/...;base64,... 内嵌图片
	Image string
	// Date 数据源自身格式的日期文本
	Date string
	// Tags 数据源的分类/标签文本，多个标签可能被拼在一起
	Tags string
}

// Complete 任一必需字段为空都视为残缺条目
func (r RawItem) Complete() bool {
	return r.Title != "" && r.Link != "" && r.Image != "" && r.Date != "" && r.Tags != ""
}

// Extractor 把渲染好的页面转换成原始条目
type Extractor interface {
	Kind() Kind
	Extract(page *render.Page) ([]RawItem, error)
}

// Kind 抽取器种类，由数据源配置选定
type Kind string

const (
	KindTrekNews          Kind = "treknews"
	KindDailyStarTrekNews Kind = "dailystartreknews"
	KindTrekMovie         Kind = "trekmovie"
)

// ExtractorFor 按种类返回抽取器，未知种类返回错误
func ExtractorFor(kind Kind) (Extractor, error) {
	switch kind {
	case KindTrekNews:
		return trekNewsExtractor{}, nil
	case KindDailyStarTrekNews:
		return dailyStarTrekNewsExtractor{}, nil
	case KindTrekMovie:
		return trekMovieExtractor{}, nil
	default:
		return nil, fmt.Errorf("unknown extractor kind %q", kind)
	}
}

// ErrNoCards 页面上一个条目容器都没有，通常说明页面结构变了
type ErrNoCards struct {
	Selector string
}

func (e *ErrNoCards) Error() string {
	return fmt.Sprintf("no elements match %q", e.Selector)
}

// eachCard 遍历条目容器，build 返回 ok=false 的条目直接丢弃
func eachCard(page *render.Page, selector string, build func(s *goquery.Selection) (RawItem, bool)) ([]RawItem, error) {
	cards := page.Find(selector)
	if cards.Length() == 0 {
		return nil, &ErrNoCards{Selector: selector}
	}

	items := make([]RawItem, 0, cards.Length())
	cards.Each(func(_ int, s *goquery.Selection) {
		it, ok := build(s)
		if !ok {
			return
		}
		it.Link = page.Resolve(it.Link)
		it.Image = page.Resolve(it.Image)
		if !it.Complete() {
			return
		}
		items = append(items, it)
	})
	return items, nil
}

func text(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

func attr(s *goquery.Selection, name string) string {
	v, _ := s.Attr(name)
	return strings.TrimSpace(v)
}

// imageSrc 懒加载图片的真实地址常放在 data-src / data-lazy-src 上
func imageSrc(img *goquery.Selection) string {
	for _, name := range []string{"data-lazy-src", "data-src", "src"} {
		if v := attr(img, name); v != "" && !strings.HasPrefix(v, "data:image/gif") {
			return v
		}
	}
	return attr(img, "src")
}

// joinTexts 把多个标签元素的文本用逗号拼接，交给规范化阶段拆分
func joinTexts(s *goquery.Selection) string {
	parts := make([]string, 0, s.Length())
	s.Each(func(_ int, e *goquery.Selection) {
		if t := text(e); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, ", ")
}
