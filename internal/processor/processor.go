package processor

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/LJTian/NewsRelay/internal/collector"
)

// Record 规范化后的新闻记录，是入库与推送的基本单位
type Record struct {
	Link      string
	Title     string
	Image     Image
	Date      Date
	Hashtag   string
	Source    string
	Delivered bool
}

// Normalize 把抽取器的原始条目转成 Record，字段不合法时返回错误
func Normalize(source string, it collector.RawItem) (Record, error) {
	title := strings.Join(strings.Fields(it.Title), " ")
	if title == "" {
		return Record{}, errors.New("empty title")
	}
	// 部分站点混有非法字节，入库前统一替换
	title = strings.ToValidUTF8(title, "\uFFFD")

	link := strings.TrimSpace(it.Link)
	u, err := url.Parse(link)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return Record{}, fmt.Errorf("invalid link %q", link)
	}

	img, err := ParseImage(it.Image)
	if err != nil {
		return Record{}, fmt.Errorf("image for %s: %w", link, err)
	}

	return Record{
		Link:    link,
		Title:   title,
		Image:   img,
		Date:    NormalizeDate(it.Date),
		Hashtag: FormatHashtags(it.Tags),
		Source:  source,
	}, nil
}

// SortByDate 按规范化日期升序稳定排序，同一天保持原有顺序
func SortByDate(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Date.Less(records[j].Date)
	})
}

// Caption 推送文案，格式固定
func Caption(r Record) string {
	return fmt.Sprintf("%s\n\nDate: %s\n\n%s\nFull article: %s", r.Hashtag, r.Date.Display(), r.Title, r.Link)
}

// CaptionWithin 文案超过 limit 个字符时截短标题，保证标签、日期与链接完整
func CaptionWithin(r Record, limit int) string {
	c := Caption(r)
	n := utf8.RuneCountInString(c)
	if limit <= 0 || n <= limit {
		return c
	}
	keep := utf8.RuneCountInString(r.Title) - (n - limit) - 1
	if keep < 0 {
		keep = 0
	}
	short := r
	short.Title = truncateRunes(r.Title, keep)
	return Caption(short)
}

// truncateRunes 按 rune 截断并追加省略号，避免截出半个字符
func truncateRunes(s string, limit int) string {
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit]) + "…"
}
