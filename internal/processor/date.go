package processor

import (
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

const (
	canonicalLayout = "2006-01-02"
	displayLayout   = "02.01.2006"
)

// Date 规范化后的日历日期。Canonical 为空表示原文无法解析，Raw 保留原文兜底，排序时放在最后。
type Date struct {
	Canonical string
	Raw       string
}

// Valid 是否解析成功
func (d Date) Valid() bool { return d.Canonical != "" }

// Display 按 dd.mm.yyyy 展示，无效日期展示原文
func (d Date) Display() string {
	if !d.Valid() {
		return d.Raw
	}
	t, err := time.Parse(canonicalLayout, d.Canonical)
	if err != nil {
		return d.Canonical
	}
	return t.Format(displayLayout)
}

// Stored 入库的字符串形式
func (d Date) Stored() string {
	if d.Valid() {
		return d.Canonical
	}
	return d.Raw
}

// Less 有效日期按日期升序，无效日期排在所有有效日期之后
func (d Date) Less(o Date) bool {
	if d.Valid() != o.Valid() {
		return d.Valid()
	}
	return d.Canonical < o.Canonical
}

// 文章链接里常见的 /2024/03/07/ 形式
var pathDateRe = regexp.MustCompile(`/(\d{4})/(\d{2})/(\d{2})(?:/|$)`)

var dateLayouts = []string{
	"2006/01/02",
	canonicalLayout,
	displayLayout,
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"Monday, January 2, 2006",
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
}

// NormalizeDate 把各数据源的日期文本转成 YYYY-MM-DD
func NormalizeDate(raw string) Date {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Date{}
	}

	if m := pathDateRe.FindStringSubmatch(raw); m != nil {
		if t, err := time.Parse(canonicalLayout, m[1]+"-"+m[2]+"-"+m[3]); err == nil {
			return Date{Canonical: t.Format(canonicalLayout), Raw: raw}
		}
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return Date{Canonical: t.Format(canonicalLayout), Raw: raw}
		}
	}

	// 带时区的时间戳取其本地日期（发布者所在时区），不转换成 UTC
	if t, err := dateparse.ParseAny(raw); err == nil && t.Year() > 1970 {
		return Date{Canonical: t.Format(canonicalLayout), Raw: raw}
	}

	return Date{Raw: raw}
}

// DateFromStored 从库里读出的字符串恢复 Date
func DateFromStored(s string, dated bool) Date {
	if dated {
		return Date{Canonical: s, Raw: s}
	}
	return Date{Raw: s}
}
