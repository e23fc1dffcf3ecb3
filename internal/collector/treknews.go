package collector

import (
	"github.com/PuerkitoBio/goquery"

	"github.com/LJTian/NewsRelay/internal/render"
)

// trekNewsExtractor 解析 treknews.net 分类页（zox 主题的无限滚动文章卡片）。
// 页面上没有单独的日期元素，日期取自文章链接中的 /YYYY/MM/DD/。
type trekNewsExtractor struct{}

func (trekNewsExtractor) Kind() Kind { return KindTrekNews }

func (trekNewsExtractor) Extract(page *render.Page) ([]RawItem, error) {
	return eachCard(page, "article.infinite-post", func(s *goquery.Selection) (RawItem, bool) {
		title := text(s.Find(".zox-art-title .zox-s-title2").First())
		link := attr(s.Find(".zox-art-img a").First(), "href")

		// 卡片里有多个尺寸的缩略图，只要 600x337 的那张
		img := s.Find(`.zox-art-img img[width="600"][height="337"]`).First()
		if img.Length() == 0 {
			return RawItem{}, false
		}

		return RawItem{
			Title: title,
			Link:  link,
			Image: imageSrc(img),
			Date:  link,
			Tags:  text(s.Find("span.zox-s-cat").First()),
		}, true
	})
}
