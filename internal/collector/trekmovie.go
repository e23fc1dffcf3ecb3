package collector

import (
	"github.com/PuerkitoBio/goquery"

	"github.com/LJTian/NewsRelay/internal/render"
)

// trekMovieExtractor 解析 trekmovie.com 首页（WordPress 标准文章列表）
type trekMovieExtractor struct{}

func (trekMovieExtractor) Kind() Kind { return KindTrekMovie }

func (trekMovieExtractor) Extract(page *render.Page) ([]RawItem, error) {
	return eachCard(page, "article.post", func(s *goquery.Selection) (RawItem, bool) {
		titleLink := s.Find(".entry-title a").First()

		date := attr(s.Find("time.entry-date").First(), "datetime")
		if date == "" {
			date = text(s.Find("time.entry-date").First())
		}

		return RawItem{
			Title: text(titleLink),
			Link:  attr(titleLink, "href"),
			Image: imageSrc(s.Find("img.wp-post-image").First()),
			Date:  date,
			Tags:  joinTexts(s.Find(".cat-links a")),
		}, true
	})
}
