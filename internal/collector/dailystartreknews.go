package collector

import (
	"github.com/PuerkitoBio/goquery"

	"github.com/LJTian/NewsRelay/internal/render"
)

// dailyStarTrekNewsExtractor 解析 dailystartreknews.com（Blogger 模板的文章列表）
type dailyStarTrekNewsExtractor struct{}

func (dailyStarTrekNewsExtractor) Kind() Kind { return KindDailyStarTrekNews }

func (dailyStarTrekNewsExtractor) Extract(page *render.Page) ([]RawItem, error) {
	return eachCard(page, "div.post-outer", func(s *goquery.Selection) (RawItem, bool) {
		titleLink := s.Find("h3.post-title a").First()

		// 优先用 abbr/time 上的机器可读日期，没有再退回日期标题文字
		date := attr(s.Find("abbr.published, time.published").First(), "title")
		if date == "" {
			date = attr(s.Find("time.published").First(), "datetime")
		}
		if date == "" {
			date = text(s.Find(".date-header span").First())
		}

		return RawItem{
			Title: text(titleLink),
			Link:  attr(titleLink, "href"),
			Image: imageSrc(s.Find(".post-body img").First()),
			Date:  date,
			Tags:  joinTexts(s.Find(".post-labels a")),
		}, true
	})
}
