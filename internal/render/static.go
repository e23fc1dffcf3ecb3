package render

import (
	"context"
	"errors"
	"net/http"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
)

// Static 用 colly 抓取不依赖 JS 的页面；Scroll 选项对它无效
type Static struct {
	UserAgent string
}

func (s *Static) Render(ctx context.Context, url string, opts Options) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify(url, err)
	}

	c := colly.NewCollector(colly.UserAgent(s.userAgent()))
	c.SetRequestTimeout(opts.timeout())

	var root *goquery.Selection
	c.OnHTML("html", func(e *colly.HTMLElement) {
		if root == nil {
			root = e.DOM
		}
	})

	var status int
	c.OnError(func(r *colly.Response, _ error) {
		status = r.StatusCode
	})

	if err := c.Visit(url); err != nil {
		if status != 0 && status != http.StatusOK {
			return nil, &FetchError{URL: url, Kind: KindNetwork, Err: err}
		}
		return nil, classify(url, err)
	}
	if root == nil {
		return nil, &FetchError{URL: url, Kind: KindOther, Err: errors.New("response has no html document")}
	}
	return newPageFromSelection(url, root), nil
}

func (s *Static) userAgent() string {
	if s.UserAgent != "" {
		return s.UserAgent
	}
	return "NewsRelayBot/1.0"
}
