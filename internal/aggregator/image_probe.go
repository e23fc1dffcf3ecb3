package aggregator

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPImageProbe 请求图片地址，响应 2xx 且 Content-Type 为 image/* 时认为可用
type HTTPImageProbe struct {
	Client    *http.Client
	UserAgent string
}

func NewHTTPImageProbe(timeout time.Duration, userAgent string) *HTTPImageProbe {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPImageProbe{Client: &http.Client{Timeout: timeout}, UserAgent: userAgent}
}

func (p *HTTPImageProbe) Valid(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	// 只看响应头，不下载整张图
	_, _ = io.CopyN(io.Discard, resp.Body, 512)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false
	}
	return strings.HasPrefix(strings.ToLower(resp.Header.Get("Content-Type")), "image/")
}
