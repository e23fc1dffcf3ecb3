package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LJTian/NewsRelay/internal/logger"
	"github.com/LJTian/NewsRelay/internal/render"
)

type htmlRenderer string

func (h htmlRenderer) Render(_ context.Context, url string, _ render.Options) (*render.Page, error) {
	return render.NewPage(url, string(h))
}

const trekMoviePage = `<html><body>
<article class="post">
  <h2 class="entry-title"><a href="/2024/03/07/picard/">Picard season recap</a></h2>
  <time class="entry-date" datetime="2024-03-07T09:00:00-05:00">March 7, 2024</time>
  <img class="wp-post-image" src="/picard.jpg">
  <span class="cat-links"><a>Picard</a></span>
</article>
</body></html>`

func newProbeRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	p := &probe{
		browser: htmlRenderer(trekMoviePage),
		static:  htmlRenderer("<html><body></body></html>"),
		timeout: time.Second,
		log:     logger.NewNop(),
	}
	r := gin.New()
	r.POST("/extract", p.extract)
	return r
}

func post(r http.Handler, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/extract", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestExtract(t *testing.T) {
	w := post(newProbeRouter(), `{"url":"https://trekmovie.com/","extractor":"trekmovie"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp extractResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.OK, resp.Error)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "https://trekmovie.com/2024/03/07/picard/", resp.Items[0].Link)
	assert.Equal(t, "07.03.2024", resp.Items[0].Date)
	assert.True(t, resp.Items[0].Valid)
	assert.Equal(t, "#Picard", resp.Items[0].Hashtag)
	assert.Contains(t, resp.Items[0].Caption, "Full article: https://trekmovie.com/2024/03/07/picard/")
}

func TestExtractStaticWithoutCards(t *testing.T) {
	w := post(newProbeRouter(), `{"url":"https://trekmovie.com/","extractor":"trekmovie","static":true}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp extractResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.OK)
	assert.NotEmpty(t, resp.Error)
}

func TestExtractBadRequest(t *testing.T) {
	r := newProbeRouter()
	assert.Equal(t, http.StatusBadRequest, post(r, `{"url":""}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(r, `{"url":"https://x/","extractor":"rss"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(r, `not json`).Code)
}
