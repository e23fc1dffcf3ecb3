package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LJTian/NewsRelay/internal/storage"
)

type fakeStore struct {
	pingErr  error
	news     []storage.News
	stats    storage.Stats
	err      error
	lastArgs struct {
		limit     int
		delivered *bool
	}
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) ListRecent(_ context.Context, limit int, delivered *bool) ([]storage.News, error) {
	f.lastArgs.limit = limit
	f.lastArgs.delivered = delivered
	return f.news, f.err
}

func (f *fakeStore) Stats(context.Context) (storage.Stats, error) { return f.stats, f.err }

func newRouter(store Store, mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "newsrelay_test_total", Help: "test"}))
	NewServer(store, reg, func() string { return "steady" }).RegisterRoutes(r)
	return r
}

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	store := &fakeStore{}
	r := newRouter(store)

	w := do(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	store.pingErr = errors.New("closed")
	w = do(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestListNews(t *testing.T) {
	store := &fakeStore{news: []storage.News{
		{ID: 2, Title: "remote", Link: "https://a/2", Image: "https://a/2.jpg", Date: "2024-03-07", Dated: true},
		{ID: 1, Title: "embedded", Link: "https://a/1", Image: "data:image/png;base64,AAAA", Date: "soon"},
	}}
	r := newRouter(store)

	w := do(r, httptest.NewRequest(http.MethodGet, "/api/v1/news?limit=5&delivered=false", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Code string     `json:"code"`
		Data []newsItem `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Code)
	require.Len(t, body.Data, 2)
	assert.Equal(t, "https://a/2.jpg", body.Data[0].Image)
	assert.True(t, body.Data[1].ImageEmbedded)
	assert.Empty(t, body.Data[1].Image)
	assert.NotContains(t, w.Body.String(), "base64")

	assert.Equal(t, 5, store.lastArgs.limit)
	require.NotNil(t, store.lastArgs.delivered)
	assert.False(t, *store.lastArgs.delivered)
}

func TestListNewsBadArguments(t *testing.T) {
	store := &fakeStore{}
	r := newRouter(store)

	w := do(r, httptest.NewRequest(http.MethodGet, "/api/v1/news?delivered=maybe", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, httptest.NewRequest(http.MethodGet, "/api/v1/news?limit=abc", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 20, store.lastArgs.limit)
	assert.Nil(t, store.lastArgs.delivered)
}

func TestListNewsStoreError(t *testing.T) {
	r := newRouter(&fakeStore{err: storage.ErrStore})
	w := do(r, httptest.NewRequest(http.MethodGet, "/api/v1/news", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal_error")
}

func TestStats(t *testing.T) {
	r := newRouter(&fakeStore{stats: storage.Stats{Total: 10, Delivered: 7, Undelivered: 3}})
	w := do(r, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 10.0, body.Data["total"])
	assert.Equal(t, 3.0, body.Data["undelivered"])
	assert.Equal(t, "steady", body.Data["state"])
}

func TestMetrics(t *testing.T) {
	r := newRouter(&fakeStore{})
	w := do(r, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "newsrelay_test_total"))
}

func TestBasicAuth(t *testing.T) {
	r := newRouter(&fakeStore{}, BasicAuth("user", "pass"))

	w := do(r, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Basic")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	req.SetBasicAuth("user", "wrong")
	assert.Equal(t, http.StatusUnauthorized, do(r, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	req.SetBasicAuth("user", "pass")
	assert.Equal(t, http.StatusOK, do(r, req).Code)

	// 探活与指标免认证
	assert.Equal(t, http.StatusOK, do(r, httptest.NewRequest(http.MethodGet, "/health", nil)).Code)
	assert.Equal(t, http.StatusOK, do(r, httptest.NewRequest(http.MethodGet, "/metrics", nil)).Code)
}
