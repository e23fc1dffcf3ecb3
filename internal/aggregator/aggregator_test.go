package aggregator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LJTian/NewsRelay/internal/collector"
	"github.com/LJTian/NewsRelay/internal/logger"
	"github.com/LJTian/NewsRelay/internal/processor"
	"github.com/LJTian/NewsRelay/internal/render"
	"github.com/LJTian/NewsRelay/internal/storage"
)

type card struct {
	path  string // /2024/03/07/slug/
	title string
	tag   string
}

func trekNewsPage(cards ...card) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, c := range cards {
		fmt.Fprintf(&b, `<article class="infinite-post">
<div class="zox-art-img"><a href="%s"><img width="600" height="337" src="%s.jpg"></a></div>
<span class="zox-s-cat">%s</span>
<div class="zox-art-title"><h2 class="zox-s-title2">%s</h2></div>
</article>`, c.path, strings.TrimSuffix(c.path, "/"), c.tag, c.title)
	}
	b.WriteString("</body></html>")
	return b.String()
}

// fakeRenderer 按 URL 返回固定 HTML 或错误
type fakeRenderer struct {
	mu    sync.Mutex
	pages map[string]string
	errs  map[string]error
	calls []string
}

func (f *fakeRenderer) Render(_ context.Context, url string, _ render.Options) (*render.Page, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.mu.Unlock()
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	html, ok := f.pages[url]
	if !ok {
		return nil, &render.FetchError{URL: url, Kind: render.KindNetwork, Err: errors.New("no such page")}
	}
	return render.NewPage(url, html)
}

func newStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(storage.Options{DSN: filepath.Join(t.TempDir(), "news.db")}, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func source(name string) collector.Source {
	return collector.Source{Name: name, URL: "https://" + name + ".example.com/news/", Kind: collector.KindTrekNews}
}

func links(t *testing.T, s *storage.Store) []string {
	t.Helper()
	list, err := s.ListUndelivered(context.Background())
	require.NoError(t, err)
	out := make([]string, 0, len(list))
	for _, r := range list {
		out = append(out, r.Link)
	}
	return out
}

func TestFetchInsertsNewRecordsInDateOrder(t *testing.T) {
	store := newStore(t)
	r := &fakeRenderer{pages: map[string]string{
		"https://a.example.com/news/": trekNewsPage(
			card{"/2024/03/07/late/", "Late", "News"},
			card{"/2024/03/05/early/", "Early", "News"},
		),
		"https://b.example.com/news/": trekNewsPage(
			card{"/2024/03/06/middle/", "Middle", "News"},
		),
	}}

	agg, err := New(Config{Sources: []collector.Source{source("a"), source("b")}}, Renderers{Browser: r}, store, nil)
	require.NoError(t, err)

	n, err := agg.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{
		"https://a.example.com/2024/03/05/early/",
		"https://b.example.com/2024/03/06/middle/",
		"https://a.example.com/2024/03/07/late/",
	}, links(t, store))

	// 第二轮没有新内容
	n, err = agg.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestFetchSkipsFailingSource(t *testing.T) {
	store := newStore(t)
	r := &fakeRenderer{
		pages: map[string]string{
			"https://b.example.com/news/": trekNewsPage(card{"/2024/03/06/ok/", "Ok", "News"}),
			"https://c.example.com/news/": "<html><body><p>redesigned</p></body></html>",
		},
		errs: map[string]error{
			"https://a.example.com/news/": &render.FetchError{URL: "https://a.example.com/news/", Kind: render.KindTimeout, Err: context.DeadlineExceeded},
		},
	}

	agg, err := New(Config{Sources: []collector.Source{source("a"), source("b"), source("c")}, Workers: 1}, Renderers{Browser: r}, store, nil)
	require.NoError(t, err)

	n, err := agg.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, r.calls, 3)
}

func TestFetchSameLinkTwiceInOneCycle(t *testing.T) {
	store := newStore(t)
	page := trekNewsPage(card{"https://shared.example.com/2024/03/06/story/", "Story", "News"})
	r := &fakeRenderer{pages: map[string]string{
		"https://a.example.com/news/": page,
		"https://b.example.com/news/": page,
	}}

	agg, err := New(Config{Sources: []collector.Source{source("a"), source("b")}}, Renderers{Browser: r}, store, nil)
	require.NoError(t, err)

	n, err := agg.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err := store.ListUndelivered(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0].Source, "first source in configuration order wins")
}

func TestFetchUsesStaticRenderer(t *testing.T) {
	store := newStore(t)
	browser := &fakeRenderer{}
	static := &fakeRenderer{pages: map[string]string{
		"https://a.example.com/news/": trekNewsPage(card{"/2024/03/06/x/", "X", "News"}),
	}}
	src := source("a")
	src.Static = true

	agg, err := New(Config{Sources: []collector.Source{src}}, Renderers{Browser: browser, Static: static}, store, nil)
	require.NoError(t, err)

	n, err := agg.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, browser.calls)
	assert.Len(t, static.calls, 1)
}

type stubProbe map[string]bool

func (p stubProbe) Valid(_ context.Context, url string) bool { return p[url] }

func TestFetchDropsUnusableImages(t *testing.T) {
	store := newStore(t)
	r := &fakeRenderer{pages: map[string]string{
		"https://a.example.com/news/": trekNewsPage(
			card{"/2024/03/06/good/", "Good", "News"},
			card{"/2024/03/06/broken/", "Broken", "News"},
		),
	}}
	probe := stubProbe{"https://a.example.com/2024/03/06/good.jpg": true}

	agg, err := New(Config{Sources: []collector.Source{source("a")}}, Renderers{Browser: r}, store, nil, WithImageProbe(probe))
	require.NoError(t, err)

	n, err := agg.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"https://a.example.com/2024/03/06/good/"}, links(t, store))
}

type failingStore struct{}

func (failingStore) Exists(context.Context, string) (bool, error) {
	return false, fmt.Errorf("%w: disk full", storage.ErrStore)
}

func (failingStore) Insert(context.Context, processor.Record) (storage.InsertResult, error) {
	return 0, fmt.Errorf("%w: disk full", storage.ErrStore)
}

func TestFetchStoreErrorAborts(t *testing.T) {
	r := &fakeRenderer{pages: map[string]string{
		"https://a.example.com/news/": trekNewsPage(card{"/2024/03/06/x/", "X", "News"}),
	}}
	agg, err := New(Config{Sources: []collector.Source{source("a")}}, Renderers{Browser: r}, failingStore{}, nil)
	require.NoError(t, err)

	_, err = agg.Fetch(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrStore)
}

func TestFetchCancelled(t *testing.T) {
	r := &fakeRenderer{pages: map[string]string{}}
	agg, err := New(Config{Sources: []collector.Source{source("a")}}, Renderers{Browser: r}, newStore(t), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = agg.Fetch(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewValidates(t *testing.T) {
	r := &fakeRenderer{}
	_, err := New(Config{}, Renderers{Browser: r}, nil, nil)
	assert.Error(t, err)

	_, err = New(Config{Sources: []collector.Source{source("a")}}, Renderers{}, nil, nil)
	assert.Error(t, err)

	static := source("a")
	static.Static = true
	_, err = New(Config{Sources: []collector.Source{static}}, Renderers{Browser: r}, nil, nil)
	assert.Error(t, err)

	bad := source("a")
	bad.Kind = "rss"
	_, err = New(Config{Sources: []collector.Source{bad}}, Renderers{Browser: r}, nil, nil)
	assert.Error(t, err)
}

func TestHTTPImageProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte{0xff, 0xd8, 0xff})
		case "/page.jpg":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html></html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewHTTPImageProbe(0, "test")
	ctx := context.Background()
	assert.True(t, p.Valid(ctx, srv.URL+"/ok.jpg"))
	assert.False(t, p.Valid(ctx, srv.URL+"/page.jpg"))
	assert.False(t, p.Valid(ctx, srv.URL+"/missing.jpg"))
	assert.False(t, p.Valid(ctx, "::bad url"))
}
