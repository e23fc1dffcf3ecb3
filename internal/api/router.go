package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LJTian/NewsRelay/internal/processor"
	"github.com/LJTian/NewsRelay/internal/storage"
)

// Store 状态接口用到的存储能力
type Store interface {
	Ping(ctx context.Context) error
	ListRecent(ctx context.Context, limit int, delivered *bool) ([]storage.News, error)
	Stats(ctx context.Context) (storage.Stats, error)
}

type Server struct {
	store    Store
	gatherer prometheus.Gatherer
	// 返回调度状态，可为空
	state func() string
}

func NewServer(store Store, gatherer prometheus.Gatherer, state func() string) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{store: store, gatherer: gatherer, state: state}
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")
	{
		v1.GET("/news", s.listNews)
		v1.GET("/stats", s.stats)
	}
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// newsItem 接口返回的记录；内嵌图片只返回标记，不返回 base64 数据
type newsItem struct {
	ID            uint      `json:"id"`
	Title         string    `json:"title"`
	Link          string    `json:"link"`
	Image         string    `json:"image,omitempty"`
	ImageEmbedded bool      `json:"imageEmbedded"`
	Date          string    `json:"date"`
	Hashtag       string    `json:"hashtag"`
	Source        string    `json:"source"`
	Delivered     bool      `json:"delivered"`
	CreatedAt     time.Time `json:"createdAt"`
}

func toItem(n storage.News) newsItem {
	it := newsItem{
		ID:        n.ID,
		Title:     n.Title,
		Link:      n.Link,
		Date:      n.Date,
		Hashtag:   n.Hashtag,
		Source:    n.Source,
		Delivered: n.Delivered,
		CreatedAt: n.CreatedAt,
	}
	if processor.IsDataImage(n.Image) {
		it.ImageEmbedded = true
	} else {
		it.Image = n.Image
	}
	return it
}

func (s *Server) listNews(c *gin.Context) {
	limitStr := c.DefaultQuery("limit", "20")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		limit = 20
	}

	var delivered *bool
	if v := c.Query("delivered"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "invalid_argument",
				"message": "delivered must be true or false",
			})
			return
		}
		delivered = &b
	}

	list, err := s.store.ListRecent(c.Request.Context(), limit, delivered)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "internal_error",
			"message": "internal server error",
		})
		return
	}

	items := make([]newsItem, 0, len(list))
	for _, n := range list {
		items = append(items, toItem(n))
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    items,
	})
}

func (s *Server) stats(c *gin.Context) {
	st, err := s.store.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "internal_error",
			"message": "internal server error",
		})
		return
	}
	data := gin.H{
		"total":       st.Total,
		"delivered":   st.Delivered,
		"undelivered": st.Undelivered,
	}
	if s.state != nil {
		data["state"] = s.state()
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    data,
	})
}

// BasicAuth 为整个站点增加一个简单的 Basic Auth 访问密码。
// /health 与 /metrics 不做认证，便于探活与抓取指标。
func BasicAuth(user, pass string) gin.HandlerFunc {
	const realm = "Restricted"
	uBytes := []byte(user)
	pBytes := []byte(pass)

	return func(c *gin.Context) {
		if p := c.Request.URL.Path; p == "/health" || p == "/metrics" {
			c.Next()
			return
		}
		u, p, ok := c.Request.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(u), uBytes) != 1 ||
			subtle.ConstantTimeCompare([]byte(p), pBytes) != 1 {
			c.Header("WWW-Authenticate", `Basic realm="`+realm+`"`)
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}
