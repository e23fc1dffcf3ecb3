package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/LJTian/NewsRelay/internal/logger"
	"github.com/LJTian/NewsRelay/internal/processor"
)

// ErrStore 持久层故障。调用方据此判断是否需要终止进程
var ErrStore = errors.New("store error")

// InsertResult 插入结果
type InsertResult int

const (
	InsertedAsNew InsertResult = iota + 1
	AlreadyExists
)

func (r InsertResult) String() string {
	switch r {
	case InsertedAsNew:
		return "inserted"
	case AlreadyExists:
		return "exists"
	default:
		return "unknown"
	}
}

// News 入库的新闻记录，link 唯一
type News struct {
	ID    uint   `gorm:"primaryKey" json:"id"`
	Title string `json:"title"`
	Link  string `gorm:"size:2048;uniqueIndex;not null" json:"link"`
	// 远程地址或 data URI
	Image string `json:"image"`
	// 规范化日期 YYYY-MM-DD；解析失败时保存原文
	Date string `gorm:"index:idx_news_order,priority:2" json:"date"`
	// Date 是否为规范化日期，排序时未规范化的排在最后
	Dated     bool   `gorm:"index:idx_news_order,priority:1" json:"dated"`
	Hashtag   string `json:"hashtag"`
	Source    string `gorm:"size:64;index" json:"source"`
	Delivered bool   `gorm:"index" json:"delivered"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Options 存储配置
type Options struct {
	// sqlite（默认）或 postgres
	Driver string
	DSN    string

	// 为空时不启用 Redis（无周期锁、无列表缓存）
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// 列表缓存时长，默认 30s
	CacheTTL time.Duration
}

type Store struct {
	DB    *gorm.DB
	Redis *redis.Client

	cacheTTL time.Duration
	log      logger.Logger
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultCacheTTL = 30 * time.Second
	cycleLockKey    = "newsrelay:cycle:lock"
)

// Open 打开数据库并自动迁移表结构
func Open(opts Options, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NewNop()
	}

	var dialector gorm.Dialector
	switch strings.ToLower(opts.Driver) {
	case "", DriverSQLite:
		dsn := opts.DSN
		if dsn == "" {
			dsn = "news.db"
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		}
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrStore, opts.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %w", ErrStore, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}
	if dialector.Name() == DriverSQLite {
		// sqlite 只允许一个写连接
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&News{}); err != nil {
		return nil, fmt.Errorf("%w: migrate: %w", ErrStore, err)
	}

	s := &Store{DB: db, cacheTTL: opts.CacheTTL, log: log}
	if s.cacheTTL <= 0 {
		s.cacheTTL = defaultCacheTTL
	}

	if opts.RedisAddr != "" {
		s.Redis = redis.NewClient(&redis.Options{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.Redis.Ping(ctx).Err(); err != nil {
			log.Warn("redis ping failed", logger.String("addr", opts.RedisAddr), logger.Error(err))
		}
	}

	return s, nil
}

func (s *Store) Close() error {
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping 健康检查
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping: %w", ErrStore, err)
	}
	return nil
}

// Exists link 是否已入库（无论是否已推送）
func (s *Store) Exists(ctx context.Context, link string) (bool, error) {
	var n int64
	if err := s.DB.WithContext(ctx).Model(&News{}).Where("link = ?", link).Limit(1).Count(&n).Error; err != nil {
		return false, fmt.Errorf("%w: exists %s: %w", ErrStore, link, err)
	}
	return n > 0, nil
}

// Insert 以 link 为幂等键写入，已存在时不做任何修改。唯一性由数据库约束保证。
func (s *Store) Insert(ctx context.Context, rec processor.Record) (InsertResult, error) {
	row := fromRecord(rec)
	res := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "link"}}, DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return 0, fmt.Errorf("%w: insert %s: %w", ErrStore, rec.Link, res.Error)
	}
	if res.RowsAffected == 0 {
		return AlreadyExists, nil
	}
	return InsertedAsNew, nil
}

// ListUndelivered 未推送的记录：日期升序，无效日期在最后，同日期按入库顺序。
// 无法解码的行记日志后跳过
func (s *Store) ListUndelivered(ctx context.Context) ([]processor.Record, error) {
	var rows []News
	err := s.DB.WithContext(ctx).
		Where("delivered = ?", false).
		Order("dated DESC").Order("date ASC").Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: list undelivered: %w", ErrStore, err)
	}

	out := make([]processor.Record, 0, len(rows))
	for _, n := range rows {
		rec, err := n.Record()
		if err != nil {
			// 单行数据损坏不影响其余记录
			s.log.Warn("skip undecodable news", logger.String("link", n.Link), logger.Error(err))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// MarkDelivered 标记已推送，重复调用无副作用
func (s *Store) MarkDelivered(ctx context.Context, link string) error {
	err := s.DB.WithContext(ctx).Model(&News{}).
		Where("link = ? AND delivered = ?", link, false).
		Update("delivered", true).Error
	if err != nil {
		return fmt.Errorf("%w: mark delivered %s: %w", ErrStore, link, err)
	}
	return nil
}

// MarkAllUndeliveredAsDelivered 单条 UPDATE 把所有未推送记录标记为已推送，返回影响行数
func (s *Store) MarkAllUndeliveredAsDelivered(ctx context.Context) (int64, error) {
	res := s.DB.WithContext(ctx).Model(&News{}).
		Where("delivered = ?", false).
		Update("delivered", true)
	if res.Error != nil {
		return 0, fmt.Errorf("%w: mark all delivered: %w", ErrStore, res.Error)
	}
	return res.RowsAffected, nil
}

// Stats 记录数统计
type Stats struct {
	Total       int64 `json:"total"`
	Delivered   int64 `json:"delivered"`
	Undelivered int64 `json:"undelivered"`
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	db := s.DB.WithContext(ctx).Model(&News{})
	if err := db.Count(&st.Total).Error; err != nil {
		return Stats{}, fmt.Errorf("%w: count: %w", ErrStore, err)
	}
	if err := s.DB.WithContext(ctx).Model(&News{}).Where("delivered = ?", true).Count(&st.Delivered).Error; err != nil {
		return Stats{}, fmt.Errorf("%w: count delivered: %w", ErrStore, err)
	}
	st.Undelivered = st.Total - st.Delivered
	return st, nil
}

// ListRecent 按入库时间倒序返回最近的记录，delivered 为 nil 时不过滤。
// 结果在 Redis 中缓存 cacheTTL。
func (s *Store) ListRecent(ctx context.Context, limit int, delivered *bool) ([]News, error) {
	if limit <= 0 || limit > 500 {
		limit = 20
	}
	filter := "all"
	if delivered != nil {
		filter = fmt.Sprintf("%t", *delivered)
	}
	cacheKey := fmt.Sprintf("news:recent:%s:%d", filter, limit)

	if s.Redis != nil {
		if bs, err := s.Redis.Get(ctx, cacheKey).Bytes(); err == nil {
			var cached []News
			if err := json.Unmarshal(bs, &cached); err == nil {
				return cached, nil
			}
		}
	}

	var list []News
	db := s.DB.WithContext(ctx).Model(&News{})
	if delivered != nil {
		db = db.Where("delivered = ?", *delivered)
	}
	if err := db.Order("id DESC").Limit(limit).Find(&list).Error; err != nil {
		return nil, fmt.Errorf("%w: list recent: %w", ErrStore, err)
	}

	if s.Redis != nil && len(list) > 0 {
		if bs, err := json.Marshal(list); err == nil {
			_ = s.Redis.Set(ctx, cacheKey, bs, s.cacheTTL).Err()
		}
	}
	return list, nil
}

// 仅当锁仍归自己持有时才删除
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// AcquireCycleLock 获取周期互斥锁，多个进程共用同一个库时避免周期重叠。
// 未配置 Redis 时总是成功。ok=false 表示锁被其他进程持有。
func (s *Store) AcquireCycleLock(ctx context.Context, ttl time.Duration) (release func(), ok bool, err error) {
	if s.Redis == nil {
		return func() {}, true, nil
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return nil, false, err
	}
	token := hex.EncodeToString(buf)

	ok, err = s.Redis.SetNX(ctx, cycleLockKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire cycle lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, s.Redis, []string{cycleLockKey}, token).Err(); err != nil {
			s.log.Warn("release cycle lock failed", logger.Error(err))
		}
	}
	return release, true, nil
}

// Record 转回领域记录
func (n News) Record() (processor.Record, error) {
	img, err := processor.ParseImage(n.Image)
	if err != nil {
		return processor.Record{}, err
	}
	return processor.Record{
		Link:      n.Link,
		Title:     n.Title,
		Image:     img,
		Date:      processor.DateFromStored(n.Date, n.Dated),
		Hashtag:   n.Hashtag,
		Source:    n.Source,
		Delivered: n.Delivered,
	}, nil
}

func fromRecord(rec processor.Record) News {
	return News{
		Title:     rec.Title,
		Link:      rec.Link,
		Image:     rec.Image.Stored(),
		Date:      rec.Date.Stored(),
		Dated:     rec.Date.Valid(),
		Hashtag:   rec.Hashtag,
		Source:    rec.Source,
		Delivered: rec.Delivered,
	}
}
