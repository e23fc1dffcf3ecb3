package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// ErrHelp 用户请求了 --help，调用方应直接退出
var ErrHelp = errors.New("help requested")

// Config 所有入口共用的配置。优先级：命令行参数 > 环境变量 > .env 文件 > 默认值
type Config struct {
	AppPort       string `long:"port" env:"APP_PORT" default:"9000" description:"HTTP port for the status API"`
	BasicAuthUser string `long:"basic-user" env:"APP_BASIC_USER" description:"Basic auth user for the status API (optional)"`
	BasicAuthPass string `long:"basic-pass" env:"APP_BASIC_PASS" description:"Basic auth password for the status API"`

	DBDriver      string `long:"db-driver" env:"DB_DRIVER" default:"sqlite" choice:"sqlite" choice:"postgres" description:"Database driver"`
	DBDSN         string `long:"db-dsn" env:"DB_DSN" default:"news.db" description:"sqlite file path or postgres DSN"`
	RedisAddr     string `long:"redis-addr" env:"REDIS_ADDR" description:"Redis address for the cycle lock and API cache (optional)"`
	RedisPassword string `long:"redis-password" env:"REDIS_PASSWORD" description:"Redis password"`
	RedisDB       int    `long:"redis-db" env:"REDIS_DB" default:"0" description:"Redis database number"`

	CronSpec       string        `long:"cron" env:"CRON_SPEC" default:"@every 1m" description:"Steady cycle schedule"`
	SourcesFile    string        `long:"sources" env:"SOURCES_FILE" description:"YAML file listing news sources (built-in list when empty)"`
	FetchWorkers   int           `long:"fetch-workers" env:"FETCH_WORKERS" default:"0" description:"Sources rendered at once, 0 means all"`
	RenderTimeout  time.Duration `long:"render-timeout" env:"RENDER_TIMEOUT" default:"60s" description:"Hard timeout for rendering one page"`
	ChromePath     string        `long:"chrome-path" env:"CHROME_PATH" description:"Chrome/Chromium executable (auto-detected when empty)"`
	NoHeadless     bool          `long:"no-headless" env:"CHROME_NO_HEADLESS" description:"Show the browser window"`
	UserAgent      string        `long:"user-agent" env:"USER_AGENT" default:"NewsRelayBot/1.0" description:"User agent for page and image requests"`
	ValidateImages bool          `long:"validate-images" env:"VALIDATE_IMAGES" description:"Drop items whose remote image does not answer with an image content type"`

	TelegramToken  string        `long:"telegram-token" env:"TELEGRAM_BOT_TOKEN" description:"Telegram bot token"`
	TelegramChatID string        `long:"telegram-chat" env:"TELEGRAM_CHANNEL_ID" description:"Telegram channel id or @username"`
	TelegramAPI    string        `long:"telegram-api" env:"TELEGRAM_API_URL" default:"https://api.telegram.org" description:"Telegram Bot API base URL"`
	SendInterval   time.Duration `long:"send-interval" env:"SEND_INTERVAL" default:"3s" description:"Minimum interval between two sends"`
	MaxAttempts    int           `long:"max-attempts" env:"DELIVERY_MAX_ATTEMPTS" default:"3" description:"Send attempts per record"`
	RetryDelay     time.Duration `long:"retry-delay" env:"DELIVERY_RETRY_DELAY" default:"5s" description:"Wait after a transient send error"`
	Pause          time.Duration `long:"pause" env:"DELIVERY_PAUSE" default:"10s" description:"Pause after a successful send"`

	LogLevel string `long:"log-level" env:"LOG_LEVEL" default:"info" description:"debug, info, warn or error"`
	Debug    bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`

	// 仅 cmd/collect 使用：只采集入库，不推送
	DryRun bool `long:"dry-run" description:"Fetch and store only, skip delivery"`
}

// Load 先加载 .env 文件再解析命令行参数与环境变量
func Load(args []string) (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, err
	}

	var cfg Config
	parser := flags.NewParser(&cfg, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, flagsErr.Message)
			return nil, ErrHelp
		}
		return nil, fmt.Errorf("parse configuration: %w", err)
	}
	cfg.TelegramAPI = strings.TrimRight(cfg.TelegramAPI, "/")
	return &cfg, nil
}

// loadEnvFiles ENV_FILE 指定时只加载该文件，否则依次加载 .env.local 与 .env。
// 已存在的环境变量不会被覆盖。
func loadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}
	for _, f := range []string{".env.local", ".env"} {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Validate 检查配置；requireTelegram 为 true 时要求推送凭据齐全
func (c *Config) Validate(requireTelegram bool) error {
	var errs []error

	if _, err := cron.ParseStandard(c.CronSpec); err != nil {
		errs = append(errs, fmt.Errorf("CRON_SPEC %q: %w", c.CronSpec, err))
	}
	if c.DBDSN == "" {
		errs = append(errs, errors.New("DB_DSN is required"))
	}
	if c.RenderTimeout <= 0 {
		errs = append(errs, errors.New("RENDER_TIMEOUT must be positive"))
	}
	if c.FetchWorkers < 0 {
		errs = append(errs, errors.New("FETCH_WORKERS must not be negative"))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, errors.New("DELIVERY_MAX_ATTEMPTS must be at least 1"))
	}
	if c.RetryDelay < 0 || c.Pause < 0 || c.SendInterval < 0 {
		errs = append(errs, errors.New("delivery delays must not be negative"))
	}
	if (c.BasicAuthUser == "") != (c.BasicAuthPass == "") {
		errs = append(errs, errors.New("APP_BASIC_USER and APP_BASIC_PASS must be set together"))
	}
	if requireTelegram {
		if c.TelegramToken == "" {
			errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN is required"))
		}
		if c.TelegramChatID == "" {
			errs = append(errs, errors.New("TELEGRAM_CHANNEL_ID is required"))
		}
	}
	return errors.Join(errs...)
}
