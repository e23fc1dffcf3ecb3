package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/LJTian/NewsRelay/internal/logger"
	"github.com/LJTian/NewsRelay/internal/processor"
)

const defaultTelegramAPI = "https://api.telegram.org"

type TelegramConfig struct {
	Token  string
	ChatID string
	// 默认 https://api.telegram.org，测试时指向 httptest
	BaseURL string
	Timeout time.Duration
	// 两次发送之间的最小间隔，<=0 时不限速
	MinInterval time.Duration
}

// Telegram 通过 Bot API sendPhoto 推送
type Telegram struct {
	cfg     TelegramConfig
	client  *http.Client
	limiter *rate.Limiter
	log     logger.Logger
}

func NewTelegram(cfg TelegramConfig, log logger.Logger) (*Telegram, error) {
	if cfg.Token == "" || cfg.ChatID == "" {
		return nil, errors.New("telegram token and chat id are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTelegramAPI
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.MinInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}

	return &Telegram{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		log:     log.With(logger.String("component", "telegram")),
	}, nil
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Deliver 发送一张图片及说明文字。远程图片传 URL，内嵌图片以文件上传
func (t *Telegram) Deliver(ctx context.Context, img processor.Image, caption string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}

	if utf8.RuneCountInString(caption) > CaptionLimit {
		caption = string([]rune(caption)[:CaptionLimit])
	}

	var (
		body        io.Reader
		contentType string
		err         error
	)
	if img.Embedded() {
		body, contentType, err = t.multipartBody(img, caption)
	} else {
		body, contentType, err = t.jsonBody(img.URL, caption)
	}
	if err != nil {
		// 只与这一条记录有关，重试耗尽后由队列跳过
		return Transient(fmt.Errorf("build request body: %w", err))
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendPhoto", t.cfg.BaseURL, t.cfg.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return Fatal(err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// url.Error 里带有含 token 的完整地址，不能直接外抛
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return Transient(fmt.Errorf("send photo: %w", err))
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.log.Warn("close response body failed", logger.Error(err))
		}
	}()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var ar apiResponse
	_ = json.Unmarshal(raw, &ar)

	if resp.StatusCode == http.StatusOK && ar.OK {
		return nil
	}
	return classifyResponse(resp.StatusCode, ar)
}

func classifyResponse(status int, ar apiResponse) error {
	desc := ar.Description
	if desc == "" {
		desc = http.StatusText(status)
	}
	e := &Error{Status: status, Err: errors.New(desc)}
	switch {
	case status == http.StatusTooManyRequests:
		e.RetryAfter = time.Duration(ar.Parameters.RetryAfter) * time.Second
	case status == http.StatusUnauthorized, status == http.StatusForbidden, status == http.StatusNotFound:
		// token 失效、机器人被移出频道、频道不存在
		e.Fatal = true
	}
	return e
}

func (t *Telegram) jsonBody(photo, caption string) (io.Reader, string, error) {
	bs, err := json.Marshal(map[string]any{
		"chat_id": t.cfg.ChatID,
		"photo":   photo,
		"caption": caption,
	})
	if err != nil {
		return nil, "", err
	}
	return bytes.NewReader(bs), "application/json", nil
}

func (t *Telegram) multipartBody(img processor.Image, caption string) (io.Reader, string, error) {
	if !strings.HasPrefix(img.MIME, "image/") {
		return nil, "", fmt.Errorf("unsupported embedded image type %q", img.MIME)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("chat_id", t.cfg.ChatID); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("caption", caption); err != nil {
		return nil, "", err
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="photo"; filename="image%s"`, img.Extension()))
	h.Set("Content-Type", img.MIME)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
