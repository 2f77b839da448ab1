package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"XOS-Runner/internal/account"
	"XOS-Runner/internal/httpx"
	"XOS-Runner/internal/kvstore"
	"XOS-Runner/pkg/logger"
)

// Sender 是 Manager 依赖的请求能力，由 httpx.Client 实现。
type Sender interface {
	Send(ctx context.Context, method, url string, body any, opts httpx.Options) httpx.Result
	Tokens() *httpx.TokenHolder
}

// Manager 为单个账号维护登录态。它实现 httpx.Refresher。
type Manager struct {
	account account.Account
	client  Sender
	store   kvstore.Store
	baseURL string
	refCode string
	now     func() time.Time
	logger  *slog.Logger

	mu sync.Mutex
}

// Option 定义可选配置。
type Option func(*Manager)

// WithNow 注入时钟。
func WithNow(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager 构造 Manager。store 中以地址为键保存登录返回的完整 JSON。
func NewManager(acc account.Account, client Sender, store kvstore.Store, baseURL, refCode string, opts ...Option) *Manager {
	m := &Manager{
		account: acc,
		client:  client,
		store:   store,
		baseURL: strings.TrimRight(baseURL, "/"),
		refCode: refCode,
		now:     time.Now,
		logger:  logger.L(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// ValidToken 返回可用的 token。未强制刷新且缓存的 token 未过期时不会发起
// 网络请求；否则重新签名登录并持久化结果。失败时返回 ("", false)。
func (m *Manager) ValidToken(ctx context.Context, force bool) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	holder := m.client.Tokens()
	cached := holder.Get()
	if cached == "" {
		cached = m.loadStored(ctx)
		if cached != "" {
			holder.Set(cached)
		}
	}

	if !force && Valid(cached, m.now()) {
		m.logger.Debug("使用缓存的 token")
		return cached, true
	}

	m.logger.Warn("token 不存在或已过期，重新登录")
	payload, token, ok := m.signIn(ctx)
	if !ok {
		return "", false
	}
	if err := m.store.Put(ctx, m.account.Address, string(payload)); err != nil {
		// 持久化失败不影响本轮使用。
		m.logger.Warn("保存 token 失败", slog.Any("error", err))
	}
	holder.Set(token)
	logger.Success(m.logger, "登录成功")
	return token, true
}

func (m *Manager) loadStored(ctx context.Context) string {
	raw, ok, err := m.store.Get(ctx, m.account.Address)
	if err != nil {
		m.logger.Warn("读取 token 失败", slog.Any("error", err))
		return ""
	}
	if !ok {
		return ""
	}
	return gjson.Get(raw, "token").String()
}

func (m *Manager) signIn(ctx context.Context) (json.RawMessage, string, bool) {
	nonceURL := m.baseURL + "/get-sign-message2?walletAddress=" + url.QueryEscape(m.account.Address)
	res := m.client.Send(ctx, http.MethodGet, nonceURL, nil, httpx.Options{IsAuth: true})
	message := res.Get("message").String()
	if !res.Success || message == "" {
		m.logger.Error("获取签名消息失败", slog.Int("status", res.Status), slog.String("error", res.Error))
		return nil, "", false
	}

	signature, err := SignMessage(m.account.PrivateKey, message)
	if err != nil {
		m.logger.Error("签名失败", slog.Any("error", err))
		return nil, "", false
	}

	body := map[string]string{
		"walletAddress": m.account.Address,
		"signMessage":   message,
		"signature":     signature,
		"referrer":      m.refCode,
	}
	res = m.client.Send(ctx, http.MethodPost, m.baseURL+"/verify-signature2", body, httpx.Options{IsAuth: true})
	if !res.Success {
		m.logger.Error("登录失败", slog.Int("status", res.Status), slog.String("error", res.Error))
		return nil, "", false
	}
	token := res.Get("token").String()
	if token == "" {
		m.logger.Error("登录响应中没有 token")
		return nil, "", false
	}
	return res.Data, token, true
}
