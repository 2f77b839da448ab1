// Package captcha solves the faucet's reCAPTCHA through a createTask /
// getTaskResult style solving service.
package captcha

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"XOS-Runner/internal/clock"
	xerrors "XOS-Runner/internal/errors"
	"XOS-Runner/pkg/logger"
)

const (
	// ProviderTwoCaptcha solves without a proxy.
	ProviderTwoCaptcha = "2captcha"
	// ProviderMonster solves through the session proxy.
	ProviderMonster = "monstercaptcha"

	defaultTwoCaptchaEndpoint = "https://api.2captcha.com"
	defaultPollInterval       = 5 * time.Second
	defaultMaxPolls           = 24
)

// Solver returns a captcha token. proxyURL is the session proxy and may be
// empty.
type Solver interface {
	Solve(ctx context.Context, proxyURL string) (string, error)
}

// Config describes the solving service and the site being solved.
type Config struct {
	Provider   string
	Endpoint   string
	APIKey     string
	WebsiteURL string
	WebsiteKey string
}

// Client talks to the solving service.
type Client struct {
	cfg      Config
	http     *resty.Client
	sleep    clock.SleepFunc
	interval time.Duration
	maxPolls int
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithSleep replaces the wait between polls.
func WithSleep(sleep clock.SleepFunc) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// WithPolling sets the poll interval and the maximum number of polls.
func WithPolling(interval time.Duration, maxPolls int) Option {
	return func(c *Client) {
		if interval > 0 {
			c.interval = interval
		}
		if maxPolls > 0 {
			c.maxPolls = maxPolls
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient validates cfg and creates a client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	if cfg.Provider == "" {
		cfg.Provider = ProviderTwoCaptcha
	}
	if cfg.Endpoint == "" && cfg.Provider == ProviderTwoCaptcha {
		cfg.Endpoint = defaultTwoCaptchaEndpoint
	}
	switch {
	case cfg.Endpoint == "":
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("captcha provider %q needs an endpoint", cfg.Provider))
	case cfg.APIKey == "":
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "captcha api key is empty")
	case cfg.WebsiteURL == "" || cfg.WebsiteKey == "":
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "captcha website url and key are required")
	}

	c := &Client{
		cfg:      cfg,
		http:     resty.New().SetTimeout(30 * time.Second).SetBaseURL(strings.TrimRight(cfg.Endpoint, "/")),
		sleep:    clock.Sleep,
		interval: defaultPollInterval,
		maxPolls: defaultMaxPolls,
		logger:   logger.L(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Solve creates a task and polls until it is ready.
func (c *Client) Solve(ctx context.Context, proxyURL string) (string, error) {
	task, err := c.task(proxyURL)
	if err != nil {
		return "", err
	}
	body, err := c.post(ctx, "/createTask", map[string]any{"clientKey": c.cfg.APIKey, "task": task})
	if err != nil {
		return "", err
	}
	taskID := body.Get("taskId").String()
	if taskID == "" {
		return "", xerrors.New(xerrors.CodeClientProtocol, "captcha service returned no task id")
	}
	c.logger.Debug("captcha task created", slog.String("task", taskID))

	for i := 0; i < c.maxPolls; i++ {
		if err := c.sleep(ctx, c.interval); err != nil {
			return "", xerrors.Wrap(xerrors.CodeTimeout, err, "captcha polling cancelled")
		}
		res, err := c.post(ctx, "/getTaskResult", map[string]any{"clientKey": c.cfg.APIKey, "taskId": body.Get("taskId").Value()})
		if err != nil {
			return "", err
		}
		if res.Get("status").String() != "ready" {
			continue
		}
		token := res.Get("solution.gRecaptchaResponse").String()
		if token == "" {
			token = res.Get("solution.token").String()
		}
		if token == "" {
			return "", xerrors.New(xerrors.CodeClientProtocol, "captcha solution is empty")
		}
		return token, nil
	}
	return "", xerrors.New(xerrors.CodeTimeout, fmt.Sprintf("captcha not solved after %d polls", c.maxPolls))
}

func (c *Client) task(proxyURL string) (map[string]any, error) {
	task := map[string]any{
		"type":       "RecaptchaV2TaskProxyless",
		"websiteURL": c.cfg.WebsiteURL,
		"websiteKey": c.cfg.WebsiteKey,
	}
	if c.cfg.Provider != ProviderMonster {
		return task, nil
	}
	if proxyURL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "monstercaptcha needs a session proxy")
	}
	u, err := url.Parse(proxyURL)
	if err != nil || u.Hostname() == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "invalid proxy for captcha task")
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "proxy port is required for captcha task")
	}
	task["type"] = "RecaptchaV2Task"
	task["proxyType"] = u.Scheme
	task["proxyAddress"] = u.Hostname()
	task["proxyPort"] = port
	if u.User != nil {
		task["proxyLogin"] = u.User.Username()
		pass, _ := u.User.Password()
		task["proxyPassword"] = pass
	}
	return task, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (gjson.Result, error) {
	resp, err := c.http.R().SetContext(ctx).SetBody(payload).Post(path)
	if err != nil {
		return gjson.Result{}, xerrors.Wrap(xerrors.CodeTransientNetwork, err, "captcha request failed")
	}
	if resp.IsError() {
		return gjson.Result{}, xerrors.New(xerrors.CodeTransientNetwork,
			fmt.Sprintf("captcha service status %d", resp.StatusCode()), xerrors.WithStatus(resp.StatusCode()))
	}
	body := gjson.ParseBytes(resp.Body())
	if id := body.Get("errorId").Int(); id != 0 {
		return gjson.Result{}, xerrors.New(xerrors.CodeClientProtocol,
			fmt.Sprintf("captcha service error %d: %s", id, body.Get("errorCode").String()))
	}
	return body, nil
}
