package httpx

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"XOS-Runner/internal/clock"
	xerrors "XOS-Runner/internal/errors"
	"XOS-Runner/pkg/logger"
)

const (
	// DefaultRetries allows up to three attempts per request.
	DefaultRetries = 2
	// DefaultTimeout bounds a single attempt.
	DefaultTimeout = 120 * time.Second
	// DefaultBackoff is the pause between failed attempts.
	DefaultBackoff = 5 * time.Second
	// DefaultRateLimitCooldown is the pause after a 429.
	DefaultRateLimitCooldown = 60 * time.Second
	// DefaultMaxCooldowns bounds how many 429s a request waits out before
	// they start consuming attempts.
	DefaultMaxCooldowns = 5
)

// Options tune a single Send call.
type Options struct {
	// Retries is the number of extra attempts. Zero means DefaultRetries,
	// a negative value disables retries.
	Retries int
	// IsAuth marks sign-in requests: no bearer token is attached and a 401
	// is returned as is instead of triggering a refresh.
	IsAuth  bool
	Headers map[string]string
}

func (o Options) retries() int {
	switch {
	case o.Retries < 0:
		return 0
	case o.Retries == 0:
		return DefaultRetries
	default:
		return o.Retries
	}
}

// FatalHandler is called when a 401 cannot be recovered. The default
// handler logs the error and exits the process with status 1.
type FatalHandler func(err *xerrors.Error)

// Client sends requests on behalf of one session.
type Client struct {
	http      *resty.Client
	headers   Headers
	tokens    *TokenHolder
	refresher Refresher
	fatal     FatalHandler
	sleep     clock.SleepFunc
	logger    *slog.Logger

	backoff      time.Duration
	cooldown     time.Duration
	maxCooldowns int
}

// Option configures a Client.
type Option func(*Client)

// WithProxy routes every request through proxyURL.
func WithProxy(proxyURL string) Option {
	return func(c *Client) {
		if proxyURL != "" {
			c.http.SetProxy(proxyURL)
		}
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.SetTimeout(d)
		}
	}
}

// WithBackoff sets the pause between failed attempts.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.backoff = d
		}
	}
}

// WithRateLimit sets the 429 cooldown and how many cooldowns one request may
// take before 429s count as ordinary failures.
func WithRateLimit(cooldown time.Duration, maxCooldowns int) Option {
	return func(c *Client) {
		if cooldown >= 0 {
			c.cooldown = cooldown
		}
		if maxCooldowns >= 0 {
			c.maxCooldowns = maxCooldowns
		}
	}
}

// WithSleep replaces the wait function, tests pass clock.NoSleep.
func WithSleep(sleep clock.SleepFunc) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// WithFatalHandler replaces the unrecoverable-401 handler.
func WithFatalHandler(h FatalHandler) Option {
	return func(c *Client) {
		if h != nil {
			c.fatal = h
		}
	}
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRefresher sets the token refresher used on 401.
func WithRefresher(r Refresher) Option {
	return func(c *Client) {
		c.refresher = r
	}
}

// NewClient creates a client with the session's immutable headers and
// token holder.
func NewClient(headers Headers, tokens *TokenHolder, opts ...Option) *Client {
	if tokens == nil {
		tokens = &TokenHolder{}
	}
	c := &Client{
		http:         resty.New().SetTimeout(DefaultTimeout),
		headers:      headers,
		tokens:       tokens,
		fatal:        exitOnFatal,
		sleep:        clock.Sleep,
		logger:       logger.L(),
		backoff:      DefaultBackoff,
		cooldown:     DefaultRateLimitCooldown,
		maxCooldowns: DefaultMaxCooldowns,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// SetRefresher wires the token manager after construction; the manager itself
// sends its sign-in requests through this client.
func (c *Client) SetRefresher(r Refresher) {
	c.refresher = r
}

// Tokens returns the session token holder.
func (c *Client) Tokens() *TokenHolder {
	return c.tokens
}

// Send performs method on url with the retry policy described in the package
// documentation. body is JSON encoded and ignored for GET.
func (c *Client) Send(ctx context.Context, method, url string, body any, opts Options) Result {
	retries := opts.retries()
	attempts := 0
	cooldowns := 0
	refreshed := false

	for {
		res, aborted := c.attempt(ctx, method, url, body, opts)
		if res.Success {
			return res
		}
		c.logger.Warn("request failed",
			slog.String("url", url),
			slog.Int("status", res.Status),
			slog.String("error", res.Error))

		if aborted {
			return res
		}

		switch res.Status {
		case http.StatusUnauthorized:
			if opts.IsAuth {
				return res
			}
			if refreshed {
				return c.escalate(res, "token rejected again after refresh")
			}
			c.logger.Warn("unauthorized, trying to get a new token", slog.String("url", url))
			if c.refresher == nil {
				return c.escalate(res, "no token refresher configured")
			}
			if _, ok := c.refresher.ValidToken(ctx, true); !ok {
				if err := ctx.Err(); err != nil {
					return cancelled(err)
				}
				return c.escalate(res, "token refresh failed")
			}
			refreshed = true
			continue
		case http.StatusBadRequest:
			c.logger.Error("invalid request, the server API may have changed", slog.String("url", url))
			return res
		case http.StatusTooManyRequests:
			if cooldowns < c.maxCooldowns {
				cooldowns++
				c.logger.Warn("rate limited, cooling down",
					slog.Duration("wait", c.cooldown),
					slog.Int("cooldown", cooldowns))
				if err := c.sleep(ctx, c.cooldown); err != nil {
					return cancelled(err)
				}
				continue
			}
		}

		attempts++
		if attempts > retries {
			return res
		}
		if err := c.sleep(ctx, c.backoff); err != nil {
			return cancelled(err)
		}
	}
}

// Get is Send with GET.
func (c *Client) Get(ctx context.Context, url string, opts Options) Result {
	return c.Send(ctx, http.MethodGet, url, nil, opts)
}

// Post is Send with POST.
func (c *Client) Post(ctx context.Context, url string, body any, opts Options) Result {
	return c.Send(ctx, http.MethodPost, url, body, opts)
}

// attempt performs one HTTP exchange. aborted reports an interrupted stream
// that must not be retried.
func (c *Client) attempt(ctx context.Context, method, url string, body any, opts Options) (Result, bool) {
	req := c.http.R().SetContext(ctx).SetHeaders(c.headers.m)
	if len(opts.Headers) > 0 {
		req.SetHeaders(opts.Headers)
	}
	if !opts.IsAuth {
		if token := c.tokens.Get(); token != "" {
			req.SetAuthToken(token)
		}
	}
	if body != nil && !strings.EqualFold(method, http.MethodGet) {
		req.SetBody(body)
	}

	resp, err := req.Execute(strings.ToUpper(method), url)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode()
		}
		if isAborted(ctx, err) {
			e := xerrors.Wrap(xerrors.CodeTransientNetwork, err, "stream has been aborted",
				xerrors.WithStatus(status), xerrors.WithRetryable(false))
			return Result{Status: status, Error: err.Error(), Err: e}, true
		}
		e := xerrors.Wrap(xerrors.CodeTransientNetwork, err, "", xerrors.WithStatus(status))
		return Result{Status: status, Error: err.Error(), Err: e}, false
	}

	raw := resp.Body()
	status := resp.StatusCode()
	if !resp.IsError() && status < http.StatusMultipleChoices {
		return Result{Success: true, Status: status, Data: unwrapData(raw)}, false
	}

	msg := errorMessage(raw, resp.Status())
	return Result{Status: status, Data: unwrapData(raw), Error: msg, Err: classify(status, msg)}, false
}

func classify(status int, msg string) *xerrors.Error {
	code := xerrors.CodeTransientNetwork
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		code = xerrors.CodeAuthFailure
	case status == http.StatusTooManyRequests:
		code = xerrors.CodeRateLimited
	case status >= 400 && status < 500:
		code = xerrors.CodeClientProtocol
	}
	return xerrors.New(code, msg, xerrors.WithStatus(status))
}

func isAborted(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	if stdErrors.Is(err, context.Canceled) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "stream has been aborted")
}

func cancelled(err error) Result {
	e := xerrors.Wrap(xerrors.CodeTransientNetwork, err, "request cancelled", xerrors.WithRetryable(false))
	return Result{Error: err.Error(), Err: e}
}

func (c *Client) escalate(res Result, reason string) Result {
	e := xerrors.New(xerrors.CodeAuthFailure, reason,
		xerrors.WithStatus(res.Status), xerrors.WithScope(xerrors.ScopeProcess))
	c.fatal(e)
	res.Error = e.Error()
	res.Err = e
	return res
}

func exitOnFatal(err *xerrors.Error) {
	logger.L().Error("unrecoverable authentication failure, stopping", slog.Any("error", err))
	_ = logger.Sync()
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
