package proxy

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	xerrors "XOS-Runner/internal/errors"
)

// DefaultEchoURL answers with the caller's public address as {"ip": "..."}.
const DefaultEchoURL = "https://api.ipify.org?format=json"

// Resolver reports the public IP a proxy exits from.
type Resolver struct {
	echoURL string
	timeout time.Duration
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithEchoURL overrides the IP echo endpoint.
func WithEchoURL(u string) Option {
	return func(r *Resolver) {
		if strings.TrimSpace(u) != "" {
			r.echoURL = u
		}
	}
}

// WithTimeout bounds a single lookup.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewResolver creates a resolver.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{echoURL: DefaultEchoURL, timeout: 30 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Resolve performs one request through proxyURL and returns the echoed IP.
// Any failure is a PROXY_UNREACHABLE error.
func (r *Resolver) Resolve(ctx context.Context, proxyURL string) (string, error) {
	client := resty.New().SetTimeout(r.timeout)
	if proxyURL != "" {
		client.SetProxy(proxyURL)
	}
	resp, err := client.R().SetContext(ctx).Get(r.echoURL)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeProxyUnreachable, err, "cannot check proxy IP")
	}
	if resp.IsError() {
		return "", xerrors.New(xerrors.CodeProxyUnreachable, "cannot check proxy IP: "+resp.Status(),
			xerrors.WithStatus(resp.StatusCode()))
	}
	ip := gjson.GetBytes(resp.Body(), "ip").String()
	if ip == "" {
		return "", xerrors.New(xerrors.CodeProxyUnreachable, "IP echo returned no address")
	}
	return ip, nil
}
