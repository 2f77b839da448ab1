// Package discovery resolves the base URL of the authenticated API.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	xerrors "XOS-Runner/internal/errors"
)

// Endpoint is the discovered API base URL plus an operator notice.
type Endpoint struct {
	URL     string
	Message string
}

// Discoverer finds the API endpoint once at startup.
type Discoverer interface {
	Discover(ctx context.Context) (Endpoint, error)
}

// Static always returns the configured endpoint.
type Static Endpoint

// Discover implements Discoverer.
func (s Static) Discover(context.Context) (Endpoint, error) {
	if strings.TrimSpace(s.URL) == "" {
		return Endpoint{}, xerrors.New(xerrors.CodeInvalidArgument, "api base url is empty")
	}
	return Endpoint(s), nil
}

// HTTP asks a discovery service for `{"endpoint": "...", "message": "..."}`.
type HTTP struct {
	url  string
	http *resty.Client
}

// NewHTTP creates an HTTP discoverer for url.
func NewHTTP(url string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTP{url: url, http: resty.New().SetTimeout(timeout).SetRetryCount(2)}
}

// Discover implements Discoverer.
func (h *HTTP) Discover(ctx context.Context) (Endpoint, error) {
	resp, err := h.http.R().SetContext(ctx).Get(h.url)
	if err != nil {
		return Endpoint{}, xerrors.Wrap(xerrors.CodeTransientNetwork, err, "endpoint discovery failed")
	}
	if resp.IsError() {
		return Endpoint{}, xerrors.New(xerrors.CodeTransientNetwork,
			fmt.Sprintf("endpoint discovery status %d", resp.StatusCode()), xerrors.WithStatus(resp.StatusCode()))
	}
	body := gjson.ParseBytes(resp.Body())
	if body.Get("data").IsObject() {
		body = body.Get("data")
	}
	ep := Endpoint{
		URL:     strings.TrimRight(strings.TrimSpace(body.Get("endpoint").String()), "/"),
		Message: body.Get("message").String(),
	}
	if ep.URL == "" {
		return Endpoint{}, xerrors.New(xerrors.CodeClientProtocol, "discovery response has no endpoint")
	}
	return ep, nil
}
