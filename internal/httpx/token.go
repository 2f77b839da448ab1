package httpx

import (
	"context"
	"sync"
)

// TokenHolder carries the bearer token of one session.
type TokenHolder struct {
	mu    sync.RWMutex
	token string
}

// Get returns the current token, empty when not signed in.
func (h *TokenHolder) Get() string {
	if h == nil {
		return ""
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.token
}

// Set replaces the current token.
func (h *TokenHolder) Set(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.token = token
}

// Refresher obtains a usable token. With force set the cached token is
// ignored and a new sign-in is performed.
type Refresher interface {
	ValidToken(ctx context.Context, force bool) (string, bool)
}
