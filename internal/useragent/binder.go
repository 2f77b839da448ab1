// Package useragent binds each wallet address to one browser user agent for
// its whole lifetime.
package useragent

import (
	"context"
	"math/rand/v2"
	"sync"

	xerrors "XOS-Runner/internal/errors"
	"XOS-Runner/internal/kvstore"
)

// DefaultAgents is used when the configuration lists none.
var DefaultAgents = []string{
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Mobile/15E148",
	"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.6533.64 Mobile Safari/537.36",
	"Mozilla/5.0 (Linux; Android 13; SM-S918B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.6533.64 Mobile Safari/537.36",
	"Mozilla/5.0 (iPad; CPU OS 17_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Mobile/15E148",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36",
}

// Binder hands out user agents. An address keeps the first agent it was given.
type Binder struct {
	store  kvstore.Store
	agents []string
	pick   func(n int) int

	mu sync.Mutex
}

// NewBinder creates a binder over store choosing from agents.
func NewBinder(store kvstore.Store, agents []string) *Binder {
	if len(agents) == 0 {
		agents = DefaultAgents
	}
	return &Binder{store: store, agents: agents, pick: rand.IntN}
}

// Bind returns the agent bound to address, creating the binding if absent.
func (b *Binder) Bind(ctx context.Context, address string) (ua string, created bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ua, ok, err := b.store.Get(ctx, address); err != nil {
		return "", false, err
	} else if ok && ua != "" {
		return ua, false, nil
	}

	ua = b.agents[b.pick(len(b.agents))]
	if err := b.store.Put(ctx, address, ua); err != nil {
		return "", false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "cannot save user agent")
	}
	return ua, true, nil
}
