package useragent

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"XOS-Runner/internal/kvstore"
)

func TestBindIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session_user_agents.json")
	store, err := kvstore.NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}

	b := NewBinder(store, []string{"ua-1", "ua-2", "ua-3"})
	n := 0
	b.pick = func(int) int { n++; return n % 3 }

	first, created, err := b.Bind(ctx, "0xabc")
	if err != nil || !created {
		t.Fatalf("first bind should create, got %v %v", created, err)
	}
	for i := 0; i < 5; i++ {
		again, created, err := b.Bind(ctx, "0xabc")
		if err != nil || created || again != first {
			t.Fatalf("rebind returned %q created=%v err=%v, want %q", again, created, err, first)
		}
	}

	reopened, _ := kvstore.NewFileStore(path)
	b2 := NewBinder(reopened, []string{"other"})
	got, created, _ := b2.Bind(ctx, "0xabc")
	if created || got != first {
		t.Fatalf("binding must survive restarts, got %q", got)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var entries map[string]string
	if err := json.Unmarshal(raw, &entries); err != nil || len(entries) != 1 {
		t.Fatalf("expected a single binding, got %s (%v)", raw, err)
	}
}
