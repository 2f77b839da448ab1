package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestStatic(t *testing.T) {
	ep, err := Static{URL: "https://api.x.ink/v1", Message: "hi"}.Discover(context.Background())
	if err != nil || ep.URL != "https://api.x.ink/v1" || ep.Message != "hi" {
		t.Fatalf("unexpected endpoint %+v, err %v", ep, err)
	}
	if _, err := (Static{}).Discover(context.Background()); err == nil {
		t.Fatalf("empty static endpoint should fail")
	}
}

func TestHTTPDiscover(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/plain":
			_, _ = w.Write([]byte(`{"endpoint":"https://api.x.ink/v1/","message":"update available"}`))
		case "/wrapped":
			_, _ = w.Write([]byte(`{"data":{"endpoint":"https://api.x.ink/v2"}}`))
		case "/empty":
			_, _ = w.Write([]byte(`{"message":"maintenance"}`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	ep, err := NewHTTP(srv.URL+"/plain", time.Second).Discover(context.Background())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if ep.URL != "https://api.x.ink/v1" || ep.Message != "update available" {
		t.Fatalf("unexpected endpoint %+v", ep)
	}

	ep, err = NewHTTP(srv.URL+"/wrapped", time.Second).Discover(context.Background())
	if err != nil || ep.URL != "https://api.x.ink/v2" {
		t.Fatalf("wrapped endpoint: %+v, %v", ep, err)
	}

	if _, err := NewHTTP(srv.URL+"/empty", time.Second).Discover(context.Background()); err == nil {
		t.Fatalf("missing endpoint should fail")
	}
}
