package adprovider_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/devi-sudo/zbox/internal/adprovider"
	"github.com/devi-sudo/zbox/internal/domain"
)

func newClient(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *adprovider.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return adprovider.NewClient("unused.example", "api-key", timeout, slog.New(slog.DiscardHandler)).
		WithBaseURL(srv.URL)
}

func TestShorten_Success(t *testing.T) {
	var gotPath, gotAPI, gotURL string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAPI = r.URL.Query().Get("api")
		gotURL = r.URL.Query().Get("url")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","shortenedUrl":"https://earnl.ink/abc"}`))
	}, time.Second)

	long := "https://t.me/zbox_bot?start=t1-42-abc&x=1"
	short, err := c.Shorten(context.Background(), long)
	if err != nil {
		t.Fatalf("Shorten: %v", err)
	}

	if short != "https://earnl.ink/abc" {
		t.Errorf("short = %q", short)
	}
	if gotPath != "/api" || gotAPI != "api-key" || gotURL != long {
		t.Errorf("request = (%q, api=%q, url=%q)", gotPath, gotAPI, gotURL)
	}
}

func TestShorten_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}},
		{"error status", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"status":"error","message":"invalid api key"}`))
		}},
		{"missing url", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"status":"success"}`))
		}},
		{"not json", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`<html>maintenance</html>`))
		}},
		{"slow", func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := newClient(t, tc.handler, 200*time.Millisecond)

			_, err := c.Shorten(context.Background(), "https://example.com")
			if !errors.Is(err, domain.ErrUpstreamUnavailable) {
				t.Errorf("err = %v, want ErrUpstreamUnavailable", err)
			}
		})
	}
}
