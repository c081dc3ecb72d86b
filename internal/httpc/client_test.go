package httpc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte("track bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	t.Run("success", func(t *testing.T) {
		body, err := FetchWith(context.Background(), srv.Client(), srv.URL+"/ok")
		if err != nil {
			t.Fatalf("FetchWith() error = %v", err)
		}
		if string(body) != "track bytes" {
			t.Errorf("body = %q", body)
		}
	})

	t.Run("status error", func(t *testing.T) {
		_, err := FetchWith(context.Background(), srv.Client(), srv.URL+"/missing")
		var se *StatusError
		if !errors.As(err, &se) {
			t.Fatalf("error = %v, want *StatusError", err)
		}
		if se.StatusCode != http.StatusNotFound {
			t.Errorf("StatusCode = %d, want 404", se.StatusCode)
		}
	})

	t.Run("bad url", func(t *testing.T) {
		if _, err := Fetch(context.Background(), "://nope"); err == nil {
			t.Error("Fetch() error = nil, want request error")
		}
	})
}

func TestFetchHonorsContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := FetchWith(ctx, srv.Client(), srv.URL)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("FetchWith() ignored the context deadline")
	}
}

func TestNewClient(t *testing.T) {
	c := NewClient(5 * time.Second)
	if c.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", c.Timeout)
	}
	if _, ok := c.Transport.(*http.Transport); !ok {
		t.Errorf("Transport = %T, want *http.Transport", c.Transport)
	}
}
