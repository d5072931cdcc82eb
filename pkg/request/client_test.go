package request

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"storyforge/pkg/tracker"
)

func TestGet_Sequential(t *testing.T) {
	var conc int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := atomic.AddInt32(&conc, 1)
		defer atomic.AddInt32(&conc, -1)

		// One backend host means one queue
		if current > 1 {
			t.Errorf("Concurrency detected! Expected sequential.")
		}
		time.Sleep(30 * time.Millisecond)
		_, _ = w.Write([]byte("ok"))
	}))
	defer svr.Close()

	client := New(tracker.New(), ClientConfig{})

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := client.Get(context.Background(), svr.URL); err != nil {
				t.Errorf("Get failed: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestGet_Retry(t *testing.T) {
	var attempts int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("success"))
	}))
	defer svr.Close()

	client := New(tracker.New(), ClientConfig{Retries: 2, BaseDelay: 5 * time.Millisecond})

	body, err := client.Get(context.Background(), svr.URL)
	if err != nil {
		t.Fatalf("Expected success after retry, got error: %v", err)
	}
	if string(body) != "success" {
		t.Errorf("Expected 'success', got '%s'", string(body))
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
}

func TestGet_NoRetryByDefault(t *testing.T) {
	var attempts int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		http.Error(w, "model is loading", http.StatusServiceUnavailable)
	}))
	defer svr.Close()

	tr := tracker.New()
	client := New(tr, ClientConfig{})
	client.RegisterBackend("sd", svr.URL)

	_, err := client.Get(context.Background(), svr.URL)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusServiceUnavailable || httpErr.Body != "model is loading" {
		t.Errorf("unexpected error contents: %+v", httpErr)
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("Expected exactly 1 attempt, got %d", got)
	}
	if tr.Snapshot()["sd"].APIFailures != 1 {
		t.Errorf("failure should be tracked under the backend alias: %+v", tr.Snapshot())
	}
}

func TestPostJSON_ClientError(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected json content type, got %q", ct)
		}
		if ua := r.Header.Get("User-Agent"); ua == "" {
			t.Error("expected default user agent")
		}
		b, _ := io.ReadAll(r.Body)
		if string(b) != `{"prompt":"a cat"}` {
			t.Errorf("unexpected body %s", b)
		}
		http.Error(w, "bad sampler", http.StatusUnprocessableEntity)
	}))
	defer svr.Close()

	client := New(tracker.New(), ClientConfig{Retries: 3})
	_, err := client.PostJSON(context.Background(), svr.URL, map[string]string{"prompt": "a cat"})

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 HTTPError without retries, got %v", err)
	}
}

func TestGet_ContextCancelled(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer svr.Close()

	client := New(tracker.New(), ClientConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Get(ctx, svr.URL)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
