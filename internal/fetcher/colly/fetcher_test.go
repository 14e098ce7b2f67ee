package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
)

func TestFetcherBuildCollector(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "coverage-agent", Timeout: time.Second, MaxBodySize: 0})
	collector := f.buildCollector(&fetchResult{}, new(error))
	if collector.UserAgent != "coverage-agent" {
		t.Fatalf("expected user agent override, got %q", collector.UserAgent)
	}
	if !collector.IgnoreRobotsTxt {
		t.Fatal("expected robots txt to be ignored for media downloads")
	}
	if collector.MaxBodySize != 0 {
		t.Fatalf("expected unlimited body size, got %d", collector.MaxBodySize)
	}
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{Headers: http.Header{"Authorization": {"Bearer token"}}})
	var (
		result   fetchResult
		fetchErr error
	)

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, &result, &fetchErr)
	if hooks.onRequest == nil || hooks.onResponse == nil || hooks.onError == nil {
		t.Fatal("expected hooks to be registered")
	}

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	if collyReq.Headers.Get("Authorization") != "Bearer token" {
		t.Fatalf("expected header propagation, got %+v", collyReq.Headers)
	}

	hooks.onResponse(&colly.Response{StatusCode: http.StatusOK, Body: []byte("body")})
	if result.status != http.StatusOK || string(result.body) != "body" {
		t.Fatalf("unexpected result: %+v", result)
	}

	hooks.onError(&colly.Response{StatusCode: http.StatusNotFound}, errors.New("Not Found"))
	if fetchErr == nil || fetchErr.Error() != "status 404: Not Found" {
		t.Fatalf("expected fetchErr set, got %v", fetchErr)
	}
}

func TestFetchDownloadsBodyAndRevisits(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("media-bytes"))
	}))
	t.Cleanup(srv.Close)

	limiter := &countingLimiter{}
	f := New(Config{Timeout: 5 * time.Second, Limiter: limiter})
	for i := 0; i < 2; i++ {
		body, err := f.Fetch(context.Background(), srv.URL+"/a.jpg")
		if err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
		if string(body) != "media-bytes" {
			t.Fatalf("unexpected body %q", body)
		}
	}
	if limiter.calls != 2 {
		t.Fatalf("expected limiter to be consulted twice, got %d", limiter.calls)
	}
	if _, err := f.Fetch(context.Background(), srv.URL+"/missing"); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestFetchHonorsLimiterError(t *testing.T) {
	t.Parallel()

	f := New(Config{Limiter: &countingLimiter{err: context.Canceled}})
	if _, err := f.Fetch(context.Background(), "http://127.0.0.1:1/"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected limiter error, got %v", err)
	}
}

type countingLimiter struct {
	calls int
	err   error
}

func (l *countingLimiter) Wait(context.Context, string) error {
	l.calls++
	return l.err
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
