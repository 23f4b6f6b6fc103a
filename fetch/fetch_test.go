package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestGetAppendsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ip") != "140.125.1.1" || r.URL.Query().Get("x") != "1" {
			t.Errorf("query = %q", r.URL.RawQuery)
		}
		if ua := r.Header.Get("User-Agent"); ua != DefaultUserAgent {
			t.Errorf("user agent = %q", ua)
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New(Config{})
	body, err := f.Get(context.Background(), srv.URL+"/?x=1", url.Values{"ip": {"140.125.1.1"}})
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "ok" {
		t.Fatalf("body = %q", body)
	}
}

func TestPostFormSendsReferer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("content type = %q", ct)
		}
		if ref := r.Header.Get("Referer"); ref != "https://portal/query" {
			t.Errorf("referer = %q", ref)
		}
		r.ParseForm()
		w.Write([]byte(r.PostForm.Get("__VIEWSTATE")))
	}))
	defer srv.Close()

	body, err := New(Config{}).PostForm(context.Background(), srv.URL, url.Values{"__VIEWSTATE": {"abc"}}, "https://portal/query")
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "abc" {
		t.Fatalf("body = %q", body)
	}
}

func TestPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		io.Copy(w, r.Body)
	}))
	defer srv.Close()

	body, err := New(Config{}).PostJSON(context.Background(), srv.URL, []byte(`{"a":1}`))
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != `{"a":1}` {
		t.Fatalf("body = %q", body)
	}
}

func TestStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(Config{}).Get(context.Background(), srv.URL, nil)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusServiceUnavailable {
		t.Fatalf("err = %v", err)
	}
}

func TestMaxBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("a", 100)))
	}))
	defer srv.Close()

	body, err := New(Config{MaxBytes: 10}).Get(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(body) != 10 {
		t.Fatalf("len = %d, want 10", len(body))
	}
}

func TestTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	if _, err := New(Config{Timeout: 50 * time.Millisecond}).Get(context.Background(), srv.URL, nil); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Config{}).Get(ctx, srv.URL, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestCleanText(t *testing.T) {
	got := CleanText("<td> 10.5&nbsp;GB\n<b>total</b> </td>")
	if got != "10.5 GB total" {
		t.Fatalf("CleanText = %q", got)
	}
}

func TestMarkdownKeepsLinks(t *testing.T) {
	got := Markdown(`<p>Due <a href="https://example.com/x">here</a><script>alert(1)</script></p>`, "")
	if !strings.Contains(got, "[here](https://example.com/x)") {
		t.Fatalf("Markdown = %q", got)
	}
	if strings.Contains(got, "alert") {
		t.Fatalf("script survived: %q", got)
	}
}

func TestBrowserCloseWithoutLaunch(t *testing.T) {
	b := NewBrowser(BrowserConfig{})
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := b.SubmitForm(context.Background(), "about:blank", nil, "#go"); err == nil {
		t.Fatal("SubmitForm after Close should fail")
	}
}
