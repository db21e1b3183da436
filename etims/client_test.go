package etims

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type staticRoutes map[string]string

func (r staticRoutes) Resolve(ctx context.Context, routeKey string) (string, error) {
	path, ok := r[routeKey]
	if !ok {
		return "", &ConfigurationError{Detail: "route " + routeKey + " not configured"}
	}
	return path, nil
}

type fakeTokens struct {
	current   atomic.Value
	refreshes int32
}

func newFakeTokens(initial string) *fakeTokens {
	f := &fakeTokens{}
	f.current.Store(initial)
	return f
}

func (f *fakeTokens) Token(ctx context.Context) (string, error) {
	return f.current.Load().(string), nil
}

func (f *fakeTokens) Refresh(ctx context.Context) (string, error) {
	atomic.AddInt32(&f.refreshes, 1)
	f.current.Store("refreshed-token")
	return "refreshed-token", nil
}

func newTestExecutor(serverURL string, routes staticRoutes, tokens TokenSource) *Executor {
	return &Executor{
		baseURL: strings.TrimRight(serverURL, "/"),
		tokens:  tokens,
		routes:  routes,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

func TestProcessDynamicURL(t *testing.T) {
	payload := map[string]interface{}{"id": "abc-123", "other": "kept"}
	path, err := processDynamicURL("/api/things/{id}/transition/", payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "/api/things/abc-123/transition/" {
		t.Fatalf("path = %q", path)
	}
	if _, exists := payload["id"]; exists {
		t.Fatal("consumed placeholder key still present in payload")
	}
	if payload["other"] != "kept" {
		t.Fatal("unrelated payload key was dropped")
	}
}

// A missing placeholder value is a configuration error and the request
// must never reach the network.
func TestExecute_MissingPlaceholderFailsBeforeHTTP(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer server.Close()

	exec := newTestExecutor(server.URL, staticRoutes{
		"TransitionReq": "/api/things/{id}/transition/",
	}, newFakeTokens("t1"))

	_, err := exec.Execute(context.Background(), RequestSpec{
		RouteKey: "TransitionReq",
		Method:   http.MethodPatch,
		Payload:  map[string]interface{}{"workflow_state": "processed"},
	})

	var confErr *ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatalf("request reached the server %d times", hits)
	}
}

func TestExecute_PatchMovesIdIntoURL(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"0e4a5fbe-20c2-47a9-b543-a2bdfad6b2b7"}`))
	}))
	defer server.Close()

	exec := newTestExecutor(server.URL, staticRoutes{
		"SalesTransitionReq": "/api/sales/",
	}, newFakeTokens("t1"))

	_, err := exec.Execute(context.Background(), RequestSpec{
		RouteKey: "SalesTransitionReq",
		Method:   http.MethodPatch,
		Payload: map[string]interface{}{
			"id":             "abc-123",
			"workflow_state": "processed",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/api/sales/abc-123/" {
		t.Fatalf("path = %q, want /api/sales/abc-123/", gotPath)
	}
	if _, exists := gotBody["id"]; exists {
		t.Fatal("id still present in patch body")
	}
	if gotBody["workflow_state"] != "processed" {
		t.Fatalf("body = %v", gotBody)
	}
}

// Transition and sign routes carry an {id} placeholder. The id must fill
// the placeholder, not be required a second time or appended again.
func TestExecute_PatchFillsPlaceholderRoute(t *testing.T) {
	var hits int32
	var gotPath string
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"0e4a5fbe-20c2-47a9-b543-a2bdfad6b2b7"}`))
	}))
	defer server.Close()

	exec := newTestExecutor(server.URL, staticRoutes{
		"SalesTransitionReq": "/api/sales/sales-invoices/{id}/transition/",
	}, newFakeTokens("t1"))

	_, err := exec.Execute(context.Background(), RequestSpec{
		RouteKey: "SalesTransitionReq",
		Method:   http.MethodPatch,
		Payload: map[string]interface{}{
			"id":             "abc-123",
			"workflow_state": "processed",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("server saw %d calls, want 1", hits)
	}
	if gotPath != "/api/sales/sales-invoices/abc-123/transition/" {
		t.Fatalf("path = %q, want /api/sales/sales-invoices/abc-123/transition/", gotPath)
	}
	if _, exists := gotBody["id"]; exists {
		t.Fatal("id still present in patch body")
	}
	if gotBody["workflow_state"] != "processed" {
		t.Fatalf("body = %v", gotBody)
	}
}

func TestExecute_GetForcesPageSize(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"count":0,"results":[]}`))
	}))
	defer server.Close()

	exec := newTestExecutor(server.URL, staticRoutes{
		"ItemSearchReq": "/api/inventory/products/",
	}, newFakeTokens("t1"))

	_, err := exec.Execute(context.Background(), RequestSpec{
		RouteKey: "ItemSearchReq",
		Method:   http.MethodGet,
		Payload:  map[string]interface{}{"code": "SKU-1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(gotQuery, "page_size=15000") {
		t.Fatalf("query %q does not force page_size", gotQuery)
	}
	if !strings.Contains(gotQuery, "code=SKU-1") {
		t.Fatalf("query %q lost payload params", gotQuery)
	}
}

// A 401 triggers exactly one token refresh and one retry. A second 401
// surfaces as an authentication failure instead of looping.
func TestExecute_UnauthorizedRetriesOnce(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer refreshed-token" {
			t.Errorf("retry used token %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"0e4a5fbe-20c2-47a9-b543-a2bdfad6b2b7"}`))
	}))
	defer server.Close()

	tokens := newFakeTokens("stale")
	exec := newTestExecutor(server.URL, staticRoutes{
		"ItemSaveReq": "/api/inventory/products/",
	}, tokens)

	resp, err := exec.Execute(context.Background(), RequestSpec{
		RouteKey: "ItemSaveReq",
		Method:   http.MethodPost,
		Payload:  map[string]interface{}{"code": "SKU-1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.ID() != "0e4a5fbe-20c2-47a9-b543-a2bdfad6b2b7" {
		t.Fatalf("id = %q", resp.ID())
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("server saw %d calls, want 2", calls)
	}
	if atomic.LoadInt32(&tokens.refreshes) != 1 {
		t.Fatalf("refreshes = %d, want 1", tokens.refreshes)
	}
}

func TestExecute_DoubleUnauthorizedFails(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	tokens := newFakeTokens("stale")
	exec := newTestExecutor(server.URL, staticRoutes{
		"ItemSaveReq": "/api/inventory/products/",
	}, tokens)

	_, err := exec.Execute(context.Background(), RequestSpec{
		RouteKey: "ItemSaveReq",
		Method:   http.MethodPost,
		Payload:  map[string]interface{}{},
	})

	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthenticationError, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("server saw %d calls, want exactly 2", calls)
	}
	if atomic.LoadInt32(&tokens.refreshes) != 1 {
		t.Fatalf("refreshes = %d, want exactly 1", tokens.refreshes)
	}
}

func TestExecute_ContentTypeParsing(t *testing.T) {
	cases := []struct {
		name        string
		contentType string
		body        string
		check       func(t *testing.T, resp *Response)
	}{
		{
			name:        "json becomes structured data",
			contentType: "application/json",
			body:        `{"id":"x","count":2}`,
			check: func(t *testing.T, resp *Response) {
				if resp.Data == nil || resp.Data["id"] != "x" {
					t.Fatalf("data = %v", resp.Data)
				}
			},
		},
		{
			name:        "html becomes trimmed text",
			contentType: "text/html",
			body:        "  <html>maintenance</html>\n",
			check: func(t *testing.T, resp *Response) {
				if resp.Text != "<html>maintenance</html>" {
					t.Fatalf("text = %q", resp.Text)
				}
				if resp.Data != nil {
					t.Fatal("html response produced structured data")
				}
			},
		},
		{
			name:        "pdf becomes raw bytes",
			contentType: "application/pdf",
			body:        "%PDF-1.4 fake",
			check: func(t *testing.T, resp *Response) {
				if string(resp.Raw) != "%PDF-1.4 fake" {
					t.Fatalf("raw = %q", resp.Raw)
				}
			},
		},
		{
			name:        "unknown type carries no body",
			contentType: "application/x-whatever",
			body:        "ignored",
			check: func(t *testing.T, resp *Response) {
				if resp.Data != nil || resp.Text != "" || resp.Raw != nil {
					t.Fatal("unknown content type produced a body")
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tc.contentType)
				w.Write([]byte(tc.body))
			}))
			defer server.Close()

			exec := newTestExecutor(server.URL, staticRoutes{
				"AnyReq": "/api/any/",
			}, newFakeTokens("t1"))

			resp, err := exec.Execute(context.Background(), RequestSpec{
				RouteKey: "AnyReq",
				Method:   http.MethodPost,
				Payload:  map[string]interface{}{},
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tc.check(t, resp)
		})
	}
}

func TestExecute_RemoteRejectionDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"product is required"}`))
	}))
	defer server.Close()

	exec := newTestExecutor(server.URL, staticRoutes{
		"AnyReq": "/api/any/",
	}, newFakeTokens("t1"))

	_, err := exec.Execute(context.Background(), RequestSpec{
		RouteKey: "AnyReq",
		Method:   http.MethodPost,
		Payload:  map[string]interface{}{},
	})

	var rejection *RemoteRejection
	if !errors.As(err, &rejection) {
		t.Fatalf("expected RemoteRejection, got %v", err)
	}
	if rejection.Detail != "product is required" {
		t.Fatalf("detail = %q", rejection.Detail)
	}
	if rejection.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", rejection.StatusCode)
	}
}

func TestExtractErrorDetail(t *testing.T) {
	cases := []struct {
		body string
		want string
	}{
		{`{"error":"boom"}`, "boom"},
		{`{"detail":"not found"}`, "not found"},
		{`{"other":"field"}`, `{"other":"field"}`},
		{`plain text failure`, "plain text failure"},
		{``, ""},
	}
	for _, tc := range cases {
		if got := extractErrorDetail([]byte(tc.body)); got != tc.want {
			t.Errorf("extractErrorDetail(%q) = %q, want %q", tc.body, got, tc.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(&TransientNetworkError{Err: errors.New("timeout")}) {
		t.Error("network errors must be retryable")
	}
	if !IsRetryable(&RemoteRejection{StatusCode: 503}) {
		t.Error("5xx rejections must be retryable")
	}
	if IsRetryable(&RemoteRejection{StatusCode: 400}) {
		t.Error("4xx rejections must not be retryable")
	}
	if IsRetryable(&ConfigurationError{Detail: "x"}) {
		t.Error("configuration errors must not be retryable")
	}
	if IsRetryable(&DataValidationError{Detail: "x"}) {
		t.Error("validation errors must not be retryable")
	}
}
