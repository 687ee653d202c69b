package stubserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	language "github.com/hanpama/gqlbind/internal/language"
	"github.com/stretchr/testify/require"
)

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestDataByRootField(t *testing.T) {
	h := New()
	h.Set("user", Response{Data: map[string]any{"name": "ada"}})

	w := post(t, h, `{"query":"query($id: String!) { user(id: $id) { name } }","variables":{"id":"1"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"data":{"user":{"name":"ada"}}}`, w.Body.String())

	reqs := h.Requests()
	require.Len(t, reqs, 1)
	require.Equal(t, "user", reqs[0].Field)
	require.Equal(t, language.Query, reqs[0].Operation)
	require.Equal(t, map[string]any{"id": "1"}, reqs[0].Variables)
}

func TestQueuedResponsesLastRepeats(t *testing.T) {
	h := New()
	h.Set("n", Response{Data: 1}, Response{Data: 2})

	for _, want := range []string{`1`, `2`, `2`} {
		w := post(t, h, `{"query":"{ n }"}`)
		require.JSONEq(t, `{"data":{"n":`+want+`}}`, w.Body.String())
	}
}

func TestErrorsAndStatus(t *testing.T) {
	h := New()
	h.Set("user", Response{
		Status: http.StatusForbidden,
		Errors: []*language.Error{{Message: "denied"}},
		Header: http.Header{"X-Trace": {"abc"}},
	})
	w := post(t, h, `{"query":"{ user { name } }"}`)
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "abc", w.Header().Get("X-Trace"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Nil(t, body["data"])
	require.Len(t, body["errors"], 1)
}

func TestRawBody(t *testing.T) {
	h := New()
	h.Set("user", Response{Body: []byte("<html>")})
	w := post(t, h, `{"query":"{ user { name } }"}`)
	require.Equal(t, "<html>", w.Body.String())
}

func TestUnknownField(t *testing.T) {
	h := New()
	w := post(t, h, `{"query":"{ nope }"}`)
	require.Contains(t, w.Body.String(), "no stub for field nope")
}

func TestBadRequests(t *testing.T) {
	h := New()
	require.Equal(t, http.StatusBadRequest, post(t, h, `{`).Code)
	require.Equal(t, http.StatusBadRequest, post(t, h, `{"query":""}`).Code)
	require.Contains(t, post(t, h, `{"query":"{ a"}`).Body.String(), "errors")

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestDelayStopsOnCancel(t *testing.T) {
	h := New()
	h.Set("slow", Response{Data: 1, Delay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("POST", "/", bytes.NewBufferString(`{"query":"{ slow }"}`)).WithContext(ctx)
	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		h.ServeHTTP(w, req)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not return after cancel")
	}
}

func TestCORSAndPreflight(t *testing.T) {
	h := New(WithCORS("*"))
	h.Set("hello", Response{Data: "world"})

	req := httptest.NewRequest("POST", "/", bytes.NewBufferString(`{"query":"{ hello }"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}

	pre := httptest.NewRequest("OPTIONS", "/", nil)
	pre.Header.Set("Origin", "http://example.com")
	pre.Header.Set("Access-Control-Request-Headers", "X-Test")
	pw := httptest.NewRecorder()
	h.ServeHTTP(pw, pre)
	if pw.Code != http.StatusNoContent {
		t.Fatalf("preflight status %d", pw.Code)
	}
	if pw.Header().Get("Access-Control-Allow-Headers") != "X-Test" {
		t.Fatalf("preflight missing allow headers")
	}
}

func TestMaxBodyBytes(t *testing.T) {
	h := New(WithMaxBodyBytes(10))
	w := post(t, h, `{"query":"1234567890"}`)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 got %d", w.Code)
	}
}
