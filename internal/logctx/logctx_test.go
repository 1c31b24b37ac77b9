package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandlerAddsGroups(t *testing.T) {
	var buf bytes.Buffer
	log := Wrap(slog.New(slog.NewJSONHandler(&buf, nil)))

	ctx := WithRequestData(context.Background(), &RequestData{RequestID: "r1", Method: "GET", Path: "/x"})
	ctx = WithAuthData(ctx, &AuthData{ClientID: "cli", Subject: "sub"})
	log.InfoContext(ctx, "auth.check.ok")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log record: %v", err)
	}
	req, _ := rec["req"].(map[string]any)
	if req["id"] != "r1" || req["path"] != "/x" {
		t.Fatalf("unexpected req group: %v", rec["req"])
	}
	a, _ := rec["auth"].(map[string]any)
	if a["client_id"] != "cli" || a["subject"] != "sub" {
		t.Fatalf("unexpected auth group: %v", rec["auth"])
	}
}

func TestWrapIdempotent(t *testing.T) {
	l := Wrap(nil)
	if Wrap(l) != l {
		t.Fatalf("expected already wrapped logger to be returned as is")
	}
}

func TestMiddlewareRequestID(t *testing.T) {
	var got *RequestData
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = RequestDataFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/whoami", nil))
	if got == nil || got.RequestID == "" || got.Path != "/api/whoami" {
		t.Fatalf("unexpected request data %+v", got)
	}
	if rec.Header().Get("X-Request-Id") != got.RequestID {
		t.Fatalf("response header does not echo request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "fixed")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got.RequestID != "fixed" {
		t.Fatalf("incoming request id not reused: %q", got.RequestID)
	}
}
