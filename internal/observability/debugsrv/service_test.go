package debugsrv

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	logx "schedkit/pkg/logx"
)

func get(t *testing.T, h http.Handler, target string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerEndpoints(t *testing.T) {
	t.Parallel()
	var gotLimit int
	s := New(Config{}, Sources{
		Status: func() any { return map[string]int{"live": 3} },
		Runs: func(_ context.Context, limit int) (any, error) {
			gotLimit = limit
			return []string{"a"}, nil
		},
	}, logx.Nop())
	h := s.Handler()

	if rec := get(t, h, "/healthz", nil); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
	if rec := get(t, h, "/status", nil); !strings.Contains(rec.Body.String(), `"live": 3`) {
		t.Fatalf("status body = %q", rec.Body.String())
	}
	if rec := get(t, h, "/runs?limit=7", nil); rec.Code != http.StatusOK || gotLimit != 7 {
		t.Fatalf("runs = %d, limit %d", rec.Code, gotLimit)
	}
	get(t, h, "/runs", nil)
	if gotLimit != 50 {
		t.Fatalf("default limit = %d, want 50", gotLimit)
	}
	if rec := get(t, h, "/debug/pprof/", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof without opt-in = %d, want 404", rec.Code)
	}
}

func TestHandlerRunsError(t *testing.T) {
	t.Parallel()
	s := New(Config{}, Sources{
		Runs: func(context.Context, int) (any, error) { return nil, errors.New("store closed") },
	}, logx.Nop())
	h := s.Handler()
	if rec := get(t, h, "/runs", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("runs = %d, want 503", rec.Code)
	}
	if rec := get(t, h, "/status", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("status without source = %d, want 404", rec.Code)
	}
}

func TestHandlerAuth(t *testing.T) {
	t.Parallel()
	s := New(Config{Token: "s3cret", Pprof: true}, Sources{}, logx.Nop())
	h := s.Handler()

	if rec := get(t, h, "/healthz", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d, want 401", rec.Code)
	}
	if rec := get(t, h, "/healthz?token=nope", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token = %d, want 401", rec.Code)
	}
	if rec := get(t, h, "/healthz?token=s3cret", nil); rec.Code != http.StatusOK {
		t.Fatalf("query token = %d, want 200", rec.Code)
	}
	if rec := get(t, h, "/debug/pprof/", map[string]string{"Authorization": "Bearer s3cret"}); rec.Code != http.StatusOK {
		t.Fatalf("bearer pprof = %d, want 200", rec.Code)
	}
}

func TestStartStopListener(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Sources{}, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	s.Start(ctx)
	s.Reconfigure(ctx, Config{Enabled: false})
	s.mu.Lock()
	running := s.sup != nil
	s.mu.Unlock()
	if running {
		t.Fatal("listener still running after disable")
	}
}
