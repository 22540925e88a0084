package obs

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", "/"},
		{"/metrics", "/metrics"},
		{"/v1/users/01ARZ3NDEKTSV4RRFFQ69G5FAV", "/v1/users/:id"},
		{"/v1/users/01ARZ3NDEKTSV4RRFFQ69G5FAV/deactivate", "/v1/users/:id/deactivate"},
		{"/v1/admin/tenants/01ARZ3NDEKTSV4RRFFQ69G5FAV/activate?active=false", "/v1/admin/tenants/:id/activate"},
		{"/v1/users/not-an-id", "/v1/users/not-an-id"},
		{"/v1/auth/login", "/v1/auth/login"},
	}
	for _, tc := range cases {
		if got := CanonicalPath(tc.in); got != tc.want {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestInitBuildInfoReplacesLabels(t *testing.T) {
	InitBuildInfo("1.2.0", "")
	InitBuildInfo("1.3.0", "abc123")
	if n := testutil.CollectAndCount(buildInfo); n != 1 {
		t.Fatalf("expected a single build_info series, got %d", n)
	}
	if v := testutil.ToFloat64(buildInfo.WithLabelValues("1.3.0", "abc123", runtime.Version())); v != 1 {
		t.Fatalf("expected build_info=1, got %v", v)
	}
}

func TestInstrumentUsesRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Instrument)
	r.Get("/v1/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/users/{id}", "202"))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/users/abc", nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/users/{id}", "202"))
	if after-before != 1 {
		t.Fatalf("expected counter to increase by 1, got %v", after-before)
	}
}

func TestAuthCounters(t *testing.T) {
	before := testutil.ToFloat64(refreshRevocations.WithLabelValues("cascade"))
	RefreshRevoked("cascade", 3)
	RefreshRevoked("cascade", 0)
	if got := testutil.ToFloat64(refreshRevocations.WithLabelValues("cascade")) - before; got != 3 {
		t.Fatalf("expected 3 revocations, got %v", got)
	}
}

func TestLogWritesJSONLine(t *testing.T) {
	logger := Logger()
	original := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	Warn("refresh_replay", map[string]any{"msg": "ignored", "err": errors.New("boom"), "tenant_id": "t-1"})

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("log is not valid JSON: %v", err)
	}
	if entry["level"] != "warn" || entry["msg"] != "refresh_replay" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["err"] != "boom" || entry["tenant_id"] != "t-1" {
		t.Fatalf("fields not preserved: %v", entry)
	}
}
