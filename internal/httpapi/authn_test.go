package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"lidar.app/internal/auth"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireRoleAllowsMatchingRole(t *testing.T) {
	handler := RequireRole(auth.RoleSystemAdmin)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	req = req.WithContext(auth.ContextWithPrincipal(req.Context(), auth.Principal{UserID: "user-1", Roles: []string{"systemadmin"}}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRequireRoleRejectsMissingRole(t *testing.T) {
	handler := RequireRole(auth.RoleSystemAdmin)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	req = req.WithContext(auth.ContextWithPrincipal(req.Context(), auth.Principal{UserID: "user-1", Roles: []string{auth.RoleReadOnly}}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got == "" {
		t.Fatalf("expected WWW-Authenticate header set")
	}
}

func TestRequireRoleRejectsMissingUser(t *testing.T) {
	handler := RequireRole(auth.RoleSystemAdmin)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got == "" {
		t.Fatalf("expected WWW-Authenticate header set")
	}
}

func TestRequirePermission(t *testing.T) {
	handler := requirePermission(auth.PermUsersManage)(okHandler())

	granted := auth.Principal{UserID: "u1"}.WithPermissions([]string{auth.PermUsersManage})
	req := httptest.NewRequest(http.MethodPost, "/v1/users", nil)
	req = req.WithContext(auth.ContextWithPrincipal(req.Context(), granted))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	// No tenant claim resolves to the empty scope and no permissions.
	bare := auth.Principal{UserID: "u2", Roles: []string{auth.RoleTenantAdmin}}
	req = httptest.NewRequest(http.MethodPost, "/v1/users", nil)
	req = req.WithContext(auth.ContextWithPrincipal(req.Context(), bare))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := map[string]bool{
		"Bearer abc": true,
		"bearer abc": true,
		"Basic abc":  false,
		"Bearer   ":  false,
		"":           false,
	}
	for header, ok := range cases {
		_, err := extractBearerToken(header)
		if (err == nil) != ok {
			t.Fatalf("header %q: unexpected result %v", header, err)
		}
	}
}

func TestRequireSystemTenant(t *testing.T) {
	cases := []struct {
		name      string
		principal *auth.Principal
		want      int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"tenant user with system role", &auth.Principal{UserID: "u1", TenantID: "01ARZ3NDEKTSV4RRFFQ69G5FAV", Roles: []string{auth.RoleSystemAdmin}}, http.StatusForbidden},
		{"system tenant without role", &auth.Principal{UserID: "u2", TenantID: auth.SystemTenantID, Roles: []string{auth.RoleReadOnly}}, http.StatusForbidden},
		{"system admin", &auth.Principal{UserID: "u3", TenantID: auth.SystemTenantID, Roles: []string{auth.RoleSystemAdmin}}, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/admin/tenants", nil)
			if tc.principal != nil {
				req = req.WithContext(auth.ContextWithPrincipal(req.Context(), *tc.principal))
			}
			rr := httptest.NewRecorder()
			requireSystemTenant(okHandler()).ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
		})
	}
}
