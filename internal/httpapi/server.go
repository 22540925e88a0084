package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"lidar.app/internal/auth"
	"lidar.app/internal/obs"
	"lidar.app/internal/stream"
)

const serviceName = "lidar-api"

// Pinger is satisfied by stores backed by a database connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks readiness, for example by pinging the database.
type ReadyProbe struct {
	DB Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.Ping(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// CookieConfig describes the refresh token cookie.
type CookieConfig struct {
	Name   string
	TTL    time.Duration
	Secure bool
}

// Options configures the HTTP layer.
type Options struct {
	Version        string
	Commit         string
	Stream         *stream.Stream
	Limiter        Limiter
	Cookie         CookieConfig
	AllowedOrigins []string
	MaxBodyBytes   int64
}

// API is the HTTP layer over the auth service.
type API struct {
	svc        *auth.Service
	readyProbe readinessChecker
	stream     *stream.Stream
	limiter    Limiter
	cookie     CookieConfig
	origins    []string
	maxBody    int64
	version    string
	commit     string
	router     chi.Router
}

func New(svc *auth.Service, rp readinessChecker, opts Options) *API {
	if rp == nil {
		rp = ReadyProbe{}
	}
	a := &API{
		svc:        svc,
		readyProbe: rp,
		stream:     opts.Stream,
		limiter:    opts.Limiter,
		cookie:     opts.Cookie,
		origins:    opts.AllowedOrigins,
		maxBody:    opts.MaxBodyBytes,
		version:    opts.Version,
		commit:     opts.Commit,
	}
	if a.cookie.Name == "" {
		a.cookie.Name = "refresh_token"
	}
	if a.cookie.TTL <= 0 {
		a.cookie.TTL = 14 * 24 * time.Hour
	}
	if a.maxBody <= 0 {
		a.maxBody = 1 << 20
	}
	a.router = a.routes()
	return a
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID, LoggingJSON, SecurityHeaders, CORS(a.origins), obs.Instrument)

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler { return MaxBodyBytes(next, a.maxBody) })

		r.Group(func(r chi.Router) {
			if a.limiter != nil {
				r.Use(RateLimit(a.limiter))
			}
			r.Post("/auth/register", a.handleRegister)
			r.Post("/auth/login", a.handleLogin)
			r.Post("/auth/refresh", a.handleRefresh)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.withAuth)

			r.Post("/auth/logout", a.handleLogout)
			r.Get("/roles", a.handleListRoles)

			r.With(requirePermission(auth.PermTenantRead)).Get("/tenants/me", a.handleCurrentTenant)
			r.Route("/users", func(r chi.Router) {
				r.With(requirePermission(auth.PermUsersRead)).Get("/", a.handleListUsers)
				r.With(requirePermission(auth.PermUsersRead)).Get("/{id}", a.handleGetUser)
				r.Group(func(r chi.Router) {
					r.Use(requirePermission(auth.PermUsersManage))
					r.Post("/", a.handleCreateUser)
					r.Patch("/{id}", a.handleUpdateUser)
					r.Post("/{id}/deactivate", a.handleDeactivateUser)
				})
			})
			r.With(requirePermission(auth.PermAuditRead)).Get("/audit", a.handleListAudit)
			r.With(requirePermission(auth.PermAuditRead)).Get("/audit/stream", a.Stream)

			r.Route("/admin/tenants", func(r chi.Router) {
				r.Use(RequireRole(auth.RoleSystemAdmin), requireSystemTenant, requirePermission(auth.PermTenantsManage))
				r.Get("/", a.handleListTenants)
				r.Post("/{id}/activate", a.handleSetTenantActive)
				r.Delete("/{id}", a.handleDeleteTenant)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Handler returns the root http.Handler.
func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
		"commit":  a.commit,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := obs.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

var errEmptyBody = errors.New("request body is required")

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// respondError maps service errors onto status codes. Credential and token
// failures share one generic body.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *auth.ValidationError
	switch {
	case errors.As(err, &verr):
		payload := map[string]any{
			"error":  "validation failed",
			"fields": verr.Fields,
		}
		if rid := obs.RequestIDFromContext(r.Context()); rid != "" {
			payload["request_id"] = rid
		}
		writeJSON(w, http.StatusBadRequest, payload)
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInactiveToken),
		errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials or token")
	case errors.Is(err, auth.ErrValidation):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrMissingTenantContext), errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, "resource already exists")
	default:
		obs.Error("request_failed", map[string]any{
			"request_id": obs.RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
			"err":        err,
		})
		writeError(w, r, http.StatusInternalServerError, "unexpected failure")
	}
}
