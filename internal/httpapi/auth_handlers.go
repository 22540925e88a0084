package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"lidar.app/internal/auth"
)

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	session, err := a.svc.Register(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	a.setRefreshCookie(w, session.Tokens.RefreshToken)
	writeJSON(w, http.StatusCreated, session.Tokens)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.Credentials
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	session, err := a.svc.Login(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	a.setRefreshCookie(w, session.Tokens.RefreshToken)
	writeJSON(w, http.StatusOK, session.Tokens)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token, err := a.refreshTokenFrom(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	session, err := a.svc.Refresh(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrInactiveToken) {
			a.clearRefreshCookie(w)
		}
		respondError(w, r, err)
		return
	}
	a.setRefreshCookie(w, session.Tokens.RefreshToken)
	writeJSON(w, http.StatusOK, session.Tokens)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, err := a.refreshTokenFrom(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	principal, _ := auth.PrincipalFromContext(r.Context())
	a.clearRefreshCookie(w)
	if _, err := a.svc.Logout(r.Context(), principal, token); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// refreshTokenFrom reads the token from the JSON body, falling back to the
// refresh cookie when the body is empty or omits it.
func (a *API) refreshTokenFrom(r *http.Request) (string, error) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		return "", err
	}
	if token := strings.TrimSpace(req.RefreshToken); token != "" {
		return token, nil
	}
	if c, err := r.Cookie(a.cookie.Name); err == nil && strings.TrimSpace(c.Value) != "" {
		return strings.TrimSpace(c.Value), nil
	}
	return "", errors.New("refreshToken is required")
}

func (a *API) setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookie.Name,
		Value:    token,
		Path:     "/v1/auth",
		Expires:  time.Now().Add(a.cookie.TTL).UTC(),
		MaxAge:   int(a.cookie.TTL / time.Second),
		HttpOnly: true,
		Secure:   a.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (a *API) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookie.Name,
		Value:    "",
		Path:     "/v1/auth",
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}
