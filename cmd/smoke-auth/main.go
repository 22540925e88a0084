package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"lidar.app/internal/auth"
)

type client struct {
	base string
	http *http.Client
}

func (c *client) post(path string, body any, bearer string) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return c.http.Do(req)
}

func (c *client) tokens(path string, body any, want int) auth.TokenPair {
	resp, err := c.post(path, body, "")
	if err != nil {
		log.Fatalf("%s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		log.Fatalf("%s: expected %d, got %d", path, want, resp.StatusCode)
	}
	var pair auth.TokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		log.Fatalf("%s: decode: %v", path, err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		log.Fatalf("%s: empty token pair", path)
	}
	return pair
}

func (c *client) expect(path string, body any, bearer string, want int) {
	resp, err := c.post(path, body, bearer)
	if err != nil {
		log.Fatalf("%s: %v", path, err)
	}
	resp.Body.Close()
	if resp.StatusCode != want {
		log.Fatalf("%s: expected %d, got %d", path, want, resp.StatusCode)
	}
}

func main() {
	base := os.Getenv("LIDAR_SMOKE_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	c := &client{base: strings.TrimRight(base, "/"), http: &http.Client{Timeout: 10 * time.Second}}

	suffix := strings.ToUpper(uuid.NewString()[:8])
	email := fmt.Sprintf("smoke-%s@lidar.example", strings.ToLower(suffix))
	password := "Smoke$Test-" + suffix + "a1"

	c.tokens("/v1/auth/register", auth.RegisterRequest{
		TenantName:         "Smoke SACCO " + suffix,
		RegistrationNumber: "SMOKE-" + suffix,
		Email:              email,
		Password:           password,
		DisplayName:        "Smoke",
	}, http.StatusCreated)

	login := c.tokens("/v1/auth/login", auth.Credentials{Email: email, Password: password}, http.StatusOK)
	refreshed := c.tokens("/v1/auth/refresh", map[string]string{"refreshToken": login.RefreshToken}, http.StatusOK)

	// Replaying the rotated token must fail.
	c.expect("/v1/auth/refresh", map[string]string{"refreshToken": login.RefreshToken}, "", http.StatusUnauthorized)

	c.expect("/v1/auth/logout", map[string]string{"refreshToken": refreshed.RefreshToken}, refreshed.AccessToken, http.StatusNoContent)
	c.expect("/v1/auth/refresh", map[string]string{"refreshToken": refreshed.RefreshToken}, "", http.StatusUnauthorized)

	fmt.Printf("auth smoke test passed: %s\n", email)
}
