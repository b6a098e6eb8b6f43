package cloud

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	loginPath   = "/auth/login"
	refreshPath = "/auth/jwt/refresh"

	// refreshSkew is how close to expiry a token must be before
	// RefreshedToken asks the connect host for a new one.
	refreshSkew = time.Minute

	tokenFileMode = 0o600
	tokenDirMode  = 0o700
)

type tokenResponse struct {
	Token string `json:"token"`
}

// TokenManager holds the session token for the connect host and persists
// it to a file between restarts. It is safe for concurrent use.
type TokenManager struct {
	client *Client
	path   string
	logger Logger
	now    func() time.Time

	mu    sync.Mutex
	token string
}

// NewTokenManager creates a TokenManager. A token previously saved at path
// is loaded; an empty path keeps the token in memory only.
func NewTokenManager(client *Client, path string, logger Logger) *TokenManager {
	if logger == nil {
		logger = noopLogger{}
	}
	m := &TokenManager{client: client, path: path, logger: logger, now: time.Now}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			m.token = strings.TrimSpace(string(data))
		case !errors.Is(err, os.ErrNotExist):
			logger.Warn("token file unreadable", "path", path, "error", err)
		}
	}
	return m
}

// HasToken reports whether a session token is stored.
func (m *TokenManager) HasToken() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token != ""
}

// Login exchanges credentials for a session token and stores it.
func (m *TokenManager) Login(ctx context.Context, username, password string) (string, error) {
	resp, err := m.client.Post(ctx, HostConnect, loginPath, "", map[string]string{
		"email":    username,
		"password": password,
	})
	if err != nil {
		return "", err
	}
	if resp.Status != http.StatusOK {
		return "", fmt.Errorf("%w: login returned %d", ErrInvalidCredentials, resp.Status)
	}

	var tr tokenResponse
	if err := decode(resp.Body, &tr); err != nil {
		return "", err
	}
	if err := m.store(tr.Token); err != nil {
		return "", err
	}
	m.logger.Info("logged in to cloud")
	return tr.Token, nil
}

// RefreshedToken returns a token valid for at least another minute,
// refreshing the stored one through the connect host when needed.
func (m *TokenManager) RefreshedToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	old := m.token
	m.mu.Unlock()
	if old == "" {
		return "", ErrNoCredentials
	}

	if exp, ok := expiry(old); ok && exp.Sub(m.now()) > refreshSkew {
		return old, nil
	}

	resp, err := m.client.Post(ctx, HostConnect, refreshPath, "", map[string]string{"token": old})
	if err != nil {
		return "", err
	}
	if resp.Status != http.StatusOK {
		return "", fmt.Errorf("%w: refresh returned %d", ErrInvalidCredentials, resp.Status)
	}

	var tr tokenResponse
	if err := decode(resp.Body, &tr); err != nil {
		return "", err
	}
	if err := m.store(tr.Token); err != nil {
		return "", err
	}
	m.logger.Debug("cloud token refreshed")
	return tr.Token, nil
}

// Logout forgets the stored token and removes the token file.
func (m *TokenManager) Logout() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	if m.path == "" {
		return nil
	}
	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing token file: %w", err)
	}
	return nil
}

func (m *TokenManager) store(token string) error {
	if token == "" {
		return fmt.Errorf("%w: empty token", ErrInvalidJSON)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	if m.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.path), tokenDirMode); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	if err := os.WriteFile(m.path, []byte(token), tokenFileMode); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	return nil
}

// expiry reads the exp claim without verifying the signature. The gateway
// never holds the signing key; the connect host validates the token.
func expiry(token string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
