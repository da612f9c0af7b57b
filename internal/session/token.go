package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ExpiryMargin makes a token count as expired five minutes early, so a
// request never races the real expiry.
const ExpiryMargin = 300 * time.Second

// ErrRefreshInFlight is returned to callers that hit Refresh while another
// refresh is running: they are turned away, not queued.
var ErrRefreshInFlight = errors.New("token refresh already in progress")

// TokenManager watches the access token's embedded claims and renews it
// through the upstream OAuth endpoint using the stored refresh token.
type TokenManager struct {
	store     *Store
	hc        *http.Client
	baseURL   string
	userAgent string
	log       *zap.Logger
	now       func() time.Time

	refreshing atomic.Bool
}

func NewTokenManager(store *Store, baseURL, userAgent string, timeout time.Duration, log *zap.Logger) *TokenManager {
	return &TokenManager{
		store:     store,
		hc:        &http.Client{Timeout: timeout},
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		log:       log,
		now:       time.Now,
	}
}

// IsExpired decodes the access token's claims segment and compares exp
// against now plus the safety margin. A missing or undecodable token counts
// as expired, so the engine refreshes rather than fires a doomed request.
func (m *TokenManager) IsExpired(ctx context.Context) bool {
	token, ok := m.store.Get(ctx, CookieAccessToken)
	if !ok || token == "" {
		return true
	}

	exp, err := tokenExpiry(token)
	if err != nil {
		m.log.Warn("access token claims unreadable", zap.Error(err))
		return true
	}

	expired := exp.Add(-ExpiryMargin).Before(m.now())
	if expired {
		m.log.Info("access token expired or close to expiry",
			zap.Time("exp", exp))
	}
	return expired
}

// EnsureValid refreshes only when needed.
func (m *TokenManager) EnsureValid(ctx context.Context) error {
	if !m.IsExpired(ctx) {
		return nil
	}
	return m.Refresh(ctx)
}

// Refresh exchanges the stored refresh token for a new token pair.
// Single-flight: a concurrent call fails immediately with
// ErrRefreshInFlight instead of issuing a second network call. Stored
// tokens are left untouched on any failure path.
func (m *TokenManager) Refresh(ctx context.Context) error {
	if !m.refreshing.CompareAndSwap(false, true) {
		return ErrRefreshInFlight
	}
	defer m.refreshing.Store(false)

	refreshToken, ok := m.store.Get(ctx, CookieRefreshToken)
	if !ok || refreshToken == "" {
		return errors.New("no refresh token stored")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", "web")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", m.userAgent)
	req.Header.Set("Accept", "application/json")
	if cookieHeader := m.store.BuildHeader(ctx); cookieHeader != "" {
		req.Header.Set("Cookie", cookieHeader)
	}

	m.log.Info("refreshing access token")
	res, err := m.hc.Do(req)
	if err != nil {
		return fmt.Errorf("token refresh request: %w", err)
	}
	defer res.Body.Close()

	for _, sc := range res.Header.Values("Set-Cookie") {
		m.store.IngestSetCookie(ctx, sc)
	}

	body, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if res.StatusCode < 200 || res.StatusCode > 299 {
		m.log.Error("token refresh rejected",
			zap.Int("status", res.StatusCode),
			zap.ByteString("body", body))
		return fmt.Errorf("token refresh status %d", res.StatusCode)
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("token refresh body: %w", err)
	}
	if payload.AccessToken == "" && payload.RefreshToken == "" {
		// a 2xx with no tokens still means the session is dead
		m.log.Error("token refresh returned no tokens",
			zap.ByteString("body", body))
		return errors.New("token refresh returned no tokens")
	}

	if payload.AccessToken != "" {
		if err := m.store.Put(ctx, CookieAccessToken, payload.AccessToken, defaultDomain, nil); err != nil {
			return err
		}
		m.log.Info("access token refreshed")
	}
	if payload.RefreshToken != "" {
		if err := m.store.Put(ctx, CookieRefreshToken, payload.RefreshToken, defaultDomain, nil); err != nil {
			return err
		}
	}
	return nil
}

// RefreshInProgress reports whether a refresh is currently running.
func (m *TokenManager) RefreshInProgress() bool {
	return m.refreshing.Load()
}

// tokenExpiry reads the exp claim out of a JWT without verifying it; the
// engine only needs the timestamp, not the signature.
func tokenExpiry(token string) (time.Time, error) {
	parts := strings.Split(token, ".")
	if len(parts) < 2 {
		return time.Time{}, errors.New("not a JWT")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("decode claims: %w", err)
	}
	var claims struct {
		Exp int64 `json:"exp"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return time.Time{}, fmt.Errorf("parse claims: %w", err)
	}
	if claims.Exp == 0 {
		return time.Time{}, errors.New("no exp claim")
	}
	return time.Unix(claims.Exp, 0), nil
}
