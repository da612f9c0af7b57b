package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"vintedfav-engine/internal/session"
)

const maxBodyBytes = 4 << 20

// rate-limit retry policy: 2 retries, base 5s, doubling
const (
	rateLimitRetries   = 2
	rateLimitBaseDelay = 5 * time.Second
)

// bound on waiting for a refresh another caller already started
const (
	refreshWaitPolls    = 100
	refreshWaitInterval = 100 * time.Millisecond
)

type credentialChecker interface {
	HasCredentials(ctx context.Context) bool
}

// Client issues authenticated requests against the marketplace, captures
// Set-Cookie updates from every response, and classifies outcomes. A shared
// limiter paces all calls; the upstream rate-limits per client, not per
// connection.
type Client struct {
	hc        *http.Client
	baseURL   string
	userAgent string
	store     *session.Store
	tokens    *session.TokenManager
	vault     credentialChecker
	limiter   *rate.Limiter
	log       *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(baseURL, userAgent string, timeout time.Duration, reqPerSec float64,
	store *session.Store, tokens *session.TokenManager, vault credentialChecker,
	log *zap.Logger) *Client {
	return &Client{
		hc:        &http.Client{Timeout: timeout},
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		store:     store,
		tokens:    tokens,
		vault:     vault,
		limiter:   rate.NewLimiter(rate.Limit(reqPerSec), 1),
		log:       log,
		sleep:     sleepCtx,
	}
}

// Request performs one call and classifies the response. Session-setting
// headers are ingested before classification, success or failure. On auth
// expiry a background token refresh is kicked off so a later retry can
// succeed.
func (c *Client) Request(ctx context.Context, method, path string, headers map[string]string) (Outcome, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Outcome{}, err
	}

	cookieHeader := c.store.BuildHeader(ctx)
	if cookieHeader == "" {
		return Outcome{}, ErrNoSession
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return Outcome{}, err
	}
	req.Header.Set("Cookie", cookieHeader)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "fr-FR,fr;q=0.9,en-US;q=0.8,en;q=0.7")
	req.Header.Set("Referer", c.baseURL+"/")
	if csrf := c.store.CsrfToken(ctx); csrf != "" {
		req.Header.Set("X-Csrf-Token", csrf)
	}
	if anon := c.store.AnonID(ctx); anon != "" {
		req.Header.Set("X-Anon-Id", anon)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return Outcome{}, err
	}
	defer res.Body.Close()

	for _, sc := range res.Header.Values("Set-Cookie") {
		c.store.IngestSetCookie(ctx, sc)
	}

	body, _ := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	outcome := classify(res.StatusCode, body)

	switch outcome.Kind {
	case AuthExpired:
		c.log.Warn("session rejected upstream", zap.Int("status", res.StatusCode),
			zap.String("path", path))
		c.kickRefresh(ctx)
	case RateLimited:
		c.log.Warn("rate limited upstream", zap.String("path", path))
	case Fatal:
		c.log.Error("upstream error", zap.Int("status", res.StatusCode),
			zap.String("path", path))
	}
	return outcome, nil
}

// kickRefresh starts a token refresh in the background when credentials
// exist and none is already running, so the caller's single retry has a
// chance.
func (c *Client) kickRefresh(ctx context.Context) {
	if c.vault == nil || !c.vault.HasCredentials(ctx) || c.tokens.RefreshInProgress() {
		return
	}
	go func() {
		bg, cancel := context.WithTimeout(context.Background(), c.hc.Timeout)
		defer cancel()
		if err := c.tokens.Refresh(bg); err != nil && !errors.Is(err, session.ErrRefreshInFlight) {
			c.log.Error("background token refresh failed", zap.Error(err))
		}
	}()
}

// Get fetches a path with the standard recovery rules: one refresh-and-retry
// on auth expiry, bounded exponential backoff on 429. A second auth failure
// and exhausted backoff are returned as their outcome for the caller to
// dispatch on.
func (c *Client) Get(ctx context.Context, path string, headers map[string]string) (Outcome, error) {
	outcome, err := c.Request(ctx, http.MethodGet, path, headers)
	if err != nil {
		return outcome, err
	}

	if outcome.Kind == AuthExpired {
		if err := c.refreshAndWait(ctx); err != nil {
			return outcome, nil
		}
		outcome, err = c.Request(ctx, http.MethodGet, path, headers)
		if err != nil {
			return outcome, err
		}
	}

	delay := rateLimitBaseDelay
	for attempt := 0; outcome.Kind == RateLimited && attempt < rateLimitRetries; attempt++ {
		c.log.Warn("backing off", zap.Duration("delay", delay), zap.String("path", path))
		if err := c.sleep(ctx, delay); err != nil {
			return outcome, err
		}
		delay *= 2
		outcome, err = c.Request(ctx, http.MethodGet, path, headers)
		if err != nil {
			return outcome, err
		}
	}
	return outcome, nil
}

// refreshAndWait performs the synchronous refresh backing Get's single
// retry. When the background refresh kicked off by Request already holds the
// single-flight guard, this waits for it to finish instead of giving up; the
// retry must not race the refresh it depends on.
func (c *Client) refreshAndWait(ctx context.Context) error {
	err := c.tokens.Refresh(ctx)
	if !errors.Is(err, session.ErrRefreshInFlight) {
		return err
	}
	for i := 0; i < refreshWaitPolls && c.tokens.RefreshInProgress(); i++ {
		if err := c.sleep(ctx, refreshWaitInterval); err != nil {
			return err
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
