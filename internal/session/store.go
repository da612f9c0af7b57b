package session

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vintedfav-engine/internal/store"
)

// Cookie names the upstream uses for its auth tokens, plus the reserved
// out-of-band names this engine stores alongside them. The reserved names
// are sent as dedicated headers, never inside the Cookie header.
const (
	CookieSession      = "_vinted_fr_session"
	CookieAccessToken  = "access_token_web"
	CookieRefreshToken = "refresh_token_web"

	csrfTokenKey = "__x_csrf_token"
	anonIDKey    = "__x_anon_id"
)

const defaultDomain = "vinted.fr"

type CookieRepo interface {
	Put(ctx context.Context, c store.Cookie) error
	Get(ctx context.Context, name string) (*store.Cookie, error)
	All(ctx context.Context) ([]store.Cookie, error)
	DeactivateAll(ctx context.Context) error
}

// Store is the session cookie jar. It persists through a CookieRepo so the
// external login agent's write-back (via the HTTP API) is visible to the
// rest of the engine without any shared memory.
type Store struct {
	repo CookieRepo
	log  *zap.Logger
	now  func() time.Time
}

func NewStore(repo CookieRepo, log *zap.Logger) *Store {
	return &Store{repo: repo, log: log, now: time.Now}
}

func (s *Store) Put(ctx context.Context, name, value, domain string, expiresAt *time.Time) error {
	if domain == "" {
		domain = defaultDomain
	}
	return s.repo.Put(ctx, store.Cookie{
		Name:      name,
		Value:     value,
		Domain:    domain,
		ExpiresAt: expiresAt,
	})
}

func (s *Store) Get(ctx context.Context, name string) (string, bool) {
	c, err := s.repo.Get(ctx, name)
	if err != nil || c == nil {
		return "", false
	}
	if !c.Active || c.Expired(s.now()) {
		return "", false
	}
	return c.Value, true
}

// AllActive returns active, unexpired entries, reserved names included.
func (s *Store) AllActive(ctx context.Context) ([]store.Cookie, error) {
	all, err := s.repo.All(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := all[:0]
	for _, c := range all {
		if c.Active && !c.Expired(now) {
			out = append(out, c)
		}
	}
	return out, nil
}

// BuildHeader joins the active cookie pairs for the outgoing Cookie header.
// Returns "" when no session material is stored.
func (s *Store) BuildHeader(ctx context.Context) string {
	active, err := s.AllActive(ctx)
	if err != nil {
		s.log.Warn("cookie load failed", zap.Error(err))
		return ""
	}
	pairs := make([]string, 0, len(active))
	for _, c := range active {
		if c.Name == csrfTokenKey || c.Name == anonIDKey {
			continue
		}
		pairs = append(pairs, c.Name+"="+c.Value)
	}
	return strings.Join(pairs, "; ")
}

// HasValidSession reports whether at least one session-indicating cookie is
// live. It says nothing about whether the upstream still honors it.
func (s *Store) HasValidSession(ctx context.Context) bool {
	for _, name := range []string{CookieSession, CookieAccessToken} {
		if _, ok := s.Get(ctx, name); ok {
			return true
		}
	}
	return false
}

func (s *Store) DeactivateAll(ctx context.Context) error {
	return s.repo.DeactivateAll(ctx)
}

// IngestSetCookie parses one Set-Cookie style header and upserts the entry.
// Only name/value plus the domain and max-age attributes matter here;
// max-age is converted to an absolute expiry.
func (s *Store) IngestSetCookie(ctx context.Context, header string) {
	header = strings.TrimSpace(header)
	if header == "" {
		return
	}
	parts := strings.Split(header, ";")
	name, value, ok := strings.Cut(strings.TrimSpace(parts[0]), "=")
	if !ok || name == "" {
		return
	}

	domain := defaultDomain
	var expiresAt *time.Time
	for _, part := range parts[1:] {
		part = strings.TrimSpace(part)
		lower := strings.ToLower(part)
		switch {
		case strings.HasPrefix(lower, "domain="):
			if _, d, ok := strings.Cut(part, "="); ok && d != "" {
				domain = strings.TrimSpace(d)
			}
		case strings.HasPrefix(lower, "max-age="):
			_, raw, _ := strings.Cut(part, "=")
			maxAge, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
			if err != nil {
				s.log.Warn("unparseable max-age", zap.String("attr", part))
				continue
			}
			t := s.now().Add(time.Duration(maxAge) * time.Second)
			expiresAt = &t
		}
	}

	if err := s.Put(ctx, strings.TrimSpace(name), strings.TrimSpace(value), domain, expiresAt); err != nil {
		s.log.Warn("cookie upsert failed", zap.String("name", name), zap.Error(err))
	}
}

// IngestRaw loads cookies from a "name=value; name2=value2" string, the
// format the browser extension and the login script hand over.
func (s *Store) IngestRaw(ctx context.Context, raw, domain string) int {
	count := 0
	for _, pair := range strings.Split(raw, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || strings.TrimSpace(name) == "" {
			continue
		}
		if err := s.Put(ctx, strings.TrimSpace(name), strings.TrimSpace(value), domain, nil); err == nil {
			count++
		}
	}
	return count
}

func (s *Store) CsrfToken(ctx context.Context) string {
	v, _ := s.Get(ctx, csrfTokenKey)
	return v
}

func (s *Store) SaveCsrfToken(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.Put(ctx, csrfTokenKey, token, defaultDomain, nil)
}

// AnonID returns the anonymous-client id, minting one on first use. The
// upstream accepts any stable UUID here.
func (s *Store) AnonID(ctx context.Context) string {
	if v, ok := s.Get(ctx, anonIDKey); ok {
		return v
	}
	id := uuid.NewString()
	if err := s.Put(ctx, anonIDKey, id, defaultDomain, nil); err != nil {
		s.log.Warn("anon id persist failed", zap.Error(err))
	}
	return id
}

func (s *Store) SaveAnonID(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	return s.Put(ctx, anonIDKey, id, defaultDomain, nil)
}
