package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Cookie is one persisted session token. Name is the unique key.
type Cookie struct {
	Name      string
	Value     string
	Domain    string
	ExpiresAt *time.Time
	Active    bool
}

func (c Cookie) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}

type CookieRepo struct {
	db *sql.DB
}

func NewCookieRepo(db *sql.DB) *CookieRepo {
	return &CookieRepo{db: db}
}

// Put upserts by name and reactivates the entry.
func (r *CookieRepo) Put(ctx context.Context, c Cookie) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO cookies(name, value, domain, expires_at, active)
VALUES(?,?,?,?,1)
ON CONFLICT(name) DO UPDATE SET
  value = excluded.value,
  domain = excluded.domain,
  expires_at = excluded.expires_at,
  active = 1;`,
		c.Name, c.Value, c.Domain, nullableTime(c.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("put cookie %s: %w", c.Name, err)
	}
	return nil
}

func (r *CookieRepo) Get(ctx context.Context, name string) (*Cookie, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT name, value, domain, expires_at, active
FROM cookies
WHERE name = ?;`, name)

	c, err := scanCookie(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *CookieRepo) All(ctx context.Context) ([]Cookie, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT name, value, domain, expires_at, active
FROM cookies
ORDER BY name ASC;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Cookie
	for rows.Next() {
		c, err := scanCookie(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *CookieRepo) DeactivateAll(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `UPDATE cookies SET active = 0;`)
	return err
}

func scanCookie(s rowScanner) (*Cookie, error) {
	var c Cookie
	var expiresAt sql.NullString
	var active int
	if err := s.Scan(&c.Name, &c.Value, &c.Domain, &expiresAt, &active); err != nil {
		return nil, err
	}
	c.Active = active != 0
	if expiresAt.Valid && expiresAt.String != "" {
		if t, err := time.Parse(time.RFC3339, expiresAt.String); err == nil {
			c.ExpiresAt = &t
		}
	}
	return &c, nil
}
