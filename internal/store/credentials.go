package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"vintedfav-engine/internal/domain"
)

type CredentialRepo struct {
	db *sql.DB
}

func NewCredentialRepo(db *sql.DB) *CredentialRepo {
	return &CredentialRepo{db: db}
}

// Save deactivates any previous credential and inserts the new one as the
// single active row.
func (r *CredentialRepo) Save(ctx context.Context, c *domain.Credential) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE credentials SET active = 0;`); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
INSERT INTO credentials(email, secret, user_id, last_refresh, active)
VALUES(?,?,?,?,1);`,
		c.Email, c.Secret, c.UserID, nullableTime(c.LastRefresh),
	)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	c.ID, _ = res.LastInsertId()
	c.Active = true
	return tx.Commit()
}

func (r *CredentialRepo) GetActive(ctx context.Context) (*domain.Credential, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, email, secret, user_id, last_refresh, active
FROM credentials
WHERE active = 1
ORDER BY id DESC
LIMIT 1;`)

	var c domain.Credential
	var lastRefresh sql.NullString
	var active int
	err := row.Scan(&c.ID, &c.Email, &c.Secret, &c.UserID, &lastRefresh, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.Active = active != 0
	if lastRefresh.Valid && lastRefresh.String != "" {
		if t, err := time.Parse(time.RFC3339, lastRefresh.String); err == nil {
			c.LastRefresh = &t
		}
	}
	return &c, nil
}

func (r *CredentialRepo) TouchRefresh(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE credentials SET last_refresh = ? WHERE id = ?;`,
		at.UTC().Format(time.RFC3339), id)
	return err
}

func (r *CredentialRepo) DeleteAll(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM credentials;`)
	return err
}
