package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"vintedfav-engine/internal/domain"
	"vintedfav-engine/internal/secrets"
)

type CredentialRepo interface {
	Save(ctx context.Context, c *domain.Credential) error
	GetActive(ctx context.Context) (*domain.Credential, error)
	TouchRefresh(ctx context.Context, id int64, at time.Time) error
}

// Vault holds the one active marketplace login. The password goes to the OS
// keychain when one is available; otherwise it is kept base64-encoded in the
// credential row. Either way nothing stronger than "not plaintext in a
// column" is promised.
type Vault struct {
	repo CredentialRepo
	log  *zap.Logger
}

func NewVault(repo CredentialRepo, log *zap.Logger) *Vault {
	return &Vault{repo: repo, log: log}
}

// Save activates a new credential, deactivating the previous one.
func (v *Vault) Save(ctx context.Context, email, password, userID string) error {
	if email == "" || password == "" {
		return errors.New("email and password are required")
	}

	cred := &domain.Credential{Email: email, UserID: userID}
	if err := secrets.SetPassword(email, password); err != nil {
		v.log.Warn("keychain unavailable, storing encoded secret", zap.Error(err))
		cred.Secret = secrets.Encode(password)
	}

	v.log.Info("saving credentials", zap.String("email", email))
	return v.repo.Save(ctx, cred)
}

// GetActive returns the active credential, if any.
func (v *Vault) GetActive(ctx context.Context) (*domain.Credential, error) {
	return v.repo.GetActive(ctx)
}

func (v *Vault) HasCredentials(ctx context.Context) bool {
	c, err := v.repo.GetActive(ctx)
	return err == nil && c != nil
}

// Resolve returns the active credential with its secret decoded for use by
// the login agent.
func (v *Vault) Resolve(ctx context.Context) (email, password, userID string, err error) {
	c, err := v.repo.GetActive(ctx)
	if err != nil {
		return "", "", "", err
	}
	if c == nil {
		return "", "", "", errors.New("no credentials configured")
	}

	if c.Secret == "" {
		pw, err := secrets.GetPassword(c.Email)
		if err != nil {
			return "", "", "", err
		}
		return c.Email, pw, c.UserID, nil
	}

	pw, err := secrets.Decode(c.Secret)
	if err != nil {
		return "", "", "", err
	}
	return c.Email, pw, c.UserID, nil
}

// MarkRefreshed records a successful login-driven session refresh.
func (v *Vault) MarkRefreshed(ctx context.Context) {
	c, err := v.repo.GetActive(ctx)
	if err != nil || c == nil {
		return
	}
	if err := v.repo.TouchRefresh(ctx, c.ID, time.Now()); err != nil {
		v.log.Warn("last refresh not recorded", zap.Error(err))
	}
}
