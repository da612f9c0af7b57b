// Package syncer drives one full mirror pass: ensure a usable session,
// fetch every listing page, reconcile against the store, then hand leftover
// gaps to the enrichment pipeline in the background.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"vintedfav-engine/internal/domain"
	"vintedfav-engine/internal/enrich"
	"vintedfav-engine/internal/session"
	"vintedfav-engine/internal/upstream"
)

var (
	// ErrNoAuth covers both "no credentials" and "login agent failed":
	// either way the sync cannot authenticate.
	ErrNoAuth = errors.New("no valid authentication")

	ErrSyncRunning = errors.New("sync already running")
)

type pageFetcher interface {
	FetchAll(ctx context.Context) ([]map[string]any, error)
}

type loginRunner interface {
	Run(ctx context.Context, email, password string) error
}

type credentialSource interface {
	HasCredentials(ctx context.Context) bool
	Resolve(ctx context.Context) (email, password, userID string, err error)
	MarkRefreshed(ctx context.Context)
}

type favoriteRepo interface {
	FindByExternalID(ctx context.Context, externalID string) (*domain.Favorite, error)
	Insert(ctx context.Context, f *domain.Favorite) error
	Update(ctx context.Context, f *domain.Favorite) error
}

type itemNormalizer interface {
	Normalize(item map[string]any) (domain.Favorite, bool)
}

type enrichRunner interface {
	Run(ctx context.Context) (enrich.Stats, error)
}

// Result is what a completed sync reports. Enrichment completion is
// observed separately, through state and logs.
type Result struct {
	New   int `json:"new"`
	Total int `json:"total"`
}

// Status mirrors the last run for the HTTP surface.
type Status struct {
	Running   bool   `json:"running"`
	LastRunAt string `json:"last_run_at"`
	LastOkAt  string `json:"last_ok_at"`
	LastError string `json:"last_error"`
	LastNew   int    `json:"last_new"`
	LastTotal int    `json:"last_total"`
}

type Orchestrator struct {
	store    *session.Store
	vault    credentialSource
	login    loginRunner
	fetcher  pageFetcher
	norm     itemNormalizer
	favs     favoriteRepo
	pipeline enrichRunner
	lock     *flock.Flock
	onSynced func(Result)
	log      *zap.Logger

	mu     sync.Mutex
	status Status
}

func New(store *session.Store, vault credentialSource, login loginRunner,
	fetcher pageFetcher, norm itemNormalizer, favs favoriteRepo,
	pipeline enrichRunner, lockPath string, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:    store,
		vault:    vault,
		login:    login,
		fetcher:  fetcher,
		norm:     norm,
		favs:     favs,
		pipeline: pipeline,
		lock:     flock.New(lockPath),
		log:      log,
	}
}

// OnSynced registers a hook fired after each successful sync.
func (o *Orchestrator) OnSynced(fn func(Result)) {
	o.onSynced = fn
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Run performs one sync. The file lock keeps a second engine process (or an
// overlapping scheduler tick) from syncing the same store concurrently.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	locked, err := o.lock.TryLock()
	if err != nil {
		return Result{}, fmt.Errorf("sync lock: %w", err)
	}
	if !locked {
		return Result{}, ErrSyncRunning
	}
	defer func() { _ = o.lock.Unlock() }()

	o.setRunning(true)
	res, err := o.run(ctx)
	o.finish(res, err)
	return res, err
}

func (o *Orchestrator) run(ctx context.Context) (Result, error) {
	if err := o.ensureSession(ctx); err != nil {
		return Result{}, err
	}

	items, err := o.fetchWithEscalation(ctx)
	if err != nil {
		return Result{}, err
	}

	res := o.reconcile(ctx, items)

	// enrichment runs detached; sync completion does not wait on it
	go func() {
		if _, err := o.pipeline.Run(context.Background()); err != nil {
			if errors.Is(err, enrich.ErrAlreadyRunning) {
				o.log.Info("enrichment already running, not restarted")
				return
			}
			o.log.Error("enrichment run failed", zap.Error(err))
		}
	}()

	if o.onSynced != nil {
		o.onSynced(res)
	}
	return res, nil
}

// ensureSession escalates to the external login agent when no live session
// cookie exists and credentials are configured.
func (o *Orchestrator) ensureSession(ctx context.Context) error {
	if o.store.HasValidSession(ctx) {
		return nil
	}
	if !o.vault.HasCredentials(ctx) {
		return ErrNoAuth
	}
	return o.loginViaAgent(ctx)
}

func (o *Orchestrator) loginViaAgent(ctx context.Context) error {
	email, password, _, err := o.vault.Resolve(ctx)
	if err != nil {
		o.log.Error("credentials unusable", zap.Error(err))
		return ErrNoAuth
	}
	if err := o.login.Run(ctx, email, password); err != nil {
		return fmt.Errorf("%w: %v", ErrNoAuth, err)
	}
	o.vault.MarkRefreshed(ctx)
	return nil
}

// fetchWithEscalation retries the whole pagination once after a re-login.
// Page state is not resumable across logins: a fresh session may change
// session-scoped ordering, so the retry starts from page 1.
func (o *Orchestrator) fetchWithEscalation(ctx context.Context) ([]map[string]any, error) {
	items, err := o.fetcher.FetchAll(ctx)
	if !errors.Is(err, upstream.ErrAuthExpired) {
		return items, err
	}

	o.log.Warn("auth expired mid-fetch, escalating to login agent")
	if !o.vault.HasCredentials(ctx) {
		return nil, ErrNoAuth
	}
	if err := o.loginViaAgent(ctx); err != nil {
		return nil, err
	}
	return o.fetcher.FetchAll(ctx)
}

// reconcile applies each fetched item onto the store. sortOrder is the
// position in this fetch and is rewritten for every record, every sync.
// One bad item never blocks its siblings.
func (o *Orchestrator) reconcile(ctx context.Context, items []map[string]any) Result {
	var res Result
	for i, raw := range items {
		fresh, ok := o.norm.Normalize(raw)
		if !ok {
			continue
		}
		fresh.SortOrder = i

		existing, err := o.favs.FindByExternalID(ctx, fresh.ExternalID)
		if err != nil {
			o.log.Error("lookup failed", zap.String("externalId", fresh.ExternalID), zap.Error(err))
			continue
		}

		if existing == nil {
			if err := o.favs.Insert(ctx, &fresh); err != nil {
				o.log.Error("insert failed", zap.String("externalId", fresh.ExternalID), zap.Error(err))
				continue
			}
			res.New++
			res.Total++
			continue
		}

		existing.Merge(fresh)
		existing.SortOrder = i
		if err := o.favs.Update(ctx, existing); err != nil {
			o.log.Error("update failed", zap.String("externalId", fresh.ExternalID), zap.Error(err))
			continue
		}
		res.Total++
	}

	o.log.Info("sync reconciled", zap.Int("new", res.New), zap.Int("total", res.Total))
	return res
}

func (o *Orchestrator) setRunning(running bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status.Running = running
	if running {
		o.status.LastRunAt = time.Now().Format(time.RFC3339)
	}
}

func (o *Orchestrator) finish(res Result, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status.Running = false
	if err != nil {
		o.status.LastError = err.Error()
		return
	}
	o.status.LastError = ""
	o.status.LastOkAt = time.Now().Format(time.RFC3339)
	o.status.LastNew = res.New
	o.status.LastTotal = res.Total
}
