// Package enrich backfills category, gender and listing date through the
// per-item detail endpoint, in rate-limit-friendly sequential batches.
package enrich

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"vintedfav-engine/internal/domain"
	"vintedfav-engine/internal/session"
	"vintedfav-engine/internal/upstream"
)

// ErrAlreadyRunning guards against overlapping pipeline runs.
var ErrAlreadyRunning = errors.New("enrichment already running")

type detailFetcher interface {
	FetchItemDetail(ctx context.Context, externalID string) (map[string]any, upstream.Outcome, error)
	FetchItemHTML(ctx context.Context, externalID string) (upstream.Outcome, error)
}

type tokenEnsurer interface {
	EnsureValid(ctx context.Context) error
}

type favoriteStore interface {
	ListNeedingEnrichment(ctx context.Context) ([]domain.Favorite, error)
	UpdateEnrichment(ctx context.Context, f *domain.Favorite) error
}

type normalizer interface {
	EnrichFromDetail(f *domain.Favorite, item map[string]any)
	EnrichFromHTML(f *domain.Favorite, markup []byte)
}

// Stats are the counters of one pipeline run.
type Stats struct {
	Enriched int
	Skipped  int // 404: item deleted or sold, nothing to fetch
	Errored  int
}

type Pipeline struct {
	fetcher    detailFetcher
	tokens     tokenEnsurer
	store      favoriteStore
	norm       normalizer
	batchSize  int
	itemDelay  time.Duration
	batchPause time.Duration
	onEnriched func(externalID string)
	log        *zap.Logger

	running atomic.Bool
	sleep   func(ctx context.Context, d time.Duration) error
}

func New(fetcher detailFetcher, tokens tokenEnsurer, store favoriteStore, norm normalizer,
	batchSize int, itemDelay, batchPause time.Duration, log *zap.Logger) *Pipeline {
	return &Pipeline{
		fetcher:    fetcher,
		tokens:     tokens,
		store:      store,
		norm:       norm,
		batchSize:  batchSize,
		itemDelay:  itemDelay,
		batchPause: batchPause,
		log:        log,
		sleep:      sleepCtx,
	}
}

// OnEnriched registers a hook fired after each successfully enriched record.
func (p *Pipeline) OnEnriched(fn func(externalID string)) {
	p.onEnriched = fn
}

// Running reports whether a run is in progress.
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// Run works through every record still needing enrichment. The worklist is
// recomputed at batch boundaries, since a manual trigger may have changed it
// meanwhile. Items are strictly sequential with a fixed inter-item delay;
// the upstream rate-limits per client, so concurrency buys nothing but bans.
//
// Exhausted rate-limit retries abort the whole remaining run: continuing to
// hammer a throttling upstream is how accounts get blocked. Work already
// completed stays persisted.
func (p *Pipeline) Run(ctx context.Context) (Stats, error) {
	if !p.running.CompareAndSwap(false, true) {
		return Stats{}, ErrAlreadyRunning
	}
	defer p.running.Store(false)

	var stats Stats
	attempted := make(map[string]struct{})
	firstBatch := true

	for {
		worklist, err := p.store.ListNeedingEnrichment(ctx)
		if err != nil {
			return stats, err
		}
		// drop records this run already tried; a record the detail payload
		// could not complete would otherwise loop forever
		batch := worklist[:0]
		for _, f := range worklist {
			if _, seen := attempted[f.ExternalID]; !seen {
				batch = append(batch, f)
			}
		}
		if len(batch) == 0 {
			break
		}
		if len(batch) > p.batchSize {
			batch = batch[:p.batchSize]
		}

		// short pause between batches
		if !firstBatch {
			if err := p.sleep(ctx, p.batchPause); err != nil {
				return stats, err
			}
		}
		firstBatch = false

		p.log.Info("enrichment batch starting", zap.Int("items", len(batch)))
		for i := range batch {
			f := &batch[i]
			attempted[f.ExternalID] = struct{}{}

			if err := p.sleep(ctx, p.itemDelay); err != nil {
				return stats, err
			}
			ok, err := p.enrichOne(ctx, f)
			if err != nil {
				p.log.Error("enrichment aborted",
					zap.String("externalId", f.ExternalID), zap.Error(err),
					zap.Int("enriched", stats.Enriched))
				return stats, err
			}
			switch ok {
			case itemEnriched:
				stats.Enriched++
				if p.onEnriched != nil {
					p.onEnriched(f.ExternalID)
				}
			case itemSkipped:
				stats.Skipped++
			case itemErrored:
				stats.Errored++
			}
		}
	}

	p.log.Info("enrichment finished",
		zap.Int("enriched", stats.Enriched),
		zap.Int("skipped", stats.Skipped),
		zap.Int("errored", stats.Errored))
	return stats, nil
}

type itemResult int

const (
	itemEnriched itemResult = iota
	itemSkipped
	itemErrored
)

func (p *Pipeline) enrichOne(ctx context.Context, f *domain.Favorite) (itemResult, error) {
	if err := p.tokens.EnsureValid(ctx); err != nil && !errors.Is(err, session.ErrRefreshInFlight) {
		p.log.Warn("token refresh before enrichment failed", zap.Error(err))
	}

	item, outcome, err := p.fetcher.FetchItemDetail(ctx, f.ExternalID)
	if err != nil {
		// timeouts and transport failures skip the item, not the run
		p.log.Warn("detail fetch failed",
			zap.String("externalId", f.ExternalID), zap.Error(err))
		return itemErrored, nil
	}

	switch outcome.Kind {
	case upstream.Success:
		p.norm.EnrichFromDetail(f, item)
	case upstream.NotFound:
		// deleted or sold; the record keeps whatever it already had
		p.log.Debug("item gone upstream", zap.String("externalId", f.ExternalID))
		return itemSkipped, nil
	case upstream.RateLimited:
		// retries inside the client are exhausted: circuit-break the run
		return itemErrored, upstream.ErrRateLimited
	case upstream.Fatal:
		// JSON endpoint blocked; the rendered page often still works
		if res := p.scrapeFallback(ctx, f); res != itemEnriched {
			return res, nil
		}
	default:
		p.log.Warn("detail fetch not authorized",
			zap.String("externalId", f.ExternalID))
		return itemErrored, nil
	}

	// only the enrichment-owned columns are written: the record in hand is a
	// snapshot and a sync may have refreshed volatile fields since
	if err := p.store.UpdateEnrichment(ctx, f); err != nil {
		p.log.Error("enriched record not saved",
			zap.String("externalId", f.ExternalID), zap.Error(err))
		return itemErrored, nil
	}
	p.log.Info("favorite enriched",
		zap.String("externalId", f.ExternalID),
		zap.String("category", f.Category),
		zap.String("gender", f.Gender))
	return itemEnriched, nil
}

func (p *Pipeline) scrapeFallback(ctx context.Context, f *domain.Favorite) itemResult {
	outcome, err := p.fetcher.FetchItemHTML(ctx, f.ExternalID)
	if err != nil || outcome.Kind != upstream.Success {
		p.log.Warn("html fallback failed", zap.String("externalId", f.ExternalID))
		return itemErrored
	}
	p.norm.EnrichFromHTML(f, outcome.Body)
	return itemEnriched
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
