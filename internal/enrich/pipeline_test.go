package enrich

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vintedfav-engine/internal/domain"
	"vintedfav-engine/internal/upstream"
)

type detailResponse struct {
	item    map[string]any
	outcome upstream.Outcome
	err     error
}

type fakeFetcher struct {
	details map[string]detailResponse
	html    map[string]upstream.Outcome
	calls   []string
}

func (f *fakeFetcher) FetchItemDetail(_ context.Context, id string) (map[string]any, upstream.Outcome, error) {
	f.calls = append(f.calls, id)
	r, ok := f.details[id]
	if !ok {
		return nil, upstream.Outcome{Kind: upstream.NotFound}, nil
	}
	return r.item, r.outcome, r.err
}

func (f *fakeFetcher) FetchItemHTML(_ context.Context, id string) (upstream.Outcome, error) {
	if o, ok := f.html[id]; ok {
		return o, nil
	}
	return upstream.Outcome{Kind: upstream.Fatal, Status: 500}, nil
}

type fakeTokens struct{}

func (fakeTokens) EnsureValid(context.Context) error { return nil }

type fakeFavStore struct {
	records []domain.Favorite
	updated []domain.Favorite

	// afterList runs once after the first worklist computation, standing in
	// for writes that land between the snapshot and the enrichment update
	afterList func()
	listed    bool
}

func (s *fakeFavStore) ListNeedingEnrichment(context.Context) ([]domain.Favorite, error) {
	var out []domain.Favorite
	for _, f := range s.records {
		if f.NeedsEnrichment() {
			out = append(out, f)
		}
	}
	if !s.listed && s.afterList != nil {
		s.listed = true
		s.afterList()
	}
	return out, nil
}

func (s *fakeFavStore) UpdateEnrichment(_ context.Context, f *domain.Favorite) error {
	s.updated = append(s.updated, *f)
	for i := range s.records {
		if s.records[i].ExternalID == f.ExternalID {
			s.records[i].Category = f.Category
			s.records[i].Gender = f.Gender
			s.records[i].ListedAt = f.ListedAt
		}
	}
	return nil
}

type fakeNorm struct{}

func (fakeNorm) EnrichFromDetail(f *domain.Favorite, item map[string]any) {
	if c, ok := item["category"].(string); ok {
		f.Category = c
	}
	if g, ok := item["gender"].(string); ok {
		f.Gender = g
	}
}

func (fakeNorm) EnrichFromHTML(f *domain.Favorite, _ []byte) {
	f.Category = "from-html"
	f.Gender = "Femme"
}

func newTestPipeline(fetcher *fakeFetcher, store *fakeFavStore, batchSize int) *Pipeline {
	p := New(fetcher, fakeTokens{}, store, fakeNorm{}, batchSize, time.Millisecond, time.Millisecond, zap.NewNop())
	p.sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func bare(id string) domain.Favorite {
	return domain.Favorite{ExternalID: id, Title: "item " + id}
}

func TestRunEnrichesPendingRecords(t *testing.T) {
	fetcher := &fakeFetcher{details: map[string]detailResponse{
		"1": {item: map[string]any{"category": "Robes", "gender": "Femme"},
			outcome: upstream.Outcome{Kind: upstream.Success}},
		"2": {item: map[string]any{"category": "Jeans", "gender": "Homme"},
			outcome: upstream.Outcome{Kind: upstream.Success}},
	}}
	store := &fakeFavStore{records: []domain.Favorite{bare("1"), bare("2")}}

	var enriched []string
	p := newTestPipeline(fetcher, store, 20)
	p.OnEnriched(func(id string) { enriched = append(enriched, id) })

	stats, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Enriched: 2}, stats)
	assert.Equal(t, []string{"1", "2"}, enriched)
	require.Len(t, store.updated, 2)
	assert.Equal(t, "Robes", store.updated[0].Category)
}

func TestRunSkipsGoneItems(t *testing.T) {
	fetcher := &fakeFetcher{details: map[string]detailResponse{
		"1": {outcome: upstream.Outcome{Kind: upstream.NotFound}},
	}}
	store := &fakeFavStore{records: []domain.Favorite{bare("1")}}

	stats, err := newTestPipeline(fetcher, store, 20).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Skipped: 1}, stats)
	assert.Empty(t, store.updated)
}

func TestRunAbortsOnRateLimit(t *testing.T) {
	fetcher := &fakeFetcher{details: map[string]detailResponse{
		"1": {item: map[string]any{"category": "Robes", "gender": "Femme"},
			outcome: upstream.Outcome{Kind: upstream.Success}},
		"2": {outcome: upstream.Outcome{Kind: upstream.RateLimited}},
		"3": {item: map[string]any{"category": "Pulls", "gender": "Homme"},
			outcome: upstream.Outcome{Kind: upstream.Success}},
	}}
	store := &fakeFavStore{records: []domain.Favorite{bare("1"), bare("2"), bare("3")}}

	stats, err := newTestPipeline(fetcher, store, 20).Run(context.Background())
	assert.ErrorIs(t, err, upstream.ErrRateLimited)
	assert.Equal(t, 1, stats.Enriched)
	// item 3 never fetched, work already done stays persisted
	assert.Equal(t, []string{"1", "2"}, fetcher.calls)
	assert.Len(t, store.updated, 1)
}

func TestRunTransportErrorSkipsItemNotRun(t *testing.T) {
	fetcher := &fakeFetcher{details: map[string]detailResponse{
		"1": {err: errors.New("connection reset")},
		"2": {item: map[string]any{"category": "Sacs", "gender": "Femme"},
			outcome: upstream.Outcome{Kind: upstream.Success}},
	}}
	store := &fakeFavStore{records: []domain.Favorite{bare("1"), bare("2")}}

	stats, err := newTestPipeline(fetcher, store, 20).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Enriched: 1, Errored: 1}, stats)
}

func TestRunFallsBackToHTMLOnFatal(t *testing.T) {
	fetcher := &fakeFetcher{
		details: map[string]detailResponse{
			"1": {outcome: upstream.Outcome{Kind: upstream.Fatal, Status: 500}},
		},
		html: map[string]upstream.Outcome{
			"1": {Kind: upstream.Success, Body: []byte("<html></html>")},
		},
	}
	store := &fakeFavStore{records: []domain.Favorite{bare("1")}}

	stats, err := newTestPipeline(fetcher, store, 20).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Enriched: 1}, stats)
	require.Len(t, store.updated, 1)
	assert.Equal(t, "from-html", store.updated[0].Category)
}

func TestRunDoesNotLoopOnUnenrichableRecords(t *testing.T) {
	// detail succeeds but resolves nothing, so the record still needs
	// enrichment after the update
	fetcher := &fakeFetcher{details: map[string]detailResponse{
		"1": {item: map[string]any{}, outcome: upstream.Outcome{Kind: upstream.Success}},
	}}
	store := &fakeFavStore{records: []domain.Favorite{bare("1")}}

	stats, err := newTestPipeline(fetcher, store, 20).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Enriched)
	assert.Equal(t, []string{"1"}, fetcher.calls)
}

func TestRunDoesNotRevertConcurrentSyncWrites(t *testing.T) {
	fetcher := &fakeFetcher{details: map[string]detailResponse{
		"1": {item: map[string]any{"category": "Robes", "gender": "Femme"},
			outcome: upstream.Outcome{Kind: upstream.Success}},
	}}
	stale := bare("1")
	stale.Price = 10
	store := &fakeFavStore{records: []domain.Favorite{stale}}
	// a sync refreshes the price after the worklist snapshot is taken
	store.afterList = func() {
		store.records[0].Price = 8
		store.records[0].Sold = true
	}

	stats, err := newTestPipeline(fetcher, store, 20).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Enriched)

	assert.Equal(t, "Robes", store.records[0].Category)
	assert.Equal(t, 8.0, store.records[0].Price)
	assert.True(t, store.records[0].Sold)
}

func TestRunBatchesWorklist(t *testing.T) {
	fetcher := &fakeFetcher{details: map[string]detailResponse{}}
	var records []domain.Favorite
	for _, id := range []string{"1", "2", "3"} {
		fetcher.details[id] = detailResponse{
			item:    map[string]any{"category": "X", "gender": "Femme"},
			outcome: upstream.Outcome{Kind: upstream.Success},
		}
		records = append(records, bare(id))
	}
	store := &fakeFavStore{records: records}

	itemDelay, batchPause := time.Millisecond, time.Second
	p := New(fetcher, fakeTokens{}, store, fakeNorm{}, 2, itemDelay, batchPause, zap.NewNop())
	var pauses int
	p.sleep = func(_ context.Context, d time.Duration) error {
		if d == batchPause {
			pauses++
		}
		return nil
	}

	stats, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Enriched)
	assert.Equal(t, 1, pauses)
}

func TestRunRejectsOverlap(t *testing.T) {
	p := newTestPipeline(&fakeFetcher{}, &fakeFavStore{}, 20)
	p.running.Store(true)
	_, err := p.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}
