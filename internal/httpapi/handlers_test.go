package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vintedfav-engine/internal/domain"
	"vintedfav-engine/internal/enrich"
	"vintedfav-engine/internal/session"
	"vintedfav-engine/internal/store"
	"vintedfav-engine/internal/syncer"
)

type memCookieRepo struct {
	mu      sync.Mutex
	cookies map[string]store.Cookie
}

func newMemCookieRepo() *memCookieRepo {
	return &memCookieRepo{cookies: map[string]store.Cookie{}}
}

func (r *memCookieRepo) Put(_ context.Context, c store.Cookie) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.Active = true
	r.cookies[c.Name] = c
	return nil
}

func (r *memCookieRepo) Get(_ context.Context, name string) (*store.Cookie, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cookies[name]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *memCookieRepo) All(_ context.Context) ([]store.Cookie, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]store.Cookie, 0, len(r.cookies))
	for _, c := range r.cookies {
		out = append(out, c)
	}
	return out, nil
}

func (r *memCookieRepo) DeactivateAll(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, c := range r.cookies {
		c.Active = false
		r.cookies[name] = c
	}
	return nil
}

type fakeLister struct {
	got  store.ListFilter
	favs []domain.Favorite
	err  error
}

func (l *fakeLister) ListOrdered(_ context.Context, f store.ListFilter) ([]domain.Favorite, error) {
	l.got = f
	return l.favs, l.err
}

type fakeSync struct {
	mu     sync.Mutex
	runs   int
	status syncer.Status
}

func (s *fakeSync) Run(context.Context) (syncer.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs++
	return syncer.Result{}, nil
}

func (s *fakeSync) Status() syncer.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *fakeSync) runCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

type fakeEnrich struct {
	mu      sync.Mutex
	runs    int
	running bool
}

func (e *fakeEnrich) Run(context.Context) (enrich.Stats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runs++
	return enrich.Stats{}, nil
}

func (e *fakeEnrich) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

type fakeSaver struct {
	email    string
	password string
	userID   string
	err      error
}

func (s *fakeSaver) Save(_ context.Context, email, password, userID string) error {
	s.email, s.password, s.userID = email, password, userID
	return s.err
}

type fakeHub struct {
	ch chan string
}

func (h *fakeHub) Subscribe() chan string    { return h.ch }
func (h *fakeHub) Unsubscribe(_ chan string) {}

type testAPI struct {
	handler http.Handler
	lister  *fakeLister
	sync    *fakeSync
	enrich  *fakeEnrich
	saver   *fakeSaver
	jar     *session.Store
	hub     *fakeHub
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	api := &testAPI{
		lister: &fakeLister{},
		sync:   &fakeSync{},
		enrich: &fakeEnrich{},
		saver:  &fakeSaver{},
		jar:    session.NewStore(newMemCookieRepo(), zap.NewNop()),
		hub:    &fakeHub{ch: make(chan string, 4)},
	}
	api.handler = NewRouter(Deps{
		Favorites: api.lister,
		Sync:      api.sync,
		Enrich:    api.enrich,
		Vault:     api.saver,
		Session:   api.jar,
		Hub:       api.hub,
		Log:       zap.NewNop(),
	})
	return api
}

func (a *testAPI) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok":true`)
}

func TestListFavorites(t *testing.T) {
	api := newTestAPI(t)
	api.lister.favs = []domain.Favorite{{ExternalID: "1", Title: "Robe"}}

	rec := api.do(http.MethodGet, "/favorites?brand=Zara&gender=Femme&sold=true", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "Zara", api.lister.got.Brand)
	assert.Equal(t, "Femme", api.lister.got.Gender)
	require.NotNil(t, api.lister.got.Sold)
	assert.True(t, *api.lister.got.Sold)

	var favs []domain.Favorite
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &favs))
	require.Len(t, favs, 1)
	assert.Equal(t, "Robe", favs[0].Title)
}

func TestListFavoritesEmptyIsArray(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(http.MethodGet, "/favorites", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestListFavoritesBadSoldParam(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(http.MethodGet, "/favorites?sold=maybe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerSync(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(http.MethodPost, "/sync", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Eventually(t, func() bool { return api.sync.runCount() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestSyncStatus(t *testing.T) {
	api := newTestAPI(t)
	api.sync.status = syncer.Status{LastNew: 4, LastTotal: 12}

	rec := api.do(http.MethodGet, "/sync/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var st syncer.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 4, st.LastNew)
	assert.Equal(t, 12, st.LastTotal)
}

func TestTriggerEnrich(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(http.MethodPost, "/enrich", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestTriggerEnrichConflictWhileRunning(t *testing.T) {
	api := newTestAPI(t)
	api.enrich.running = true
	rec := api.do(http.MethodPost, "/enrich", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSaveCredentials(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(http.MethodPost, "/credentials",
		`{"email":"user@example.com","password":"pw","userId":"42"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user@example.com", api.saver.email)
	assert.Equal(t, "pw", api.saver.password)
	assert.Equal(t, "42", api.saver.userID)
}

func TestSaveCredentialsBadBody(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(http.MethodPost, "/credentials", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestCookies(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(http.MethodPost, "/cookies",
		`{"cookies":"_vinted_fr_session=abc; access_token_web=tok","csrfToken":"csrf-1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"saved":2`)

	assert.True(t, api.jar.HasValidSession(context.Background()))
	assert.Equal(t, "csrf-1", api.jar.CsrfToken(context.Background()))
}

func TestIngestCookiesMissingPayload(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(http.MethodPost, "/cookies", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionStatus(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(http.MethodGet, "/session/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"valid":false`)

	require.NoError(t, api.jar.Put(context.Background(), session.CookieSession, "live", "", nil))
	rec = api.do(http.MethodGet, "/session/status", "")
	assert.Contains(t, rec.Body.String(), `"valid":true`)
}

func TestEventsStream(t *testing.T) {
	api := newTestAPI(t)
	srv := httptest.NewServer(api.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)

	api.hub.ch <- `{"type":"sync_completed"}`

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))

	line, err := bufio.NewReader(res.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "data: {\"type\":\"sync_completed\"}\n", line)
}

func TestEventsStreamOutlivesJSONTimeout(t *testing.T) {
	old := jsonTimeout
	jsonTimeout = 50 * time.Millisecond
	defer func() { jsonTimeout = old }()

	api := newTestAPI(t)
	srv := httptest.NewServer(api.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	// publish well past the short timeout, the stream must still be open
	time.Sleep(4 * jsonTimeout)
	api.hub.ch <- `{"type":"enrich_completed"}`

	line, err := bufio.NewReader(res.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "data: {\"type\":\"enrich_completed\"}\n", line)
}
