// Package httpapi is the local REST surface: listing the mirror, triggering
// syncs, and the write-back endpoints the browser extension and login
// script use to hand session material to the engine.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"vintedfav-engine/internal/domain"
	"vintedfav-engine/internal/enrich"
	"vintedfav-engine/internal/session"
	"vintedfav-engine/internal/store"
	"vintedfav-engine/internal/syncer"
)

type FavoriteLister interface {
	ListOrdered(ctx context.Context, filter store.ListFilter) ([]domain.Favorite, error)
}

type SyncRunner interface {
	Run(ctx context.Context) (syncer.Result, error)
	Status() syncer.Status
}

type EnrichRunner interface {
	Run(ctx context.Context) (enrich.Stats, error)
	Running() bool
}

type CredentialSaver interface {
	Save(ctx context.Context, email, password, userID string) error
}

type EventHub interface {
	Subscribe() chan string
	Unsubscribe(chan string)
}

type Deps struct {
	Favorites FavoriteLister
	Sync      SyncRunner
	Enrich    EnrichRunner
	Vault     CredentialSaver
	Session   *session.Store
	Hub       EventHub
	Log       *zap.Logger
}

// jsonTimeout bounds the request/response endpoints. The SSE stream stays
// outside it, a deadline there would cut every subscriber off mid-stream.
var jsonTimeout = 60 * time.Second

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	fh := favoritesHandler{deps: d}
	sh := syncHandler{deps: d}
	ch := sessionHandler{deps: d}
	eh := eventsHandler{deps: d}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(jsonTimeout))

		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"ok":   true,
				"time": time.Now().Format(time.RFC3339),
			})
		})

		r.Get("/favorites", fh.list)

		r.Post("/sync", sh.trigger)
		r.Get("/sync/status", sh.status)
		r.Post("/enrich", sh.enrich)

		r.Post("/credentials", ch.saveCredentials)
		r.Post("/cookies", ch.ingestCookies)
		r.Get("/session/status", ch.status)
	})

	r.Get("/events", eh.serveSSE)

	return r
}
