package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"vintedfav-engine/internal/domain"
	"vintedfav-engine/internal/enrich"
	"vintedfav-engine/internal/store"
	"vintedfav-engine/internal/syncer"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type favoritesHandler struct {
	deps Deps
}

func (h favoritesHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ListFilter{
		Brand:    q.Get("brand"),
		Gender:   q.Get("gender"),
		Category: q.Get("category"),
	}
	if raw := q.Get("sold"); raw != "" {
		sold, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "sold must be a boolean")
			return
		}
		filter.Sold = &sold
	}

	favs, err := h.deps.Favorites.ListOrdered(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if favs == nil {
		favs = []domain.Favorite{}
	}
	writeJSON(w, http.StatusOK, favs)
}

type syncHandler struct {
	deps Deps
}

// trigger starts a sync without holding the request open.
func (h syncHandler) trigger(w http.ResponseWriter, r *http.Request) {
	go func() {
		if _, err := h.deps.Sync.Run(context.Background()); err != nil {
			if errors.Is(err, syncer.ErrSyncRunning) {
				return
			}
			h.deps.Log.Error("triggered sync failed", zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sync started"})
}

func (h syncHandler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Sync.Status())
}

func (h syncHandler) enrich(w http.ResponseWriter, r *http.Request) {
	if h.deps.Enrich.Running() {
		writeError(w, http.StatusConflict, "enrichment already running")
		return
	}
	go func() {
		if _, err := h.deps.Enrich.Run(context.Background()); err != nil &&
			!errors.Is(err, enrich.ErrAlreadyRunning) {
			h.deps.Log.Error("triggered enrichment failed", zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "enrichment started"})
}

type sessionHandler struct {
	deps Deps
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	UserID   string `json:"userId"`
}

func (h sessionHandler) saveCredentials(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.deps.Vault.Save(r.Context(), req.Email, req.Password, req.UserID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "credentials saved"})
}

type cookiesRequest struct {
	Cookies   string `json:"cookies"` // raw "name=value; ..." string
	Domain    string `json:"domain"`
	CsrfToken string `json:"csrfToken"`
	AnonID    string `json:"anonId"`
}

// ingestCookies is the write-back path for the login script and the browser
// extension.
func (h sessionHandler) ingestCookies(w http.ResponseWriter, r *http.Request) {
	var req cookiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Cookies == "" {
		writeError(w, http.StatusBadRequest, "cookies is required")
		return
	}
	if req.Domain == "" {
		req.Domain = "vinted.fr"
	}

	count := h.deps.Session.IngestRaw(r.Context(), req.Cookies, req.Domain)
	if err := h.deps.Session.SaveCsrfToken(r.Context(), req.CsrfToken); err != nil {
		h.deps.Log.Warn("csrf token not saved", zap.Error(err))
	}
	if err := h.deps.Session.SaveAnonID(r.Context(), req.AnonID); err != nil {
		h.deps.Log.Warn("anon id not saved", zap.Error(err))
	}

	h.deps.Log.Info("cookies ingested", zap.Int("count", count))
	writeJSON(w, http.StatusOK, map[string]any{"saved": count})
}

func (h sessionHandler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"valid": h.deps.Session.HasValidSession(r.Context()),
	})
}

type eventsHandler struct {
	deps Deps
}

func (h eventsHandler) serveSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	flusher.Flush()

	ch := h.deps.Hub.Subscribe()
	defer h.deps.Hub.Unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-ch:
			if _, err := w.Write([]byte("data: " + evt + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
