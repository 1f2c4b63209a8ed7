// Package adminapi implements the operator-facing HTTP surface: /health,
// /trigger, /test and /subscribers.
package adminapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"digestbot/internal/domain"
	infrahttp "digestbot/internal/infra/http"
	"digestbot/internal/httpsec"
)

// triggerer runs one pipeline pass immediately, under the scheduler's lease
// discipline.
type triggerer interface {
	Trigger(ctx context.Context) (domain.RunSummary, error)
}

// freshBuilder regenerates a digest without delivering it.
type freshBuilder interface {
	BuildFresh(ctx context.Context) (domain.Digest, error)
}

// oneShotSender sends a single already-built digest to one chat, per
// spec §4.6's SendOne path shared with welcome delivery.
type oneShotSender interface {
	SendOne(ctx context.Context, chatID int64, language string, dig domain.Digest, prefix string) (domain.DeliveryOutcome, error)
}

// Handler mounts the admin endpoints on a chi (or any net/http) router.
type Handler struct {
	store    domain.Store
	trigger  triggerer
	fresh    freshBuilder
	sender   oneShotSender
	apiKey   string
	log      zerolog.Logger
}

// NewHandler builds the admin HTTP handler.
func NewHandler(store domain.Store, trigger triggerer, fresh freshBuilder, sender oneShotSender, apiKey string, log zerolog.Logger) *Handler {
	return &Handler{store: store, trigger: trigger, fresh: fresh, sender: sender, apiKey: apiKey, log: log}
}

// Health reports 200 when the Store is reachable, 503 otherwise. Unauthenticated.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := h.store.Healthy(ctx); err != nil {
		infrahttp.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	infrahttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) authorized(r *http.Request) bool {
	return httpsec.Equal(r.Header.Get("X-API-Key"), h.apiKey)
}

// Trigger runs the pipeline immediately, guarded by X-API-Key.
func (h *Handler) Trigger(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		infrahttp.WriteError(w, http.StatusUnauthorized, errors.New("invalid API key"))
		return
	}
	summary, err := h.trigger.Trigger(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("adminapi: trigger failed")
		infrahttp.WriteError(w, http.StatusInternalServerError, err)
		return
	}
	infrahttp.WriteJSON(w, http.StatusOK, summary)
}

// Test sends one digest to a single chat without touching the subscriber
// roster, guarded by X-API-Key. Query params: chat_id (required),
// language (optional, defaults to "en"), fresh=true to rebuild instead of
// using the latest stored digest.
func (h *Handler) Test(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		infrahttp.WriteError(w, http.StatusUnauthorized, errors.New("invalid API key"))
		return
	}
	chatID, err := strconv.ParseInt(r.URL.Query().Get("chat_id"), 10, 64)
	if err != nil {
		infrahttp.WriteError(w, http.StatusBadRequest, errors.New("chat_id is required and must be an integer"))
		return
	}
	language := r.URL.Query().Get("language")
	if language == "" {
		language = "en"
	}

	ctx := r.Context()
	var dig domain.Digest
	if r.URL.Query().Get("fresh") == "true" {
		dig, err = h.fresh.BuildFresh(ctx)
		if err != nil {
			infrahttp.WriteError(w, http.StatusInternalServerError, err)
			return
		}
	} else {
		var ok bool
		dig, ok, err = h.store.Latest(ctx)
		if err != nil {
			infrahttp.WriteError(w, http.StatusInternalServerError, err)
			return
		}
		if !ok {
			infrahttp.WriteError(w, http.StatusNotFound, errors.New("no digest has been built yet"))
			return
		}
	}

	outcome, err := h.sender.SendOne(ctx, chatID, language, dig, "\U0001F9EA TEST - ")
	if err != nil {
		infrahttp.WriteError(w, http.StatusInternalServerError, err)
		return
	}
	infrahttp.WriteJSON(w, http.StatusOK, map[string]any{"chat_id": chatID, "outcome": outcome, "digest_id": dig.ID})
}

// Subscribers reports subscriber counts by active state and language,
// guarded by X-API-Key.
func (h *Handler) Subscribers(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		infrahttp.WriteError(w, http.StatusUnauthorized, errors.New("invalid API key"))
		return
	}
	active, inactive, byLanguage, err := h.store.Counts(r.Context())
	if err != nil {
		infrahttp.WriteError(w, http.StatusInternalServerError, err)
		return
	}
	infrahttp.WriteJSON(w, http.StatusOK, map[string]any{
		"active_count":   active,
		"inactive_count": inactive,
		"languages":      byLanguage,
	})
}
