// Package ingest implements the ingest endpoint (C6): the HTTP surface game
// clients POST their GSI snapshots to, and the status endpoint operators
// poll for liveness.
package ingest

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/dylantcon/countertrak-ingest/internal/ingestmetrics"
	"github.com/dylantcon/countertrak-ingest/internal/match"
	"github.com/dylantcon/countertrak-ingest/internal/models"
	"github.com/dylantcon/countertrak-ingest/internal/tokencache"
)

// Handler holds the dependencies the ingest endpoint needs. It takes the
// concrete tokencache.Cache and match.Manager types directly, the way the
// teacher's handlers.Config wires concrete infra clients rather than
// interfaces for its storage dependencies.
type Handler struct {
	cache     *tokencache.Cache
	manager   *match.Manager
	validate  *validator.Validate
	log       *zap.SugaredLogger
	maxBody   int64
	startedAt time.Time
}

func NewHandler(cache *tokencache.Cache, manager *match.Manager, maxBodyBytes int64, log *zap.SugaredLogger) *Handler {
	return &Handler{
		cache:     cache,
		manager:   manager,
		validate:  validator.New(),
		log:       log,
		maxBody:   maxBodyBytes,
		startedAt: time.Now(),
	}
}

// Ingest handles POST / (spec.md §4.6 "POST /").
// @Summary Ingest a GSI snapshot
// @Description Accepts one CS2 Game State Integration payload per request
// @Tags Ingestion
// @Accept json
// @Produce json
// @Success 200 {object} map[string]string "OK"
// @Failure 400 {object} map[string]string "malformed payload"
// @Failure 401 {object} map[string]string "unknown or missing auth token"
// @Router / [post]
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		ingestmetrics.DecodeFailures.Inc()
		h.errorResponse(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	defer r.Body.Close()

	var snap models.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		ingestmetrics.DecodeFailures.Inc()
		h.log.Debugw("malformed GSI payload", "error", err)
		h.errorResponse(w, http.StatusBadRequest, "malformed payload")
		return
	}

	if err := h.validate.Struct(&snap); err != nil {
		ingestmetrics.DecodeFailures.Inc()
		h.errorResponse(w, http.StatusBadRequest, "payload failed validation")
		return
	}

	steamID, ok := h.cache.SteamIDFor(r.Context(), snap.Auth.Token)
	if !ok {
		ingestmetrics.AuthFailures.Inc()
		h.log.Warnw("auth token rejected", "token_suffix", redactToken(snap.Auth.Token))
		h.errorResponse(w, http.StatusUnauthorized, "unknown auth token")
		return
	}
	if snap.Provider != nil && snap.Provider.SteamID == "" {
		snap.Provider.SteamID = steamID
	}

	ingestmetrics.SnapshotsReceived.Inc()
	h.manager.Route(r.Context(), &snap)
	ingestmetrics.ActiveMatches.Set(float64(h.manager.ActiveMatchCount()))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Status handles GET /status (spec.md §4.6 "GET /status").
// @Summary Report service liveness
// @Description Returns process uptime, active match count, and token cache health
// @Tags Operations
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /status [get]
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	stats := h.cache.Stats()
	body := map[string]interface{}{
		"running":              true,
		"uptime_s":             time.Since(h.startedAt).Seconds(),
		"active_matches":       h.manager.ActiveMatchCount(),
		"active_match_details": h.manager.MatchSummaries(),
		"token_cache": map[string]interface{}{
			"initialized":  stats.Initialized,
			"token_count":  stats.TokenCount,
			"last_refresh": stats.LastRefresh,
			"cache_age_s":  stats.CacheAgeS,
		},
	}
	h.jsonResponse(w, http.StatusOK, body)
}

func (h *Handler) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (h *Handler) errorResponse(w http.ResponseWriter, status int, message string) {
	h.jsonResponse(w, status, map[string]string{"error": message})
}

// redactToken keeps only the last 4 characters of a token for logging
// (spec.md §4.6 "auth failures are logged with the token redacted").
func redactToken(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return "****" + token[len(token)-4:]
}
