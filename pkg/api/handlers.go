package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/geyserpipe/geyserpipe/internal/broadcast"
	"github.com/geyserpipe/geyserpipe/internal/logger"
	"github.com/geyserpipe/geyserpipe/internal/store"
	"github.com/geyserpipe/geyserpipe/internal/types"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Pipeline is the surface the API serves: persisted account state, subscriber
// management, and staging gauges.
type Pipeline interface {
	Store() *store.Store
	Broadcaster() *broadcast.Broadcaster
	TrackedSlots() int64
	HighestRooted() uint64
}

// Handler bundles the HTTP handlers over a running pipeline.
type Handler struct {
	pipeline Pipeline
	log      *logger.Logger
}

// NewHandler creates a new API handler.
func NewHandler(pipeline Pipeline, log *logger.Logger) *Handler {
	return &Handler{
		pipeline: pipeline,
		log:      log,
	}
}

// Health reports liveness plus the pipeline's headline gauges.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		Timestamp:     time.Now(),
		TrackedSlots:  h.pipeline.TrackedSlots(),
		HighestRooted: h.pipeline.HighestRooted(),
		Subscribers:   len(h.pipeline.Broadcaster().ListSubscribers()),
	})
}

// GetAccount returns the live state of one account by base58 address.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := types.ParsePubkey(r.PathValue("account"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid account address")
		return
	}

	row, err := h.pipeline.Store().GetAccount(r.Context(), account)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "account not found")
		return
	}
	if err != nil {
		h.log.Errorw("account query failed", "account", account.String(), "error", err)
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}

	respondJSON(w, http.StatusOK, row)
}

// ListAccounts returns live accounts owned by the program in the owner query
// parameter.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	ownerParam := r.URL.Query().Get("owner")
	if ownerParam == "" {
		respondError(w, http.StatusBadRequest, "owner query parameter is required")
		return
	}

	owner, err := types.ParsePubkey(ownerParam)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid owner address")
		return
	}

	limit := defaultListLimit
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		limit, err = strconv.Atoi(limitParam)
		if err != nil || limit <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if limit > maxListLimit {
			limit = maxListLimit
		}
	}

	rows, err := h.pipeline.Store().ListAccountsByOwner(r.Context(), owner, limit)
	if err != nil {
		h.log.Errorw("owner query failed", "owner", owner.String(), "error", err)
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}

	respondJSON(w, http.StatusOK, AccountsResponse{
		Accounts: rows,
		Count:    len(rows),
	})
}

// ListSubscribers returns a snapshot of live stream subscribers.
func (h *Handler) ListSubscribers(w http.ResponseWriter, r *http.Request) {
	infos := h.pipeline.Broadcaster().ListSubscribers()
	respondJSON(w, http.StatusOK, SubscribersResponse{
		Subscribers: infos,
		Count:       len(infos),
	})
}

// GetStats returns persisted-state counters and staging gauges.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.pipeline.Store().GetStats(r.Context())
	if err != nil {
		h.log.Errorw("stats query failed", "error", err)
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}

	respondJSON(w, http.StatusOK, StatsResponse{
		Store:         stats,
		TrackedSlots:  h.pipeline.TrackedSlots(),
		HighestRooted: h.pipeline.HighestRooted(),
	})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")

	// Encode JSON first to catch any errors before writing status
	encoded, err := json.Marshal(data)
	if err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	_, _ = w.Write(encoded)
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	})
}
