package api

import (
	"time"

	"github.com/geyserpipe/geyserpipe/internal/broadcast"
	"github.com/geyserpipe/geyserpipe/internal/store"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	TrackedSlots  int64     `json:"tracked_slots"`
	HighestRooted uint64    `json:"highest_rooted"`
	Subscribers   int       `json:"subscribers"`
}

// AccountsResponse wraps a listing of persisted accounts.
type AccountsResponse struct {
	Accounts []*store.Account `json:"accounts"`
	Count    int              `json:"count"`
}

// SubscribersResponse wraps the live subscriber listing.
type SubscribersResponse struct {
	Subscribers []broadcast.SubscriberInfo `json:"subscribers"`
	Count       int                        `json:"count"`
}

// StatsResponse combines persisted-state counters with pipeline gauges.
type StatsResponse struct {
	Store         *store.Stats `json:"store"`
	TrackedSlots  int64        `json:"tracked_slots"`
	HighestRooted uint64       `json:"highest_rooted"`
}
