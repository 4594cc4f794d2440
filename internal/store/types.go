package store

import (
	"errors"

	"github.com/geyserpipe/geyserpipe/internal/types"
)

// ErrNotFound is returned when no live row exists for the requested account.
var ErrNotFound = errors.New("account not found")

// ErrStoreUnavailable marks a write that failed after every configured retry
// attempt. It is fatal to the pipeline: committed state may no longer be
// durable.
var ErrStoreUnavailable = errors.New("store unavailable")

// Account is the persisted state of one account, the row form of the latest
// committed update.
type Account struct {
	Account      types.Pubkey `meddler:"account,pubkey" json:"account"`
	Owner        types.Pubkey `meddler:"owner,pubkey" json:"owner"`
	Lamports     uint64       `meddler:"lamports" json:"lamports"`
	Data         []byte       `meddler:"data" json:"data,omitempty"`
	Slot         uint64       `meddler:"slot" json:"slot"`
	WriteVersion uint64       `meddler:"write_version" json:"write_version"`
	Deleted      int64        `meddler:"deleted" json:"deleted"`
	UpdatedAt    int64        `meddler:"updated_at" json:"updated_at"`
}

// IsDeleted reports whether the row is a tombstone.
func (a *Account) IsDeleted() bool {
	return a.Deleted != 0
}

// Stats summarizes the persisted account state.
type Stats struct {
	TotalAccounts   int64  `meddler:"total_accounts" json:"total_accounts"`
	DeletedAccounts int64  `meddler:"deleted_accounts" json:"deleted_accounts"`
	HighestSlot     uint64 `meddler:"highest_slot" json:"highest_slot"`
}
