// Package geyser defines the notification surface a validator host drives.
package geyser

import "github.com/geyserpipe/geyserpipe/internal/types"

// Notifier is the interface the host calls into as account state changes and
// slots advance. Calls may arrive concurrently from multiple host threads;
// implementations must not block beyond their bounded handoff budget.
type Notifier interface {
	// OnAccountUpdate delivers one account write. During startup snapshot
	// replay updates carry Startup=true and represent ground-truth state
	// rather than live slot activity.
	OnAccountUpdate(update types.AccountUpdate) error

	// OnSlotStatus delivers a slot status transition. Terminal statuses
	// (rooted, dead) trigger finality resolution of the slot and, for rooted,
	// of its staged ancestors.
	OnSlotStatus(status types.SlotStatusUpdate) error

	// OnStartupComplete marks the end of startup snapshot replay. After it
	// returns, updates arrive with Startup=false.
	OnStartupComplete() error
}
