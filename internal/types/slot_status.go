package types

import "fmt"

// SlotStatus represents the finality state of a slot as reported by the validator.
type SlotStatus string

const (
	// StatusProcessed means the slot has been processed but not yet voted on.
	StatusProcessed SlotStatus = "processed"

	// StatusConfirmed means a supermajority voted on the slot, but it may still be reverted.
	StatusConfirmed SlotStatus = "confirmed"

	// StatusRooted means the slot is permanently part of the canonical chain.
	StatusRooted SlotStatus = "rooted"

	// StatusDead means the slot lost a fork race and will never be rooted.
	StatusDead SlotStatus = "dead"
)

// String returns the string representation of the slot status.
func (s SlotStatus) String() string {
	return string(s)
}

// IsValid checks if the SlotStatus value is valid.
func (s SlotStatus) IsValid() bool {
	switch s {
	case StatusProcessed, StatusConfirmed, StatusRooted, StatusDead:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status can never change again.
func (s SlotStatus) IsTerminal() bool {
	return s == StatusRooted || s == StatusDead
}

// ParseSlotStatus parses a string into a SlotStatus.
func ParseSlotStatus(s string) (SlotStatus, error) {
	status := SlotStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid slot status: %s (must be one of: processed, confirmed, rooted, dead)", s)
	}
	return status, nil
}
