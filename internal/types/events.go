package types

// AccountUpdate is a single account-state change notification from the host.
// It is immutable after construction; ownership passes from the intake to the
// staging buffer and, on promotion, to the commit sink and broadcaster.
type AccountUpdate struct {
	// Account is the address of the account that changed.
	Account Pubkey

	// Owner is the program that owns the account.
	Owner Pubkey

	// Lamports is the account balance after the change.
	Lamports uint64

	// Data is the opaque account data payload.
	Data []byte

	// Slot is the slot in which the change was observed.
	Slot uint64

	// WriteVersion disambiguates multiple writes to the same account within
	// one slot; higher values are more recent.
	WriteVersion uint64

	// Startup marks updates replayed from the startup snapshot. Snapshot
	// updates have no fork ambiguity and bypass per-slot staging.
	Startup bool

	// Deleted marks the account as closed. Committed as a tombstone.
	Deleted bool
}

// SlotStatusUpdate is a slot finality transition notification from the host.
type SlotStatusUpdate struct {
	Slot   uint64
	Parent uint64
	Status SlotStatus
}

// CommittedUpdate is an account update that survived fork resolution. For any
// account, the sequence of committed updates emitted by the pipeline is
// strictly increasing in (Slot, WriteVersion) and contains only updates from
// rooted slots.
type CommittedUpdate struct {
	Account      Pubkey
	Owner        Pubkey
	Lamports     uint64
	Data         []byte
	Slot         uint64
	WriteVersion uint64
	Deleted      bool
}

// Supersedes reports whether this update is strictly newer than the given
// (slot, writeVersion) pair in lexicographic order.
func (u CommittedUpdate) Supersedes(slot, writeVersion uint64) bool {
	if u.Slot != slot {
		return u.Slot > slot
	}
	return u.WriteVersion > writeVersion
}

// Committed converts an account update into its committed form.
func (a *AccountUpdate) Committed() CommittedUpdate {
	return CommittedUpdate{
		Account:      a.Account,
		Owner:        a.Owner,
		Lamports:     a.Lamports,
		Data:         a.Data,
		Slot:         a.Slot,
		WriteVersion: a.WriteVersion,
		Deleted:      a.Deleted,
	}
}
