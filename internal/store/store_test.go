package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/geyserpipe/geyserpipe/internal/db"
	"github.com/geyserpipe/geyserpipe/internal/logger"
	"github.com/geyserpipe/geyserpipe/internal/migrations"
	"github.com/geyserpipe/geyserpipe/internal/types"
	"github.com/geyserpipe/geyserpipe/pkg/config"
)

func newTestStore(t *testing.T, in <-chan []types.CommittedUpdate) *Store {
	t.Helper()

	cfg := config.StoreConfig{
		Driver: config.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "accounts.db"),
	}
	cfg.ApplyDefaults()

	conn, err := db.NewFromConfig(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, migrations.RunMigrations(logger.NewNopLogger(), conn, cfg))

	return New(conn, cfg, in, logger.NewNopLogger())
}

func pubkey(t *testing.T, b byte) types.Pubkey {
	t.Helper()

	raw := make([]byte, types.PubkeyLength)
	raw[0] = b
	pk, err := types.PubkeyFromBytes(raw)
	require.NoError(t, err)
	return pk
}

func update(account, owner types.Pubkey, lamports, slot, writeVersion uint64) types.CommittedUpdate {
	return types.CommittedUpdate{
		Account:      account,
		Owner:        owner,
		Lamports:     lamports,
		Data:         []byte{0xde, 0xad},
		Slot:         slot,
		WriteVersion: writeVersion,
	}
}

func TestStore_UpsertCompareAndSwap(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	x := pubkey(t, 1)
	owner := pubkey(t, 9)

	require.NoError(t, s.CommitBatch(ctx, []types.CommittedUpdate{update(x, owner, 100, 10, 1)}))

	// a stale row must not overwrite
	require.NoError(t, s.CommitBatch(ctx, []types.CommittedUpdate{update(x, owner, 1, 9, 99)}))

	row, err := s.GetAccount(ctx, x)
	require.NoError(t, err)
	require.Equal(t, uint64(100), row.Lamports)
	require.Equal(t, uint64(10), row.Slot)

	// a newer row must overwrite
	require.NoError(t, s.CommitBatch(ctx, []types.CommittedUpdate{update(x, owner, 200, 11, 1)}))

	row, err = s.GetAccount(ctx, x)
	require.NoError(t, err)
	require.Equal(t, uint64(200), row.Lamports)
	require.Equal(t, uint64(11), row.Slot)
}

func TestStore_ReplayIsIdempotent(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	x := pubkey(t, 2)
	owner := pubkey(t, 9)
	batch := []types.CommittedUpdate{update(x, owner, 55, 20, 3)}

	// same batch twice, as after a crash between write and acknowledgment
	require.NoError(t, s.CommitBatch(ctx, batch))
	require.NoError(t, s.CommitBatch(ctx, batch))

	row, err := s.GetAccount(ctx, x)
	require.NoError(t, err)
	require.Equal(t, uint64(55), row.Lamports)
	require.Equal(t, uint64(3), row.WriteVersion)
}

func TestStore_TombstoneWinsOverStaleWrite(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	x := pubkey(t, 3)
	owner := pubkey(t, 9)

	dead := update(x, owner, 0, 10, 1)
	dead.Deleted = true
	require.NoError(t, s.CommitBatch(ctx, []types.CommittedUpdate{dead}))

	_, err := s.GetAccount(ctx, x)
	require.ErrorIs(t, err, ErrNotFound)

	// a stale non-deleted write must not resurrect the account
	require.NoError(t, s.CommitBatch(ctx, []types.CommittedUpdate{update(x, owner, 999, 9, 5)}))

	_, err = s.GetAccount(ctx, x)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListAccountsByOwner(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	owner := pubkey(t, 9)
	other := pubkey(t, 10)

	dead := update(pubkey(t, 3), owner, 0, 1, 3)
	dead.Deleted = true

	require.NoError(t, s.CommitBatch(ctx, []types.CommittedUpdate{
		update(pubkey(t, 1), owner, 1, 1, 1),
		update(pubkey(t, 2), owner, 2, 1, 2),
		dead,
		update(pubkey(t, 4), other, 4, 1, 4),
	}))

	rows, err := s.ListAccountsByOwner(ctx, owner, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		require.Equal(t, owner, row.Owner)
		require.False(t, row.IsDeleted())
	}

	rows, err = s.ListAccountsByOwner(ctx, owner, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestStore_GetStats(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	owner := pubkey(t, 9)
	dead := update(pubkey(t, 2), owner, 0, 7, 1)
	dead.Deleted = true

	require.NoError(t, s.CommitBatch(ctx, []types.CommittedUpdate{
		update(pubkey(t, 1), owner, 1, 5, 1),
		dead,
	}))

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.TotalAccounts)
	require.Equal(t, int64(1), stats.DeletedAccounts)
	require.Equal(t, uint64(7), stats.HighestSlot)
}

func TestStore_RunDrainsUntilClose(t *testing.T) {
	in := make(chan []types.CommittedUpdate, 4)
	s := newTestStore(t, in)

	x := pubkey(t, 5)
	owner := pubkey(t, 9)

	in <- []types.CommittedUpdate{update(x, owner, 10, 1, 1)}
	in <- []types.CommittedUpdate{update(x, owner, 20, 2, 1)}
	close(in)

	require.NoError(t, s.Run(context.Background()))

	row, err := s.GetAccount(context.Background(), x)
	require.NoError(t, err)
	require.Equal(t, uint64(20), row.Lamports)
}

func TestStore_LargeBatchSplitsTransactions(t *testing.T) {
	s := newTestStore(t, nil)
	s.cfg.BatchSize = 3
	ctx := context.Background()

	owner := pubkey(t, 9)
	batch := make([]types.CommittedUpdate, 0, 10)
	for i := byte(1); i <= 10; i++ {
		batch = append(batch, update(pubkey(t, i), owner, uint64(i), 1, uint64(i)))
	}

	require.NoError(t, s.CommitBatch(ctx, batch))

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(10), stats.TotalAccounts)
}
