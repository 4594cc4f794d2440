package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/russross/meddler"

	"github.com/geyserpipe/geyserpipe/internal/common"
	"github.com/geyserpipe/geyserpipe/internal/logger"
	"github.com/geyserpipe/geyserpipe/internal/metrics"
	"github.com/geyserpipe/geyserpipe/internal/types"
	"github.com/geyserpipe/geyserpipe/pkg/config"
)

// upsert statements per dialect. The WHERE clause is the compare-and-swap: an
// incoming row only lands if its (slot, write_version) is not older than what
// is already persisted. Equality passes so a crash-replayed batch converges to
// the same row instead of failing.
const (
	upsertSQLite = `INSERT INTO account_state
		(account, owner, lamports, data, slot, write_version, deleted, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account) DO UPDATE SET
			owner = excluded.owner,
			lamports = excluded.lamports,
			data = excluded.data,
			slot = excluded.slot,
			write_version = excluded.write_version,
			deleted = excluded.deleted,
			updated_at = excluded.updated_at
		WHERE excluded.slot > account_state.slot
			OR (excluded.slot = account_state.slot
				AND excluded.write_version >= account_state.write_version)`

	upsertPostgres = `INSERT INTO account_state
		(account, owner, lamports, data, slot, write_version, deleted, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT(account) DO UPDATE SET
			owner = excluded.owner,
			lamports = excluded.lamports,
			data = excluded.data,
			slot = excluded.slot,
			write_version = excluded.write_version,
			deleted = excluded.deleted,
			updated_at = excluded.updated_at
		WHERE excluded.slot > account_state.slot
			OR (excluded.slot = account_state.slot
				AND excluded.write_version >= account_state.write_version)`
)

// Store is the commit sink: it drains promoted batches from the staging
// buffer and persists them transactionally. A batch that cannot be written
// after the configured retries is a fatal pipeline error; the store never
// silently drops committed state.
type Store struct {
	db  *sql.DB
	cfg config.StoreConfig
	log *logger.Logger
	in  <-chan []types.CommittedUpdate

	upsertSQL string
}

// New creates a commit sink writing to the given database handle.
func New(db *sql.DB, cfg config.StoreConfig, in <-chan []types.CommittedUpdate, log *logger.Logger) *Store {
	s := &Store{
		db:        db,
		cfg:       cfg,
		log:       log.WithComponent(common.ComponentCommitSink),
		in:        in,
		upsertSQL: upsertSQLite,
	}
	if cfg.Driver == config.DriverPostgres {
		s.upsertSQL = upsertPostgres
	}

	metrics.ComponentHealthSet(common.ComponentCommitSink, true)

	s.log.Infow("commit sink initialized",
		"driver", cfg.Driver,
		"batch_size", cfg.BatchSize,
	)

	return s
}

// Run drains promoted batches until the input channel closes or the context
// is cancelled. Every batch received before close is written out, so a clean
// shutdown loses nothing that was already promoted.
func (s *Store) Run(ctx context.Context) error {
	defer metrics.ComponentHealthSet(common.ComponentCommitSink, false)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("commit sink cancelled")
			return ctx.Err()
		case batch, ok := <-s.in:
			if !ok {
				s.log.Info("commit sink finished")
				return nil
			}
			if err := s.CommitBatch(ctx, batch); err != nil {
				metrics.Errors.WithLabelValues(common.ComponentCommitSink, "fatal").Inc()
				// keep draining so the staging worker can finish its own
				// shutdown instead of blocking on a full commit channel
				go func() {
					for range s.in { //nolint:revive
					}
				}()
				return fmt.Errorf("committing batch of %d updates: %w", len(batch), err)
			}
		}
	}
}

// CommitBatch writes one promoted batch, splitting it into transactions of at most
// BatchSize rows.
func (s *Store) CommitBatch(ctx context.Context, batch []types.CommittedUpdate) error {
	for len(batch) > 0 {
		n := len(batch)
		if s.cfg.BatchSize > 0 && n > s.cfg.BatchSize {
			n = s.cfg.BatchSize
		}
		chunk := batch[:n]
		batch = batch[n:]

		start := time.Now()
		err := retryWithBackoff(ctx, s.cfg.Retry, func() error {
			return s.writeChunk(ctx, chunk)
		})
		metrics.StoreBatchDuration(s.cfg.Driver, time.Since(start))

		if err != nil {
			metrics.StoreWriteInc("failed", len(chunk))
			return err
		}

		metrics.StoreWriteInc("ok", len(chunk))
		s.log.Debugw("committed batch",
			"updates", len(chunk),
			"elapsed", time.Since(start),
		)
	}
	return nil
}

// writeChunk applies one chunk inside a single transaction so a mid-batch
// crash can never persist a descendant's state without its ancestor's.
func (s *Store) writeChunk(ctx context.Context, chunk []types.CommittedUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, s.upsertSQL)
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for i := range chunk {
		u := &chunk[i]

		deleted := int64(0)
		data := u.Data
		if u.Deleted {
			deleted = 1
			data = nil
		}

		if _, err := stmt.ExecContext(ctx,
			u.Account.String(),
			u.Owner.String(),
			int64(u.Lamports),
			data,
			int64(u.Slot),
			int64(u.WriteVersion),
			deleted,
			now,
		); err != nil {
			return fmt.Errorf("upserting account %s (slot %d): %w", u.Account.String(), u.Slot, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// GetAccount returns the live state of one account. Tombstoned accounts are
// reported as not found.
func (s *Store) GetAccount(ctx context.Context, account types.Pubkey) (*Account, error) {
	q := "SELECT * FROM account_state WHERE account = ?"
	if s.cfg.Driver == config.DriverPostgres {
		q = "SELECT * FROM account_state WHERE account = $1"
	}

	var row Account
	err := meddler.QueryRow(s.db, &row, q, account.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying account %s: %w", account.String(), err)
	}
	if row.IsDeleted() {
		return nil, ErrNotFound
	}
	return &row, nil
}

// ListAccountsByOwner returns up to limit live accounts owned by the given
// program, ordered by address for stable pagination.
func (s *Store) ListAccountsByOwner(ctx context.Context, owner types.Pubkey, limit int) ([]*Account, error) {
	q := "SELECT * FROM account_state WHERE owner = ? AND deleted = 0 ORDER BY account LIMIT ?"
	if s.cfg.Driver == config.DriverPostgres {
		q = "SELECT * FROM account_state WHERE owner = $1 AND deleted = 0 ORDER BY account LIMIT $2"
	}

	var rows []*Account
	if err := meddler.QueryAll(s.db, &rows, q, owner.String(), limit); err != nil {
		return nil, fmt.Errorf("querying accounts by owner %s: %w", owner.String(), err)
	}
	return rows, nil
}

// GetStats returns aggregate counters over the persisted state.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	var stats Stats
	err := meddler.QueryRow(s.db, &stats, `SELECT
			COUNT(*) AS total_accounts,
			COALESCE(SUM(CASE WHEN deleted != 0 THEN 1 ELSE 0 END), 0) AS deleted_accounts,
			COALESCE(MAX(slot), 0) AS highest_slot
		FROM account_state`)
	if err != nil {
		return nil, fmt.Errorf("querying store stats: %w", err)
	}
	return &stats, nil
}
