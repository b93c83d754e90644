package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tickgraph/tickgraph/internal/sim"
)

// RunMeta describes one stored run.
type RunMeta struct {
	RunID     string
	CreatedAt string
	Scenario  []byte // scenario JSON as applied
	Seed      int64
	Step      float64
	Ticks     int64
}

// CreateRun registers a run before any log entries are appended.
func (s *Store) CreateRun(ctx context.Context, meta RunMeta) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, scenario, seed, step, ticks)
		VALUES (?, ?, ?, ?, ?)
	`, meta.RunID, string(meta.Scenario), meta.Seed, meta.Step, meta.Ticks)
	if err != nil {
		return fmt.Errorf("create run %s: %w", meta.RunID, err)
	}
	return nil
}

// AppendEntries writes a batch of activity log entries in one transaction.
// Re-appending an already stored sequence is a no-op, so flushing the full
// in-memory log after every tick stays idempotent.
func (s *Store) AppendEntries(ctx context.Context, runID string, entries []sim.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO activity_log
			(run_id, seq, tick, timestamp, node_id, action, value, state, buffer_size, output_buffer_size, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, seq) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare append: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		var value any
		if e.Value != nil {
			encoded, err := json.Marshal(e.Value)
			if err != nil {
				return fmt.Errorf("encode value for seq %d: %w", e.Sequence, err)
			}
			value = string(encoded)
		}
		_, err := stmt.ExecContext(ctx,
			runID, e.Sequence, e.Tick, e.Timestamp, e.NodeID, string(e.Action),
			value, e.State, e.BufferSize, e.OutputBufferSize, e.Details)
		if err != nil {
			return fmt.Errorf("append seq %d: %w", e.Sequence, err)
		}
	}

	return tx.Commit()
}

// SetTicks records how far a run has advanced.
func (s *Store) SetTicks(ctx context.Context, runID string, ticks int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE runs SET ticks = ? WHERE run_id = ?`, ticks, runID)
	if err != nil {
		return fmt.Errorf("set ticks for %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no such run %s", runID)
	}
	return nil
}
