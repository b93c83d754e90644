package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tickgraph/tickgraph/internal/sim"
)

// ErrNotFound is returned when a run or log position does not exist.
var ErrNotFound = errors.New("not found")

// GetRun loads one run's metadata.
func (s *Store) GetRun(ctx context.Context, runID string) (RunMeta, error) {
	var meta RunMeta
	var scenarioJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, created_at, scenario, seed, step, ticks
		FROM runs WHERE run_id = ?
	`, runID).Scan(&meta.RunID, &meta.CreatedAt, &scenarioJSON, &meta.Seed, &meta.Step, &meta.Ticks)
	if errors.Is(err, sql.ErrNoRows) {
		return RunMeta{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return RunMeta{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	meta.Scenario = []byte(scenarioJSON)
	return meta, nil
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]RunMeta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, created_at, scenario, seed, step, ticks
		FROM runs ORDER BY created_at DESC, run_id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunMeta
	for rows.Next() {
		var meta RunMeta
		var scenarioJSON string
		if err := rows.Scan(&meta.RunID, &meta.CreatedAt, &scenarioJSON, &meta.Seed, &meta.Step, &meta.Ticks); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		meta.Scenario = []byte(scenarioJSON)
		out = append(out, meta)
	}
	return out, rows.Err()
}

// ReadLog returns a run's full activity log in sequence order.
func (s *Store) ReadLog(ctx context.Context, runID string) ([]sim.Entry, error) {
	return s.readEntries(ctx, `
		SELECT seq, tick, timestamp, node_id, action, value, state, buffer_size, output_buffer_size, details
		FROM activity_log WHERE run_id = ? ORDER BY seq
	`, runID)
}

// ReadNodeLog returns one node's entries in sequence order.
func (s *Store) ReadNodeLog(ctx context.Context, runID, nodeID string) ([]sim.Entry, error) {
	return s.readEntries(ctx, `
		SELECT seq, tick, timestamp, node_id, action, value, state, buffer_size, output_buffer_size, details
		FROM activity_log WHERE run_id = ? AND node_id = ? ORDER BY seq
	`, runID, nodeID)
}

// NodeStateAt answers "what was this node's state at time T" from the log
// alone: the state recorded by the node's last entry at or before T.
func (s *Store) NodeStateAt(ctx context.Context, runID, nodeID string, t float64) (string, error) {
	var state string
	err := s.db.QueryRowContext(ctx, `
		SELECT state FROM activity_log
		WHERE run_id = ? AND node_id = ? AND timestamp <= ?
		ORDER BY seq DESC LIMIT 1
	`, runID, nodeID, t).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("no entries for node %s at or before t=%g: %w", nodeID, t, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("state at t=%g: %w", t, err)
	}
	return state, nil
}

func (s *Store) readEntries(ctx context.Context, query string, args ...any) ([]sim.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer rows.Close()

	var out []sim.Entry
	for rows.Next() {
		var e sim.Entry
		var action string
		var value sql.NullString
		if err := rows.Scan(&e.Sequence, &e.Tick, &e.Timestamp, &e.NodeID, &action,
			&value, &e.State, &e.BufferSize, &e.OutputBufferSize, &e.Details); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Action = sim.Action(action)
		if value.Valid {
			var decoded any
			if err := json.Unmarshal([]byte(value.String), &decoded); err != nil {
				return nil, fmt.Errorf("decode value for seq %d: %w", e.Sequence, err)
			}
			e.Value = decoded
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
