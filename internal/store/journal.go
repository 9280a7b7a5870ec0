package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run identifies one invocation of the harness across its scenarios.
type Run struct {
	ID        string
	Suite     string
	StartedAt time.Time
}

// Attempt is one authentication attempt within a scenario, in execution
// order. Status is the raw message of the phase that stopped the attempt
// (empty on success); Pass records whether all three phases passed.
type Attempt struct {
	RunID    string
	Scenario string
	Seq      int
	Phase    string
	Status   string
	Pass     bool
}

// BeginRun inserts a new run row and returns it.
func (s *Store) BeginRun(ctx context.Context, suite string) (Run, error) {
	run := Run{
		ID:        uuid.NewString(),
		Suite:     suite,
		StartedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, suite, started_at)
		VALUES (?, ?, ?)
	`, run.ID, run.Suite, run.StartedAt.Format(time.RFC3339))
	if err != nil {
		return Run{}, fmt.Errorf("begin run: %w", err)
	}

	return run, nil
}

// WriteAttempt inserts an attempt record.
// Uses ON CONFLICT DO NOTHING so replaying a journal write is idempotent.
func (s *Store) WriteAttempt(ctx context.Context, a Attempt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attempts (run_id, scenario, seq, phase, status, pass)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, a.RunID, a.Scenario, a.Seq, a.Phase, a.Status, a.Pass)
	if err != nil {
		return fmt.Errorf("write attempt: %w", err)
	}
	return nil
}

// ReadAttempts returns all attempts for a run in deterministic order:
// scenario name, then attempt sequence.
//
// Returns an empty slice (not nil) if the run has no attempts.
func (s *Store) ReadAttempts(ctx context.Context, runID string) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, scenario, seq, phase, status, pass
		FROM attempts
		WHERE run_id = ?
		ORDER BY scenario ASC, seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	attempts := []Attempt{}
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.RunID, &a.Scenario, &a.Seq, &a.Phase, &a.Status, &a.Pass); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}

	return attempts, nil
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, suite, started_at
		FROM runs
		ORDER BY started_at DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var (
			run Run
			raw string
		)
		if err := rows.Scan(&run.ID, &run.Suite, &raw); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.StartedAt, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("parse run timestamp: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}
