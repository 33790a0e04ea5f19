package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"foamagent/pkg/proto"
	"foamagent/pkg/utils"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// RunSummary is the list view of a stored run.
type RunSummary struct {
	ID          string
	Requirement string
	Status      proto.RunStatus
	Reason      string
	Iterations  int
	StartedAt   time.Time
}

// RunStore keeps run records in SQLite. The full record is stored as JSON
// next to one row per iteration for querying.
type RunStore struct {
	db *sql.DB
}

// NewRunStore wraps an open database.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// SaveRun upserts rec and its iterations.
func (s *RunStore) SaveRun(ctx context.Context, rec *proto.RunRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("run record must have an id")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode run record: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is safe to call after commit

	var finished any
	if !rec.FinishedAt.IsZero() {
		finished = rec.FinishedAt.UTC()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, requirement, status, reason, iterations, started_at, finished_at, record)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			reason = excluded.reason,
			iterations = excluded.iterations,
			finished_at = excluded.finished_at,
			record = excluded.record`,
		rec.ID, rec.Requirement, string(rec.Status), rec.Reason, len(rec.Iterations),
		rec.StartedAt.UTC(), finished, string(data))
	if err != nil {
		return fmt.Errorf("failed to upsert run %s: %w", rec.ID, err)
	}

	for i := range rec.Iterations {
		it := &rec.Iterations[i]
		var outcome, kind string
		if it.Result != nil {
			outcome = string(it.Result.Outcome)
		}
		if it.Diagnosis != nil {
			kind = string(it.Diagnosis.Kind)
		}
		delta, err := json.Marshal(it.PlanDelta)
		if err != nil {
			return fmt.Errorf("failed to encode plan delta: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO run_iterations (run_id, number, snapshot_id, outcome, diagnosis_kind, plan_delta)
			VALUES (?, ?, ?, ?, ?, ?)`,
			rec.ID, it.Number, it.SnapshotID, outcome, kind, string(delta))
		if err != nil {
			return fmt.Errorf("failed to insert iteration %d of run %s: %w", it.Number, rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadRun returns the stored record for id.
func (s *RunStore) LoadRun(ctx context.Context, id string) (*proto.RunRecord, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM runs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}
	var rec proto.RunRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", id, err)
	}
	return &rec, nil
}

// ListRuns returns the most recent runs first.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, requirement, status, reason, iterations, started_at
		FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Close in defer is safe

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var status string
		if err := rows.Scan(&r.ID, &r.Requirement, &status, &r.Reason, &r.Iterations, &r.StartedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Status = proto.RunStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

// FileStore keeps one JSON file per run under a directory.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir. The directory is created on
// first save.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// SaveRun writes rec atomically.
func (s *FileStore) SaveRun(_ context.Context, rec *proto.RunRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("run record must have an id")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create record dir: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run record: %w", err)
	}
	return utils.WriteFileAtomic(s.path(rec.ID), data, 0o644)
}

// LoadRun reads the record for id.
func (s *FileStore) LoadRun(_ context.Context, id string) (*proto.RunRecord, error) {
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run %s: %w", id, err)
	}
	var rec proto.RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", id, err)
	}
	return &rec, nil
}

// ListRuns returns stored run ids sorted.
func (s *FileStore) ListRuns(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			ids = append(ids, e.Name()[:len(e.Name())-len(".json")])
		}
	}
	sort.Strings(ids)
	return ids, nil
}
