// Package checkpoint persists controller state snapshots so an operator can
// roll the control loop back to a known-good point.
//
// Snapshots are written when the controller advises a checkpoint (Unwrap mode,
// latency over budget by more than the configured margin) or on request.
package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
	_ "modernc.org/sqlite"

	"github.com/alexshd/homeostat"
)

// ErrNotFound is returned when no snapshot matches.
var ErrNotFound = errors.New("checkpoint not found")

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	id             TEXT PRIMARY KEY,
	reason         TEXT NOT NULL,
	integral       REAL NOT NULL,
	prev_error     REAL NOT NULL,
	last_mode      INTEGER NOT NULL,
	ticks          INTEGER NOT NULL,
	latency_p99    REAL NOT NULL,
	lmax           REAL NOT NULL,
	created_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_created ON checkpoints(created_at);
`

// timeLayout is fixed-width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Reasons recorded with a snapshot.
const (
	ReasonAdvised = "advised" // Controller raised checkpointRequested
	ReasonManual  = "manual"  // Operator request
)

// Snapshot is one persisted controller state.
type Snapshot struct {
	ID         string                 `json:"id"`
	Reason     string                 `json:"reason"`
	State      homeostat.ControlState `json:"state"`
	LatencyP99 float64                `json:"latency_p99"`
	Lmax       float64                `json:"lmax"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Store keeps snapshots in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and runs migrations.
// Use ":memory:" for a process-local store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes a snapshot and returns it as stored. ID and CreatedAt are assigned
// when empty.
func (s *Store) Save(ctx context.Context, snap Snapshot) (Snapshot, error) {
	if snap.ID == "" {
		snap.ID = xid.New().String()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = s.now().UTC()
	}
	if snap.Reason == "" {
		snap.Reason = ReasonManual
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (id, reason, integral, prev_error, last_mode, ticks, latency_p99, lmax, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.Reason,
		snap.State.Integral, snap.State.PreviousError, int(snap.State.LastMode), int64(snap.State.Ticks),
		snap.LatencyP99, snap.Lmax,
		snap.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return Snapshot{}, fmt.Errorf("insert checkpoint: %w", err)
	}
	return snap, nil
}

// Load returns the snapshot with the given id.
func (s *Store) Load(ctx context.Context, id string) (Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, reason, integral, prev_error, last_mode, ticks, latency_p99, lmax, created_at
		 FROM checkpoints WHERE id = ?`, id)
	snap, err := scanSnapshot(row)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load checkpoint %s: %w", id, err)
	}
	return snap, nil
}

// Latest returns the most recent snapshot.
func (s *Store) Latest(ctx context.Context) (Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, reason, integral, prev_error, last_mode, ticks, latency_p99, lmax, created_at
		 FROM checkpoints ORDER BY created_at DESC, id DESC LIMIT 1`)
	snap, err := scanSnapshot(row)
	if err != nil {
		return Snapshot{}, fmt.Errorf("latest checkpoint: %w", err)
	}
	return snap, nil
}

// List returns up to limit snapshots, newest first. limit ≤ 0 means 20.
func (s *Store) List(ctx context.Context, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, reason, integral, prev_error, last_mode, ticks, latency_p99, lmax, created_at
		 FROM checkpoints ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("list checkpoints: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(sc scanner) (Snapshot, error) {
	var (
		snap    Snapshot
		mode    int
		ticks   int64
		created string
	)
	err := sc.Scan(&snap.ID, &snap.Reason,
		&snap.State.Integral, &snap.State.PreviousError, &mode, &ticks,
		&snap.LatencyP99, &snap.Lmax, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}

	m, err := homeostat.ParseMode(mode)
	if err != nil {
		return Snapshot{}, fmt.Errorf("stored mode: %w", err)
	}
	snap.State.LastMode = m
	snap.State.Ticks = uint64(ticks)
	snap.CreatedAt, _ = time.Parse(timeLayout, created)
	return snap, nil
}
