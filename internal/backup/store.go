// Package backup keeps a local SQLite archive of profiles taken before each
// remote write, so a bad sync can be rolled back.
package backup

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mrcode/nightscout-autotune/internal/models"

	_ "modernc.org/sqlite"
)

// ErrSnapshotNotFound is returned by Get for an unknown id
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Snapshot is one archived profile
type Snapshot struct {
	ID          string
	ProfileName string
	CreatedAt   time.Time
	Profile     models.ProfileStore
}

// Store archives profiles in a SQLite database
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// Open opens or creates the archive at path
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup database: %w", err)
	}
	// a single writer keeps sqlite from reporting SQLITE_BUSY
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		profile_name TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		profile TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_name ON snapshots(profile_name, created_at);`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate backup database: %w", err)
	}
	return nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Save archives profile under name
func (s *Store) Save(ctx context.Context, name string, profile models.ProfileStore) (Snapshot, error) {
	body, err := json.Marshal(profile)
	if err != nil {
		return Snapshot{}, fmt.Errorf("encoding profile: %w", err)
	}

	snap := Snapshot{
		ID:          uuid.NewString(),
		ProfileName: name,
		CreatedAt:   s.now().UTC().Truncate(time.Millisecond),
		Profile:     profile.Clone(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, profile_name, created_at, profile) VALUES (?, ?, ?, ?)`,
		snap.ID, snap.ProfileName, snap.CreatedAt.UnixMilli(), string(body))
	if err != nil {
		return Snapshot{}, fmt.Errorf("saving snapshot: %w", err)
	}

	s.logger.Debug("saved profile snapshot", zap.String("id", snap.ID), zap.String("profile", name))
	return snap, nil
}

// List returns snapshots newest first. An empty name lists every profile.
func (s *Store) List(ctx context.Context, name string) ([]Snapshot, error) {
	query := `SELECT id, profile_name, created_at, profile FROM snapshots`
	var args []any
	if name != "" {
		query += ` WHERE profile_name = ?`
		args = append(args, name)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// Get returns a single snapshot
func (s *Store) Get(ctx context.Context, id string) (Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, profile_name, created_at, profile FROM snapshots WHERE id = ?`, id)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	return snap, err
}

// Delete removes a snapshot. Unknown ids wrap ErrSnapshotNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting snapshot %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	s.logger.Debug("deleted profile snapshot", zap.String("id", id))
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (Snapshot, error) {
	var (
		snap    Snapshot
		created int64
		body    string
	)
	if err := row.Scan(&snap.ID, &snap.ProfileName, &created, &body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, err
		}
		return Snapshot{}, fmt.Errorf("reading snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(body), &snap.Profile); err != nil {
		return Snapshot{}, fmt.Errorf("decoding snapshot %s: %w", snap.ID, err)
	}
	snap.CreatedAt = time.UnixMilli(created).UTC()
	return snap, nil
}
