package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nerrad567/homebus/internal/infrastructure/database"
)

// lastIDKey is the registry_meta row holding the id counter.
const lastIDKey = "device_last_id"

// SQLiteStore keeps the snapshot in the registry_meta and registry_devices
// tables. The schema is created by the embedded migrations; call
// database.DB.Migrate before using the store.
type SQLiteStore struct {
	db *database.DB
}

// NewSQLiteStore returns a store backed by db.
func NewSQLiteStore(db *database.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Load reads the counter and every device row.
// A database without a counter row has never been saved to.
func (s *SQLiteStore) Load(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM registry_meta WHERE key = ?", lastIDKey,
	).Scan(&snap.LastID)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNoSnapshot, s.db.Path())
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("querying device counter: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT id, kind FROM registry_devices")
	if err != nil {
		return Snapshot{}, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	snap.Devices = make(map[string]Kind)
	for rows.Next() {
		var id, kind string
		if err := rows.Scan(&id, &kind); err != nil {
			return Snapshot{}, fmt.Errorf("scanning device: %w", err)
		}
		snap.Devices[id] = Kind(kind)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("iterating devices: %w", err)
	}

	return snap, nil
}

// Save replaces the stored snapshot in a single transaction.
func (s *SQLiteStore) Save(ctx context.Context, snap Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM registry_devices"); err != nil {
		return fmt.Errorf("clearing devices: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO registry_devices (id, kind) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("preparing device insert: %w", err)
	}
	defer stmt.Close()

	for id, kind := range snap.Devices {
		if _, err := stmt.ExecContext(ctx, id, string(kind)); err != nil {
			return fmt.Errorf("inserting device %s: %w", id, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO registry_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		lastIDKey, snap.LastID,
	); err != nil {
		return fmt.Errorf("saving device counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot: %w", err)
	}
	return nil
}
