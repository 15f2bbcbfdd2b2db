package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
)

const (
	defaultPageSize = 200
	settingsTable   = "settings"
	eventsTable     = "membermouse_events"
)

// Store provides database-backed accessors for application data.
type Store struct {
	db *sql.DB
}

// New creates a Store using the provided sql.DB connection.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &Store{db: db}, nil
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store: db cannot be nil")
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// LoadSettings returns every stored setting as name/value pairs.
func (s *Store) LoadSettings(ctx context.Context) (map[string]string, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store: db cannot be nil")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM `+settingsTable)
	if err != nil {
		return nil, fmt.Errorf("store: query %s: %w", settingsTable, err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var (
			name  string
			value sql.NullString
		)
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("store: scan %s: %w", settingsTable, err)
		}
		values[name] = value.String
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate %s: %w", settingsTable, err)
	}

	return values, nil
}

// SaveSettings upserts the given settings in one transaction. Keys not in
// values are left untouched.
func (s *Store) SaveSettings(ctx context.Context, values map[string]string) error {
	if s == nil || s.db == nil {
		return errors.New("store: db cannot be nil")
	}
	if len(values) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin save settings tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, name := range sortedKeys(values) {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO settings (name, value)
			 VALUES ($1, $2)
			 ON CONFLICT (name) DO UPDATE
			 SET value = EXCLUDED.value,
			     updated_at = now()`,
			name,
			values[name],
		); err != nil {
			return fmt.Errorf("store: upsert setting %q: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit save settings tx: %w", err)
	}

	return nil
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

// sortedKeys gives a stable statement order so concurrent saves lock rows in
// the same sequence.
func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
