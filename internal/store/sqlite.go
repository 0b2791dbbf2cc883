package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/WinkyTy/layout-converter/internal/layout"
	"github.com/WinkyTy/layout-converter/internal/registry"
)

// StoredLayout is a persisted layout plus bookkeeping.
type StoredLayout struct {
	Layout    layout.Descriptor
	Source    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is the SQLite layout store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path and runs migrations.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Each connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveLayout inserts or replaces a layout. The descriptor is validated first
// so the store never holds a layout the registry would reject.
func (s *Store) SaveLayout(ctx context.Context, d layout.Descriptor, source string) error {
	if _, err := layout.New(d); err != nil {
		return err
	}
	words, err := json.Marshal(d.IndicativeWords)
	if err != nil {
		return fmt.Errorf("encode words: %w", err)
	}
	now := time.Now().UnixNano()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO layouts (id, name, family_id, layout_id, language, frequency_score, words, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			family_id = excluded.family_id,
			layout_id = excluded.layout_id,
			language = excluded.language,
			frequency_score = excluded.frequency_score,
			words = excluded.words,
			source = excluded.source,
			updated_at = excluded.updated_at`,
		d.ID, d.Name, d.FamilyID, d.LayoutID, d.Language, d.FrequencyScore, string(words), source, now, now,
	)
	if err != nil {
		return fmt.Errorf("save layout: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM layout_keys WHERE layout = ?", d.ID); err != nil {
		return fmt.Errorf("clear keys: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO layout_keys (layout, position, char) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare keys: %w", err)
	}
	defer stmt.Close()
	for pos, ch := range d.Keys {
		if _, err := stmt.ExecContext(ctx, d.ID, pos, ch); err != nil {
			return fmt.Errorf("insert key %d: %w", pos, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// GetLayout retrieves a layout by id. It returns nil, nil when absent.
func (s *Store) GetLayout(ctx context.Context, id string) (*StoredLayout, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, family_id, layout_id, language, frequency_score, words, source, created_at, updated_at
		FROM layouts WHERE id = ?`, id)
	sl, err := scanLayout(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get layout: %w", err)
	}

	keys, err := s.keys(ctx, id)
	if err != nil {
		return nil, err
	}
	sl.Layout.Keys = keys
	return sl, nil
}

// ListLayouts returns every stored layout ordered by id.
func (s *Store) ListLayouts(ctx context.Context) ([]StoredLayout, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, family_id, layout_id, language, frequency_score, words, source, created_at, updated_at
		FROM layouts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list layouts: %w", err)
	}

	var out []StoredLayout
	for rows.Next() {
		sl, err := scanLayout(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan layout: %w", err)
		}
		out = append(out, *sl)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range out {
		keys, err := s.keys(ctx, out[i].Layout.ID)
		if err != nil {
			return nil, err
		}
		out[i].Layout.Keys = keys
	}
	return out, nil
}

// DeleteLayout removes a layout and its keys. It reports whether a row
// existed.
func (s *Store) DeleteLayout(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM layouts WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete layout: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete layout: %w", err)
	}
	return n > 0, nil
}

// LoadAll installs every stored layout into reg and returns the ids loaded.
// A layout that fails to load is skipped and reported in the joined error.
func (s *Store) LoadAll(ctx context.Context, reg *registry.Registry) ([]string, error) {
	stored, err := s.ListLayouts(ctx)
	if err != nil {
		return nil, err
	}

	var (
		ids  []string
		errs []error
	)
	for _, sl := range stored {
		if err := reg.LoadDescriptor(sl.Layout.ID, sl.Layout); err != nil {
			errs = append(errs, fmt.Errorf("stored layout %s: %w", sl.Layout.ID, err))
			continue
		}
		ids = append(ids, sl.Layout.ID)
	}
	return ids, errors.Join(errs...)
}

func (s *Store) keys(ctx context.Context, id string) (map[int]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT position, char FROM layout_keys WHERE layout = ?", id)
	if err != nil {
		return nil, fmt.Errorf("get keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[int]string)
	for rows.Next() {
		var (
			pos int
			ch  string
		)
		if err := rows.Scan(&pos, &ch); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys[pos] = ch
	}
	return keys, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLayout(sc scanner) (*StoredLayout, error) {
	var (
		sl               StoredLayout
		words            string
		created, updated int64
	)
	d := &sl.Layout
	if err := sc.Scan(&d.ID, &d.Name, &d.FamilyID, &d.LayoutID, &d.Language, &d.FrequencyScore,
		&words, &sl.Source, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(words), &d.IndicativeWords); err != nil {
		return nil, fmt.Errorf("decode words for %s: %w", d.ID, err)
	}
	sl.CreatedAt = time.Unix(0, created)
	sl.UpdatedAt = time.Unix(0, updated)
	return &sl, nil
}
