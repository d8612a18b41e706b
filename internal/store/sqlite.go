package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/trackwatch/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// The watch loop and CLI commands may share the file; one connection
	// per process keeps writes serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Watermarks ---

func (s *SQLiteStore) GetWatermark(ctx context.Context, project string) (*models.Watermark, error) {
	w := &models.Watermark{}
	var syncedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT project, synced_at, last_event_key, updated_at FROM watermarks WHERE project = ?`, project,
	).Scan(&w.Project, &syncedAt, &w.LastEventKey, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("watermark for %s: %w", project, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get watermark: %w", err)
	}
	w.SyncedAt = time.UnixMilli(syncedAt).UTC()
	return w, nil
}

func (s *SQLiteStore) ListWatermarks(ctx context.Context) ([]*models.Watermark, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT project, synced_at, last_event_key, updated_at FROM watermarks ORDER BY project`)
	if err != nil {
		return nil, fmt.Errorf("list watermarks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Watermark
	for rows.Next() {
		w := &models.Watermark{}
		var syncedAt int64
		if err := rows.Scan(&w.Project, &syncedAt, &w.LastEventKey, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan watermark: %w", err)
		}
		w.SyncedAt = time.UnixMilli(syncedAt).UTC()
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AdvanceWatermark(ctx context.Context, project string, syncedAt time.Time, lastEventKey string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO watermarks (project, synced_at, last_event_key, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(project) DO UPDATE SET
			synced_at = excluded.synced_at,
			last_event_key = excluded.last_event_key,
			updated_at = excluded.updated_at
		WHERE excluded.synced_at > watermarks.synced_at`,
		project, syncedAt.UnixMilli(), lastEventKey, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("advance watermark: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) DeleteWatermark(ctx context.Context, project string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM watermarks WHERE project = ?", project); err != nil {
		return fmt.Errorf("delete watermark: %w", err)
	}
	return nil
}

// --- Poll runs ---

func (s *SQLiteStore) CreatePollRun(ctx context.Context, run *models.PollRun) error {
	if run.ID == "" {
		run.ID = newULID()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = models.RunStatusRunning
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO poll_runs (id, project, started_at, min_date, status) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Project, run.StartedAt, run.MinDate.UnixMilli(), string(run.Status),
	)
	if err != nil {
		return fmt.Errorf("create poll run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FinishPollRun(ctx context.Context, run *models.PollRun) error {
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE poll_runs SET finished_at=?, sessions=?, delivered=?, status=?, error=? WHERE id=?`,
		*run.FinishedAt, run.Sessions, run.Delivered, string(run.Status), run.Error, run.ID,
	)
	if err != nil {
		return fmt.Errorf("finish poll run: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("poll run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) ListPollRuns(ctx context.Context, project string, limit int) ([]*models.PollRun, error) {
	query := `SELECT id, project, started_at, finished_at, min_date, sessions, delivered, status, error FROM poll_runs`
	var args []any
	if project != "" {
		query += " WHERE project = ?"
		args = append(args, project)
	}
	query += " ORDER BY started_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list poll runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*models.PollRun
	for rows.Next() {
		r := &models.PollRun{}
		var finishedAt sql.NullTime
		var minDate int64
		var status string
		if err := rows.Scan(&r.ID, &r.Project, &r.StartedAt, &finishedAt, &minDate,
			&r.Sessions, &r.Delivered, &status, &r.Error); err != nil {
			return nil, fmt.Errorf("scan poll run: %w", err)
		}
		if finishedAt.Valid {
			r.FinishedAt = &finishedAt.Time
		}
		r.MinDate = time.UnixMilli(minDate).UTC()
		r.Status = models.RunStatus(status)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
