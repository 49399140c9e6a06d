package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"slack-digest/internal/report"
)

// timeLayout is fixed width so stored times sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// SQLite keeps one row per delivered report.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the history database at dbPath.
func NewSQLite(dbPath string) (*SQLite, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// modernc sqlite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return s, nil
}

func (s *SQLite) init() error {
	createReportsTable := `
	CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		window_start TEXT NOT NULL,
		window_end TEXT NOT NULL,
		message_count INTEGER NOT NULL,
		active_users INTEGER NOT NULL,
		summary TEXT NOT NULL,
		fallback INTEGER NOT NULL DEFAULT 0,
		delivered INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);
	`
	createIndexes := `
	CREATE INDEX IF NOT EXISTS idx_reports_kind ON reports(kind);
	CREATE INDEX IF NOT EXISTS idx_reports_created_at ON reports(created_at);
	`

	if _, err := s.db.Exec(createReportsTable); err != nil {
		return fmt.Errorf("failed to create reports table: %w", err)
	}
	if _, err := s.db.Exec(createIndexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func (s *SQLite) SaveReport(ctx context.Context, r *report.HistoryRecord) error {
	query := `
	INSERT INTO reports (id, kind, window_start, window_end, message_count, active_users, summary, fallback, delivered, failed, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Kind,
		formatTime(r.WindowStart), formatTime(r.WindowEnd),
		r.MessageCount, r.ActiveUsers, r.Summary, r.Fallback, r.Delivered, r.Failed,
		formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save report %s: %w", r.ID, err)
	}
	return nil
}

// ListReports returns the newest reports first. An empty kind matches every
// kind; a non-positive limit means no limit.
func (s *SQLite) ListReports(ctx context.Context, kind string, limit int) ([]*report.HistoryRecord, error) {
	query := `
	SELECT id, kind, window_start, window_end, message_count, active_users, summary, fallback, delivered, failed, created_at
	FROM reports
	WHERE (? = '' OR kind = ?)
	ORDER BY created_at DESC
	LIMIT ?
	`
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, query, kind, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var records []*report.HistoryRecord
	for rows.Next() {
		var r report.HistoryRecord
		var startStr, endStr, createdStr string
		if err := rows.Scan(&r.ID, &r.Kind, &startStr, &endStr, &r.MessageCount, &r.ActiveUsers,
			&r.Summary, &r.Fallback, &r.Delivered, &r.Failed, &createdStr); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		if r.WindowStart, err = time.Parse(time.RFC3339Nano, startStr); err != nil {
			return nil, fmt.Errorf("failed to parse window start: %w", err)
		}
		if r.WindowEnd, err = time.Parse(time.RFC3339Nano, endStr); err != nil {
			return nil, fmt.Errorf("failed to parse window end: %w", err)
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}

// PruneReports deletes reports created before cutoff and returns how many
// rows were removed.
func (s *SQLite) PruneReports(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE created_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to prune reports: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
