// Package ledger keeps a SQLite record of projection runs and mask
// evaluations, so any projected plane can be traced back to the slices it
// was built from.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/claudiasc89/image-analysis-portfolio/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	folder      TEXT NOT NULL,
	proj_type   TEXT NOT NULL DEFAULT '',
	z_range     INTEGER NOT NULL DEFAULT 0,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	files       INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS audit_entries (
	run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	acquisition TEXT NOT NULL,
	timepoint   INTEGER NOT NULL,
	num_proj_z  INTEGER NOT NULL,
	proj_type   TEXT NOT NULL,
	start_z     INTEGER NOT NULL,
	stop_z      INTEGER NOT NULL,
	PRIMARY KEY (run_id, acquisition, timepoint)
);
CREATE TABLE IF NOT EXISTS ari_results (
	run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	sample_name TEXT NOT NULL,
	ari         REAL NOT NULL,
	PRIMARY KEY (run_id, sample_name)
);
`

// Run kinds stored in the runs table.
const (
	KindProjection = "projection"
	KindEvaluation = "evaluation"
)

// Run describes one projection batch.
type Run struct {
	ID         string
	Folder     string
	ProjType   string
	ZRange     int
	StartedAt  time.Time
	FinishedAt time.Time
	Records    []models.AuditRecord
}

// Evaluation describes one mask evaluation run.
type Evaluation struct {
	ID         string
	Folder     string
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []models.ARIResult
}

// Store provides SQLite-backed persistence for run history.
type Store struct {
	sqlDB *sql.DB
}

// Open opens the ledger at path, creating the file and tables when needed.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("ledger path is required")
	}

	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	dsn := cleanPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := sqlDB.ExecContext(ctx, schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create ledger schema: %w", err)
	}

	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the underlying SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// RecordRun stores a projection run and all of its audit entries in one
// transaction.
func (s *Store) RecordRun(ctx context.Context, run Run) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(run.ID) == "" {
		return fmt.Errorf("run id is required")
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO runs (id, kind, folder, proj_type, z_range, started_at, finished_at, files)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, KindProjection, run.Folder, run.ProjType, run.ZRange,
			run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(), len(run.Records),
		); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO audit_entries (run_id, acquisition, timepoint, num_proj_z, proj_type, start_z, stop_z)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare audit insert: %w", err)
		}
		defer stmt.Close()

		for _, rec := range run.Records {
			for _, e := range rec.Entries {
				if _, err := stmt.ExecContext(ctx, run.ID, rec.Acquisition, e.Timepoint, e.NumProjZ, e.ProjType, e.StartZ, e.StopZ); err != nil {
					return fmt.Errorf("insert audit entry %s/%d: %w", rec.Acquisition, e.Timepoint, err)
				}
			}
		}
		return nil
	})
}

// RecordARI stores an evaluation run and its scores in one transaction.
func (s *Store) RecordARI(ctx context.Context, ev Evaluation) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(ev.ID) == "" {
		return fmt.Errorf("run id is required")
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO runs (id, kind, folder, started_at, finished_at, files)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			ev.ID, KindEvaluation, ev.Folder, ev.StartedAt.UnixMilli(), ev.FinishedAt.UnixMilli(), len(ev.Results),
		); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		for _, r := range ev.Results {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO ari_results (run_id, sample_name, ari) VALUES (?, ?, ?)`,
				ev.ID, r.SampleName, r.ARI,
			); err != nil {
				return fmt.Errorf("insert ari result %s: %w", r.SampleName, err)
			}
		}
		return nil
	})
}

// AuditEntries loads the audit records of a run in acquisition and
// timepoint order.
func (s *Store) AuditEntries(ctx context.Context, runID string) ([]models.AuditRecord, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT acquisition, timepoint, num_proj_z, proj_type, start_z, stop_z
		 FROM audit_entries
		 WHERE run_id = ?
		 ORDER BY acquisition, timepoint`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var records []models.AuditRecord
	for rows.Next() {
		var acquisition string
		var e models.AuditEntry
		if err := rows.Scan(&acquisition, &e.Timepoint, &e.NumProjZ, &e.ProjType, &e.StartZ, &e.StopZ); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if n := len(records); n == 0 || records[n-1].Acquisition != acquisition {
			records = append(records, models.AuditRecord{Acquisition: acquisition})
		}
		last := &records[len(records)-1]
		last.Entries = append(last.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return records, nil
}

// ARIResults loads the scores of an evaluation run in sample order.
func (s *Store) ARIResults(ctx context.Context, runID string) ([]models.ARIResult, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT sample_name, ari FROM ari_results WHERE run_id = ? ORDER BY sample_name`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query ari results: %w", err)
	}
	defer rows.Close()

	var results []models.ARIResult
	for rows.Next() {
		var r models.ARIResult
		if err := rows.Scan(&r.SampleName, &r.ARI); err != nil {
			return nil, fmt.Errorf("scan ari result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ari results: %w", err)
	}
	return results, nil
}

// withTx runs fn in a transaction, rolling back when it fails
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
