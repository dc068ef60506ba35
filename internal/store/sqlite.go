package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/LIUAPP/AgenticBugFix/internal/domain"
	"github.com/LIUAPP/AgenticBugFix/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency. Pragmas are applied
	// to every pooled connection.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		status TEXT NOT NULL,
		iterations INTEGER NOT NULL DEFAULT 0,
		final_step TEXT,
		detail TEXT,
		prompt_preview TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_ended ON runs(ended_at) WHERE ended_at IS NOT NULL;

	CREATE TABLE IF NOT EXISTS resolved_issues (
		issue_key TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		root_cause TEXT NOT NULL,
		fix_implemented TEXT NOT NULL,
		embedding BLOB,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return s.addColumnIfMissing("resolved_issues", "embedding", "BLOB")
}

// addColumnIfMissing upgrades tables created before a column existed.
func (s *SQLiteStore) addColumnIfMissing(table, column, decl string) error {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column,
	).Scan(&n)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", table, err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl)); err != nil {
		return fmt.Errorf("add %s.%s: %w", table, column, err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// CreateRun inserts a ledger entry.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.RunRecord) error {
	query := `
	INSERT INTO runs (run_id, conversation_id, status, iterations, final_step, detail, prompt_preview, started_at, ended_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	return shared.RetryOnConflict(ctx, "create run", func() error {
		_, err := s.db.ExecContext(ctx, query,
			run.ID, run.ConversationID, string(run.Status), run.Iterations,
			nullString(string(run.FinalStep)), nullString(run.Detail), run.PromptPreview,
			run.StartedAt.UnixMilli(), nullTime(run.EndedAt),
		)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		return nil
	})
}

// FinishRun records the outcome of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, run *domain.RunRecord) error {
	query := `
	UPDATE runs SET status = ?, iterations = ?, final_step = ?, detail = ?, ended_at = ?
	WHERE run_id = ?`

	ended := run.EndedAt
	if ended == nil {
		now := time.Now()
		ended = &now
	}

	return shared.RetryOnConflict(ctx, "finish run", func() error {
		result, err := s.db.ExecContext(ctx, query,
			string(run.Status), run.Iterations, nullString(string(run.FinalStep)),
			nullString(run.Detail), ended.UnixMilli(), run.ID,
		)
		if err != nil {
			return fmt.Errorf("update run: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			slog.Warn("FinishRun affected 0 rows", "run_id", run.ID)
		}
		return nil
	})
}

const runColumns = `run_id, conversation_id, status, iterations, final_step, detail, prompt_preview, started_at, ended_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.RunRecord, error) {
	var run domain.RunRecord
	var status string
	var finalStep, detail sql.NullString
	var startedAt int64
	var endedAt sql.NullInt64

	if err := row.Scan(
		&run.ID, &run.ConversationID, &status, &run.Iterations,
		&finalStep, &detail, &run.PromptPreview, &startedAt, &endedAt,
	); err != nil {
		return nil, err
	}

	run.Status = domain.RunStatus(status)
	run.FinalStep = domain.StepKind(finalStep.String)
	run.Detail = detail.String
	run.StartedAt = time.UnixMilli(startedAt)
	if endedAt.Valid {
		ts := time.UnixMilli(endedAt.Int64)
		run.EndedAt = &ts
	}
	return &run, nil
}

// GetRun retrieves a run by id.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*domain.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan run row: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*domain.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close runs rows", "error", closeErr)
		}
	}()

	var runs []*domain.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// PruneRuns deletes finished runs older than retention.
func (s *SQLiteStore) PruneRuns(ctx context.Context, retention time.Duration) (int64, error) {
	threshold := time.Now().Add(-retention).UnixMilli()
	var deleted int64
	err := shared.RetryOnConflict(ctx, "prune runs", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE ended_at IS NOT NULL AND ended_at < ?`, threshold)
		if err != nil {
			return fmt.Errorf("prune runs: %w", err)
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}

// UpsertResolvedIssue creates or replaces a knowledge base entry.
func (s *SQLiteStore) UpsertResolvedIssue(ctx context.Context, issue *domain.ResolvedIssue) error {
	if issue.IssueKey == "" {
		return fmt.Errorf("resolved issue requires an issue key")
	}
	query := `
	INSERT INTO resolved_issues (issue_key, description, root_cause, fix_implemented, embedding, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(issue_key) DO UPDATE SET
		description = excluded.description,
		root_cause = excluded.root_cause,
		fix_implemented = excluded.fix_implemented,
		embedding = excluded.embedding,
		updated_at = excluded.updated_at`

	return shared.RetryOnConflict(ctx, "upsert resolved issue", func() error {
		_, err := s.db.ExecContext(ctx, query,
			issue.IssueKey, issue.Description, issue.RootCause, issue.FixImplemented,
			encodeVector(issue.Embedding), time.Now().Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert resolved issue: %w", err)
		}
		return nil
	})
}

// ListResolvedIssues returns all knowledge base entries ordered by key.
func (s *SQLiteStore) ListResolvedIssues(ctx context.Context) ([]*domain.ResolvedIssue, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT issue_key, description, root_cause, fix_implemented, embedding FROM resolved_issues ORDER BY issue_key`)
	if err != nil {
		return nil, fmt.Errorf("query resolved issues: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close resolved issue rows", "error", closeErr)
		}
	}()

	var issues []*domain.ResolvedIssue
	for rows.Next() {
		var issue domain.ResolvedIssue
		var blob []byte
		if err := rows.Scan(&issue.IssueKey, &issue.Description, &issue.RootCause, &issue.FixImplemented, &blob); err != nil {
			return nil, fmt.Errorf("scan resolved issue row: %w", err)
		}
		if issue.Embedding, err = decodeVector(blob); err != nil {
			return nil, fmt.Errorf("decode embedding of %s: %w", issue.IssueKey, err)
		}
		issues = append(issues, &issue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resolved issues: %w", err)
	}
	return issues, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
