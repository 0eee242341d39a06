package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"ReviewHarvester/internal/domain"
	"ReviewHarvester/internal/ports"
)

// SQLiteStore keeps the dataset in one table of a local SQLite database.
type SQLiteStore struct {
	db        *sql.DB
	path      string
	backupDir string
	queries   reviewQueries
	logger    *slog.Logger
	now       func() time.Time

	// readOnly stores never migrate or write; a nil db means the file or table is absent.
	readOnly bool
}

var (
	_ ports.RecordStore = (*SQLiteStore)(nil)
	_ ports.KeySource   = (*SQLiteStore)(nil)
)

// OpenSQLite opens (creating if needed) the database at path and ensures the table exists.
func OpenSQLite(ctx context.Context, path, table, backupDir string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	queries, err := newReviewQueries(table, sq.Question)
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:        db,
		path:      path,
		backupDir: resolveBackupDir(path, backupDir),
		queries:   queries,
		logger:    logger,
		now:       time.Now,
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, &domain.StoreReadError{Location: path, Err: err}
	}
	return s, nil
}

// OpenSQLiteReadOnly opens an existing database without creating or migrating
// anything. A missing file or table yields a store that loads no records.
func OpenSQLiteReadOnly(ctx context.Context, path, table string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	queries, err := newReviewQueries(table, sq.Question)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{path: path, queries: queries, logger: logger, now: time.Now, readOnly: true}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, &domain.StoreReadError{Location: s.Location(), Err: err}
	}

	db, err := sql.Open("sqlite", "file:"+filepath.ToSlash(path)+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	var n int
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
	if err != nil {
		_ = db.Close()
		return nil, &domain.StoreReadError{Location: s.Location(), Err: err}
	}
	if n == 0 {
		_ = db.Close()
		return s, nil
	}
	s.db = db
	return s, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Location returns the database path and table.
func (s *SQLiteStore) Location() string { return s.path + "#" + s.queries.table }

func (s *SQLiteStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + s.queries.table + ` (
			position INTEGER NOT NULL,
			review_id TEXT NOT NULL DEFAULT '',
			author_name TEXT NOT NULL DEFAULT '',
			author_link TEXT NOT NULL DEFAULT '',
			author_photo TEXT NOT NULL DEFAULT '',
			rating REAL NOT NULL DEFAULT 0,
			date_raw TEXT NOT NULL DEFAULT '',
			date_iso TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL DEFAULT '',
			review_link TEXT NOT NULL DEFAULT '',
			helpful_votes INTEGER NOT NULL DEFAULT 0,
			images TEXT NOT NULL DEFAULT '[]',
			labels TEXT NOT NULL DEFAULT '[]',
			label_confidence REAL NOT NULL DEFAULT 0,
			label_rationale TEXT NOT NULL DEFAULT '',
			used BOOLEAN NOT NULL DEFAULT 0,
			used_at TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_` + s.queries.table + `_review_id ON ` + s.queries.table + `(review_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Load returns all rows in store order.
func (s *SQLiteStore) Load(ctx context.Context) ([]domain.Review, error) {
	if s.db == nil {
		return nil, nil
	}
	query, args, err := s.queries.selectAll()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &domain.StoreReadError{Location: s.Location(), Err: err}
	}
	defer rows.Close()

	var reviews []domain.Review
	for rows.Next() {
		var row sqlRow
		if err := rows.Scan(row.targets()...); err != nil {
			return nil, &domain.StoreReadError{Location: s.Location(), Err: fmt.Errorf("scan: %w", err)}
		}
		review, err := row.finish()
		if err != nil {
			return nil, &domain.StoreReadError{Location: s.Location(), Err: err}
		}
		reviews = append(reviews, review)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StoreReadError{Location: s.Location(), Err: err}
	}
	return reviews, nil
}

// Replace swaps the table content in one transaction. A snapshot of the whole
// database is taken with VACUUM INTO first unless opts.SkipBackup is set.
func (s *SQLiteStore) Replace(ctx context.Context, reviews []domain.Review, opts ports.WriteOptions) error {
	if s.readOnly {
		return &domain.StoreWriteError{Location: s.Location(), Err: errors.New("store opened read-only")}
	}
	if !opts.SkipBackup {
		backup, err := s.backup(ctx)
		if err != nil {
			return &domain.StoreWriteError{Location: s.Location(), Err: fmt.Errorf("backup: %w", err)}
		}
		if backup != "" {
			s.logger.Info("store backup written", "backup", backup)
		}
	}

	inserts, err := s.queries.inserts(reviews)
	if err != nil {
		return &domain.StoreWriteError{Location: s.Location(), Err: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.StoreWriteError{Location: s.Location(), Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	del, args, err := s.queries.deleteAll()
	if err != nil {
		return &domain.StoreWriteError{Location: s.Location(), Err: err}
	}
	if _, err := tx.ExecContext(ctx, del, args...); err != nil {
		return &domain.StoreWriteError{Location: s.Location(), Err: fmt.Errorf("clear: %w", err)}
	}
	for _, insert := range inserts {
		stmt, args, err := insert.ToSql()
		if err != nil {
			return &domain.StoreWriteError{Location: s.Location(), Err: err}
		}
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return &domain.StoreWriteError{Location: s.Location(), Err: fmt.Errorf("insert: %w", err)}
		}
	}
	if err := tx.Commit(); err != nil {
		return &domain.StoreWriteError{Location: s.Location(), Err: fmt.Errorf("commit: %w", err)}
	}
	return nil
}

func (s *SQLiteStore) backup(ctx context.Context) (string, error) {
	countSQL, args, err := s.queries.count()
	if err != nil {
		return "", err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, countSQL, args...).Scan(&n); err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}

	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return "", err
	}
	target, err := uniqueBackupPath(s.backupDir, s.path, s.now())
	if err != nil {
		return "", err
	}

	literal := "'" + strings.ReplaceAll(target, "'", "''") + "'"
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO "+literal); err != nil {
		return "", err
	}
	return target, nil
}
