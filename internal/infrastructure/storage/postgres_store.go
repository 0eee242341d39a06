package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ReviewHarvester/internal/domain"
	"ReviewHarvester/internal/ports"
)

// PostgresStore persists the dataset into a Postgres table.
type PostgresStore struct {
	pool    *pgxpool.Pool
	queries reviewQueries
	logger  *slog.Logger
	now     func() time.Time

	// readOnly stores never migrate or write; absent is set when the table does not exist.
	readOnly bool
	absent   bool
}

var (
	_ ports.RecordStore = (*PostgresStore)(nil)
	_ ports.KeySource   = (*PostgresStore)(nil)
)

// OpenPostgres connects a small pool to dsn and ensures the table exists.
func OpenPostgres(ctx context.Context, dsn, table string, logger *slog.Logger) (*PostgresStore, error) {
	s, err := connectPostgres(ctx, dsn, table, logger)
	if err != nil {
		return nil, err
	}
	if _, err := s.pool.Exec(ctx, postgresSchema(table)); err != nil {
		s.pool.Close()
		return nil, &domain.StoreReadError{Location: s.Location(), Err: fmt.Errorf("migrate: %w", err)}
	}
	return s, nil
}

// OpenPostgresReadOnly connects without creating the table. A missing table
// yields a store that loads no records.
func OpenPostgresReadOnly(ctx context.Context, dsn, table string, logger *slog.Logger) (*PostgresStore, error) {
	s, err := connectPostgres(ctx, dsn, table, logger)
	if err != nil {
		return nil, err
	}
	s.readOnly = true

	var missing bool
	if err := s.pool.QueryRow(ctx, `SELECT to_regclass($1) IS NULL`, table).Scan(&missing); err != nil {
		s.pool.Close()
		return nil, &domain.StoreReadError{Location: s.Location(), Err: err}
	}
	s.absent = missing
	return s, nil
}

func connectPostgres(ctx context.Context, dsn, table string, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	queries, err := newReviewQueries(table, sq.Dollar)
	if err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 2
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresStore{pool: pool, queries: queries, logger: logger, now: time.Now}, nil
}

func postgresSchema(table string) string {
	return `CREATE TABLE IF NOT EXISTS ` + table + ` (
		position INTEGER NOT NULL,
		review_id TEXT NOT NULL DEFAULT '',
		author_name TEXT NOT NULL DEFAULT '',
		author_link TEXT NOT NULL DEFAULT '',
		author_photo TEXT NOT NULL DEFAULT '',
		rating DOUBLE PRECISION NOT NULL DEFAULT 0,
		date_raw TEXT NOT NULL DEFAULT '',
		date_iso TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL DEFAULT '',
		review_link TEXT NOT NULL DEFAULT '',
		helpful_votes INTEGER NOT NULL DEFAULT 0,
		images TEXT NOT NULL DEFAULT '[]',
		labels TEXT NOT NULL DEFAULT '[]',
		label_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		label_rationale TEXT NOT NULL DEFAULT '',
		used BOOLEAN NOT NULL DEFAULT FALSE,
		used_at TEXT NOT NULL DEFAULT ''
	)`
}

// Close releases the pool.
func (s *PostgresStore) Close() { s.pool.Close() }

// Location names the table; the DSN is not logged since it may carry credentials.
func (s *PostgresStore) Location() string { return "postgres:" + s.queries.table }

// Load returns all rows in store order.
func (s *PostgresStore) Load(ctx context.Context) ([]domain.Review, error) {
	if s.absent {
		return nil, nil
	}
	query, args, err := s.queries.selectAll()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
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

// Replace swaps the table content in one transaction. Unless opts.SkipBackup is
// set, the current rows are first copied into "<table>_bak_<timestamp>".
func (s *PostgresStore) Replace(ctx context.Context, reviews []domain.Review, opts ports.WriteOptions) error {
	if s.readOnly {
		return &domain.StoreWriteError{Location: s.Location(), Err: errors.New("store opened read-only")}
	}
	inserts, err := s.queries.inserts(reviews)
	if err != nil {
		return &domain.StoreWriteError{Location: s.Location(), Err: err}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &domain.StoreWriteError{Location: s.Location(), Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if !opts.SkipBackup {
		backup, err := s.backup(ctx, tx)
		if err != nil {
			return &domain.StoreWriteError{Location: s.Location(), Err: fmt.Errorf("backup: %w", err)}
		}
		if backup != "" {
			s.logger.Info("store backup written", "backup", backup)
		}
	}

	del, args, err := s.queries.deleteAll()
	if err != nil {
		return &domain.StoreWriteError{Location: s.Location(), Err: err}
	}

	batch := &pgx.Batch{}
	batch.Queue(del, args...)
	for _, insert := range inserts {
		stmt, args, err := insert.ToSql()
		if err != nil {
			return &domain.StoreWriteError{Location: s.Location(), Err: err}
		}
		batch.Queue(stmt, args...)
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return &domain.StoreWriteError{Location: s.Location(), Err: fmt.Errorf("batch statement %d: %w", i, err)}
		}
	}
	if err := br.Close(); err != nil {
		return &domain.StoreWriteError{Location: s.Location(), Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return &domain.StoreWriteError{Location: s.Location(), Err: fmt.Errorf("commit: %w", err)}
	}
	return nil
}

func (s *PostgresStore) backup(ctx context.Context, tx pgx.Tx) (string, error) {
	countSQL, args, err := s.queries.count()
	if err != nil {
		return "", err
	}
	var n int
	if err := tx.QueryRow(ctx, countSQL, args...).Scan(&n); err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}

	target, err := pickBackupTable(backupTableName(s.queries.table, s.now()), func(name string) (bool, error) {
		var missing bool
		if err := tx.QueryRow(ctx, `SELECT to_regclass($1) IS NULL`, name).Scan(&missing); err != nil {
			return false, err
		}
		return !missing, nil
	})
	if err != nil {
		return "", err
	}
	if _, err := tx.Exec(ctx, `CREATE TABLE `+target+` AS TABLE `+s.queries.table); err != nil {
		return "", err
	}
	return target, nil
}

func backupTableName(table string, at time.Time) string {
	return fmt.Sprintf("%s_bak_%s", table, at.UTC().Format("20060102_150405"))
}

// pickBackupTable returns base, or base_1, base_2 and so on when a backup
// from the same second already exists.
func pickBackupTable(base string, exists func(string) (bool, error)) (string, error) {
	for i := 0; i < 100; i++ {
		candidate := base
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d", base, i)
		}
		taken, err := exists(candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free backup table name for %s", base)
}
