// Package sqlitestore is the durable Store backend (spec §4.5's
// persistence requirement for the operation queue), grounded on the
// corpus's ncruces/go-sqlite3 + golang-migrate wiring.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caldavkit/calsync/internal/syncstore"
)

type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

func New(dsn string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := configureSQLite(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure SQLite: %w", err)
	}

	store := &Store{db: db, logger: logger}

	if err := runMigrations(dsn, logger); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func configureSQLite(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 30000",
		"PRAGMA cache_size = 10000",
		"PRAGMA temp_store = memory",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

func runMigrations(dsn string, logger zerolog.Logger) error {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", dsn))
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	sourceDriver, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create source driver: %w", err)
	}

	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}
	if dirty {
		logger.Warn().Uint("version", version).Msg("database is in dirty state, forcing version")
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("failed to force migration version: %w", err)
		}
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if err == migrate.ErrNoChange {
		logger.Info().Msg("no new migrations to apply")
	} else {
		newVersion, _, _ := m.Version()
		logger.Info().Uint("from_version", version).Uint("to_version", newVersion).Msg("migrations applied")
	}
	return nil
}

func (s *Store) Close() {
	_ = s.db.Close()
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) Enqueue(ctx context.Context, op syncstore.PendingOperation) (syncstore.PendingOperation, error) {
	var result syncstore.PendingOperation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		// IN_PROGRESS rows are deliberately excluded: Coalesce always
		// returns ActionNone against an IN_PROGRESS existing record, so
		// fetching one here would only add a race between it and a
		// genuinely coalescable PENDING/FAILED row for the same event —
		// which one SELECT happens to return first without an ORDER BY
		// is unspecified.
		rows, err := tx.QueryContext(ctx,
			`SELECT id, calendar_url, event_uid, kind, payload, status, created_at,
			        retry_count, next_retry_at, error_message, should_retry, in_progress_since
			 FROM pending_operations
			 WHERE calendar_url = ? AND event_uid = ?
			   AND (status = ? OR (status = ? AND should_retry = 1))`,
			op.CalendarURL, op.EventUID,
			int(syncstore.StatusPending), int(syncstore.StatusFailed))
		if err != nil {
			return err
		}
		var existing *syncstore.PendingOperation
		for rows.Next() {
			rec, err := scanOp(rows)
			if err != nil {
				rows.Close()
				return err
			}
			existing = &rec
			break
		}
		rows.Close()

		if existing != nil {
			merged, action := syncstore.Coalesce(*existing, op)
			switch action {
			case syncstore.ActionReplace:
				if err := updateTx(ctx, tx, merged); err != nil {
					return err
				}
				result = merged
				return nil
			case syncstore.ActionRemove:
				_, err := tx.ExecContext(ctx, `DELETE FROM pending_operations WHERE id = ?`, existing.ID)
				result = syncstore.PendingOperation{}
				return err
			case syncstore.ActionReject:
				return syncstore.ErrRejectedCoalesce
			}
		}

		if op.ID == "" {
			op.ID = uuid.NewString()
		}
		op.ShouldRetry = true
		if err := insertTx(ctx, tx, op); err != nil {
			return err
		}
		result = op
		return nil
	})
	return result, err
}

func insertTx(ctx context.Context, tx *sql.Tx, op syncstore.PendingOperation) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO pending_operations
		    (id, calendar_url, event_uid, kind, payload, status, created_at,
		     retry_count, next_retry_at, error_message, should_retry, in_progress_since)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.CalendarURL, op.EventUID, int(op.Kind), op.Payload, int(op.Status),
		op.CreatedAt.UnixMilli(), op.RetryCount, millisOrZero(op.NextRetryAt),
		op.ErrorMessage, boolToInt(op.ShouldRetry), nullableMillis(op.InProgressSince))
	return err
}

func updateTx(ctx context.Context, tx *sql.Tx, op syncstore.PendingOperation) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE pending_operations SET
		    calendar_url = ?, event_uid = ?, kind = ?, payload = ?, status = ?,
		    created_at = ?, retry_count = ?, next_retry_at = ?, error_message = ?,
		    should_retry = ?, in_progress_since = ?
		 WHERE id = ?`,
		op.CalendarURL, op.EventUID, int(op.Kind), op.Payload, int(op.Status),
		op.CreatedAt.UnixMilli(), op.RetryCount, millisOrZero(op.NextRetryAt),
		op.ErrorMessage, boolToInt(op.ShouldRetry), nullableMillis(op.InProgressSince), op.ID)
	return err
}

func (s *Store) Update(ctx context.Context, op syncstore.PendingOperation) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE pending_operations SET
			    calendar_url = ?, event_uid = ?, kind = ?, payload = ?, status = ?,
			    created_at = ?, retry_count = ?, next_retry_at = ?, error_message = ?,
			    should_retry = ?, in_progress_since = ?
			 WHERE id = ?`,
			op.CalendarURL, op.EventUID, int(op.Kind), op.Payload, int(op.Status),
			op.CreatedAt.UnixMilli(), op.RetryCount, millisOrZero(op.NextRetryAt),
			op.ErrorMessage, boolToInt(op.ShouldRetry), nullableMillis(op.InProgressSince), op.ID)
		if err != nil {
			return err
		}
		return checkAffected(res)
	})
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_operations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return syncstore.ErrNotFound
	}
	return nil
}

func (s *Store) GetReady(ctx context.Context, now time.Time) ([]syncstore.PendingOperation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, calendar_url, event_uid, kind, payload, status, created_at,
		        retry_count, next_retry_at, error_message, should_retry, in_progress_since
		 FROM pending_operations
		 WHERE ((status = ?) OR (status = ? AND should_retry = 1)) AND next_retry_at <= ?
		 ORDER BY created_at ASC`,
		int(syncstore.StatusPending), int(syncstore.StatusFailed), now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var out []syncstore.PendingOperation
	for rows.Next() {
		op, err := scanOp(rows)
		if err != nil {
			return nil, err
		}
		if seen[op.EventUID] {
			continue
		}
		seen[op.EventUID] = true
		out = append(out, op)
	}
	return out, rows.Err()
}

func (s *Store) GetForCalendar(ctx context.Context, calendarURL string) ([]syncstore.PendingOperation, error) {
	return s.queryAll(ctx, `WHERE calendar_url = ? ORDER BY created_at ASC`, calendarURL)
}

func (s *Store) GetByEventUID(ctx context.Context, eventUID string) ([]syncstore.PendingOperation, error) {
	return s.queryAll(ctx, `WHERE event_uid = ? ORDER BY created_at ASC`, eventUID)
}

func (s *Store) queryAll(ctx context.Context, where string, args ...any) ([]syncstore.PendingOperation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, calendar_url, event_uid, kind, payload, status, created_at,
		        retry_count, next_retry_at, error_message, should_retry, in_progress_since
		 FROM pending_operations `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []syncstore.PendingOperation
	for rows.Next() {
		op, err := scanOp(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

func (s *Store) MarkInProgress(ctx context.Context, id string, leaseStart time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_operations SET status = ?, in_progress_since = ? WHERE id = ?`,
		int(syncstore.StatusInProgress), leaseStart.UnixMilli(), id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (s *Store) MarkFailed(ctx context.Context, id string, errMsg string, shouldRetry bool, policy syncstore.BackoffPolicy, now time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT retry_count FROM pending_operations WHERE id = ?`, id)
		var retryCount int
		if err := row.Scan(&retryCount); err != nil {
			if err == sql.ErrNoRows {
				return syncstore.ErrNotFound
			}
			return err
		}

		if !shouldRetry {
			_, err := tx.ExecContext(ctx,
				`UPDATE pending_operations SET status = ?, error_message = ?, should_retry = 0, in_progress_since = NULL WHERE id = ?`,
				int(syncstore.StatusFailed), errMsg, id)
			return err
		}

		retryCount++
		nextRetry := now.Add(policy.ComputeBackoff(retryCount))
		_, err := tx.ExecContext(ctx,
			`UPDATE pending_operations
			 SET status = ?, error_message = ?, should_retry = 1, retry_count = ?, next_retry_at = ?, in_progress_since = NULL
			 WHERE id = ?`,
			int(syncstore.StatusFailed), errMsg, retryCount, nextRetry.UnixMilli(), id)
		return err
	})
}

func (s *Store) Count(ctx context.Context, status syncstore.Status) (int, error) {
	var row *sql.Row
	if status == -1 {
		row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_operations`)
	} else {
		row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_operations WHERE status = ?`, int(status))
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) StuckSince(ctx context.Context, threshold time.Time) ([]syncstore.PendingOperation, error) {
	return s.queryAll(ctx,
		`WHERE status = ? AND in_progress_since IS NOT NULL AND in_progress_since < ? ORDER BY in_progress_since ASC`,
		int(syncstore.StatusInProgress), threshold.UnixMilli())
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return syncstore.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOp(rows scanner) (syncstore.PendingOperation, error) {
	var op syncstore.PendingOperation
	var kind, status, shouldRetry int
	var createdAt, nextRetryAt int64
	var inProgressSince sql.NullInt64

	err := rows.Scan(&op.ID, &op.CalendarURL, &op.EventUID, &kind, &op.Payload, &status,
		&createdAt, &op.RetryCount, &nextRetryAt, &op.ErrorMessage, &shouldRetry, &inProgressSince)
	if err != nil {
		return op, err
	}
	op.Kind = syncstore.Kind(kind)
	op.Status = syncstore.Status(status)
	op.CreatedAt = time.UnixMilli(createdAt)
	op.NextRetryAt = time.UnixMilli(nextRetryAt)
	op.ShouldRetry = shouldRetry != 0
	if inProgressSince.Valid {
		op.InProgressSince = time.UnixMilli(inProgressSince.Int64)
	}
	return op, nil
}

func millisOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func nullableMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
