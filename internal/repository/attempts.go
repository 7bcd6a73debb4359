package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/permit-intake/internal/common"
)

// Attempt is the retry state of a message that has not been stored yet.
type Attempt struct {
	MessageKey string
	Count      int
	// Ref is the archive uploaded by the first attempt; empty until an upload succeeds.
	Ref       FileRef
	LastError string
	UpdatedAt time.Time
}

// AttemptRepository counts transient failures per message so a message that
// keeps failing is eventually recorded as Failed instead of retried forever.
type AttemptRepository interface {
	// Get returns nil when the message has no recorded attempts.
	Get(ctx context.Context, key string) (*Attempt, error)
	// SaveArchive remembers the uploaded archive so retries reuse it.
	SaveArchive(ctx context.Context, key string, ref FileRef) error
	// RecordFailure increments the attempt count and returns the new value.
	RecordFailure(ctx context.Context, key, errMsg string) (int, error)
	Clear(ctx context.Context, key string) error
}

type attemptRepo struct {
	db     *sql.DB
	d      dialect
	table  string
	logger *slog.Logger
	now    func() time.Time
}

func NewAttemptRepository(db *DB, logger *slog.Logger) AttemptRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &attemptRepo{db: db.SQL, d: db.dialect, table: attemptsTable(db.table), logger: logger, now: time.Now}
}

func (r *attemptRepo) Get(ctx context.Context, key string) (*Attempt, error) {
	q := fmt.Sprintf(`SELECT message_key, attempts, file_name, original_s3_file, original_file, last_error, updated_at
FROM %s WHERE message_key = %s`, r.table, r.d.bind(1))
	var a Attempt
	err := r.db.QueryRowContext(ctx, q, key).Scan(
		&a.MessageKey, &a.Count, &a.Ref.FileName, &a.Ref.Key, &a.Ref.URL, &a.LastError, timeScanner{&a.UpdatedAt},
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		r.logger.Error("attempt lookup failed", "message_key", key, "error", err)
		return nil, common.StorageError("get attempt", err)
	}
	return &a, nil
}

func (r *attemptRepo) SaveArchive(ctx context.Context, key string, ref FileRef) error {
	q := fmt.Sprintf(`INSERT INTO %s (message_key, attempts, file_name, original_s3_file, original_file, updated_at)
VALUES (%s, 0, %s, %s, %s, %s)
ON CONFLICT (message_key) DO UPDATE SET
	file_name = excluded.file_name,
	original_s3_file = excluded.original_s3_file,
	original_file = excluded.original_file,
	updated_at = excluded.updated_at`,
		r.table, r.d.bind(1), r.d.bind(2), r.d.bind(3), r.d.bind(4), r.d.bind(5))
	if _, err := r.db.ExecContext(ctx, q, key, ref.FileName, ref.Key, ref.URL, r.d.timeArg(r.now())); err != nil {
		r.logger.Error("attempt archive save failed", "message_key", key, "error", err)
		return common.StorageError("save attempt archive", err)
	}
	return nil
}

func (r *attemptRepo) RecordFailure(ctx context.Context, key, errMsg string) (int, error) {
	q := fmt.Sprintf(`INSERT INTO %s AS a (message_key, attempts, last_error, updated_at)
VALUES (%s, 1, %s, %s)
ON CONFLICT (message_key) DO UPDATE SET
	attempts = a.attempts + 1,
	last_error = excluded.last_error,
	updated_at = excluded.updated_at
RETURNING attempts`,
		r.table, r.d.bind(1), r.d.bind(2), r.d.bind(3))
	var n int
	if err := r.db.QueryRowContext(ctx, q, key, errMsg, r.d.timeArg(r.now())).Scan(&n); err != nil {
		r.logger.Error("attempt record failed", "message_key", key, "error", err)
		return 0, common.StorageError("record attempt", err)
	}
	return n, nil
}

func (r *attemptRepo) Clear(ctx context.Context, key string) error {
	q := fmt.Sprintf("DELETE FROM %s WHERE message_key = %s", r.table, r.d.bind(1))
	if _, err := r.db.ExecContext(ctx, q, key); err != nil {
		r.logger.Error("attempt clear failed", "message_key", key, "error", err)
		return common.StorageError("clear attempts", err)
	}
	return nil
}
