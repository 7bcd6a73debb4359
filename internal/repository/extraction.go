package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/permit-intake/constants"
	"github.com/joseph-ayodele/permit-intake/internal/common"
	"github.com/joseph-ayodele/permit-intake/internal/schema"
)

// ErrDuplicateMessage is returned by Insert when a record for the message already exists.
var ErrDuplicateMessage = errors.New("message already stored")

type ExtractionRepository interface {
	// Insert stores e in a single statement. The generated ID is already on e.
	Insert(ctx context.Context, e *Extraction) error
	Get(ctx context.Context, id uuid.UUID) (*Extraction, error)
	// IsProcessed reports whether a record for messageID exists.
	IsProcessed(ctx context.Context, messageID string) (bool, error)
	List(ctx context.Context, fromDate, toDate *time.Time) ([]*Extraction, error)
}

type extractionRepo struct {
	db     *sql.DB
	d      dialect
	table  string
	logger *slog.Logger
}

func NewExtractionRepository(db *DB, logger *slog.Logger) ExtractionRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &extractionRepo{db: db.SQL, d: db.dialect, table: db.table, logger: logger}
}

var columns = []string{
	"id", "cluster_id", "user_id", "status", "processing_status", "file_name",
	"original_s3_file", "original_file", "message_id", "sender", "subject",
	"schema_version", "extracted_values", "updated_extracted_values", "review_flags",
	"raw_text", "error_code", "error_message", "credits", "created_at",
}

func (r *extractionRepo) Insert(ctx context.Context, e *Extraction) error {
	if e == nil {
		return common.StorageError("insert extraction", errors.New("nil record"))
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (message_id) DO NOTHING",
		r.table, strings.Join(columns, ", "), r.d.placeholders(len(columns)))

	var reviewFlags any
	if len(e.ReviewFlags) > 0 {
		reviewFlags = string(e.ReviewFlags)
	}
	res, err := r.db.ExecContext(ctx, q,
		e.ID.String(), e.ClusterID, e.UserID, e.Status, string(e.ProcessingStatus), e.FileName,
		e.OriginalS3File, e.OriginalFile, nullString(e.MessageID), e.Sender, e.Subject,
		string(e.SchemaVersion), string(e.ExtractedValues), string(e.UpdatedExtractedValues), reviewFlags,
		e.RawText, e.ErrorCode, e.ErrorMessage, nil, r.d.timeArg(e.CreatedAt),
	)
	if err != nil {
		r.logger.Error("extraction insert failed", "id", e.ID, "message_id", e.MessageID, "error", err)
		return common.StorageError("insert extraction", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		r.logger.Warn("extraction already stored", "message_id", e.MessageID)
		return common.StorageError("insert extraction", fmt.Errorf("%w: %s", ErrDuplicateMessage, e.MessageID))
	}
	r.logger.Info("extraction stored",
		"id", e.ID,
		"message_id", e.MessageID,
		"processing_status", e.ProcessingStatus,
		"file_name", e.FileName,
	)
	return nil
}

func (r *extractionRepo) Get(ctx context.Context, id uuid.UUID) (*Extraction, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE id = %s", strings.Join(columns, ", "), r.table, r.d.bind(1))
	e, err := scanExtraction(r.db.QueryRowContext(ctx, q, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("extraction %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("extraction get failed", "id", id, "error", err)
		return nil, common.StorageError("get extraction", err)
	}
	return e, nil
}

func (r *extractionRepo) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		return false, nil
	}
	q := fmt.Sprintf("SELECT 1 FROM %s WHERE message_id = %s LIMIT 1", r.table, r.d.bind(1))
	var one int
	err := r.db.QueryRowContext(ctx, q, messageID).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		r.logger.Error("processed-message lookup failed", "message_id", messageID, "error", err)
		return false, common.StorageError("lookup message", err)
	}
	return true, nil
}

func (r *extractionRepo) List(ctx context.Context, fromDate, toDate *time.Time) ([]*Extraction, error) {
	var (
		where []string
		args  []any
	)
	if fromDate != nil {
		args = append(args, r.d.timeArg(*fromDate))
		where = append(where, "created_at >= "+r.d.bind(len(args)))
	}
	if toDate != nil {
		args = append(args, r.d.timeArg(*toDate))
		where = append(where, "created_at <= "+r.d.bind(len(args)))
	}
	q := fmt.Sprintf("SELECT %s FROM %s", strings.Join(columns, ", "), r.table)
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		r.logger.Error("failed to list extractions", "error", err)
		return nil, common.StorageError("list extractions", err)
	}
	defer rows.Close()

	var out []*Extraction
	for rows.Next() {
		e, err := scanExtraction(rows)
		if err != nil {
			return nil, common.StorageError("scan extraction", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, common.StorageError("list extractions", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExtraction(s rowScanner) (*Extraction, error) {
	var (
		e                               Extraction
		id, processing, version         string
		messageID, credits, reviewFlags sql.NullString
		extracted, updated              []byte
	)
	err := s.Scan(
		&id, &e.ClusterID, &e.UserID, &e.Status, &processing, &e.FileName,
		&e.OriginalS3File, &e.OriginalFile, &messageID, &e.Sender, &e.Subject,
		&version, &extracted, &updated, &reviewFlags,
		&e.RawText, &e.ErrorCode, &e.ErrorMessage, &credits, timeScanner{&e.CreatedAt},
	)
	if err != nil {
		return nil, err
	}
	if e.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse id %q: %w", id, err)
	}
	e.ProcessingStatus = constants.ProcessingStatus(processing)
	e.SchemaVersion = schema.Version(version)
	e.MessageID = messageID.String
	e.ExtractedValues = json.RawMessage(extracted)
	e.UpdatedExtractedValues = json.RawMessage(updated)
	if reviewFlags.Valid {
		e.ReviewFlags = json.RawMessage(reviewFlags.String)
	}
	if credits.Valid {
		e.Credits = &credits.String
	}
	return &e, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
