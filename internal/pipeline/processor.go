// Package pipeline runs the mailbox → extraction → storage loop.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/permit-intake/constants"
	"github.com/joseph-ayodele/permit-intake/internal/common"
	"github.com/joseph-ayodele/permit-intake/internal/llm"
	"github.com/joseph-ayodele/permit-intake/internal/mail"
	"github.com/joseph-ayodele/permit-intake/internal/metrics"
	"github.com/joseph-ayodele/permit-intake/internal/normalize"
	"github.com/joseph-ayodele/permit-intake/internal/render"
	"github.com/joseph-ayodele/permit-intake/internal/repository"
	"github.com/joseph-ayodele/permit-intake/internal/schema"
)

// SeenMarker marks a message as read once its record is stored.
type SeenMarker interface {
	MarkSeen(ctx context.Context, uid uint32) error
}

// Renderer archives the message text as a PDF in object storage.
type Renderer interface {
	RenderAndUpload(ctx context.Context, text string, attachmentPaths []string) (render.Artifact, error)
}

// Normalizer revalidates backend output.
type Normalizer interface {
	Normalize(raw any, body any) (*normalize.Result, error)
}

// Store is the part of the repository the processor writes through.
type Store interface {
	Insert(ctx context.Context, e *repository.Extraction) error
	IsProcessed(ctx context.Context, messageID string) (bool, error)
}

// AttemptStore counts transient failures per message across cycles.
type AttemptStore interface {
	Get(ctx context.Context, key string) (*repository.Attempt, error)
	SaveArchive(ctx context.Context, key string, ref repository.FileRef) error
	RecordFailure(ctx context.Context, key, errMsg string) (int, error)
	Clear(ctx context.Context, key string) error
}

// DefaultMaxAttempts is used when the processor is built without an explicit limit.
const DefaultMaxAttempts = 5

// ErrAttemptsExhausted marks a transient failure that was recorded as Failed.
var ErrAttemptsExhausted = errors.New("retry limit reached")

// Tenant scopes stored records.
type Tenant struct {
	ClusterID string
	UserID    string
}

// Processor handles one message end to end: ledger check, archive, extract,
// normalize, persist, then mark seen.
type Processor struct {
	Logger     *slog.Logger
	Extractor  llm.Extractor
	Normalizer Normalizer
	Renderer   Renderer
	Store      Store
	Attempts   AttemptStore
	Metrics    *metrics.Registry
	Tenant     Tenant
	Version    schema.Version
	// MaxAttempts bounds transient failures per message; 0 retries forever.
	MaxAttempts int
}

func NewProcessor(
	logger *slog.Logger,
	extractor llm.Extractor,
	normalizer Normalizer,
	renderer Renderer,
	store Store,
	attempts AttemptStore,
	reg *metrics.Registry,
	tenant Tenant,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		Logger:      logger,
		Extractor:   extractor,
		Normalizer:  normalizer,
		Renderer:    renderer,
		Store:       store,
		Attempts:    attempts,
		Metrics:     reg,
		Tenant:      tenant,
		Version:     schema.CurrentVersion,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// Process handles msg. Permanent failures (empty body, rejected request, unparsable
// or misshapen backend output) are stored as Failed records and the message is marked
// seen. Transient failures leave it unseen for the next cycle until MaxAttempts is
// reached, after which they are stored as Failed too. Saved attachments are removed
// before Process returns.
func (p *Processor) Process(ctx context.Context, marker SeenMarker, msg mail.Message) (constants.MessageOutcome, error) {
	start := time.Now()
	rid := uuid.New().String()
	ctx = common.WithMessageUID(common.WithRequestID(ctx, rid), msg.UID)
	log := p.Logger.With("req_id", rid, "uid", msg.UID, "message_id", msg.MessageID)
	defer func() {
		if err := msg.RemoveAttachments(); err != nil {
			log.Warn("processor.attachments_cleanup_failed", "error", err)
		}
	}()

	outcome, err := p.process(ctx, log, marker, msg)
	p.Metrics.ObserveMessage(string(outcome), common.CodeOf(err), time.Since(start))

	if err != nil {
		log.Error("processor.message.failed",
			"outcome", outcome,
			"code", common.CodeOf(err),
			"error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return outcome, err
	}
	log.Info("processor.message.done", "outcome", outcome, "elapsed_ms", time.Since(start).Milliseconds())
	return outcome, nil
}

func (p *Processor) process(ctx context.Context, log *slog.Logger, marker SeenMarker, msg mail.Message) (constants.MessageOutcome, error) {
	key := attemptKey(msg)

	// 1) ledger: a crash between persist and mark-seen must not duplicate
	done, err := p.Store.IsProcessed(ctx, msg.MessageID)
	if err != nil {
		return constants.OutcomeFailed, err
	}
	if done {
		log.Info("processor.message.already_stored")
		p.clearAttempts(ctx, log, key)
		return constants.OutcomeDuplicate, p.markSeen(ctx, log, marker, msg.UID)
	}

	meta := repository.Meta{
		ClusterID: p.Tenant.ClusterID,
		UserID:    p.Tenant.UserID,
		MessageID: msg.MessageID,
		Sender:    msg.Sender,
		Subject:   msg.Subject,
	}

	// 2) archive the email as a PDF before anything can reject it; retries reuse it
	ref, err := p.archive(ctx, log, key, msg)
	if err != nil {
		return p.fail(ctx, log, marker, msg, key, ref, meta, err)
	}

	// 3) extraction
	raw, err := p.Extractor.Invoke(ctx, msg.Body)
	if err != nil {
		return p.fail(ctx, log, marker, msg, key, ref, meta, err)
	}

	// 4) normalization and permit revalidation
	res, err := p.Normalizer.Normalize(raw, msg.Body)
	if err != nil {
		return p.fail(ctx, log, marker, msg, key, ref, meta, err)
	}
	p.Metrics.ObserveReport(&res.Report)
	if res.Report.NeedsReview() {
		if b, err := json.Marshal(res.Report); err == nil {
			meta.ReviewFlags = b
		}
	}

	// 5) persist, then mark seen
	rec, err := repository.NewExtraction(res.Document, p.Version, ref, res.Text, meta)
	if err != nil {
		return p.fail(ctx, log, marker, msg, key, ref, meta, err)
	}
	if err := p.Store.Insert(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrDuplicateMessage) {
			p.clearAttempts(ctx, log, key)
			return constants.OutcomeDuplicate, p.markSeen(ctx, log, marker, msg.UID)
		}
		return p.fail(ctx, log, marker, msg, key, ref, meta, err)
	}
	log.Info("processor.message.stored",
		"id", rec.ID,
		"file_name", rec.FileName,
		"needs_review", res.Report.NeedsReview(),
	)
	p.clearAttempts(ctx, log, key)
	return constants.OutcomeStored, p.markSeen(ctx, log, marker, msg.UID)
}

// attemptKey identifies msg across cycles.
func attemptKey(msg mail.Message) string {
	if msg.MessageID != "" {
		return msg.MessageID
	}
	return fmt.Sprintf("uid:%d", msg.UID)
}

// archive returns the archive uploaded by an earlier attempt, or renders and uploads a new one.
func (p *Processor) archive(ctx context.Context, log *slog.Logger, key string, msg mail.Message) (repository.FileRef, error) {
	if p.Attempts != nil {
		prior, err := p.Attempts.Get(ctx, key)
		if err != nil {
			return repository.FileRef{}, err
		}
		if prior != nil && prior.Ref.Key != "" {
			log.Info("processor.archive_reused", "key", prior.Ref.Key, "attempts", prior.Count)
			return prior.Ref, nil
		}
	}

	art, err := p.Renderer.RenderAndUpload(ctx, msg.Block(), msg.AttachmentPaths())
	if err != nil {
		return repository.FileRef{}, err
	}
	ref := repository.FileRef{FileName: art.FileName, Key: art.Key, URL: art.PublicURL}
	if p.Attempts != nil {
		if err := p.Attempts.SaveArchive(ctx, key, ref); err != nil {
			log.Warn("processor.archive_not_remembered", "key", ref.Key, "error", err)
		}
	}
	return ref, nil
}

// fail decides between leaving msg for the next cycle and recording it as Failed.
func (p *Processor) fail(ctx context.Context, log *slog.Logger, marker SeenMarker, msg mail.Message,
	key string, ref repository.FileRef, meta repository.Meta, cause error) (constants.MessageOutcome, error) {
	if common.IsPermanent(cause) {
		return p.reject(ctx, log, marker, msg, key, ref, meta, cause)
	}
	if p.Attempts == nil || p.MaxAttempts <= 0 {
		return constants.OutcomeFailed, cause
	}
	n, err := p.Attempts.RecordFailure(ctx, key, cause.Error())
	if err != nil {
		log.Warn("processor.attempt_not_recorded", "error", err)
		return constants.OutcomeFailed, cause
	}
	if n < p.MaxAttempts {
		log.Warn("processor.attempt_failed",
			"attempt", n,
			"max_attempts", p.MaxAttempts,
			"code", common.CodeOf(cause),
		)
		return constants.OutcomeFailed, cause
	}
	return p.reject(ctx, log, marker, msg, key, ref, meta,
		fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, n, cause))
}

// reject stores a Failed record so the message is not retried.
func (p *Processor) reject(ctx context.Context, log *slog.Logger, marker SeenMarker, msg mail.Message,
	key string, ref repository.FileRef, meta repository.Meta, cause error) (constants.MessageOutcome, error) {
	rec := repository.NewFailedExtraction(p.Version, ref, msg.Body, meta, common.CodeOf(cause), cause.Error())
	if err := p.Store.Insert(ctx, rec); err != nil && !errors.Is(err, repository.ErrDuplicateMessage) {
		return constants.OutcomeFailed, errors.Join(cause, err)
	}
	log.Warn("processor.message.rejected", "id", rec.ID, "code", rec.ErrorCode)
	p.clearAttempts(ctx, log, key)
	if err := p.markSeen(ctx, log, marker, msg.UID); err != nil {
		return constants.OutcomeRejected, err
	}
	return constants.OutcomeRejected, cause
}

func (p *Processor) clearAttempts(ctx context.Context, log *slog.Logger, key string) {
	if p.Attempts == nil {
		return
	}
	if err := p.Attempts.Clear(ctx, key); err != nil {
		log.Warn("processor.attempts_not_cleared", "error", err)
	}
}

// markSeen is retried implicitly: the ledger short-circuits the next cycle.
func (p *Processor) markSeen(ctx context.Context, log *slog.Logger, marker SeenMarker, uid uint32) error {
	if err := marker.MarkSeen(ctx, uid); err != nil {
		log.Warn("processor.mark_seen_failed", "error", err)
		return err
	}
	return nil
}
