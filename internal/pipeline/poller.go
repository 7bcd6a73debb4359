package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/permit-intake/constants"
	"github.com/joseph-ayodele/permit-intake/internal/common"
	"github.com/joseph-ayodele/permit-intake/internal/mail"
	"github.com/joseph-ayodele/permit-intake/internal/metrics"
)

// Mailbox is one mailbox session, acquired per cycle.
type Mailbox interface {
	SeenMarker
	FetchUnseen(ctx context.Context, f mail.Filter) ([]mail.Message, error)
	Close() error
}

// DialFunc opens a mailbox session.
type DialFunc func(ctx context.Context) (Mailbox, error)

type PollerConfig struct {
	Interval       time.Duration
	MessageTimeout time.Duration
	Filter         mail.Filter
}

// Poller runs Processor over unseen messages on a fixed interval, one message at a time.
type Poller struct {
	cfg     PollerConfig
	dial    DialFunc
	proc    *Processor
	metrics *metrics.Registry
	logger  *slog.Logger
}

func NewPoller(cfg PollerConfig, dial DialFunc, proc *Processor, reg *metrics.Registry, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &Poller{cfg: cfg, dial: dial, proc: proc, metrics: reg, logger: logger}
}

// Summary counts message outcomes of one cycle.
type Summary map[constants.MessageOutcome]int

// Run polls until ctx is cancelled. Cycle errors are logged and never stop the loop.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller.start", "interval", p.cfg.Interval.String(), "filter", p.cfg.Filter.SubjectContains)
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := p.Cycle(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("poller.cycle.failed", "code", common.CodeOf(err), "error", err)
		}
		select {
		case <-ctx.Done():
			p.logger.Info("poller.stop")
			return nil
		case <-ticker.C:
		}
	}
}

// Cycle opens a session, processes every matching unseen message and closes the session.
func (p *Poller) Cycle(ctx context.Context) (Summary, error) {
	start := time.Now()
	mb, err := p.dial(ctx)
	if err != nil {
		p.metrics.ObserveCycle(err)
		return nil, err
	}
	defer func() {
		if err := mb.Close(); err != nil {
			p.logger.Debug("poller.session_close_failed", "error", err)
		}
	}()

	msgs, err := mb.FetchUnseen(ctx, p.cfg.Filter)
	p.metrics.ObserveCycle(err)
	if err != nil {
		return nil, err
	}

	sum := Summary{}
	for _, m := range msgs {
		if ctx.Err() != nil {
			break
		}
		msgCtx, cancel := common.WithTimeout(ctx, p.cfg.MessageTimeout)
		outcome, err := p.proc.Process(msgCtx, mb, m)
		cancel()
		sum[outcome]++
		if err != nil && outcome == constants.OutcomeFailed {
			p.logger.Debug("poller.message.left_unseen", "uid", m.UID, "code", common.CodeOf(err))
		}
	}

	if len(msgs) > 0 {
		p.logger.Info("poller.cycle.done",
			"messages", len(msgs),
			"stored", sum[constants.OutcomeStored],
			"duplicate", sum[constants.OutcomeDuplicate],
			"rejected", sum[constants.OutcomeRejected],
			"failed", sum[constants.OutcomeFailed],
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	}
	return sum, nil
}
