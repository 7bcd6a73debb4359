package llm

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/joseph-ayodele/permit-intake/internal/common"
	"github.com/joseph-ayodele/permit-intake/internal/schema"
)

// InvokerConfig bounds backend calls.
type InvokerConfig struct {
	Timeout       time.Duration // per call; <= 0 means only the caller's deadline applies
	RatePerMinute int           // 0 disables the client-side budget
}

// Invoker builds the prompt for an email body and makes a single backend call.
type Invoker struct {
	backend  Backend
	template string
	cfg      InvokerConfig
	limiter  *rate.Limiter
	logger   *slog.Logger
	observe  func(elapsed time.Duration, err error)
}

// NewInvoker returns an Invoker whose prompt is generated from s.
func NewInvoker(backend Backend, s *schema.Schema, cfg InvokerConfig, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	if s == nil {
		s = schema.Current()
	}
	inv := &Invoker{
		backend:  backend,
		template: BuildPromptTemplate(s),
		cfg:      cfg,
		logger:   logger,
	}
	if cfg.RatePerMinute > 0 {
		inv.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), 1)
	}
	return inv
}

// OnCall registers a hook run after every backend call, used for latency metrics.
func (i *Invoker) OnCall(fn func(elapsed time.Duration, err error)) {
	i.observe = fn
}

// Template returns the prompt template with the content placeholder intact.
func (i *Invoker) Template() string { return i.template }

// Invoke returns the backend's text unmodified. An empty or whitespace body fails
// with INPUT_EMPTY before any backend call; backend failures are BACKEND_ERROR.
func (i *Invoker) Invoke(ctx context.Context, body string) (string, error) {
	rid := common.RequestIDFromContext(ctx)
	if rid == "" {
		rid = uuid.New().String()
	}

	if strings.TrimSpace(body) == "" {
		i.logger.Warn("llm.invoke.empty_input", "req_id", rid)
		return "", common.InputEmpty("email body is empty")
	}

	if i.limiter != nil {
		if err := i.limiter.Wait(ctx); err != nil {
			i.logger.Error("llm.invoke.rate_wait_failed", "req_id", rid, "error", err)
			return "", common.BackendError(err)
		}
	}

	prompt := RenderPrompt(i.template, body)
	callCtx, cancel := common.WithTimeout(ctx, i.cfg.Timeout)
	defer cancel()

	start := time.Now()
	i.logger.Info("llm.invoke.start",
		"req_id", rid,
		"body_len", len(body),
		"prompt_len", len(prompt),
	)

	out, err := i.backend.Complete(callCtx, prompt)
	elapsed := time.Since(start)
	if i.observe != nil {
		i.observe(elapsed, err)
	}
	if err != nil {
		i.logger.Error("llm.invoke.backend_error",
			"req_id", rid,
			"error", err,
			"elapsed_ms", elapsed.Milliseconds(),
		)
		if common.CodeOf(err) == common.CodeBackendRejected {
			return "", err
		}
		return "", common.BackendError(err)
	}

	i.logger.Info("llm.invoke.ok",
		"req_id", rid,
		"response_len", len(out),
		"elapsed_ms", elapsed.Milliseconds(),
	)
	return out, nil
}
