package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/permit-intake/internal/common"
	"github.com/joseph-ayodele/permit-intake/internal/llm"
	"github.com/joseph-ayodele/permit-intake/internal/llm/openai"
	"github.com/joseph-ayodele/permit-intake/internal/mail"
	"github.com/joseph-ayodele/permit-intake/internal/metrics"
	"github.com/joseph-ayodele/permit-intake/internal/normalize"
	"github.com/joseph-ayodele/permit-intake/internal/ops"
	"github.com/joseph-ayodele/permit-intake/internal/pipeline"
	"github.com/joseph-ayodele/permit-intake/internal/render"
	"github.com/joseph-ayodele/permit-intake/internal/repository"
	"github.com/joseph-ayodele/permit-intake/internal/schema"
	"github.com/joseph-ayodele/permit-intake/pkg/logger"
)

func main() {
	cfg, err := common.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	lg, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}
	defer func() { _ = lg.Sync() }()
	log := lg.Logger
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		log.Error("config.invalid", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("permitd.exit", "code", common.CodeOf(err), "error", err)
		os.Exit(1)
	}
	log.Info("permitd.stopped")
}

func run(ctx context.Context, cfg *common.Config, log *slog.Logger) error {
	// --- document store
	db, err := repository.Open(ctx, repository.Config{
		URL:              cfg.Database.URL,
		Schema:           cfg.Database.Name,
		Table:            cfg.Database.Collection,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, log)
	if err != nil {
		return common.StorageError("open document store", err)
	}
	defer db.Close()
	store := repository.NewExtractionRepository(db, log)
	attempts := repository.NewAttemptRepository(db, log)

	// --- metrics
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg := metrics.NewRegistry(promReg)

	// --- archival PDF + object storage
	uploader, err := render.NewS3Uploader(ctx, render.S3Config{
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Region:    cfg.Storage.Region,
	})
	if err != nil {
		return common.StorageError("init object storage", err)
	}
	renderer := render.NewService(render.Config{
		PDFDir:        cfg.Storage.PDFDir,
		Bucket:        cfg.Storage.Bucket,
		Folder:        cfg.Storage.Folder,
		Region:        cfg.Storage.Region,
		UploadTimeout: cfg.Storage.UploadTimeout,
	}, uploader, log)

	// --- extraction
	backend := openai.NewClient(openai.Config{
		APIKey:        cfg.LLM.APIKey,
		AzureEndpoint: cfg.LLM.Endpoint,
		APIVersion:    cfg.LLM.APIVersion,
		Model:         cfg.LLM.Deployment,
		Timeout:       cfg.LLM.Timeout,
	}, log)
	invoker := llm.NewInvoker(backend, schema.Current(), llm.InvokerConfig{
		Timeout:       cfg.LLM.Timeout,
		RatePerMinute: cfg.LLM.RatePerMinute,
	}, log)
	invoker.OnCall(reg.ObserveLLM)

	normalizer, err := normalize.New(schema.Current(), log)
	if err != nil {
		return err
	}

	proc := pipeline.NewProcessor(log, invoker, normalizer, renderer, store, attempts, reg, pipeline.Tenant{
		ClusterID: cfg.Tenant.ClusterID,
		UserID:    cfg.Tenant.UserID,
	})
	proc.MaxAttempts = cfg.Poller.MaxAttempts

	// --- mailbox
	dialer := mail.NewDialer(mail.Config{
		Server:         cfg.Mail.Server,
		User:           cfg.Mail.User,
		Password:       cfg.Mail.Password,
		Mailbox:        cfg.Mail.Mailbox,
		AttachmentsDir: cfg.Mail.AttachmentsDir,
	}, log)
	dial := func(ctx context.Context) (pipeline.Mailbox, error) {
		c, err := dialer.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	poller := pipeline.NewPoller(pipeline.PollerConfig{
		Interval:       cfg.Poller.Interval,
		MessageTimeout: cfg.Poller.MessageTimeout,
		Filter:         mail.Filter{SubjectContains: cfg.Mail.SubjectFilter},
	}, dial, proc, reg, log)

	checks := map[string]ops.Checker{"document_store": db}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return poller.Run(ctx) })

	if cfg.Ops.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Ops.Addr,
			Handler:           ops.NewRouter(ops.Options{Checks: checks, Gatherer: promReg, Logger: log}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info("ops.http.listen", "addr", cfg.Ops.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("ops http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if cfg.Ops.GRPCAddr != "" {
		gh := ops.NewGRPCHealth(checks, 15*time.Second, log)
		lis, err := net.Listen("tcp", cfg.Ops.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		g.Go(func() error {
			log.Info("ops.grpc.listen", "addr", cfg.Ops.GRPCAddr)
			return gh.Server.Serve(lis)
		})
		g.Go(func() error {
			gh.Watch(ctx)
			gh.Server.GracefulStop()
			return nil
		})
	}

	log.Info("permitd.start",
		"mailbox", cfg.Mail.Mailbox,
		"subject_filter", cfg.Mail.SubjectFilter,
		"schema_version", string(schema.CurrentVersion),
		"interval", cfg.Poller.Interval.String(),
	)
	return g.Wait()
}
