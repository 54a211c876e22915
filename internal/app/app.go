// Package app wires the server together and runs it until shutdown.
package app

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"assetdesk/internal/retention"
	"assetdesk/pkg/api/handlers"
	"assetdesk/pkg/banner"
	"assetdesk/pkg/chat"
	"assetdesk/pkg/config"
	"assetdesk/pkg/ingest"
	"assetdesk/pkg/ingest/queue"
	"assetdesk/pkg/llm"
	"assetdesk/pkg/logger"
	"assetdesk/pkg/state"
	"assetdesk/pkg/store"
	"assetdesk/pkg/stream"
	"assetdesk/pkg/threads"
	"assetdesk/pkg/tools"
	"assetdesk/pkg/users"
)

// shutdownGrace bounds how long in-flight requests and generations may
// finish after a shutdown signal.
const shutdownGrace = 20 * time.Second

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	streams *stream.Log
	threads *threads.Service
	queue   *queue.Queue
	proc    *ingest.Processor
	pipe    *chat.Pipeline
	sweeper *retention.Sweeper
	api     *handlers.API

	srv *http.Server
}

// New validates the effective config, opens the store and builds every
// component. Nothing runs until Run.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	if err := validateConfig(eff); err != nil {
		return nil, err
	}
	cfg := eff.Config
	config.SetRuntime(config.NewRuntime(cfg))

	paths, err := state.Ensure(eff.DBPath)
	if err != nil {
		return nil, errors.Wrap(err, "prepare state folders")
	}
	auditDir := cfg.Security.AuditDir
	if auditDir == "" {
		auditDir = paths.Audit
	}
	if err := logger.AttachAuditFileSink(auditDir); err != nil {
		return nil, errors.Wrap(err, "attach audit sink")
	}

	if err := store.Open(paths.Store); err != nil {
		return nil, errors.Wrapf(err, "failed to open pebble at %s", paths.Store)
	}
	if err := llm.SeedModels(cfg.Models.SeedModels); err != nil {
		_ = store.Close()
		return nil, errors.Wrap(err, "seed model list")
	}

	a := &App{eff: eff, version: version, commit: commit, buildDate: buildDate}
	a.streams = stream.New()
	a.threads = threads.NewService(a.streams, cfg.Chat)
	a.queue = queue.New(queue.Options{
		Capacity:        cfg.Ingest.Queue.Capacity,
		MaxPooledBuffer: int(cfg.Ingest.Queue.MaxPooledBufferBytes.Int64()),
	})
	a.proc = ingest.NewProcessor(a.queue, cfg.Ingest.Processor.Workers)
	resolver := users.NewResolver()
	a.pipe = chat.New(chat.Deps{
		Users:   resolver,
		Threads: a.threads,
		Tools:   tools.NewRegistry(),
		Model:   llm.NewOpenRouter(cfg.Models),
		Queue:   a.queue,
		Streams: a.streams,
	}, cfg.Models, cfg.Chat)
	a.pipe.Register(a.proc)
	a.sweeper = retention.New(cfg.Retention, a.streams, a.threads)
	a.api = &handlers.API{
		Chat:     a.pipe,
		Threads:  a.threads,
		Users:    resolver,
		Streams:  a.streams,
		PageSize: cfg.Chat.PageSize,
	}
	return a, nil
}

// Run starts the processor, the retention scheduler and the HTTP server and
// blocks until ctx is cancelled or the server fails. On the way out it
// stops accepting requests, lets queued generations drain within the grace
// period and closes the store.
func (a *App) Run(ctx context.Context) error {
	a.printBanner()

	if n, err := a.threads.ResumePurges(ctx, 0); err != nil {
		logger.Warn("resume_purges_failed", "resumed", n, "error", err)
	} else if n > 0 {
		logger.Info("resume_purges_done", "resumed", n)
	}

	a.srv = a.newServer()
	a.proc.Start(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.serveHTTP() })
	g.Go(func() error { return a.sweeper.Start(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})

	err := g.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	if cerr := store.Close(); cerr != nil {
		logger.Error("store_close_failed", "error", cerr)
	}
	logger.Info("server_stopped")
	logger.Sync()
	return err
}

func (a *App) shutdown() error {
	logger.Info("shutdown_started", "grace", shutdownGrace.String())
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := a.srv.Shutdown(ctx); err != nil {
		logger.Warn("http_shutdown_incomplete", "error", err)
	}
	if err := a.proc.Stop(ctx); err != nil {
		logger.Warn("processor_stop_incomplete", "error", err)
	}
	return nil
}

// printBanner prints the startup banner and build info.
func (a *App) printBanner() {
	ver := a.version
	if a.commit != "" && a.commit != "none" {
		ver += " (" + a.commit + ")"
	}
	if a.buildDate != "" && a.buildDate != "unknown" {
		ver += " @ " + a.buildDate
	}
	banner.Print(os.Stdout, a.eff, ver)
}
