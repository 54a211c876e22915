// Package retention runs the background sweeper on a cron schedule. A run
// fails generations that died with a previous process, compacts the delta
// logs of finished messages and finishes interrupted thread deletions.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/pkg/errors"

	"assetdesk/pkg/config"
	"assetdesk/pkg/logger"
	"assetdesk/pkg/models"
	"assetdesk/pkg/store"
	"assetdesk/pkg/stream"
	"assetdesk/pkg/threads"
)

// DefaultCron runs the sweeper every ten minutes.
const DefaultCron = "*/10 * * * *"

// Report counts what one run changed.
type Report struct {
	Stale     int `json:"stale"`
	Compacted int `json:"compacted"`
	Deltas    int `json:"deltas"`
	Purged    int `json:"purged"`
}

// Sweeper holds what a run needs.
type Sweeper struct {
	cfg     config.RetentionConfig
	streams *stream.Log
	threads *threads.Service
	now     func() time.Time
}

func New(cfg config.RetentionConfig, streams *stream.Log, svc *threads.Service) *Sweeper {
	return &Sweeper{cfg: cfg, streams: streams, threads: svc, now: time.Now}
}

// Start runs the scheduler until ctx ends. It returns immediately when
// retention is disabled and fails on an invalid cron expression.
func (s *Sweeper) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		logger.Info("retention_disabled")
		return nil
	}
	expr := s.cfg.Cron
	if expr == "" {
		expr = DefaultCron
	}
	if !gronx.IsValid(expr) {
		logger.Error("retention_invalid_cron", "cron", expr)
		return fmt.Errorf("invalid retention cron expression: %s", expr)
	}
	logger.Info("retention_scheduler_started", "cron", expr, "stale_after", s.cfg.StaleAfter.Duration().String(),
		"delta_ttl", s.cfg.DeltaTTL.Duration().String(), "dry_run", s.cfg.DryRun)
	s.schedule(ctx, expr)
	return nil
}

// schedule sleeps until each next tick of expr and runs once per tick.
func (s *Sweeper) schedule(ctx context.Context, expr string) {
	for {
		next, err := gronx.NextTickAfter(expr, s.now().UTC(), false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", expr, "error", err)
			next = s.now().Add(30 * time.Second)
		}
		t := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			t.Stop()
			logger.Info("retention_scheduler_stopping")
			return
		case <-t.C:
		}
		if _, err := s.RunOnce(ctx); err != nil {
			logger.Error("retention_run_error", "error", err)
		}
	}
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	var rep Report
	start := s.now()
	batch := s.cfg.BatchSize
	if batch <= 0 {
		batch = 500
	}

	n, err := s.failStale(batch)
	rep.Stale = n
	if err != nil {
		return rep, err
	}
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	if ttl := s.cfg.DeltaTTL.Duration(); ttl > 0 {
		streams, err := store.ListFinishedBefore(start.Add(-ttl), batch)
		if err != nil {
			return rep, err
		}
		for _, fs := range streams {
			if s.cfg.DryRun {
				rep.Compacted++
				continue
			}
			dropped, err := store.DropDeltas(fs)
			if err != nil {
				return rep, err
			}
			rep.Compacted++
			rep.Deltas += dropped
		}
	}

	if s.threads != nil && !s.cfg.DryRun {
		n, err := s.threads.ResumePurges(ctx, batch)
		rep.Purged = n
		if err != nil {
			return rep, err
		}
	}
	logger.Info("retention_run_complete", "stale", rep.Stale, "compacted", rep.Compacted, "deltas", rep.Deltas,
		"purged", rep.Purged, "took", s.now().Sub(start).String())
	return rep, nil
}

// failStale marks assistant messages stuck in streaming past StaleAfter as
// failed. Generations checkpoint after every step, so UpdatedTS moves while
// one is alive.
func (s *Sweeper) failStale(limit int) (int, error) {
	after := s.cfg.StaleAfter.Duration()
	if after <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-after).UnixNano()
	pending, err := store.ListStreaming(limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range pending {
		msg, err := store.GetMessage(p.MessageID)
		if err != nil {
			logger.Warn("retention_streaming_missing", "message", p.MessageID, "error", err)
			continue
		}
		last := msg.UpdatedTS
		if last == 0 {
			last = msg.CreatedTS
		}
		if last >= cutoff {
			continue
		}
		if s.cfg.DryRun {
			n++
			continue
		}
		msg.Status = models.StatusError
		msg.Error = "generation did not finish"
		for i := range msg.Tools {
			if msg.Tools[i].State == models.ToolInputStreaming || msg.Tools[i].State == models.ToolInputAvailable {
				msg.Tools[i].State = models.ToolError
				msg.Tools[i].Error = "interrupted"
			}
		}
		if err := store.UpdateStreamingMessage(msg); err != nil {
			if errors.Is(err, store.ErrMessageFinished) || errors.Is(err, store.ErrNotFound) {
				continue
			}
			return n, err
		}
		n++
		if s.streams != nil && msg.PromptID != "" {
			if err := s.streams.Writer(msg.ThreadID, msg.PromptID).Status(models.StatusError); err != nil {
				logger.Warn("retention_status_delta_failed", "message", msg.ID, "error", err)
			}
		}
		logger.Warn("generation_marked_stale", "thread", msg.ThreadID, "message", msg.ID)
	}
	return n, nil
}
