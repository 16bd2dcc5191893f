package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/steward/internal/domain"
)

// archiveCadence is how often full mode checks for positions past retention.
const archiveCadence = 24 * time.Hour

// ExecuteMode consumes trade signals from the signal bus and runs each one
// through the risk and execution engines. Blocks until the context ends.
func (a *App) ExecuteMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting execute mode",
		slog.String("channel", a.cfg.Redis.SignalChannel))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.consumeSignals(ctx, deps)
	})
	return g.Wait()
}

// ReconcileMode runs a single reconciliation pass and exits. Intended for
// cron-style scheduling.
func (a *App) ReconcileMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting reconcile mode")

	report, err := deps.Reconciler.Reconcile(ctx, a.cfg.Reconcile.MinAge.Duration)
	if err != nil {
		return fmt.Errorf("reconcile mode: %w", err)
	}
	if !report.HasFindings() {
		a.logger.InfoContext(ctx, "reconcile mode: broker and store consistent")
	}
	return nil
}

// MonitorMode runs reconciliation passes on a fixed interval without
// executing any trades. Blocks until the context ends.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode",
		slog.Duration("interval", a.cfg.Reconcile.Interval.Duration))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.reconcileLoop(ctx, deps)
	})
	return g.Wait()
}

// ArchiveMode runs a single archival pass and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: archival is not enabled in config")
	}
	n, err := deps.Archiver.ArchiveClosedPositions(ctx)
	if err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	a.logger.InfoContext(ctx, "archive mode complete", slog.Int("archived", n))
	return nil
}

// FullMode runs signal execution, periodic reconciliation, and daily
// archival together. Blocks until the context ends or one of the loops
// fails.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.consumeSignals(ctx, deps)
	})
	g.Go(func() error {
		return a.reconcileLoop(ctx, deps)
	})
	if deps.Archiver != nil {
		g.Go(func() error {
			return a.archiveLoop(ctx, deps)
		})
	}

	return g.Wait()
}

// consumeSignals subscribes to the signal channel and executes each decoded
// signal. Malformed payloads and per-signal failures are logged and skipped;
// only subscription loss ends the loop.
func (a *App) consumeSignals(ctx context.Context, deps *Dependencies) error {
	ch, err := deps.SignalBus.Subscribe(ctx, a.cfg.Redis.SignalChannel)
	if err != nil {
		return fmt.Errorf("consume signals: subscribe %s: %w", a.cfg.Redis.SignalChannel, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return fmt.Errorf("consume signals: channel %s closed", a.cfg.Redis.SignalChannel)
			}

			var sig domain.Signal
			if err := json.Unmarshal(payload, &sig); err != nil {
				a.logger.WarnContext(ctx, "discarding malformed signal payload",
					slog.String("error", err.Error()))
				continue
			}

			pos, err := deps.Execution.ExecuteSignal(ctx, sig)
			if err != nil {
				if errors.Is(err, domain.ErrExecutionDisabled) {
					a.logger.WarnContext(ctx, "execution disabled, dropping signal",
						slog.String("signal_id", sig.ID))
					continue
				}
				a.logger.ErrorContext(ctx, "signal execution failed",
					slog.String("signal_id", sig.ID),
					slog.String("symbol", sig.Symbol),
					slog.String("error", err.Error()))
				continue
			}
			a.logger.InfoContext(ctx, "signal processed",
				slog.String("signal_id", sig.ID),
				slog.String("position_id", pos.ID),
				slog.String("trade_type", string(pos.TradeType)))
		}
	}
}

// reconcileLoop runs a reconciliation pass immediately and then on the
// configured interval. A pass that loses the cross-process lock to another
// instance is logged and retried next tick, not treated as fatal.
func (a *App) reconcileLoop(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Reconcile.Interval.Duration
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	run := func() {
		_, err := deps.Reconciler.Reconcile(ctx, a.cfg.Reconcile.MinAge.Duration)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				a.logger.InfoContext(ctx, "reconcile pass skipped, lock held elsewhere")
				return
			}
			a.logger.ErrorContext(ctx, "reconcile pass failed",
				slog.String("error", err.Error()))
		}
	}

	run()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			run()
		}
	}
}

// archiveLoop runs an archival pass once a day.
func (a *App) archiveLoop(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(archiveCadence)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := deps.Archiver.ArchiveClosedPositions(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive pass failed",
					slog.String("error", err.Error()))
			}
		}
	}
}
