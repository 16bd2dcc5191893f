// Package reconcile detects and, where safe, heals divergence between the
// broker's reported positions and the internal position store. It is the
// system's answer to network partitions, missed fills, and manual trades
// made outside the system.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/steward/internal/config"
	"github.com/alanyoungcy/steward/internal/domain"
	"github.com/alanyoungcy/steward/internal/risk"
)

const lockKey = "reconcile"

// Reconciler compares broker state against the position store and produces a
// ReconciliationReport. It heals exactly one class of divergence on its own
// (zombies with a corroborating manual exit order); everything else is
// reported and left for an operator.
type Reconciler struct {
	broker    domain.BrokerGateway
	positions domain.PositionStore
	locks     domain.LockManager
	notifier  domain.NotificationSink
	metrics   domain.MetricsSink
	counts    *risk.CountCache
	cfg       config.ReconcileConfig
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Reconciler.
func New(
	broker domain.BrokerGateway,
	positions domain.PositionStore,
	locks domain.LockManager,
	notifier domain.NotificationSink,
	metrics domain.MetricsSink,
	counts *risk.CountCache,
	cfg config.ReconcileConfig,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		broker:    broker,
		positions: positions,
		locks:     locks,
		notifier:  notifier,
		metrics:   metrics,
		counts:    counts,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "reconcile")),
		now:       time.Now,
	}
}

// Reconcile runs one full pass under the cross-process lock. Broker
// positions and store-open positions are each fetched exactly once up front;
// classification then works on those snapshots so a pass costs O(1) broker
// list calls regardless of position count.
//
// A per-symbol failure is recorded and the pass continues; one bad symbol
// must not hide divergence on the others.
func (r *Reconciler) Reconcile(ctx context.Context, minAge time.Duration) (*domain.ReconciliationReport, error) {
	unlock, err := r.locks.Acquire(ctx, lockKey, r.cfg.LockTTL.Duration)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("reconcile: pass already running elsewhere: %w", err)
		}
		return nil, fmt.Errorf("reconcile: acquire lock: %w", err)
	}
	defer unlock()

	started := r.now()
	report := domain.NewReconciliationReport(started)

	brokerPositions, err := r.broker.GetAllPositions(ctx)
	if err != nil {
		r.metrics.RecordFailure(ctx, "reconcile_broker_snapshot", r.now().Sub(started))
		return nil, fmt.Errorf("reconcile: fetch broker positions: %w", err)
	}
	openPositions, err := r.positions.GetOpenPositions(ctx)
	if err != nil {
		r.metrics.RecordFailure(ctx, "reconcile_store_snapshot", r.now().Sub(started))
		return nil, fmt.Errorf("reconcile: fetch store positions: %w", err)
	}

	held := make(map[string]domain.BrokerPosition, len(brokerPositions))
	for _, bp := range brokerPositions {
		held[bp.Symbol] = bp
	}
	trackedOpen := make(map[string]bool, len(openPositions))

	for _, pos := range openPositions {
		// Theoretical trades never touched the broker; they are neither
		// zombie candidates nor an explanation for broker-held inventory.
		if pos.TradeType != domain.TradeTypeExecuted {
			continue
		}
		trackedOpen[pos.Symbol] = true
		if _, onBroker := held[pos.Symbol]; onBroker {
			continue
		}
		if pos.Age(r.now()) < minAge {
			// The broker's position list can lag a just-submitted order.
			r.logger.DebugContext(ctx, "reconcile: skipping young position",
				slog.String("position_id", pos.ID),
				slog.String("symbol", pos.Symbol),
				slog.Duration("age", pos.Age(r.now())))
			continue
		}

		healed, err := r.HandleManualExitVerification(ctx, pos)
		if err != nil {
			report.AddCritical(fmt.Sprintf("zombie %s (position %s): manual-exit verification failed: %v",
				pos.Symbol, pos.ID, err))
			continue
		}
		if healed != nil {
			report.Healed = append(report.Healed,
				fmt.Sprintf("%s (position %s) closed as manual exit at %.4f",
					pos.Symbol, pos.ID, *healed.ExitFillPrice))
			continue
		}

		report.Zombies[pos.Symbol] = domain.Divergence{
			Symbol:     pos.Symbol,
			PositionID: pos.ID,
			Detail:     "open in store, absent from broker, no exit order found",
		}
		report.AddCritical(fmt.Sprintf("zombie %s (position %s): no exit order found, refusing to auto-close",
			pos.Symbol, pos.ID))
	}

	for symbol, bp := range held {
		if trackedOpen[symbol] || bp.Qty == 0 {
			continue
		}

		latest, err := r.positions.GetLatestBySymbol(ctx, symbol)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			report.Orphans[symbol] = domain.Divergence{
				Symbol: symbol,
				Detail: fmt.Sprintf("broker holds qty %.6f with no store record", bp.Qty),
			}
		case err != nil:
			report.AddCritical(fmt.Sprintf("orphan check for %s failed: %v", symbol, err))
		case latest.TradeType != domain.TradeTypeExecuted:
			// A paper or shadow record cannot account for real inventory.
			report.Orphans[symbol] = domain.Divergence{
				Symbol:     symbol,
				PositionID: latest.ID,
				Detail: fmt.Sprintf("broker holds qty %.6f, newest store record for the symbol is %s",
					bp.Qty, latest.TradeType),
			}
		default:
			report.ReverseOrphans[symbol] = domain.Divergence{
				Symbol:     symbol,
				PositionID: latest.ID,
				Detail: fmt.Sprintf("closed in store at %s, broker still holds qty %.6f",
					closedAtString(latest), bp.Qty),
			}
		}
	}

	report.FinishedAt = r.now()
	r.logger.InfoContext(ctx, "reconcile: pass complete",
		slog.Int("zombies", len(report.Zombies)),
		slog.Int("orphans", len(report.Orphans)),
		slog.Int("reverse_orphans", len(report.ReverseOrphans)),
		slog.Int("critical", len(report.CriticalIssues)),
		slog.Int("healed", len(report.Healed)),
		slog.Duration("took", report.FinishedAt.Sub(report.StartedAt)))

	if report.HasFindings() {
		r.notify(ctx, "reconcile_report", "Reconciliation findings", summarize(report))
	}
	return report, nil
}

// HandleManualExitVerification checks the broker's recent order history for
// evidence that a zombie candidate was closed by hand. A filled closing-side
// order that is not one of the position's own recorded exit legs counts as a
// manual exit; the position is healed to closed with that order's fill.
// Returns nil when no qualifying order exists, which means the caller must
// escalate rather than close.
func (r *Reconciler) HandleManualExitVerification(ctx context.Context, pos domain.Position) (*domain.Position, error) {
	orders, err := r.broker.GetOrders(ctx, domain.OrderFilter{
		Status:  "closed",
		Symbols: []string{pos.Symbol},
		After:   pos.CreatedAt,
		Limit:   r.cfg.LookbackOrders,
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile: fetch order history for %s: %w", pos.Symbol, err)
	}

	own := map[string]bool{
		pos.BrokerOrderID:     true,
		pos.TakeProfitOrderID: true,
		pos.StopLossOrderID:   true,
	}
	exitSide := pos.Side.Opposite()

	for _, order := range orders {
		if !order.Status.Filled() || order.Side != exitSide || own[order.ID] {
			continue
		}

		fillPrice := pos.EntryFillPrice
		if order.FilledAvgPrice != nil {
			fillPrice = *order.FilledAvgPrice
		}
		pos.MarkClosed(domain.ExitReasonManualExit, fillPrice, order.ID, r.now())
		if err := r.positions.Update(ctx, pos); err != nil {
			return nil, fmt.Errorf("reconcile: persist manual exit for %s: %w", pos.ID, err)
		}

		r.counts.Invalidate(pos.AssetClass)
		r.logger.InfoContext(ctx, "reconcile: zombie healed as manual exit",
			slog.String("position_id", pos.ID),
			slog.String("symbol", pos.Symbol),
			slog.String("exit_order_id", order.ID),
			slog.Float64("fill_price", fillPrice))
		r.notify(ctx, "manual_exit", "Manual exit detected",
			fmt.Sprintf("%s (position %s) was closed outside the system at %.4f (order %s)",
				pos.Symbol, pos.ID, fillPrice, order.ID))
		return &pos, nil
	}
	return nil, nil
}

// HealReverseOrphan reopens a closed store record whose symbol the broker
// still holds. This is an explicit maintenance action, never a reconciliation
// side effect: the default stance on reverse orphans is report-only because
// closure may have been intentional.
func (r *Reconciler) HealReverseOrphan(ctx context.Context, positionID string) (domain.Position, error) {
	pos, err := r.positions.GetByID(ctx, positionID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("reconcile: heal reverse orphan %s: %w", positionID, err)
	}
	if pos.IsOpen() {
		return pos, fmt.Errorf("reconcile: heal reverse orphan %s: position is already open", positionID)
	}

	bp, err := r.broker.GetOpenPosition(ctx, pos.Symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Position{}, fmt.Errorf("reconcile: heal reverse orphan %s: broker no longer holds %s",
				positionID, pos.Symbol)
		}
		return domain.Position{}, fmt.Errorf("reconcile: heal reverse orphan %s: %w", positionID, err)
	}

	pos.Status = domain.PositionStatusOpen
	pos.Qty = bp.Qty
	pos.ExitReason = nil
	pos.ExitFillPrice = nil
	pos.ExitOrderID = ""
	pos.ClosedAt = nil
	if err := r.positions.Update(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("reconcile: heal reverse orphan %s: persist: %w", positionID, err)
	}

	r.counts.Invalidate(pos.AssetClass)
	r.logger.InfoContext(ctx, "reconcile: reverse orphan reopened",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.Float64("qty", pos.Qty))
	r.notify(ctx, "reverse_orphan_healed", "Reverse orphan reopened",
		fmt.Sprintf("%s (position %s) reopened to match broker qty %.6f", pos.Symbol, pos.ID, bp.Qty))
	return pos, nil
}

func (r *Reconciler) notify(ctx context.Context, event, title, message string) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Notify(ctx, event, title, message); err != nil {
		r.logger.WarnContext(ctx, "reconcile: notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()))
	}
}

func closedAtString(pos domain.Position) string {
	if pos.ClosedAt == nil {
		return "unknown time"
	}
	return pos.ClosedAt.Format(time.RFC3339)
}

func summarize(report *domain.ReconciliationReport) string {
	var b strings.Builder
	for symbol, d := range report.Zombies {
		fmt.Fprintf(&b, "zombie %s: %s\n", symbol, d.Detail)
	}
	for symbol, d := range report.Orphans {
		fmt.Fprintf(&b, "orphan %s: %s\n", symbol, d.Detail)
	}
	for symbol, d := range report.ReverseOrphans {
		fmt.Fprintf(&b, "reverse orphan %s: %s\n", symbol, d.Detail)
	}
	for _, issue := range report.CriticalIssues {
		fmt.Fprintf(&b, "CRITICAL: %s\n", issue)
	}
	for _, healed := range report.Healed {
		fmt.Fprintf(&b, "healed: %s\n", healed)
	}
	return strings.TrimRight(b.String(), "\n")
}
