// Package risk implements the pre-trade risk gates that every signal must
// clear before the execution engine is allowed to commit capital.
package risk

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/steward/internal/config"
	"github.com/alanyoungcy/steward/internal/domain"
)

// PositionSize derives the order quantity from the dollar risk per trade and
// the entry-to-stop distance. Returns 0 when the distance is not positive.
func PositionSize(riskPerTrade, entryPrice, stopPrice float64) float64 {
	dist := entryPrice - stopPrice
	if dist < 0 {
		dist = -dist
	}
	if dist == 0 {
		return 0
	}
	return riskPerTrade / dist
}

// Engine validates proposed trades against the configured risk limits. It is
// read-only against both the broker and the position store; any failure to
// fetch the data a gate needs blocks the trade -- a data-fetch failure must
// never silently permit one.
//
// Gates run in a fixed, documented order: drawdown, then buying power, then
// sector cap, short-circuiting on the first failure. Downstream metrics are
// labeled by the first-failing gate, so the ordering is part of the contract.
type Engine struct {
	broker    domain.BrokerGateway
	positions domain.PositionStore
	counts    *CountCache
	metrics   domain.MetricsSink
	cfg       config.RiskConfig
	logger    *slog.Logger
}

// NewEngine creates a risk Engine with all required dependencies.
func NewEngine(
	broker domain.BrokerGateway,
	positions domain.PositionStore,
	counts *CountCache,
	metrics domain.MetricsSink,
	cfg config.RiskConfig,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		broker:    broker,
		positions: positions,
		counts:    counts,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "risk")),
	}
}

// Counts exposes the sector-cap count cache so the execution engine can
// invalidate it when positions open or close.
func (e *Engine) Counts() *CountCache {
	return e.counts
}

// ValidateSignal runs the risk gates against the signal and returns the
// outcome. The result never carries an error: infrastructure failures while
// gathering account state surface as a failed check (reject by default).
func (e *Engine) ValidateSignal(ctx context.Context, sig domain.Signal) domain.RiskCheckResult {
	qty := PositionSize(e.cfg.RiskPerTrade, sig.EntryPrice, sig.SuggestedStop)
	if qty <= 0 {
		return e.block(ctx, domain.RiskGateBuyingPower, sig,
			fmt.Sprintf("cannot size order: entry %.4f and stop %.4f give no stop distance", sig.EntryPrice, sig.SuggestedStop),
			0)
	}
	required := qty * sig.EntryPrice

	// Gate 1: drawdown. Uses a live account snapshot, never cached across
	// calls, because it reflects real-time risk.
	account, err := e.broker.GetAccount(ctx)
	if err != nil {
		return e.block(ctx, domain.RiskGateDrawdown, sig,
			fmt.Sprintf("account snapshot unavailable: %v", err), required)
	}
	if account.LastEquity > 0 {
		drawdown := (account.LastEquity - account.Equity) / account.LastEquity
		if drawdown > e.cfg.MaxDailyDrawdownPct {
			return e.block(ctx, domain.RiskGateDrawdown, sig,
				fmt.Sprintf("daily drawdown %.2f%% exceeds max %.2f%%",
					drawdown*100, e.cfg.MaxDailyDrawdownPct*100), required)
		}
	}

	// Gate 2: buying power. Crypto draws on cash (non-marginable) buying
	// power; equities on Reg-T.
	available := account.BuyingPower
	if sig.AssetClass == domain.AssetClassCrypto {
		available = account.NonMarginableBuyingPower
	}
	if available < e.cfg.MinBuyingPowerUSD {
		return e.block(ctx, domain.RiskGateBuyingPower, sig,
			fmt.Sprintf("available %.2f below minimum floor %.2f", available, e.cfg.MinBuyingPowerUSD), required)
	}
	if required > available {
		return e.block(ctx, domain.RiskGateBuyingPower, sig,
			fmt.Sprintf("required %.2f exceeds available %.2f", required, available), required)
	}

	// Gate 3: sector cap, read through the TTL cache. A cache fetch failure
	// returns the sentinel count, which fails this gate closed.
	count := e.counts.GetOrFetch(ctx, sig.AssetClass, func(ctx context.Context) (int, error) {
		return e.positions.CountOpenByClass(ctx, sig.AssetClass)
	})
	maxOpen := e.cfg.MaxOpenFor(string(sig.AssetClass))
	if count >= maxOpen {
		return e.block(ctx, domain.RiskGateSectorCap, sig,
			fmt.Sprintf("%d open %s positions at or above cap %d", count, sig.AssetClass, maxOpen), required)
	}

	return domain.Approved()
}

// block records the rejection metric and returns the failing result.
func (e *Engine) block(ctx context.Context, gate domain.RiskGate, sig domain.Signal, reason string, capitalAtRisk float64) domain.RiskCheckResult {
	e.logger.WarnContext(ctx, "signal blocked",
		slog.String("gate", string(gate)),
		slog.String("signal_id", sig.ID),
		slog.String("symbol", sig.Symbol),
		slog.Float64("capital_at_risk", capitalAtRisk),
		slog.String("reason", reason),
	)
	if e.metrics != nil {
		e.metrics.RecordRiskBlock(ctx, gate, sig.Symbol, capitalAtRisk)
	}
	return domain.Blocked(gate, reason, capitalAtRisk)
}
