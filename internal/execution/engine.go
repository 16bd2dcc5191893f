// Package execution turns risk-approved signals into broker orders and owns
// the position lifecycle from entry fill to exit. It is the only package
// allowed to submit orders.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/steward/internal/config"
	"github.com/alanyoungcy/steward/internal/domain"
	"github.com/alanyoungcy/steward/internal/risk"
)

const (
	fillPollAttempts = 10
	fillPollInterval = 500 * time.Millisecond

	// fallbackAccountID marks records written without a confirmed broker
	// account id: either the fetch failed, or the environment never talks
	// to the broker at all.
	fallbackAccountID = "unknown"
)

// Engine executes trade signals. Every entry passes through the risk engine
// first; rejected signals leave a shadow record so the audit trail shows what
// was attempted and which gate stopped it.
type Engine struct {
	broker    domain.BrokerGateway
	positions domain.PositionStore
	risk      *risk.Engine
	metrics   domain.MetricsSink
	notifier  domain.NotificationSink
	cfg       config.ExecutionConfig
	riskCfg   config.RiskConfig
	logger    *slog.Logger
	now       func() time.Time

	accountIDOnce sync.Once
	accountID     string
}

// NewEngine creates an execution Engine.
func NewEngine(
	broker domain.BrokerGateway,
	positions domain.PositionStore,
	riskEngine *risk.Engine,
	metrics domain.MetricsSink,
	notifier domain.NotificationSink,
	cfg config.ExecutionConfig,
	riskCfg config.RiskConfig,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		broker:    broker,
		positions: positions,
		risk:      riskEngine,
		metrics:   metrics,
		notifier:  notifier,
		cfg:       cfg,
		riskCfg:   riskCfg,
		logger:    logger.With(slog.String("component", "execution")),
		now:       time.Now,
	}
}

// AccountID returns the broker account identifier, fetched once and cached
// for the process lifetime. On failure it returns "unknown" so position
// records are still written; the real ID backfills on a later restart.
func (e *Engine) AccountID(ctx context.Context) string {
	e.accountIDOnce.Do(func() {
		id, err := e.broker.GetAccountID(ctx)
		if err != nil {
			e.logger.WarnContext(ctx, "execution: account id unavailable, using fallback",
				slog.String("error", err.Error()))
			e.accountID = fallbackAccountID
			return
		}
		e.accountID = id
	})
	return e.accountID
}

// ExecuteSignal runs the full entry pipeline for one signal: duplicate and
// expiry checks, sizing, the environment gate, risk validation, order
// submission, and persisting the resulting position. The returned position's
// TradeType tells the caller what actually happened: executed, theoretical
// (non-production), or risk_blocked.
func (e *Engine) ExecuteSignal(ctx context.Context, sig domain.Signal) (domain.Position, error) {
	if !e.cfg.Enabled {
		return domain.Position{}, domain.ErrExecutionDisabled
	}
	if sig.Expired(e.now()) {
		return domain.Position{}, fmt.Errorf("execution: signal %s for %s expired at %s",
			sig.ID, sig.Symbol, sig.ExpiresAt.Format(time.RFC3339))
	}

	// One open position per signal; a replayed signal is a no-op.
	if existing, err := e.positions.GetBySignalID(ctx, sig.ID); err == nil && existing.IsOpen() {
		return existing, fmt.Errorf("execution: signal %s already has open position %s: %w",
			sig.ID, existing.ID, domain.ErrAlreadyExists)
	}

	qty := risk.PositionSize(e.riskCfg.RiskPerTrade, sig.EntryPrice, sig.SuggestedStop)
	notional := qty * sig.EntryPrice
	if notional < e.cfg.MinNotionalUSD {
		return domain.Position{}, fmt.Errorf("execution: %s notional %.2f below floor %.2f: %w",
			sig.Symbol, notional, e.cfg.MinNotionalUSD, domain.ErrBelowMinNotional)
	}

	// The environment gate comes before risk validation: non-production
	// means zero broker traffic, and the risk gates read live account state.
	if !e.cfg.Production() {
		return e.recordTheoretical(ctx, sig, qty)
	}

	result := e.risk.ValidateSignal(ctx, sig)
	if !result.Passed {
		return e.recordRiskBlocked(ctx, sig, qty, result)
	}

	return e.executeLive(ctx, sig, qty)
}

func (e *Engine) executeLive(ctx context.Context, sig domain.Signal, qty float64) (domain.Position, error) {
	req := domain.OrderRequest{
		Symbol:        sig.Symbol,
		Qty:           qty,
		Side:          sig.Side,
		Kind:          domain.OrderKindMarket,
		ClientOrderID: sig.ID,
	}
	// Crypto venues reject bracket orders, so crypto stops live only in the
	// position record and are enforced locally. Equities get broker-side
	// take-profit and stop legs.
	if sig.AssetClass == domain.AssetClassEquity {
		req.Kind = domain.OrderKindBracket
		req.TakeProfit = sig.TakeProfit
		req.StopLoss = sig.SuggestedStop
	}

	started := e.now()
	order, err := e.broker.SubmitOrder(ctx, req)
	if err != nil {
		e.metrics.RecordFailure(ctx, "submit_order", e.now().Sub(started))
		return domain.Position{}, fmt.Errorf("execution: submit entry for %s: %w", sig.Symbol, err)
	}

	fillPrice := sig.EntryPrice
	filled, err := e.waitForFill(ctx, order.ID)
	if err != nil {
		// The order is live at the broker even though we could not confirm
		// the fill. Persist the position with the signal's entry estimate;
		// SyncPositionStatus trues it up once the broker reports the fill.
		e.logger.WarnContext(ctx, "execution: entry fill unconfirmed, using signal entry price",
			slog.String("symbol", sig.Symbol),
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()))
		filled = order
	}
	if filled.FilledAvgPrice != nil {
		fillPrice = *filled.FilledAvgPrice
	}

	pos := domain.Position{
		ID:              positionID(sig),
		SignalID:        sig.ID,
		Symbol:          sig.Symbol,
		AssetClass:      sig.AssetClass,
		Side:            sig.Side,
		Status:          domain.PositionStatusOpen,
		Qty:             qty,
		EntryFillPrice:  fillPrice,
		CurrentStopLoss: sig.SuggestedStop,
		BrokerOrderID:   order.ID,
		TradeType:       domain.TradeTypeExecuted,
		AccountID:       e.AccountID(ctx),
		Strategy:        sig.Strategy,
		CreatedAt:       e.now(),
	}
	for _, leg := range filled.Legs {
		switch leg.Type {
		case "limit":
			pos.TakeProfitOrderID = leg.ID
		case "stop":
			pos.StopLossOrderID = leg.ID
		}
	}

	if err := e.positions.Save(ctx, pos); err != nil {
		// Broker inventory now exists without a local record. Reconciliation
		// will flag it as an orphan; make sure an operator hears about it
		// before then.
		e.notify(ctx, "save_failed", "Position save failed",
			fmt.Sprintf("%s %s qty %.6f filled at %.4f (order %s) but the position record could not be written: %v",
				sig.Side, sig.Symbol, qty, fillPrice, order.ID, err))
		return domain.Position{}, fmt.Errorf("execution: save position for %s: %w", sig.Symbol, err)
	}

	e.risk.Counts().Invalidate(sig.AssetClass)
	e.logger.InfoContext(ctx, "execution: position opened",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.String("side", string(pos.Side)),
		slog.Float64("qty", qty),
		slog.Float64("fill_price", fillPrice))
	return pos, nil
}

// recordRiskBlocked writes the shadow record for a rejected signal. The row
// is born closed so it never counts toward open exposure; its qty is what
// the sizing formula would have traded, so the audit trail shows the size
// of the blocked attempt.
func (e *Engine) recordRiskBlocked(ctx context.Context, sig domain.Signal, qty float64, result domain.RiskCheckResult) (domain.Position, error) {
	reason := domain.ExitReasonRiskBlocked
	failed := fmt.Sprintf("%s: %s", result.Gate, result.Reason)
	now := e.now()

	pos := domain.Position{
		ID:              positionID(sig),
		SignalID:        sig.ID,
		Symbol:          sig.Symbol,
		AssetClass:      sig.AssetClass,
		Side:            sig.Side,
		Status:          domain.PositionStatusClosed,
		Qty:             qty,
		EntryFillPrice:  sig.EntryPrice,
		CurrentStopLoss: sig.SuggestedStop,
		TradeType:       domain.TradeTypeRiskBlocked,
		ExitReason:      &reason,
		FailedReason:    &failed,
		AccountID:       e.AccountID(ctx),
		Strategy:        sig.Strategy,
		CreatedAt:       now,
		ClosedAt:        &now,
	}
	if err := e.positions.Save(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("execution: save risk-blocked record for %s: %w", sig.Symbol, err)
	}

	e.logger.InfoContext(ctx, "execution: signal blocked by risk gate",
		slog.String("signal_id", sig.ID),
		slog.String("symbol", sig.Symbol),
		slog.String("gate", string(result.Gate)),
		slog.String("reason", result.Reason))
	return pos, nil
}

// recordTheoretical writes a paper position for non-production environments.
// No broker call is made on this path, including the account-id fetch; the
// record carries the fallback id instead.
func (e *Engine) recordTheoretical(ctx context.Context, sig domain.Signal, qty float64) (domain.Position, error) {
	pos := domain.Position{
		ID:              positionID(sig),
		SignalID:        sig.ID,
		Symbol:          sig.Symbol,
		AssetClass:      sig.AssetClass,
		Side:            sig.Side,
		Status:          domain.PositionStatusOpen,
		Qty:             qty,
		EntryFillPrice:  sig.EntryPrice,
		CurrentStopLoss: sig.SuggestedStop,
		TradeType:       domain.TradeTypeTheoretical,
		AccountID:       fallbackAccountID,
		Strategy:        sig.Strategy,
		CreatedAt:       e.now(),
	}
	if err := e.positions.Save(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("execution: save theoretical position for %s: %w", sig.Symbol, err)
	}

	e.logger.InfoContext(ctx, "execution: theoretical position recorded",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.String("environment", e.cfg.Environment))
	return pos, nil
}

// SyncPositionStatus polls the broker orders attached to an open position:
// the entry order first, to true up fill price and quantity on records that
// were persisted before the fill was confirmed, then any exit legs, closing
// the record once one fills. Crypto positions carry no broker-side exit
// legs; exits made outside the system are the reconciler's to detect.
func (e *Engine) SyncPositionStatus(ctx context.Context, positionID string) (domain.Position, error) {
	pos, err := e.positions.GetByID(ctx, positionID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("execution: sync %s: %w", positionID, err)
	}
	if !pos.IsOpen() {
		return pos, nil
	}
	if pos.TradeType != domain.TradeTypeExecuted {
		return pos, nil
	}

	if pos.BrokerOrderID != "" {
		if err := e.syncEntryFill(ctx, &pos); err != nil {
			return pos, err
		}
	}

	if pos.TakeProfitOrderID != "" {
		if closed, err := e.closeIfFilled(ctx, &pos, pos.TakeProfitOrderID, domain.ExitReasonTakeProfit); err != nil {
			return pos, err
		} else if closed {
			return pos, nil
		}
	}
	if pos.StopLossOrderID != "" {
		if closed, err := e.closeIfFilled(ctx, &pos, pos.StopLossOrderID, domain.ExitReasonStopLoss); err != nil {
			return pos, err
		} else if closed {
			return pos, nil
		}
	}
	return pos, nil
}

// syncEntryFill replaces the signal's entry estimate with the broker's
// reported fill once the entry order reaches filled. Quantity is only trued
// up while no scale-outs exist; after a partial exit the remaining qty no
// longer matches the entry fill.
func (e *Engine) syncEntryFill(ctx context.Context, pos *domain.Position) error {
	order, err := e.broker.GetOrder(ctx, pos.BrokerOrderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("execution: sync %s: fetch entry order %s: %w", pos.ID, pos.BrokerOrderID, err)
	}
	if !order.Status.Filled() {
		return nil
	}

	changed := false
	if order.FilledAvgPrice != nil && *order.FilledAvgPrice != pos.EntryFillPrice {
		pos.EntryFillPrice = *order.FilledAvgPrice
		changed = true
	}
	if len(pos.ScaledOutPrices) == 0 && order.FilledQty > 0 && order.FilledQty != pos.Qty {
		pos.Qty = order.FilledQty
		changed = true
	}
	if !changed {
		return nil
	}

	if err := e.positions.Update(ctx, *pos); err != nil {
		return fmt.Errorf("execution: sync %s: persist entry fill: %w", pos.ID, err)
	}
	e.logger.InfoContext(ctx, "execution: entry fill trued up from broker",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.Float64("fill_price", pos.EntryFillPrice),
		slog.Float64("qty", pos.Qty))
	return nil
}

func (e *Engine) closeIfFilled(ctx context.Context, pos *domain.Position, orderID string, reason domain.ExitReason) (bool, error) {
	order, err := e.broker.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("execution: sync %s: fetch exit order %s: %w", pos.ID, orderID, err)
	}
	if !order.Status.Filled() {
		return false, nil
	}

	fillPrice := pos.EntryFillPrice
	if order.FilledAvgPrice != nil {
		fillPrice = *order.FilledAvgPrice
	}
	pos.MarkClosed(reason, fillPrice, order.ID, e.now())
	if err := e.positions.Update(ctx, *pos); err != nil {
		return false, fmt.Errorf("execution: sync %s: persist close: %w", pos.ID, err)
	}

	e.risk.Counts().Invalidate(pos.AssetClass)
	e.logger.InfoContext(ctx, "execution: position closed by exit order",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.String("reason", string(reason)),
		slog.Float64("fill_price", fillPrice))
	return true, nil
}

// MoveStopToBreakeven raises the position's stop to its entry fill price.
// Idempotent: a second call on the same position is a no-op. For equities the
// broker-side stop order is replaced; for crypto the stop exists only locally
// so the update is a pure record change.
func (e *Engine) MoveStopToBreakeven(ctx context.Context, positionID string) error {
	pos, err := e.positions.GetByID(ctx, positionID)
	if err != nil {
		return fmt.Errorf("execution: breakeven %s: %w", positionID, err)
	}
	if !pos.IsOpen() {
		return fmt.Errorf("execution: breakeven %s: %w", positionID, domain.ErrAlreadyClosed)
	}
	if pos.BreakevenApplied {
		return nil
	}

	if pos.AssetClass == domain.AssetClassEquity && pos.StopLossOrderID != "" {
		replaced, err := e.broker.ReplaceStopOrder(ctx, pos.StopLossOrderID, pos.EntryFillPrice)
		if err != nil {
			return fmt.Errorf("execution: breakeven %s: replace stop: %w", positionID, err)
		}
		// Replacement cancels the old order and issues a new ID.
		pos.StopLossOrderID = replaced.ID
	}

	pos.CurrentStopLoss = pos.EntryFillPrice
	pos.BreakevenApplied = true
	if err := e.positions.Update(ctx, pos); err != nil {
		return fmt.Errorf("execution: breakeven %s: persist: %w", positionID, err)
	}

	e.logger.InfoContext(ctx, "execution: stop moved to breakeven",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.Float64("stop", pos.CurrentStopLoss))
	return nil
}

// ScaleOut exits part of an open position with a market order on the closing
// side, appends the tranche to the position's scale-out history, and reduces
// the remaining quantity. The position stays open; taking the final tranche
// is an exit, not a scale-out, and must go through the exit paths.
func (e *Engine) ScaleOut(ctx context.Context, positionID string, qty float64) (domain.Position, error) {
	pos, err := e.positions.GetByID(ctx, positionID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("execution: scale out %s: %w", positionID, err)
	}
	if !pos.IsOpen() {
		return domain.Position{}, fmt.Errorf("execution: scale out %s: %w", positionID, domain.ErrAlreadyClosed)
	}
	if qty <= 0 || qty >= pos.Qty {
		return domain.Position{}, fmt.Errorf("execution: scale out %s: qty %.6f must be positive and below remaining %.6f",
			positionID, qty, pos.Qty)
	}

	fillPrice := pos.EntryFillPrice
	if pos.TradeType == domain.TradeTypeExecuted {
		started := e.now()
		order, err := e.broker.SubmitOrder(ctx, domain.OrderRequest{
			Symbol: pos.Symbol,
			Qty:    qty,
			Side:   pos.Side.Opposite(),
			Kind:   domain.OrderKindMarket,
			// One deterministic id per tranche keeps a retried submit
			// resolvable without double-selling.
			ClientOrderID: fmt.Sprintf("scale-%s-%d", pos.ID, len(pos.ScaledOutPrices)+1),
		})
		if err != nil {
			e.metrics.RecordFailure(ctx, "scale_out", e.now().Sub(started))
			return domain.Position{}, fmt.Errorf("execution: scale out %s: submit: %w", positionID, err)
		}
		if filled, err := e.waitForFill(ctx, order.ID); err == nil && filled.FilledAvgPrice != nil {
			fillPrice = *filled.FilledAvgPrice
		} else if err != nil {
			e.logger.WarnContext(ctx, "execution: scale-out fill unconfirmed, recording entry estimate",
				slog.String("position_id", pos.ID),
				slog.String("order_id", order.ID),
				slog.String("error", err.Error()))
		}
	}

	pos.ScaledOutPrices = append(pos.ScaledOutPrices, domain.ScaleOut{
		Price: fillPrice,
		Qty:   qty,
		At:    e.now(),
	})
	pos.Qty -= qty
	if err := e.positions.Update(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("execution: scale out %s: persist: %w", positionID, err)
	}

	e.logger.InfoContext(ctx, "execution: position scaled out",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.Float64("tranche_qty", qty),
		slog.Float64("tranche_price", fillPrice),
		slog.Float64("remaining_qty", pos.Qty))
	return pos, nil
}

// ClosePositionEmergency flattens a position with a market order, cancelling
// any resting exit legs first. The caller passes the signal ID it believes
// the position belongs to; a mismatch means the symbol was re-entered under a
// newer signal since the caller last looked, and closing would kill the wrong
// trade (ErrStalePosition).
func (e *Engine) ClosePositionEmergency(ctx context.Context, positionID, signalID string) (domain.Position, error) {
	pos, err := e.positions.GetByID(ctx, positionID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("execution: emergency close %s: %w", positionID, err)
	}
	if pos.SignalID != signalID {
		return domain.Position{}, fmt.Errorf("execution: emergency close %s: position belongs to signal %s, caller expected %s: %w",
			positionID, pos.SignalID, signalID, domain.ErrStalePosition)
	}
	if !pos.IsOpen() {
		return pos, fmt.Errorf("execution: emergency close %s: %w", positionID, domain.ErrAlreadyClosed)
	}

	if pos.TradeType == domain.TradeTypeTheoretical {
		pos.MarkClosed(domain.ExitReasonEmergencyClose, pos.EntryFillPrice, "", e.now())
		if err := e.positions.Update(ctx, pos); err != nil {
			return domain.Position{}, fmt.Errorf("execution: emergency close %s: persist: %w", positionID, err)
		}
		return pos, nil
	}

	// Resting exit legs would race the flattening order; cancel them first.
	for _, id := range []string{pos.TakeProfitOrderID, pos.StopLossOrderID} {
		if id == "" {
			continue
		}
		if err := e.broker.CancelOrder(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
			e.logger.WarnContext(ctx, "execution: emergency close: cancel exit leg failed",
				slog.String("position_id", pos.ID),
				slog.String("order_id", id),
				slog.String("error", err.Error()))
		}
	}

	started := e.now()
	order, err := e.broker.SubmitOrder(ctx, domain.OrderRequest{
		Symbol:        pos.Symbol,
		Qty:           pos.Qty,
		Side:          pos.Side.Opposite(),
		Kind:          domain.OrderKindMarket,
		ClientOrderID: "close-" + pos.ID,
	})
	if err != nil {
		e.metrics.RecordFailure(ctx, "emergency_close", e.now().Sub(started))
		return domain.Position{}, fmt.Errorf("execution: emergency close %s: submit exit: %w", positionID, err)
	}

	fillPrice := pos.EntryFillPrice
	if filled, err := e.waitForFill(ctx, order.ID); err == nil && filled.FilledAvgPrice != nil {
		fillPrice = *filled.FilledAvgPrice
	}

	pos.MarkClosed(domain.ExitReasonEmergencyClose, fillPrice, order.ID, e.now())
	if err := e.positions.Update(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("execution: emergency close %s: persist: %w", positionID, err)
	}

	e.risk.Counts().Invalidate(pos.AssetClass)
	e.notify(ctx, "emergency_close", "Position closed",
		fmt.Sprintf("Emergency close of %s %s qty %.6f filled at %.4f", pos.Side, pos.Symbol, pos.Qty, fillPrice))
	return pos, nil
}

// GetOrderDetails returns the broker's view of a single order.
func (e *Engine) GetOrderDetails(ctx context.Context, orderID string) (domain.Order, error) {
	return e.broker.GetOrder(ctx, orderID)
}

// GetCryptoFeesByOrders sums the crypto trading fees the broker charged for
// the given order IDs, from the account activity feed.
func (e *Engine) GetCryptoFeesByOrders(ctx context.Context, orderIDs []string, since time.Time) (float64, error) {
	activities, err := e.broker.GetActivities(ctx, domain.ActivityFilter{
		Types: []string{"FEE", "CFEE"},
		After: since,
	})
	if err != nil {
		return 0, fmt.Errorf("execution: fetch fee activities: %w", err)
	}

	wanted := make(map[string]bool, len(orderIDs))
	for _, id := range orderIDs {
		wanted[id] = true
	}

	var total float64
	for _, a := range activities {
		if !wanted[a.OrderID] {
			continue
		}
		// Fees post as negative net amounts.
		if a.NetAmount < 0 {
			total += -a.NetAmount
		} else {
			total += a.NetAmount
		}
	}
	return total, nil
}

// waitForFill polls the order until it fills or the poll budget runs out.
func (e *Engine) waitForFill(ctx context.Context, orderID string) (domain.Order, error) {
	var last domain.Order
	for i := 0; i < fillPollAttempts; i++ {
		order, err := e.broker.GetOrder(ctx, orderID)
		if err == nil {
			last = order
			if order.Status.Filled() {
				return order, nil
			}
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(fillPollInterval):
		}
	}
	return last, fmt.Errorf("execution: order %s not filled after %d polls (status %q)",
		orderID, fillPollAttempts, last.Status)
}

func (e *Engine) notify(ctx context.Context, event, title, message string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, event, title, message); err != nil {
		e.logger.WarnContext(ctx, "execution: notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()))
	}
}

// positionID uses the signal's ID so the position and the signal that caused
// it share an identifier. Signals without an ID get a fresh UUID.
func positionID(sig domain.Signal) string {
	if sig.ID != "" {
		return sig.ID
	}
	return uuid.NewString()
}
