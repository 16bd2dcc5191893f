package execution

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/steward/internal/config"
	"github.com/alanyoungcy/steward/internal/domain"
	"github.com/alanyoungcy/steward/internal/risk"
)

// fakeBroker is an in-memory BrokerGateway. Submitted orders fill instantly
// at the configured price.
type fakeBroker struct {
	domain.BrokerGateway

	account    domain.Account
	accountErr error
	fillPrice  float64
	legs       []domain.Order
	submitErr  error

	submitted []domain.OrderRequest
	replaced  map[string]float64
	cancelled []string
	orders    map[string]domain.Order

	accountCalls   int
	accountIDCalls int
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		account: domain.Account{
			ID:                       "acct-1",
			Equity:                   100000,
			LastEquity:               100000,
			BuyingPower:              50000,
			NonMarginableBuyingPower: 50000,
		},
		fillPrice: 0,
		replaced:  make(map[string]float64),
		orders:    make(map[string]domain.Order),
	}
}

func (b *fakeBroker) GetAccount(ctx context.Context) (domain.Account, error) {
	b.accountCalls++
	return b.account, b.accountErr
}

func (b *fakeBroker) GetAccountID(ctx context.Context) (string, error) {
	b.accountIDCalls++
	if b.accountErr != nil {
		return "", b.accountErr
	}
	return b.account.ID, nil
}

func (b *fakeBroker) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	if b.submitErr != nil {
		return domain.Order{}, b.submitErr
	}
	b.submitted = append(b.submitted, req)

	price := b.fillPrice
	order := domain.Order{
		ID:             "order-" + req.ClientOrderID,
		ClientOrderID:  req.ClientOrderID,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Qty:            req.Qty,
		FilledQty:      req.Qty,
		FilledAvgPrice: &price,
		Status:         domain.OrderStatusFilled,
		Legs:           b.legs,
	}
	b.orders[order.ID] = order
	return order, nil
}

func (b *fakeBroker) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	order, ok := b.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return order, nil
}

func (b *fakeBroker) ReplaceStopOrder(ctx context.Context, id string, stopPrice float64) (domain.Order, error) {
	b.replaced[id] = stopPrice
	return domain.Order{ID: id + "-replaced", Status: domain.OrderStatusNew}, nil
}

func (b *fakeBroker) CancelOrder(ctx context.Context, id string) error {
	b.cancelled = append(b.cancelled, id)
	return nil
}

// memStore is an in-memory PositionStore.
type memStore struct {
	domain.PositionStore

	positions map[string]domain.Position
	saveErr   error
}

func newMemStore() *memStore {
	return &memStore{positions: make(map[string]domain.Position)}
}

func (s *memStore) Save(ctx context.Context, pos domain.Position) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.positions[pos.ID] = pos
	return nil
}

func (s *memStore) Update(ctx context.Context, pos domain.Position) error {
	if _, ok := s.positions[pos.ID]; !ok {
		return domain.ErrNotFound
	}
	s.positions[pos.ID] = pos
	return nil
}

func (s *memStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	pos, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (s *memStore) GetBySignalID(ctx context.Context, signalID string) (domain.Position, error) {
	for _, pos := range s.positions {
		if pos.SignalID == signalID {
			return pos, nil
		}
	}
	return domain.Position{}, domain.ErrNotFound
}

func (s *memStore) CountOpenByClass(ctx context.Context, class domain.AssetClass) (int, error) {
	n := 0
	for _, pos := range s.positions {
		if pos.AssetClass == class && pos.IsOpen() && pos.TradeType == domain.TradeTypeExecuted {
			n++
		}
	}
	return n, nil
}

type nopMetrics struct{}

func (nopMetrics) RecordRiskBlock(context.Context, domain.RiskGate, string, float64) {}
func (nopMetrics) RecordFailure(context.Context, string, time.Duration)              {}

func testConfigs() (config.ExecutionConfig, config.RiskConfig) {
	exec := config.ExecutionConfig{
		Enabled:        true,
		Environment:    "production",
		MinNotionalUSD: 10,
	}
	riskCfg := config.RiskConfig{
		RiskPerTrade:        100,
		MaxDailyDrawdownPct: 0.03,
		MinBuyingPowerUSD:   500,
		MaxOpenPerClass:     map[string]int{"crypto": 3, "equity": 5},
	}
	return exec, riskCfg
}

func newTestEngine(t *testing.T, broker *fakeBroker, store *memStore, execCfg config.ExecutionConfig, riskCfg config.RiskConfig) *Engine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	riskEngine := risk.NewEngine(broker, store, risk.NewCountCache(5*time.Minute), nopMetrics{}, riskCfg, logger)
	return NewEngine(broker, store, riskEngine, nopMetrics{}, nil, execCfg, riskCfg, logger)
}

func cryptoSignal() domain.Signal {
	return domain.Signal{
		ID:            "sig-btc-1",
		Symbol:        "BTC/USD",
		AssetClass:    domain.AssetClassCrypto,
		Side:          domain.OrderSideBuy,
		EntryPrice:    50000,
		SuggestedStop: 49000,
		TakeProfit:    52000,
		Strategy:      "breakout",
	}
}

func equitySignal() domain.Signal {
	return domain.Signal{
		ID:            "sig-aapl-1",
		Symbol:        "AAPL",
		AssetClass:    domain.AssetClassEquity,
		Side:          domain.OrderSideBuy,
		EntryPrice:    200,
		SuggestedStop: 195,
		TakeProfit:    210,
		Strategy:      "breakout",
	}
}

func TestExecuteSignalCryptoMarketOrder(t *testing.T) {
	broker := newFakeBroker()
	broker.fillPrice = 50012.5
	store := newMemStore()
	execCfg, riskCfg := testConfigs()
	engine := newTestEngine(t, broker, store, execCfg, riskCfg)

	pos, err := engine.ExecuteSignal(context.Background(), cryptoSignal())
	require.NoError(t, err)

	require.Len(t, broker.submitted, 1)
	req := broker.submitted[0]
	require.Equal(t, domain.OrderKindMarket, req.Kind)
	require.InDelta(t, 0.1, req.Qty, 1e-9) // 100 / (50000-49000)
	require.Equal(t, "sig-btc-1", req.ClientOrderID)

	require.Equal(t, domain.TradeTypeExecuted, pos.TradeType)
	require.Equal(t, domain.PositionStatusOpen, pos.Status)
	require.InDelta(t, 50012.5, pos.EntryFillPrice, 1e-9)
	// Crypto stop lives only in the record; no broker-side legs.
	require.Empty(t, pos.StopLossOrderID)
	require.Empty(t, pos.TakeProfitOrderID)
	require.InDelta(t, 49000, pos.CurrentStopLoss, 1e-9)
	require.Equal(t, "acct-1", pos.AccountID)
}

func TestExecuteSignalEquityBracketOrder(t *testing.T) {
	broker := newFakeBroker()
	broker.fillPrice = 200.1
	broker.legs = []domain.Order{
		{ID: "tp-1", Type: "limit", Status: domain.OrderStatusNew},
		{ID: "sl-1", Type: "stop", Status: domain.OrderStatusNew},
	}
	store := newMemStore()
	execCfg, riskCfg := testConfigs()
	engine := newTestEngine(t, broker, store, execCfg, riskCfg)

	pos, err := engine.ExecuteSignal(context.Background(), equitySignal())
	require.NoError(t, err)

	req := broker.submitted[0]
	require.Equal(t, domain.OrderKindBracket, req.Kind)
	require.InDelta(t, 210, req.TakeProfit, 1e-9)
	require.InDelta(t, 195, req.StopLoss, 1e-9)

	require.Equal(t, "tp-1", pos.TakeProfitOrderID)
	require.Equal(t, "sl-1", pos.StopLossOrderID)
}

func TestExecuteSignalRiskBlockedWritesShadowRecord(t *testing.T) {
	broker := newFakeBroker()
	broker.account.NonMarginableBuyingPower = 100 // required is 5000
	store := newMemStore()
	execCfg, riskCfg := testConfigs()
	engine := newTestEngine(t, broker, store, execCfg, riskCfg)

	pos, err := engine.ExecuteSignal(context.Background(), cryptoSignal())
	require.NoError(t, err)
	require.Empty(t, broker.submitted)

	require.Equal(t, domain.TradeTypeRiskBlocked, pos.TradeType)
	require.Equal(t, domain.PositionStatusClosed, pos.Status)
	require.NotNil(t, pos.ExitReason)
	require.Equal(t, domain.ExitReasonRiskBlocked, *pos.ExitReason)
	require.NotNil(t, pos.FailedReason)
	require.Contains(t, *pos.FailedReason, "buying_power")
	// The shadow record carries the qty the sizing formula would have
	// traded, not zero.
	require.InDelta(t, 0.1, pos.Qty, 1e-9) // 100 / (50000-49000)

	saved, err := store.GetBySignalID(context.Background(), "sig-btc-1")
	require.NoError(t, err)
	require.Equal(t, domain.TradeTypeRiskBlocked, saved.TradeType)
	require.InDelta(t, 0.1, saved.Qty, 1e-9)
}

func TestExecuteSignalNonProductionIsTheoretical(t *testing.T) {
	broker := newFakeBroker()
	store := newMemStore()
	execCfg, riskCfg := testConfigs()
	execCfg.Environment = "development"
	engine := newTestEngine(t, broker, store, execCfg, riskCfg)

	pos, err := engine.ExecuteSignal(context.Background(), cryptoSignal())
	require.NoError(t, err)
	require.Empty(t, broker.submitted, "non-production must never touch the broker")
	require.Zero(t, broker.accountCalls, "risk gates must not read the account in non-production")
	require.Zero(t, broker.accountIDCalls, "account id must not be fetched in non-production")
	require.Equal(t, domain.TradeTypeTheoretical, pos.TradeType)
	require.Equal(t, domain.PositionStatusOpen, pos.Status)
	require.InDelta(t, 50000, pos.EntryFillPrice, 1e-9)
	require.InDelta(t, 0.1, pos.Qty, 1e-9)
	require.Equal(t, "unknown", pos.AccountID)
}

func TestExecuteSignalNonProductionWorksWithoutBrokerAccess(t *testing.T) {
	// A development box has no broker credentials; every gateway call would
	// fail. Theoretical execution must still succeed.
	broker := newFakeBroker()
	broker.accountErr = errors.New("no credentials")
	store := newMemStore()
	execCfg, riskCfg := testConfigs()
	execCfg.Environment = "development"
	engine := newTestEngine(t, broker, store, execCfg, riskCfg)

	pos, err := engine.ExecuteSignal(context.Background(), cryptoSignal())
	require.NoError(t, err)
	require.Equal(t, domain.TradeTypeTheoretical, pos.TradeType)
}

func TestExecuteSignalDisabled(t *testing.T) {
	broker := newFakeBroker()
	store := newMemStore()
	execCfg, riskCfg := testConfigs()
	execCfg.Enabled = false
	engine := newTestEngine(t, broker, store, execCfg, riskCfg)

	_, err := engine.ExecuteSignal(context.Background(), cryptoSignal())
	require.ErrorIs(t, err, domain.ErrExecutionDisabled)
	require.Empty(t, broker.submitted)
}

func TestExecuteSignalBelowMinNotional(t *testing.T) {
	sig := cryptoSignal()
	sig.EntryPrice = 1.00
	sig.SuggestedStop = 0.50 // qty 200, notional 200... adjust risk instead

	broker := newFakeBroker()
	store := newMemStore()
	execCfg, riskCfg := testConfigs()
	riskCfg.RiskPerTrade = 0.01 // qty 0.02, notional 0.02
	engine := newTestEngine(t, broker, store, execCfg, riskCfg)

	_, err := engine.ExecuteSignal(context.Background(), sig)
	require.ErrorIs(t, err, domain.ErrBelowMinNotional)
	require.Empty(t, broker.submitted)
}

func TestExecuteSignalDuplicateOpenSignal(t *testing.T) {
	broker := newFakeBroker()
	store := newMemStore()
	execCfg, riskCfg := testConfigs()
	engine := newTestEngine(t, broker, store, execCfg, riskCfg)

	_, err := engine.ExecuteSignal(context.Background(), cryptoSignal())
	require.NoError(t, err)

	_, err = engine.ExecuteSignal(context.Background(), cryptoSignal())
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
	require.Len(t, broker.submitted, 1)
}

func TestExecuteSignalExpired(t *testing.T) {
	sig := cryptoSignal()
	sig.ExpiresAt = time.Now().Add(-time.Minute)

	broker := newFakeBroker()
	engine := newDefaultEngine(t, broker, newMemStore())

	_, err := engine.ExecuteSignal(context.Background(), sig)
	require.Error(t, err)
	require.Empty(t, broker.submitted)
}

func newDefaultEngine(t *testing.T, broker *fakeBroker, store *memStore) *Engine {
	t.Helper()
	execCfg, riskCfg := testConfigs()
	return newTestEngine(t, broker, store, execCfg, riskCfg)
}

func TestMoveStopToBreakevenCryptoIsLocalOnly(t *testing.T) {
	broker := newFakeBroker()
	broker.fillPrice = 50100
	store := newMemStore()
	engine := newDefaultEngine(t, broker, store)

	pos, err := engine.ExecuteSignal(context.Background(), cryptoSignal())
	require.NoError(t, err)

	require.NoError(t, engine.MoveStopToBreakeven(context.Background(), pos.ID))
	require.Empty(t, broker.replaced, "crypto breakeven must not call the broker")

	updated, err := store.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	require.True(t, updated.BreakevenApplied)
	require.InDelta(t, 50100, updated.CurrentStopLoss, 1e-9)

	// Idempotent: second call changes nothing and still succeeds.
	require.NoError(t, engine.MoveStopToBreakeven(context.Background(), pos.ID))
}

func TestMoveStopToBreakevenEquityReplacesBrokerStop(t *testing.T) {
	broker := newFakeBroker()
	broker.fillPrice = 200.5
	broker.legs = []domain.Order{
		{ID: "tp-1", Type: "limit"},
		{ID: "sl-1", Type: "stop"},
	}
	store := newMemStore()
	engine := newDefaultEngine(t, broker, store)

	pos, err := engine.ExecuteSignal(context.Background(), equitySignal())
	require.NoError(t, err)

	require.NoError(t, engine.MoveStopToBreakeven(context.Background(), pos.ID))
	require.InDelta(t, 200.5, broker.replaced["sl-1"], 1e-9)

	updated, err := store.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	require.Equal(t, "sl-1-replaced", updated.StopLossOrderID)
	require.True(t, updated.BreakevenApplied)
}

func TestClosePositionEmergency(t *testing.T) {
	broker := newFakeBroker()
	broker.fillPrice = 50000
	store := newMemStore()
	engine := newDefaultEngine(t, broker, store)

	pos, err := engine.ExecuteSignal(context.Background(), cryptoSignal())
	require.NoError(t, err)

	broker.fillPrice = 49500
	closed, err := engine.ClosePositionEmergency(context.Background(), pos.ID, pos.SignalID)
	require.NoError(t, err)

	require.Equal(t, domain.PositionStatusClosed, closed.Status)
	require.NotNil(t, closed.ExitReason)
	require.Equal(t, domain.ExitReasonEmergencyClose, *closed.ExitReason)
	require.InDelta(t, 49500, *closed.ExitFillPrice, 1e-9)

	// The exit order is the opposite side at full quantity.
	exit := broker.submitted[len(broker.submitted)-1]
	require.Equal(t, domain.OrderSideSell, exit.Side)
	require.InDelta(t, pos.Qty, exit.Qty, 1e-9)
}

func TestClosePositionEmergencyStaleSignalRefused(t *testing.T) {
	broker := newFakeBroker()
	store := newMemStore()
	engine := newDefaultEngine(t, broker, store)

	pos, err := engine.ExecuteSignal(context.Background(), cryptoSignal())
	require.NoError(t, err)
	submittedBefore := len(broker.submitted)

	_, err = engine.ClosePositionEmergency(context.Background(), pos.ID, "some-older-signal")
	require.ErrorIs(t, err, domain.ErrStalePosition)
	require.Len(t, broker.submitted, submittedBefore, "stale close must not reach the broker")

	current, err := store.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	require.True(t, current.IsOpen())
}

func TestClosePositionEmergencyAlreadyClosed(t *testing.T) {
	broker := newFakeBroker()
	store := newMemStore()
	engine := newDefaultEngine(t, broker, store)

	pos, err := engine.ExecuteSignal(context.Background(), cryptoSignal())
	require.NoError(t, err)

	_, err = engine.ClosePositionEmergency(context.Background(), pos.ID, pos.SignalID)
	require.NoError(t, err)

	_, err = engine.ClosePositionEmergency(context.Background(), pos.ID, pos.SignalID)
	require.ErrorIs(t, err, domain.ErrAlreadyClosed)
}

func TestScaleOutReducesQtyAndRecordsTranche(t *testing.T) {
	broker := newFakeBroker()
	broker.fillPrice = 50000
	store := newMemStore()
	engine := newDefaultEngine(t, broker, store)

	pos, err := engine.ExecuteSignal(context.Background(), cryptoSignal())
	require.NoError(t, err)

	broker.fillPrice = 51000
	scaled, err := engine.ScaleOut(context.Background(), pos.ID, 0.04)
	require.NoError(t, err)

	require.True(t, scaled.IsOpen())
	require.InDelta(t, 0.06, scaled.Qty, 1e-9)
	require.Len(t, scaled.ScaledOutPrices, 1)
	require.InDelta(t, 51000, scaled.ScaledOutPrices[0].Price, 1e-9)
	require.InDelta(t, 0.04, scaled.ScaledOutPrices[0].Qty, 1e-9)

	// The tranche goes out as a closing-side market order.
	exit := broker.submitted[len(broker.submitted)-1]
	require.Equal(t, domain.OrderSideSell, exit.Side)
	require.Equal(t, domain.OrderKindMarket, exit.Kind)
	require.InDelta(t, 0.04, exit.Qty, 1e-9)
	require.Equal(t, "scale-"+pos.ID+"-1", exit.ClientOrderID)

	persisted, err := store.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	require.InDelta(t, 0.06, persisted.Qty, 1e-9)
}

func TestScaleOutRejectsFullOrOversizedQty(t *testing.T) {
	broker := newFakeBroker()
	store := newMemStore()
	engine := newDefaultEngine(t, broker, store)

	pos, err := engine.ExecuteSignal(context.Background(), cryptoSignal())
	require.NoError(t, err)
	submittedBefore := len(broker.submitted)

	// The final tranche is an exit, not a scale-out.
	_, err = engine.ScaleOut(context.Background(), pos.ID, pos.Qty)
	require.Error(t, err)
	_, err = engine.ScaleOut(context.Background(), pos.ID, -0.01)
	require.Error(t, err)
	require.Len(t, broker.submitted, submittedBefore)
}

func TestScaleOutTheoreticalStaysLocal(t *testing.T) {
	broker := newFakeBroker()
	store := newMemStore()
	execCfg, riskCfg := testConfigs()
	execCfg.Environment = "development"
	engine := newTestEngine(t, broker, store, execCfg, riskCfg)

	pos, err := engine.ExecuteSignal(context.Background(), cryptoSignal())
	require.NoError(t, err)

	scaled, err := engine.ScaleOut(context.Background(), pos.ID, 0.04)
	require.NoError(t, err)
	require.Empty(t, broker.submitted, "theoretical scale-out must not reach the broker")
	require.InDelta(t, 0.06, scaled.Qty, 1e-9)
	require.Len(t, scaled.ScaledOutPrices, 1)
	// Paper tranche is recorded at the entry estimate.
	require.InDelta(t, 50000, scaled.ScaledOutPrices[0].Price, 1e-9)
}

func TestSyncPositionStatusTruesUpEntryFill(t *testing.T) {
	broker := newFakeBroker()
	store := newMemStore()
	engine := newDefaultEngine(t, broker, store)

	// A position persisted before the entry fill was confirmed carries the
	// signal's entry estimate.
	fill := 50250.0
	broker.orders["entry-1"] = domain.Order{
		ID:             "entry-1",
		Status:         domain.OrderStatusFilled,
		FilledQty:      0.1,
		FilledAvgPrice: &fill,
	}
	require.NoError(t, store.Save(context.Background(), domain.Position{
		ID:             "p1",
		SignalID:       "sig-btc-1",
		Symbol:         "BTC/USD",
		AssetClass:     domain.AssetClassCrypto,
		Side:           domain.OrderSideBuy,
		Status:         domain.PositionStatusOpen,
		Qty:            0.1,
		EntryFillPrice: 50000,
		BrokerOrderID:  "entry-1",
		TradeType:      domain.TradeTypeExecuted,
		CreatedAt:      time.Now(),
	}))

	synced, err := engine.SyncPositionStatus(context.Background(), "p1")
	require.NoError(t, err)
	require.InDelta(t, 50250, synced.EntryFillPrice, 1e-9)

	persisted, err := store.GetByID(context.Background(), "p1")
	require.NoError(t, err)
	require.InDelta(t, 50250, persisted.EntryFillPrice, 1e-9)
}

func TestSyncPositionStatusKeepsQtyAfterScaleOut(t *testing.T) {
	broker := newFakeBroker()
	store := newMemStore()
	engine := newDefaultEngine(t, broker, store)

	// The entry order filled 0.1 but a tranche already went out; the
	// remaining qty must not snap back to the entry fill.
	fill := 50000.0
	broker.orders["entry-1"] = domain.Order{
		ID:             "entry-1",
		Status:         domain.OrderStatusFilled,
		FilledQty:      0.1,
		FilledAvgPrice: &fill,
	}
	require.NoError(t, store.Save(context.Background(), domain.Position{
		ID:             "p1",
		SignalID:       "sig-btc-1",
		Symbol:         "BTC/USD",
		AssetClass:     domain.AssetClassCrypto,
		Side:           domain.OrderSideBuy,
		Status:         domain.PositionStatusOpen,
		Qty:            0.06,
		EntryFillPrice: 50000,
		BrokerOrderID:  "entry-1",
		TradeType:      domain.TradeTypeExecuted,
		ScaledOutPrices: []domain.ScaleOut{
			{Price: 51000, Qty: 0.04, At: time.Now()},
		},
		CreatedAt: time.Now(),
	}))

	synced, err := engine.SyncPositionStatus(context.Background(), "p1")
	require.NoError(t, err)
	require.InDelta(t, 0.06, synced.Qty, 1e-9)
}

func TestSyncPositionStatusClosesOnFilledStop(t *testing.T) {
	broker := newFakeBroker()
	broker.fillPrice = 200
	broker.legs = []domain.Order{
		{ID: "tp-1", Type: "limit"},
		{ID: "sl-1", Type: "stop"},
	}
	store := newMemStore()
	engine := newDefaultEngine(t, broker, store)

	pos, err := engine.ExecuteSignal(context.Background(), equitySignal())
	require.NoError(t, err)

	// Simulate the broker filling the stop leg.
	stopFill := 195.0
	broker.orders["sl-1"] = domain.Order{
		ID:             "sl-1",
		Status:         domain.OrderStatusFilled,
		FilledAvgPrice: &stopFill,
	}
	broker.orders["tp-1"] = domain.Order{ID: "tp-1", Status: domain.OrderStatusNew}

	synced, err := engine.SyncPositionStatus(context.Background(), pos.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PositionStatusClosed, synced.Status)
	require.Equal(t, domain.ExitReasonStopLoss, *synced.ExitReason)
	require.InDelta(t, 195, *synced.ExitFillPrice, 1e-9)
}

func TestAccountIDFallsBackToUnknown(t *testing.T) {
	broker := newFakeBroker()
	broker.accountErr = errors.New("auth failure")
	engine := newDefaultEngine(t, broker, newMemStore())

	require.Equal(t, "unknown", engine.AccountID(context.Background()))
}
