package risk

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
)

type stubBroker struct {
	domain.BrokerGateway

	account    domain.Account
	accountErr error
}

func (b *stubBroker) GetAccount(ctx context.Context) (domain.Account, error) {
	return b.account, b.accountErr
}

type stubStore struct {
	domain.PositionStore

	counts   map[domain.AssetClass]int
	countErr error
}

func (s *stubStore) CountOpenByClass(ctx context.Context, class domain.AssetClass) (int, error) {
	return s.counts[class], s.countErr
}

type recordingMetrics struct {
	gates []domain.RiskGate
}

func (m *recordingMetrics) RecordRiskBlock(ctx context.Context, gate domain.RiskGate, symbol string, capitalAtRisk float64) {
	m.gates = append(m.gates, gate)
}

func (m *recordingMetrics) RecordFailure(ctx context.Context, operation string, duration time.Duration) {}

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		RiskPerTrade:        100,
		MaxDailyDrawdownPct: 0.03,
		MinBuyingPowerUSD:   500,
		MaxOpenPerClass:     map[string]int{"crypto": 3, "equity": 5},
	}
}

func newTestEngine(broker *stubBroker, store *stubStore, metrics *recordingMetrics) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(broker, store, NewCountCache(5*time.Minute), metrics, testRiskConfig(), logger)
}

func cryptoSignal() domain.Signal {
	return domain.Signal{
		ID:            "sig-1",
		Symbol:        "BTC/USD",
		AssetClass:    domain.AssetClassCrypto,
		Side:          domain.OrderSideBuy,
		EntryPrice:    50000,
		SuggestedStop: 49000,
	}
}

func TestPositionSize(t *testing.T) {
	require.InDelta(t, 0.1, PositionSize(100, 50000, 49000), 1e-9)
	require.InDelta(t, 0.1, PositionSize(100, 49000, 50000), 1e-9) // short side
	require.Zero(t, PositionSize(100, 50000, 50000))
}

func TestValidateSignalApproves(t *testing.T) {
	broker := &stubBroker{account: domain.Account{
		Equity:                   100000,
		LastEquity:               100000,
		NonMarginableBuyingPower: 20000,
	}}
	store := &stubStore{counts: map[domain.AssetClass]int{domain.AssetClassCrypto: 1}}
	engine := newTestEngine(broker, store, &recordingMetrics{})

	result := engine.ValidateSignal(context.Background(), cryptoSignal())
	require.True(t, result.Passed)
}

func TestValidateSignalDrawdownGate(t *testing.T) {
	broker := &stubBroker{account: domain.Account{
		Equity:                   96000,
		LastEquity:               100000, // 4% drawdown, max is 3%
		NonMarginableBuyingPower: 20000,
	}}
	store := &stubStore{counts: map[domain.AssetClass]int{}}
	metrics := &recordingMetrics{}
	engine := newTestEngine(broker, store, metrics)

	result := engine.ValidateSignal(context.Background(), cryptoSignal())
	require.False(t, result.Passed)
	require.Equal(t, domain.RiskGateDrawdown, result.Gate)
	require.InDelta(t, 5000, result.CapitalAtRisk, 1e-9)
	require.Equal(t, []domain.RiskGate{domain.RiskGateDrawdown}, metrics.gates)
}

func TestValidateSignalAccountFetchFailsClosed(t *testing.T) {
	broker := &stubBroker{accountErr: errors.New("api down")}
	engine := newTestEngine(broker, &stubStore{}, &recordingMetrics{})

	result := engine.ValidateSignal(context.Background(), cryptoSignal())
	require.False(t, result.Passed)
	require.Equal(t, domain.RiskGateDrawdown, result.Gate)
}

func TestValidateSignalBuyingPowerExactlyRequiredPasses(t *testing.T) {
	// qty = 100/(50000-49000) = 0.1, required = 0.1*50000 = 5000.
	broker := &stubBroker{account: domain.Account{
		Equity:                   100000,
		LastEquity:               100000,
		NonMarginableBuyingPower: 5000,
	}}
	store := &stubStore{counts: map[domain.AssetClass]int{}}
	engine := newTestEngine(broker, store, &recordingMetrics{})

	result := engine.ValidateSignal(context.Background(), cryptoSignal())
	require.True(t, result.Passed)
}

func TestValidateSignalBuyingPowerInsufficient(t *testing.T) {
	broker := &stubBroker{account: domain.Account{
		Equity:                   100000,
		LastEquity:               100000,
		NonMarginableBuyingPower: 4999,
	}}
	engine := newTestEngine(broker, &stubStore{}, &recordingMetrics{})

	result := engine.ValidateSignal(context.Background(), cryptoSignal())
	require.False(t, result.Passed)
	require.Equal(t, domain.RiskGateBuyingPower, result.Gate)
}

func TestValidateSignalBuyingPowerFloor(t *testing.T) {
	sig := cryptoSignal()
	sig.EntryPrice = 100
	sig.SuggestedStop = 50 // qty 2, required 200, under the 500 floor

	broker := &stubBroker{account: domain.Account{
		Equity:                   100000,
		LastEquity:               100000,
		NonMarginableBuyingPower: 400,
	}}
	engine := newTestEngine(broker, &stubStore{}, &recordingMetrics{})

	result := engine.ValidateSignal(context.Background(), sig)
	require.False(t, result.Passed)
	require.Equal(t, domain.RiskGateBuyingPower, result.Gate)
}

func TestValidateSignalEquityUsesRegTBuyingPower(t *testing.T) {
	sig := domain.Signal{
		ID:            "sig-2",
		Symbol:        "AAPL",
		AssetClass:    domain.AssetClassEquity,
		Side:          domain.OrderSideBuy,
		EntryPrice:    200,
		SuggestedStop: 195, // qty 20, required 4000
	}
	broker := &stubBroker{account: domain.Account{
		Equity:                   100000,
		LastEquity:               100000,
		BuyingPower:              4000,
		NonMarginableBuyingPower: 0, // must be ignored for equities
	}}
	store := &stubStore{counts: map[domain.AssetClass]int{}}
	engine := newTestEngine(broker, store, &recordingMetrics{})

	result := engine.ValidateSignal(context.Background(), sig)
	require.True(t, result.Passed)
}

func TestValidateSignalSectorCapGate(t *testing.T) {
	broker := &stubBroker{account: domain.Account{
		Equity:                   100000,
		LastEquity:               100000,
		NonMarginableBuyingPower: 20000,
	}}
	store := &stubStore{counts: map[domain.AssetClass]int{domain.AssetClassCrypto: 3}}
	engine := newTestEngine(broker, store, &recordingMetrics{})

	result := engine.ValidateSignal(context.Background(), cryptoSignal())
	require.False(t, result.Passed)
	require.Equal(t, domain.RiskGateSectorCap, result.Gate)
}

func TestValidateSignalSectorCapFailsClosedOnStoreError(t *testing.T) {
	broker := &stubBroker{account: domain.Account{
		Equity:                   100000,
		LastEquity:               100000,
		NonMarginableBuyingPower: 20000,
	}}
	store := &stubStore{countErr: errors.New("connection refused")}
	engine := newTestEngine(broker, store, &recordingMetrics{})

	result := engine.ValidateSignal(context.Background(), cryptoSignal())
	require.False(t, result.Passed)
	require.Equal(t, domain.RiskGateSectorCap, result.Gate)
}

func TestValidateSignalZeroStopDistanceBlocked(t *testing.T) {
	sig := cryptoSignal()
	sig.SuggestedStop = sig.EntryPrice

	engine := newTestEngine(&stubBroker{}, &stubStore{}, &recordingMetrics{})
	result := engine.ValidateSignal(context.Background(), sig)
	require.False(t, result.Passed)
	require.Equal(t, domain.RiskGateBuyingPower, result.Gate)
}
