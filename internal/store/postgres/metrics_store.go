package postgres

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/steward/internal/domain"
)

// MetricsStore implements domain.MetricsSink as an append-only event table.
// Risk blocks accumulate into the "capital protected" ledger; operation
// failures feed latency dashboards. The sink never feeds back into control
// flow, so write failures are logged and swallowed here.
type MetricsStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewMetricsStore creates a MetricsStore backed by the given connection pool.
func NewMetricsStore(pool *pgxpool.Pool, logger *slog.Logger) *MetricsStore {
	return &MetricsStore{
		pool:   pool,
		logger: logger.With(slog.String("component", "metrics")),
	}
}

func (s *MetricsStore) record(ctx context.Context, event string, detail map[string]any) {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		s.logger.ErrorContext(ctx, "marshal metric detail",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
		return
	}

	const query = `INSERT INTO metric_events (event, detail) VALUES ($1, $2)`
	if _, err := s.pool.Exec(ctx, query, event, detailJSON); err != nil {
		s.logger.ErrorContext(ctx, "record metric event",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// RecordRiskBlock logs one risk-gate rejection with the capital protected.
func (s *MetricsStore) RecordRiskBlock(ctx context.Context, gate domain.RiskGate, symbol string, capitalAtRisk float64) {
	s.record(ctx, "risk_block", map[string]any{
		"gate":            string(gate),
		"symbol":          symbol,
		"capital_at_risk": capitalAtRisk,
	})
}

// RecordFailure logs one failed operation and its duration.
func (s *MetricsStore) RecordFailure(ctx context.Context, operation string, duration time.Duration) {
	s.record(ctx, "operation_failure", map[string]any{
		"operation":   operation,
		"duration_ms": duration.Milliseconds(),
	})
}

// Compile-time interface check.
var _ domain.MetricsSink = (*MetricsStore)(nil)
