package s3archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/steward/internal/config"
	"github.com/alanyoungcy/steward/internal/domain"
)

// Archiver moves closed positions past their retention window out of the
// primary store and into object storage as JSONL. Rows are marked archived
// only after the upload has been verified with a head request, so a failed
// or partial upload leaves them eligible for the next run.
type Archiver struct {
	store     *ObjectStore
	positions domain.PositionStore
	notifier  domain.NotificationSink
	cfg       config.ArchiveConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewArchiver creates an Archiver.
func NewArchiver(
	store *ObjectStore,
	positions domain.PositionStore,
	notifier domain.NotificationSink,
	cfg config.ArchiveConfig,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		store:     store,
		positions: positions,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "archive")),
		now:       time.Now,
	}
}

// archiveRecord is the JSONL row format. Positions carry no JSON tags of
// their own; the archive schema is pinned here so store refactors cannot
// silently change the on-disk format.
type archiveRecord struct {
	ID              string             `json:"id"`
	SignalID        string             `json:"signal_id"`
	Symbol          string             `json:"symbol"`
	AssetClass      domain.AssetClass  `json:"asset_class"`
	Side            domain.OrderSide   `json:"side"`
	Qty             float64            `json:"qty"`
	EntryFillPrice  float64            `json:"entry_fill_price"`
	CurrentStopLoss float64            `json:"current_stop_loss"`
	TradeType       domain.TradeType   `json:"trade_type"`
	ExitReason      *domain.ExitReason `json:"exit_reason,omitempty"`
	ExitFillPrice   *float64           `json:"exit_fill_price,omitempty"`
	ExitOrderID     string             `json:"exit_order_id,omitempty"`
	ScaledOutPrices []domain.ScaleOut  `json:"scaled_out_prices,omitempty"`
	FailedReason    *string            `json:"failed_reason,omitempty"`
	AccountID       string             `json:"account_id"`
	Strategy        string             `json:"strategy"`
	CreatedAt       time.Time          `json:"created_at"`
	ClosedAt        *time.Time         `json:"closed_at,omitempty"`
}

// ArchiveClosedPositions uploads every closed, unarchived position older
// than the retention window and stamps the rows archived. Returns the number
// of positions archived.
func (a *Archiver) ArchiveClosedPositions(ctx context.Context) (int, error) {
	now := a.now()
	cutoff := now.AddDate(0, 0, -a.cfg.RetentionDays)

	positions, err := a.positions.ListClosedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3archive: list closed positions: %w", err)
	}
	if len(positions) == 0 {
		a.logger.InfoContext(ctx, "archive: nothing to archive",
			slog.Time("cutoff", cutoff))
		return 0, nil
	}

	buf, ids, err := marshalRecords(positions)
	if err != nil {
		return 0, err
	}

	key := a.objectKey(now)
	if int64(buf.Len()) > minPartSize {
		err = a.store.PutMultipart(ctx, key, buf, minPartSize)
	} else {
		err = a.store.Put(ctx, key, buf, "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3archive: upload %s: %w", key, err)
	}

	ok, err := a.store.Exists(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("s3archive: verify upload %s: %w", key, err)
	}
	if !ok {
		return 0, fmt.Errorf("s3archive: upload %s not visible after put, refusing to mark rows", key)
	}

	if err := a.positions.MarkArchived(ctx, ids, now); err != nil {
		// The upload exists; re-running will re-upload the same rows under
		// a new key, which is safe.
		return 0, fmt.Errorf("s3archive: mark %d rows archived: %w", len(ids), err)
	}

	a.logger.InfoContext(ctx, "archive: pass complete",
		slog.Int("positions", len(ids)),
		slog.String("key", key),
		slog.Time("cutoff", cutoff))
	if a.notifier != nil {
		if err := a.notifier.Notify(ctx, "archive_complete", "Positions archived",
			fmt.Sprintf("%d closed positions older than %s archived to %s",
				len(ids), cutoff.Format("2006-01-02"), key)); err != nil {
			a.logger.WarnContext(ctx, "archive: notification failed",
				slog.String("error", err.Error()))
		}
	}
	return len(ids), nil
}

// objectKey stamps each run with its own key so reruns never overwrite a
// previous archive.
func (a *Archiver) objectKey(now time.Time) string {
	prefix := a.cfg.Prefix
	if prefix == "" {
		prefix = "archive"
	}
	return fmt.Sprintf("%s/positions/%s.jsonl", prefix, now.UTC().Format("2006-01-02T150405Z"))
}

func marshalRecords(positions []domain.Position) (*bytes.Buffer, []string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	ids := make([]string, 0, len(positions))
	for _, p := range positions {
		rec := archiveRecord{
			ID:              p.ID,
			SignalID:        p.SignalID,
			Symbol:          p.Symbol,
			AssetClass:      p.AssetClass,
			Side:            p.Side,
			Qty:             p.Qty,
			EntryFillPrice:  p.EntryFillPrice,
			CurrentStopLoss: p.CurrentStopLoss,
			TradeType:       p.TradeType,
			ExitReason:      p.ExitReason,
			ExitFillPrice:   p.ExitFillPrice,
			ExitOrderID:     p.ExitOrderID,
			ScaledOutPrices: p.ScaledOutPrices,
			FailedReason:    p.FailedReason,
			AccountID:       p.AccountID,
			Strategy:        p.Strategy,
			CreatedAt:       p.CreatedAt,
			ClosedAt:        p.ClosedAt,
		}
		if err := enc.Encode(rec); err != nil {
			return nil, nil, fmt.Errorf("s3archive: encode position %s: %w", p.ID, err)
		}
		ids = append(ids, p.ID)
	}
	return &buf, ids, nil
}
