// Package alpaca implements domain.BrokerGateway against the Alpaca trading
// API. All broker quirks stay behind this boundary: decimal conversions,
// "position does not exist" surfacing as domain.ErrNotFound rather than an
// HTTP status, and bounded retry with exponential backoff.
package alpaca

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/steward/internal/config"
	"github.com/alanyoungcy/steward/internal/domain"
)

// Gateway implements domain.BrokerGateway using the Alpaca SDK.
type Gateway struct {
	client    *alpaca.Client
	retryMax  int
	retryBase time.Duration
}

// New creates a Gateway configured from cfg.
func New(cfg config.AlpacaConfig) *Gateway {
	base := time.Duration(cfg.RetryBaseMs) * time.Millisecond
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	retryMax := cfg.RetryMax
	if retryMax < 1 {
		retryMax = 1
	}

	return &Gateway{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			BaseURL:   cfg.BaseURL,
		}),
		retryMax:  retryMax,
		retryBase: base,
	}
}

// GetAccount returns a snapshot of the account's financial metrics.
func (g *Gateway) GetAccount(ctx context.Context) (domain.Account, error) {
	var acct *alpaca.Account
	err := retry(ctx, g.retryMax, g.retryBase, func() error {
		var err error
		acct, err = g.client.GetAccount()
		return err
	})
	if err != nil {
		return domain.Account{}, fmt.Errorf("alpaca: get account: %w", err)
	}

	return domain.Account{
		ID:                       acct.ID,
		Equity:                   acct.Equity.InexactFloat64(),
		LastEquity:               acct.LastEquity.InexactFloat64(),
		BuyingPower:              acct.BuyingPower.InexactFloat64(),
		NonMarginableBuyingPower: acct.NonMarginBuyingPower.InexactFloat64(),
		Cash:                     acct.Cash.InexactFloat64(),
	}, nil
}

// GetAccountID returns the broker's account identifier.
func (g *Gateway) GetAccountID(ctx context.Context) (string, error) {
	acct, err := g.GetAccount(ctx)
	if err != nil {
		return "", err
	}
	return acct.ID, nil
}

// GetAllPositions returns every position currently held at the broker.
func (g *Gateway) GetAllPositions(ctx context.Context) ([]domain.BrokerPosition, error) {
	var raw []alpaca.Position
	err := retry(ctx, g.retryMax, g.retryBase, func() error {
		var err error
		raw, err = g.client.GetPositions()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca: get positions: %w", err)
	}

	positions := make([]domain.BrokerPosition, 0, len(raw))
	for _, p := range raw {
		positions = append(positions, toBrokerPosition(p))
	}
	return positions, nil
}

// GetOpenPosition returns the broker position for symbol, or
// domain.ErrNotFound when the broker holds nothing for it.
func (g *Gateway) GetOpenPosition(ctx context.Context, symbol string) (domain.BrokerPosition, error) {
	var raw *alpaca.Position
	err := retry(ctx, g.retryMax, g.retryBase, func() error {
		var err error
		raw, err = g.client.GetPosition(symbol)
		return err
	})
	if err != nil {
		if isNotFound(err) {
			return domain.BrokerPosition{}, domain.ErrNotFound
		}
		return domain.BrokerPosition{}, fmt.Errorf("alpaca: get position %s: %w", symbol, err)
	}
	return toBrokerPosition(*raw), nil
}

// SubmitOrder sends an order to Alpaca. Submission is deliberately not
// retried: a timed-out submit may still have been accepted, and a blind
// retry risks a duplicate fill. Callers resolve ambiguity through the
// client order ID.
func (g *Gateway) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	qty := decimal.NewFromFloat(req.Qty)

	placeReq := alpaca.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Qty:           &qty,
		Side:          toAlpacaSide(req.Side),
		Type:          alpaca.Market,
		TimeInForce:   alpaca.GTC,
		ClientOrderID: req.ClientOrderID,
	}

	if req.Kind == domain.OrderKindBracket {
		tp := decimal.NewFromFloat(req.TakeProfit)
		sl := decimal.NewFromFloat(req.StopLoss)
		placeReq.OrderClass = alpaca.Bracket
		placeReq.TimeInForce = alpaca.Day
		placeReq.TakeProfit = &alpaca.TakeProfit{LimitPrice: &tp}
		placeReq.StopLoss = &alpaca.StopLoss{StopPrice: &sl}
	}

	order, err := g.client.PlaceOrder(placeReq)
	if err != nil {
		return domain.Order{}, fmt.Errorf("alpaca: submit %s %s order for %s: %w",
			req.Side, req.Kind, req.Symbol, err)
	}
	return toOrder(*order), nil
}

// GetOrder returns a single order by its ID.
func (g *Gateway) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	var raw *alpaca.Order
	err := retry(ctx, g.retryMax, g.retryBase, func() error {
		var err error
		raw, err = g.client.GetOrder(id)
		return err
	})
	if err != nil {
		if isNotFound(err) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("alpaca: get order %s: %w", id, err)
	}
	return toOrder(*raw), nil
}

// GetOrders returns order history matching the filter, newest first.
func (g *Gateway) GetOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	req := alpaca.GetOrdersRequest{
		Status:    filter.Status,
		Symbols:   filter.Symbols,
		Limit:     filter.Limit,
		Direction: "desc",
		Nested:    true,
	}
	if !filter.After.IsZero() {
		req.After = filter.After
	}

	var raw []alpaca.Order
	err := retry(ctx, g.retryMax, g.retryBase, func() error {
		var err error
		raw, err = g.client.GetOrders(req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca: get orders: %w", err)
	}

	orders := make([]domain.Order, 0, len(raw))
	for _, o := range raw {
		orders = append(orders, toOrder(o))
	}
	return orders, nil
}

// ReplaceStopOrder replaces a resting stop order's stop price.
func (g *Gateway) ReplaceStopOrder(ctx context.Context, id string, stopPrice float64) (domain.Order, error) {
	sp := decimal.NewFromFloat(stopPrice)
	order, err := g.client.ReplaceOrder(id, alpaca.ReplaceOrderRequest{
		StopPrice: &sp,
	})
	if err != nil {
		if isNotFound(err) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("alpaca: replace stop order %s: %w", id, err)
	}
	return toOrder(*order), nil
}

// CancelOrder requests cancellation of an open order.
func (g *Gateway) CancelOrder(ctx context.Context, id string) error {
	err := retry(ctx, g.retryMax, g.retryBase, func() error {
		return g.client.CancelOrder(id)
	})
	if err != nil {
		if isNotFound(err) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("alpaca: cancel order %s: %w", id, err)
	}
	return nil
}

// GetActivities returns non-order account activities such as fees.
func (g *Gateway) GetActivities(ctx context.Context, filter domain.ActivityFilter) ([]domain.Activity, error) {
	req := alpaca.GetAccountActivitiesRequest{
		ActivityTypes: filter.Types,
	}
	if !filter.After.IsZero() {
		req.After = filter.After
	}

	var raw []alpaca.AccountActivity
	err := retry(ctx, g.retryMax, g.retryBase, func() error {
		var err error
		raw, err = g.client.GetAccountActivities(req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca: get account activities: %w", err)
	}

	activities := make([]domain.Activity, 0, len(raw))
	for _, a := range raw {
		activities = append(activities, domain.Activity{
			ID:        a.ID,
			Type:      string(a.ActivityType),
			OrderID:   a.OrderID,
			Symbol:    a.Symbol,
			Qty:       a.Qty.InexactFloat64(),
			Price:     a.Price.InexactFloat64(),
			NetAmount: a.NetAmount.InexactFloat64(),
			At:        a.TransactionTime,
		})
	}
	return activities, nil
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

func toAlpacaSide(side domain.OrderSide) alpaca.Side {
	if side == domain.OrderSideSell {
		return alpaca.Sell
	}
	return alpaca.Buy
}

func toBrokerPosition(p alpaca.Position) domain.BrokerPosition {
	side := domain.OrderSideBuy
	if p.Side == "short" {
		side = domain.OrderSideSell
	}

	bp := domain.BrokerPosition{
		Symbol:   p.Symbol,
		Qty:      p.Qty.InexactFloat64(),
		Side:     side,
		AvgEntry: p.AvgEntryPrice.InexactFloat64(),
	}
	if p.MarketValue != nil {
		bp.MarketValue = p.MarketValue.InexactFloat64()
	}
	return bp
}

func toOrder(o alpaca.Order) domain.Order {
	out := domain.Order{
		ID:            o.ID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          domain.OrderSide(o.Side),
		Type:          string(o.Type),
		FilledQty:     o.FilledQty.InexactFloat64(),
		Status:        domain.OrderStatus(o.Status),
		CreatedAt:     o.CreatedAt,
		FilledAt:      o.FilledAt,
	}
	if o.Qty != nil {
		out.Qty = o.Qty.InexactFloat64()
	}
	if o.FilledAvgPrice != nil {
		p := o.FilledAvgPrice.InexactFloat64()
		out.FilledAvgPrice = &p
	}
	for _, leg := range o.Legs {
		out.Legs = append(out.Legs, toOrder(leg))
	}
	return out
}

// isNotFound reports whether the error is the broker's way of saying the
// entity does not exist (HTTP 404, e.g. "position does not exist").
func isNotFound(err error) bool {
	var apiErr *alpaca.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}

// Compile-time interface check.
var _ domain.BrokerGateway = (*Gateway)(nil)
