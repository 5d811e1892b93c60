package orders

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/Priyanshu-Gupta2101/deribit-trial/internal/api"
)

// Recorder measures the latency of named operations. Optional.
type Recorder interface {
	Start(opID string)
	End(opID string)
}

// Params describes one order to place or modify.
type Params struct {
	Instrument string
	Amount     float64
	Price      float64
	Type       string // "limit" or "market"; empty defaults to limit
}

// Order is the venue's view of a placed order.
type Order struct {
	OrderID        string  `json:"order_id"`
	InstrumentName string  `json:"instrument_name"`
	Direction      string  `json:"direction"`
	Amount         float64 `json:"amount"`
	Price          float64 `json:"price"`
	OrderState     string  `json:"order_state"`
	FilledAmount   float64 `json:"filled_amount"`
}

// Position is one open position.
type Position struct {
	InstrumentName string  `json:"instrument_name"`
	Direction      string  `json:"direction"`
	Size           float64 `json:"size"`
	AveragePrice   float64 `json:"average_price"`
	MarkPrice      float64 `json:"mark_price"`
	FloatingPL     float64 `json:"floating_profit_loss"`
}

// orderResult wraps the order placement response.
type orderResult struct {
	Order Order `json:"order"`
}

// Manager places, amends, and cancels orders through the REST client.
// The client must carry a token source; unauthenticated calls fail at
// the venue.
type Manager struct {
	client   *api.Client
	recorder Recorder
	logger   *slog.Logger
}

// New creates an order manager. recorder may be nil.
func New(client *api.Client, recorder Recorder, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		client:   client,
		recorder: recorder,
		logger:   logger,
	}
}

// PlaceBuy places a buy order and returns the venue order.
func (m *Manager) PlaceBuy(ctx context.Context, p Params) (*Order, error) {
	if m.recorder != nil {
		m.recorder.Start("buy_order_placement")
		defer m.recorder.End("buy_order_placement")
	}
	return m.place(ctx, "/private/buy", p)
}

// PlaceSell places a sell order and returns the venue order.
func (m *Manager) PlaceSell(ctx context.Context, p Params) (*Order, error) {
	if m.recorder != nil {
		m.recorder.Start("sell_order_placement")
		defer m.recorder.End("sell_order_placement")
	}
	return m.place(ctx, "/private/sell", p)
}

func (m *Manager) place(ctx context.Context, path string, p Params) (*Order, error) {
	query := url.Values{}
	query.Set("instrument_name", p.Instrument)
	query.Set("amount", formatFloat(p.Amount))
	orderType := p.Type
	if orderType == "" {
		orderType = "limit"
	}
	query.Set("type", orderType)
	if orderType == "limit" {
		query.Set("price", formatFloat(p.Price))
	}

	var result orderResult
	if err := m.client.Get(ctx, path, query, &result); err != nil {
		return nil, fmt.Errorf("place order %s: %w", p.Instrument, err)
	}

	m.logger.Info("order placed",
		"order_id", result.Order.OrderID,
		"instrument", result.Order.InstrumentName,
		"direction", result.Order.Direction,
		"price", result.Order.Price,
		"amount", result.Order.Amount,
	)

	return &result.Order, nil
}

// Cancel cancels an open order by id.
func (m *Manager) Cancel(ctx context.Context, orderID string) (*Order, error) {
	query := url.Values{}
	query.Set("order_id", orderID)

	var order Order
	if err := m.client.Get(ctx, "/private/cancel", query, &order); err != nil {
		return nil, fmt.Errorf("cancel order %s: %w", orderID, err)
	}

	m.logger.Info("order cancelled", "order_id", orderID, "state", order.OrderState)

	return &order, nil
}

// Modify amends the price and amount of an open order.
func (m *Manager) Modify(ctx context.Context, orderID string, amount, price float64) (*Order, error) {
	query := url.Values{}
	query.Set("order_id", orderID)
	query.Set("amount", formatFloat(amount))
	query.Set("price", formatFloat(price))

	var result orderResult
	if err := m.client.Get(ctx, "/private/edit", query, &result); err != nil {
		return nil, fmt.Errorf("modify order %s: %w", orderID, err)
	}

	m.logger.Info("order modified",
		"order_id", orderID,
		"price", result.Order.Price,
		"amount", result.Order.Amount,
	)

	return &result.Order, nil
}

// Positions returns the open positions for a currency.
func (m *Manager) Positions(ctx context.Context, currency string) ([]Position, error) {
	query := url.Values{}
	query.Set("currency", currency)

	var positions []Position
	if err := m.client.Get(ctx, "/private/get_positions", query, &positions); err != nil {
		return nil, fmt.Errorf("get positions %s: %w", currency, err)
	}

	return positions, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
