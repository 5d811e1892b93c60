package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// PriceLevel is one [price, amount] pair from an order book.
type PriceLevel [2]float64

// Price returns the level's price.
func (l PriceLevel) Price() float64 { return l[0] }

// Amount returns the level's resting amount.
func (l PriceLevel) Amount() float64 { return l[1] }

// OrderBook is a point-in-time order book snapshot.
type OrderBook struct {
	InstrumentName string       `json:"instrument_name"`
	Timestamp      int64        `json:"timestamp"`
	Bids           []PriceLevel `json:"bids"`
	Asks           []PriceLevel `json:"asks"`
	BestBidPrice   float64      `json:"best_bid_price"`
	BestAskPrice   float64      `json:"best_ask_price"`
	MarkPrice      float64      `json:"mark_price"`
	State          string       `json:"state"`
}

// TickerStats carries 24h rolling statistics.
type TickerStats struct {
	Volume float64 `json:"volume"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
}

// Ticker is the latest trade and quote summary for an instrument.
type Ticker struct {
	InstrumentName string      `json:"instrument_name"`
	Timestamp      int64       `json:"timestamp"`
	LastPrice      float64     `json:"last_price"`
	MarkPrice      float64     `json:"mark_price"`
	IndexPrice     float64     `json:"index_price"`
	BestBidPrice   float64     `json:"best_bid_price"`
	BestAskPrice   float64     `json:"best_ask_price"`
	Stats          TickerStats `json:"stats"`
}

// Instrument describes one tradeable contract.
type Instrument struct {
	InstrumentName      string  `json:"instrument_name"`
	Kind                string  `json:"kind"`
	BaseCurrency        string  `json:"base_currency"`
	QuoteCurrency       string  `json:"quote_currency"`
	IsActive            bool    `json:"is_active"`
	TickSize            float64 `json:"tick_size"`
	MinTradeAmount      float64 `json:"min_trade_amount"`
	ContractSize        float64 `json:"contract_size"`
	ExpirationTimestamp int64   `json:"expiration_timestamp"`
}

// GetOrderBook fetches an order book snapshot. depth limits the number of
// levels per side; zero asks for the venue default.
func (c *Client) GetOrderBook(ctx context.Context, instrument string, depth int) (*OrderBook, error) {
	query := url.Values{}
	query.Set("instrument_name", instrument)
	if depth > 0 {
		query.Set("depth", strconv.Itoa(depth))
	}

	var book OrderBook
	if err := c.Get(ctx, "/public/get_order_book", query, &book); err != nil {
		return nil, fmt.Errorf("get order book %s: %w", instrument, err)
	}

	return &book, nil
}

// GetTicker fetches the ticker for one instrument.
func (c *Client) GetTicker(ctx context.Context, instrument string) (*Ticker, error) {
	query := url.Values{}
	query.Set("instrument_name", instrument)

	var ticker Ticker
	if err := c.Get(ctx, "/public/ticker", query, &ticker); err != nil {
		return nil, fmt.Errorf("get ticker %s: %w", instrument, err)
	}

	return &ticker, nil
}

// GetInstruments lists the active instruments for a currency. kind filters
// to "future" or "option"; empty returns both.
func (c *Client) GetInstruments(ctx context.Context, currency, kind string) ([]Instrument, error) {
	query := url.Values{}
	query.Set("currency", currency)
	query.Set("expired", "false")
	if kind != "" {
		query.Set("kind", kind)
	}

	var instruments []Instrument
	if err := c.Get(ctx, "/public/get_instruments", query, &instruments); err != nil {
		return nil, fmt.Errorf("get instruments %s: %w", currency, err)
	}

	return instruments, nil
}
