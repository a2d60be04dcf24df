package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderSide string
type OrderType string
type OrderStatus string

const (
	OrderSideBuy  OrderSide = "Buy"
	OrderSideSell OrderSide = "Sell"

	OrderTypeMarket OrderType = "Market"
	OrderTypeLimit  OrderType = "Limit"

	OrderStatusNew             OrderStatus = "New"
	OrderStatusPartiallyFilled OrderStatus = "PartiallyFilled"
	OrderStatusFilled          OrderStatus = "Filled"
	OrderStatusCanceled        OrderStatus = "Cancelled"
	OrderStatusRejected        OrderStatus = "Rejected"
)

func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// IsTerminal сообщает, что ордер больше не живёт на бирже.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected:
		return true
	}
	return false
}

type Order struct {
	ID          string          `json:"id"`
	LinkID      string          `json:"link_id"`
	Symbol      string          `json:"symbol"`
	Side        OrderSide       `json:"side"`
	Type        OrderType       `json:"type"`
	Price       decimal.Decimal `json:"price"`
	Qty         decimal.Decimal `json:"qty"`
	FilledQty   decimal.Decimal `json:"filled_qty"`
	AvgPrice    decimal.Decimal `json:"avg_price"`
	Status      OrderStatus     `json:"status"`
	StopLoss    decimal.Decimal `json:"stop_loss"`
	TakeProfit  decimal.Decimal `json:"take_profit"`
	ReduceOnly  bool            `json:"reduce_only"`
	TimeInForce string          `json:"time_in_force"`
	PositionIdx int             `json:"position_idx"`
	Sequence    int64           `json:"sequence"`
	CreateTime  time.Time       `json:"create_time"`
	UpdateTime  time.Time       `json:"update_time"`
	RejectCode  string          `json:"reject_code,omitempty"`
}

type Fill struct {
	OrderID   string          `json:"order_id"`
	LinkID    string          `json:"link_id"`
	ExecID    string          `json:"exec_id"`
	Symbol    string          `json:"symbol"`
	Side      OrderSide       `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Qty       decimal.Decimal `json:"qty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

type Ticker struct {
	Symbol    string          `json:"symbol"`
	LastPrice decimal.Decimal `json:"last_price"`
	MarkPrice decimal.Decimal `json:"mark_price"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// Candle — одна свеча OHLCV. Timestamp — время открытия бара, UTC.
// После подтверждения бара значения не меняются.
type Candle struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	Turnover  decimal.Decimal `json:"turnover"`
	Confirmed bool            `json:"confirmed"`
}

// Position — чистая экспозиция по инструменту (и стороне в hedge-режиме).
// BreakevenActivated, TrailingActivated и InitialStopLoss биржа не отдаёт,
// они живут только локально и переживают сверку.
type Position struct {
	Symbol             string          `json:"symbol"`
	Side               OrderSide       `json:"side"`
	PositionIdx        int             `json:"position_idx"`
	Size               decimal.Decimal `json:"size"`
	EntryPrice         decimal.Decimal `json:"entry_price"`
	MarkPrice          decimal.Decimal `json:"mark_price"`
	StopLoss           decimal.Decimal `json:"stop_loss"`
	TakeProfit         decimal.Decimal `json:"take_profit"`
	TrailingStopPrice  decimal.Decimal `json:"trailing_stop_price"`
	InitialStopLoss    decimal.Decimal `json:"initial_stop_loss"`
	BreakevenActivated bool            `json:"breakeven_activated"`
	TrailingActivated  bool            `json:"trailing_activated"`
	EntryTime          time.Time       `json:"entry_time"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

type Balance struct {
	Coin      string          `json:"coin"`
	Wallet    decimal.Decimal `json:"wallet"`
	Available decimal.Decimal `json:"available"`
}

type OrderBookLevel struct {
	Price decimal.Decimal `json:"price"`
	Qty   decimal.Decimal `json:"qty"`
}

type OrderBook struct {
	Symbol    string           `json:"symbol"`
	Bids      []OrderBookLevel `json:"bids"`
	Asks      []OrderBookLevel `json:"asks"`
	Timestamp time.Time        `json:"timestamp"`
}

type SignalAction string

const (
	SignalBuy  SignalAction = "BUY"
	SignalSell SignalAction = "SELL"
	SignalHold SignalAction = "HOLD"
)

// Signal — целевое действие от стратегии. ATR нужен менеджеру позиций
// для расчёта размера и стопов.
type Signal struct {
	Symbol    string          `json:"symbol"`
	Action    SignalAction    `json:"action"`
	Price     decimal.Decimal `json:"price"`
	ATR       decimal.Decimal `json:"atr"`
	Timestamp time.Time       `json:"timestamp"`
}
