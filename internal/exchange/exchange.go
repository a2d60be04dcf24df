package exchange

import (
	"context"
	"trendbot/internal/models"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventTypeOrder     EventType = "Order"
	EventTypeFill      EventType = "Fill"
	EventTypeTicker    EventType = "Ticker"
	EventTypeKline     EventType = "Kline"
	EventTypePosition  EventType = "Position"
	EventTypeWallet    EventType = "Wallet"
	EventTypeReconnect EventType = "Reconnect"
)

// Event — типизированный вариант сообщения из стрима. Сырые payload'ы
// наружу не выходят: неизвестные формы отбрасываются на границе.
type Event struct {
	Type      EventType
	Order     *models.Order
	Fill      *models.Fill
	Ticker    *models.Ticker
	Kline     *KlineEvent
	Positions []models.Position
	Balances  []models.Balance
}

type KlineEvent struct {
	Symbol   string
	Interval string
	Candle   models.Candle
}

type InstrumentRules struct {
	Symbol      string
	PriceStep   decimal.Decimal
	QtyStep     decimal.Decimal
	MinQty      decimal.Decimal
	MaxQty      decimal.Decimal
	MinNotional decimal.Decimal
	BaseCoin    string
	QuoteCoin   string
}

type TradingStop struct {
	Symbol      string
	PositionIdx int
	StopLoss    decimal.Decimal
	TakeProfit  decimal.Decimal
}

type Client interface {
	GetInstrumentRules(ctx context.Context, symbol string) (InstrumentRules, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)
	GetTicker(ctx context.Context, symbol string) (models.Ticker, error)
	GetOrderBook(ctx context.Context, symbol string, limit int) (models.OrderBook, error)
	GetBalances(ctx context.Context, coins []string) (map[string]models.Balance, error)
	GetPositions(ctx context.Context, symbol string) ([]models.Position, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error)
	PlaceOrder(ctx context.Context, order models.Order) (models.Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	CancelAllOrders(ctx context.Context, symbol string) error
	SetTradingStop(ctx context.Context, stop TradingStop) error
}
