package ws

import (
	"encoding/json"
	"strings"
	"time"
	"trendbot/internal/exchange"
	"trendbot/internal/models"

	"github.com/shopspring/decimal"
)

func dec(value string) decimal.Decimal {
	if value == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (w *Client) handleKline(msg rawMessage) {
	// topic: kline.<interval>.<symbol>
	parts := strings.SplitN(msg.Topic, ".", 3)
	if len(parts) != 3 {
		w.logEntry().WithField("topic", msg.Topic).Warn("Некорректный топик kline.")
		return
	}
	interval, symbol := parts[1], parts[2]

	var data []struct {
		Start    int64  `json:"start"`
		Open     string `json:"open"`
		High     string `json:"high"`
		Low      string `json:"low"`
		Close    string `json:"close"`
		Volume   string `json:"volume"`
		Turnover string `json:"turnover"`
		Confirm  bool   `json:"confirm"`
	}

	if err := json.Unmarshal(msg.Data, &data); err != nil {
		w.logEntry().WithError(err).Warn("Не удалось разобрать kline.")
		return
	}

	for _, item := range data {
		w.emit(exchange.Event{
			Type: exchange.EventTypeKline,
			Kline: &exchange.KlineEvent{
				Symbol:   symbol,
				Interval: interval,
				Candle: models.Candle{
					Timestamp: time.UnixMilli(item.Start).UTC(),
					Open:      dec(item.Open),
					High:      dec(item.High),
					Low:       dec(item.Low),
					Close:     dec(item.Close),
					Volume:    dec(item.Volume),
					Turnover:  dec(item.Turnover),
					Confirmed: item.Confirm,
				},
			},
		})
	}
}

// handleTicker собирает снапшоты и дельты: пустые поля дельты
// дополняются последним известным значением.
func (w *Client) handleTicker(msg rawMessage) {
	var data struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
		MarkPrice string `json:"markPrice"`
		Bid1Price string `json:"bid1Price"`
		Ask1Price string `json:"ask1Price"`
	}
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		w.logEntry().WithError(err).Warn("Не удалось разобрать ticker.")
		return
	}

	w.mu.Lock()
	merged := w.lastTicker
	if data.Symbol != "" {
		merged.Symbol = data.Symbol
	}
	if data.LastPrice != "" {
		merged.LastPrice = dec(data.LastPrice)
	}
	if data.MarkPrice != "" {
		merged.MarkPrice = dec(data.MarkPrice)
	}
	if data.Bid1Price != "" {
		merged.Bid = dec(data.Bid1Price)
	}
	if data.Ask1Price != "" {
		merged.Ask = dec(data.Ask1Price)
	}
	merged.Timestamp = time.UnixMilli(msg.TS).UTC()
	merged.Sequence = msg.TS
	w.lastTicker = merged
	w.mu.Unlock()

	ticker := merged
	w.emit(exchange.Event{Type: exchange.EventTypeTicker, Ticker: &ticker})
}

func (w *Client) handleOrder(msg rawMessage) {
	var data []struct {
		OrderID      string `json:"orderId"`
		OrderLink    string `json:"orderLinkId"`
		Symbol       string `json:"symbol"`
		Side         string `json:"side"`
		OrderType    string `json:"orderType"`
		Price        string `json:"price"`
		Qty          string `json:"qty"`
		LeavesQty    string `json:"leavesQty"`
		AvgPrice     string `json:"avgPrice"`
		OrderStatus  string `json:"orderStatus"`
		RejectReason string `json:"rejectReason"`
		ReduceOnly   bool   `json:"reduceOnly"`
		CreatedTime  string `json:"createdTime"`
		UpdatedTime  string `json:"updatedTime"`
	}

	if err := json.Unmarshal(msg.Data, &data); err != nil {
		w.logEntry().WithError(err).Warn("Не удалось разобрать order.")
		return
	}

	for _, item := range data {
		qty := dec(item.Qty)
		w.emit(exchange.Event{
			Type: exchange.EventTypeOrder,
			Order: &models.Order{
				ID:         item.OrderID,
				LinkID:     item.OrderLink,
				Symbol:     item.Symbol,
				Side:       models.OrderSide(item.Side),
				Type:       models.OrderType(item.OrderType),
				Price:      dec(item.Price),
				Qty:        qty,
				FilledQty:  qty.Sub(dec(item.LeavesQty)),
				AvgPrice:   dec(item.AvgPrice),
				Status:     models.OrderStatus(item.OrderStatus),
				ReduceOnly: item.ReduceOnly,
				Sequence:   msg.TS,
				RejectCode: item.RejectReason,
			},
		})
	}
}

func (w *Client) handleExecution(msg rawMessage) {
	var data []struct {
		OrderID   string `json:"orderId"`
		OrderLink string `json:"orderLinkId"`
		ExecID    string `json:"execId"`
		Symbol    string `json:"symbol"`
		Side      string `json:"side"`
		ExecPrice string `json:"execPrice"`
		ExecQty   string `json:"execQty"`
		ExecTime  string `json:"execTime"`
		Seq       int64  `json:"seq"`
	}

	if err := json.Unmarshal(msg.Data, &data); err != nil {
		w.logEntry().WithError(err).Warn("Не удалось разобрать execution.")
		return
	}

	for _, item := range data {
		ts := time.Time{}
		if item.ExecTime != "" {
			if ms := dec(item.ExecTime); ms.Sign() > 0 {
				ts = time.UnixMilli(ms.IntPart()).UTC()
			}
		}
		w.emit(exchange.Event{
			Type: exchange.EventTypeFill,
			Fill: &models.Fill{
				OrderID:   item.OrderID,
				LinkID:    item.OrderLink,
				ExecID:    item.ExecID,
				Symbol:    item.Symbol,
				Side:      models.OrderSide(item.Side),
				Price:     dec(item.ExecPrice),
				Qty:       dec(item.ExecQty),
				Timestamp: ts,
				Sequence:  item.Seq,
			},
		})
	}
}

// handlePosition отдаёт изменившиеся позиции как есть, включая записи
// с нулевым объёмом: для движка нулевой объём — сигнал закрытия, стрим
// полного снапшота не присылает.
func (w *Client) handlePosition(msg rawMessage) {
	var data []struct {
		Symbol       string `json:"symbol"`
		Side         string `json:"side"`
		Size         string `json:"size"`
		EntryPrice   string `json:"entryPrice"`
		MarkPrice    string `json:"markPrice"`
		StopLoss     string `json:"stopLoss"`
		TakeProfit   string `json:"takeProfit"`
		TrailingStop string `json:"trailingStop"`
		PositionIdx  int    `json:"positionIdx"`
		UpdatedTime  string `json:"updatedTime"`
	}

	if err := json.Unmarshal(msg.Data, &data); err != nil {
		w.logEntry().WithError(err).Warn("Не удалось разобрать position.")
		return
	}

	positions := make([]models.Position, 0, len(data))
	for _, item := range data {
		size := dec(item.Size)
		positions = append(positions, models.Position{
			Symbol:            item.Symbol,
			Side:              models.OrderSide(item.Side),
			PositionIdx:       item.PositionIdx,
			Size:              size,
			EntryPrice:        dec(item.EntryPrice),
			MarkPrice:         dec(item.MarkPrice),
			StopLoss:          dec(item.StopLoss),
			TakeProfit:        dec(item.TakeProfit),
			TrailingStopPrice: dec(item.TrailingStop),
			UpdatedAt:         time.UnixMilli(msg.TS).UTC(),
		})
	}

	w.emit(exchange.Event{Type: exchange.EventTypePosition, Positions: positions})
}

func (w *Client) handleWallet(msg rawMessage) {
	var data []struct {
		Coin []struct {
			Coin          string `json:"coin"`
			WalletBalance string `json:"walletBalance"`
			Available     string `json:"availableToWithdraw"`
		} `json:"coin"`
	}

	if err := json.Unmarshal(msg.Data, &data); err != nil {
		w.logEntry().WithError(err).Warn("Не удалось разобрать wallet.")
		return
	}

	var balances []models.Balance
	for _, account := range data {
		for _, item := range account.Coin {
			balances = append(balances, models.Balance{
				Coin:      item.Coin,
				Wallet:    dec(item.WalletBalance),
				Available: dec(item.Available),
			})
		}
	}
	w.emit(exchange.Event{Type: exchange.EventTypeWallet, Balances: balances})
}
