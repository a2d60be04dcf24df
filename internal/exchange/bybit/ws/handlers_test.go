package ws

import (
	"encoding/json"
	"testing"
	"time"
	"trendbot/internal/exchange"
	"trendbot/internal/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	log := logger.New(logger.Config{Level: "error"})
	return New("wss://example", ChannelPublic, "", "", log, func(string) {})
}

func takeEvent(t *testing.T, w *Client) exchange.Event {
	t.Helper()
	select {
	case ev := <-w.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("событие не пришло")
		return exchange.Event{}
	}
}

func TestHandleKline(t *testing.T) {
	w := testClient(t)

	data := `[{"start":1722470400000,"open":"100.5","high":"101","low":"99.9","close":"100.7","volume":"12.3","turnover":"1234.5","confirm":true}]`
	w.handleKline(rawMessage{
		Topic: "kline.5.BTCUSDT",
		Data:  json.RawMessage(data),
	})

	ev := takeEvent(t, w)
	require.Equal(t, exchange.EventTypeKline, ev.Type)
	require.NotNil(t, ev.Kline)
	assert.Equal(t, "BTCUSDT", ev.Kline.Symbol)
	assert.Equal(t, "5", ev.Kline.Interval)
	assert.True(t, ev.Kline.Candle.Confirmed)
	assert.True(t, decimal.RequireFromString("100.7").Equal(ev.Kline.Candle.Close))
	assert.Equal(t, time.UnixMilli(1722470400000).UTC(), ev.Kline.Candle.Timestamp)
}

func TestHandleKlineBadTopicDropped(t *testing.T) {
	w := testClient(t)
	w.handleKline(rawMessage{Topic: "kline.5", Data: json.RawMessage(`[]`)})

	select {
	case ev := <-w.Events():
		t.Fatalf("неожиданное событие: %v", ev.Type)
	default:
	}
}

func TestHandleTickerMergesDeltas(t *testing.T) {
	w := testClient(t)

	snapshot := `{"symbol":"BTCUSDT","lastPrice":"100","markPrice":"100.1","bid1Price":"99.9","ask1Price":"100.2"}`
	w.handleTicker(rawMessage{Topic: "tickers.BTCUSDT", TS: 1000, Data: json.RawMessage(snapshot)})
	takeEvent(t, w)

	// Дельта несёт только lastPrice, остальное берётся из прошлого состояния.
	delta := `{"symbol":"BTCUSDT","lastPrice":"105"}`
	w.handleTicker(rawMessage{Topic: "tickers.BTCUSDT", TS: 2000, Data: json.RawMessage(delta)})

	ev := takeEvent(t, w)
	require.NotNil(t, ev.Ticker)
	assert.True(t, decimal.RequireFromString("105").Equal(ev.Ticker.LastPrice))
	assert.True(t, decimal.RequireFromString("100.1").Equal(ev.Ticker.MarkPrice))
	assert.True(t, decimal.RequireFromString("99.9").Equal(ev.Ticker.Bid))
	assert.Equal(t, int64(2000), ev.Ticker.Sequence)
}

func TestHandlePositionPassesCloseThrough(t *testing.T) {
	w := testClient(t)

	data := `[
		{"symbol":"BTCUSDT","side":"Buy","size":"0.5","entryPrice":"100","stopLoss":"96","positionIdx":0},
		{"symbol":"BTCUSDT","side":"","size":"0","entryPrice":"0","positionIdx":0}
	]`
	w.handlePosition(rawMessage{Topic: "position", TS: 1000, Data: json.RawMessage(data)})

	ev := takeEvent(t, w)
	require.Equal(t, exchange.EventTypePosition, ev.Type)
	// Запись с нулевым объёмом не фильтруется: это сигнал закрытия.
	require.Len(t, ev.Positions, 2)
	assert.True(t, decimal.RequireFromString("0.5").Equal(ev.Positions[0].Size))
	assert.True(t, decimal.RequireFromString("96").Equal(ev.Positions[0].StopLoss))
	assert.True(t, ev.Positions[1].Size.IsZero())
}

func TestHandleOrderComputesFilledQty(t *testing.T) {
	w := testClient(t)

	data := `[{"orderId":"abc","orderLinkId":"tb-1","symbol":"BTCUSDT","side":"Buy","orderType":"Market","qty":"1","leavesQty":"0.25","orderStatus":"PartiallyFilled"}]`
	w.handleOrder(rawMessage{Topic: "order", TS: 1000, Data: json.RawMessage(data)})

	ev := takeEvent(t, w)
	require.NotNil(t, ev.Order)
	assert.True(t, decimal.RequireFromString("0.75").Equal(ev.Order.FilledQty))
	assert.False(t, ev.Order.Status.IsTerminal())
}

func TestStateTransitionsOnSubscribe(t *testing.T) {
	w := testClient(t)

	w.mu.Lock()
	w.state = StateSubscribing
	w.reconnectAttempt = 2
	w.mu.Unlock()

	w.onSubscribed()

	assert.Equal(t, StateConnected, w.State())

	// Успешная переподписка после реконнекта даёт событие Reconnect.
	ev := takeEvent(t, w)
	assert.Equal(t, exchange.EventTypeReconnect, ev.Type)

	w.mu.Lock()
	attempt := w.reconnectAttempt
	w.mu.Unlock()
	assert.Equal(t, 0, attempt)
}

func TestReconnectDelaysGrowToCap(t *testing.T) {
	w := testClient(t)

	prev := time.Duration(0)
	for i := 0; i < 12; i++ {
		delay := w.backoff.Duration()
		assert.GreaterOrEqual(t, delay, prev, "задержка уменьшилась на попытке %d", i)
		assert.LessOrEqual(t, delay, defaultReconnectCap)
		prev = delay
	}
	assert.Equal(t, defaultReconnectCap, prev)
}

func TestConnStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connected", StateConnected.String())
}
