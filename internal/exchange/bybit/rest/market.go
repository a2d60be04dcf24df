package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
	"trendbot/internal/exchange"
	"trendbot/internal/models"
)

type instrumentInfo struct {
	List []struct {
		Symbol      string `json:"symbol"`
		BaseCoin    string `json:"baseCoin"`
		QuoteCoin   string `json:"quoteCoin"`
		PriceFilter struct {
			TickSize string `json:"tickSize"`
		} `json:"priceFilter"`
		LotSizeFilter struct {
			QtyStep          string `json:"qtyStep"`
			MinOrderQty      string `json:"minOrderQty"`
			MaxOrderQty      string `json:"maxOrderQty"`
			MinNotionalValue string `json:"minNotionalValue"`
		} `json:"lotSizeFilter"`
	} `json:"list"`
}

func (c *Client) GetInstrumentRules(ctx context.Context, symbol string) (exchange.InstrumentRules, error) {
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", symbol)

	var resp bybitResponse[instrumentInfo]
	if err := c.doRequest(ctx, http.MethodGet, "/v5/market/instruments-info", params, nil, false, &resp); err != nil {
		return exchange.InstrumentRules{}, err
	}

	if len(resp.Result.List) == 0 {
		return exchange.InstrumentRules{}, fmt.Errorf("Инструмент не найден: %s", symbol)
	}

	info := resp.Result.List[0]

	tick, err := parseDecimal(info.PriceFilter.TickSize, "tickSize")
	if err != nil {
		return exchange.InstrumentRules{}, err
	}
	step, err := parseDecimal(info.LotSizeFilter.QtyStep, "qtyStep")
	if err != nil {
		return exchange.InstrumentRules{}, err
	}
	minQty, err := parseDecimal(info.LotSizeFilter.MinOrderQty, "minOrderQty")
	if err != nil {
		return exchange.InstrumentRules{}, err
	}

	if tick.Sign() <= 0 || step.Sign() <= 0 {
		return exchange.InstrumentRules{}, fmt.Errorf("Нулевые шаги цены/объёма для инструмента: %s", symbol)
	}

	return exchange.InstrumentRules{
		Symbol:      info.Symbol,
		PriceStep:   tick,
		QtyStep:     step,
		MinQty:      minQty,
		MaxQty:      parseDecimalOrZero(info.LotSizeFilter.MaxOrderQty),
		MinNotional: parseDecimalOrZero(info.LotSizeFilter.MinNotionalValue),
		BaseCoin:    info.BaseCoin,
		QuoteCoin:   info.QuoteCoin,
	}, nil
}

func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	var resp bybitResponse[struct {
		List [][]string `json:"list"`
	}]

	if err := c.doRequest(ctx, http.MethodGet, "/v5/market/kline", params, nil, false, &resp); err != nil {
		return nil, err
	}

	// Биржа отдаёт свечи от новых к старым, разворачиваем.
	candles := make([]models.Candle, 0, len(resp.Result.List))
	for i := len(resp.Result.List) - 1; i >= 0; i-- {
		row := resp.Result.List[i]
		if len(row) < 7 {
			continue
		}
		ms, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		candles = append(candles, models.Candle{
			Timestamp: time.UnixMilli(ms).UTC(),
			Open:      parseDecimalOrZero(row[1]),
			High:      parseDecimalOrZero(row[2]),
			Low:       parseDecimalOrZero(row[3]),
			Close:     parseDecimalOrZero(row[4]),
			Volume:    parseDecimalOrZero(row[5]),
			Turnover:  parseDecimalOrZero(row[6]),
			Confirmed: true,
		})
	}
	// Последний бар из snapshot ещё не закрыт.
	if len(candles) > 0 {
		candles[len(candles)-1].Confirmed = false
	}
	return candles, nil
}

func (c *Client) GetTicker(ctx context.Context, symbol string) (models.Ticker, error) {
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", symbol)

	var resp bybitResponse[struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
			MarkPrice string `json:"markPrice"`
			Bid1Price string `json:"bid1Price"`
			Ask1Price string `json:"ask1Price"`
		} `json:"list"`
	}]

	if err := c.doRequest(ctx, http.MethodGet, "/v5/market/tickers", params, nil, false, &resp); err != nil {
		return models.Ticker{}, err
	}
	if len(resp.Result.List) == 0 {
		return models.Ticker{}, fmt.Errorf("Тикер не найден: %s", symbol)
	}

	item := resp.Result.List[0]
	return models.Ticker{
		Symbol:    item.Symbol,
		LastPrice: parseDecimalOrZero(item.LastPrice),
		MarkPrice: parseDecimalOrZero(item.MarkPrice),
		Bid:       parseDecimalOrZero(item.Bid1Price),
		Ask:       parseDecimalOrZero(item.Ask1Price),
		Timestamp: time.UnixMilli(resp.Time).UTC(),
	}, nil
}

func (c *Client) GetOrderBook(ctx context.Context, symbol string, limit int) (models.OrderBook, error) {
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(limit))

	var resp bybitResponse[struct {
		Symbol string     `json:"s"`
		Bids   [][]string `json:"b"`
		Asks   [][]string `json:"a"`
		TS     int64      `json:"ts"`
	}]

	if err := c.doRequest(ctx, http.MethodGet, "/v5/market/orderbook", params, nil, false, &resp); err != nil {
		return models.OrderBook{}, err
	}

	book := models.OrderBook{
		Symbol:    resp.Result.Symbol,
		Timestamp: time.UnixMilli(resp.Result.TS).UTC(),
	}
	for _, level := range resp.Result.Bids {
		if len(level) < 2 {
			continue
		}
		book.Bids = append(book.Bids, models.OrderBookLevel{
			Price: parseDecimalOrZero(level[0]),
			Qty:   parseDecimalOrZero(level[1]),
		})
	}
	for _, level := range resp.Result.Asks {
		if len(level) < 2 {
			continue
		}
		book.Asks = append(book.Asks, models.OrderBookLevel{
			Price: parseDecimalOrZero(level[0]),
			Qty:   parseDecimalOrZero(level[1]),
		})
	}
	return book, nil
}
