package rest

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"trendbot/internal/exchange"
	"trendbot/internal/models"
)

func (c *Client) GetBalances(ctx context.Context, coins []string) (map[string]models.Balance, error) {
	params := url.Values{}
	params.Set("accountType", c.accountType)

	if len(coins) > 0 {
		params.Set("coin", strings.Join(coins, ","))
	}

	var resp bybitResponse[struct {
		List []struct {
			Coin []struct {
				Coin             string `json:"coin"`
				WalletBalance    string `json:"walletBalance"`
				AvailableBalance string `json:"availableToWithdraw"`
				Equity           string `json:"equity"`
			} `json:"coin"`
		} `json:"list"`
	}]

	if err := c.doRequest(ctx, http.MethodGet, "/v5/account/wallet-balance", params, nil, true, &resp); err != nil {
		return nil, err
	}

	balances := map[string]models.Balance{}
	for _, account := range resp.Result.List {
		for _, item := range account.Coin {
			wallet := parseDecimalOrZero(item.WalletBalance)
			available := parseDecimalOrZero(item.AvailableBalance)
			if available.IsZero() {
				available = wallet
			}
			balances[item.Coin] = models.Balance{
				Coin:      item.Coin,
				Wallet:    wallet,
				Available: available,
			}
		}
	}
	return balances, nil
}

func (c *Client) GetPositions(ctx context.Context, symbol string) ([]models.Position, error) {
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", symbol)

	var resp bybitResponse[struct {
		List []struct {
			Symbol       string `json:"symbol"`
			Side         string `json:"side"`
			Size         string `json:"size"`
			AvgPrice     string `json:"avgPrice"`
			MarkPrice    string `json:"markPrice"`
			StopLoss     string `json:"stopLoss"`
			TakeProfit   string `json:"takeProfit"`
			TrailingStop string `json:"trailingStop"`
			PositionIdx  int    `json:"positionIdx"`
			UpdatedTime  string `json:"updatedTime"`
		} `json:"list"`
	}]

	if err := c.doRequest(ctx, http.MethodGet, "/v5/position/list", params, nil, true, &resp); err != nil {
		return nil, err
	}

	var positions []models.Position
	for _, item := range resp.Result.List {
		size := parseDecimalOrZero(item.Size)
		if size.IsZero() {
			// Пустые слоты hedge-режима биржа тоже присылает.
			continue
		}
		positions = append(positions, models.Position{
			Symbol:            item.Symbol,
			Side:              models.OrderSide(item.Side),
			PositionIdx:       item.PositionIdx,
			Size:              size,
			EntryPrice:        parseDecimalOrZero(item.AvgPrice),
			MarkPrice:         parseDecimalOrZero(item.MarkPrice),
			StopLoss:          parseDecimalOrZero(item.StopLoss),
			TakeProfit:        parseDecimalOrZero(item.TakeProfit),
			TrailingStopPrice: parseDecimalOrZero(item.TrailingStop),
			UpdatedAt:         parseMillis(item.UpdatedTime),
		})
	}
	return positions, nil
}

func (c *Client) SetTradingStop(ctx context.Context, stop exchange.TradingStop) error {
	body := map[string]any{
		"category":    c.category,
		"symbol":      stop.Symbol,
		"positionIdx": stop.PositionIdx,
		"tpslMode":    "Full",
		"tpTriggerBy": "MarkPrice",
		"slTriggerBy": "MarkPrice",
	}
	if stop.StopLoss.Sign() > 0 {
		body["stopLoss"] = stop.StopLoss.String()
	}
	if stop.TakeProfit.Sign() > 0 {
		body["takeProfit"] = stop.TakeProfit.String()
	}

	var resp bybitResponse[struct{}]
	return c.doRequest(ctx, http.MethodPost, "/v5/position/trading-stop", nil, body, true, &resp)
}
