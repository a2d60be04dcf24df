package rest

import (
	"context"
	"net/http"
	"net/url"
	"trendbot/internal/models"
)

func (c *Client) PlaceOrder(ctx context.Context, order models.Order) (models.Order, error) {
	body := map[string]any{
		"category":    c.category,
		"symbol":      order.Symbol,
		"side":        order.Side,
		"orderType":   order.Type,
		"qty":         order.Qty.String(),
		"orderLinkId": order.LinkID,
		"reduceOnly":  order.ReduceOnly,
		"positionIdx": order.PositionIdx,
	}

	if order.Type == models.OrderTypeLimit {
		body["price"] = order.Price.String()
		if order.TimeInForce != "" {
			body["timeInForce"] = order.TimeInForce
		}
	}
	if order.StopLoss.Sign() > 0 {
		body["stopLoss"] = order.StopLoss.String()
	}
	if order.TakeProfit.Sign() > 0 {
		body["takeProfit"] = order.TakeProfit.String()
	}

	var resp bybitResponse[struct {
		OrderID string `json:"orderId"`
	}]

	if err := c.doRequest(ctx, http.MethodPost, "/v5/order/create", nil, body, true, &resp); err != nil {
		return models.Order{}, err
	}

	order.ID = resp.Result.OrderID
	order.Status = models.OrderStatusNew
	return order, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	body := map[string]any{
		"category": c.category,
		"symbol":   symbol,
		"orderId":  orderID,
	}

	var resp bybitResponse[struct{}]
	return c.doRequest(ctx, http.MethodPost, "/v5/order/cancel", nil, body, true, &resp)
}

func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	body := map[string]any{
		"category": c.category,
		"symbol":   symbol,
	}

	var resp bybitResponse[struct{}]
	return c.doRequest(ctx, http.MethodPost, "/v5/order/cancel-all", nil, body, true, &resp)
}

func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", symbol)

	var resp bybitResponse[struct {
		List []struct {
			OrderID     string `json:"orderId"`
			OrderLink   string `json:"orderLinkId"`
			Side        string `json:"side"`
			OrderType   string `json:"orderType"`
			Price       string `json:"price"`
			Qty         string `json:"qty"`
			LeavesQty   string `json:"leavesQty"`
			AvgPrice    string `json:"avgPrice"`
			OrderStatus string `json:"orderStatus"`
			ReduceOnly  bool   `json:"reduceOnly"`
			CreatedTime string `json:"createdTime"`
			UpdatedTime string `json:"updatedTime"`
		} `json:"list"`
	}]

	if err := c.doRequest(ctx, http.MethodGet, "/v5/order/realtime", params, nil, true, &resp); err != nil {
		return nil, err
	}

	var orders []models.Order
	for _, item := range resp.Result.List {
		qty := parseDecimalOrZero(item.Qty)
		leaves := parseDecimalOrZero(item.LeavesQty)

		orders = append(orders, models.Order{
			ID:         item.OrderID,
			LinkID:     item.OrderLink,
			Symbol:     symbol,
			Side:       models.OrderSide(item.Side),
			Type:       models.OrderType(item.OrderType),
			Price:      parseDecimalOrZero(item.Price),
			Qty:        qty,
			FilledQty:  qty.Sub(leaves),
			AvgPrice:   parseDecimalOrZero(item.AvgPrice),
			Status:     models.OrderStatus(item.OrderStatus),
			ReduceOnly: item.ReduceOnly,
			CreateTime: parseMillis(item.CreatedTime),
			UpdateTime: parseMillis(item.UpdatedTime),
		})
	}
	return orders, nil
}
