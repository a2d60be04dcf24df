package bybit

import (
	"context"
	"fmt"
	"trendbot/internal/config"
	"trendbot/internal/exchange"
	"trendbot/internal/exchange/bybit/rest"
	"trendbot/internal/exchange/bybit/ws"
	"trendbot/internal/logger"
)

// Client — фасад над REST и двумя стрим-каналами Bybit v5.
// REST-методы даёт встроенный rest.Client.
type Client struct {
	*rest.Client

	wsPublic  *ws.Client
	wsPrivate *ws.Client
	log       *logger.Logger
}

var _ exchange.Client = (*Client)(nil)

func New(cfg config.ExchangeConfig, log *logger.Logger, onFatal func(string)) *Client {
	return &Client{
		Client:    rest.New(cfg.BaseUrl, cfg.Category, cfg.AccountType, cfg.ApiKey, cfg.Secret, log),
		wsPublic:  ws.New(cfg.WSPublicURL, ws.ChannelPublic, "", "", log, onFatal),
		wsPrivate: ws.New(cfg.WSPrivateURL, ws.ChannelPrivate, cfg.ApiKey, cfg.Secret, log, onFatal),
		log:       log,
	}
}

// ConnectPublic подписывает публичный канал на свечи всех таймфреймов и тикер.
func (c *Client) ConnectPublic(ctx context.Context, symbol, interval string, higherTimeframes []string) (<-chan exchange.Event, error) {
	topics := []string{
		fmt.Sprintf("kline.%s.%s", interval, symbol),
		fmt.Sprintf("tickers.%s", symbol),
	}
	for _, tf := range higherTimeframes {
		topics = append(topics, fmt.Sprintf("kline.%s.%s", tf, symbol))
	}

	if err := c.wsPublic.Connect(ctx, topics); err != nil {
		return nil, err
	}
	return c.wsPublic.Events(), nil
}

// ConnectPrivate подписывает авторизованный канал на ордера, исполнения,
// позиции и кошелёк.
func (c *Client) ConnectPrivate(ctx context.Context) (<-chan exchange.Event, error) {
	topics := []string{"position", "execution", "order", "wallet"}

	if err := c.wsPrivate.Connect(ctx, topics); err != nil {
		return nil, err
	}
	return c.wsPrivate.Events(), nil
}

func (c *Client) DisconnectStreams() {
	c.wsPublic.Disconnect()
	c.wsPrivate.Disconnect()
}
