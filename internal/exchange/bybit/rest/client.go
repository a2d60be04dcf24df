package rest

import (
	"net/http"
	"time"
	"trendbot/internal/logger"
)

type Client struct {
	baseURL     string
	category    string
	accountType string
	apiKey      string
	secret      string
	httpClient  *http.Client
	log         *logger.Logger
}

func New(baseURL, category, accountType, apiKey, secret string, log *logger.Logger) *Client {
	return &Client{
		baseURL:     baseURL,
		category:    category,
		accountType: accountType,
		apiKey:      apiKey,
		secret:      secret,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
	}
}
