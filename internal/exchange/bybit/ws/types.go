package ws

import (
	"encoding/json"
	"sync"
	"time"
	"trendbot/internal/exchange"
	"trendbot/internal/logger"
	"trendbot/internal/models"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
)

type ChannelKind string

const (
	ChannelPublic  ChannelKind = "public"
	ChannelPrivate ChannelKind = "private"
)

type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateAuthenticating
	StateSubscribing
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateSubscribing:
		return "subscribing"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Client держит один долгоживущий канал (публичный или приватный),
// восстанавливает подписки после реконнекта и раздаёт входящие
// сообщения как типизированные события.
//
// Все изменяемые поля соединения закрыты одним mu; доставка событий
// происходит вне блокировки, чтобы не тормозить поток чтения.
type Client struct {
	url    string
	kind   ChannelKind
	apiKey string
	secret string
	log    *logger.Logger

	mu               sync.Mutex
	state            ConnState
	conn             *websocket.Conn
	topics           []string
	reconnectAttempt int
	reconnectTimer   *time.Timer
	intentionalClose bool
	lastTicker       models.Ticker

	events  chan exchange.Event
	backoff *backoff.Backoff

	maxReconnectAttempts int
	pingInterval         time.Duration
	pingStop             chan struct{}

	// onFatal вызывается при невосстановимом сбое канала: провал
	// авторизации, исчерпание реконнектов, отказ критичной подписки.
	onFatal func(reason string)
}

type rawMessage struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	TS      int64           `json:"ts"`
	Data    json.RawMessage `json:"data"`
	Op      string          `json:"op"`
	Success *bool           `json:"success"`
	RetMsg  string          `json:"ret_msg"`
	ConnID  string          `json:"conn_id"`
}

type requestMessage struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// controlKind — разновидности служебных сообщений канала.
type controlKind string

const (
	controlAuth      controlKind = "auth"
	controlSubscribe controlKind = "subscribe"
	controlPong      controlKind = "pong"
	controlError     controlKind = "error"
)
