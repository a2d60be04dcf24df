package ws

import (
	"context"
	"fmt"
	"time"
	"trendbot/internal/exchange"
	"trendbot/internal/logger"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"
)

const (
	defaultMaxReconnectAttempts = 10
	defaultReconnectCap         = 60 * time.Second
	defaultPingInterval         = 20 * time.Second
	readLimitBytes              = 2 << 20
)

func New(url string, kind ChannelKind, apiKey, secret string, log *logger.Logger, onFatal func(string)) *Client {
	if onFatal == nil {
		onFatal = func(string) {}
	}
	return &Client{
		url:    url,
		kind:   kind,
		apiKey: apiKey,
		secret: secret,
		log:    log,
		events: make(chan exchange.Event, 256),
		backoff: &backoff.Backoff{
			Min:    1 * time.Second,
			Max:    defaultReconnectCap,
			Factor: 2,
		},
		maxReconnectAttempts: defaultMaxReconnectAttempts,
		pingInterval:         defaultPingInterval,
		onFatal:              onFatal,
	}
}

func (w *Client) Events() <-chan exchange.Event {
	return w.events
}

func (w *Client) State() ConnState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Connect идемпотентен: повторный вызов при живом или устанавливаемом
// соединении — no-op с предупреждением. Список топиков сохраняется и
// воспроизводится дословно после каждого реконнекта.
func (w *Client) Connect(ctx context.Context, topics []string) error {
	w.mu.Lock()
	if w.state != StateDisconnected {
		state := w.state
		w.mu.Unlock()
		w.logEntry().WithField("state", state.String()).Warn("Повторный Connect проигнорирован.")
		return nil
	}
	w.state = StateConnecting
	w.topics = append([]string(nil), topics...)
	w.intentionalClose = false
	w.reconnectAttempt = 0
	w.backoff.Reset()
	w.mu.Unlock()

	if err := w.dial(ctx); err != nil {
		w.setState(StateDisconnected)
		return err
	}
	return nil
}

// Disconnect поднимает счётчик попыток выше максимума, так что
// следующий разрыв считается намеренным; отменяет отложенный реконнект
// и освобождает соединение.
func (w *Client) Disconnect() {
	w.mu.Lock()
	w.intentionalClose = true
	w.reconnectAttempt = w.maxReconnectAttempts + 1
	if w.reconnectTimer != nil {
		w.reconnectTimer.Stop()
		w.reconnectTimer = nil
	}
	conn := w.conn
	w.conn = nil
	w.state = StateDisconnected
	w.stopPingLocked()
	w.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	w.logEntry().Info("Канал закрыт намеренно.")
}

func (w *Client) dial(ctx context.Context) error {
	w.logEntry().WithField("url", w.url).Info("Подключение к WS.")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return exchange.WrapTransient(fmt.Errorf("Не удалось подключиться к WS: %w", err))
	}
	conn.SetReadLimit(readLimitBytes)

	w.mu.Lock()
	w.conn = conn
	w.startPingLocked()
	w.mu.Unlock()

	if w.kind == ChannelPrivate {
		w.setState(StateAuthenticating)
		if err := w.authenticate(); err != nil {
			_ = conn.Close()
			return err
		}
	} else {
		w.setState(StateSubscribing)
		if err := w.sendSubscribe(); err != nil {
			_ = conn.Close()
			return err
		}
	}

	go w.readLoop(conn)
	return nil
}

// handleDisconnect вызывается из readLoop после разрыва. Планирует
// реконнект с задержкой min(2^attempt, cap); после maxReconnectAttempts
// эскалирует фатальный алерт и прекращает попытки.
func (w *Client) handleDisconnect(err error) {
	w.mu.Lock()
	if w.intentionalClose {
		w.mu.Unlock()
		return
	}
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
	w.stopPingLocked()
	w.state = StateDisconnected
	w.reconnectAttempt++
	attempt := w.reconnectAttempt

	if attempt > w.maxReconnectAttempts {
		w.mu.Unlock()
		reason := fmt.Sprintf("Канал %s: реконнекты исчерпаны (%d попыток).", w.kind, w.maxReconnectAttempts)
		w.logEntry().WithError(err).Error(reason)
		w.onFatal(reason)
		return
	}

	delay := w.backoff.Duration()
	w.reconnectTimer = time.AfterFunc(delay, w.redial)
	w.mu.Unlock()

	w.logEntry().WithError(err).WithFields(logrus.Fields{
		"attempt": attempt,
		"delay":   delay.String(),
	}).Warn("WS разорван, планируем реконнект.")
}

func (w *Client) redial() {
	w.mu.Lock()
	if w.intentionalClose {
		w.mu.Unlock()
		return
	}
	w.state = StateConnecting
	w.reconnectTimer = nil
	w.mu.Unlock()

	if err := w.dial(context.Background()); err != nil {
		w.logEntry().WithError(err).Warn("Не удалось переподключиться к WS.")
		w.handleDisconnect(err)
		return
	}
}

func (w *Client) setState(state ConnState) {
	w.mu.Lock()
	old := w.state
	w.state = state
	w.mu.Unlock()
	if old != state {
		w.logEntry().WithFields(logrus.Fields{
			"from": old.String(),
			"to":   state.String(),
		}).Debug("Смена состояния канала.")
	}
}

func (w *Client) writeJSON(v any) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("WS не подключён.")
	}
	return conn.WriteJSON(v)
}

func (w *Client) startPingLocked() {
	w.stopPingLocked()
	stop := make(chan struct{})
	w.pingStop = stop

	go func() {
		ticker := time.NewTicker(w.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := w.writeJSON(requestMessage{Op: "ping"}); err != nil {
					return
				}
			}
		}
	}()
}

func (w *Client) stopPingLocked() {
	if w.pingStop != nil {
		close(w.pingStop)
		w.pingStop = nil
	}
}

func (w *Client) logEntry() *logrus.Entry {
	return w.log.WithComponent("bybit_ws").WithField("channel", string(w.kind))
}
