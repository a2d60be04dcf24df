package ws

import (
	"encoding/json"
	"strings"
	"trendbot/internal/exchange"

	"github.com/gorilla/websocket"
)

func (w *Client) readLoop(conn *websocket.Conn) {
	w.logEntry().Debug("readLoop запущен.")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			w.handleDisconnect(err)
			return
		}

		var msg rawMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			w.logEntry().WithError(err).Warn("Не удалось разобрать WS сообщение.")
			continue
		}

		if msg.Op != "" {
			w.handleControl(msg)
			continue
		}

		switch {
		case strings.HasPrefix(msg.Topic, "kline."):
			w.handleKline(msg)
		case strings.HasPrefix(msg.Topic, "tickers."):
			w.handleTicker(msg)
		case msg.Topic == "order" || strings.HasPrefix(msg.Topic, "order."):
			w.handleOrder(msg)
		case msg.Topic == "execution" || strings.HasPrefix(msg.Topic, "execution."):
			w.handleExecution(msg)
		case msg.Topic == "position" || strings.HasPrefix(msg.Topic, "position."):
			w.handlePosition(msg)
		case msg.Topic == "wallet":
			w.handleWallet(msg)
		default:
			// Неизвестные формы не пропускаем внутрь.
			w.logEntry().WithField("topic", msg.Topic).Debug("Неизвестный топик, сообщение отброшено.")
		}
	}
}

// handleControl разбирает служебные сообщения: auth, subscribe, pong, error.
func (w *Client) handleControl(msg rawMessage) {
	success := msg.Success != nil && *msg.Success

	switch controlKind(msg.Op) {
	case controlAuth:
		if !success {
			reason := "Авторизация приватного канала отклонена: " + msg.RetMsg
			w.logEntry().Error(reason)
			w.onFatal(reason)
			w.Disconnect()
			return
		}
		w.logEntry().Info("Приватный канал авторизован.")
		w.setState(StateSubscribing)
		if err := w.sendSubscribe(); err != nil {
			w.logEntry().WithError(err).Warn("Не удалось переподписаться после авторизации.")
		}

	case controlSubscribe:
		if !success {
			// Подписки канала считаем критичными: без них канал бесполезен.
			reason := "Подписка отклонена: " + msg.RetMsg
			w.logEntry().Error(reason)
			w.onFatal(reason)
			return
		}
		w.onSubscribed()

	case controlPong:
		// Ответ на ping, полезной нагрузки нет.

	case controlError:
		w.logEntry().WithField("ret_msg", msg.RetMsg).Warn("Служебная ошибка канала.")

	default:
		if msg.Op == "ping" || msg.Op == "pong" {
			return
		}
		w.logEntry().WithField("op", msg.Op).Debug("Неизвестная служебная операция.")
	}
}

// onSubscribed фиксирует рабочее состояние канала; после успешного
// восстановления шлёт событие Reconnect, чтобы владельцы пересверили
// состояние, и сбрасывает счётчик попыток.
func (w *Client) onSubscribed() {
	w.mu.Lock()
	wasReconnect := w.reconnectAttempt > 0
	w.reconnectAttempt = 0
	w.backoff.Reset()
	w.state = StateConnected
	w.mu.Unlock()

	if wasReconnect {
		w.logEntry().Info("WS переподключён, подписки восстановлены.")
		w.emit(exchange.Event{Type: exchange.EventTypeReconnect})
	} else {
		w.logEntry().Info("Подписки подтверждены, канал готов.")
	}
}

func (w *Client) emit(event exchange.Event) {
	select {
	case w.events <- event:
	default:
		w.logEntry().WithField("type", string(event.Type)).Warn("Очередь событий переполнена, событие отброшено.")
	}
}
