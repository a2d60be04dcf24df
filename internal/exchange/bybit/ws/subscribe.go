package ws

import "fmt"

// sendSubscribe воспроизводит сохранённый список топиков целиком.
func (w *Client) sendSubscribe() error {
	w.mu.Lock()
	topics := append([]string(nil), w.topics...)
	w.mu.Unlock()

	if len(topics) == 0 {
		w.setState(StateConnected)
		return nil
	}

	msg := requestMessage{
		Op:   "subscribe",
		Args: topics,
	}
	if err := w.writeJSON(msg); err != nil {
		return fmt.Errorf("Не удалось отправить подписку: %w", err)
	}
	return nil
}
