// Пакет eventbus — шина событий поверх Redis Streams.
// Топик — ключ stream, подписка — consumer group на этом stream.
// Сообщение хранится в поле "data" записи stream в виде JSON конверта.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message — конверт сообщения шины.
type Message struct {
	MessageID     string          `json:"messageId"`
	MessageType   string          `json:"messageType"`
	PublishedDate time.Time       `json:"publishedDate"`
	Data          json.RawMessage `json:"data"`
}

// NewMessage создаёт конверт с новым идентификатором и сериализованной нагрузкой.
func NewMessage(messageType string, data any) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("сериализация сообщения %s: %w", messageType, err)
	}
	return Message{
		MessageID:     uuid.NewString(),
		MessageType:   messageType,
		PublishedDate: time.Now().UTC(),
		Data:          raw,
	}, nil
}

// Decode десериализует нагрузку сообщения в v.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("сообщение %s без данных", m.MessageID)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("десериализация сообщения %s: %w", m.MessageID, err)
	}
	return nil
}

// Publisher — публикация сообщений в топик.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg Message) error
}

// Handler обрабатывает одно входящее сообщение.
// Ошибка означает, что сообщение уходит в dead-letter топик.
type Handler func(ctx context.Context, msg Message) error

// DeadLetterTopic возвращает имя dead-letter топика для topic.
func DeadLetterTopic(topic string) string {
	return topic + ":deadletter"
}
