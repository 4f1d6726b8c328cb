// redis.go — реализация шины через Redis Streams (go-redis).
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// dataField — поле записи stream с JSON конвертом.
const dataField = "data"

// readBatch — максимум сообщений за один XREADGROUP.
const readBatch = 10

// NewRedisClient создаёт клиент Redis.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// RedisBus — шина событий поверх Redis Streams.
type RedisBus struct {
	client       *redis.Client
	consumer     string
	blockTimeout time.Duration
	claimIdle    time.Duration
	logger       *slog.Logger
}

// NewRedisBus создаёт шину. consumer — имя потребителя внутри consumer group,
// blockTimeout — окно блокирующего чтения XREADGROUP, claimIdle — простой
// неподтверждённого сообщения, после которого его забирает XAUTOCLAIM.
func NewRedisBus(client *redis.Client, consumer string, blockTimeout, claimIdle time.Duration, logger *slog.Logger) *RedisBus {
	return &RedisBus{
		client:       client,
		consumer:     consumer,
		blockTimeout: blockTimeout,
		claimIdle:    claimIdle,
		logger:       logger.With(slog.String("component", "eventbus")),
	}
}

// Publish добавляет сообщение в stream топика.
func (b *RedisBus) Publish(ctx context.Context, topic string, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("сериализация конверта %s: %w", msg.MessageID, err)
	}

	id, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]any{dataField: string(raw)},
	}).Result()
	if err != nil {
		return fmt.Errorf("публикация в %s: %w", topic, err)
	}

	b.logger.Debug("Сообщение опубликовано",
		slog.String("topic", topic),
		slog.String("message_id", msg.MessageID),
		slog.String("message_type", msg.MessageType),
		slog.String("stream_id", id),
	)
	return nil
}

// EnsureSubscription создаёт consumer group (и stream), если их ещё нет.
func (b *RedisBus) EnsureSubscription(ctx context.Context, topic, subscription string) error {
	err := b.client.XGroupCreateMkStream(ctx, topic, subscription, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("создание подписки %s на %s: %w", subscription, topic, err)
	}
	return nil
}

// Subscribe запускает блокирующий цикл чтения подписки и вызывает handler
// синхронно для каждого сообщения. Успех — XACK, ошибка handler'а —
// копия в dead-letter топик и XACK. Возвращает nil при отмене ctx.
//
// Сначала дочитываются сообщения, выданные этому потребителю ранее
// и не подтверждённые. Раз в claimIdle забираются зависшие сообщения
// любых потребителей группы (под с другим hostname после рестарта).
func (b *RedisBus) Subscribe(ctx context.Context, topic, subscription string, handler Handler) error {
	if err := b.EnsureSubscription(ctx, topic, subscription); err != nil {
		return err
	}

	b.logger.Info("Подписка запущена",
		slog.String("topic", topic),
		slog.String("subscription", subscription),
		slog.String("consumer", b.consumer),
	)

	start := "0"
	var nextClaim time.Time
	for {
		if ctx.Err() != nil {
			b.logger.Info("Подписка остановлена", slog.String("topic", topic))
			return nil
		}

		if now := time.Now(); !now.Before(nextClaim) {
			b.claimStale(ctx, topic, subscription, handler)
			nextClaim = now.Add(b.claimIdle)
		}

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    subscription,
			Consumer: b.consumer,
			Streams:  []string{topic, start},
			Count:    readBatch,
			Block:    b.blockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				start = ">"
				continue
			}
			if ctx.Err() != nil {
				b.logger.Info("Подписка остановлена", slog.String("topic", topic))
				return nil
			}
			b.logger.Error("Ошибка чтения подписки",
				slog.String("topic", topic),
				slog.String("error", err.Error()),
			)
			if !sleepCtx(ctx, time.Second) {
				return nil
			}
			continue
		}

		received, unacked := 0, 0
		for _, stream := range streams {
			for _, xmsg := range stream.Messages {
				received++
				if !b.dispatch(ctx, topic, subscription, xmsg, handler) {
					unacked++
				}
			}
		}

		// Неподтверждённые дочитаны, либо остались только те, что не удалось
		// подтвердить: их повторит claimStale после claimIdle.
		if start == "0" && (received == 0 || unacked > 0) {
			start = ">"
		}
	}
}

// claimStale забирает у любых потребителей группы сообщения, простаивающие
// дольше claimIdle, и обрабатывает их.
func (b *RedisBus) claimStale(ctx context.Context, topic, subscription string, handler Handler) {
	cursor := "0-0"
	for {
		msgs, next, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   topic,
			Group:    subscription,
			Consumer: b.consumer,
			MinIdle:  b.claimIdle,
			Start:    cursor,
			Count:    readBatch,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				b.logger.Warn("Ошибка XAUTOCLAIM",
					slog.String("topic", topic),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		for _, xmsg := range msgs {
			b.logger.Info("Забрано зависшее сообщение",
				slog.String("topic", topic),
				slog.String("stream_id", xmsg.ID),
			)
			b.dispatch(ctx, topic, subscription, xmsg, handler)
		}

		if next == "" || next == "0-0" || ctx.Err() != nil {
			return
		}
		cursor = next
	}
}

// dispatch обрабатывает одно сообщение stream и подтверждает его.
// Возвращает false, если сообщение осталось неподтверждённым.
func (b *RedisBus) dispatch(ctx context.Context, topic, subscription string, xmsg redis.XMessage, handler Handler) bool {
	logger := b.logger.With(
		slog.String("topic", topic),
		slog.String("stream_id", xmsg.ID),
	)

	var handleErr error
	msg, err := decodeEntry(xmsg)
	if err != nil {
		handleErr = err
	} else {
		logger = logger.With(slog.String("message_id", msg.MessageID))
		handleErr = handler(ctx, msg)
	}

	if handleErr != nil {
		logger.Warn("Сообщение отправлено в dead-letter", slog.String("error", handleErr.Error()))
		values := make(map[string]any, len(xmsg.Values)+2)
		for k, v := range xmsg.Values {
			values[k] = v
		}
		values["error"] = handleErr.Error()
		values["source_id"] = xmsg.ID
		if err := b.client.XAdd(ctx, &redis.XAddArgs{
			Stream: DeadLetterTopic(topic),
			Values: values,
		}).Err(); err != nil {
			// Без подтверждения сообщение будет доставлено повторно
			logger.Error("Ошибка записи в dead-letter", slog.String("error", err.Error()))
			return false
		}
	}

	if err := b.client.XAck(ctx, topic, subscription, xmsg.ID).Err(); err != nil {
		logger.Error("Ошибка подтверждения сообщения", slog.String("error", err.Error()))
		return false
	}
	return true
}

// decodeEntry извлекает конверт из записи stream.
func decodeEntry(xmsg redis.XMessage) (Message, error) {
	raw, ok := xmsg.Values[dataField].(string)
	if !ok {
		return Message{}, fmt.Errorf("запись %s без поля %q", xmsg.ID, dataField)
	}
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return Message{}, fmt.Errorf("некорректный конверт %s: %w", xmsg.ID, err)
	}
	return msg, nil
}

// CheckReady проверяет доступность Redis для health endpoint.
func (b *RedisBus) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := b.client.Ping(ctx).Err(); err != nil {
		return "fail", fmt.Sprintf("Redis недоступен: %v", err)
	}
	return "ok", "подключение активно"
}

// sleepCtx ждёт d или отмены ctx. Возвращает false при отмене.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
