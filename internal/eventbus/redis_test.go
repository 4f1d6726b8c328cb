package eventbus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// newTestBus поднимает miniredis и возвращает шину с коротким окном чтения.
func newTestBus(t *testing.T) (*RedisBus, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := NewRedisClient(mr.Addr(), "", 0)
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRedisBus(client, "test-consumer", 50*time.Millisecond, 50*time.Millisecond, logger), client, mr
}

type payload struct {
	RecordID string `json:"tdeiRecordId"`
}

// runSubscribe запускает Subscribe и ждёт n вызовов handler'а.
func runSubscribe(t *testing.T, bus *RedisBus, topic string, n int, handler Handler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen int
	)
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		err := bus.Subscribe(ctx, topic, "test-group", func(ctx context.Context, msg Message) error {
			err := handler(ctx, msg)
			mu.Lock()
			seen++
			if seen == n {
				close(done)
			}
			mu.Unlock()
			return err
		})
		if err != nil {
			t.Errorf("Subscribe: %v", err)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		cancel()
		wg.Wait()
		t.Fatalf("handler вызван %d раз, ожидалось %d", seen, n)
	}
	// Даём циклу подтвердить последнее сообщение
	time.Sleep(100 * time.Millisecond)
	cancel()
	wg.Wait()
}

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage("gtfs-flex-upload", payload{RecordID: "rec-1"})
	if err != nil {
		t.Fatal(err)
	}
	if msg.MessageID == "" || msg.MessageType != "gtfs-flex-upload" || msg.PublishedDate.IsZero() {
		t.Errorf("msg = %+v", msg)
	}

	var p payload
	if err := msg.Decode(&p); err != nil || p.RecordID != "rec-1" {
		t.Errorf("Decode = %+v, %v", p, err)
	}

	if err := (Message{MessageID: "x"}).Decode(&p); err == nil {
		t.Error("ожидалась ошибка для пустых данных")
	}
}

func TestRedisBus_PublishSubscribeAck(t *testing.T) {
	bus, client, _ := newTestBus(t)
	ctx := context.Background()

	if err := bus.EnsureSubscription(ctx, "validation", "test-group"); err != nil {
		t.Fatal(err)
	}
	// Повторное создание группы не является ошибкой
	if err := bus.EnsureSubscription(ctx, "validation", "test-group"); err != nil {
		t.Fatalf("повторный EnsureSubscription: %v", err)
	}

	for _, id := range []string{"rec-1", "rec-2"} {
		msg, _ := NewMessage("gtfs-flex-validation", payload{RecordID: id})
		if err := bus.Publish(ctx, "validation", msg); err != nil {
			t.Fatal(err)
		}
	}

	var (
		mu  sync.Mutex
		got []string
	)
	runSubscribe(t, bus, "validation", 2, func(_ context.Context, msg Message) error {
		var p payload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		mu.Lock()
		got = append(got, p.RecordID)
		mu.Unlock()
		return nil
	})

	if len(got) != 2 || got[0] != "rec-1" || got[1] != "rec-2" {
		t.Errorf("получено %v, ожидалось [rec-1 rec-2] по порядку", got)
	}

	pending, err := client.XPending(ctx, "validation", "test-group").Result()
	if err != nil {
		t.Fatal(err)
	}
	if pending.Count != 0 {
		t.Errorf("неподтверждённых = %d, ожидалось 0", pending.Count)
	}
	if n, _ := client.XLen(ctx, DeadLetterTopic("validation")).Result(); n != 0 {
		t.Errorf("dead-letter = %d, ожидалось 0", n)
	}
}

func TestRedisBus_HandlerErrorGoesToDeadLetter(t *testing.T) {
	bus, client, _ := newTestBus(t)
	ctx := context.Background()

	if err := bus.EnsureSubscription(ctx, "validation", "test-group"); err != nil {
		t.Fatal(err)
	}
	msg, _ := NewMessage("gtfs-flex-validation", payload{RecordID: "bad"})
	if err := bus.Publish(ctx, "validation", msg); err != nil {
		t.Fatal(err)
	}

	runSubscribe(t, bus, "validation", 1, func(context.Context, Message) error {
		return errors.New("обработка не удалась")
	})

	entries, err := client.XRange(ctx, DeadLetterTopic("validation"), "-", "+").Result()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("dead-letter = %d, ожидалась 1 запись", len(entries))
	}
	if entries[0].Values["error"] != "обработка не удалась" {
		t.Errorf("error = %v", entries[0].Values["error"])
	}
	if _, ok := entries[0].Values[dataField]; !ok {
		t.Error("dead-letter запись должна содержать исходный конверт")
	}

	pending, _ := client.XPending(ctx, "validation", "test-group").Result()
	if pending.Count != 0 {
		t.Errorf("неподтверждённых = %d, ожидалось 0", pending.Count)
	}
}

func TestRedisBus_MalformedEntryGoesToDeadLetter(t *testing.T) {
	bus, client, _ := newTestBus(t)
	ctx := context.Background()

	if err := bus.EnsureSubscription(ctx, "validation", "test-group"); err != nil {
		t.Fatal(err)
	}
	if err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: "validation",
		Values: map[string]any{dataField: "{not json"},
	}).Err(); err != nil {
		t.Fatal(err)
	}
	// Корректное сообщение после некорректного всё равно обрабатывается
	good, _ := NewMessage("gtfs-flex-validation", payload{RecordID: "ok"})
	if err := bus.Publish(ctx, "validation", good); err != nil {
		t.Fatal(err)
	}

	var handled int
	runSubscribe(t, bus, "validation", 1, func(context.Context, Message) error {
		handled++
		return nil
	})

	if handled != 1 {
		t.Errorf("handler вызван %d раз, ожидался 1", handled)
	}
	if n, _ := client.XLen(ctx, DeadLetterTopic("validation")).Result(); n != 1 {
		t.Errorf("dead-letter = %d, ожидалась 1 запись", n)
	}
}

func TestRedisBus_CheckReady(t *testing.T) {
	bus, _, mr := newTestBus(t)

	if status, _ := bus.CheckReady(); status != "ok" {
		t.Errorf("status = %q, ожидался ok", status)
	}

	mr.Close()
	if status, _ := bus.CheckReady(); status != "fail" {
		t.Errorf("status после остановки Redis = %q, ожидался fail", status)
	}
}

func TestDeadLetterTopic(t *testing.T) {
	if got := DeadLetterTopic("gtfs-flex-validation"); got != "gtfs-flex-validation:deadletter" {
		t.Errorf("DeadLetterTopic = %q", got)
	}
}

func TestRedisBus_ClaimsStaleFromOtherConsumer(t *testing.T) {
	bus, client, _ := newTestBus(t)
	ctx := context.Background()

	if err := bus.EnsureSubscription(ctx, "validation", "test-group"); err != nil {
		t.Fatal(err)
	}
	msg, _ := NewMessage("gtfs-flex-validation", payload{RecordID: "orphan"})
	if err := bus.Publish(ctx, "validation", msg); err != nil {
		t.Fatal(err)
	}

	// Под pod-old прочитал сообщение и упал, не подтвердив его
	if err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    "test-group",
		Consumer: "pod-old",
		Streams:  []string{"validation", ">"},
		Count:    1,
		Block:    -1,
	}).Err(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	var got string
	runSubscribe(t, bus, "validation", 1, func(_ context.Context, msg Message) error {
		var p payload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		got = p.RecordID
		return nil
	})

	if got != "orphan" {
		t.Errorf("получено %q, ожидалось orphan", got)
	}
	pending, err := client.XPending(ctx, "validation", "test-group").Result()
	if err != nil {
		t.Fatal(err)
	}
	if pending.Count != 0 {
		t.Errorf("неподтверждённых = %d (%v), ожидалось 0", pending.Count, pending.Consumers)
	}
}

func TestRedisBus_DeadLetterFailureNoBusyLoop(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewRedisClient(mr.Addr(), "", 0)
	t.Cleanup(func() { client.Close() })
	bus := NewRedisBus(client, "test-consumer", 50*time.Millisecond, time.Hour,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	if err := bus.EnsureSubscription(ctx, "validation", "test-group"); err != nil {
		t.Fatal(err)
	}
	// Ключ dead-letter другого типа: XADD в него завершается WRONGTYPE
	if err := client.Set(ctx, DeadLetterTopic("validation"), "x", 0).Err(); err != nil {
		t.Fatal(err)
	}
	msg, _ := NewMessage("gtfs-flex-validation", payload{RecordID: "bad"})
	if err := bus.Publish(ctx, "validation", msg); err != nil {
		t.Fatal(err)
	}

	var calls atomic.Int32
	subCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bus.Subscribe(subCtx, "validation", "test-group", func(context.Context, Message) error {
			calls.Add(1)
			return errors.New("обработка не удалась")
		})
	}()

	// Первая доставка, затем рестарт с тем же именем потребителя:
	// сообщение снова приходит из списка неподтверждённых ровно один раз.
	time.Sleep(300 * time.Millisecond)
	cancel()
	<-done

	if n := calls.Load(); n != 1 {
		t.Errorf("handler вызван %d раз, ожидался 1", n)
	}
	pending, _ := client.XPending(ctx, "validation", "test-group").Result()
	if pending.Count != 1 {
		t.Errorf("неподтверждённых = %d, ожидалось 1", pending.Count)
	}

	subCtx, cancel = context.WithCancel(ctx)
	done = make(chan struct{})
	go func() {
		defer close(done)
		_ = bus.Subscribe(subCtx, "validation", "test-group", func(context.Context, Message) error {
			calls.Add(1)
			return errors.New("обработка не удалась")
		})
	}()
	time.Sleep(300 * time.Millisecond)
	cancel()
	<-done

	if n := calls.Load(); n != 2 {
		t.Errorf("после рестарта handler вызван %d раз всего, ожидалось 2", n)
	}
}
