package events

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"CertVerify-Chain/internal/config"
	xerrors "CertVerify-Chain/internal/errors"
)

func TestEncodeDecode(t *testing.T) {
	event := NewMintEvent("mint_certificate", "0xstudent", "0xabc", "0xcontract", 84532)
	if event.ID == "" || event.OccurredAt.IsZero() {
		t.Fatalf("event should carry id and timestamp: %+v", event)
	}
	raw, err := Encode(event)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != event.ID || got.TxHash != "0xabc" || got.ChainID != 84532 || !got.OccurredAt.Equal(event.OccurredAt) {
		t.Fatalf("unexpected event: %+v", got)
	}
}

func TestEncodeFillsMissingFields(t *testing.T) {
	raw, err := Encode(MintEvent{TxHash: "0x1"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, _ := Decode(raw)
	if got.ID == "" || got.OccurredAt.IsZero() {
		t.Fatalf("missing defaults: %+v", got)
	}
}

func TestDecodeRejectsBadPayload(t *testing.T) {
	if _, err := Decode([]byte("{broken")); xerrors.CodeOf(err) != xerrors.CodeQueueFailure {
		t.Fatalf("expected queue failure, got %v", err)
	}
	if _, err := Decode([]byte(`{"tool":"mint_certificate"}`)); err == nil {
		t.Fatalf("expected error for missing tx hash")
	}
}

func TestMemoryQueueDeliversEvents(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for _, hash := range []string{"0x1", "0x2"} {
		if err := q.Publish(ctx, MintEvent{TxHash: hash}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	received := make(chan string, 2)
	done := make(chan error, 1)
	go func() {
		done <- q.Consume(ctx, 1, func(_ context.Context, event MintEvent) error {
			received <- event.TxHash
			return nil
		})
	}()

	for _, want := range []string{"0x1", "0x2"} {
		select {
		case got := <-received:
			if got != want {
				t.Fatalf("expected %s, got %s", want, got)
			}
		case <-ctx.Done():
			t.Fatal("timed out waiting for event")
		}
	}

	q.Close()
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("consume did not return after close")
	}
	if err := q.Publish(context.Background(), MintEvent{TxHash: "0x3"}); xerrors.CodeOf(err) != xerrors.CodeQueueFailure {
		t.Fatalf("expected queue failure after close, got %v", err)
	}
}

func TestMemoryQueuePublishDoesNotBlockWhenFull(t *testing.T) {
	q := NewMemoryQueue(1)
	if err := q.Publish(context.Background(), MintEvent{TxHash: "0x1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	published := make(chan error, 1)
	go func() {
		published <- q.Publish(context.Background(), MintEvent{TxHash: "0x2"})
	}()
	select {
	case err := <-published:
		if xerrors.CodeOf(err) != xerrors.CodeQueueFailure {
			t.Fatalf("expected queue failure when full, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full queue")
	}

	closed := make(chan struct{})
	go func() {
		q.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("close stalled behind a publisher")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewMemoryQueue(1).Publish(ctx, MintEvent{TxHash: "0x3"}); err != context.Canceled {
		t.Fatalf("expected context error, got %v", err)
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	q, err := Open(context.Background(), config.EventsConfig{})
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if _, ok := q.(*MemoryQueue); !ok {
		t.Fatalf("expected memory queue, got %T", q)
	}
	q.Close()

	if _, err := Open(context.Background(), config.EventsConfig{Driver: "kafka"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(context.Background(), config.EventsConfig{Driver: "redis"}); err == nil {
		t.Fatal("expected error for redis without address")
	}
	if _, err := Open(context.Background(), config.EventsConfig{Driver: "rabbitmq"}); err == nil {
		t.Fatal("expected error for rabbitmq without url")
	}
}

func TestRedisQueueDefaults(t *testing.T) {
	q := newRedisQueue(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), RedisConfig{})
	defer q.Close()
	if q.queue != defaultRedisQueue || q.wait != 5*time.Second {
		t.Fatalf("unexpected defaults: %s %s", q.queue, q.wait)
	}
}

// 需要真实 Redis：CERTVERIFY_TEST_REDIS=127.0.0.1:6379 go test ./internal/events
func TestRedisQueueRoundTrip(t *testing.T) {
	addr := os.Getenv("CERTVERIFY_TEST_REDIS")
	if addr == "" {
		t.Skip("CERTVERIFY_TEST_REDIS not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q, err := NewRedisQueue(ctx, RedisConfig{Address: addr, Queue: "certverify:test:mints", BlockWait: time.Second})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer q.Close()

	if err := q.Publish(ctx, NewMintEvent("add_university", "", "0xfeed", "0xcontract", 1337)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	got := make(chan MintEvent, 1)
	consumeCtx, stop := context.WithCancel(ctx)
	defer stop()
	go q.Consume(consumeCtx, 1, func(_ context.Context, event MintEvent) error {
		got <- event
		return nil
	})
	select {
	case event := <-got:
		if event.TxHash != "0xfeed" {
			t.Fatalf("unexpected event %+v", event)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for redis event")
	}
}
