package stream

import (
	"context"
	"testing"
	"time"
)

func TestMemoryBusBroadcast(t *testing.T) {
	bus := NewMemoryBus(8)
	defer bus.Close()
	ctx := context.Background()

	first, cancelFirst, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe first: %v", err)
	}
	defer cancelFirst()
	second, cancelSecond, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe second: %v", err)
	}
	defer cancelSecond()

	update := Update{Kind: KindPrice, Symbol: "SOL-USDC", At: time.Now().Unix()}
	if err := bus.Publish(ctx, update); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for i, ch := range []<-chan Update{first, second} {
		select {
		case got := <-ch:
			if got.Symbol != "SOL-USDC" || got.Kind != KindPrice {
				t.Fatalf("subscriber %d got unexpected update: %+v", i, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d did not receive the update", i)
		}
	}
}

func TestMemoryBusCancelledSubscriberStopsReceiving(t *testing.T) {
	bus := NewMemoryBus(8)
	defer bus.Close()
	ctx := context.Background()

	updates, cancel, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()

	if _, ok := <-updates; ok {
		t.Fatalf("expected channel to be closed after cancel")
	}

	if err := bus.Publish(ctx, Update{Kind: KindPrice}); err != nil {
		t.Fatalf("publish after cancel: %v", err)
	}
}

func TestMemoryBusSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewMemoryBus(1)
	defer bus.Close()
	ctx := context.Background()

	_, cancel, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			if err := bus.Publish(ctx, Update{Kind: KindPrice, At: int64(i)}); err != nil {
				t.Errorf("publish %d: %v", i, err)
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a slow subscriber")
	}
}

func TestMemoryBusRejectsAfterClose(t *testing.T) {
	bus := NewMemoryBus(8)
	ctx := context.Background()

	updates, _, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, ok := <-updates; ok {
		t.Fatalf("expected subscriber channel closed")
	}
	if err := bus.Publish(ctx, Update{}); err == nil {
		t.Fatalf("expected publish on closed bus to fail")
	}
	if _, _, err := bus.Subscribe(ctx); err == nil {
		t.Fatalf("expected subscribe on closed bus to fail")
	}
}
