package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mindspace/group-meditation/internal/core/ports"
)

func TestDispatcher_PreservesPerGroupOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		seen = map[string][]string{}
		wg   sync.WaitGroup
	)
	const perGroup = 50
	groups := []string{"room-1", "room-2", "room-3"}
	wg.Add(perGroup * len(groups))

	d := NewDispatcher(4, func(_ context.Context, msg ports.FanoutMessage) {
		mu.Lock()
		seen[msg.GroupID] = append(seen[msg.GroupID], msg.Target)
		mu.Unlock()
		wg.Done()
	}, zerolog.Nop())
	d.Start(ctx)

	for i := 0; i < perGroup; i++ {
		for _, g := range groups {
			if !d.Enqueue(ctx, ports.FanoutMessage{GroupID: g, Target: fmt.Sprint(i)}) {
				t.Fatalf("enqueue rejected for %s/%d", g, i)
			}
		}
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	for _, g := range groups {
		got := seen[g]
		if len(got) != perGroup {
			t.Fatalf("group %s: expected %d messages, got %d", g, perGroup, len(got))
		}
		for i, v := range got {
			if v != fmt.Sprint(i) {
				t.Fatalf("group %s: message %d out of order (got %s)", g, i, v)
			}
		}
	}
}

func TestDispatcher_ShardIndexIsStable(t *testing.T) {
	d := NewDispatcher(0, func(context.Context, ports.FanoutMessage) {}, zerolog.Nop())
	if len(d.workers) != defaultWorkers {
		t.Fatalf("expected %d workers, got %d", defaultWorkers, len(d.workers))
	}
	a := d.shardIndex("room-7")
	for i := 0; i < 10; i++ {
		if got := d.shardIndex("room-7"); got != a {
			t.Fatalf("shard index changed: %d vs %d", a, got)
		}
	}
}

func TestShardKey_FallsBackToTarget(t *testing.T) {
	if got := shardKey(ports.FanoutMessage{Kind: ports.FanoutDirect, Target: "p1/c1"}); got != "p1/c1" {
		t.Fatalf("expected target key, got %q", got)
	}
	if got := shardKey(ports.FanoutMessage{GroupID: "g", Target: "p1/c1"}); got != "g" {
		t.Fatalf("expected group key, got %q", got)
	}
}

func TestDispatcher_EnqueueGivesUpWhenContextDone(t *testing.T) {
	d := NewDispatcher(1, func(context.Context, ports.FanoutMessage) {}, zerolog.Nop())
	// Workers not started: fill the single buffer.
	for i := 0; i < channelBuffer; i++ {
		d.Enqueue(context.Background(), ports.FanoutMessage{GroupID: "g"})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if d.Enqueue(ctx, ports.FanoutMessage{GroupID: "g"}) {
		t.Fatal("expected enqueue to fail on a cancelled context with a full buffer")
	}
}
