package queue

import (
	"context"
	"hash/fnv"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/mindspace/group-meditation/internal/api/metrics"
	"github.com/mindspace/group-meditation/internal/core/ports"
)

const (
	defaultWorkers = 8
	channelBuffer  = 256
)

// Handler delivers one fan-out message to local connections.
type Handler func(ctx context.Context, msg ports.FanoutMessage)

// Dispatcher routes fan-out messages received from other processes to a fixed
// set of workers using consistent hashing on the group id, so messages for one
// group are delivered in the order they were received.
type Dispatcher struct {
	workers []chan ports.FanoutMessage
	handle  Handler
	log     zerolog.Logger
}

// NewDispatcher creates a Dispatcher with numWorkers sharded workers.
// If numWorkers <= 0, defaultWorkers is used.
func NewDispatcher(numWorkers int, handle Handler, log zerolog.Logger) *Dispatcher {
	if numWorkers <= 0 {
		numWorkers = defaultWorkers
	}
	d := &Dispatcher{
		workers: make([]chan ports.FanoutMessage, numWorkers),
		handle:  handle,
		log:     log,
	}
	for i := range d.workers {
		d.workers[i] = make(chan ports.FanoutMessage, channelBuffer)
	}
	return d
}

// Start launches all worker goroutines. Workers stop when ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	for i, ch := range d.workers {
		go d.runWorker(ctx, i, ch)
	}
}

// Enqueue hands msg to the worker responsible for its group. It blocks once
// that worker's buffer is full and gives up when ctx is done.
func (d *Dispatcher) Enqueue(ctx context.Context, msg ports.FanoutMessage) bool {
	idx := d.shardIndex(shardKey(msg))
	select {
	case d.workers[idx] <- msg:
		metrics.FanoutQueueDepth.WithLabelValues(strconv.Itoa(idx)).Inc()
		return true
	case <-ctx.Done():
		d.log.Warn().
			Str("group_id", msg.GroupID).
			Str("kind", string(msg.Kind)).
			Msg("fan-out message dropped on shutdown")
		return false
	}
}

// shardKey keeps everything about one group on one worker. Messages without a
// group are keyed by their target connection.
func shardKey(msg ports.FanoutMessage) string {
	if msg.GroupID != "" {
		return msg.GroupID
	}
	return msg.Target
}

// shardIndex maps a key deterministically to a worker index.
func (d *Dispatcher) shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(d.workers)))
}

func (d *Dispatcher) runWorker(ctx context.Context, id int, ch <-chan ports.FanoutMessage) {
	depth := metrics.FanoutQueueDepth.WithLabelValues(strconv.Itoa(id))
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			depth.Dec()
			d.handle(ctx, msg)
		}
	}
}
