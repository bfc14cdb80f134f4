package progress

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"merchpulse.io/pulse/internal/pkg/logger"
	"merchpulse.io/pulse/internal/pkg/worker"
)

// Subscriber receives progress events for one tenant, optionally
// narrowed to one run. Events holds at most the configured buffer; when
// a consumer lags the oldest event is dropped so the feed stays current.
type Subscriber struct {
	TenantID uuid.UUID
	// RunID narrows the stream to a single run; uuid.Nil receives every
	// run of the tenant.
	RunID  uuid.UUID
	Events chan Event
}

// Broadcaster fans pub/sub progress events out to in-process
// subscribers. A single pattern subscription feeds all tenants; fan-out
// runs on the broadcast worker pool so a slow consumer never blocks the
// redis reader.
type Broadcaster struct {
	rdb   *redis.Client
	pools *worker.Pools
	buf   int

	mu   sync.RWMutex
	subs map[*Subscriber]struct{}
}

// NewBroadcaster creates a broadcaster. bufferSize bounds each
// subscriber's channel; values below 1 fall back to 16.
func NewBroadcaster(rdb *redis.Client, pools *worker.Pools, bufferSize int) *Broadcaster {
	if bufferSize < 1 {
		bufferSize = 16
	}
	return &Broadcaster{
		rdb:   rdb,
		pools: pools,
		buf:   bufferSize,
		subs:  make(map[*Subscriber]struct{}),
	}
}

// Subscribe registers a consumer. The returned cancel function removes
// the subscriber and closes its channel; it is safe to call twice.
func (b *Broadcaster) Subscribe(tenantID, runID uuid.UUID) (*Subscriber, func()) {
	sub := &Subscriber{
		TenantID: tenantID,
		RunID:    runID,
		Events:   make(chan Event, b.buf),
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			// Closing under the write lock pairs with deliver's membership
			// check, so no sender can hit a closed channel.
			b.mu.Lock()
			delete(b.subs, sub)
			close(sub.Events)
			b.mu.Unlock()
		})
	}
	return sub, cancel
}

// Run consumes the progress pattern subscription until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) error {
	pubsub := b.rdb.PSubscribe(ctx, "progress:*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	logger.Info("Progress broadcaster subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.dispatch(ctx, msg.Channel, []byte(msg.Payload))
		}
	}
}

// dispatch routes one raw pub/sub message to matching subscribers.
func (b *Broadcaster) dispatch(ctx context.Context, channel string, payload []byte) {
	tenantID, runID, ok := parseChannel(channel)
	if !ok {
		return
	}

	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		logger.Warn("Malformed progress event dropped",
			zap.String("channel", channel),
			zap.Error(err),
		)
		return
	}

	b.mu.RLock()
	targets := make([]*Subscriber, 0, len(b.subs))
	for sub := range b.subs {
		if sub.TenantID != tenantID {
			continue
		}
		if sub.RunID != uuid.Nil && sub.RunID != runID {
			continue
		}
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		sub := sub
		err := b.pools.Broadcast.Submit(ctx, func(ctx context.Context) {
			b.deliver(sub, ev)
		})
		if err != nil {
			// Saturated pool: deliver inline, delivery itself never blocks.
			b.deliver(sub, ev)
		}
	}
}

// deliver pushes an event with drop-oldest backpressure. The membership
// check under the read lock excludes cancelled subscribers, whose
// channels are closed while the write lock is held.
func (b *Broadcaster) deliver(sub *Subscriber, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}

	select {
	case sub.Events <- ev:
		return
	default:
	}
	select {
	case <-sub.Events:
	default:
	}
	select {
	case sub.Events <- ev:
	default:
	}
}

func parseChannel(channel string) (tenantID, runID uuid.UUID, ok bool) {
	parts := strings.Split(channel, ":")
	if len(parts) != 3 || parts[0] != "progress" {
		return uuid.Nil, uuid.Nil, false
	}
	tenantID, err := uuid.Parse(parts[1])
	if err != nil {
		return uuid.Nil, uuid.Nil, false
	}
	runID, err = uuid.Parse(parts[2])
	if err != nil {
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, runID, true
}
