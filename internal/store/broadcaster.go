package store

import (
	"context"
	"sync"

	"example.com/backstage/services/shortage/internal/models"
)

// Broadcaster fans snapshots out to subscribers. Each subscriber gets its own deep copy and
// snapshots older than the last one delivered are dropped, so concurrent writers can never make
// a subscriber go back in time. Deliveries are serialized but run without holding the
// subscription lock, so a callback may cancel or count subscriptions. It must not subscribe.
type Broadcaster struct {
	deliver sync.Mutex

	mu        sync.Mutex
	nextID    int
	subs      map[int]SnapshotFunc
	delivered uint64
	latest    models.Snapshot
}

// NewBroadcaster creates an empty broadcaster
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]SnapshotFunc)}
}

// Subscribe registers fn and hands it the latest published snapshot, or initial when nothing
// was published yet
func (b *Broadcaster) Subscribe(ctx context.Context, initial models.Snapshot, fn SnapshotFunc) func() {
	b.deliver.Lock()
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	current := initial
	if b.latest != nil {
		current = b.latest
	}
	current = current.Clone()
	b.mu.Unlock()

	fn(current)
	b.deliver.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			cancel()
		}()
	}
	return cancel
}

// Publish delivers snapshot, tagged with a monotonically increasing version, to every
// subscriber. Stale versions are ignored.
func (b *Broadcaster) Publish(version uint64, snapshot models.Snapshot) {
	b.deliver.Lock()
	defer b.deliver.Unlock()

	b.mu.Lock()
	if version <= b.delivered {
		b.mu.Unlock()
		return
	}
	b.delivered = version
	b.latest = snapshot.Clone()
	latest := b.latest
	subs := make([]SnapshotFunc, 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	for _, fn := range subs {
		fn(latest.Clone())
	}
}

// Subscribers returns the number of live subscriptions
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
