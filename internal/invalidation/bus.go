// Package invalidation provides the in-process publish/subscribe bus that
// fans out story cache invalidations to interested observers (reader screens,
// the sync worker). Delivery is synchronous within the emitting call.
package invalidation

import "sync"

// Bus is a pub/sub hub keyed by story id. The zero value is not usable; use
// NewBus.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]func(storyID string)
}

// NewBus creates an empty invalidation bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[int]func(string))}
}

// Subscribe registers fn to be called whenever storyID is invalidated.
// The returned function removes the subscription; calling it more than once
// is harmless.
func (b *Bus) Subscribe(storyID string, fn func(storyID string)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bucket, ok := b.subs[storyID]
	if !ok {
		bucket = make(map[int]func(string))
		b.subs[storyID] = bucket
	}

	id := b.nextID
	b.nextID++
	bucket[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		bucket, ok := b.subs[storyID]
		if !ok {
			return
		}
		delete(bucket, id)
		// Free the bucket when the last listener leaves so ids that come
		// and go do not accumulate empty maps.
		if len(bucket) == 0 {
			delete(b.subs, storyID)
		}
	}
}

// Emit invokes every subscriber registered for storyID. Emitting for an id
// with no subscribers is a no-op. Delivery order across subscribers is
// unspecified.
func (b *Bus) Emit(storyID string) {
	b.mu.Lock()
	bucket := b.subs[storyID]
	callbacks := make([]func(string), 0, len(bucket))
	for _, fn := range bucket {
		callbacks = append(callbacks, fn)
	}
	b.mu.Unlock()

	for _, fn := range callbacks {
		fn(storyID)
	}
}

// SubscriberCount returns the number of active subscriptions for storyID.
func (b *Bus) SubscriberCount(storyID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[storyID])
}
