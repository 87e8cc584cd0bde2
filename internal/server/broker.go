package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ashita-ai/skillcheck/internal/coordinator"
)

// SnapshotSource publishes coordinator snapshots.
type SnapshotSource interface {
	Subscribe() (<-chan coordinator.Snapshot, func())
}

// Broker fans coordinator snapshots out to SSE subscribers. Snapshots
// supersede each other, so every subscriber holds at most one pending
// event: a slow client skips intermediate snapshots but always receives the
// newest.
type Broker struct {
	source SnapshotSource
	logger *slog.Logger

	mu          sync.Mutex
	last        []byte
	subscribers map[chan []byte]struct{}
}

// NewBroker creates a broker over source. Call Start to begin relaying.
func NewBroker(source SnapshotSource, logger *slog.Logger) *Broker {
	return &Broker{
		source:      source,
		logger:      logger,
		subscribers: make(map[chan []byte]struct{}),
	}
}

// Start relays snapshots until ctx is cancelled or the source closes. It
// blocks, so call it in a goroutine.
func (b *Broker) Start(ctx context.Context) {
	ch, stop := b.source.Subscribe()
	defer stop()

	b.logger.Info("broker: relaying run snapshots")
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(snap)
			if err != nil {
				b.logger.Error("broker: encode snapshot", "error", err)
				continue
			}
			b.broadcast(formatSSE("snapshot", data))
		}
	}
}

// Subscribe returns a channel that receives SSE-formatted events, primed
// with the latest one. The caller must call Unsubscribe when done.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last != nil {
		ch <- b.last
	}
	b.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
}

// broadcast replaces each subscriber's pending event with event. Sends
// happen under mu, so after draining a full channel the send cannot block.
func (b *Broker) broadcast(event []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.last = event
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- event
		}
	}
}

// formatSSE formats one Server-Sent Events message.
func formatSSE(eventType string, data []byte) []byte {
	out := make([]byte, 0, len(eventType)+len(data)+16)
	out = append(out, "event: "...)
	out = append(out, eventType...)
	out = append(out, "\ndata: "...)
	out = append(out, data...)
	return append(out, "\n\n"...)
}
