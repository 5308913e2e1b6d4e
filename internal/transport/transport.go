// Package transport defines the outbound event publisher boundary and an
// in-process hub that fans events out to local subscribers (SSE clients,
// status displays). The real pub/sub relay network sits behind Publisher;
// this core only needs at-least-once best effort.
package transport

import (
	"context"

	"github.com/pablof7z/tenex-sub009/internal/store"
)

// Publisher sends a fully-formed event to the outside world. A nil error is
// the acknowledgment; the reflection system counts acknowledgments in order.
type Publisher interface {
	Publish(ctx context.Context, ev store.Event) error
}

// HubPublisher adapts the in-process Hub to the Publisher interface so a
// deployment without a relay still surfaces outbound events locally.
type HubPublisher struct {
	Hub *Hub
}

func (p *HubPublisher) Publish(ctx context.Context, ev store.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.Hub.PublishJSON(ev)
	return nil
}
