package publish

import (
	"context"

	"github.com/quantfeed/compindex/internal/domain"
)

// BusTransport delivers messages to the signal bus (Redis pub/sub), from
// where the subscriber hub fans them out, and mirrors each message into a
// capped durable stream so late consumers can catch up. The bus client owns
// retries, so the transport is considered permanently connected once
// constructed.
type BusTransport struct {
	bus domain.SignalBus
}

// NewBusTransport creates a BusTransport over the given signal bus.
func NewBusTransport(bus domain.SignalBus) *BusTransport {
	return &BusTransport{bus: bus}
}

// Connected always reports true; bus availability surfaces as Send errors.
func (t *BusTransport) Connected() bool { return true }

// Send publishes the payload to the message's channel and appends it to the
// channel's durable stream.
func (t *BusTransport) Send(ctx context.Context, msg Message) error {
	if err := t.bus.Publish(ctx, msg.Channel, msg.Payload); err != nil {
		return err
	}
	return t.bus.StreamAppend(ctx, StreamName(msg.Channel), msg.Payload)
}

// StreamName maps a bus channel to its durable stream key.
func StreamName(channel string) string {
	return "stream:" + channel
}

var _ Transport = (*BusTransport)(nil)
