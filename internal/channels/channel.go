// Package channels adapts messaging transports to the bus: each
// adapter publishes inbound messages and delivers its outbound
// stream.
package channels

import (
	"context"

	"github.com/relaylabs/relay/pkg/models"
)

// Channel is a messaging transport adapter.
type Channel interface {
	// Name returns the channel type this adapter serves.
	Name() models.ChannelType

	// Start connects the transport and begins relaying messages.
	// It returns once the adapter is running.
	Start(ctx context.Context) error

	// Stop shuts the adapter down, waiting up to ctx for in-flight
	// deliveries.
	Stop(ctx context.Context) error
}

// Group manages a set of channel adapters as one unit.
type Group struct {
	channels []Channel
}

// NewGroup creates a group.
func NewGroup(channels ...Channel) *Group {
	return &Group{channels: channels}
}

// Add registers another adapter.
func (g *Group) Add(ch Channel) {
	g.channels = append(g.channels, ch)
}

// StartAll starts every adapter, stopping the ones already started
// if any fails.
func (g *Group) StartAll(ctx context.Context) error {
	var started []Channel
	for _, ch := range g.channels {
		if err := ch.Start(ctx); err != nil {
			for _, s := range started {
				_ = s.Stop(ctx)
			}
			return err
		}
		started = append(started, ch)
	}
	return nil
}

// StopAll stops every adapter, returning the last error.
func (g *Group) StopAll(ctx context.Context) error {
	var lastErr error
	for _, ch := range g.channels {
		if err := ch.Stop(ctx); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
