// Package bus provides the in-process pub/sub decoupling channel
// adapters from the agent loop.
package bus

import (
	"log/slog"
	"sync"

	"github.com/relaylabs/relay/pkg/models"
)

// DefaultInboundCapacity bounds the shared inbound queue.
const DefaultInboundCapacity = 256

// DefaultOutboundCapacity bounds each outbound subscriber queue.
const DefaultOutboundCapacity = 64

// Bus is a process-wide message bus with no durability; in-flight
// messages are lost on crash.
//
// Inbound delivery drops the oldest queued message on overflow so a
// slow agent cannot stall channel adapters. Outbound publishes block
// when a subscriber queue is full: replies are few and losing one is
// worse than briefly stalling a tool.
type Bus struct {
	logger *slog.Logger

	mu          sync.Mutex
	closed      bool
	inbound     chan *models.InboundMessage
	outSubs     []*outboundSub
	inboundCap  int
	outboundCap int
}

type outboundSub struct {
	channel models.ChannelType
	ch      chan *models.OutboundMessage
}

// Option configures a Bus.
type Option func(*Bus)

// WithInboundCapacity overrides the inbound queue capacity.
func WithInboundCapacity(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.inboundCap = n
		}
	}
}

// WithOutboundCapacity overrides per-subscriber outbound capacity.
func WithOutboundCapacity(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.outboundCap = n
		}
	}
}

// New creates a message bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		logger:      slog.Default().With("component", "bus"),
		inboundCap:  DefaultInboundCapacity,
		outboundCap: DefaultOutboundCapacity,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.inbound = make(chan *models.InboundMessage, b.inboundCap)
	return b
}

// Publish enqueues an inbound message. On overflow the oldest queued
// message is dropped. Publishing to a closed bus is a no-op.
func (b *Bus) Publish(msg *models.InboundMessage) {
	if msg == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for {
		select {
		case b.inbound <- msg:
			return
		default:
		}
		select {
		case dropped := <-b.inbound:
			b.logger.Warn("inbound queue full, dropping oldest",
				"channel", dropped.Channel,
				"chat_id", dropped.ChatID)
		default:
		}
	}
}

// Inbound returns the shared inbound stream. Exactly one consumer
// (the dispatcher) should receive from it.
func (b *Bus) Inbound() <-chan *models.InboundMessage {
	return b.inbound
}

// PublishOutbound delivers a reply to the subscriber for its channel.
// Blocks while the subscriber queue is full. Messages for channels
// with no subscriber are dropped with a warning.
func (b *Bus) PublishOutbound(msg *models.OutboundMessage) {
	if msg == nil {
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	var target *outboundSub
	for _, sub := range b.outSubs {
		if sub.channel == msg.Channel {
			target = sub
			break
		}
	}
	b.mu.Unlock()

	if target == nil {
		b.logger.Warn("no subscriber for outbound channel", "channel", msg.Channel)
		return
	}
	target.ch <- msg
}

// SubscribeOutbound registers a channel adapter for its replies.
// Per-publisher ordering is preserved. The returned stream is closed
// by Close.
func (b *Bus) SubscribeOutbound(channel models.ChannelType) <-chan *models.OutboundMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &outboundSub{
		channel: channel,
		ch:      make(chan *models.OutboundMessage, b.outboundCap),
	}
	b.outSubs = append(b.outSubs, sub)
	return sub.ch
}

// Close shuts the bus down. Subsequent publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.inbound)
	for _, sub := range b.outSubs {
		close(sub.ch)
	}
	b.outSubs = nil
}
