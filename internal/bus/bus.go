package bus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
)

var ErrUnknownEvent = errors.New("unknown event kind")

// Handler applies one outbound message.
type Handler func(ctx context.Context, msg OutboundMessage) error

type MessageBus struct {
	Outbound chan OutboundMessage
}

func NewMessageBus(bufSize int) *MessageBus {
	if bufSize <= 0 {
		bufSize = 1
	}
	return &MessageBus{
		Outbound: make(chan OutboundMessage, bufSize),
	}
}

// Publish enqueues msg, blocking while the buffer is full.
func (b *MessageBus) Publish(ctx context.Context, msg OutboundMessage) error {
	select {
	case b.Outbound <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", msg.Kind, ctx.Err())
	}
}

// StoreFact enqueues a character fact. The write happens in the dispatcher.
func (b *MessageBus) StoreFact(ctx context.Context, category, key, value string) error {
	if strings.TrimSpace(category) == "" || strings.TrimSpace(key) == "" {
		return fmt.Errorf("store fact: category and key are required")
	}
	return b.Publish(ctx, NewFactMessage(category, key, value))
}

func (b *MessageBus) PublishMention(ctx context.Context, storylineID string) error {
	if strings.TrimSpace(storylineID) == "" {
		return fmt.Errorf("publish mention: storyline id is required")
	}
	return b.Publish(ctx, NewMentionMessage(storylineID))
}

// DispatchOutbound applies messages until ctx is done, then drains whatever
// is still buffered so queued facts survive shutdown.
func (b *MessageBus) DispatchOutbound(ctx context.Context, handler Handler) {
	for {
		select {
		case msg := <-b.Outbound:
			b.apply(ctx, handler, msg)
		case <-ctx.Done():
			if n := b.Drain(context.Background(), handler); n > 0 {
				log.Printf("[bus] drained %d messages on shutdown", n)
			}
			return
		}
	}
}

// Drain applies every buffered message without waiting for new ones and
// returns how many it handled.
func (b *MessageBus) Drain(ctx context.Context, handler Handler) int {
	n := 0
	for {
		select {
		case msg := <-b.Outbound:
			b.apply(ctx, handler, msg)
			n++
		default:
			return n
		}
	}
}

func (b *MessageBus) Pending() int { return len(b.Outbound) }

func (b *MessageBus) apply(ctx context.Context, handler Handler, msg OutboundMessage) {
	if handler == nil {
		log.Printf("[bus] no handler, dropping %s", msg.DedupKey())
		return
	}
	if err := handler(ctx, msg); err != nil {
		log.Printf("[bus] %s %s failed: %v", msg.Kind, msg.DedupKey(), err)
	}
}
