// Package listener bridges the channel transport and the work queue.
package listener

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/whale-sentinel/internal/metrics"
	"github.com/JakeFAU/whale-sentinel/internal/whale"
)

// Listener consumes raw events pushed by the transport and admits them to
// the work queue. It never blocks the delivery loop: when the queue is at
// capacity the event is dropped and counted, not queued elsewhere.
type Listener struct {
	transport whale.ChannelTransport
	queue     whale.Queue
	channel   string
	logger    *zap.Logger
}

// New constructs a listener for one channel.
func New(transport whale.ChannelTransport, queue whale.Queue, channel string, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		transport: transport,
		queue:     queue,
		channel:   channel,
		logger:    logger.With(zap.String("component", "listener"), zap.String("channel", channel)),
	}
}

// Run joins the channel and pumps transport events into the queue until the
// context ends or the transport closes its event stream. The join is
// idempotent upstream, so restarts are safe.
func (l *Listener) Run(ctx context.Context) error {
	if err := l.transport.JoinChannel(ctx, l.channel); err != nil {
		return fmt.Errorf("join channel %q: %w", l.channel, err)
	}
	l.logger.Info("listening for channel events")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-l.transport.Events():
			if !ok {
				l.logger.Info("transport event stream closed")
				return nil
			}
			l.HandleEvent(event)
		}
	}
}

// HandleEvent admits one event to the queue. Empty payloads and
// queue-full rejections are terminal for the event: logged, counted,
// and forgotten.
func (l *Listener) HandleEvent(event whale.RawEvent) {
	metrics.ObserveEventReceived()

	if strings.TrimSpace(event.Text) == "" {
		metrics.ObserveEventDropped("empty_payload")
		l.logger.Debug("dropping event with empty payload", zap.String("event_id", event.EventID))
		return
	}

	if err := l.queue.TryEnqueue(whale.QueueItem{Event: event}); err != nil {
		metrics.ObserveEventDropped("queue_full")
		l.logger.Warn("dropping event, queue rejected it",
			zap.String("event_id", event.EventID),
			zap.Int("queue_depth", l.queue.Len()),
			zap.Error(err),
		)
		return
	}

	metrics.SetQueueDepth(l.queue.Len())
}
