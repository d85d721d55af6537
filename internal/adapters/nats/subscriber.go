package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/etxea/internal/core/domain"
	"github.com/samirrijal/etxea/internal/pkg/metrics"
)

// Subscriber implements ports.EventSubscriber using NATS JetStream.
type Subscriber struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	durable string
	subs    []*nats.Subscription
}

// NewSubscriber creates a subscriber on conn. durable names the JetStream
// consumer; every API instance needs its own so each sees every event.
func NewSubscriber(conn *nats.Conn, durable string) (*Subscriber, error) {
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	if err := EnsureStream(js); err != nil {
		return nil, err
	}
	return &Subscriber{conn: conn, js: js, durable: durable}, nil
}

// SubscribeCatalog delivers catalog events to handler. A handler error naks
// the message for redelivery; undecodable messages are terminated.
func (s *Subscriber) SubscribeCatalog(ctx context.Context, handler func(ctx context.Context, event *domain.CatalogEvent) error) error {
	sub, err := s.js.Subscribe(catalogSubject+".>", func(msg *nats.Msg) {
		ev, err := decodeEvent(msg.Data)
		if err != nil {
			slog.Warn("dropping malformed catalog event", "subject", msg.Subject, "error", err)
			metrics.CatalogEvents.WithLabelValues("unknown", "malformed").Inc()
			_ = msg.Term()
			return
		}
		if err := handler(ctx, ev); err != nil {
			slog.Warn("catalog event failed", "kind", ev.Kind, "id", ev.ID, "error", err)
			metrics.CatalogEvents.WithLabelValues(string(ev.Kind), "failed").Inc()
			_ = msg.Nak()
			return
		}
		metrics.CatalogEvents.WithLabelValues(string(ev.Kind), "applied").Inc()
		_ = msg.Ack()
	},
		nats.Durable(s.durable),
		nats.ManualAck(),
		nats.MaxDeliver(3),
		nats.DeliverAll(),
	)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

func decodeEvent(data []byte) (*domain.CatalogEvent, error) {
	var ev domain.CatalogEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Close unsubscribes. The connection is owned by the caller.
func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
}
