package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/etxea/internal/core/domain"
)

// Catalog stream layout.
const (
	CatalogStream  = "CATALOG"
	catalogSubject = "catalog.listing"
)

// Subject returns the subject a catalog event of kind is published on.
func Subject(kind domain.CatalogEventKind) string {
	return catalogSubject + "." + string(kind)
}

// Publisher implements ports.EventPublisher using NATS JetStream.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// Connect opens a NATS connection that keeps retrying in the background.
func Connect(url, name string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return conn, nil
}

// EnsureStream creates or updates the catalog stream.
func EnsureStream(js nats.JetStreamContext) error {
	cfg := nats.StreamConfig{
		Name:       CatalogStream,
		Subjects:   []string{catalogSubject + ".>"},
		Retention:  nats.LimitsPolicy,
		MaxAge:     7 * 24 * time.Hour,
		Storage:    nats.FileStorage,
		Duplicates: 2 * time.Minute,
	}
	if _, err := js.AddStream(&cfg); err != nil {
		// Stream may already exist, try update
		if _, err := js.UpdateStream(&cfg); err != nil {
			return fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
		}
	}
	return nil
}

// NewPublisher enables JetStream on conn and ensures the catalog stream.
func NewPublisher(conn *nats.Conn) (*Publisher, error) {
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	if err := EnsureStream(js); err != nil {
		return nil, err
	}
	return &Publisher{conn: conn, js: js}, nil
}

func (p *Publisher) PublishListingAdded(ctx context.Context, l *domain.Listing) error {
	return p.publish(ctx, &domain.CatalogEvent{Kind: domain.ListingAdded, ID: l.ID, Listing: l, OccurredAt: time.Now().UTC()})
}

func (p *Publisher) PublishListingUpdated(ctx context.Context, l *domain.Listing) error {
	return p.publish(ctx, &domain.CatalogEvent{Kind: domain.ListingUpdated, ID: l.ID, Listing: l, OccurredAt: time.Now().UTC()})
}

func (p *Publisher) PublishListingRemoved(ctx context.Context, id string) error {
	return p.publish(ctx, &domain.CatalogEvent{Kind: domain.ListingRemoved, ID: id, OccurredAt: time.Now().UTC()})
}

func (p *Publisher) publish(ctx context.Context, ev *domain.CatalogEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(Subject(ev.Kind), data, nats.Context(ctx), nats.MsgId(messageID(ev)))
	return err
}

// messageID lets JetStream drop a re-published event inside the duplicate window.
func messageID(ev *domain.CatalogEvent) string {
	return fmt.Sprintf("%s:%s:%d", ev.Kind, ev.ID, ev.OccurredAt.UnixNano())
}
