package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"k8s.io/klog/v2"
)

// NATSConfig configures the optional outward mirror of the domain event
// stream. An empty URL disables publishing.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

// NATSPublisher mirrors domain events to a NATS JetStream subject tree so
// out-of-process consumers (artifact indexers, webhooks) can follow resource
// mutations without polling the store.
type NATSPublisher struct {
	conn          *nats.Conn
	js            nats.JetStreamContext
	subjectPrefix string
}

// NewNATSPublisher connects to NATS with unlimited reconnects. Returns nil if
// the URL is empty (publishing disabled).
func NewNATSPublisher(config NATSConfig) (*NATSPublisher, error) {
	if config.URL == "" {
		klog.Info("NATS URL not configured, domain event publishing disabled")
		return nil, nil
	}

	opts := []nats.Option{
		nats.Name("wharf-events"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				klog.ErrorS(err, "NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			klog.InfoS("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	prefix := config.SubjectPrefix
	if prefix == "" {
		prefix = "wharf"
	}

	klog.InfoS("Connected to NATS JetStream for domain events", "url", config.URL, "subjectPrefix", prefix)

	return &NATSPublisher{conn: conn, js: js, subjectPrefix: prefix}, nil
}

// Publish sends one event. The event id is the JetStream message id, so
// redeliveries deduplicate server-side.
func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal domain event: %w", err)
	}

	subject := p.buildSubject(ev)
	if _, err := p.js.Publish(subject, data, nats.MsgId(ev.ID), nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish domain event to JetStream: %w", err)
	}

	klog.V(4).InfoS("Published domain event to JetStream", "subject", subject, "msgID", ev.ID)
	return nil
}

// buildSubject constructs the subject for an event.
// Format: <prefix>.<group>.<kindPlural>.<type>.<name>
func (p *NATSPublisher) buildSubject(ev Event) string {
	sanitize := func(s string) string {
		if s == "" {
			return "_"
		}
		return strings.ReplaceAll(s, ".", "_")
	}
	return strings.Join([]string{
		p.subjectPrefix,
		sanitize(ev.Group),
		sanitize(ev.KindPlural),
		string(ev.Type),
		sanitize(ev.Name),
	}, ".")
}

// Close drains the connection.
func (p *NATSPublisher) Close() {
	if p != nil && p.conn != nil {
		p.conn.Close()
	}
}
