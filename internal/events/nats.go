package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// JetStream publishes and consumes state events on a NATS JetStream stream.
type JetStream struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream string
	logger *slog.Logger
}

// Connect establishes a connection to NATS and ensures the stream exists,
// capturing every subject under prefix.
func Connect(ctx context.Context, url, stream, prefix string, logger *slog.Logger) (*JetStream, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url, nats.Name("rollout"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     stream,
		Subjects: []string{Wildcard(prefix, "")},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	logger.Info("nats connected", "url", url, "stream", stream)
	return &JetStream{nc: nc, js: js, stream: stream, logger: logger}, nil
}

// Publish sends a message to the given subject and waits for the stream ack.
func (j *JetStream) Publish(ctx context.Context, subject string, data []byte) error {
	if _, err := j.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Watch delivers new events matching filter to fn until ctx ends. Messages
// that fail to decode are logged and skipped.
func (j *JetStream) Watch(ctx context.Context, filter string, fn func(Event)) error {
	cons, err := j.js.OrderedConsumer(ctx, j.stream, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{filter},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("nats consumer create: %w", err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data(), &ev); err != nil {
			j.logger.Warn("undecodable state event", "subject", msg.Subject(), "error", err)
			return
		}
		fn(ev)
	})
	if err != nil {
		return fmt.Errorf("nats consume: %w", err)
	}
	defer cc.Stop()

	<-ctx.Done()
	return nil
}

// Close shuts down the NATS connection.
func (j *JetStream) Close() error {
	j.nc.Close()
	return nil
}
