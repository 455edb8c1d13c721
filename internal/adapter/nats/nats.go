// Package nats implements the message queue port using NATS JetStream and
// publishes task lifecycle events onto it.
package nats

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/JellyRoute/internal/logger"
	"github.com/Strob0t/JellyRoute/internal/port/messagequeue"
)

const (
	headerRequestID = "X-Request-ID"

	// maxDeliver bounds redeliveries before a message moves to the DLQ.
	maxDeliver = 3
)

// Queue implements messagequeue.Queue using NATS JetStream.
type Queue struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream string
}

// Connect establishes a connection to NATS and ensures the JetStream stream exists.
func Connect(ctx context.Context, url, stream string) (*Queue, error) {
	nc, err := nats.Connect(url, nats.Name("jellyroute"))
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
		Subjects: []string{messagequeue.SubjectTaskAll, "dlq.>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", stream)
	return &Queue{nc: nc, js: js, stream: stream}, nil
}

// JetStream exposes the JetStream context, used for the KV cache tier.
func (q *Queue) JetStream() jetstream.JetStream { return q.js }

// IsConnected reports whether the underlying connection is up.
func (q *Queue) IsConnected() bool { return q.nc.IsConnected() }

// Publish validates and sends a message to the given subject. The request
// ID in ctx travels as a header.
func (q *Queue) Publish(ctx context.Context, subject string, data []byte) error {
	if err := messagequeue.Validate(subject, data); err != nil {
		return err
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	if id := logger.RequestID(ctx); id != "" {
		msg.Header.Set(headerRequestID, id)
	}
	if _, err := q.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a handler for messages on the given subject. A
// message whose handler keeps failing is moved to dlq.<subject> after
// maxDeliver attempts.
func (q *Queue) Subscribe(ctx context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, q.stream, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    maxDeliver,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		mctx := context.Background()
		if id := msg.Headers().Get(headerRequestID); id != "" {
			mctx = logger.WithRequestID(mctx, id)
		}

		if err := handler(mctx, msg.Subject(), msg.Data()); err != nil {
			slog.ErrorContext(mctx, "message handler failed", "subject", msg.Subject(), "error", err)
			q.retryOrDeadLetter(mctx, msg)
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			slog.ErrorContext(mctx, "nats ack failed", "error", ackErr)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	return cons.Stop, nil
}

func (q *Queue) retryOrDeadLetter(ctx context.Context, msg jetstream.Msg) {
	meta, err := msg.Metadata()
	if err == nil && meta.NumDelivered >= maxDeliver {
		dlq := "dlq." + msg.Subject()
		if _, err := q.js.Publish(ctx, dlq, msg.Data()); err != nil {
			slog.ErrorContext(ctx, "nats dlq publish failed", "subject", dlq, "error", err)
		}
		if err := msg.Term(); err != nil {
			slog.ErrorContext(ctx, "nats term failed", "error", err)
		}
		return
	}
	if nakErr := msg.Nak(); nakErr != nil {
		slog.ErrorContext(ctx, "nats nak failed", "error", nakErr)
	}
}

// Close drains and shuts down the NATS connection.
func (q *Queue) Close() error {
	return q.nc.Drain()
}
