// Package stream is the durable event log (SPEC_FULL.md §4.7): a NATS
// JetStream stream fed by the ingress gateway and drained by the
// workflow orchestrator through a single durable consumer, with
// redelivery backoff and a dead-letter subject for deliveries that
// exhaust their retries.
package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Subjects used across the stream. Published subjects follow
// "gh.<kind>.<action>" (e.g. "gh.pull_request.opened"); the DLQ
// subject space is "gh.dlq.*".
const (
	streamName      = "GITGUARD_EVENTS"
	subjectWildcard = "gh.>"
	dlqSubjectBase  = "gh.dlq"
	consumerName    = "CODEX"
)

// RedeliveryBackoff is the fixed retry schedule from spec §7: five
// attempts, backing off from one second out to five minutes, before a
// message is routed to the dead-letter subject.
var RedeliveryBackoff = []time.Duration{
	1 * time.Second,
	5 * time.Second,
	20 * time.Second,
	60 * time.Second,
	300 * time.Second,
}

// Config carries the stream's retention tunables (spec §6).
type Config struct {
	URL      string
	MaxAge   time.Duration
	MaxMsgs  int64
	MaxBytes int64
}

// Stream wraps a JetStream context bound to the GitGuard event stream.
type Stream struct {
	nc *nats.Conn
	js jetstream.JetStream
	st jetstream.Stream
}

// Connect dials NATS, ensures the stream exists with the configured
// retention, and returns a ready-to-use Stream.
func Connect(ctx context.Context, cfg Config) (*Stream, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("gitguard"))
	if err != nil {
		return nil, fmt.Errorf("stream: connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("stream: jetstream context: %w", err)
	}

	st, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subjectWildcard},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    cfg.MaxAge,
		MaxMsgs:   cfg.MaxMsgs,
		MaxBytes:  cfg.MaxBytes,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("stream: ensure stream: %w", err)
	}

	return &Stream{nc: nc, js: js, st: st}, nil
}

// Close drains the underlying connection.
func (s *Stream) Close() {
	s.nc.Close()
}

// Publish writes an event payload to its gh.<kind>.<action> subject,
// deduplicated by the caller (internal/dedup) before this call — the
// stream itself does not re-check delivery ids.
func (s *Stream) Publish(ctx context.Context, kind, action string, payload []byte) error {
	subject := "gh." + kind + "." + action
	_, err := s.js.Publish(ctx, subject, payload)
	if err != nil {
		return fmt.Errorf("stream: publish %s: %w", subject, err)
	}
	return nil
}

// Handler processes one delivered message. Returning an error causes
// JetStream to redeliver per RedeliveryBackoff; a nil error acks it.
type Handler func(ctx context.Context, subject string, payload []byte) error

// Subscribe creates (or attaches to) the durable CODEX consumer and
// runs handler for every message until ctx is cancelled. Messages whose
// delivery count exceeds len(RedeliveryBackoff) are republished to the
// dead-letter subject instead of being retried forever.
func (s *Stream) Subscribe(ctx context.Context, handler Handler) error {
	consumer, err := s.st.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		BackOff:       RedeliveryBackoff,
		MaxDeliver:    len(RedeliveryBackoff) + 1,
		FilterSubject: subjectWildcard,
	})
	if err != nil {
		return fmt.Errorf("stream: ensure consumer %s: %w", consumerName, err)
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		meta, err := msg.Metadata()
		if err == nil && meta.NumDelivered > uint64(len(RedeliveryBackoff)) {
			s.deadLetter(ctx, msg)
			return
		}
		if err := handler(ctx, msg.Subject(), msg.Data()); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("stream: consume: %w", err)
	}
	defer consumeCtx.Stop()

	<-ctx.Done()
	return ctx.Err()
}

func (s *Stream) deadLetter(ctx context.Context, msg jetstream.Msg) {
	dlqSubject := dlqSubjectBase + "." + msg.Subject()[len("gh."):]
	if _, err := s.js.Publish(ctx, dlqSubject, msg.Data()); err == nil {
		_ = msg.Ack()
		return
	}
	// If the DLQ publish itself fails, nak so JetStream keeps the
	// message rather than silently dropping it.
	_ = msg.Nak()
}

// Replay re-delivers every message on the stream between seq and the
// current head to handler, for disaster-recovery reprocessing. It does
// not touch the CODEX consumer's own delivery position.
func (s *Stream) Replay(ctx context.Context, fromSeq uint64, handler Handler) error {
	consumer, err := s.st.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: subjectWildcard,
		DeliverPolicy: jetstream.DeliverByStartSequencePolicy,
		OptStartSeq:   fromSeq,
	})
	if err != nil {
		return fmt.Errorf("stream: replay consumer: %w", err)
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		if err := handler(ctx, msg.Subject(), msg.Data()); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("stream: replay consume: %w", err)
	}
	defer consumeCtx.Stop()

	<-ctx.Done()
	return ctx.Err()
}
