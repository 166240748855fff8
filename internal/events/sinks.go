package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// LogSink writes events to the structured log. Always configured, so every
// deployment has at least one record of lifecycle activity.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink writing to logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Publish implements Sink.
func (s *LogSink) Publish(_ context.Context, evt Event) error {
	s.logger.Info("job event",
		zap.String("event", string(evt.Type)),
		zap.String("job_id", evt.JobID),
		zap.Any("payload", evt.Payload),
	)
	return nil
}

// RedisSink publishes events on a Redis channel as JSON, for external
// consumers such as dashboards.
type RedisSink struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisSink creates a sink publishing to the named channel.
func NewRedisSink(client redis.UniversalClient, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

// Publish implements Sink.
func (s *RedisSink) Publish(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event to redis: %w", err)
	}
	return nil
}

// MultiSink fans one event out to several sinks. All sinks are attempted;
// the first error is returned.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks into one.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Publish implements Sink.
func (s *MultiSink) Publish(ctx context.Context, evt Event) error {
	var firstErr error
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, evt); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
