package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/hibiken/asynq"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"met-loyalty/pkg/task"
	"met-loyalty/pkg/taskname"
)

type logSink struct {
	log *zap.Logger
}

// NewLogSink writes every event to the structured log.
func NewLogSink(log *zap.Logger) Sink {
	return &logSink{log: log}
}

func (s *logSink) Publish(_ context.Context, e Event) error {
	fields := []zap.Field{
		zap.String("event_type", string(e.Type)),
		zap.String("user_id", e.UserID),
	}
	switch {
	case e.LevelUp != nil:
		fields = append(fields,
			zap.String("old_level", e.LevelUp.OldLevel.Key),
			zap.String("new_level", e.LevelUp.NewLevel.Key))
	case e.RedemptionCreated != nil:
		fields = append(fields,
			zap.String("reward_id", e.RedemptionCreated.Reward.ID),
			zap.String("redemption_id", e.RedemptionCreated.Redemption.ID),
			zap.Time("expires_at", e.RedemptionCreated.Redemption.ExpiresAt))
	}
	s.log.Info("loyalty notification", fields...)
	return nil
}

type asynqSink struct {
	enqueuer task.Enqueuer
}

// NewAsynqSink enqueues one task per event for the notification worker.
func NewAsynqSink(enqueuer task.Enqueuer) Sink {
	return &asynqSink{enqueuer: enqueuer}
}

func (s *asynqSink) Publish(ctx context.Context, e Event) error {
	t, err := EncodeTask(e)
	if err != nil {
		return err
	}

	info, err := s.enqueuer.Enqueue(ctx, t, asynq.Queue(task.QueueNotifications), asynq.MaxRetry(5))
	if err != nil {
		return err
	}

	zap.L().Debug("notification enqueued",
		zap.String("task_type", t.Type()),
		zap.String("task_id", info.ID),
		zap.String("user_id", e.UserID))
	return nil
}

// EncodeTask encodes an event as an asynq task.
func EncodeTask(e Event) (*asynq.Task, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", e.Type, err)
	}

	switch e.Type {
	case EventLevelUp:
		return asynq.NewTask(taskname.LoyaltyNotifyLevelUp, payload), nil
	case EventRedemptionCreated:
		return asynq.NewTask(taskname.LoyaltyNotifyRedemptionCreated, payload), nil
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}

// MessageWriter is the subset of *kafka.Writer used by the kafka sink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type kafkaSink struct {
	writer MessageWriter
}

// NewKafkaSink publishes events as JSON keyed by user id so that one user's
// events stay ordered within a partition.
func NewKafkaSink(writer MessageWriter) Sink {
	return &kafkaSink{writer: writer}
}

func (s *kafkaSink) Publish(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return err
	}

	carrier := headerCarrier{{Key: "event_type", Value: []byte(e.Type)}}
	otel.GetTextMapPropagator().Inject(ctx, &carrier)

	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(e.UserID),
		Value:   value,
		Headers: carrier,
	})
}

// headerCarrier lets the otel propagator write trace context into kafka
// message headers.
type headerCarrier []kafka.Header

func (c *headerCarrier) Get(key string) string {
	for _, h := range *c {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	for i, h := range *c {
		if h.Key == key {
			(*c)[i].Value = []byte(value)
			return
		}
	}
	*c = append(*c, kafka.Header{Key: key, Value: []byte(value)})
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(*c))
	for _, h := range *c {
		keys = append(keys, h.Key)
	}
	return keys
}

type fanOut struct {
	sinks []Sink
}

// FanOut publishes to every sink concurrently and joins their errors.
func FanOut(sinks ...Sink) Sink {
	if len(sinks) == 1 {
		return sinks[0]
	}
	return &fanOut{sinks: sinks}
}

func (f *fanOut) Publish(ctx context.Context, e Event) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, s := range f.sinks {
		g.Go(func() error {
			if err := s.Publish(ctx, e); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		return fmt.Errorf("publish %s: %d of %d sinks failed: %w", e.Type, len(errs), len(f.sinks), errors.Join(errs...))
	}
	return nil
}

type nopSink struct{}

// Nop discards every event.
func Nop() Sink {
	return nopSink{}
}

func (nopSink) Publish(context.Context, Event) error { return nil }
