package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/segmentio/kafka-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"met-loyalty/pkg/config"
	"met-loyalty/pkg/task"
)

const (
	SinkLog   = "log"
	SinkAsynq = "asynq"
	SinkKafka = "kafka"
)

var Module = fx.Module("notification",
	fx.Provide(NewSink),
)

var TaskModule = fx.Module("task.notification",
	fx.Provide(
		fx.Annotate(NewDownstreamSink, fx.ResultTags(`name:"downstream"`)),
		fx.Annotate(NewTask, fx.ParamTags(`name:"downstream"`)),
	),
	fx.Invoke(func(t *Task, mux *asynq.ServeMux) { t.Register(mux) }),
)

type SinkParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.Config
	Enqueuer  task.Enqueuer `optional:"true"`
	Logger    *zap.Logger   `optional:"true"`
}

// NewSink builds the sink the ledger publishes to from
// LOYALTY.NOTIFICATION_SINKS.
func NewSink(p SinkParams) (Sink, error) {
	return build(p, p.Config.Loyalty.NotificationSinks)
}

// NewDownstreamSink builds the sinks the worker delivers to. The asynq sink is
// skipped so that a worker never re-enqueues its own tasks.
func NewDownstreamSink(p SinkParams) (Sink, error) {
	var names []string
	for _, n := range p.Config.Loyalty.NotificationSinks {
		if !strings.EqualFold(n, SinkAsynq) {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		names = []string{SinkLog}
	}
	return build(p, names)
}

func build(p SinkParams, names []string) (Sink, error) {
	var sinks []Sink
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case SinkLog:
			log := p.Logger
			if log == nil {
				log = zap.L()
			}
			sinks = append(sinks, NewLogSink(log.Named("notification")))
		case SinkAsynq:
			if p.Enqueuer == nil {
				return nil, fmt.Errorf("notification sink %q requires the asynq client", name)
			}
			sinks = append(sinks, NewAsynqSink(p.Enqueuer))
		case SinkKafka:
			w := newKafkaWriter(p.Config)
			p.Lifecycle.Append(fx.Hook{
				OnStop: func(context.Context) error { return w.Close() },
			})
			sinks = append(sinks, NewKafkaSink(w))
		default:
			return nil, fmt.Errorf("unknown notification sink %q", name)
		}
	}

	if len(sinks) == 0 {
		return Nop(), nil
	}
	return FanOut(sinks...), nil
}

func newKafkaWriter(cfg *config.Config) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(cfg.Kafka.Brokers, ",")...),
		Topic:        cfg.Kafka.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}
