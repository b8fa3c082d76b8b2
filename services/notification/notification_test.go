package notification

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"met-loyalty/pkg/config"
	"met-loyalty/pkg/taskname"
	"met-loyalty/services/catalog"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, t *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, t)
	return &asynq.TaskInfo{ID: "task-1", Type: t.Type()}, nil
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func levelUpEvent() Event {
	c := catalog.Default()
	oldLevel, _ := c.Tier("bronce")
	newLevel, _ := c.Tier("plata")
	return NewLevelUp("user-1", oldLevel, newLevel, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
}

func redemptionEvent() Event {
	r, _ := catalog.Default().Reward("discount-10")
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return NewRedemptionCreated("user-1", r, Redemption{
		ID: "r1", Code: "MET-AAAA-BBBB-CCCC", RewardID: r.ID, PointsCost: r.PointsCost,
		RedeemedAt: now, ExpiresAt: r.ExpiresAt(now),
	}, now)
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLogSink(zap.New(core))

	require.NoError(t, sink.Publish(context.Background(), levelUpEvent()))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "level_up", fields["event_type"])
	require.Equal(t, "bronce", fields["old_level"])
	require.Equal(t, "plata", fields["new_level"])
}

func TestAsynqSinkEnqueuesTypedTask(t *testing.T) {
	enq := &fakeEnqueuer{}
	sink := NewAsynqSink(enq)

	require.NoError(t, sink.Publish(context.Background(), redemptionEvent()))
	require.Len(t, enq.tasks, 1)
	require.Equal(t, taskname.LoyaltyNotifyRedemptionCreated, enq.tasks[0].Type())

	var decoded Event
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &decoded))
	require.Equal(t, "MET-AAAA-BBBB-CCCC", decoded.RedemptionCreated.Redemption.Code)

	enq.err = errors.New("redis down")
	require.Error(t, sink.Publish(context.Background(), levelUpEvent()))
}

func TestEncodeTaskRejectsUnknownType(t *testing.T) {
	_, err := EncodeTask(Event{Type: "other"})
	require.Error(t, err)
}

func TestKafkaSinkKeysByUser(t *testing.T) {
	w := &fakeWriter{}
	sink := NewKafkaSink(w)

	require.NoError(t, sink.Publish(context.Background(), levelUpEvent()))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	require.Equal(t, "user-1", string(msg.Key))
	require.Equal(t, "event_type", msg.Headers[0].Key)
	require.Equal(t, "level_up", string(msg.Headers[0].Value))

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	require.Equal(t, "plata", decoded.LevelUp.NewLevel.Key)
}

func TestFanOutPublishesToAllAndJoinsErrors(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	ok := SinkFunc(func(context.Context, Event) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})
	boom := errors.New("boom")
	failing := SinkFunc(func(context.Context, Event) error { return boom })

	require.NoError(t, FanOut(ok, ok).Publish(context.Background(), levelUpEvent()))
	require.Equal(t, 2, calls)

	err := FanOut(ok, failing).Publish(context.Background(), levelUpEvent())
	require.ErrorIs(t, err, boom)
	require.Equal(t, 3, calls)
}

func TestTaskDeliversDownstream(t *testing.T) {
	var got []Event
	downstream := SinkFunc(func(_ context.Context, e Event) error {
		got = append(got, e)
		return nil
	})
	worker := NewTask(downstream)

	lvl, err := EncodeTask(levelUpEvent())
	require.NoError(t, err)
	require.NoError(t, worker.HandleLevelUp(context.Background(), lvl))

	red, err := EncodeTask(redemptionEvent())
	require.NoError(t, err)
	require.NoError(t, worker.HandleRedemptionCreated(context.Background(), red))

	require.Len(t, got, 2)
	require.Equal(t, EventLevelUp, got[0].Type)
	require.Equal(t, EventRedemptionCreated, got[1].Type)
}

func TestTaskSkipsRetryOnBadPayload(t *testing.T) {
	worker := NewTask(Nop())

	err := worker.HandleLevelUp(context.Background(), asynq.NewTask(taskname.LoyaltyNotifyLevelUp, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	red, err := EncodeTask(redemptionEvent())
	require.NoError(t, err)
	err = worker.HandleLevelUp(context.Background(), red)
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestBuildSinks(t *testing.T) {
	cfg := config.Default()
	lc := fxtest.NewLifecycle(t)

	cfg.Loyalty.NotificationSinks = []string{"log"}
	s, err := NewSink(SinkParams{Lifecycle: lc, Config: cfg})
	require.NoError(t, err)
	require.NotNil(t, s)

	cfg.Loyalty.NotificationSinks = []string{"asynq"}
	_, err = NewSink(SinkParams{Lifecycle: lc, Config: cfg})
	require.Error(t, err)

	s, err = NewDownstreamSink(SinkParams{Lifecycle: lc, Config: cfg})
	require.NoError(t, err)
	require.NotNil(t, s)

	cfg.Loyalty.NotificationSinks = []string{"pigeon"}
	_, err = NewSink(SinkParams{Lifecycle: lc, Config: cfg})
	require.Error(t, err)

	cfg.Loyalty.NotificationSinks = nil
	s, err = NewSink(SinkParams{Lifecycle: lc, Config: cfg})
	require.NoError(t, err)
	require.Equal(t, Nop(), s)
}
