package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"met-loyalty/pkg/taskname"
)

// Task delivers queued notification events to the downstream sink.
type Task struct {
	downstream Sink
}

func NewTask(downstream Sink) *Task {
	return &Task{downstream: downstream}
}

// Register binds the notification handlers on mux.
func (t *Task) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(taskname.LoyaltyNotifyLevelUp, t.HandleLevelUp)
	mux.HandleFunc(taskname.LoyaltyNotifyRedemptionCreated, t.HandleRedemptionCreated)
}

func (t *Task) HandleLevelUp(ctx context.Context, task *asynq.Task) error {
	e, err := decode(task, EventLevelUp)
	if err != nil {
		return err
	}
	if e.LevelUp == nil {
		return fmt.Errorf("%w: level_up payload missing", asynq.SkipRetry)
	}
	return t.deliver(ctx, task, e)
}

func (t *Task) HandleRedemptionCreated(ctx context.Context, task *asynq.Task) error {
	e, err := decode(task, EventRedemptionCreated)
	if err != nil {
		return err
	}
	if e.RedemptionCreated == nil {
		return fmt.Errorf("%w: redemption_created payload missing", asynq.SkipRetry)
	}
	return t.deliver(ctx, task, e)
}

func (t *Task) deliver(ctx context.Context, task *asynq.Task, e Event) error {
	log := zap.L().With(
		zap.String("task_type", task.Type()),
		zap.String("user_id", e.UserID),
	)

	if err := t.downstream.Publish(ctx, e); err != nil {
		log.Error("failed to deliver notification", zap.Error(err))
		return err
	}

	log.Info("notification delivered")
	return nil
}

func decode(task *asynq.Task, want EventType) (Event, error) {
	var e Event
	if err := json.Unmarshal(task.Payload(), &e); err != nil {
		return Event{}, fmt.Errorf("%w: invalid payload: %v", asynq.SkipRetry, err)
	}
	if e.Type != want {
		return Event{}, fmt.Errorf("%w: expected %s event, got %q", asynq.SkipRetry, want, e.Type)
	}
	return e, nil
}
