package notification

import (
	"context"
	"time"

	"met-loyalty/services/catalog"
)

type EventType string

const (
	EventLevelUp           EventType = "level_up"
	EventRedemptionCreated EventType = "redemption_created"
)

// Event is emitted by the ledger after a mutation has been persisted.
type Event struct {
	Type       EventType `json:"type"`
	UserID     string    `json:"user_id"`
	OccurredAt time.Time `json:"occurred_at"`

	LevelUp           *LevelUp           `json:"level_up,omitempty"`
	RedemptionCreated *RedemptionCreated `json:"redemption_created,omitempty"`
}

type LevelUp struct {
	OldLevel catalog.Tier `json:"old_level"`
	NewLevel catalog.Tier `json:"new_level"`
}

type RedemptionCreated struct {
	Reward     catalog.Reward `json:"reward"`
	Redemption Redemption     `json:"redemption"`
}

// Redemption is the part of a redemption record exposed to notification
// consumers.
type Redemption struct {
	ID         string    `json:"id"`
	Code       string    `json:"code"`
	RewardID   string    `json:"reward_id"`
	PointsCost int64     `json:"points_cost"`
	RedeemedAt time.Time `json:"redeemed_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func NewLevelUp(userID string, oldLevel, newLevel catalog.Tier, at time.Time) Event {
	return Event{
		Type:       EventLevelUp,
		UserID:     userID,
		OccurredAt: at,
		LevelUp:    &LevelUp{OldLevel: oldLevel, NewLevel: newLevel},
	}
}

func NewRedemptionCreated(userID string, reward catalog.Reward, r Redemption, at time.Time) Event {
	return Event{
		Type:              EventRedemptionCreated,
		UserID:            userID,
		OccurredAt:        at,
		RedemptionCreated: &RedemptionCreated{Reward: reward, Redemption: r},
	}
}

// Sink receives ledger events. Delivery is fire-and-forget from the ledger's
// point of view: a Publish error is logged and never undoes a mutation.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Publish(ctx context.Context, e Event) error {
	return f(ctx, e)
}
