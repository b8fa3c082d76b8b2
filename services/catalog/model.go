package catalog

import (
	"fmt"
	"time"

	"met-loyalty/pkg/celengine"
)

type RewardCategory string

const (
	CategoryDiscount   RewardCategory = "discount"
	CategoryFreeCourse RewardCategory = "free-course"
	CategoryService    RewardCategory = "service"
	CategoryEvent      RewardCategory = "event"
	CategoryPhysical   RewardCategory = "physical"
)

func (c RewardCategory) String() string {
	switch c {
	case CategoryDiscount, CategoryFreeCourse, CategoryService, CategoryEvent, CategoryPhysical:
		return string(c)
	default:
		return ""
	}
}

// ExpirationDays is how long a redemption code for this category stays valid.
func (c RewardCategory) ExpirationDays() int {
	switch c {
	case CategoryDiscount:
		return 30
	case CategoryFreeCourse:
		return 90
	case CategoryService:
		return 60
	case CategoryEvent:
		return 180
	default:
		return 365
	}
}

type Tier struct {
	Key                string   `mapstructure:"key" json:"key"`
	Name               string   `mapstructure:"name" json:"name"`
	MinPoints          int64    `mapstructure:"min_points" json:"min_points"`
	MaxPoints          *int64   `mapstructure:"max_points" json:"max_points,omitempty"`
	DiscountPercentage float64  `mapstructure:"discount_percentage" json:"discount_percentage"`
	Benefits           []string `mapstructure:"benefits" json:"benefits"`
}

// Unbounded reports whether the tier has no upper limit.
func (t Tier) Unbounded() bool {
	return t.MaxPoints == nil
}

// Contains reports whether points falls within [MinPoints, MaxPoints].
func (t Tier) Contains(points int64) bool {
	if points < t.MinPoints {
		return false
	}
	return t.MaxPoints == nil || points <= *t.MaxPoints
}

type Reward struct {
	ID          string         `mapstructure:"id" json:"id"`
	Name        string         `mapstructure:"name" json:"name"`
	Description string         `mapstructure:"description" json:"description,omitempty"`
	PointsCost  int64          `mapstructure:"points_cost" json:"points_cost"`
	Category    RewardCategory `mapstructure:"category" json:"category"`
	Value       map[string]any `mapstructure:"value" json:"value,omitempty"`
	// Condition is an optional CEL expression over `context` and `reward`
	// that must hold for a redemption code to be applied.
	Condition string `mapstructure:"condition" json:"condition,omitempty"`
}

func (r Reward) ExpirationDays() int {
	return r.Category.ExpirationDays()
}

// ExpiresAt returns the expiry instant of a code redeemed at redeemedAt.
func (r Reward) ExpiresAt(redeemedAt time.Time) time.Time {
	return redeemedAt.AddDate(0, 0, r.ExpirationDays())
}

// Document is the persisted/configured shape of a catalog.
type Document struct {
	Tiers   []Tier   `mapstructure:"tiers" json:"tiers"`
	Rewards []Reward `mapstructure:"rewards" json:"rewards"`
}

// Catalog is an immutable, validated tier and reward table.
type Catalog struct {
	tiers      []Tier
	rewards    []Reward
	rewardByID map[string]int
	conditions map[string]*celengine.Program
}

// New validates doc and indexes it.
func New(doc Document) (*Catalog, error) {
	if err := Validate(doc); err != nil {
		return nil, err
	}

	c := &Catalog{
		tiers:      append([]Tier(nil), doc.Tiers...),
		rewards:    append([]Reward(nil), doc.Rewards...),
		rewardByID: make(map[string]int, len(doc.Rewards)),
		conditions: make(map[string]*celengine.Program),
	}
	for i, r := range c.rewards {
		c.rewardByID[r.ID] = i
		if r.Condition == "" {
			continue
		}
		prg, err := celengine.Compile(r.Condition)
		if err != nil {
			return nil, fmt.Errorf("reward %s: %w", r.ID, err)
		}
		c.conditions[r.ID] = prg
	}

	return c, nil
}

func (c *Catalog) Document() Document {
	return Document{
		Tiers:   append([]Tier(nil), c.tiers...),
		Rewards: append([]Reward(nil), c.rewards...),
	}
}

func (c *Catalog) Tiers() []Tier {
	return append([]Tier(nil), c.tiers...)
}

func (c *Catalog) Rewards() []Reward {
	return append([]Reward(nil), c.rewards...)
}

func (c *Catalog) Lowest() Tier {
	return c.tiers[0]
}

// LevelFor returns the first tier containing points, falling back to the
// lowest tier.
func (c *Catalog) LevelFor(points int64) Tier {
	for _, t := range c.tiers {
		if t.Contains(points) {
			return t
		}
	}
	return c.Lowest()
}

func (c *Catalog) Tier(key string) (Tier, bool) {
	for _, t := range c.tiers {
		if t.Key == key {
			return t, true
		}
	}
	return Tier{}, false
}

// Next returns the tier following key, or false at the top.
func (c *Catalog) Next(key string) (Tier, bool) {
	for i, t := range c.tiers {
		if t.Key == key && i+1 < len(c.tiers) {
			return c.tiers[i+1], true
		}
	}
	return Tier{}, false
}

func (c *Catalog) Reward(id string) (Reward, bool) {
	i, ok := c.rewardByID[id]
	if !ok {
		return Reward{}, false
	}
	return c.rewards[i], true
}

// Applicable evaluates the reward condition against the caller's apply
// context. Rewards without a condition always apply.
func (c *Catalog) Applicable(r Reward, applyCtx map[string]any) (bool, error) {
	prg, ok := c.conditions[r.ID]
	if !ok {
		return true, nil
	}
	if applyCtx == nil {
		applyCtx = map[string]any{}
	}
	return prg.Evaluate(map[string]any{
		celengine.VarContext: applyCtx,
		celengine.VarReward:  celengine.StructToMap(r),
	})
}
