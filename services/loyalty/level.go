package loyalty

import (
	"context"
	"math"

	"met-loyalty/services/catalog"
)

type LevelStatus struct {
	Level          catalog.Tier  `json:"level"`
	NextLevel      *catalog.Tier `json:"next_level,omitempty"`
	Progress       float64       `json:"progress"`
	PointsToNext   *int64        `json:"points_to_next,omitempty"`
	LifetimePoints int64         `json:"lifetime_points"`
}

type Discount struct {
	OriginalPrice      float64 `json:"original_price"`
	Discount           float64 `json:"discount"`
	FinalPrice         float64 `json:"final_price"`
	DiscountPercentage float64 `json:"discount_percentage"`
}

func (e *Engine) GetCurrentLevel(ctx context.Context, userID string) (tier catalog.Tier, err error) {
	ctx, done := e.observe(ctx, "get_current_level", userID)
	defer done(&err)

	acc, cat, err := e.snapshot(ctx, userID)
	if err != nil {
		return catalog.Tier{}, err
	}
	return e.levelOf(acc, cat), nil
}

// GetLevelProgress reports how far lifetime points are through the current
// tier, from 0 to 100. The unbounded top tier always reports 100.
func (e *Engine) GetLevelProgress(ctx context.Context, userID string) (progress float64, err error) {
	ctx, done := e.observe(ctx, "get_level_progress", userID)
	defer done(&err)

	acc, cat, err := e.snapshot(ctx, userID)
	if err != nil {
		return 0, err
	}
	return levelProgress(e.levelOf(acc, cat), acc.LifetimePoints), nil
}

// GetPointsToNextLevel returns nil at the top tier.
func (e *Engine) GetPointsToNextLevel(ctx context.Context, userID string) (points *int64, err error) {
	ctx, done := e.observe(ctx, "get_points_to_next_level", userID)
	defer done(&err)

	acc, cat, err := e.snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	points, _ = pointsToNext(cat, e.levelOf(acc, cat), acc.LifetimePoints)
	return points, nil
}

// GetLevelStatus combines level, progress and distance to the next tier from
// a single snapshot.
func (e *Engine) GetLevelStatus(ctx context.Context, userID string) (status *LevelStatus, err error) {
	ctx, done := e.observe(ctx, "get_level_status", userID)
	defer done(&err)

	acc, cat, err := e.snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	level := e.levelOf(acc, cat)
	points, next := pointsToNext(cat, level, acc.LifetimePoints)
	return &LevelStatus{
		Level:          level,
		NextLevel:      next,
		Progress:       levelProgress(level, acc.LifetimePoints),
		PointsToNext:   points,
		LifetimePoints: acc.LifetimePoints,
	}, nil
}

// ApplyLevelDiscount prices price with the account's tier discount. It does
// not touch the account.
func (e *Engine) ApplyLevelDiscount(ctx context.Context, userID string, price float64) (d *Discount, err error) {
	ctx, done := e.observe(ctx, "apply_level_discount", userID)
	defer done(&err)

	if price < 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return nil, withMessage(ErrInvalidArgument, "price must be a non-negative number")
	}

	acc, cat, err := e.snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	return levelDiscount(e.levelOf(acc, cat), price), nil
}

func levelDiscount(t catalog.Tier, price float64) *Discount {
	discount := round2(price * t.DiscountPercentage / 100)
	return &Discount{
		OriginalPrice:      round2(price),
		Discount:           discount,
		FinalPrice:         round2(price - discount),
		DiscountPercentage: t.DiscountPercentage,
	}
}

// levelOf trusts the stored level while it still matches lifetime points
// under the active catalog.
func (e *Engine) levelOf(acc *Account, cat *catalog.Catalog) catalog.Tier {
	if t, ok := cat.Tier(acc.CurrentLevel); ok && t.Contains(acc.LifetimePoints) {
		return t
	}
	return cat.LevelFor(acc.LifetimePoints)
}

func levelProgress(t catalog.Tier, lifetime int64) float64 {
	if t.Unbounded() {
		return 100
	}
	span := *t.MaxPoints - t.MinPoints
	if span <= 0 {
		return 100
	}
	p := float64(lifetime-t.MinPoints) / float64(span) * 100
	return round2(math.Min(100, math.Max(0, p)))
}

func pointsToNext(cat *catalog.Catalog, t catalog.Tier, lifetime int64) (*int64, *catalog.Tier) {
	next, ok := cat.Next(t.Key)
	if !ok {
		return nil, nil
	}
	remaining := max(next.MinPoints-lifetime, 0)
	return &remaining, &next
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
