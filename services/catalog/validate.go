package catalog

import (
	"fmt"

	"github.com/gosimple/slug"

	"met-loyalty/pkg/celengine"
	"met-loyalty/pkg/errutil"
)

// Validate checks that tiers are contiguous from zero with exactly one
// unbounded tier at the top and that rewards are well formed.
func Validate(doc Document) error {
	var details []errutil.Detail
	add := func(field, format string, args ...any) {
		details = append(details, errutil.Detail{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if len(doc.Tiers) == 0 {
		add("tiers", "at least one tier is required")
	}

	keys := make(map[string]struct{}, len(doc.Tiers))
	unbounded := 0
	for i, t := range doc.Tiers {
		field := fmt.Sprintf("tiers[%d]", i)
		if t.Key == "" {
			add(field+".key", "key is required")
		}
		if _, dup := keys[t.Key]; dup {
			add(field+".key", "duplicate tier key %q", t.Key)
		}
		keys[t.Key] = struct{}{}

		if t.DiscountPercentage < 0 || t.DiscountPercentage > 100 {
			add(field+".discount_percentage", "must be between 0 and 100")
		}

		if i == 0 && t.MinPoints != 0 {
			add(field+".min_points", "lowest tier must start at 0")
		}

		if t.MaxPoints == nil {
			unbounded++
			if i != len(doc.Tiers)-1 {
				add(field+".max_points", "only the last tier may be unbounded")
			}
		} else if *t.MaxPoints < t.MinPoints {
			add(field+".max_points", "max_points %d below min_points %d", *t.MaxPoints, t.MinPoints)
		}

		if i > 0 {
			prev := doc.Tiers[i-1]
			if prev.MaxPoints != nil && t.MinPoints != *prev.MaxPoints+1 {
				add(field+".min_points", "expected %d to follow tier %q", *prev.MaxPoints+1, prev.Key)
			}
		}
	}
	if len(doc.Tiers) > 0 && unbounded != 1 {
		add("tiers", "exactly one unbounded top tier is required, found %d", unbounded)
	}

	ids := make(map[string]struct{}, len(doc.Rewards))
	for i, r := range doc.Rewards {
		field := fmt.Sprintf("rewards[%d]", i)
		if !slug.IsSlug(r.ID) {
			add(field+".id", "id %q must be a lowercase slug", r.ID)
		}
		if _, dup := ids[r.ID]; dup {
			add(field+".id", "duplicate reward id %q", r.ID)
		}
		ids[r.ID] = struct{}{}

		if r.PointsCost < 0 {
			add(field+".points_cost", "must not be negative")
		}
		if r.Category.String() == "" {
			add(field+".category", "unknown category %q", r.Category)
		}
		if r.Condition != "" {
			if err := celengine.ValidateExpression(r.Condition); err != nil {
				add(field+".condition", "%v", err)
			}
		}
	}

	if len(details) > 0 {
		return errutil.ValidationFailed("invalid catalog", nil,
			errutil.WithReason("INVALID_CATALOG"),
			errutil.WithDetails(details...))
	}
	return nil
}
