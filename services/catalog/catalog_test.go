package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"met-loyalty/pkg/config"
	"met-loyalty/pkg/errutil"
	"met-loyalty/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func ptr(v int64) *int64 { return &v }

func TestDefaultCatalogLevels(t *testing.T) {
	c := Default()

	cases := []struct {
		points int64
		want   string
	}{
		{0, "bronce"},
		{299, "bronce"},
		{300, "plata"},
		{599, "plata"},
		{600, "oro"},
		{999, "oro"},
		{1000, "platino"},
		{250000, "platino"},
		{-50, "bronce"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, c.LevelFor(tc.points).Key, "points=%d", tc.points)
	}
}

func TestNextTier(t *testing.T) {
	c := Default()

	next, ok := c.Next("plata")
	require.True(t, ok)
	require.Equal(t, "oro", next.Key)

	_, ok = c.Next("platino")
	require.False(t, ok)

	_, ok = c.Next("unknown")
	require.False(t, ok)
}

func TestRewardExpirationDays(t *testing.T) {
	c := Default()

	want := map[string]int{
		"discount-10":       30,
		"free-course":       90,
		"mentoring-session": 60,
		"webinar-pass":      180,
		"merch-kit":         365,
	}
	for id, days := range want {
		r, ok := c.Reward(id)
		require.True(t, ok, id)
		require.Equal(t, days, r.ExpirationDays(), id)
	}

	r, _ := c.Reward("discount-10")
	redeemed := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	require.Equal(t, redeemed.AddDate(0, 0, 30), r.ExpiresAt(redeemed))
}

func TestApplicableCondition(t *testing.T) {
	c := Default()

	r, ok := c.Reward("discount-20")
	require.True(t, ok)

	applies, err := c.Applicable(r, map[string]any{"price": 80.0})
	require.NoError(t, err)
	require.True(t, applies)

	applies, err = c.Applicable(r, map[string]any{"price": 20})
	require.NoError(t, err)
	require.False(t, applies)

	applies, err = c.Applicable(r, nil)
	require.NoError(t, err)
	require.False(t, applies)

	plain, _ := c.Reward("discount-10")
	applies, err = c.Applicable(plain, nil)
	require.NoError(t, err)
	require.True(t, applies)
}

func TestValidateRejectsBrokenCatalogs(t *testing.T) {
	valid := DefaultDocument()
	require.NoError(t, Validate(valid))

	cases := map[string]func(d *Document){
		"no tiers": func(d *Document) { d.Tiers = nil },
		"gap between tiers": func(d *Document) {
			d.Tiers[1].MinPoints = 310
		},
		"lowest not zero": func(d *Document) { d.Tiers[0].MinPoints = 10 },
		"two unbounded": func(d *Document) {
			d.Tiers[2].MaxPoints = nil
		},
		"no unbounded": func(d *Document) {
			d.Tiers[3].MaxPoints = ptr(5000)
		},
		"duplicate tier key": func(d *Document) { d.Tiers[1].Key = "bronce" },
		"discount out of range": func(d *Document) {
			d.Tiers[0].DiscountPercentage = 120
		},
		"negative cost": func(d *Document) { d.Rewards[0].PointsCost = -1 },
		"bad reward id": func(d *Document) { d.Rewards[0].ID = "Discount 10" },
		"duplicate reward": func(d *Document) {
			d.Rewards[1].ID = d.Rewards[0].ID
		},
		"unknown category": func(d *Document) { d.Rewards[0].Category = "gift" },
		"bad condition":    func(d *Document) { d.Rewards[0].Condition = "context.price >" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			doc := DefaultDocument()
			mutate(&doc)

			err := Validate(doc)
			require.Error(t, err)

			var be errutil.BaseError
			require.True(t, errors.As(err, &be))
			require.Equal(t, "INVALID_CATALOG", be.Reason)
			require.NotEmpty(t, be.Details)

			_, err = New(doc)
			require.Error(t, err)
		})
	}
}

const fileCatalog = `
tiers:
  - key: starter
    name: Starter
    min_points: 0
    max_points: 99
    discount_percentage: 0
  - key: pro
    name: Pro
    min_points: 100
    discount_percentage: 7.5
    benefits: ["priority support"]
rewards:
  - id: sticker-pack
    name: Sticker pack
    points_cost: 50
    category: physical
`

func TestFileSourceLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fileCatalog), 0o600))

	c, err := NewFileSource(path).Load(context.Background())
	require.NoError(t, err)

	require.Len(t, c.Tiers(), 2)
	require.Equal(t, "pro", c.LevelFor(150).Key)
	require.True(t, c.LevelFor(150).Unbounded())
	require.Equal(t, 7.5, c.LevelFor(150).DiscountPercentage)

	r, ok := c.Reward("sticker-pack")
	require.True(t, ok)
	require.Equal(t, int64(50), r.PointsCost)
	require.Equal(t, 365, r.ExpirationDays())
}

func TestFileSourceMissingFile(t *testing.T) {
	_, err := NewFileSource(filepath.Join(t.TempDir(), "missing.yaml")).Load(context.Background())
	require.Error(t, err)
}

func TestGormSourceSeedsAndReloads(t *testing.T) {
	db := testutil.NewTestDB(t, &CatalogRecord{})
	src := NewGormSource(db, DefaultDocument())
	ctx := context.Background()

	c, err := src.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "platino", c.LevelFor(1200).Key)

	var count int64
	require.NoError(t, db.Model(&CatalogRecord{}).Count(&count).Error)
	require.Equal(t, int64(1), count)

	doc := DefaultDocument()
	doc.Rewards = doc.Rewards[:1]
	require.NoError(t, src.Save(ctx, doc))

	c, err = src.Load(ctx)
	require.NoError(t, err)
	require.Len(t, c.Rewards(), 1)

	broken := DefaultDocument()
	broken.Tiers = nil
	require.Error(t, src.Save(ctx, broken))
}

func TestStoreKeepsPreviousCatalogOnBadReload(t *testing.T) {
	s := NewFixedStore(Default())
	before := s.Current()

	s.swap(nil, errors.New("boom"))
	require.Same(t, before, s.Current())

	next, err := New(DefaultDocument())
	require.NoError(t, err)
	s.swap(next, nil)
	require.Same(t, next, s.Current())

	require.NoError(t, s.Reload(context.Background()))
	require.NotSame(t, next, s.Current())
}

func TestNewSourceSelectsBackend(t *testing.T) {
	cfg := config.Default()

	src, err := NewSource(SourceParams{Config: cfg})
	require.NoError(t, err)
	_, ok := src.(*staticSource)
	require.True(t, ok)

	cfg.Loyalty.CatalogSource = "file"
	_, err = NewSource(SourceParams{Config: cfg})
	require.Error(t, err)

	cfg.Loyalty.CatalogPath = "catalog.yaml"
	src, err = NewSource(SourceParams{Config: cfg})
	require.NoError(t, err)
	_, ok = src.(Watcher)
	require.True(t, ok)

	cfg.Loyalty.CatalogSource = "database"
	_, err = NewSource(SourceParams{Config: cfg})
	require.Error(t, err)

	src, err = NewSource(SourceParams{Config: cfg, DB: testutil.NewTestDB(t)})
	require.NoError(t, err)
	_, ok = src.(*GormSource)
	require.True(t, ok)

	cfg.Loyalty.CatalogSource = "s3"
	_, err = NewSource(SourceParams{Config: cfg})
	require.Error(t, err)
}

func TestRewardCategoryNames(t *testing.T) {
	// categories are constants and usable in constant expressions
	const free = CategoryFreeCourse

	cases := map[RewardCategory]string{
		CategoryDiscount: "discount",
		free:             "free-course",
		CategoryService:  "service",
		CategoryEvent:    "event",
		CategoryPhysical: "physical",
		"gift":           "",
	}
	for c, want := range cases {
		require.Equal(t, want, c.String(), string(c))
	}
}
