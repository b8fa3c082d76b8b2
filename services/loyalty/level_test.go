package loyalty

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"met-loyalty/services/catalog"
	"met-loyalty/services/notification"
)

func TestLevelStatus(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name     string
		points   int64
		level    string
		progress float64
		toNext   *int64
	}{
		{"new account", 0, "bronce", 0, ptr(300)},
		{"mid plata", 450, "plata", 50.17, ptr(150)},
		{"top of oro", 999, "oro", 100, ptr(1)},
		{"platino", 1200, "platino", 100, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEngine(t)
			if tc.points > 0 {
				_, err := e.AddPoints(ctx, "u1", AddPointsParams{Amount: tc.points})
				require.NoError(t, err)
			}

			status, err := e.GetLevelStatus(ctx, "u1")
			require.NoError(t, err)
			require.Equal(t, tc.level, status.Level.Key)
			require.InDelta(t, tc.progress, status.Progress, 0.001)
			require.Equal(t, tc.toNext, status.PointsToNext)
			require.Equal(t, tc.points, status.LifetimePoints)
			if tc.toNext == nil {
				require.Nil(t, status.NextLevel)
			}

			progress, err := e.GetLevelProgress(ctx, "u1")
			require.NoError(t, err)
			require.Equal(t, status.Progress, progress)

			toNext, err := e.GetPointsToNextLevel(ctx, "u1")
			require.NoError(t, err)
			require.Equal(t, tc.toNext, toNext)
		})
	}
}

func TestRedemptionsDoNotLowerLevel(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.AddPoints(ctx, "u1", AddPointsParams{Amount: 650})
	require.NoError(t, err)
	_, err = e.RedeemReward(ctx, "u1", "discount-10")
	require.NoError(t, err)

	status, err := e.GetLevelStatus(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "oro", status.Level.Key)
	require.Equal(t, int64(650), status.LifetimePoints)
}

func TestApplyLevelDiscount(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	d, err := e.ApplyLevelDiscount(ctx, "u1", 80)
	require.NoError(t, err)
	require.Equal(t, &Discount{OriginalPrice: 80, Discount: 0, FinalPrice: 80, DiscountPercentage: 0}, d)

	_, err = e.AddPoints(ctx, "u1", AddPointsParams{Amount: 300})
	require.NoError(t, err)

	d, err = e.ApplyLevelDiscount(ctx, "u1", 80)
	require.NoError(t, err)
	require.Equal(t, 4.0, d.Discount)
	require.Equal(t, 76.0, d.FinalPrice)
	require.Equal(t, 5.0, d.DiscountPercentage)

	acc, err := e.GetAccount(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, acc.Transactions, 1)
}

func TestLevelDiscountRounding(t *testing.T) {
	oro, ok := catalog.Default().Tier("oro")
	require.True(t, ok)

	d := levelDiscount(oro, 19.99)
	require.Equal(t, 2.0, d.Discount)
	require.Equal(t, 17.99, d.FinalPrice)
}

func ptr(v int64) *int64 { return &v }

// switchableSource serves whichever document was set last.
type switchableSource struct {
	mu  sync.Mutex
	doc catalog.Document
}

func (s *switchableSource) Load(context.Context) (*catalog.Catalog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return catalog.New(s.doc)
}

func (s *switchableSource) set(doc catalog.Document) {
	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
}

func TestLevelChangeAfterCatalogReload(t *testing.T) {
	ctx := context.Background()
	src := &switchableSource{doc: catalog.DefaultDocument()}
	store, err := catalog.Load(ctx, src)
	require.NoError(t, err)
	e := newTestEngine(t, func(p *EngineParams) { p.Catalog = store })

	res, err := e.AddPoints(ctx, "u1", AddPointsParams{Amount: 350})
	require.NoError(t, err)
	require.True(t, res.LevelChanged)
	require.Equal(t, "plata", res.NewLevel.Key)

	doc := catalog.DefaultDocument()
	doc.Tiers = []catalog.Tier{
		{Key: "bronce", Name: "Bronce", MinPoints: 0, MaxPoints: ptr(499)},
		{Key: "plata", Name: "Plata", MinPoints: 500, DiscountPercentage: 5},
	}
	src.set(doc)
	require.NoError(t, store.Reload(ctx))

	// the stored plata level is stale; bronce is what the account already had
	// under the new tiers, so nothing changed
	res, err = e.AddPoints(ctx, "u1", AddPointsParams{Amount: 10})
	require.NoError(t, err)
	require.False(t, res.LevelChanged)
	require.Equal(t, "bronce", res.PreviousLevel.Key)
	require.Equal(t, "bronce", res.NewLevel.Key)
	require.Len(t, e.sink.Events(notification.EventLevelUp), 1)

	acc := requireConsistent(t, e, "u1")
	require.Equal(t, "bronce", acc.CurrentLevel)

	res, err = e.AddPoints(ctx, "u1", AddPointsParams{Amount: 200})
	require.NoError(t, err)
	require.True(t, res.LevelChanged)
	require.Equal(t, "bronce", res.PreviousLevel.Key)
	require.Equal(t, "plata", res.NewLevel.Key)

	events := e.sink.Events(notification.EventLevelUp)
	require.Len(t, events, 2)
	require.Equal(t, "bronce", events[1].LevelUp.OldLevel.Key)
	require.Equal(t, "plata", events[1].LevelUp.NewLevel.Key)
}
