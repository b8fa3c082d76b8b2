package loyalty

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"met-loyalty/pkg/config"
	"met-loyalty/pkg/errutil"
)

func storedAccount(version int64) func(context.Context, string) (*Account, error) {
	return func(_ context.Context, userID string) (*Account, error) {
		acc := newAccount(userID, "bronce", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
		acc.Version = version
		return acc, nil
	}
}

func TestVersionConflictIsRetried(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := NewMockRepository(ctrl)
	e := newTestEngine(t, withRepository(repo))

	gomock.InOrder(
		repo.EXPECT().Load(gomock.Any(), "u1").DoAndReturn(storedAccount(1)),
		repo.EXPECT().Save(gomock.Any(), gomock.Any()).Return(ErrVersionConflict),
		repo.EXPECT().Load(gomock.Any(), "u1").DoAndReturn(storedAccount(2)),
		repo.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, acc *Account) error {
			require.Equal(t, int64(2), acc.Version)
			require.Len(t, acc.Transactions, 1)
			acc.Version++
			return nil
		}),
	)

	res, err := e.AddPoints(context.Background(), "u1", AddPointsParams{Amount: 10})
	require.NoError(t, err)
	require.Equal(t, int64(10), res.NewBalance)
}

func TestVersionConflictRetriesAreBounded(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := NewMockRepository(ctrl)
	e := newTestEngine(t, withRepository(repo), withLoyalty(func(l *config.Loyalty) { l.MaxConflictRetries = 2 }))

	repo.EXPECT().Load(gomock.Any(), "u1").DoAndReturn(storedAccount(1)).Times(3)
	repo.EXPECT().Save(gomock.Any(), gomock.Any()).Return(ErrVersionConflict).Times(3)

	_, err := e.AddPoints(context.Background(), "u1", AddPointsParams{Amount: 10})
	require.ErrorIs(t, err, ErrConcurrentUpdate)
	require.ErrorIs(t, err, ErrVersionConflict)

	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.True(t, be.Retryable)
	require.Empty(t, e.sink.events)
}

func TestRepositoryTimeoutIsStorageUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := NewMockRepository(ctrl)
	e := newTestEngine(t, withRepository(repo), withLoyalty(func(l *config.Loyalty) {
		l.RepositoryTimeout = 20 * time.Millisecond
	}))

	repo.EXPECT().Load(gomock.Any(), "u1").DoAndReturn(func(ctx context.Context, _ string) (*Account, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	start := time.Now()
	_, err := e.GetLevelStatus(context.Background(), "u1")
	require.ErrorIs(t, err, ErrStorageUnavailable)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestSaveFailureIsStorageUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := NewMockRepository(ctrl)
	e := newTestEngine(t, withRepository(repo))

	repo.EXPECT().Load(gomock.Any(), "u1").Return(nil, nil)
	repo.EXPECT().Save(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))

	_, err := e.AddPoints(context.Background(), "u1", AddPointsParams{Amount: 400})
	require.ErrorIs(t, err, ErrStorageUnavailable)
	require.False(t, IsBusinessError(err))
	require.Empty(t, e.sink.events)
}

func TestCodeLookupFailureIsStorageUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := NewMockRepository(ctrl)
	e := newTestEngine(t, withRepository(repo))

	repo.EXPECT().FindUserByCode(gomock.Any(), "MET-AAAA-BBBB-CCCC").Return("", errors.New("connection reset"))

	_, err := e.CanApplyRedemption(context.Background(), "met-aaaa-bbbb-cccc", nil)
	require.ErrorIs(t, err, ErrStorageUnavailable)

	repo.EXPECT().FindUserByCode(gomock.Any(), "MET-AAAA-BBBB-CCCC").Return("", errors.New("connection reset"))

	used, err := e.UseRedemption(context.Background(), "MET-AAAA-BBBB-CCCC")
	require.ErrorIs(t, err, ErrStorageUnavailable)
	require.False(t, used)
}
