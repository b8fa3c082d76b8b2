package loyalty

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"met-loyalty/pkg/errutil"
	"met-loyalty/services/catalog"
	"met-loyalty/services/notification"
)

// codeAttempts bounds how many generated codes are tried before giving up
// on a collision streak.
const codeAttempts = 5

type RedeemResult struct {
	Redemption  Redemption  `json:"redemption"`
	Transaction Transaction `json:"transaction"`
	NewBalance  int64       `json:"new_balance"`
}

// ApplyCheck is the outcome of CanApplyRedemption. Reason is nil when Valid.
type ApplyCheck struct {
	Valid      bool        `json:"valid"`
	Reason     error       `json:"-"`
	Redemption *Redemption `json:"redemption,omitempty"`
}

// RedeemReward exchanges points for a reward and issues a single-use code.
func (e *Engine) RedeemReward(ctx context.Context, userID, rewardID string) (res *RedeemResult, err error) {
	ctx, done := e.observe(ctx, "redeem_reward", userID)
	defer done(&err)

	var (
		reward catalog.Reward
		txRes  *Result
	)
	_, err = e.mutate(ctx, userID, func(acc *Account, cat *catalog.Catalog, now time.Time) error {
		r, ok := cat.Reward(rewardID)
		if !ok {
			return ErrRewardNotFound
		}
		if acc.AvailablePoints < r.PointsCost {
			return ErrInsufficientPoints
		}

		code, err := e.newCode(ctx, acc)
		if err != nil {
			return err
		}

		tr, err := e.applyTransaction(acc, cat, AddPointsParams{
			Amount:      -r.PointsCost,
			Kind:        KindRedeemed,
			Category:    CategoryRedemption,
			Description: fmt.Sprintf("Redeemed %s", r.Name),
			Metadata: map[string]string{
				MetadataRewardID: r.ID,
				MetadataCode:     code,
			},
		}, now)
		if err != nil {
			return err
		}

		red := Redemption{
			ID:            e.ids.NewID(),
			RewardID:      r.ID,
			RewardName:    r.Name,
			Code:          code,
			PointsCost:    r.PointsCost,
			RedeemedAt:    now,
			ExpiresAt:     r.ExpiresAt(now),
			Status:        StatusActive,
			TransactionID: tr.Transaction.ID,
		}
		acc.Redemptions = slices.Insert(acc.Redemptions, 0, red)

		reward, txRes = r, tr
		res = &RedeemResult{Redemption: red, Transaction: tr.Transaction, NewBalance: acc.AvailablePoints}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.afterTransaction(ctx, userID, txRes)
	logger(ctx).Info("reward redeemed",
		zap.String("user_id", userID),
		zap.String("reward_id", reward.ID),
		zap.String("redemption_id", res.Redemption.ID),
		zap.Time("expires_at", res.Redemption.ExpiresAt))
	e.publish(ctx, notification.NewRedemptionCreated(userID, reward, notification.Redemption{
		ID:         res.Redemption.ID,
		Code:       res.Redemption.Code,
		RewardID:   res.Redemption.RewardID,
		PointsCost: res.Redemption.PointsCost,
		RedeemedAt: res.Redemption.RedeemedAt,
		ExpiresAt:  res.Redemption.ExpiresAt,
	}, res.Redemption.RedeemedAt))

	return res, nil
}

// CanApplyRedemption reports whether code could be applied now against
// applyCtx, the caller's description of what the code is applied to (for
// example {"price": 80}). Business reasons are returned in ApplyCheck; the
// error is reserved for storage failures.
func (e *Engine) CanApplyRedemption(ctx context.Context, code string, applyCtx map[string]any) (check *ApplyCheck, err error) {
	code = normalizeCode(code)
	ctx, done := e.observe(ctx, "can_apply_redemption", "")
	defer done(&err)

	userID, err := e.ownerOf(ctx, code)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		return &ApplyCheck{Reason: ErrCodeNotFound}, nil
	}

	acc, cat, err := e.snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := e.clock()
	i, reason := redemptionGuard(acc, code, now)
	if i < 0 {
		return &ApplyCheck{Reason: reason}, nil
	}

	red := acc.Redemptions[i]
	red.Status = red.StatusAt(now)
	if reason == nil {
		reason = applicable(cat, red, applyCtx)
	}

	return &ApplyCheck{Valid: reason == nil, Reason: reason, Redemption: &red}, nil
}

// UseRedemption marks an active, unexpired code as used. It returns false for
// unknown, used or expired codes, so a second call on the same code is false.
func (e *Engine) UseRedemption(ctx context.Context, code string) (used bool, err error) {
	code = normalizeCode(code)
	ctx, done := e.observe(ctx, "use_redemption", "")
	defer done(&err)

	userID, err := e.ownerOf(ctx, code)
	if err != nil || userID == "" {
		return false, err
	}

	_, err = e.mutate(ctx, userID, func(acc *Account, _ *catalog.Catalog, now time.Time) error {
		i, err := redemptionGuard(acc, code, now)
		if err != nil {
			return err
		}
		usedAt := now
		acc.Redemptions[i].Status = StatusUsed
		acc.Redemptions[i].UsedAt = &usedAt
		return nil
	})
	if err != nil {
		if IsBusinessError(err) {
			logger(ctx).Debug("redemption not used", zap.String("user_id", userID), zap.String("reason", reasonOf(err)))
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListRedemptions returns the account's redemptions, newest first, with the
// status evaluated at the current time.
func (e *Engine) ListRedemptions(ctx context.Context, userID string) (reds []Redemption, err error) {
	ctx, done := e.observe(ctx, "list_redemptions", userID)
	defer done(&err)

	acc, _, err := e.snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := e.clock()
	reds = make([]Redemption, len(acc.Redemptions))
	for i, r := range acc.Redemptions {
		r.Status = r.StatusAt(now)
		reds[i] = r
	}
	return reds, nil
}

// redemptionGuard is the single expiry-aware check for every operation on a
// code. The index is -1 when the code does not belong to acc.
func redemptionGuard(acc *Account, code string, now time.Time) (int, error) {
	i := acc.redemptionIndex(code)
	if i < 0 {
		return -1, ErrCodeNotFound
	}
	switch acc.Redemptions[i].StatusAt(now) {
	case StatusUsed:
		return i, ErrCodeUsed
	case StatusExpired:
		return i, ErrCodeExpired
	}
	return i, nil
}

// applicable evaluates the reward condition. A reward removed from the
// catalog since redemption keeps its code usable.
func applicable(cat *catalog.Catalog, red Redemption, applyCtx map[string]any) error {
	r, ok := cat.Reward(red.RewardID)
	if !ok {
		return nil
	}
	ok, err := cat.Applicable(r, applyCtx)
	if err != nil {
		return errutil.Wrap(ErrCodeNotApplicable, err)
	}
	if !ok {
		return ErrCodeNotApplicable
	}
	return nil
}

func (e *Engine) newCode(ctx context.Context, acc *Account) (string, error) {
	for range codeAttempts {
		code, err := e.codes.NextRedemptionCode(ctx)
		if err != nil {
			return "", errutil.Internal("generate redemption code", err)
		}
		if acc.redemptionIndex(code) >= 0 {
			continue
		}
		owner, err := e.ownerOf(ctx, code)
		if err != nil {
			return "", err
		}
		if owner == "" {
			return code, nil
		}
	}
	return "", ErrCodeSpaceExhausted
}

func (e *Engine) ownerOf(ctx context.Context, code string) (string, error) {
	if code == "" {
		return "", nil
	}
	ctx, cancel := e.repoContext(ctx)
	defer cancel()

	userID, err := e.repo.FindUserByCode(ctx, code)
	if err != nil {
		return "", storageError(err)
	}
	return userID, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
