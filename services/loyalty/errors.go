package loyalty

import (
	"errors"

	"met-loyalty/pkg/errutil"
)

// Business outcomes. Each carries a stable reason so errors.Is matches any
// copy regardless of the attached cause or message.
var (
	ErrRewardNotFound      = errutil.NotFound("reward not found", nil, errutil.WithReason("REWARD_NOT_FOUND"))
	ErrInsufficientPoints  = errutil.UnprocessableEntity("insufficient points", nil, errutil.WithReason("INSUFFICIENT_POINTS"))
	ErrAlreadyCompleted    = errutil.Conflict("course already completed", nil, errutil.WithReason("ALREADY_COMPLETED"))
	ErrAlreadyClaimedToday = errutil.Conflict("daily login points already claimed today", nil, errutil.WithReason("ALREADY_CLAIMED_TODAY"))
	ErrCodeNotFound        = errutil.NotFound("redemption code not found", nil, errutil.WithReason("CODE_NOT_FOUND"))
	ErrCodeUsed            = errutil.Conflict("redemption code already used", nil, errutil.WithReason("CODE_USED"))
	ErrCodeExpired         = errutil.UnprocessableEntity("redemption code expired", nil, errutil.WithReason("CODE_EXPIRED"))
	ErrCodeNotApplicable   = errutil.UnprocessableEntity("redemption code does not apply", nil, errutil.WithReason("CODE_NOT_APPLICABLE"))
	ErrInvalidAmount       = errutil.BadRequest("amount must not be zero", nil, errutil.WithReason("INVALID_AMOUNT"))
	ErrInvalidArgument     = errutil.BadRequest("invalid argument", nil, errutil.WithReason("INVALID_ARGUMENT"))
	ErrStorageUnavailable  = errutil.ServiceUnavailable("storage unavailable", nil, errutil.WithReason("STORAGE_UNAVAILABLE"), errutil.WithRetryable())
	ErrConcurrentUpdate    = errutil.Conflict("account changed concurrently, retry", nil, errutil.WithReason("CONCURRENT_UPDATE"), errutil.WithRetryable())
	ErrCodeSpaceExhausted  = errutil.Internal("could not allocate a unique redemption code", nil, errutil.WithReason("CODE_SPACE_EXHAUSTED"))
)

// ErrVersionConflict is returned by Repository.Save when the stored account
// moved past the version the caller loaded.
var ErrVersionConflict = errors.New("loyalty: account version conflict")

// storageError maps a repository failure to StorageUnavailable. Version
// conflicts pass through so the engine can retry them.
func storageError(err error) error {
	if err == nil || errors.Is(err, ErrVersionConflict) {
		return err
	}
	var be errutil.BaseError
	if errors.As(err, &be) {
		return err
	}
	return errutil.Wrap(ErrStorageUnavailable, err)
}

// IsBusinessError reports whether err is an expected ledger outcome rather
// than an infrastructure failure.
func IsBusinessError(err error) bool {
	for _, target := range []error{
		ErrRewardNotFound, ErrInsufficientPoints, ErrAlreadyCompleted, ErrAlreadyClaimedToday,
		ErrCodeNotFound, ErrCodeUsed, ErrCodeExpired, ErrCodeNotApplicable,
		ErrInvalidAmount, ErrInvalidArgument,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func withMessage(target error, msg string) error {
	be, ok := target.(errutil.BaseError)
	if !ok {
		return target
	}
	be.Message = msg
	return be
}
