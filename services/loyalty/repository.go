package loyalty

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

//go:generate mockgen -source=repository.go -destination=mock_repository_test.go -package=loyalty

// Repository persists account snapshots.
//
// Save is a compare-and-swap on Account.Version: it succeeds only when the
// stored version equals the version the account was loaded with (zero for a
// new account) and then increments it. Otherwise it returns
// ErrVersionConflict, as it does when a redemption code on the account is
// already indexed for another user.
type Repository interface {
	Load(ctx context.Context, userID string) (*Account, error)
	Save(ctx context.Context, account *Account) error
	// FindUserByCode returns the owner of a redemption code, or "" when the
	// code is unknown.
	FindUserByCode(ctx context.Context, code string) (string, error)
}

type AccountRecord struct {
	UserID    string         `gorm:"column:user_id;primaryKey"`
	Version   int64          `gorm:"column:version;not null"`
	Snapshot  datatypes.JSON `gorm:"column:snapshot;not null"`
	CreatedAt time.Time      `gorm:"column:created_at"`
	UpdatedAt time.Time      `gorm:"column:updated_at"`
}

func (AccountRecord) TableName() string {
	return "loyalty_accounts"
}

type RedemptionCodeRecord struct {
	Code      string    `gorm:"column:code;primaryKey"`
	UserID    string    `gorm:"column:user_id;index;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (RedemptionCodeRecord) TableName() string {
	return "loyalty_redemption_codes"
}

// Models lists the tables owned by the loyalty service.
func Models() []any {
	return []any{&AccountRecord{}, &RedemptionCodeRecord{}}
}

type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Load(ctx context.Context, userID string) (*Account, error) {
	var rec AccountRecord
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", userID, err)
	}

	var acc Account
	if err := json.Unmarshal(rec.Snapshot, &acc); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", userID, err)
	}
	acc.Version = rec.Version
	return &acc, nil
}

func (r *GormRepository) Save(ctx context.Context, account *Account) error {
	next := account.Clone()
	next.Version = account.Version + 1

	snapshot, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode account %s: %w", account.UserID, err)
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if account.Version == 0 {
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&AccountRecord{
				UserID:    account.UserID,
				Version:   next.Version,
				Snapshot:  datatypes.JSON(snapshot),
				CreatedAt: account.CreatedAt,
				UpdatedAt: account.UpdatedAt,
			})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrVersionConflict
			}
		} else {
			res := tx.Model(&AccountRecord{}).
				Where("user_id = ? AND version = ?", account.UserID, account.Version).
				Updates(map[string]any{
					"version":    next.Version,
					"snapshot":   datatypes.JSON(snapshot),
					"updated_at": account.UpdatedAt,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrVersionConflict
			}
		}

		if len(account.Redemptions) == 0 {
			return nil
		}
		codes := make([]RedemptionCodeRecord, 0, len(account.Redemptions))
		keys := make([]string, 0, len(account.Redemptions))
		for _, red := range account.Redemptions {
			codes = append(codes, RedemptionCodeRecord{Code: red.Code, UserID: account.UserID, CreatedAt: red.RedeemedAt})
			keys = append(keys, red.Code)
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&codes).Error; err != nil {
			return err
		}

		// A code indexed for another user was drawn concurrently; roll back
		// so the caller retries with a new code.
		var foreign int64
		if err := tx.Model(&RedemptionCodeRecord{}).
			Where("code IN ? AND user_id <> ?", keys, account.UserID).
			Count(&foreign).Error; err != nil {
			return err
		}
		if foreign > 0 {
			return ErrVersionConflict
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return err
		}
		return fmt.Errorf("save account %s: %w", account.UserID, err)
	}

	account.Version = next.Version
	return nil
}

func (r *GormRepository) FindUserByCode(ctx context.Context, code string) (string, error) {
	var rec RedemptionCodeRecord
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("find redemption code: %w", err)
	}
	return rec.UserID, nil
}
