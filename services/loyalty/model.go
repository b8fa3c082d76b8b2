package loyalty

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"time"
)

type TransactionKind string

const (
	KindEarned   TransactionKind = "earned"
	KindRedeemed TransactionKind = "redeemed"
	KindExpired  TransactionKind = "expired"
	KindBonus    TransactionKind = "bonus"
)

func (k TransactionKind) Valid() bool {
	switch k {
	case KindEarned, KindRedeemed, KindExpired, KindBonus:
		return true
	}
	return false
}

// Well known transaction categories.
const (
	CategoryCourseCompletion = "courseCompletion"
	CategoryDailyLogin       = "dailyLogin"
	CategoryAdmin            = "admin"
	CategoryRedemption       = "redemption"
)

const (
	MetadataCourseID   = "courseId"
	MetadataCourseName = "courseName"
	MetadataRewardID   = "rewardId"
	MetadataCode       = "code"
	MetadataDate       = "date"
)

const genesisHash = "GENESIS"

// dateLayout is the calendar date format of LastDailyLoginDate.
const dateLayout = "2006-01-02"

type Transaction struct {
	ID           string            `json:"id"`
	Kind         TransactionKind   `json:"kind"`
	Amount       int64             `json:"amount"`
	Category     string            `json:"category"`
	Description  string            `json:"description"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
	PreviousHash string            `json:"previous_hash"`
	Hash         string            `json:"hash"`
}

func (t *Transaction) HashFields() map[string]string {
	fields := map[string]string{
		"id":            t.ID,
		"kind":          string(t.Kind),
		"amount":        fmt.Sprintf("%d", t.Amount),
		"category":      t.Category,
		"description":   t.Description,
		"timestamp":     t.Timestamp.UTC().Format(time.RFC3339Nano),
		"previous_hash": t.PreviousHash,
	}
	for k, v := range t.Metadata {
		fields["metadata."+k] = v
	}
	return fields
}

func (t *Transaction) GenerateHash() string {
	fields := t.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// countsTowardLifetime reports whether the amount moves total and lifetime
// points. Reward redemptions only spend available points.
func (t *Transaction) countsTowardLifetime() bool {
	return t.Category != CategoryRedemption
}

type RedemptionStatus string

const (
	StatusActive  RedemptionStatus = "active"
	StatusUsed    RedemptionStatus = "used"
	StatusExpired RedemptionStatus = "expired"
)

type Redemption struct {
	ID            string           `json:"id"`
	RewardID      string           `json:"reward_id"`
	RewardName    string           `json:"reward_name"`
	Code          string           `json:"code"`
	PointsCost    int64            `json:"points_cost"`
	RedeemedAt    time.Time        `json:"redeemed_at"`
	ExpiresAt     time.Time        `json:"expires_at"`
	Status        RedemptionStatus `json:"status"`
	UsedAt        *time.Time       `json:"used_at,omitempty"`
	TransactionID string           `json:"transaction_id"`
}

// StatusAt returns the effective status at now. Expiry is never stored; an
// active code past ExpiresAt reads as expired.
func (r Redemption) StatusAt(now time.Time) RedemptionStatus {
	if r.Status == StatusUsed {
		return StatusUsed
	}
	if now.After(r.ExpiresAt) {
		return StatusExpired
	}
	return StatusActive
}

type Account struct {
	UserID             string        `json:"user_id"`
	TotalPoints        int64         `json:"total_points"`
	AvailablePoints    int64         `json:"available_points"`
	LifetimePoints     int64         `json:"lifetime_points"`
	CurrentLevel       string        `json:"current_level"`
	Transactions       []Transaction `json:"transactions"`
	Redemptions        []Redemption  `json:"redemptions"`
	CompletedCourseIDs []string      `json:"completed_course_ids"`
	LastDailyLoginDate *string       `json:"last_daily_login_date,omitempty"`
	Version            int64         `json:"version"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

func newAccount(userID, level string, now time.Time) *Account {
	return &Account{
		UserID:             userID,
		CurrentLevel:       level,
		Transactions:       []Transaction{},
		Redemptions:        []Redemption{},
		CompletedCourseIDs: []string{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// Clone returns a deep copy so callers can never mutate a stored snapshot.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	c.Transactions = make([]Transaction, len(a.Transactions))
	for i, t := range a.Transactions {
		t.Metadata = maps.Clone(t.Metadata)
		c.Transactions[i] = t
	}
	c.Redemptions = make([]Redemption, len(a.Redemptions))
	for i, r := range a.Redemptions {
		if r.UsedAt != nil {
			at := *r.UsedAt
			r.UsedAt = &at
		}
		c.Redemptions[i] = r
	}
	c.CompletedCourseIDs = slices.Clone(a.CompletedCourseIDs)
	if a.LastDailyLoginDate != nil {
		d := *a.LastDailyLoginDate
		c.LastDailyLoginDate = &d
	}
	return &c
}

// LastHash is the hash of the most recent transaction.
func (a *Account) LastHash() string {
	if len(a.Transactions) == 0 {
		return genesisHash
	}
	return a.Transactions[0].Hash
}

func (a *Account) HasCompletedCourse(courseID string) bool {
	if slices.Contains(a.CompletedCourseIDs, courseID) {
		return true
	}
	for _, t := range a.Transactions {
		if t.Category == CategoryCourseCompletion && t.Metadata[MetadataCourseID] == courseID {
			return true
		}
	}
	return false
}

func (a *Account) redemptionIndex(code string) int {
	return slices.IndexFunc(a.Redemptions, func(r Redemption) bool { return r.Code == code })
}

// append records t as the newest transaction and applies it to the balances.
func (a *Account) append(t Transaction) {
	a.Transactions = slices.Insert(a.Transactions, 0, t)
	a.AvailablePoints += t.Amount
	if t.countsTowardLifetime() {
		a.TotalPoints += t.Amount
		a.LifetimePoints += t.Amount
	}
}
