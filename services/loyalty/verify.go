package loyalty

import (
	"context"
	"fmt"
)

type Verification struct {
	UserID       string   `json:"user_id"`
	Valid        bool     `json:"valid"`
	Transactions int      `json:"transactions"`
	Problems     []string `json:"problems,omitempty"`
}

// VerifyLedger walks the transaction hash chain from the oldest entry and
// checks that the stored balances equal the transaction sums.
func (e *Engine) VerifyLedger(ctx context.Context, userID string) (v *Verification, err error) {
	ctx, done := e.observe(ctx, "verify_ledger", userID)
	defer done(&err)

	acc, cat, err := e.snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	v = &Verification{UserID: userID, Transactions: len(acc.Transactions)}
	problem := func(format string, args ...any) {
		v.Problems = append(v.Problems, fmt.Sprintf(format, args...))
	}

	var (
		previous  = genesisHash
		available int64
		lifetime  int64
		txIDs     = make(map[string]struct{}, len(acc.Transactions))
	)
	for i := len(acc.Transactions) - 1; i >= 0; i-- {
		t := acc.Transactions[i]
		if t.PreviousHash != previous {
			problem("transaction %s: previous hash does not match chain", t.ID)
		}
		if t.GenerateHash() != t.Hash {
			problem("transaction %s: hash mismatch", t.ID)
		}
		previous = t.Hash

		available += t.Amount
		if t.countsTowardLifetime() {
			lifetime += t.Amount
		}
		txIDs[t.ID] = struct{}{}
	}

	if available != acc.AvailablePoints {
		problem("available points %d, transactions sum to %d", acc.AvailablePoints, available)
	}
	if lifetime != acc.LifetimePoints {
		problem("lifetime points %d, transactions sum to %d", acc.LifetimePoints, lifetime)
	}
	if acc.TotalPoints != acc.LifetimePoints {
		problem("total points %d differ from lifetime points %d", acc.TotalPoints, acc.LifetimePoints)
	}
	if want := cat.LevelFor(acc.LifetimePoints).Key; acc.CurrentLevel != want {
		problem("current level %q, lifetime points map to %q", acc.CurrentLevel, want)
	}
	for _, r := range acc.Redemptions {
		if _, ok := txIDs[r.TransactionID]; !ok {
			problem("redemption %s: transaction %s missing", r.ID, r.TransactionID)
		}
	}

	v.Valid = len(v.Problems) == 0
	return v, nil
}
