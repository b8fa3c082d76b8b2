package loyalty

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryRepository keeps encoded snapshots in process. Each Load decodes a
// fresh copy so no two callers share account state.
type MemoryRepository struct {
	mu       sync.RWMutex
	accounts map[string][]byte
	versions map[string]int64
	codes    map[string]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts: make(map[string][]byte),
		versions: make(map[string]int64),
		codes:    make(map[string]string),
	}
}

func (r *MemoryRepository) Load(ctx context.Context, userID string) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	raw, ok := r.accounts[userID]
	version := r.versions[userID]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	var acc Account
	if err := json.Unmarshal(raw, &acc); err != nil {
		return nil, err
	}
	acc.Version = version
	return &acc, nil
}

func (r *MemoryRepository) Save(ctx context.Context, account *Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.versions[account.UserID] != account.Version {
		return ErrVersionConflict
	}
	for _, red := range account.Redemptions {
		if owner, ok := r.codes[red.Code]; ok && owner != account.UserID {
			return ErrVersionConflict
		}
	}

	next := account.Version + 1
	snapshot := account.Clone()
	snapshot.Version = next
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	r.accounts[account.UserID] = raw
	r.versions[account.UserID] = next
	for _, red := range account.Redemptions {
		r.codes[red.Code] = account.UserID
	}

	account.Version = next
	return nil
}

func (r *MemoryRepository) FindUserByCode(ctx context.Context, code string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.codes[code], nil
}
