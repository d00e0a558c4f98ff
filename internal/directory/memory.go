package directory

import (
	"context"
	"sync"
)

// MemoryDirectory is the in-memory Directory used by tests.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]User
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{users: make(map[string]User)}
}

func (d *MemoryDirectory) Put(u User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

func (d *MemoryDirectory) Resolve(ctx context.Context, userID string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}
