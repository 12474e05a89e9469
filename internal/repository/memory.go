package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryBudget is the in-process request budget used when Redis is absent or
// down. Counts are per process, so the effective global budget is looser.
type MemoryBudget struct {
	mu      sync.Mutex
	windows map[string]*budgetWindow
}

type budgetWindow struct {
	count     int
	expiresAt time.Time
}

func NewMemoryBudget() *MemoryBudget {
	return &MemoryBudget{windows: make(map[string]*budgetWindow)}
}

func (r *MemoryBudget) Allow(ctx context.Context, platform string, limit int, window time.Duration) (bool, error) {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.windows[platform]
	if !ok || now.After(entry.expiresAt) {
		entry = &budgetWindow{count: 1, expiresAt: now.Add(window)}
		r.windows[platform] = entry
	} else {
		entry.count++
	}

	return entry.count <= limit, nil
}
