package token

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository is a mutex-guarded in-memory token store for dev mode and
// tests. The mutex gives RecordScan the same lost-update-free guarantee the
// Postgres UPDATE provides.
type MemoryRepository struct {
	mu     sync.Mutex
	tokens map[string]Token
}

// NewMemoryRepository creates an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tokens: make(map[string]Token)}
}

// Insert stores a token.
func (r *MemoryRepository) Insert(_ context.Context, tok Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[tok.ID] = tok
	return nil
}

// Get returns a token by id.
func (r *MemoryRepository) Get(_ context.Context, id string) (Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok, ok := r.tokens[id]
	if !ok {
		return Token{}, ErrNotFound
	}
	return tok, nil
}

// ListByActivity returns tokens for an activity, newest first.
func (r *MemoryRepository) ListByActivity(_ context.Context, activityID string) ([]Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []Token
	for _, tok := range r.tokens {
		if tok.ActivityID == activityID {
			res = append(res, tok)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].IssuedAt.After(res[j].IssuedAt) })
	return res, nil
}

// Revoke deactivates a token; already-inactive is a no-op.
func (r *MemoryRepository) Revoke(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok, ok := r.tokens[id]
	if !ok {
		return ErrNotFound
	}
	tok.Active = false
	r.tokens[id] = tok
	return nil
}

// RecordScan atomically increments the scan counter.
func (r *MemoryRepository) RecordScan(_ context.Context, id string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok, ok := r.tokens[id]
	if !ok {
		return 0, ErrNotFound
	}
	tok.ScanCount++
	r.tokens[id] = tok
	return tok.ScanCount, nil
}
