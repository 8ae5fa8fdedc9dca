package memory

import (
	"context"
	"sync"
	"time"

	"github.com/leverbot/leverbot/internal/domain"
)

// AuditStore is an in-memory append-only audit log.
type AuditStore struct {
	mu      sync.Mutex
	nextID  int64
	entries []domain.AuditEntry
}

// NewAuditStore returns an empty audit store.
func NewAuditStore() *AuditStore {
	return &AuditStore{nextID: 1}
}

// Log appends one entry.
func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        s.nextID,
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	s.nextID++
	return nil
}

// ListBefore returns entries created strictly before cutoff.
func (s *AuditStore) ListBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range s.entries {
		if e.CreatedAt.Before(cutoff) {
			out = append(out, e)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// PruneBefore removes entries created strictly before cutoff.
func (s *AuditStore) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	var removed int64
	for _, e := range s.entries {
		if e.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return removed, nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
