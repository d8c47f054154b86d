package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/linhnguyen0702/contractledger/model"
)

// AuditSink is the append-only system-wide event recorder. Lifecycle
// operations write one event per accepted transition, unconditionally.
type AuditSink interface {
	Record(ctx context.Context, e model.AuditEvent) (string, error)
	Query(ctx context.Context, f model.AuditFilter) (*model.AuditPage, error)
}

// MemoryAuditSink keeps events in memory; used for tests and DB-less runs.
type MemoryAuditSink struct {
	mu     sync.RWMutex
	events []model.AuditEvent
}

func NewMemoryAuditSink() *MemoryAuditSink {
	return &MemoryAuditSink{}
}

func (s *MemoryAuditSink) Record(_ context.Context, e model.AuditEvent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.PerformedAt.IsZero() {
		e.PerformedAt = time.Now()
	}
	s.events = append(s.events, e)
	return e.ID, nil
}

func (s *MemoryAuditSink) Query(_ context.Context, f model.AuditFilter) (*model.AuditPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []model.AuditEvent
	for _, e := range s.events {
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if f.PerformedBy != "" && e.PerformedBy != f.PerformedBy {
			continue
		}
		if !f.From.IsZero() && e.PerformedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && e.PerformedAt.After(f.To) {
			continue
		}
		matched = append(matched, e)
	}

	// Newest first, matching the persistent sink's ordering.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].PerformedAt.After(matched[j].PerformedAt)
	})

	total := int64(len(matched))
	page, limit := normalizePage(f.Page, f.Limit)
	start := (page - 1) * limit
	if start >= len(matched) {
		return &model.AuditPage{Items: []model.AuditEvent{}, TotalCount: total, Page: page, Limit: limit}, nil
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	items := append([]model.AuditEvent(nil), matched[start:end]...)
	return &model.AuditPage{Items: items, TotalCount: total, Page: page, Limit: limit}, nil
}
