package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"SignalFuse/internal/domain/models"
)

// MemoryStore keeps decisions, closed trades and reports in process. It backs
// the runtime when no PostgreSQL DSN is configured.
type MemoryStore struct {
	mu        sync.RWMutex
	nextID    int64
	decisions []models.DecisionRecord
	trades    []models.ClosedTrade
	reports   []models.PerformanceReport
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) SaveDecision(_ context.Context, rec *models.DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec.ID = s.nextID
	s.decisions = append(s.decisions, *rec)
	return nil
}

func (s *MemoryStore) ListDecisions(_ context.Context, since time.Time) ([]models.DecisionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.DecisionRecord
	for _, d := range s.decisions {
		if !d.Timestamp.Before(since) {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *MemoryStore) UpdateDecisionResult(_ context.Context, id int64, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.decisions {
		if s.decisions[i].ID == id {
			s.decisions[i].Result = result
			return nil
		}
	}
	return fmt.Errorf("update decision result: %w", ErrNotFound)
}

func (s *MemoryStore) SaveClosedTrade(_ context.Context, t *models.ClosedTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.trades {
		if existing.ID == t.ID {
			return nil
		}
	}
	s.trades = append(s.trades, *t)
	return nil
}

func (s *MemoryStore) ListClosedTrades(_ context.Context, since time.Time) ([]models.ClosedTrade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ClosedTrade
	for _, t := range s.trades {
		if !t.ClosedAt.Before(since) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ClosedAt.Before(out[j].ClosedAt) })
	return out, nil
}

func (s *MemoryStore) SavePerformance(_ context.Context, r *models.PerformanceReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, *r)
	return nil
}

// Reports returns a copy of the saved performance reports.
func (s *MemoryStore) Reports() []models.PerformanceReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.PerformanceReport(nil), s.reports...)
}
