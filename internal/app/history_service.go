package app

import (
	"context"
	"fmt"
	"time"

	"github.com/example/ecs-manage/internal/ports/primary"
	"github.com/example/ecs-manage/internal/ports/secondary"
)

// HistoryServiceImpl implements the HistoryService interface.
type HistoryServiceImpl struct {
	repo secondary.HistoryRepository
}

// NewHistoryService creates a new HistoryService with injected dependencies.
func NewHistoryService(repo secondary.HistoryRepository) *HistoryServiceImpl {
	return &HistoryServiceImpl{repo: repo}
}

// ListHistory lists recorded outcomes, newest first.
func (s *HistoryServiceImpl) ListHistory(ctx context.Context, filters primary.HistoryFilters) ([]*primary.HistoryEntry, error) {
	records, err := s.repo.List(ctx, secondary.HistoryFilters{
		Cluster: filters.Cluster,
		Service: filters.Service,
		Status:  filters.Status,
		Limit:   filters.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	entries := make([]*primary.HistoryEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, toHistoryEntry(r))
	}
	return entries, nil
}

// GetOutcome retrieves one recorded outcome.
func (s *HistoryServiceImpl) GetOutcome(ctx context.Context, id string) (*primary.HistoryEntry, error) {
	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get outcome %s: %w", id, err)
	}
	return toHistoryEntry(record), nil
}

func toHistoryEntry(r *secondary.OutcomeRecord) *primary.HistoryEntry {
	return &primary.HistoryEntry{
		ID:           r.ID,
		Service:      r.Cluster + "/" + r.Service,
		Status:       r.Status,
		Phase:        r.Phase,
		RevisionUsed: r.RevisionUsed,
		DesiredCount: r.DesiredCount,
		RunningCount: r.RunningCount,
		Duration:     (time.Duration(r.DurationMillis) * time.Millisecond).String(),
		Reason:       r.Reason,
		Escalated:    r.Escalated,
		StartedAt:    r.StartedAt,
	}
}
