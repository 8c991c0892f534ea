package primary

import "context"

// HistoryService defines the primary port for the outcome ledger.
type HistoryService interface {
	// ListHistory lists recorded outcomes, newest first.
	ListHistory(ctx context.Context, filters HistoryFilters) ([]*HistoryEntry, error)

	// GetOutcome retrieves one recorded outcome by invocation ID.
	GetOutcome(ctx context.Context, id string) (*HistoryEntry, error)
}

// HistoryEntry is a recorded outcome as shown to users.
type HistoryEntry struct {
	ID           string
	Service      string
	Status       string
	Phase        string
	RevisionUsed string
	DesiredCount int
	RunningCount int
	Duration     string
	Reason       string
	Escalated    bool
	StartedAt    string
}

// HistoryFilters contains filter options for listing history.
type HistoryFilters struct {
	Cluster string
	Service string
	Status  string
	Limit   int
}
