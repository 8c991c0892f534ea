package secondary

import "context"

// HistoryRepository defines the secondary port for the outcome ledger.
type HistoryRepository interface {
	// Record appends the outcome of one invocation.
	Record(ctx context.Context, record *OutcomeRecord) error

	// List retrieves outcomes matching the given filters, newest first.
	List(ctx context.Context, filters HistoryFilters) ([]*OutcomeRecord, error)

	// GetByID retrieves one outcome by invocation ID.
	GetByID(ctx context.Context, id string) (*OutcomeRecord, error)
}

// OutcomeRecord represents an invocation outcome as stored in persistence.
type OutcomeRecord struct {
	ID               string
	Cluster          string
	Service          string
	Phase            string
	Status           string
	RevisionUsed     string
	PreviousRevision string
	Registered       bool
	Scaled           bool
	DesiredCount     int
	RunningCount     int
	DurationMillis   int64
	Reason           string
	Error            string
	Escalated        bool
	StartedAt        string
}

// HistoryFilters contains filter options for querying outcomes.
type HistoryFilters struct {
	Cluster string
	Service string
	Status  string
	Limit   int
}
