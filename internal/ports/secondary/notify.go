package secondary

import "context"

// Notifier defines the secondary port for surfacing outcomes to operators.
type Notifier interface {
	// Notify delivers a message about one outcome.
	Notify(ctx context.Context, msg Notification) error
}

// Notification is a human-readable alert about an outcome.
type Notification struct {
	Service   string
	Status    string
	Escalated bool
	Title     string
	Body      string
}

// MetricsPublisher defines the secondary port for outcome metrics.
type MetricsPublisher interface {
	// Publish records the metrics of one outcome.
	Publish(ctx context.Context, sample MetricsSample) error
}

// MetricsSample holds the metrics of one invocation.
type MetricsSample struct {
	Cluster         string
	Service         string
	Status          string
	DurationSeconds float64
	HealthSamples   int
	Registered      bool
	Scaled          bool
}
