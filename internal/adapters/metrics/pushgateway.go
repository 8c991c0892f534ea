// Package metrics publishes per-invocation outcome metrics.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/example/ecs-manage/internal/ports/secondary"
)

var statuses = []string{"success", "rolled_back", "failed", "escalated"}

// Pushgateway pushes one group of metrics per service to a Prometheus
// Pushgateway. A push replaces the previous group of the same service.
type Pushgateway struct {
	url    string
	job    string
	client push.HTTPDoer
}

var _ secondary.MetricsPublisher = (*Pushgateway)(nil)

// NewPushgateway creates a publisher pushing to url under job.
func NewPushgateway(url, job string, client push.HTTPDoer) *Pushgateway {
	return &Pushgateway{url: url, job: job, client: client}
}

// Publish pushes the metrics of one invocation.
func (p *Pushgateway) Publish(ctx context.Context, sample secondary.MetricsSample) error {
	status := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ecs_manage_last_outcome",
		Help: "1 for the status of the last invocation, 0 otherwise.",
	}, []string{"status"})
	for _, s := range statuses {
		v := 0.0
		if s == sample.Status {
			v = 1
		}
		status.WithLabelValues(s).Set(v)
	}

	duration := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ecs_manage_last_duration_seconds",
		Help: "Wall-clock duration of the last invocation.",
	})
	duration.Set(sample.DurationSeconds)

	samples := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ecs_manage_last_health_samples",
		Help: "Health samples taken during the last rollout.",
	})
	samples.Set(float64(sample.HealthSamples))

	changes := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ecs_manage_last_change",
		Help: "1 if the last invocation made the given kind of change.",
	}, []string{"kind"})
	changes.WithLabelValues("registered").Set(boolValue(sample.Registered))
	changes.WithLabelValues("scaled").Set(boolValue(sample.Scaled))

	pusher := push.New(p.url, p.job).
		Collector(status).
		Collector(duration).
		Collector(samples).
		Collector(changes).
		Grouping("cluster", sample.Cluster).
		Grouping("service", sample.Service)
	if p.client != nil {
		pusher = pusher.Client(p.client)
	}

	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics for %s/%s: %w", sample.Cluster, sample.Service, err)
	}
	return nil
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Noop discards metrics.
type Noop struct{}

// Publish does nothing.
func (Noop) Publish(context.Context, secondary.MetricsSample) error { return nil }
