// Package metrics decorates a push backend with Prometheus instrumentation.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

const maxAgeDuration = 5 * time.Minute

// Provider wraps a dispatch.Adapter and records call and token outcomes.
type Provider struct {
	next          dispatch.Adapter
	sendCounter   *prometheus.CounterVec
	tokenCounter  *prometheus.CounterVec
	durationStats *prometheus.SummaryVec
}

// NewProvider registers its collectors on reg and returns the decorator.
func NewProvider(next dispatch.Adapter, reg prometheus.Registerer) (*Provider, error) {
	p := &Provider{
		next: next,
		sendCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "push_provider_send_total",
			Help: "Number of Send calls made to the push provider.",
		}, []string{"provider"}),
		tokenCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "push_provider_tokens_total",
			Help: "Device tokens handed to the push provider, by result.",
		}, []string{"provider", "result"}),
		durationStats: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       "push_provider_send_duration_seconds",
			Help:       "Duration of Send calls to the push provider.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
			MaxAge:     maxAgeDuration,
		}, []string{"provider"}),
	}
	for _, c := range []prometheus.Collector{p.sendCounter, p.tokenCounter, p.durationStats} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Provider) Name() string { return p.next.Name() }

func (p *Provider) Send(ctx context.Context, tokens []string, msg dispatch.Message) dispatch.DeliveryResult {
	name := p.next.Name()
	start := time.Now()

	res := p.next.Send(ctx, tokens, msg)

	p.sendCounter.WithLabelValues(name).Inc()
	p.durationStats.WithLabelValues(name).Observe(time.Since(start).Seconds())
	p.tokenCounter.WithLabelValues(name, "success").Add(float64(res.SuccessCount))
	p.tokenCounter.WithLabelValues(name, "failure").Add(float64(res.FailureCount))
	return res
}
