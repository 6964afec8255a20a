// Package metrics carries a prometheus collector in the context so any
// component can record counters without threading a registry through
// every constructor.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector is the interface for recording metrics.
type Collector interface {
	// RegisterCounter registers a counter vec with the given name and labels.
	RegisterCounter(ctx context.Context, name string, labels ...string) (interface{}, error)
	// AddCounter adds the value to a registered counter.
	AddCounter(ctx context.Context, name string, value float64, labelValues ...string) error
	// UnregisterCounter removes a registered counter.
	UnregisterCounter(ctx context.Context, name string, labels ...string) error
	// MetricsHandler returns the HTTP handler exposing the registry.
	MetricsHandler() http.Handler
}

// contextKey is the key used to store the collector in the context.
type contextKey string

// collectorKey is the key used to store the collector in the context.
const collectorKey contextKey = "metricsCollector"

// promCollector implements Collector on a dedicated prometheus registry.
type promCollector struct {
	namespace string
	registry  *prometheus.Registry
	mu        sync.Mutex
	counters  map[string]*prometheus.CounterVec
}

// WithMetrics returns a new context carrying a collector for the
// namespace. An existing collector in the context is kept.
func WithMetrics(ctx context.Context, namespace string) context.Context {
	if _, ok := ctx.Value(collectorKey).(Collector); ok {
		return ctx
	}
	return context.WithValue(ctx, collectorKey, newPromCollector(namespace))
}

// WithCollector returns a new context carrying the given collector.
// Needed where a context is not derived from the one WithMetrics built,
// such as per-request contexts minted by net/http.
func WithCollector(ctx context.Context, collector Collector) context.Context {
	return context.WithValue(ctx, collectorKey, collector)
}

// FromContext returns the collector stored in the context, creating a
// fresh one for the namespace if none is present.
func FromContext(ctx context.Context, namespace string) Collector {
	if collector, ok := ctx.Value(collectorKey).(Collector); ok {
		return collector
	}
	return newPromCollector(namespace)
}

func newPromCollector(namespace string) *promCollector {
	return &promCollector{
		namespace: namespace,
		registry:  prometheus.NewRegistry(),
		counters:  make(map[string]*prometheus.CounterVec),
	}
}

// RegisterCounter registers a counter vec with the given name and labels.
func (c *promCollector) RegisterCounter(_ context.Context, name string, labels ...string) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.counters[name]; ok {
		return nil, fmt.Errorf("counter %s already registered", name)
	}
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.namespace,
		Name:      name,
		Help:      fmt.Sprintf("Counter for %s_%s", c.namespace, name),
	}, labels)
	if err := c.registry.Register(counter); err != nil {
		return nil, fmt.Errorf("error registering counter %s: %w", name, err)
	}
	c.counters[name] = counter
	return counter, nil
}

// AddCounter adds the value to a registered counter. Unknown counters are
// registered on the fly with one label per value, so recording sites do
// not need a setup step.
func (c *promCollector) AddCounter(ctx context.Context, name string, value float64, labelValues ...string) error {
	c.mu.Lock()
	counter, ok := c.counters[name]
	c.mu.Unlock()
	if !ok {
		labels := make([]string, len(labelValues))
		for i := range labelValues {
			labels[i] = fmt.Sprintf("label%d", i+1)
		}
		if _, err := c.RegisterCounter(ctx, name, labels...); err != nil {
			return err
		}
		c.mu.Lock()
		counter = c.counters[name]
		c.mu.Unlock()
	}
	counter.WithLabelValues(labelValues...).Add(value)
	return nil
}

// UnregisterCounter removes a registered counter.
func (c *promCollector) UnregisterCounter(_ context.Context, name string, _ ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	counter, ok := c.counters[name]
	if !ok {
		return fmt.Errorf("counter %s is not registered", name)
	}
	c.registry.Unregister(counter)
	delete(c.counters, name)
	return nil
}

// MetricsHandler returns the HTTP handler exposing the registry.
func (c *promCollector) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
