// Package metricstest provides a meter that counts recorded measurements.
package metricstest

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Meter is a no-op meter whose histograms count their Record calls by
// instrument name.
type Meter struct {
	noop.Meter

	mu      sync.Mutex
	records map[string]int
}

// NewMeter returns an empty Meter.
func NewMeter() *Meter {
	return &Meter{records: make(map[string]int)}
}

// Float64Histogram returns a histogram counting into m.
func (m *Meter) Float64Histogram(name string, _ ...metric.Float64HistogramOption) (metric.Float64Histogram, error) {
	return histogram{name: name, meter: m}, nil
}

// Records returns how many measurements the histogram name recorded.
func (m *Meter) Records(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[name]
}

type histogram struct {
	noop.Float64Histogram
	name  string
	meter *Meter
}

func (h histogram) Record(context.Context, float64, ...metric.RecordOption) {
	h.meter.mu.Lock()
	h.meter.records[h.name]++
	h.meter.mu.Unlock()
}
