// Package metrics defines the rollout metric instruments.
//
// Instruments come from the global OpenTelemetry meter provider, which is a
// no-op until a provider is installed. All record methods accept a nil
// receiver.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "rollout"

// Metrics holds all rollout metric instruments.
type Metrics struct {
	PassesStarted    metric.Int64Counter
	Transitions      metric.Int64Counter
	DeployDuration   metric.Float64Histogram
	GateWait         metric.Float64Histogram
	GateInFlight     metric.Int64UpDownCounter
	ExecutorsSpawned metric.Int64Counter
	ExecutorsLost    metric.Int64Counter
	IPCCalls         metric.Int64Counter
}

// New creates all metric instruments on the global meter provider.
func New() (*Metrics, error) {
	return NewFromMeter(otel.Meter(meterName))
}

// NewFromMeter creates all metric instruments on meter.
func NewFromMeter(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.PassesStarted, err = meter.Int64Counter("rollout.passes.started",
		metric.WithDescription("Number of deploy passes started"))
	if err != nil {
		return nil, err
	}

	m.Transitions, err = meter.Int64Counter("rollout.resource.transitions",
		metric.WithDescription("Resource state transitions by target status"))
	if err != nil {
		return nil, err
	}

	m.DeployDuration, err = meter.Float64Histogram("rollout.resource.deploy_seconds",
		metric.WithDescription("Executor deploy call duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.GateWait, err = meter.Float64Histogram("rollout.gate.wait_seconds",
		metric.WithDescription("Time spent waiting for a concurrency permit"))
	if err != nil {
		return nil, err
	}

	m.GateInFlight, err = meter.Int64UpDownCounter("rollout.gate.in_flight",
		metric.WithDescription("Permits currently held"))
	if err != nil {
		return nil, err
	}

	m.ExecutorsSpawned, err = meter.Int64Counter("rollout.executors.spawned",
		metric.WithDescription("Executor processes started"))
	if err != nil {
		return nil, err
	}

	m.ExecutorsLost, err = meter.Int64Counter("rollout.executors.lost",
		metric.WithDescription("Executors marked down"))
	if err != nil {
		return nil, err
	}

	m.IPCCalls, err = meter.Int64Counter("rollout.ipc.calls",
		metric.WithDescription("Executor calls by method and outcome"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// PassStarted counts a deploy pass for env.
func (m *Metrics) PassStarted(ctx context.Context, env string) {
	if m == nil {
		return
	}
	m.PassesStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("env", env)))
}

// Transition counts a resource entering status.
func (m *Metrics) Transition(ctx context.Context, env, status string) {
	if m == nil {
		return
	}
	m.Transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("env", env),
		attribute.String("status", status),
	))
}

// Deployed records the duration of one executor deploy call.
func (m *Metrics) Deployed(ctx context.Context, resourceType string, d time.Duration) {
	if m == nil {
		return
	}
	m.DeployDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("type", resourceType)))
}

// PermitAcquired records the wait for a permit and counts it in flight.
func (m *Metrics) PermitAcquired(ctx context.Context, priority int, waited time.Duration) {
	if m == nil {
		return
	}
	m.GateWait.Record(ctx, waited.Seconds(), metric.WithAttributes(attribute.Int("priority", priority)))
	m.GateInFlight.Add(ctx, 1)
}

// PermitReleased removes a permit from the in-flight count.
func (m *Metrics) PermitReleased(ctx context.Context) {
	if m == nil {
		return
	}
	m.GateInFlight.Add(ctx, -1)
}

// ExecutorSpawned counts a started executor.
func (m *Metrics) ExecutorSpawned(ctx context.Context, env string) {
	if m == nil {
		return
	}
	m.ExecutorsSpawned.Add(ctx, 1, metric.WithAttributes(attribute.String("env", env)))
}

// ExecutorLost counts an executor marked down.
func (m *Metrics) ExecutorLost(ctx context.Context, env, reason string) {
	if m == nil {
		return
	}
	m.ExecutorsLost.Add(ctx, 1, metric.WithAttributes(
		attribute.String("env", env),
		attribute.String("reason", reason),
	))
}

// Call counts one executor call.
func (m *Metrics) Call(ctx context.Context, method, outcome string) {
	if m == nil {
		return
	}
	m.IPCCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("outcome", outcome),
	))
}
