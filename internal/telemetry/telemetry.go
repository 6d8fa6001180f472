// Package telemetry wires OTel metric instruments for the watchdog and
// each daemon. Every method on Metrics is nil-safe: a caller that never
// configured a MeterProvider (the default on-device deployment) gets
// silent no-ops rather than having to guard every call site.
package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/zygisksu/zygiskd"

// Metrics holds every OTel instrument a daemon or watchdog process
// publishes. New sets every field even when no MeterProvider is installed,
// because otel.GetMeterProvider's default no-op provider returns working,
// inert instruments; the nil checks in the methods below guard against a
// nil *Metrics receiver, not against nil fields.
type Metrics struct {
	connectionsAccepted metric.Int64Counter
	requestsDispatched   metric.Int64Counter
	companionSpawns      metric.Int64Counter
	companionRespawns    metric.Int64Counter
	modulesLoaded        metric.Int64Counter
	modulesSkipped       metric.Int64Counter
	watchdogHeartbeats   metric.Int64Counter
	watchdogRestarts     metric.Int64Counter

	mu             sync.RWMutex
	livesRemaining int64
	livesGauge     metric.Int64ObservableGauge
}

// New registers every instrument against the current global MeterProvider.
// Safe to call once per process; the caller passes a component name
// ("watchdog", "daemon32", "daemon64") used only to label the lives gauge.
func New(component string) (*Metrics, error) {
	m := otel.GetMeterProvider().Meter(meterName)
	met := &Metrics{}

	var err error
	met.connectionsAccepted, err = m.Int64Counter("zygiskd.daemon.connections_accepted",
		metric.WithDescription("Total client connections accepted by a daemon"))
	if err != nil {
		return nil, fmt.Errorf("registering connections_accepted counter: %w", err)
	}

	met.requestsDispatched, err = m.Int64Counter("zygiskd.daemon.requests_dispatched",
		metric.WithDescription("Total requests dispatched, by action tag"))
	if err != nil {
		return nil, fmt.Errorf("registering requests_dispatched counter: %w", err)
	}

	met.companionSpawns, err = m.Int64Counter("zygiskd.companion.spawns",
		metric.WithDescription("Total companion processes spawned"))
	if err != nil {
		return nil, fmt.Errorf("registering companion_spawns counter: %w", err)
	}

	met.companionRespawns, err = m.Int64Counter("zygiskd.companion.respawns",
		metric.WithDescription("Total companion processes respawned after a dead-slot detection"))
	if err != nil {
		return nil, fmt.Errorf("registering companion_respawns counter: %w", err)
	}

	met.modulesLoaded, err = m.Int64Counter("zygiskd.daemon.modules_loaded",
		metric.WithDescription("Total modules successfully sealed and published"))
	if err != nil {
		return nil, fmt.Errorf("registering modules_loaded counter: %w", err)
	}

	met.modulesSkipped, err = m.Int64Counter("zygiskd.daemon.modules_skipped",
		metric.WithDescription("Total modules skipped at load time (disabled or no matching .so)"))
	if err != nil {
		return nil, fmt.Errorf("registering modules_skipped counter: %w", err)
	}

	met.watchdogHeartbeats, err = m.Int64Counter("zygiskd.watchdog.heartbeats",
		metric.WithDescription("Total heartbeat datagrams observed by the watchdog"))
	if err != nil {
		return nil, fmt.Errorf("registering watchdog_heartbeats counter: %w", err)
	}

	met.watchdogRestarts, err = m.Int64Counter("zygiskd.watchdog.restarts",
		metric.WithDescription("Total supervise-loop restarts, by bitness"))
	if err != nil {
		return nil, fmt.Errorf("registering watchdog_restarts counter: %w", err)
	}

	met.livesGauge, err = m.Int64ObservableGauge("zygiskd.watchdog.lives_remaining",
		metric.WithDescription("Lives remaining in the current crash-loop window"))
	if err != nil {
		return nil, fmt.Errorf("registering lives_remaining gauge: %w", err)
	}

	componentAttr := attribute.String("component", component)
	_, err = m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		met.mu.RLock()
		defer met.mu.RUnlock()
		o.ObserveInt64(met.livesGauge, met.livesRemaining, metric.WithAttributes(componentAttr))
		return nil
	}, met.livesGauge)
	if err != nil {
		return nil, fmt.Errorf("registering lives_remaining callback: %w", err)
	}

	return met, nil
}

func (m *Metrics) RecordConnectionAccepted(ctx context.Context) {
	if m == nil {
		return
	}
	m.connectionsAccepted.Add(ctx, 1)
}

func (m *Metrics) RecordRequestDispatched(ctx context.Context, tag string) {
	if m == nil {
		return
	}
	m.requestsDispatched.Add(ctx, 1, metric.WithAttributes(attribute.String("action", tag)))
}

func (m *Metrics) RecordCompanionSpawn(ctx context.Context, module string) {
	if m == nil {
		return
	}
	m.companionSpawns.Add(ctx, 1, metric.WithAttributes(attribute.String("module", module)))
}

func (m *Metrics) RecordCompanionRespawn(ctx context.Context, module string) {
	if m == nil {
		return
	}
	m.companionRespawns.Add(ctx, 1, metric.WithAttributes(attribute.String("module", module)))
}

func (m *Metrics) RecordModuleLoaded(ctx context.Context, module string) {
	if m == nil {
		return
	}
	m.modulesLoaded.Add(ctx, 1, metric.WithAttributes(attribute.String("module", module)))
}

func (m *Metrics) RecordModuleSkipped(ctx context.Context, module, reason string) {
	if m == nil {
		return
	}
	m.modulesSkipped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("module", module), attribute.String("reason", reason)))
}

func (m *Metrics) RecordHeartbeat(ctx context.Context) {
	if m == nil {
		return
	}
	m.watchdogHeartbeats.Add(ctx, 1)
}

func (m *Metrics) RecordRestart(ctx context.Context, bitness string) {
	if m == nil {
		return
	}
	m.watchdogRestarts.Add(ctx, 1, metric.WithAttributes(attribute.String("bitness", bitness)))
}

// SetLivesRemaining updates the value the observable gauge reports on the
// next export/read cycle.
func (m *Metrics) SetLivesRemaining(lives int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.livesRemaining = lives
}
