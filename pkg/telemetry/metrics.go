package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricEventsDispatchedTotal = "trade_engine_events_dispatched_total"
	MetricHandlerPanicsTotal    = "trade_engine_handler_panics_total"
	MetricEventQueueDepth       = "trade_engine_event_queue_depth"
	MetricRPCRequestsTotal      = "trade_engine_rpc_requests_total"
	MetricRPCRequestDuration    = "trade_engine_rpc_request_duration_ms"
	MetricRPCPublishedTotal     = "trade_engine_rpc_published_total"
	MetricRPCCallsTotal         = "trade_engine_rpc_client_calls_total"
	MetricRPCCallTimeoutsTotal  = "trade_engine_rpc_client_timeouts_total"
	MetricRPCConnected          = "trade_engine_rpc_client_connected"
	MetricOMSTableSize          = "trade_engine_oms_table_size"
)

// MetricsHolder owns the observable gauges. Counters and histograms are
// created by each component from GetMeter so they work before Setup runs.
type MetricsHolder struct {
	EventQueueDepth metric.Int64ObservableGauge
	RPCConnected    metric.Int64ObservableGauge
	OMSTableSize    metric.Int64ObservableGauge

	mu          sync.RWMutex
	queueProbes map[string]func() int64
	connected   map[string]int64
	tableProbes map[string]func() int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			queueProbes: make(map[string]func() int64),
			connected:   make(map[string]int64),
			tableProbes: make(map[string]func() int64),
		}
	})
	return globalMetrics
}

// InitMetrics registers the observable gauges on meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.EventQueueDepth, err = meter.Int64ObservableGauge(MetricEventQueueDepth,
		metric.WithDescription("Events waiting for dispatch"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for name, probe := range m.queueProbes {
				obs.Observe(probe(), metric.WithAttributes(attribute.String("engine", name)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.RPCConnected, err = meter.Int64ObservableGauge(MetricRPCConnected,
		metric.WithDescription("RPC client connection state (1=connected, 0=disconnected)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for name, val := range m.connected {
				obs.Observe(val, metric.WithAttributes(attribute.String("client", name)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.OMSTableSize, err = meter.Int64ObservableGauge(MetricOMSTableSize,
		metric.WithDescription("Entries held per OMS table"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for table, probe := range m.tableProbes {
				obs.Observe(probe(), metric.WithAttributes(attribute.String("table", table)))
			}
			return nil
		}))
	return err
}

// RegisterQueueProbe exposes the depth of a named event queue
func (m *MetricsHolder) RegisterQueueProbe(name string, probe func() int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueProbes[name] = probe
}

// UnregisterQueueProbe removes a probe added by RegisterQueueProbe
func (m *MetricsHolder) UnregisterQueueProbe(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.queueProbes, name)
}

// RegisterTableProbe exposes the size of a named OMS table
func (m *MetricsHolder) RegisterTableProbe(table string, probe func() int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tableProbes[table] = probe
}

func (m *MetricsHolder) SetRPCConnected(client string, connected bool) {
	val := int64(0)
	if connected {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected[client] = val
}

func (m *MetricsHolder) GetRPCConnected() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64, len(m.connected))
	for k, v := range m.connected {
		res[k] = v
	}
	return res
}
