package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Leshaka/lunodog-bot/internal/guildconfig"
)

// Metrics collects Prometheus metrics for the config engine, its store, and
// the Discord front end. It implements guildconfig.Observer and
// storage.QueryObserver.
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	factory, _ := guildconfig.NewFactory("guild", vars, guildconfig.WithObserver(metrics))
//	store := storage.Instrument(store, metrics)
type Metrics struct {
	// ConfigLoads counts Spawn calls.
	// Labels: schema, source (created|loaded)
	ConfigLoads *prometheus.CounterVec

	// VariableFallbacks counts stored values that failed to resolve and
	// were replaced by the default.
	// Labels: schema, variable
	VariableFallbacks *prometheus.CounterVec

	// ConfigUpdates counts Update calls by outcome.
	// Labels: schema, status (committed|rejected), code
	ConfigUpdates *prometheus.CounterVec

	// VariablesChanged counts variables written by committed updates.
	// Labels: schema
	VariablesChanged *prometheus.CounterVec

	// HookFailures counts on-change hooks that returned an error.
	// Labels: schema, hook
	HookFailures *prometheus.CounterVec

	// ConfigDeletes counts deleted config records.
	// Labels: schema
	ConfigDeletes *prometheus.CounterVec

	// CachedConfigs is the number of live configs held in memory.
	CachedConfigs prometheus.Gauge

	// ConfigEvents counts change events crossing the event bus.
	// Labels: kind (updated|deleted), direction (published|received)
	ConfigEvents *prometheus.CounterVec

	// CommandCounter counts slash command invocations.
	// Labels: command, status (success|rejected|error)
	CommandCounter *prometheus.CounterVec

	// CommandDuration measures slash command handling time in seconds.
	// Labels: command
	CommandDuration *prometheus.HistogramVec

	// GatewayEvents counts Discord gateway lifecycle events.
	// Labels: event (connect|disconnect|resume|ready)
	GatewayEvents *prometheus.CounterVec

	// ErrorCounter tracks errors by component and type.
	// Labels: component (discord|storage|events|bot), error_type
	ErrorCounter *prometheus.CounterVec

	// DatabaseQueryDuration measures store call latency.
	// Labels: operation (get|put|delete|list), table
	DatabaseQueryDuration *prometheus.HistogramVec

	// DatabaseQueryCounter counts store calls.
	// Labels: operation, table, status (success|not_found|error)
	DatabaseQueryCounter *prometheus.CounterVec
}

var _ guildconfig.Observer = (*Metrics)(nil)

// NewMetrics creates all metrics on Prometheus's default registry. Call it
// once per process.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates all metrics on reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConfigLoads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lunodog_config_loads_total",
				Help: "Total number of configs spawned by schema and source",
			},
			[]string{"schema", "source"},
		),

		VariableFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lunodog_config_variable_fallbacks_total",
				Help: "Stored values that failed to resolve and fell back to the default",
			},
			[]string{"schema", "variable"},
		),

		ConfigUpdates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lunodog_config_updates_total",
				Help: "Total number of config updates by schema, status, and error code",
			},
			[]string{"schema", "status", "code"},
		),

		VariablesChanged: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lunodog_config_variables_changed_total",
				Help: "Total number of variables written by committed updates",
			},
			[]string{"schema"},
		),

		HookFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lunodog_config_hook_failures_total",
				Help: "Total number of on-change hook failures",
			},
			[]string{"schema", "hook"},
		),

		ConfigDeletes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lunodog_config_deletes_total",
				Help: "Total number of deleted config records",
			},
			[]string{"schema"},
		),

		CachedConfigs: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "lunodog_cached_configs",
				Help: "Number of guild configs held in memory",
			},
		),

		ConfigEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lunodog_config_events_total",
				Help: "Config change events by kind and direction",
			},
			[]string{"kind", "direction"},
		),

		CommandCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lunodog_commands_total",
				Help: "Total number of slash commands by command and status",
			},
			[]string{"command", "status"},
		),

		CommandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lunodog_command_duration_seconds",
				Help:    "Duration of slash command handling in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"command"},
		),

		GatewayEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lunodog_gateway_events_total",
				Help: "Discord gateway lifecycle events",
			},
			[]string{"event"},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lunodog_errors_total",
				Help: "Total number of errors by component and type",
			},
			[]string{"component", "error_type"},
		),

		DatabaseQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lunodog_database_query_duration_seconds",
				Help:    "Duration of config store calls in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation", "table"},
		),

		DatabaseQueryCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lunodog_database_queries_total",
				Help: "Total number of config store calls by operation, table, and status",
			},
			[]string{"operation", "table", "status"},
		),
	}
}

// ConfigLoaded records a Spawn. fresh is true when no record existed.
func (m *Metrics) ConfigLoaded(schema string, fresh bool) {
	source := "loaded"
	if fresh {
		source = "created"
	}
	m.ConfigLoads.WithLabelValues(schema, source).Inc()
}

func (m *Metrics) VariableFallback(schema, variable string) {
	m.VariableFallbacks.WithLabelValues(schema, variable).Inc()
}

func (m *Metrics) UpdateCommitted(schema string, changed int) {
	m.ConfigUpdates.WithLabelValues(schema, "committed", "").Inc()
	m.VariablesChanged.WithLabelValues(schema).Add(float64(changed))
}

func (m *Metrics) UpdateRejected(schema string, code guildconfig.ErrorCode) {
	m.ConfigUpdates.WithLabelValues(schema, "rejected", string(code)).Inc()
}

func (m *Metrics) HookFailed(schema, hook string) {
	m.HookFailures.WithLabelValues(schema, hook).Inc()
}

func (m *Metrics) ConfigDeleted(schema string) {
	m.ConfigDeletes.WithLabelValues(schema).Inc()
}

// SetCachedConfigs sets the live config gauge.
func (m *Metrics) SetCachedConfigs(n int) {
	m.CachedConfigs.Set(float64(n))
}

// ConfigEvent counts a change event. direction is "published" or "received".
func (m *Metrics) ConfigEvent(kind, direction string) {
	m.ConfigEvents.WithLabelValues(kind, direction).Inc()
}

// RecordCommand records a slash command invocation.
//
// Example:
//
//	start := time.Now()
//	// ... handle /config set ...
//	metrics.RecordCommand("config set", "success", time.Since(start).Seconds())
func (m *Metrics) RecordCommand(command, status string, durationSeconds float64) {
	m.CommandCounter.WithLabelValues(command, status).Inc()
	m.CommandDuration.WithLabelValues(command).Observe(durationSeconds)
}

// GatewayEvent counts a gateway lifecycle event.
func (m *Metrics) GatewayEvent(event string) {
	m.GatewayEvents.WithLabelValues(event).Inc()
}

// RecordError increments the error counter for a given component and error type.
//
// Example:
//
//	metrics.RecordError("discord", "respond_failed")
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// RecordDatabaseQuery records metrics for a store call.
func (m *Metrics) RecordDatabaseQuery(operation, table, status string, durationSeconds float64) {
	m.DatabaseQueryCounter.WithLabelValues(operation, table, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(durationSeconds)
}
