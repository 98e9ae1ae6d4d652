// Package observability provides structured logging, Prometheus metrics,
// and OpenTelemetry tracing for the bot.
//
// # Logging
//
// NewLogger builds a *slog.Logger whose handler copies request, guild and
// user ids from the context onto every record and masks bot tokens and DSN
// passwords:
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "info"})
//	ctx = observability.AddGuildID(ctx, "1234")
//	logger.InfoContext(ctx, "config updated", "changed", 2)
//
// # Metrics
//
// Metrics implements guildconfig.Observer and storage.QueryObserver, so the
// config engine and the store report loads, fallbacks, updates, hook
// failures, and query latency without importing Prometheus themselves:
//
//	metrics := observability.NewMetrics()
//	factory := guildconfig.MustFactory("guild", vars, guildconfig.WithObserver(metrics))
//	store = storage.Instrument(store, metrics)
//
// # Tracing
//
// NewTracer installs an OTLP exporter when an endpoint is configured.
// InjectTrace and ExtractTrace carry span context across the NATS event
// bus so a config change and its remote cache eviction share a trace.
package observability
