// Package observability provides the process's Prometheus metrics registry.
//
// Structured logging is not this package's concern: every component builds
// its own *slog.Logger tagged with "component" (see internal/gateway,
// internal/lifecycle, internal/toolfed) rather than going through a shared
// wrapper type, so a component's logger stays an ordinary *slog.Logger that
// any stdlib-compatible handler or call site can use directly.
//
// # Metrics
//
// Metrics are implemented using the Prometheus client library and track:
//   - Message flow through channels (Telegram, Discord)
//   - LLM API request latency and token usage
//   - Tool execution performance
//   - Error rates by component and type
//   - Active session counts
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//
//	// Track message processing
//	metrics.MessageReceived("telegram", "inbound")
//
//	// Track LLM requests
//	start := time.Now()
//	// ... make LLM request ...
//	metrics.RecordLLMRequest("anthropic", "claude-3-opus", "success",
//	    time.Since(start).Seconds(), promptTokens, completionTokens)
//
//	// Track tool execution
//	start = time.Now()
//	// ... execute tool ...
//	metrics.RecordToolExecution("web_search", "success", time.Since(start).Seconds())
//
// # Monitoring Dashboard
//
// The metrics exposed can be used to build dashboards:
//
//	# Message throughput
//	rate(agentd_messages_total[5m])
//
//	# LLM request latency (95th percentile)
//	histogram_quantile(0.95, rate(agentd_llm_request_duration_seconds_bucket[5m]))
//
//	# Error rate
//	rate(agentd_errors_total[5m])
//
//	# Active sessions
//	agentd_active_sessions
//
// # Further Reading
//
//   - Prometheus best practices: https://prometheus.io/docs/practices/naming/
package observability
