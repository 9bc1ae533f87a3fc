// Package telemetry provides logging, tracing, metrics and events for imp.
//
// Structured logging uses zerolog, tracing uses OpenTelemetry with stdout or
// OTLP/gRPC exporters, and metrics are Prometheus collectors in a private
// registry. Events are delivered to in-process subscribers, in order, from a
// bounded buffer.
//
// # Usage
//
//	cfg := telemetry.ProductionConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	orch := engine.NewOrchestrator(exec, store,
//	    engine.WithObserver(telemetry.NewCycleObserver(tel)),
//	    engine.WithLogger(tel.Logger.NewComponentLogger("orchestrator").Zerolog()),
//	)
//
// CycleObserver opens one span per cycle with a child span per executed
// operation and records:
//
//   - imp_cycles_started_total{dry_run}
//   - imp_cycles_total{state,dry_run}
//   - imp_cycle_duration_seconds{state}
//   - imp_operations_planned_total{mode}
//   - imp_operations_executed_total{entity,action,status}
//   - imp_operation_duration_seconds{entity}
//   - imp_commands_total{target,status}
//   - imp_command_duration_seconds{target}
//   - imp_errors_by_class_total{class}, imp_errors_by_code_total{code}
//   - imp_policy_findings_total{policy,severity}
//   - imp_active_cycles, imp_restart_pending_operations,
//     imp_last_success_timestamp_seconds
//
// Work outside a cycle, such as validating a file, is wrapped with StartTask;
// a failed task counts under imp_errors_by_class_total{class="task"}.
//
// Metrics are served by Metrics.Handler, which the status API mounts at
// /metrics, or standalone with Metrics.ServeMetrics.
package telemetry
