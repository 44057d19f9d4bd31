// Package telemetry wires OpenTelemetry tracing and metrics export for
// recalld.
//
// The sync engine, retrieval pipeline and vector store backends create
// spans through the otel global tracer provider; New installs the OTLP
// providers as those globals when telemetry is enabled:
//
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
// Configuration lives under the "telemetry" key:
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc          # or http/protobuf
//	  sampling:
//	    rate: 1.0
//	  metrics:
//	    enabled: true
//	    export_interval: "15s"
//
// Tests use NewTestTelemetry, which records spans and metrics in memory.
package telemetry
