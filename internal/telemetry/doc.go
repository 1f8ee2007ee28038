// Package telemetry provides OpenTelemetry instrumentation for insightd.
//
// # Overview
//
// This package implements distributed tracing and metrics collection using the
// OpenTelemetry Go SDK. Telemetry is exported over OTLP to a collector; both
// gRPC and http/protobuf transports are supported.
//
// # Usage
//
// Create a telemetry instance at startup:
//
//	cfg := telemetry.NewDefaultConfig()
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(ctx)
//
// Instrumented packages obtain tracers and meters through the global otel
// providers, which New installs, so a single call is enough to light up every
// span and instrument in the process:
//
//	tracer := otel.Tracer("insightd.vectorstore")
//	ctx, span := tracer.Start(ctx, "index.query")
//	defer span.End()
//
// # Configuration
//
//	observability:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  service_name: "insightd"
//	  sampling:
//	    rate: 1.0
//	    always_on_errors: true
//	  metrics:
//	    enabled: true
//	    export_interval: "15s"
//
// # Error Handling
//
// Telemetry failures do not crash the daemon. If a provider cannot be built,
// the instance degrades gracefully and hands out no-op instruments.
//
// # Testing
//
// Use TestTelemetry for tests:
//
//	tt := telemetry.NewTestTelemetry()
//	tracer := tt.Tracer("test")
//	_, span := tracer.Start(ctx, "test-span")
//	span.End()
//	tt.AssertSpanExists(t, "test-span")
package telemetry
