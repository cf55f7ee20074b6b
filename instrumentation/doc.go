// Package instrumentation provides OpenTelemetry metrics and tracing for the
// authorization server.
//
// Providers are injected through Config; when none are given the global
// providers registered with go.opentelemetry.io/otel are used, and a disabled
// Config falls back to no-op providers:
//
//	reader := sdkmetric.NewManualReader()
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "authserver",
//		Enabled:        true,
//		MeterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
//		TracerProvider: sdktrace.NewTracerProvider(),
//	})
//	if err != nil {
//		return err
//	}
//	defer inst.Shutdown(context.Background())
//
// Span attribute keys never carry credential values. Codes and tokens are
// described by metadata only (grant type, PKCE method, family ID, reuse flags).
package instrumentation
