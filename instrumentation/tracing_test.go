package instrumentation

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer(t *testing.T) (*Instrumentation, *tracetest.SpanRecorder) {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	inst, err := New(Config{
		Enabled:        true,
		TracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = inst.Shutdown(context.Background()) })
	return inst, recorder
}

func attrMap(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestRecordError(t *testing.T) {
	inst, recorder := newRecordingTracer(t)

	_, span := inst.Tracer("server").Start(context.Background(), "test-span")
	RecordError(span, errors.New("boom"))
	span.End()

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	if ended[0].Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", ended[0].Status().Code)
	}
	if len(ended[0].Events()) == 0 {
		t.Error("expected an exception event")
	}
}

func TestSetSpanSuccess(t *testing.T) {
	inst, recorder := newRecordingTracer(t)

	_, span := inst.Tracer("server").Start(context.Background(), "test-span")
	SetSpanSuccess(span)
	span.End()

	if got := recorder.Ended()[0].Status().Code; got != codes.Ok {
		t.Errorf("status = %v, want Ok", got)
	}
}

func TestAttributeHelpers(t *testing.T) {
	inst, recorder := newRecordingTracer(t)

	_, span := inst.Tracer("server").Start(context.Background(), "test-span")
	AddOAuthFlowAttributes(span, "client-1", "", "read write")
	AddPKCEAttributes(span, "S256")
	AddTokenFamilyAttributes(span, "fam-1")
	AddStorageAttributes(span, "consume_code", "memory")
	AddHTTPAttributes(span, "POST", "/oauth/token", 200)
	AddSecurityAttributes(span, "")
	span.End()

	attrs := attrMap(recorder.Ended()[0])

	if attrs[AttrClientID].AsString() != "client-1" {
		t.Errorf("%s = %q", AttrClientID, attrs[AttrClientID].AsString())
	}
	if _, ok := attrs[AttrUserID]; ok {
		t.Errorf("%s set for empty user", AttrUserID)
	}
	if attrs[AttrScope].AsString() != "read write" {
		t.Errorf("%s = %q", AttrScope, attrs[AttrScope].AsString())
	}
	if attrs[AttrPKCEMethod].AsString() != "S256" {
		t.Errorf("%s = %q", AttrPKCEMethod, attrs[AttrPKCEMethod].AsString())
	}
	if attrs[AttrTokenFamilyID].AsString() != "fam-1" {
		t.Errorf("%s = %q", AttrTokenFamilyID, attrs[AttrTokenFamilyID].AsString())
	}
	if attrs[AttrHTTPStatusCode].AsInt64() != 200 {
		t.Errorf("%s = %d", AttrHTTPStatusCode, attrs[AttrHTTPStatusCode].AsInt64())
	}
	if _, ok := attrs[AttrClientIP]; ok {
		t.Errorf("%s set for empty IP", AttrClientIP)
	}
}

func TestHelpers_NilSpan(t *testing.T) {
	// Should not panic
	RecordError(nil, errors.New("x"))
	SetSpanSuccess(nil)
	SetSpanError(nil, "x")
	AddOAuthFlowAttributes(nil, "c", "u", "s")
	AddHTTPAttributes(nil, "GET", "/", 200)
}
