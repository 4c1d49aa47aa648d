package tracing

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNormalizeMode(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]string{
		"":         ModeOff,
		"OFF":      ModeOff,
		" always ": ModeAlways,
		"sampled":  ModeSampled,
		"bogus":    ModeOff,
	} {
		if got := NormalizeMode(in); got != want {
			t.Fatalf("NormalizeMode(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSetupAlwaysRecordsSpans(t *testing.T) {
	rt, err := Setup(Config{Mode: ModeAlways})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer rt.Shutdown(context.Background())

	rec := tracetest.NewSpanRecorder()
	rt.Provider.RegisterSpanProcessor(rec)

	_, span := otel.Tracer("test").Start(context.Background(), "cycle")
	span.End()

	if got := len(rec.Ended()); got != 1 {
		t.Fatalf("ended spans = %d, want 1", got)
	}
	if name := rec.Ended()[0].Name(); name != "cycle" {
		t.Fatalf("span name = %q", name)
	}
}
