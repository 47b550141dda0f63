package otel

import (
	"context"
	"testing"
)

func TestSetup_NoEndpointIsNoop(t *testing.T) {
	t.Setenv("SCREENLESS_OTEL_ENDPOINT", "")

	shutdown, err := Setup(context.Background(), "engine")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if shutdown == nil {
		t.Fatal("expected shutdown function")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("noop shutdown: %v", err)
	}
}

func TestSetup_DisabledFlagWins(t *testing.T) {
	t.Setenv("SCREENLESS_OTEL_ENDPOINT", "http://localhost:4318")
	t.Setenv("SCREENLESS_OTEL_ENABLED", "false")

	shutdown, err := Setup(context.Background(), "engine")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("noop shutdown: %v", err)
	}
}
