package otel

import (
	"context"
	"testing"
)

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	t.Setenv("SOMNIA_OTEL_ENDPOINT", "")
	t.Setenv("SOMNIA_OTEL_ENABLED", "")

	shutdown, err := Setup(context.Background(), "somnia-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetup_NoopWhenExplicitlyDisabled(t *testing.T) {
	t.Setenv("SOMNIA_OTEL_ENDPOINT", "http://localhost:4318")
	t.Setenv("SOMNIA_OTEL_ENABLED", "false")

	shutdown, err := Setup(context.Background(), "somnia-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("noop shutdown should not error: %v", err)
	}
}

func TestSetup_CreatesProviderWhenEndpointSet(t *testing.T) {
	// Non-routable address; nothing is exported before shutdown.
	t.Setenv("SOMNIA_OTEL_ENDPOINT", "http://192.0.2.1:4318")
	t.Setenv("SOMNIA_OTEL_ENABLED", "")
	t.Setenv("SOMNIA_OTEL_SAMPLE_RATIO", "0.5")

	shutdown, err := Setup(context.Background(), "somnia-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestParseRatio(t *testing.T) {
	for in, ok := range map[string]bool{"0": true, "0.25": true, "1": true, "1.5": false, "-1": false, "x": false} {
		if _, got := parseRatio(in); got != ok {
			t.Fatalf("parseRatio(%q): got %v want %v", in, got, ok)
		}
	}
}
