package telemetry

import (
	"context"
	"testing"
	"time"
)

func TestInit_NoEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), "", "certprobe", "test", false)
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("noop shutdown failed: %v", err)
	}
}

func TestInit_WithEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), "127.0.0.1:4318", "certprobe", "test", true)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// Nothing was recorded, so shutdown has nothing to export.
	if err := shutdown(ctx); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
