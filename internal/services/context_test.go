package services_test

import (
	"context"
	"testing"

	"omzet/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJobID(ctx, "job-1")
	ctx = services.WithLibrary(ctx, "movies")
	ctx = services.WithTask(ctx, "h265_encoder")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.JobIDFromContext(ctx); !ok || id != "job-1" {
		t.Fatalf("unexpected job id: %v %v", id, ok)
	}
	if lib, ok := services.LibraryFromContext(ctx); !ok || lib != "movies" {
		t.Fatalf("unexpected library: %v %v", lib, ok)
	}
	if task, ok := services.TaskFromContext(ctx); !ok || task != "h265_encoder" {
		t.Fatalf("unexpected task: %v %v", task, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithTask(ctx, "")
	ctx = services.WithJobID(ctx, "")
	if _, ok := services.TaskFromContext(ctx); ok {
		t.Fatal("expected no task value")
	}
	if _, ok := services.JobIDFromContext(ctx); ok {
		t.Fatal("expected no job id value")
	}
}
