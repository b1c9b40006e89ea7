package health

import (
	"context"
	"errors"
	"testing"
)

func TestCheckAllReportsInOrder(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(ctx context.Context) error { return nil })
	r.Register("provider", func(ctx context.Context) error { return errors.New("timeout") })

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("aggregate should be unhealthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("statuses = %d", len(statuses))
	}
	if statuses[0].Name != "database" || !statuses[0].Healthy {
		t.Fatalf("first = %+v", statuses[0])
	}
	if statuses[1].Name != "provider" || statuses[1].Healthy || statuses[1].Detail != "timeout" {
		t.Fatalf("second = %+v", statuses[1])
	}
}

func TestRegisterReplacesByName(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(ctx context.Context) error { return errors.New("down") })
	r.Register("database", func(ctx context.Context) error { return nil })

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy || len(statuses) != 1 {
		t.Fatalf("healthy=%v statuses=%+v", healthy, statuses)
	}
}

func TestEmptyRegistryIsHealthy(t *testing.T) {
	healthy, statuses := NewRegistry().CheckAll(context.Background())
	if !healthy || len(statuses) != 0 {
		t.Fatalf("healthy=%v statuses=%+v", healthy, statuses)
	}
}
