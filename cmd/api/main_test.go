package main

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistryExportsRuntimeMetrics(t *testing.T) {
	reg := newRegistry()
	count, err := testutil.GatherAndCount(reg, "go_goroutines")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected go_goroutines to be exported, got %d series", count)
	}
}
