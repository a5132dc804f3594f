package config

import "testing"

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.CatalogSchema != "pgtrickle" {
		t.Fatalf("expected default catalog schema, got %q", cfg.CatalogSchema)
	}
	if cfg.MinScheduleSeconds != 60 {
		t.Fatalf("expected default min_schedule_seconds=60, got %d", cfg.MinScheduleSeconds)
	}
	if cfg.DifferentialMaxChangeRatio != 0.3 {
		t.Fatalf("expected default change ratio 0.3, got %v", cfg.DifferentialMaxChangeRatio)
	}
}
