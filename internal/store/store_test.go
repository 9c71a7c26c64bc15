package store

import "testing"

func TestSourceStatsSuccessRate(t *testing.T) {
	if _, ok := (SourceStats{}).SuccessRate(); ok {
		t.Fatal("expected no rate without history")
	}
	rate, ok := SourceStats{SuccessCount: 3, FailureCount: 1}.SuccessRate()
	if !ok || rate != 0.75 {
		t.Fatalf("SuccessRate() = %v, %v; want 0.75, true", rate, ok)
	}
}
