package aggregator

import (
	"math"
	"testing"
)

func TestGetPerformanceResult(t *testing.T) {
	values := make([]float64, 0, 100)
	for i := 100; i >= 1; i-- {
		values = append(values, float64(i))
	}
	r := GetPerformanceResult(values)
	if r.Count != 100 || r.Min != 1 || r.Max != 100 {
		t.Fatalf("count/min/max = %d/%v/%v", r.Count, r.Min, r.Max)
	}
	if r.Mean != 50.5 || r.Median != 50.5 {
		t.Fatalf("mean/median = %v/%v", r.Mean, r.Median)
	}
	// 100 samples: p90 excludes the top 10, landing on the 90th value
	if r.Percentile90 != 90 || r.Percentile95 != 95 || r.Percentile99 != 99 {
		t.Fatalf("percentiles = %v/%v/%v", r.Percentile90, r.Percentile95, r.Percentile99)
	}
	if want := math.Sqrt(833.25) / 50.5; math.Abs(r.CV-want) > 1e-9 {
		t.Fatalf("cv = %v, want %v", r.CV, want)
	}
}

func TestGetPerformanceResultKeepsDuplicates(t *testing.T) {
	r := GetPerformanceResult([]float64{2, 2, 2, 8})
	if r.Count != 4 || r.Median != 2 || r.Mean != 3.5 {
		t.Fatalf("result = %+v", r)
	}
	if r.Percentile99 != 8 {
		t.Fatalf("p99 = %v", r.Percentile99)
	}
}

func TestGetPerformanceResultEdges(t *testing.T) {
	if r := GetPerformanceResult(nil); r != (PerformanceResult{}) {
		t.Fatalf("empty series = %+v", r)
	}
	r := GetPerformanceResult([]float64{0, 0})
	if r.CV != 0 || math.IsNaN(r.CV) {
		t.Fatalf("cv of zero series = %v", r.CV)
	}
	if r := GetPerformanceResult([]float64{7}); r.Percentile90 != 7 || r.Median != 7 {
		t.Fatalf("single = %+v", r)
	}
}
