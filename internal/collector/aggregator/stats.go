package aggregator

import (
	"encoding/json"
	"math"
	"time"

	"github.com/google/btree"
)

// PerformanceResult summarises one metric series.
type PerformanceResult struct {
	Count        int
	Min          float64
	Max          float64
	Mean         float64
	Median       float64
	CV           float64
	Percentile90 float64
	Percentile95 float64
	Percentile99 float64
}

func (r PerformanceResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"min":                    r.Min,
		"max":                    r.Max,
		"mean":                   r.Mean,
		"median":                 r.Median,
		"percentile|90%|95%|99%": []float64{r.Percentile90, r.Percentile95, r.Percentile99},
	})
}

// sample keys a value by its position so equal values are all kept in the tree.
type sample struct {
	v float64
	i int
}

func lessSample(a, b sample) bool {
	if a.v != b.v {
		return a.v < b.v
	}
	return a.i < b.i
}

// sorted returns values in ascending order.
func sorted(values []float64) []float64 {
	tr := btree.NewG[sample](16, lessSample)
	for i, v := range values {
		tr.ReplaceOrInsert(sample{v: v, i: i})
	}
	ret := make([]float64, 0, tr.Len())
	tr.Ascend(func(s sample) bool {
		ret = append(ret, s.v)
		return true
	})
	return ret
}

// GetPerformanceResult computes the summary of values. An empty series
// yields a zero result.
func GetPerformanceResult(values []float64) PerformanceResult {
	if len(values) == 0 {
		return PerformanceResult{}
	}
	vs := sorted(values)
	r := PerformanceResult{
		Count:  len(vs),
		Min:    vs[0],
		Max:    vs[len(vs)-1],
		Mean:   mean(vs),
		Median: median(vs),
	}
	r.CV = cv(vs, r.Mean)
	r.Percentile90 = percentile(vs, 90)
	r.Percentile95 = percentile(vs, 95)
	r.Percentile99 = percentile(vs, 99)
	return r
}

func mean(vs []float64) float64 {
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

func median(vs []float64) float64 {
	m := len(vs) / 2
	if len(vs)%2 == 1 {
		return vs[m]
	}
	return (vs[m-1] + vs[m]) / 2
}

func cv(vs []float64, mean float64) float64 {
	if mean == 0 {
		return 0
	}
	var acc float64
	for _, v := range vs {
		acc += (v - mean) * (v - mean)
	}
	return math.Sqrt(acc/float64(len(vs))) / mean
}

// percentile picks from sorted vs the value below which p percent of the
// samples fall, excluding the top (100-p)% entries.
func percentile(vs []float64, p int) float64 {
	all := len(vs)
	exclude := (100 - p) * all / 100
	return vs[max(all-1-exclude, 0)]
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
