package lidar

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// RangeSummary describes the distance distribution of a scan.
type RangeSummary struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	P50    float64 `json:"p50"`
	P95    float64 `json:"p95"`
}

// SummariseRanges computes range statistics over points. The zero value is
// returned for an empty slice.
func SummariseRanges(points []Point) RangeSummary {
	if len(points) == 0 {
		return RangeSummary{}
	}
	d := make([]float64, len(points))
	for i, p := range points {
		d[i] = p.Distance
	}
	sort.Float64s(d)

	mean, std := stat.MeanStdDev(d, nil)
	if len(d) == 1 {
		std = 0
	}
	return RangeSummary{
		Count:  len(d),
		Min:    d[0],
		Max:    d[len(d)-1],
		Mean:   mean,
		StdDev: std,
		P50:    stat.Quantile(0.5, stat.Empirical, d, nil),
		P95:    stat.Quantile(0.95, stat.Empirical, d, nil),
	}
}
