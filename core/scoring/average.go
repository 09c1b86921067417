package scoring

import (
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/divecert/core"
)

// Average is the external-test aggregation: the mean of the present 0-100 scores,
// rounded to 2 decimals. Absent scores are ignored; no present score averages to 0.
func Average(scores ...null.Float64) float64 {
	var (
		sum float64
		n   int
	)
	for _, s := range scores {
		if !s.Valid {
			continue
		}
		sum += s.Float64
		n++
	}
	if n == 0 {
		return 0
	}
	return core.Round2(sum / float64(n))
}
