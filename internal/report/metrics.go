package report

import (
	"math"

	"github.com/sells-group/geo-analyzer/internal/model"
)

// snapshotEvery is the observation interval between progress snapshots.
const snapshotEvery = 5

// EstimatedNegativeRate is the negative rate reported by the estimation model.
const EstimatedNegativeRate = 8.0

// Build computes report metrics from a run's observations. The SOV is the
// share of observations that recommended the product; the negative rate the
// share with negative sentiment. Competitors are counted over observations
// that did not recommend the product.
func Build(_ model.DiagnosisRequest, res *model.RunResult) model.Metrics {
	m := model.Metrics{
		Competitors: make(map[string]int),
		Coverage:    copyCoverage(res.Coverage),
		CacheNote:   res.CacheNote,
	}

	var tags []string
	seenTag := make(map[string]bool)
	recommended, negative := 0, 0
	for i, o := range res.Observations {
		if o.Recommended {
			recommended++
		} else if o.Competitor != "" {
			m.Competitors[o.Competitor]++
		}
		if o.Sentiment < 0 {
			negative++
			if o.Tag != "" && !seenTag[o.Tag] {
				seenTag[o.Tag] = true
				tags = append(tags, o.Tag)
			}
		}
		if n := i + 1; n%snapshotEvery == 0 {
			m.Snapshots = append(m.Snapshots, model.Snapshot{
				Iteration:    n,
				SOVProgress:  percent(recommended, n),
				NegativeRate: percent(negative, n),
			})
		}
	}

	total := len(res.Observations)
	m.RecommendationCount = recommended
	m.SOVPercentage = percent(recommended, total)
	m.NegativeRate = percent(negative, total)
	if len(tags) == 0 {
		tags = []string{model.DefaultPositiveTag}
	}
	m.NegativeTags = tags
	return m
}

// Estimate returns the industry-estimation metrics used for degraded runs.
// coverage may be nil.
func Estimate(industry model.Industry, iterations int, coverage map[string]bool) model.Metrics {
	sov := industry.BenchmarkRate()
	m := model.Metrics{
		SOVPercentage:       float64(sov),
		RecommendationCount: int(math.RoundToEven(float64(iterations*sov) / 100)),
		NegativeRate:        EstimatedNegativeRate,
		NegativeTags:        []string{model.EstimationNote},
		Competitors:         map[string]int{},
		Coverage:            copyCoverage(coverage),
		Degraded:            true,
		EstimationNote:      model.EstimationNote,
	}
	for i := 1; i <= iterations/snapshotEvery; i++ {
		m.Snapshots = append(m.Snapshots, model.Snapshot{
			Iteration:    i * snapshotEvery,
			SOVProgress:  float64(sov),
			NegativeRate: EstimatedNegativeRate,
		})
	}
	return m
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*100*100) / 100
}

func copyCoverage(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
