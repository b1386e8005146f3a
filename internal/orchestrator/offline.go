package orchestrator

import (
	"math"

	"github.com/google/uuid"

	"github.com/sells-group/geo-analyzer/internal/lexicon"
	"github.com/sells-group/geo-analyzer/internal/model"
)

const (
	offlineBaseStrength     = 0.45
	offlineBaseNegative     = 0.1
	offlinePositiveSentiment = 0.2
	offlineNegativeSentiment = -0.3
)

// simulateOffline produces a deterministic synthetic run over the virtual
// catalog. The recommendation strength and negative ratio are derived from
// keyword hits in the product description.
func (o *Orchestrator) simulateOffline(req model.DiagnosisRequest, iterations int) *model.RunResult {
	positive := o.lex.PositiveHits(req.ProductDescription)
	negative := o.lex.NegativeHits(req.ProductDescription)

	strength := offlineBaseStrength
	for _, d := range positive {
		strength += d
	}
	for _, d := range negative {
		strength -= d / 2
	}
	strength = lexicon.Clamp(strength, 0.05, 0.95)
	recommendedRuns := int(math.RoundToEven(float64(iterations) * strength))

	ratio := offlineBaseNegative
	for _, d := range negative {
		ratio += d
	}
	ratio = lexicon.Clamp(ratio, 0, 0.9)
	negativeRuns := int(math.RoundToEven(float64(iterations) * ratio))

	competitors := o.lex.InlineCompetitors(req)
	observations := make([]model.Observation, 0, iterations*len(o.catalog))
	coverage := make(map[string]bool, len(o.catalog))

	for pi, vp := range o.catalog {
		coverage[vp.Key] = false
		for i := 0; i < iterations; i++ {
			obs := model.Observation{
				Iteration:   len(observations) + 1,
				Provider:    vp.Label,
				ProviderKey: vp.Key,
				Recommended: i < recommendedRuns,
				Sentiment:   offlinePositiveSentiment,
				Tag:         o.lex.CycleTag(i),
			}
			if !obs.Recommended && len(competitors) > 0 {
				obs.Competitor = competitors[(i+pi)%len(competitors)]
			}
			if i < negativeRuns {
				obs.Sentiment = offlineNegativeSentiment
			}
			observations = append(observations, obs)
		}
	}

	return &model.RunResult{
		TaskID:       uuid.NewString(),
		Observations: observations,
		Coverage:     coverage,
	}
}
