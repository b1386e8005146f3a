// Package lexicon holds the keyword tables used to score provider responses
// and to drive the offline and estimation paths.
package lexicon

import (
	"maps"
	"os"
	"regexp"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/geo-analyzer/internal/model"
)

// FallbackTag is used for strongly negative sentiment when no negative tags
// are configured.
const FallbackTag = "体验波动"

var mentionRE = regexp.MustCompile(`[A-Z][A-Za-z0-9\-]+`)

// Lexicon is a set of weighted keywords and tag phrases.
type Lexicon struct {
	Positive        map[string]float64          `yaml:"positive"`
	Negative        map[string]float64          `yaml:"negative"`
	NegativeTags    []string                    `yaml:"negative_tags"`
	DegradeKeywords []string                    `yaml:"degrade_keywords"`
	Competitors     map[model.Industry][]string `yaml:"competitors"`
}

// Default returns the built-in lexicon.
func Default() *Lexicon {
	return &Lexicon{
		Positive: map[string]float64{
			"旗舰":      0.12,
			"智能":      0.08,
			"高端":      0.07,
			"领先":      0.1,
			"trusted": 0.09,
			"稳定":      0.05,
		},
		Negative: map[string]float64{
			"bug":  0.15,
			"投诉":   0.12,
			"延迟":   0.1,
			"slow": 0.08,
			"昂贵":   0.07,
			"复杂":   0.05,
			"崩溃":   0.16,
		},
		NegativeTags:    []string{"性价比高", "界面复杂", "稳定性波动", "客服响应慢"},
		DegradeKeywords: []string{"timeout", "熔断", "degrade"},
		Competitors: map[model.Industry][]string{
			model.IndustrySaaS:                {"OptiStack", "DataPulse", "NeuronSuite"},
			model.IndustryConsumerElectronics: {"NovaWave", "ArcLight", "PulseOne"},
			model.IndustryFinance:             {"FinPulse", "LedgerX", "CrestPay"},
			model.IndustryEducation:           {"LearnSphere", "EduNova", "MindBridge"},
			model.IndustryOther:               {"OmniLab", "PrimeSphere", "TerraBeam"},
		},
	}
}

// Load reads a YAML lexicon from path. Sections missing from the file keep
// their built-in values.
func Load(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "lexicon: read %s", path)
	}
	var file Lexicon
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrapf(err, "lexicon: parse %s", path)
	}

	lex := Default()
	if len(file.Positive) > 0 {
		lex.Positive = file.Positive
	}
	if len(file.Negative) > 0 {
		lex.Negative = file.Negative
	}
	if len(file.NegativeTags) > 0 {
		lex.NegativeTags = file.NegativeTags
	}
	if len(file.DegradeKeywords) > 0 {
		lex.DegradeKeywords = file.DegradeKeywords
	}
	for industry, names := range file.Competitors {
		if !industry.Valid() {
			return nil, eris.Errorf("lexicon: unknown industry %q", industry)
		}
		lex.Competitors[industry] = names
	}
	return lex, nil
}

// hits returns the deltas of the keywords of table present in text, in
// keyword order so float sums are reproducible.
func hits(table map[string]float64, text string) []float64 {
	lowered := strings.ToLower(text)
	var out []float64
	for _, kw := range slices.Sorted(maps.Keys(table)) {
		if strings.Contains(lowered, strings.ToLower(kw)) {
			out = append(out, table[kw])
		}
	}
	return out
}

// PositiveHits returns the deltas of positive keywords present in text.
func (l *Lexicon) PositiveHits(text string) []float64 { return hits(l.Positive, text) }

// NegativeHits returns the deltas of negative keywords present in text.
func (l *Lexicon) NegativeHits(text string) []float64 { return hits(l.Negative, text) }

// Sentiment scores text as positive deltas minus negative deltas, clamped
// to [-1, 1].
func (l *Lexicon) Sentiment(text string) float64 {
	score := 0.0
	for _, d := range l.PositiveHits(text) {
		score += d
	}
	for _, d := range l.NegativeHits(text) {
		score -= d
	}
	return Clamp(score, -1, 1)
}

// Tag picks a tag phrase for a sentiment score: the leading negative tag
// for any negative score, the positive tag otherwise.
func (l *Lexicon) Tag(sentiment float64) string {
	if sentiment >= 0 {
		return model.DefaultPositiveTag
	}
	if len(l.NegativeTags) > 0 {
		return l.NegativeTags[0]
	}
	return FallbackTag
}

// CycleTag returns the i-th negative tag, wrapping around.
func (l *Lexicon) CycleTag(i int) string {
	if len(l.NegativeTags) == 0 {
		return model.DefaultPositiveTag
	}
	return l.NegativeTags[i%len(l.NegativeTags)]
}

// Mentions extracts capitalized product-like names from text in order of
// appearance. Duplicates are kept.
func Mentions(text string) []string {
	return mentionRE.FindAllString(text, -1)
}

// InlineCompetitors returns the distinct capitalized names mentioned in the
// request description, or the industry defaults when there are none.
func (l *Lexicon) InlineCompetitors(req model.DiagnosisRequest) []string {
	out := dedupe(Mentions(req.ProductDescription))
	if len(out) == 0 {
		out = dedupe(l.Competitors[req.Industry])
	}
	return out
}

// ShouldEstimate reports whether the request text carries a degrade keyword
// that forces the industry estimation path.
func (l *Lexicon) ShouldEstimate(req model.DiagnosisRequest) bool {
	text := req.NormalizedFullText()
	for _, kw := range l.DegradeKeywords {
		if strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
