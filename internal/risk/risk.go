// Package risk computes a transparent, deterministic risk score from
// change facts. It never reads the wall clock or does I/O: same
// ChangeFacts always yields the same RiskScore, on any host.
package risk

import (
	"math"

	"github.com/Ava-Prime/gitguard-sub000/internal/model"
)

// Weights is the configuration surface for the scorer: SIZE_THRESHOLD,
// MAX_FILES, PERF_BUDGET from spec §6.
type Weights struct {
	SizeThreshold float64
	MaxFiles      float64
	PerfBudget    float64
}

// DefaultWeights matches the defaults named in spec §4.4.
func DefaultWeights() Weights {
	return Weights{SizeThreshold: 800, MaxFiles: 50, PerfBudget: 1.0}
}

var typeRiskTable = map[model.ChangeType]float64{
	model.ChangeDocs:     0.05,
	model.ChangeChore:    0.10,
	model.ChangeFix:      0.20,
	model.ChangeFeat:     0.25,
	model.ChangeRefactor: 0.20,
}

const (
	capTypeRisk     = 0.25
	capSizeRisk     = 0.25
	capChurnRisk    = 0.10
	capCoverageRisk = 0.20
	capPerfRisk     = 0.20
	capSecurityRisk = 0.30
	capRubricRisk   = 0.25
	testBonus       = -0.15

	securityRiskValue = 0.30
	rubricRiskPerItem = 0.05
)

// Score computes the eight-factor breakdown and the clamped, rounded
// total from spec §4.4. The breakdown map is always fully populated
// (zero-valued factors included) so the policy receipt and PR digest
// can render a stable table.
func Score(facts model.ChangeFacts, w Weights) model.RiskScore {
	breakdown := map[string]float64{
		"type_risk":     clamp(typeRiskTable[facts.ChangeType], 0, capTypeRisk),
		"size_risk":     clamp(ratio(float64(facts.LinesChanged), w.SizeThreshold), 0, capSizeRisk),
		"churn_risk":    clamp(ratio(float64(len(facts.FilesTouched)), w.MaxFiles), 0, capChurnRisk),
		"coverage_risk": clamp(ratio(math.Max(-facts.CoverageDelta, 0), 1.0), 0, capCoverageRisk),
		"perf_risk":     clamp(ratio(math.Max(facts.PerfDelta, 0), w.PerfBudget), 0, capPerfRisk),
		"security_risk": securityRisk(facts.SecurityFlags),
		"rubric_risk":   clamp(float64(len(facts.RubricFailures))*rubricRiskPerItem, 0, capRubricRisk),
		"test_bonus":    testBonusValue(facts.NewTests),
	}

	var sum float64
	for _, v := range breakdown {
		sum += v
	}
	value := round3(clamp(sum, 0, 1))

	return model.RiskScore{Value: value, Breakdown: breakdown}
}

func securityRisk(flagged bool) float64 {
	if flagged {
		return securityRiskValue
	}
	return 0
}

func testBonusValue(newTests bool) float64 {
	if newTests {
		return testBonus
	}
	return 0
}

func ratio(numerator, denominator float64) float64 {
	if denominator <= 0 {
		return 0
	}
	return numerator / denominator
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
