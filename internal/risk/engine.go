// Package risk scores a proposed credit extension with a rule-based engine.
// It stands in for the pretrained classifier: same interface, deterministic
// rules.
package risk

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"banknet/internal/domain"
)

// Score represents the accumulated riskiness of an exposure (0-100).
type Score int

const (
	ScoreLow      Score = 0
	ScoreMedium   Score = 35
	ScoreHigh     Score = 60
	ScoreCritical Score = 85
)

type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

// Assess evaluates a proposed exposure and returns a full verdict. It never
// fails; the error return satisfies the advisor interface shared with the
// remote strategic engine.
func (e *Engine) Assess(_ context.Context, input domain.AssessmentInput) (*domain.Assessment, error) {
	score := ScoreLow
	var reasons []string

	borrower := input.Borrower

	// Rule 1: exposure concentration against the borrower's equity.
	if borrower.Capital.LessThanOrEqual(decimal.Zero) {
		score += 50
		reasons = append(reasons, "borrower equity non-positive")
	} else if input.Exposure.GreaterThan(borrower.Capital.Mul(decimal.NewFromFloat(0.5))) {
		score += 25
		reasons = append(reasons, "exposure exceeds half of borrower equity")
	}

	// Rule 2: borrower already levered up with interbank debt.
	if borrower.Capital.GreaterThan(decimal.Zero) &&
		borrower.LoansTaken.GreaterThan(borrower.Capital) {
		score += 25
		reasons = append(reasons, "borrower debt exceeds its equity")
	}

	// Rule 3: thin cash buffer to service interest and repayments.
	if borrower.Cash.LessThan(input.Exposure) {
		score += 15
		reasons = append(reasons, "borrower cash below proposed exposure")
	}

	// Rule 4: repeat offender.
	if input.BorrowerPastDefaults > 0 {
		penalty := Score(20 * input.BorrowerPastDefaults)
		if penalty > 40 {
			penalty = 40
		}
		score += penalty
		reasons = append(reasons, fmt.Sprintf("borrower defaulted %d time(s) before", input.BorrowerPastDefaults))
	}

	// Rule 5: aggressive behavioral profile.
	if input.BorrowerRiskFactor > 0.7 {
		score += 10
		reasons = append(reasons, "borrower risk appetite is aggressive")
	}

	// Rule 6: stressed network amplifies any single failure.
	networkStressed := input.Network.ActiveBanks > 0 &&
		input.Network.StressedBanks*2 > input.Network.ActiveBanks
	if networkStressed {
		score += 15
		reasons = append(reasons, "over half of active banks are stressed")
	}

	if score > 100 {
		score = 100
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "no elevated risk signals")
	}

	p := clamp(float64(score)/100, 0.01, 0.99)
	level := levelFor(score)

	return &domain.Assessment{
		DefaultProbability: p,
		ExpectedLoss:       input.Exposure.Mul(decimal.NewFromFloat(p)),
		SystemicImpact:     systemicImpact(borrower, input.Network),
		CascadeRisk:        cascadeRisk(p, networkStressed),
		RiskLevel:          level,
		Recommendation:     recommendationFor(level),
		Confidence:         0.5 + abs(float64(score)-50)/100,
		Reasons:            reasons,
	}, nil
}

func levelFor(score Score) domain.RiskLevel {
	switch {
	case score >= ScoreCritical:
		return domain.RiskLevelCritical
	case score >= ScoreHigh:
		return domain.RiskLevelHigh
	case score >= ScoreMedium:
		return domain.RiskLevelMedium
	default:
		return domain.RiskLevelLow
	}
}

func recommendationFor(level domain.RiskLevel) domain.RecommendationType {
	switch level {
	case domain.RiskLevelLow:
		return domain.RecommendExtendCredit
	case domain.RiskLevelMedium:
		return domain.RecommendHold
	case domain.RiskLevelHigh:
		return domain.RecommendReduceExposure
	default:
		return domain.RecommendReject
	}
}

// systemicImpact measures how much of the network's equity the borrower's
// liabilities represent.
func systemicImpact(borrower domain.BankState, network domain.NetworkStats) float64 {
	if network.TotalEquity.LessThanOrEqual(decimal.Zero) {
		return 1
	}
	impact, _ := borrower.LoansTaken.Div(network.TotalEquity).Float64()
	return clamp(impact, 0, 1)
}

func cascadeRisk(defaultProbability float64, networkStressed bool) float64 {
	risk := defaultProbability * 0.6
	if networkStressed {
		risk += 0.3
	}
	return clamp(risk, 0, 1)
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

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
