package domain

import (
	"github.com/shopspring/decimal"
)

// RecommendationType is the advice vocabulary shared by the risk classifier
// and the strategic engine.
type RecommendationType string

const (
	RecommendExtendCredit   RecommendationType = "EXTEND_CREDIT"
	RecommendHold           RecommendationType = "HOLD"
	RecommendReduceExposure RecommendationType = "REDUCE_EXPOSURE"
	RecommendReject         RecommendationType = "REJECT"
)

// RiskLevel buckets an assessment for human consumption.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// AssessmentInput is everything an advisor sees when asked about a proposed
// credit extension.
type AssessmentInput struct {
	Borrower BankState       `json:"borrower"`
	Lender   BankState       `json:"lender"`
	Network  NetworkStats    `json:"network"`
	Markets  []MarketState   `json:"markets"`
	Exposure decimal.Decimal `json:"exposure"`
	// BorrowerPastDefaults and BorrowerRiskFactor carry the behavioral
	// fields BankState omits.
	BorrowerPastDefaults int     `json:"borrower_past_defaults"`
	BorrowerRiskFactor   float64 `json:"borrower_risk_factor"`
}

// Assessment is an advisor's verdict. Advisors are advisory only: the policy
// keeps its liquidity floor regardless of what an assessment says.
type Assessment struct {
	DefaultProbability float64            `json:"default_probability"`
	ExpectedLoss       decimal.Decimal    `json:"expected_loss"`
	SystemicImpact     float64            `json:"systemic_impact"`
	CascadeRisk        float64            `json:"cascade_risk"`
	RiskLevel          RiskLevel          `json:"risk_level"`
	Recommendation     RecommendationType `json:"recommendation"`
	Confidence         float64            `json:"confidence"`
	Reasons            []string           `json:"reasons"`
}
