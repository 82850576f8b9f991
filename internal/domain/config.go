package domain

import (
	"github.com/shopspring/decimal"
)

// SessionState represents the lifecycle of a simulation session.
type SessionState string

const (
	SessionUninitialized SessionState = "UNINITIALIZED"
	SessionInitialized   SessionState = "INITIALIZED"
	SessionRunning       SessionState = "RUNNING"
	SessionPaused        SessionState = "PAUSED"
	SessionStopped       SessionState = "STOPPED"
	SessionCompleted     SessionState = "COMPLETED"
)

// SimulationConfig holds the per-run parameters. Recovery rate and default
// threshold are configurable per run, not per bank.
type SimulationConfig struct {
	Steps            int             `json:"steps" validate:"required,gt=0"`
	InterestRate     float64         `json:"interest_rate" validate:"unit_interval"`
	RepaymentRate    float64         `json:"repayment_rate" validate:"unit_interval"`
	MarketVolatility float64         `json:"market_volatility" validate:"unit_interval"`
	RecoveryRate     float64         `json:"recovery_rate" validate:"unit_interval"`
	DefaultThreshold decimal.Decimal `json:"default_threshold"`
	MinOperatingCash decimal.Decimal `json:"min_operating_cash" validate:"gte=0"`
	// ExcessCashRatio is the cash/assets ratio above which an otherwise idle
	// bank parks a little cash in a market.
	ExcessCashRatio float64 `json:"excess_cash_ratio" validate:"unit_interval"`
	Seed            int64   `json:"seed"`
	// StepDelayMS paces the interactive loop so observers can follow along.
	// Zero means run flat out; batch runs ignore it.
	StepDelayMS int `json:"step_delay_ms" validate:"gte=0"`
}

// DefaultConfig returns the baseline configuration used when a field is not
// supplied by the caller.
func DefaultConfig() SimulationConfig {
	return SimulationConfig{
		Steps:            50,
		InterestRate:     0.05,
		RepaymentRate:    0.10,
		MarketVolatility: 0.10,
		RecoveryRate:     0.40,
		DefaultThreshold: decimal.Zero,
		MinOperatingCash: decimal.NewFromInt(10),
		ExcessCashRatio:  0.80,
		Seed:             1,
	}
}

// BankSpec describes one bank at initialization time.
type BankSpec struct {
	ID             string          `json:"id" validate:"required"`
	Capital        decimal.Decimal `json:"capital" validate:"gt=0"`
	TargetLeverage float64         `json:"target_leverage" validate:"gte=0"`
	RiskFactor     float64         `json:"risk_factor" validate:"unit_interval"`
}

// MarketSpec describes one investable index at initialization time.
type MarketSpec struct {
	ID           string          `json:"id" validate:"required"`
	InitialPrice decimal.Decimal `json:"initial_price" validate:"gte=0"`
}

// RunSummary is the aggregate result of a batch run.
type RunSummary struct {
	RunID         string          `json:"run_id" db:"run_id"`
	StepsExecuted int             `json:"steps_executed" db:"steps_executed"`
	Survivors     int             `json:"survivors" db:"survivors"`
	Defaults      int             `json:"defaults" db:"defaults"`
	FinalEquity   decimal.Decimal `json:"final_equity" db:"final_equity"`
	Cascades      int             `json:"cascades" db:"cascades"`
	Seed          int64           `json:"seed" db:"seed"`
}
