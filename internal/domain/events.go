package domain

import (
	"github.com/shopspring/decimal"
)

// EventType classifies entries in the event log.
type EventType string

const (
	EventIncreaseLending  EventType = "INCREASE_LENDING"
	EventRepayment        EventType = "REPAYMENT"
	EventInterestPayment  EventType = "INTEREST_PAYMENT"
	EventInvest           EventType = "INVEST"
	EventDivest           EventType = "DIVEST"
	EventHold             EventType = "HOLD"
	EventRejected         EventType = "REJECTED"
	EventDefault          EventType = "DEFAULT"
	EventLoanWriteDown    EventType = "LOAN_WRITE_DOWN"
	EventCapitalInjection EventType = "CAPITAL_INJECTION"
	EventBankRemoved      EventType = "BANK_REMOVED"
	EventStepSummary      EventType = "STEP_SUMMARY"
)

// Event is one immutable record in the append-only event log. The JSON field
// names are the wire contract consumed by the transport layer; they must not
// change.
type Event struct {
	Type     EventType       `json:"type" db:"type"`
	Step     int             `json:"step" db:"step"`
	FromBank string          `json:"from_bank" db:"from_bank"`
	ToBank   string          `json:"to_bank,omitempty" db:"to_bank"`
	MarketID string          `json:"market_id,omitempty" db:"market_id"`
	Amount   decimal.Decimal `json:"amount" db:"amount"`
	Reason   string          `json:"reason,omitempty" db:"reason"`
	// Summary is present only on STEP_SUMMARY events.
	Summary *StepSummary `json:"summary,omitempty" db:"-"`
}

// CascadeEvent records one resolved default cascade. It is created once per
// originating insolvency and never mutated afterwards.
type CascadeEvent struct {
	TriggerBank   string   `json:"trigger_bank"`
	AffectedBanks []string `json:"affected_banks"`
	Depth         int      `json:"depth"`
	Step          int      `json:"step"`
}

// BankState is a point-in-time snapshot of one bank, embedded in step
// summaries.
type BankState struct {
	ID          string          `json:"id"`
	Capital     decimal.Decimal `json:"capital"`
	Cash        decimal.Decimal `json:"cash"`
	Investments decimal.Decimal `json:"investments"`
	LoansGiven  decimal.Decimal `json:"loans_given"`
	LoansTaken  decimal.Decimal `json:"loans_taken"`
	Status      BankStatus      `json:"status"`
}

// MarketState is a point-in-time snapshot of one market.
type MarketState struct {
	ID            string          `json:"id"`
	Price         decimal.Decimal `json:"price"`
	TotalInvested decimal.Decimal `json:"total_invested"`
}

// StepSummary carries the aggregate statistics emitted at the end of every
// step. Field names are part of the wire contract.
type StepSummary struct {
	Step          int             `json:"step"`
	TotalDefaults int             `json:"total_defaults"`
	TotalEquity   decimal.Decimal `json:"total_equity"`
	BankStates    []BankState     `json:"bank_states"`
	MarketStates  []MarketState   `json:"market_states"`
}

// NetworkStats are the aggregate statistics the decision policy and risk
// assessor see each step.
type NetworkStats struct {
	Step            int             `json:"step"`
	ActiveBanks     int             `json:"active_banks"`
	TotalDefaults   int             `json:"total_defaults"`
	AverageLeverage float64         `json:"average_leverage"`
	StressedBanks   int             `json:"stressed_banks"`
	TotalEquity     decimal.Decimal `json:"total_equity"`
}
