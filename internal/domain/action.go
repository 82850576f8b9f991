package domain

import (
	"github.com/shopspring/decimal"
)

// ActionKind is the closed set of actions a bank can take in one step.
// REPAY and INTEREST_PAYMENT are scheduled by the engine each step, not
// chosen by the policy, so they are not action kinds.
type ActionKind string

const (
	ActionLend   ActionKind = "LEND"
	ActionInvest ActionKind = "INVEST"
	ActionDivest ActionKind = "DIVEST"
	ActionHold   ActionKind = "HOLD"
)

// Action is the tagged variant dispatched by the transaction engine. Only the
// fields relevant to the kind are set: Counterparty for LEND, MarketID for
// INVEST/DIVEST, Amount for everything but HOLD.
type Action struct {
	Kind         ActionKind      `json:"kind"`
	Counterparty string          `json:"counterparty,omitempty"`
	MarketID     string          `json:"market_id,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	// Reason records why the policy picked this action, carried into the
	// event log for observability.
	Reason string `json:"reason,omitempty"`
}

// Hold returns a HOLD action with the given reason.
func Hold(reason string) Action {
	return Action{Kind: ActionHold, Amount: decimal.Zero, Reason: reason}
}
