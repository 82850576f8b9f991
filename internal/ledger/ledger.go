// Package ledger applies primitive, invariant-preserving mutations to one
// bank's balance sheet. The transaction engine validates preconditions before
// calling; the checks here are a defensive last line.
package ledger

import (
	"github.com/shopspring/decimal"

	"banknet/internal/domain"
	"banknet/pkg/errors"
)

// TransferKind selects which sub-ledger a cash movement touches.
type TransferKind string

const (
	KindLendOut  TransferKind = "LEND_OUT"  // cash out, loans_given up
	KindLendIn   TransferKind = "LEND_IN"   // cash in, loans_taken up
	KindRepayOut TransferKind = "REPAY_OUT" // cash out, loans_taken down
	KindRepayIn  TransferKind = "REPAY_IN"  // cash in, loans_given down
	KindInvest   TransferKind = "INVEST"    // cash out, investments up
	KindDivest   TransferKind = "DIVEST"    // cash in, investments down
)

// Ledger wraps a single bank. It holds no state of its own.
type Ledger struct {
	bank *domain.Bank
}

func New(bank *domain.Bank) *Ledger {
	return &Ledger{bank: bank}
}

// Bank returns the underlying bank record.
func (l *Ledger) Bank() *domain.Bank {
	return l.bank
}

// ApplyTransfer debits or credits cash together with the matching sub-ledger
// entry. Transfers move value between asset classes and never change capital.
// Outgoing transfers fail with ErrInsufficientFunds when amount exceeds cash.
func (l *Ledger) ApplyTransfer(counterparty string, amount decimal.Decimal, kind TransferKind) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return errors.ErrNegativeAmount
	}

	switch kind {
	case KindLendOut:
		if amount.GreaterThan(l.bank.Cash) {
			return errors.ErrInsufficientFunds
		}
		l.bank.Cash = l.bank.Cash.Sub(amount)
		l.bank.LoansGiven[counterparty] = l.bank.LoansGiven[counterparty].Add(amount)

	case KindLendIn:
		l.bank.Cash = l.bank.Cash.Add(amount)
		l.bank.LoansTaken[counterparty] = l.bank.LoansTaken[counterparty].Add(amount)

	case KindRepayOut:
		if amount.GreaterThan(l.bank.Cash) {
			return errors.ErrInsufficientFunds
		}
		l.bank.Cash = l.bank.Cash.Sub(amount)
		remaining := l.bank.LoansTaken[counterparty].Sub(amount)
		if remaining.IsZero() {
			delete(l.bank.LoansTaken, counterparty)
		} else {
			l.bank.LoansTaken[counterparty] = remaining
		}

	case KindRepayIn:
		l.bank.Cash = l.bank.Cash.Add(amount)
		remaining := l.bank.LoansGiven[counterparty].Sub(amount)
		if remaining.IsZero() {
			delete(l.bank.LoansGiven, counterparty)
		} else {
			l.bank.LoansGiven[counterparty] = remaining
		}

	case KindInvest:
		if amount.GreaterThan(l.bank.Cash) {
			return errors.ErrInsufficientFunds
		}
		l.bank.Cash = l.bank.Cash.Sub(amount)
		l.bank.Investments[counterparty] = l.bank.Investments[counterparty].Add(amount)

	case KindDivest:
		holding := l.bank.Investments[counterparty]
		if amount.GreaterThan(holding) {
			return errors.ErrInsufficientFunds
		}
		l.bank.Cash = l.bank.Cash.Add(amount)
		remaining := holding.Sub(amount)
		if remaining.IsZero() {
			delete(l.bank.Investments, counterparty)
		} else {
			l.bank.Investments[counterparty] = remaining
		}
	}

	return nil
}

// MarkToMarket revalues the holding in one market after a price move and
// books the delta straight into capital. No cash moves. Returns the booked
// delta.
func (l *Ledger) MarkToMarket(marketID string, newPrice, oldPrice decimal.Decimal) decimal.Decimal {
	holding, ok := l.bank.Investments[marketID]
	if !ok || holding.IsZero() || oldPrice.IsZero() {
		return decimal.Zero
	}

	delta := holding.Mul(newPrice.Sub(oldPrice)).Div(oldPrice)
	l.bank.Investments[marketID] = holding.Add(delta)
	l.bank.Capital = l.bank.Capital.Add(delta)
	return delta
}

// DebitInterest charges an interest expense: capital and cash fall together.
// Interest is a forced payment; cash may overdraw transiently, insolvency is
// caught by the cascade check at the end of the step.
func (l *Ledger) DebitInterest(amount decimal.Decimal) {
	l.bank.Cash = l.bank.Cash.Sub(amount)
	l.bank.Capital = l.bank.Capital.Sub(amount)
}

// CreditInterest books interest income: capital and cash rise together.
func (l *Ledger) CreditInterest(amount decimal.Decimal) {
	l.bank.Cash = l.bank.Cash.Add(amount)
	l.bank.Capital = l.bank.Capital.Add(amount)
}

// AddCapital injects equity as cash. Used by the paused-session mutation
// command.
func (l *Ledger) AddCapital(amount decimal.Decimal) {
	l.bank.Cash = l.bank.Cash.Add(amount)
	l.bank.Capital = l.bank.Capital.Add(amount)
}

// WriteDownLoanGiven settles a loan to a defaulted borrower on the creditor
// side: the recovered portion arrives as cash, the position is removed, and
// capital absorbs the unrecovered loss.
func (l *Ledger) WriteDownLoanGiven(borrowerID string, recovered, loss decimal.Decimal) {
	l.bank.Cash = l.bank.Cash.Add(recovered)
	delete(l.bank.LoansGiven, borrowerID)
	l.bank.Capital = l.bank.Capital.Sub(loss)
}

// SettleLoanTaken mirrors the write-down on the defaulted borrower's books:
// the recovery is paid out of its estate and the liability disappears. The
// forgiven remainder accrues to capital, moving it back toward the threshold
// without ever reviving the bank.
func (l *Ledger) SettleLoanTaken(lenderID string, recovered, forgiven decimal.Decimal) {
	l.bank.Cash = l.bank.Cash.Sub(recovered)
	delete(l.bank.LoansTaken, lenderID)
	l.bank.Capital = l.bank.Capital.Add(forgiven)
}

// WriteOffDust removes a residual position below the negligible-loan
// threshold, keeping the capital identity exact on both books.
func (l *Ledger) WriteOffDust(counterparty string, amount decimal.Decimal, given bool) {
	if given {
		delete(l.bank.LoansGiven, counterparty)
		l.bank.Capital = l.bank.Capital.Sub(amount)
	} else {
		delete(l.bank.LoansTaken, counterparty)
		l.bank.Capital = l.bank.Capital.Add(amount)
	}
}

// IsInsolvent reports whether capital has fallen to or below the default
// threshold.
func (l *Ledger) IsInsolvent(threshold decimal.Decimal) bool {
	return l.bank.Capital.LessThanOrEqual(threshold)
}

// IdentityResidual returns capital minus net assets. Zero (within rounding)
// after every applied transaction; a non-trivial residual is an internal bug.
func (l *Ledger) IdentityResidual() decimal.Decimal {
	net := l.bank.Cash.
		Add(l.bank.TotalInvestments()).
		Add(l.bank.TotalLoansGiven()).
		Sub(l.bank.TotalLoansTaken())
	return l.bank.Capital.Sub(net)
}
