// Package engine executes one economized action at a time against the
// session's balance sheets. Every execution is all-or-nothing: a failed
// precondition leaves both ledgers untouched and yields a REJECTED event.
package engine

import (
	"github.com/shopspring/decimal"

	"banknet/internal/domain"
	"banknet/internal/ledger"
	"banknet/internal/market"
	"banknet/pkg/errors"
	"banknet/pkg/logger"
)

// negligiblePrincipal is the threshold below which a loan is written off
// rather than carried as dust.
var negligiblePrincipal = decimal.NewFromFloat(0.1)

// repaymentCashCap limits a scheduled repayment to half of the borrower's
// cash so that repayment alone cannot drain a bank.
var repaymentCashCap = decimal.NewFromFloat(0.5)

// Engine mutates the session-owned banks, loan book, and markets. It holds
// no state of its own and is safe to recreate per run.
type Engine struct {
	banks   map[string]*domain.Bank
	loans   *domain.LoanBook
	markets map[string]*market.Market
	log     logger.Logger
}

func New(banks map[string]*domain.Bank, loans *domain.LoanBook, markets map[string]*market.Market, log logger.Logger) *Engine {
	return &Engine{
		banks:   banks,
		loans:   loans,
		markets: markets,
		log:     log,
	}
}

// Execute runs a single action for one bank. Precondition failures are not
// errors: they return a REJECTED event and leave all state unchanged. A
// non-nil error indicates a caller bug (unknown bank or action kind).
func (e *Engine) Execute(step int, bankID string, action domain.Action) (*domain.Event, error) {
	bank, ok := e.banks[bankID]
	if !ok {
		return nil, errors.ErrBankNotFound
	}
	if bank.Status != domain.BankStatusActive {
		return nil, errors.ErrBankDefaulted
	}

	switch action.Kind {
	case domain.ActionLend:
		return e.lend(step, bank, action)
	case domain.ActionInvest:
		return e.invest(step, bank, action)
	case domain.ActionDivest:
		return e.divest(step, bank, action)
	case domain.ActionHold:
		return &domain.Event{
			Type:     domain.EventHold,
			Step:     step,
			FromBank: bank.ID,
			Amount:   decimal.Zero,
			Reason:   action.Reason,
		}, nil
	default:
		return nil, errors.Wrap(errors.ErrCommandNotAllowed, "unknown action kind "+string(action.Kind))
	}
}

func (e *Engine) lend(step int, lender *domain.Bank, action domain.Action) (*domain.Event, error) {
	borrower, ok := e.banks[action.Counterparty]
	if !ok {
		return e.reject(step, lender.ID, action, "borrower not found"), nil
	}
	if borrower.ID == lender.ID {
		return e.reject(step, lender.ID, action, "self lending"), nil
	}
	if borrower.Status != domain.BankStatusActive {
		return e.reject(step, lender.ID, action, "borrower defaulted"), nil
	}
	if action.Amount.GreaterThan(lender.Cash) {
		return e.reject(step, lender.ID, action, "insufficient cash"), nil
	}

	if err := ledger.New(lender).ApplyTransfer(borrower.ID, action.Amount, ledger.KindLendOut); err != nil {
		return e.reject(step, lender.ID, action, err.Error()), nil
	}
	if err := ledger.New(borrower).ApplyTransfer(lender.ID, action.Amount, ledger.KindLendIn); err != nil {
		// Undo the debit so the pair stays atomic. LendIn has no
		// preconditions, so this path is unreachable in practice.
		_ = ledger.New(lender).ApplyTransfer(borrower.ID, action.Amount, ledger.KindRepayIn)
		return e.reject(step, lender.ID, action, err.Error()), nil
	}
	e.loans.Extend(lender.ID, borrower.ID, action.Amount)

	return &domain.Event{
		Type:     domain.EventIncreaseLending,
		Step:     step,
		FromBank: lender.ID,
		ToBank:   borrower.ID,
		Amount:   action.Amount,
		Reason:   action.Reason,
	}, nil
}

func (e *Engine) invest(step int, bank *domain.Bank, action domain.Action) (*domain.Event, error) {
	mkt, ok := e.markets[action.MarketID]
	if !ok {
		return e.reject(step, bank.ID, action, "market not found"), nil
	}
	if action.Amount.GreaterThan(bank.Cash) {
		return e.reject(step, bank.ID, action, "insufficient cash"), nil
	}

	if err := ledger.New(bank).ApplyTransfer(mkt.ID, action.Amount, ledger.KindInvest); err != nil {
		return e.reject(step, bank.ID, action, err.Error()), nil
	}
	mkt.Invest(action.Amount)

	return &domain.Event{
		Type:     domain.EventInvest,
		Step:     step,
		FromBank: bank.ID,
		MarketID: mkt.ID,
		Amount:   action.Amount,
		Reason:   action.Reason,
	}, nil
}

func (e *Engine) divest(step int, bank *domain.Bank, action domain.Action) (*domain.Event, error) {
	mkt, ok := e.markets[action.MarketID]
	if !ok {
		return e.reject(step, bank.ID, action, "market not found"), nil
	}

	// No short positions: cap at the current holding.
	amount := action.Amount
	if holding := bank.Investments[mkt.ID]; amount.GreaterThan(holding) {
		amount = holding
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return e.reject(step, bank.ID, action, "no holding to divest"), nil
	}

	if err := ledger.New(bank).ApplyTransfer(mkt.ID, amount, ledger.KindDivest); err != nil {
		return e.reject(step, bank.ID, action, err.Error()), nil
	}
	mkt.Divest(amount)

	return &domain.Event{
		Type:     domain.EventDivest,
		Step:     step,
		FromBank: bank.ID,
		MarketID: mkt.ID,
		Amount:   amount,
		Reason:   action.Reason,
	}, nil
}

func (e *Engine) reject(step int, bankID string, action domain.Action, reason string) *domain.Event {
	e.log.Debug("action rejected", map[string]interface{}{
		"bank":   bankID,
		"kind":   string(action.Kind),
		"amount": action.Amount.String(),
		"reason": reason,
	})
	return &domain.Event{
		Type:     domain.EventRejected,
		Step:     step,
		FromBank: bankID,
		ToBank:   action.Counterparty,
		MarketID: action.MarketID,
		Amount:   action.Amount,
		Reason:   string(action.Kind) + ": " + reason,
	}
}

// ApplyInterest charges interest on every outstanding loan. Interest is a
// forced payment out of the borrower's equity; a resulting cash shortfall is
// picked up by the insolvency check at the end of the step.
func (e *Engine) ApplyInterest(step int, interestRate float64) []*domain.Event {
	rate := decimal.NewFromFloat(interestRate)
	var events []*domain.Event

	for _, loan := range e.loans.All() {
		lender, borrower := e.banks[loan.LenderID], e.banks[loan.BorrowerID]
		if lender == nil || borrower == nil {
			continue
		}

		interest := loan.Principal.Mul(rate)
		if interest.LessThanOrEqual(decimal.Zero) {
			continue
		}

		ledger.New(borrower).DebitInterest(interest)
		ledger.New(lender).CreditInterest(interest)
		loan.InterestAccrued = loan.InterestAccrued.Add(interest)
		loan.StepsActive++

		events = append(events, &domain.Event{
			Type:     domain.EventInterestPayment,
			Step:     step,
			FromBank: borrower.ID,
			ToBank:   lender.ID,
			Amount:   interest,
		})
	}
	return events
}

// ProcessRepayments applies the scheduled principal repayment on every loan:
// min(principal * repaymentRate, cash * 0.5). Loans whose principal falls
// below the negligible threshold are written off on both books.
func (e *Engine) ProcessRepayments(step int, repaymentRate float64) []*domain.Event {
	rate := decimal.NewFromFloat(repaymentRate)
	var events []*domain.Event

	for _, loan := range e.loans.All() {
		lender, borrower := e.banks[loan.LenderID], e.banks[loan.BorrowerID]
		if lender == nil || borrower == nil {
			continue
		}

		due := loan.Principal.Mul(rate)
		if limit := borrower.Cash.Mul(repaymentCashCap); due.GreaterThan(limit) {
			due = limit
		}
		if due.LessThanOrEqual(decimal.Zero) {
			continue
		}

		if err := ledger.New(borrower).ApplyTransfer(lender.ID, due, ledger.KindRepayOut); err != nil {
			continue
		}
		if err := ledger.New(lender).ApplyTransfer(borrower.ID, due, ledger.KindRepayIn); err != nil {
			// Mirror credit cannot fail; restore the borrower if it somehow does.
			_ = ledger.New(borrower).ApplyTransfer(lender.ID, due, ledger.KindLendIn)
			continue
		}
		loan.Principal = loan.Principal.Sub(due)

		events = append(events, &domain.Event{
			Type:     domain.EventRepayment,
			Step:     step,
			FromBank: borrower.ID,
			ToBank:   lender.ID,
			Amount:   due,
		})

		if loan.Principal.LessThan(negligiblePrincipal) && loan.Principal.GreaterThan(decimal.Zero) {
			dust := loan.Principal
			ledger.New(lender).WriteOffDust(borrower.ID, dust, true)
			ledger.New(borrower).WriteOffDust(lender.ID, dust, false)
			e.loans.Remove(lender.ID, borrower.ID)
		} else if loan.Principal.IsZero() {
			e.loans.Remove(lender.ID, borrower.ID)
		}
	}
	return events
}
