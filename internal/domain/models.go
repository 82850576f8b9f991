// Package domain defines the core types of the interbank simulation: banks,
// loans, markets, events, and the per-run configuration.
package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// BankStatus represents the lifecycle state of a bank. DEFAULTED is terminal.
type BankStatus string

const (
	BankStatusActive    BankStatus = "ACTIVE"
	BankStatusDefaulted BankStatus = "DEFAULTED"
)

// Bank is one institution's balance sheet. Banks are owned exclusively by the
// session that created them; nothing outside a session mutates a Bank.
//
// The capital identity `capital == cash + investments + loans_given -
// loans_taken` holds after every applied transaction.
type Bank struct {
	ID             string                     `json:"id"`
	Capital        decimal.Decimal            `json:"capital"`
	Cash           decimal.Decimal            `json:"cash"`
	LoansGiven     map[string]decimal.Decimal `json:"loans_given"`
	LoansTaken     map[string]decimal.Decimal `json:"loans_taken"`
	Investments    map[string]decimal.Decimal `json:"investments"`
	TargetLeverage float64                    `json:"target_leverage"`
	RiskFactor     float64                    `json:"risk_factor"`
	PastDefaults   int                        `json:"past_defaults"`
	Status         BankStatus                 `json:"status"`
}

// NewBank creates an active bank whose starting capital is held entirely in cash.
func NewBank(id string, capital decimal.Decimal, targetLeverage, riskFactor float64) *Bank {
	return &Bank{
		ID:             id,
		Capital:        capital,
		Cash:           capital,
		LoansGiven:     make(map[string]decimal.Decimal),
		LoansTaken:     make(map[string]decimal.Decimal),
		Investments:    make(map[string]decimal.Decimal),
		TargetLeverage: targetLeverage,
		RiskFactor:     riskFactor,
		Status:         BankStatusActive,
	}
}

// TotalInvestments sums the bank's holdings across all markets.
func (b *Bank) TotalInvestments() decimal.Decimal {
	total := decimal.Zero
	for _, amount := range b.Investments {
		total = total.Add(amount)
	}
	return total
}

// TotalLoansGiven sums outstanding principal lent to counterparties.
func (b *Bank) TotalLoansGiven() decimal.Decimal {
	total := decimal.Zero
	for _, amount := range b.LoansGiven {
		total = total.Add(amount)
	}
	return total
}

// TotalLoansTaken sums outstanding principal borrowed from counterparties.
func (b *Bank) TotalLoansTaken() decimal.Decimal {
	total := decimal.Zero
	for _, amount := range b.LoansTaken {
		total = total.Add(amount)
	}
	return total
}

// TotalAssets is cash plus investments plus loans given.
func (b *Bank) TotalAssets() decimal.Decimal {
	return b.Cash.Add(b.TotalInvestments()).Add(b.TotalLoansGiven())
}

// Leverage is total assets over capital; zero when capital is non-positive.
func (b *Bank) Leverage() float64 {
	if b.Capital.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	ratio, _ := b.TotalAssets().Div(b.Capital).Float64()
	return ratio
}

// Loan is an interbank credit position. Loans live in the session-owned
// LoanBook; the two banks' maps mirror the outstanding principal.
type Loan struct {
	LenderID        string          `json:"lender_id"`
	BorrowerID      string          `json:"borrower_id"`
	Principal       decimal.Decimal `json:"principal"`
	InterestAccrued decimal.Decimal `json:"interest_accrued"`
	StepsActive     int             `json:"steps_active"`
}

// LoanBook is the canonical registry of all outstanding loans, keyed by the
// lender/borrower pair. Creditor/debtor cycles are fine; the book itself is
// just a flat index.
type LoanBook struct {
	loans map[string]*Loan
}

func NewLoanBook() *LoanBook {
	return &LoanBook{loans: make(map[string]*Loan)}
}

func loanKey(lenderID, borrowerID string) string {
	return lenderID + "|" + borrowerID
}

// Get returns the loan between a lender and borrower, or nil.
func (lb *LoanBook) Get(lenderID, borrowerID string) *Loan {
	return lb.loans[loanKey(lenderID, borrowerID)]
}

// Extend creates a loan or adds principal to an existing one and returns it.
func (lb *LoanBook) Extend(lenderID, borrowerID string, amount decimal.Decimal) *Loan {
	key := loanKey(lenderID, borrowerID)
	loan, ok := lb.loans[key]
	if !ok {
		loan = &Loan{
			LenderID:        lenderID,
			BorrowerID:      borrowerID,
			Principal:       decimal.Zero,
			InterestAccrued: decimal.Zero,
		}
		lb.loans[key] = loan
	}
	loan.Principal = loan.Principal.Add(amount)
	return loan
}

// Remove deletes the loan between a lender and a borrower.
func (lb *LoanBook) Remove(lenderID, borrowerID string) {
	delete(lb.loans, loanKey(lenderID, borrowerID))
}

// All returns every loan in deterministic (key-sorted) order.
func (lb *LoanBook) All() []*Loan {
	keys := make([]string, 0, len(lb.loans))
	for k := range lb.loans {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	loans := make([]*Loan, 0, len(keys))
	for _, k := range keys {
		loans = append(loans, lb.loans[k])
	}
	return loans
}

// ByLender returns the loans where bankID is the creditor, sorted by borrower.
func (lb *LoanBook) ByLender(bankID string) []*Loan {
	var loans []*Loan
	for _, loan := range lb.All() {
		if loan.LenderID == bankID {
			loans = append(loans, loan)
		}
	}
	return loans
}

// ByBorrower returns the loans where bankID is the debtor, sorted by lender.
func (lb *LoanBook) ByBorrower(bankID string) []*Loan {
	var loans []*Loan
	for _, loan := range lb.All() {
		if loan.BorrowerID == bankID {
			loans = append(loans, loan)
		}
	}
	return loans
}

// TotalOutstanding sums principal across the whole book.
func (lb *LoanBook) TotalOutstanding() decimal.Decimal {
	total := decimal.Zero
	for _, loan := range lb.loans {
		total = total.Add(loan.Principal)
	}
	return total
}

// Len returns the number of open loans.
func (lb *LoanBook) Len() int {
	return len(lb.loans)
}
