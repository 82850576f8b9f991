package cascade

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"banknet/internal/domain"
	"banknet/internal/ledger"
	"banknet/pkg/logger"
)

func newResolver(banks map[string]*domain.Bank, loans *domain.LoanBook) *Resolver {
	return New(banks, loans, domain.DefaultConfig(), logger.NewNop())
}

// wireLoan moves principal from lender to borrower through both ledgers and
// registers it, so every starting position satisfies the capital identity.
func wireLoan(t *testing.T, loans *domain.LoanBook, lender, borrower *domain.Bank, amount decimal.Decimal) {
	t.Helper()
	require.NoError(t, ledger.New(lender).ApplyTransfer(borrower.ID, amount, ledger.KindLendOut))
	require.NoError(t, ledger.New(borrower).ApplyTransfer(lender.ID, amount, ledger.KindLendIn))
	loans.Extend(lender.ID, borrower.ID, amount)
}

func TestIsolatedInsolvencyTriggersOneCascade(t *testing.T) {
	a := domain.NewBank("A", decimal.NewFromInt(10), 2.0, 0.3)
	banks := map[string]*domain.Bank{"A": a}
	loans := domain.NewLoanBook()

	ledger.New(a).DebitInterest(decimal.NewFromInt(15)) // capital -5

	events, cascades := newResolver(banks, loans).Resolve(4)

	require.Len(t, cascades, 1)
	assert.Equal(t, "A", cascades[0].TriggerBank)
	assert.Equal(t, []string{"A"}, cascades[0].AffectedBanks)
	assert.Equal(t, 0, cascades[0].Depth)
	assert.Equal(t, 4, cascades[0].Step)

	require.Len(t, events, 1)
	assert.Equal(t, domain.EventDefault, events[0].Type)
	assert.Equal(t, domain.BankStatusDefaulted, a.Status)
	assert.Equal(t, 1, a.PastDefaults)
}

func TestSolventNetworkUnchanged(t *testing.T) {
	a := domain.NewBank("A", decimal.NewFromInt(100), 2.0, 0.3)
	banks := map[string]*domain.Bank{"A": a}

	events, cascades := newResolver(banks, domain.NewLoanBook()).Resolve(0)
	assert.Empty(t, events)
	assert.Empty(t, cascades)
	assert.Equal(t, domain.BankStatusActive, a.Status)
}

func TestCreditorWriteDown(t *testing.T) {
	lender := domain.NewBank("LENDER", decimal.NewFromInt(500), 2.0, 0.3)
	borrower := domain.NewBank("BORROWER", decimal.NewFromInt(50), 2.0, 0.3)
	banks := map[string]*domain.Bank{"LENDER": lender, "BORROWER": borrower}
	loans := domain.NewLoanBook()

	wireLoan(t, loans, lender, borrower, decimal.NewFromInt(100))
	ledger.New(borrower).DebitInterest(decimal.NewFromInt(60)) // capital -10

	events, cascades := newResolver(banks, loans).Resolve(2)

	require.Len(t, cascades, 1)
	assert.Equal(t, domain.BankStatusDefaulted, borrower.Status)
	assert.Equal(t, domain.BankStatusActive, lender.Status)

	// Recovery 0.40: 40 comes back in cash, 60 is written off equity.
	assert.True(t, lender.Cash.Equal(decimal.NewFromInt(440)), "cash %s", lender.Cash)
	assert.True(t, lender.Capital.Equal(decimal.NewFromInt(440)), "capital %s", lender.Capital)
	_, held := lender.LoansGiven["BORROWER"]
	assert.False(t, held)
	assert.Equal(t, 0, loans.Len())
	assert.True(t, ledger.New(lender).IdentityResidual().IsZero())

	var writeDowns int
	for _, ev := range events {
		if ev.Type == domain.EventLoanWriteDown {
			writeDowns++
			assert.Equal(t, "LENDER", ev.FromBank)
			assert.Equal(t, "BORROWER", ev.ToBank)
			assert.True(t, ev.Amount.Equal(decimal.NewFromInt(60)))
		}
	}
	assert.Equal(t, 1, writeDowns)
}

func TestTwoLevelCascade(t *testing.T) {
	a := domain.NewBank("A", decimal.NewFromInt(200), 2.0, 0.3)
	b := domain.NewBank("B", decimal.NewFromInt(100), 2.0, 0.3)
	c := domain.NewBank("C", decimal.NewFromInt(10), 2.0, 0.3)
	banks := map[string]*domain.Bank{"A": a, "B": b, "C": c}
	loans := domain.NewLoanBook()

	wireLoan(t, loans, a, b, decimal.NewFromInt(100))
	wireLoan(t, loans, b, c, decimal.NewFromInt(100))

	// C under water, B fragile enough that losing 60 of its exposure sinks it.
	ledger.New(c).DebitInterest(decimal.NewFromInt(20))
	ledger.New(b).DebitInterest(decimal.NewFromInt(95))
	require.True(t, b.Capital.Equal(decimal.NewFromInt(5)))

	_, cascades := newResolver(banks, loans).Resolve(7)

	require.Len(t, cascades, 1)
	cascade := cascades[0]
	assert.Equal(t, "C", cascade.TriggerBank)
	assert.Equal(t, []string{"C", "B"}, cascade.AffectedBanks)
	assert.Equal(t, 1, cascade.Depth)

	assert.Equal(t, domain.BankStatusDefaulted, c.Status)
	assert.Equal(t, domain.BankStatusDefaulted, b.Status)
	assert.Equal(t, domain.BankStatusActive, a.Status)

	// A absorbed the second-level loss but stays solvent.
	assert.True(t, a.Capital.Equal(decimal.NewFromInt(140)), "capital %s", a.Capital)
	assert.True(t, ledger.New(a).IdentityResidual().IsZero())
	assert.Equal(t, 0, loans.Len())
}

func TestMutualExposureTerminates(t *testing.T) {
	a := domain.NewBank("A", decimal.NewFromInt(100), 2.0, 0.3)
	b := domain.NewBank("B", decimal.NewFromInt(100), 2.0, 0.3)
	banks := map[string]*domain.Bank{"A": a, "B": b}
	loans := domain.NewLoanBook()

	wireLoan(t, loans, a, b, decimal.NewFromInt(50))
	wireLoan(t, loans, b, a, decimal.NewFromInt(50))

	ledger.New(a).DebitInterest(decimal.NewFromInt(105))
	ledger.New(b).DebitInterest(decimal.NewFromInt(105))

	_, cascades := newResolver(banks, loans).Resolve(0)

	// Both sink in the cascade seeded at A; B is never re-seeded.
	require.Len(t, cascades, 1)
	assert.Equal(t, "A", cascades[0].TriggerBank)
	assert.LessOrEqual(t, len(cascades[0].AffectedBanks), len(banks))
	assert.Equal(t, domain.BankStatusDefaulted, a.Status)
	assert.Equal(t, domain.BankStatusDefaulted, b.Status)
	assert.Equal(t, 0, loans.Len())
}

func TestIndependentInsolvenciesGetSeparateCascades(t *testing.T) {
	a := domain.NewBank("A", decimal.NewFromInt(10), 2.0, 0.3)
	b := domain.NewBank("B", decimal.NewFromInt(10), 2.0, 0.3)
	banks := map[string]*domain.Bank{"A": a, "B": b}

	ledger.New(a).DebitInterest(decimal.NewFromInt(15))
	ledger.New(b).DebitInterest(decimal.NewFromInt(15))

	_, cascades := newResolver(banks, domain.NewLoanBook()).Resolve(0)
	require.Len(t, cascades, 2)
	assert.Equal(t, "A", cascades[0].TriggerBank)
	assert.Equal(t, "B", cascades[1].TriggerBank)
}

func TestTriggerDefaultsSolventBank(t *testing.T) {
	a := domain.NewBank("A", decimal.NewFromInt(500), 2.0, 0.3)
	banks := map[string]*domain.Bank{"A": a}

	cascade, events := newResolver(banks, domain.NewLoanBook()).Trigger(3, "A")

	assert.Equal(t, "A", cascade.TriggerBank)
	assert.Equal(t, []string{"A"}, cascade.AffectedBanks)
	require.Len(t, events, 1)
	assert.Equal(t, domain.BankStatusDefaulted, a.Status)
}

func TestDefaultedLendersLoansSurvive(t *testing.T) {
	// Loans where the defaulted bank is the creditor stay on the books.
	lender := domain.NewBank("L", decimal.NewFromInt(100), 2.0, 0.3)
	borrower := domain.NewBank("B", decimal.NewFromInt(100), 2.0, 0.3)
	banks := map[string]*domain.Bank{"L": lender, "B": borrower}
	loans := domain.NewLoanBook()

	wireLoan(t, loans, lender, borrower, decimal.NewFromInt(50))
	ledger.New(lender).DebitInterest(decimal.NewFromInt(105))

	_, cascades := newResolver(banks, loans).Resolve(0)

	require.Len(t, cascades, 1)
	assert.Equal(t, domain.BankStatusDefaulted, lender.Status)
	assert.Equal(t, domain.BankStatusActive, borrower.Status)
	require.NotNil(t, loans.Get("L", "B"))
	assert.True(t, loans.Get("L", "B").Principal.Equal(decimal.NewFromInt(50)))
}
