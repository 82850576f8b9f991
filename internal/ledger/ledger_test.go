package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"banknet/internal/domain"
	"banknet/pkg/errors"
)

func newTestLedger(capital int64) *Ledger {
	return New(domain.NewBank("bank-a", decimal.NewFromInt(capital), 2.0, 0.3))
}

func TestApplyTransfer_LendOut(t *testing.T) {
	l := newTestLedger(1000)

	err := l.ApplyTransfer("bank-b", decimal.NewFromInt(300), KindLendOut)
	require.NoError(t, err)

	assert.Equal(t, "700", l.Bank().Cash.String())
	assert.Equal(t, "300", l.Bank().LoansGiven["bank-b"].String())
	assert.Equal(t, "1000", l.Bank().Capital.String())
	assert.True(t, l.IdentityResidual().IsZero())
}

func TestApplyTransfer_InsufficientFunds(t *testing.T) {
	l := newTestLedger(100)

	err := l.ApplyTransfer("bank-b", decimal.NewFromInt(200), KindLendOut)
	assert.ErrorIs(t, err, errors.ErrInsufficientFunds)

	// No partial mutation on rejection.
	assert.Equal(t, "100", l.Bank().Cash.String())
	assert.Empty(t, l.Bank().LoansGiven)
}

func TestApplyTransfer_RejectsNonPositiveAmount(t *testing.T) {
	l := newTestLedger(100)

	err := l.ApplyTransfer("bank-b", decimal.Zero, KindLendOut)
	assert.ErrorIs(t, err, errors.ErrNegativeAmount)

	err = l.ApplyTransfer("bank-b", decimal.NewFromInt(-5), KindInvest)
	assert.ErrorIs(t, err, errors.ErrNegativeAmount)
}

func TestApplyTransfer_InvestDivestRoundTrip(t *testing.T) {
	l := newTestLedger(500)

	require.NoError(t, l.ApplyTransfer("mkt-1", decimal.NewFromInt(200), KindInvest))
	assert.Equal(t, "300", l.Bank().Cash.String())
	assert.Equal(t, "200", l.Bank().Investments["mkt-1"].String())

	require.NoError(t, l.ApplyTransfer("mkt-1", decimal.NewFromInt(200), KindDivest))
	assert.Equal(t, "500", l.Bank().Cash.String())
	assert.NotContains(t, l.Bank().Investments, "mkt-1")
	assert.True(t, l.IdentityResidual().IsZero())
}

func TestApplyTransfer_DivestCappedAtHolding(t *testing.T) {
	l := newTestLedger(500)
	require.NoError(t, l.ApplyTransfer("mkt-1", decimal.NewFromInt(100), KindInvest))

	err := l.ApplyTransfer("mkt-1", decimal.NewFromInt(150), KindDivest)
	assert.ErrorIs(t, err, errors.ErrInsufficientFunds)
	assert.Equal(t, "100", l.Bank().Investments["mkt-1"].String())
}

func TestMarkToMarket_AdjustsCapitalWithoutCash(t *testing.T) {
	l := newTestLedger(1000)
	require.NoError(t, l.ApplyTransfer("mkt-1", decimal.NewFromInt(400), KindInvest))

	cashBefore := l.Bank().Cash

	// Price rises 10%: holding and capital both gain 40.
	delta := l.MarkToMarket("mkt-1", decimal.NewFromInt(110), decimal.NewFromInt(100))
	assert.Equal(t, "40", delta.String())
	assert.Equal(t, "440", l.Bank().Investments["mkt-1"].String())
	assert.Equal(t, "1040", l.Bank().Capital.String())
	assert.True(t, l.Bank().Cash.Equal(cashBefore))
	assert.True(t, l.IdentityResidual().IsZero())
}

func TestMarkToMarket_NoHolding(t *testing.T) {
	l := newTestLedger(100)
	delta := l.MarkToMarket("mkt-1", decimal.NewFromInt(90), decimal.NewFromInt(100))
	assert.True(t, delta.IsZero())
	assert.Equal(t, "100", l.Bank().Capital.String())
}

func TestInterest_MovesCapitalAndCashTogether(t *testing.T) {
	borrower := newTestLedger(100)
	lender := newTestLedger(100)

	borrower.DebitInterest(decimal.NewFromFloat(2.5))
	lender.CreditInterest(decimal.NewFromFloat(2.5))

	assert.Equal(t, "97.5", borrower.Bank().Capital.String())
	assert.Equal(t, "97.5", borrower.Bank().Cash.String())
	assert.Equal(t, "102.5", lender.Bank().Capital.String())
	assert.True(t, borrower.IdentityResidual().IsZero())
	assert.True(t, lender.IdentityResidual().IsZero())
}

func TestWriteDownLoanGiven(t *testing.T) {
	l := newTestLedger(1000)
	require.NoError(t, l.ApplyTransfer("bank-b", decimal.NewFromInt(100), KindLendOut))

	// Borrower defaults with 40% recovery: 40 comes back as cash, 60 is lost.
	l.WriteDownLoanGiven("bank-b", decimal.NewFromInt(40), decimal.NewFromInt(60))

	assert.Equal(t, "940", l.Bank().Cash.String())
	assert.Equal(t, "940", l.Bank().Capital.String())
	assert.NotContains(t, l.Bank().LoansGiven, "bank-b")
	assert.True(t, l.IdentityResidual().IsZero())
}

func TestSettleLoanTaken(t *testing.T) {
	l := newTestLedger(100)
	// Simulate an existing borrowing of 100.
	require.NoError(t, l.ApplyTransfer("bank-b", decimal.NewFromInt(100), KindLendIn))
	require.True(t, l.IdentityResidual().IsZero())

	l.SettleLoanTaken("bank-b", decimal.NewFromInt(40), decimal.NewFromInt(60))

	assert.Equal(t, "160", l.Bank().Cash.String())
	assert.Equal(t, "160", l.Bank().Capital.String())
	assert.NotContains(t, l.Bank().LoansTaken, "bank-b")
	assert.True(t, l.IdentityResidual().IsZero())
}

func TestIsInsolvent(t *testing.T) {
	l := newTestLedger(10)
	assert.False(t, l.IsInsolvent(decimal.Zero))

	l.DebitInterest(decimal.NewFromInt(15))
	assert.True(t, l.IsInsolvent(decimal.Zero))

	// Threshold is configurable per run.
	l2 := newTestLedger(5)
	assert.True(t, l2.IsInsolvent(decimal.NewFromInt(5)))
}

func TestAddCapital(t *testing.T) {
	l := newTestLedger(50)
	l.AddCapital(decimal.NewFromInt(100))

	assert.Equal(t, "150", l.Bank().Capital.String())
	assert.Equal(t, "150", l.Bank().Cash.String())
	assert.True(t, l.IdentityResidual().IsZero())
}
