// Package cascade resolves default contagion. When a bank's equity crosses
// the threshold it defaults, creditors absorb the unrecovered part of their
// exposure, and any creditor pushed under the threshold defaults in turn.
// Propagation is breadth-first and level-synchronous, with a visited set so
// mutual exposure cannot loop.
package cascade

import (
	"sort"

	"github.com/shopspring/decimal"

	"banknet/internal/domain"
	"banknet/internal/ledger"
	"banknet/pkg/logger"
)

// Resolver walks the creditor graph of the session-owned state. One resolver
// lives per session.
type Resolver struct {
	banks     map[string]*domain.Bank
	loans     *domain.LoanBook
	threshold decimal.Decimal
	recovery  decimal.Decimal
	log       logger.Logger
}

func New(banks map[string]*domain.Bank, loans *domain.LoanBook, cfg domain.SimulationConfig, log logger.Logger) *Resolver {
	return &Resolver{
		banks:     banks,
		loans:     loans,
		threshold: cfg.DefaultThreshold,
		recovery:  decimal.NewFromFloat(cfg.RecoveryRate),
		log:       log,
	}
}

// Resolve scans for newly insolvent banks and resolves one cascade per
// originating insolvency. Banks defaulted by an earlier cascade in the same
// scan are not re-seeded.
func (r *Resolver) Resolve(step int) ([]*domain.Event, []*domain.CascadeEvent) {
	var events []*domain.Event
	var cascades []*domain.CascadeEvent

	for _, id := range r.sortedActiveIDs() {
		bank := r.banks[id]
		if bank.Status != domain.BankStatusActive {
			continue
		}
		if !ledger.New(bank).IsInsolvent(r.threshold) {
			continue
		}
		cascade, evs := r.Trigger(step, id)
		cascades = append(cascades, cascade)
		events = append(events, evs...)
	}
	return events, cascades
}

// Trigger runs one cascade seeded at the given bank, defaulting it
// unconditionally. Used by Resolve and by the forced-default control command.
func (r *Resolver) Trigger(step int, seedID string) (*domain.CascadeEvent, []*domain.Event) {
	cascade := &domain.CascadeEvent{
		TriggerBank:   seedID,
		AffectedBanks: []string{},
		Step:          step,
	}
	var events []*domain.Event

	type queued struct {
		id    string
		depth int
	}
	queue := []queued{{id: seedID}}
	visited := map[string]bool{seedID: true}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		bank := r.banks[current.id]
		if bank == nil || bank.Status == domain.BankStatusDefaulted {
			continue
		}

		bank.Status = domain.BankStatusDefaulted
		bank.PastDefaults++
		cascade.AffectedBanks = append(cascade.AffectedBanks, bank.ID)
		if current.depth > cascade.Depth {
			cascade.Depth = current.depth
		}
		events = append(events, &domain.Event{
			Type:     domain.EventDefault,
			Step:     step,
			FromBank: bank.ID,
			Amount:   bank.Capital,
			Reason:   "equity below default threshold",
		})
		r.log.Warn("bank defaulted", map[string]interface{}{
			"bank":    bank.ID,
			"capital": bank.Capital.String(),
			"trigger": seedID,
			"depth":   current.depth,
		})

		// Settle every loan the defaulted bank owes. Creditors recover a
		// fraction of principal in cash and write off the rest against
		// capital; the remainder of the debt is forgiven on the estate.
		for _, loan := range r.loans.ByBorrower(bank.ID) {
			creditor := r.banks[loan.LenderID]
			if creditor == nil {
				r.loans.Remove(loan.LenderID, bank.ID)
				continue
			}

			recovered := loan.Principal.Mul(r.recovery)
			loss := loan.Principal.Sub(recovered)

			ledger.New(creditor).WriteDownLoanGiven(bank.ID, recovered, loss)
			ledger.New(bank).SettleLoanTaken(creditor.ID, recovered, loss)
			r.loans.Remove(creditor.ID, bank.ID)

			events = append(events, &domain.Event{
				Type:     domain.EventLoanWriteDown,
				Step:     step,
				FromBank: creditor.ID,
				ToBank:   bank.ID,
				Amount:   loss,
			})

			if creditor.Status == domain.BankStatusActive &&
				!visited[creditor.ID] &&
				ledger.New(creditor).IsInsolvent(r.threshold) {
				visited[creditor.ID] = true
				queue = append(queue, queued{id: creditor.ID, depth: current.depth + 1})
			}
		}
	}

	return cascade, events
}

func (r *Resolver) sortedActiveIDs() []string {
	ids := make([]string, 0, len(r.banks))
	for id := range r.banks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
