// Package sim orchestrates the simulation. A Session owns all banks, loans,
// and markets for one run, drives the step loop in batch or interactive mode,
// and is the only writer of that state. Control commands arriving while a
// step executes are queued and applied at the next step boundary.
package sim

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"banknet/internal/cascade"
	"banknet/internal/domain"
	"banknet/internal/engine"
	"banknet/internal/ledger"
	"banknet/internal/market"
	"banknet/internal/policy"
	"banknet/pkg/errors"
	"banknet/pkg/logger"
)

// Advisor gives a credit verdict for a proposed exposure. Advisors are
// consulted with a deadline and any failure means "no recommendation".
type Advisor interface {
	Assess(ctx context.Context, input domain.AssessmentInput) (*domain.Assessment, error)
}

// Publisher receives every emitted event batch in order.
type Publisher interface {
	Publish(sessionID string, events []*domain.Event)
}

// Archive persists finished runs and their event logs.
type Archive interface {
	SaveRun(ctx context.Context, summary *domain.RunSummary) error
	SaveEvents(ctx context.Context, runID string, events []*domain.Event) error
}

// Command is one control instruction for a session. Mutation commands carry
// a bank id and, for add_capital, an amount.
type Command struct {
	Name   string          `json:"command"`
	BankID string          `json:"bank_id,omitempty"`
	Amount decimal.Decimal `json:"amount,omitempty"`
}

// Control command names.
const (
	CmdPause          = "pause"
	CmdResume         = "resume"
	CmdStop           = "stop"
	CmdAddCapital     = "add_capital"
	CmdDeleteBank     = "delete_bank"
	CmdTriggerDefault = "trigger_default"
)

type pendingCommand struct {
	cmd   Command
	reply chan error
}

// Session is one simulation run. All mutation happens either in step() or in
// applyCommand(), both serialized through the session mutex; the interactive
// loop additionally guarantees commands take effect only between steps.
type Session struct {
	ID string

	mu          sync.RWMutex
	state       domain.SessionState
	currentStep int

	config  domain.SimulationConfig
	banks   map[string]*domain.Bank
	loans   *domain.LoanBook
	markets map[string]*market.Market
	rng     *rand.Rand

	engine   *engine.Engine
	policy   *policy.Policy
	resolver *cascade.Resolver

	eventLog   []*domain.Event
	cascadeLog []*domain.CascadeEvent
	history    []*domain.StepSummary

	totalDefaults int

	interactive bool
	commands    chan pendingCommand
	done        chan struct{}
	closeOnce   sync.Once

	advisors       []Advisor
	advisorTimeout time.Duration
	publisher      Publisher
	archive        Archive
	log            logger.Logger
}

func NewSession(id string, publisher Publisher, archive Archive, advisors []Advisor, advisorTimeout time.Duration, log logger.Logger) *Session {
	return &Session{
		ID:             id,
		state:          domain.SessionUninitialized,
		commands:       make(chan pendingCommand),
		done:           make(chan struct{}),
		advisors:       advisors,
		advisorTimeout: advisorTimeout,
		publisher:      publisher,
		archive:        archive,
		log:            log,
	}
}

// Init builds the world from the given specs. Calling Init twice without a
// new session fails with ErrAlreadyInitialized.
func (s *Session) Init(cfg domain.SimulationConfig, bankSpecs []domain.BankSpec, marketSpecs []domain.MarketSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != domain.SessionUninitialized {
		return errors.ErrAlreadyInitialized
	}
	if err := validateInit(cfg, bankSpecs); err != nil {
		return err
	}

	s.config = cfg
	s.rng = rand.New(rand.NewSource(cfg.Seed))

	s.banks = make(map[string]*domain.Bank, len(bankSpecs))
	for _, spec := range bankSpecs {
		s.banks[spec.ID] = domain.NewBank(spec.ID, spec.Capital, spec.TargetLeverage, spec.RiskFactor)
	}
	s.loans = domain.NewLoanBook()

	s.markets = make(map[string]*market.Market, len(marketSpecs))
	for _, spec := range marketSpecs {
		s.markets[spec.ID] = market.New(spec.ID, spec.InitialPrice)
	}

	s.engine = engine.New(s.banks, s.loans, s.markets, s.log)
	s.resolver = cascade.New(s.banks, s.loans, cfg, s.log)

	// With advisors present the prospective borrower must match the one the
	// assessment was made for, so the deterministic selector is used; plain
	// runs draw borrowers from the seeded source.
	var selector policy.BorrowerSelector
	if len(s.advisors) > 0 {
		selector = policy.LeastExposedSelector{}
	} else {
		selector = policy.NewUniformSelector(s.rng)
	}
	s.policy = policy.New(cfg, selector, s.rng)

	s.state = domain.SessionInitialized
	s.log.Info("session initialized", map[string]interface{}{
		"session": s.ID,
		"banks":   len(bankSpecs),
		"markets": len(marketSpecs),
		"steps":   cfg.Steps,
		"seed":    cfg.Seed,
	})
	return nil
}

func validateInit(cfg domain.SimulationConfig, bankSpecs []domain.BankSpec) error {
	if len(bankSpecs) == 0 {
		return errors.Wrap(errors.ErrInvalidSessionState, "at least one bank is required")
	}
	seen := make(map[string]bool, len(bankSpecs))
	for _, spec := range bankSpecs {
		if spec.ID == "" {
			return errors.Wrap(errors.ErrInvalidSessionState, "bank id must not be empty")
		}
		if seen[spec.ID] {
			return errors.Wrap(errors.ErrInvalidSessionState, "duplicate bank id "+spec.ID)
		}
		seen[spec.ID] = true
		if spec.Capital.LessThanOrEqual(decimal.Zero) {
			return errors.Wrap(errors.ErrInvalidSessionState, "bank "+spec.ID+" needs positive capital")
		}
	}
	if cfg.Steps <= 0 {
		return errors.Wrap(errors.ErrInvalidSessionState, "steps must be positive")
	}
	for name, rate := range map[string]float64{
		"interest_rate":     cfg.InterestRate,
		"repayment_rate":    cfg.RepaymentRate,
		"market_volatility": cfg.MarketVolatility,
		"recovery_rate":     cfg.RecoveryRate,
	} {
		if rate < 0 || rate > 1 {
			return errors.Wrap(errors.ErrInvalidSessionState, name+" must be in [0,1]")
		}
	}
	return nil
}

// Run executes up to n steps synchronously and completes the session. Batch
// mode: no commands, no pauses.
func (s *Session) Run(n int) (*domain.RunSummary, error) {
	s.mu.Lock()
	if s.state != domain.SessionInitialized {
		s.mu.Unlock()
		return nil, errors.ErrInvalidSessionState
	}
	s.state = domain.SessionRunning
	s.mu.Unlock()

	for i := 0; i < n; i++ {
		s.mu.Lock()
		if s.state != domain.SessionRunning {
			s.mu.Unlock()
			break
		}
		s.stepLocked()
		s.mu.Unlock()
	}

	s.mu.Lock()
	if s.state == domain.SessionRunning {
		s.state = domain.SessionCompleted
	}
	s.mu.Unlock()

	return s.finalize(), nil
}

// Start launches the interactive loop. The session yields one event batch
// per step to the publisher until it completes, is stopped, or pauses.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != domain.SessionInitialized {
		return errors.ErrInvalidSessionState
	}
	s.state = domain.SessionRunning
	s.interactive = true
	go s.loop()
	return nil
}

// Execute queues a control command and waits for it to be applied at the
// next step boundary.
func (s *Session) Execute(cmd Command) error {
	s.mu.RLock()
	interactive := s.interactive
	s.mu.RUnlock()
	if !interactive {
		return errors.Wrap(errors.ErrInvalidSessionState, "session is not running interactively")
	}

	pending := pendingCommand{cmd: cmd, reply: make(chan error, 1)}
	select {
	case s.commands <- pending:
		return <-pending.reply
	case <-s.done:
		return errors.ErrSessionStopped
	}
}

func (s *Session) loop() {
	for {
		// Boundary: everything queued during the previous step applies now.
	drain:
		for {
			select {
			case pending := <-s.commands:
				pending.reply <- s.applyCommand(pending.cmd)
			default:
				break drain
			}
		}

		s.mu.Lock()
		state := s.state
		s.mu.Unlock()

		switch state {
		case domain.SessionRunning:
			select {
			case <-s.done:
				s.shutdown()
				return
			default:
			}
			s.mu.Lock()
			s.stepLocked()
			delay := time.Duration(s.config.StepDelayMS) * time.Millisecond
			s.mu.Unlock()
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-s.done:
					s.shutdown()
					return
				}
			}

		case domain.SessionPaused:
			// Nothing to do until a command arrives.
			select {
			case pending := <-s.commands:
				pending.reply <- s.applyCommand(pending.cmd)
			case <-s.done:
				s.shutdown()
				return
			}

		default:
			s.shutdown()
			return
		}
	}
}

// Close unblocks the interactive loop if one is still alive. Used when a
// session is discarded.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Session) shutdown() {
	s.mu.Lock()
	s.interactive = false
	// A loop torn down from outside (session deleted) ends in STOPPED.
	if s.state == domain.SessionRunning || s.state == domain.SessionPaused {
		s.state = domain.SessionStopped
	}
	s.mu.Unlock()
	s.finalize()
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Session) applyCommand(cmd Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch cmd.Name {
	case CmdPause:
		if s.state != domain.SessionRunning {
			return errors.Wrap(errors.ErrInvalidSessionState, "pause requires a running session")
		}
		s.state = domain.SessionPaused

	case CmdResume:
		if s.state != domain.SessionPaused {
			return errors.Wrap(errors.ErrInvalidSessionState, "resume requires a paused session")
		}
		s.state = domain.SessionRunning

	case CmdStop:
		if s.state != domain.SessionRunning && s.state != domain.SessionPaused {
			return errors.Wrap(errors.ErrInvalidSessionState, "stop requires a running or paused session")
		}
		s.state = domain.SessionStopped

	case CmdAddCapital:
		return s.addCapitalLocked(cmd.BankID, cmd.Amount)

	case CmdDeleteBank:
		return s.deleteBankLocked(cmd.BankID)

	case CmdTriggerDefault:
		return s.triggerDefaultLocked(cmd.BankID)

	default:
		return errors.Wrap(errors.ErrCommandNotAllowed, "unknown command "+cmd.Name)
	}

	s.log.Info("command applied", map[string]interface{}{
		"session": s.ID,
		"command": cmd.Name,
		"state":   string(s.state),
	})
	return nil
}

func (s *Session) addCapitalLocked(bankID string, amount decimal.Decimal) error {
	if s.state != domain.SessionPaused {
		return errors.Wrap(errors.ErrCommandNotAllowed, "add_capital requires a paused session")
	}
	bank, ok := s.banks[bankID]
	if !ok {
		return errors.ErrBankNotFound
	}
	if bank.Status != domain.BankStatusActive {
		return errors.ErrBankDefaulted
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return errors.ErrNegativeAmount
	}

	ledger.New(bank).AddCapital(amount)
	s.emitLocked([]*domain.Event{{
		Type:     domain.EventCapitalInjection,
		Step:     s.currentStep,
		FromBank: bankID,
		Amount:   amount,
	}})
	return nil
}

func (s *Session) deleteBankLocked(bankID string) error {
	if s.state != domain.SessionPaused {
		return errors.Wrap(errors.ErrCommandNotAllowed, "delete_bank requires a paused session")
	}
	bank, ok := s.banks[bankID]
	if !ok {
		return errors.ErrBankNotFound
	}

	// Debts are settled at face value out of the leaving bank's estate, its
	// own claims are forgiven, and its market holdings are withdrawn.
	for _, loan := range s.loans.ByBorrower(bankID) {
		if creditor := s.banks[loan.LenderID]; creditor != nil {
			ledger.New(creditor).WriteDownLoanGiven(bankID, loan.Principal, decimal.Zero)
		}
		s.loans.Remove(loan.LenderID, bankID)
	}
	for _, loan := range s.loans.ByLender(bankID) {
		if borrower := s.banks[loan.BorrowerID]; borrower != nil {
			ledger.New(borrower).SettleLoanTaken(bankID, decimal.Zero, loan.Principal)
		}
		s.loans.Remove(bankID, loan.BorrowerID)
	}
	for marketID, holding := range bank.Investments {
		if m, ok := s.markets[marketID]; ok {
			m.Divest(holding)
		}
	}
	delete(s.banks, bankID)

	s.emitLocked([]*domain.Event{{
		Type:     domain.EventBankRemoved,
		Step:     s.currentStep,
		FromBank: bankID,
		Amount:   bank.Capital,
	}})
	return nil
}

func (s *Session) triggerDefaultLocked(bankID string) error {
	if s.state != domain.SessionPaused {
		return errors.Wrap(errors.ErrCommandNotAllowed, "trigger_default requires a paused session")
	}
	bank, ok := s.banks[bankID]
	if !ok {
		return errors.ErrBankNotFound
	}
	if bank.Status != domain.BankStatusActive {
		return errors.ErrBankDefaulted
	}

	cascadeEvent, events := s.resolver.Trigger(s.currentStep, bankID)
	s.cascadeLog = append(s.cascadeLog, cascadeEvent)
	s.totalDefaults += len(cascadeEvent.AffectedBanks)
	s.emitLocked(events)
	return nil
}

// stepLocked advances the simulation one step. Caller holds s.mu.
func (s *Session) stepLocked() {
	step := s.currentStep
	var events []*domain.Event

	events = append(events, s.engine.ApplyInterest(step, s.config.InterestRate)...)
	events = append(events, s.engine.ProcessRepayments(step, s.config.RepaymentRate)...)

	stats := s.networkStatsLocked()
	for _, id := range s.sortedBankIDs() {
		bank := s.banks[id]
		if bank.Status != domain.BankStatusActive {
			continue
		}
		rec := s.consultAdvisors(bank, stats)
		action := s.policy.Decide(bank, s.banks, stats, s.sortedMarketIDs(), rec)
		ev, err := s.engine.Execute(step, id, action)
		if err != nil {
			s.log.Error("action execution failed", map[string]interface{}{
				"session": s.ID, "bank": id, "error": err.Error(),
			})
			continue
		}
		events = append(events, ev)
	}

	for _, marketID := range s.sortedMarketIDs() {
		m := s.markets[marketID]
		oldPrice, newPrice := m.StepPrice(s.rng, s.config.MarketVolatility)
		for _, id := range s.sortedBankIDs() {
			ledger.New(s.banks[id]).MarkToMarket(marketID, newPrice, oldPrice)
		}
		m.Revalue(oldPrice, newPrice)
	}

	cascadeEvents, cascades := s.resolver.Resolve(step)
	events = append(events, cascadeEvents...)
	s.cascadeLog = append(s.cascadeLog, cascades...)
	for _, c := range cascades {
		s.totalDefaults += len(c.AffectedBanks)
	}

	s.currentStep++

	snapshot := s.snapshotLocked()
	s.history = append(s.history, snapshot)
	events = append(events, &domain.Event{
		Type:    domain.EventStepSummary,
		Step:    snapshot.Step,
		Amount:  snapshot.TotalEquity,
		Summary: snapshot,
	})
	s.emitLocked(events)

	if s.currentStep >= s.config.Steps || s.activeCountLocked() == 0 {
		s.state = domain.SessionCompleted
	}
}

func (s *Session) consultAdvisors(bank *domain.Bank, stats domain.NetworkStats) *domain.Assessment {
	if len(s.advisors) == 0 {
		return nil
	}
	borrowerID, ok := policy.LeastExposedSelector{}.Select(bank.ID, s.banks)
	if !ok {
		return nil
	}
	borrower := s.banks[borrowerID]

	input := domain.AssessmentInput{
		Borrower:             bankState(borrower),
		Lender:               bankState(bank),
		Network:              stats,
		Markets:              s.marketStatesLocked(),
		Exposure:             bank.Cash.Sub(s.config.MinOperatingCash).Mul(decimal.NewFromFloat(0.25)),
		BorrowerPastDefaults: borrower.PastDefaults,
		BorrowerRiskFactor:   borrower.RiskFactor,
	}

	for _, advisor := range s.advisors {
		ctx, cancel := context.WithTimeout(context.Background(), s.advisorTimeout)
		assessment, err := advisor.Assess(ctx, input)
		cancel()
		if err == nil && assessment != nil {
			return assessment
		}
		s.log.Debug("advisor unavailable, trying next", map[string]interface{}{
			"session": s.ID,
			"bank":    bank.ID,
		})
	}
	return nil
}

func (s *Session) emitLocked(events []*domain.Event) {
	if len(events) == 0 {
		return
	}
	s.eventLog = append(s.eventLog, events...)
	if s.publisher != nil {
		s.publisher.Publish(s.ID, events)
	}
}

func (s *Session) finalize() *domain.RunSummary {
	s.mu.Lock()
	summary := &domain.RunSummary{
		RunID:         s.ID,
		StepsExecuted: s.currentStep,
		Survivors:     s.activeCountLocked(),
		Defaults:      s.totalDefaults,
		FinalEquity:   s.totalEquityLocked(),
		Cascades:      len(s.cascadeLog),
		Seed:          s.config.Seed,
	}
	eventLog := s.eventLog
	archive := s.archive
	s.mu.Unlock()

	if archive != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := archive.SaveRun(ctx, summary); err != nil {
			s.log.Error("failed to archive run", map[string]interface{}{
				"session": s.ID, "error": err.Error(),
			})
		} else if err := archive.SaveEvents(ctx, s.ID, eventLog); err != nil {
			s.log.Error("failed to archive events", map[string]interface{}{
				"session": s.ID, "error": err.Error(),
			})
		}
	}
	return summary
}

// State returns the session's lifecycle state.
func (s *Session) State() domain.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Config returns the per-run configuration.
func (s *Session) Config() domain.SimulationConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// CurrentStep returns the number of completed steps.
func (s *Session) CurrentStep() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentStep
}

// Events returns the event log suffix starting at offset. The log is
// append-only, so a reader polling with its last offset sees every event
// exactly once.
func (s *Session) Events(offset int) []*domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if offset < 0 || offset >= len(s.eventLog) {
		return nil
	}
	out := make([]*domain.Event, len(s.eventLog)-offset)
	copy(out, s.eventLog[offset:])
	return out
}

// Cascades returns all cascade events recorded so far.
func (s *Session) Cascades() []*domain.CascadeEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.CascadeEvent, len(s.cascadeLog))
	copy(out, s.cascadeLog)
	return out
}

// History returns every step snapshot recorded so far.
func (s *Session) History() []*domain.StepSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.StepSummary, len(s.history))
	copy(out, s.history)
	return out
}

// Snapshot returns the current world state.
func (s *Session) Snapshot() *domain.StepSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Summary builds the aggregate result for the run so far.
func (s *Session) Summary() *domain.RunSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &domain.RunSummary{
		RunID:         s.ID,
		StepsExecuted: s.currentStep,
		Survivors:     s.activeCountLocked(),
		Defaults:      s.totalDefaults,
		FinalEquity:   s.totalEquityLocked(),
		Cascades:      len(s.cascadeLog),
		Seed:          s.config.Seed,
	}
}

// Bank returns a copy-safe pointer to one bank, for tests and inspection.
func (s *Session) Bank(id string) (*domain.Bank, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bank, ok := s.banks[id]
	if !ok {
		return nil, errors.ErrBankNotFound
	}
	return bank, nil
}

func (s *Session) snapshotLocked() *domain.StepSummary {
	summary := &domain.StepSummary{
		Step:          s.currentStep,
		TotalDefaults: s.totalDefaults,
		TotalEquity:   s.totalEquityLocked(),
		BankStates:    make([]domain.BankState, 0, len(s.banks)),
		MarketStates:  s.marketStatesLocked(),
	}
	for _, id := range s.sortedBankIDs() {
		summary.BankStates = append(summary.BankStates, bankState(s.banks[id]))
	}
	return summary
}

func (s *Session) networkStatsLocked() domain.NetworkStats {
	stats := domain.NetworkStats{
		Step:          s.currentStep,
		TotalDefaults: s.totalDefaults,
		TotalEquity:   decimal.Zero,
	}
	var leverageSum float64
	for _, bank := range s.banks {
		if bank.Status != domain.BankStatusActive {
			continue
		}
		stats.ActiveBanks++
		stats.TotalEquity = stats.TotalEquity.Add(bank.Capital)
		leverageSum += bank.Leverage()
		if bank.Cash.LessThan(s.config.MinOperatingCash) {
			stats.StressedBanks++
		}
	}
	if stats.ActiveBanks > 0 {
		stats.AverageLeverage = leverageSum / float64(stats.ActiveBanks)
	}
	return stats
}

func (s *Session) marketStatesLocked() []domain.MarketState {
	states := make([]domain.MarketState, 0, len(s.markets))
	for _, id := range s.sortedMarketIDs() {
		states = append(states, s.markets[id].State())
	}
	return states
}

func (s *Session) totalEquityLocked() decimal.Decimal {
	total := decimal.Zero
	for _, bank := range s.banks {
		if bank.Status == domain.BankStatusActive {
			total = total.Add(bank.Capital)
		}
	}
	return total
}

func (s *Session) activeCountLocked() int {
	var n int
	for _, bank := range s.banks {
		if bank.Status == domain.BankStatusActive {
			n++
		}
	}
	return n
}

func (s *Session) sortedBankIDs() []string {
	ids := make([]string, 0, len(s.banks))
	for id := range s.banks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Session) sortedMarketIDs() []string {
	ids := make([]string, 0, len(s.markets))
	for id := range s.markets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func bankState(b *domain.Bank) domain.BankState {
	return domain.BankState{
		ID:          b.ID,
		Capital:     b.Capital,
		Cash:        b.Cash,
		Investments: b.TotalInvestments(),
		LoansGiven:  b.TotalLoansGiven(),
		LoansTaken:  b.TotalLoansTaken(),
		Status:      b.Status,
	}
}
