package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"banknet/internal/domain"
	"banknet/internal/risk"
	"banknet/internal/sim"
	"banknet/pkg/logger"
)

// scenario is the JSON shape of a batch run definition.
type scenario struct {
	Config  *domain.SimulationConfig `json:"config"`
	Banks   []domain.BankSpec        `json:"banks"`
	Markets []domain.MarketSpec      `json:"markets"`
}

func main() {
	var (
		scenarioPath = flag.String("scenario", "", "path to a scenario JSON file (default: built-in 4-bank network)")
		steps        = flag.Int("steps", 0, "override the number of steps")
		seed         = flag.Int64("seed", 0, "override the random seed")
		verbose      = flag.Bool("v", false, "log simulation progress to stderr")
		withEvents   = flag.Bool("events", false, "include the full event log in the output")
	)
	flag.Parse()

	sc := defaultScenario()
	if *scenarioPath != "" {
		data, err := os.ReadFile(*scenarioPath)
		if err != nil {
			log.Fatalf("failed to read scenario: %v", err)
		}
		if err := json.Unmarshal(data, &sc); err != nil {
			log.Fatalf("failed to parse scenario: %v", err)
		}
	}

	cfg := domain.DefaultConfig()
	if sc.Config != nil {
		cfg = *sc.Config
	}
	if *steps > 0 {
		cfg.Steps = *steps
	}
	if *seed != 0 {
		cfg.Seed = *seed
	}

	simLog := logger.NewNop()
	if *verbose {
		simLog = logger.New("banknet-simulate")
	}

	advisors := []sim.Advisor{risk.NewEngine()}
	session := sim.NewSession(uuid.New().String(), nil, nil, advisors, 0, simLog)
	if err := session.Init(cfg, sc.Banks, sc.Markets); err != nil {
		log.Fatalf("failed to initialize simulation: %v", err)
	}

	summary, err := session.Run(cfg.Steps)
	if err != nil {
		log.Fatalf("simulation failed: %v", err)
	}

	out := map[string]interface{}{
		"summary":  summary,
		"cascades": session.Cascades(),
		"final":    session.Snapshot(),
	}
	if *withEvents {
		out["events"] = session.Events(0)
	}

	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		log.Fatalf("failed to encode result: %v", err)
	}
	fmt.Println(string(encoded))
}

func defaultScenario() scenario {
	return scenario{
		Banks: []domain.BankSpec{
			{ID: "ALPHA", Capital: decimal.NewFromInt(1000), TargetLeverage: 2.0, RiskFactor: 0.30},
			{ID: "BETA", Capital: decimal.NewFromInt(800), TargetLeverage: 2.5, RiskFactor: 0.60},
			{ID: "GAMMA", Capital: decimal.NewFromInt(600), TargetLeverage: 1.5, RiskFactor: 0.10},
			{ID: "DELTA", Capital: decimal.NewFromInt(400), TargetLeverage: 3.0, RiskFactor: 0.45},
		},
		Markets: []domain.MarketSpec{
			{ID: "EQUITY", InitialPrice: decimal.NewFromInt(100)},
			{ID: "BONDS", InitialPrice: decimal.NewFromInt(50)},
		},
	}
}
