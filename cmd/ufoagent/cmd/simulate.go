package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/ufoagent/agent"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay a trading day on a virtual clock",
	Long: `Run full cycles for one day from 00:00 to 18:00 GMT, stepping the
clock by trading.cycle_period_minutes. Every step collects bars up to the
virtual time from the configured source and trades a fresh paper account.
Nothing is read from or written to the journal database.

Examples:
  ufoagent simulate --date 2025-07-31
  ufoagent simulate --date 2025-07-31 --log sim.log --config ufo.yaml`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

var (
	simDate    string
	simLog     string
	simEndHour int
)

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().StringVar(&simDate, "date", "", "day to replay (YYYY-MM-DD, default yesterday)")
	simulateCmd.Flags().StringVar(&simLog, "log", "", "text run log (default stdout)")
	simulateCmd.Flags().IntVar(&simEndHour, "end-hour", 18, "last cycle hour, GMT")
}

// simulationSteps returns the cycle reference times of day.
func simulationSteps(day time.Time, period time.Duration, endHour int) []time.Time {
	if period <= 0 {
		return nil
	}
	end := day.Add(time.Duration(endHour) * time.Hour)
	var out []time.Time
	for t := day; !t.After(end); t = t.Add(period) {
		out = append(out, t)
	}
	return out
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Broker.Type != "paper" {
		return fmt.Errorf("simulate needs the paper broker, config has %q", cfg.Broker.Type)
	}
	if simEndHour < 0 || simEndHour > 23 {
		return fmt.Errorf("--end-hour %d: want 0-23", simEndHour)
	}

	day := time.Now().UTC().AddDate(0, 0, -1).Truncate(24 * time.Hour)
	if simDate != "" {
		day, err = time.ParseInLocation("2006-01-02", simDate, time.UTC)
		if err != nil {
			return fmt.Errorf("date: %w", err)
		}
	}

	var out io.Writer = os.Stdout
	if simLog != "" {
		f, err := os.Create(simLog)
		if err != nil {
			return fmt.Errorf("open log: %w", err)
		}
		defer f.Close()
		out = f
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := agent.Build(ctx, cfg, agent.Options{Fresh: true, Text: out, Started: day}, log)
	if err != nil {
		return fmt.Errorf("build agent: %w", err)
	}
	defer a.Close()

	steps := simulationSteps(day, cfg.Trading.CyclePeriod(), simEndHour)
	log.Info().Str("date", day.Format("2006-01-02")).Int("cycles", len(steps)).Msg("simulation started")
	for _, ref := range steps {
		if ctx.Err() != nil {
			break
		}
		rec, err := a.Orchestrator.RunCycle(ctx, ref)
		if err != nil {
			printSummary(a)
			return fmt.Errorf("simulation halted at %s: %w", ref.Format("15:04"), err)
		}
		log.Debug().Str("at", ref.Format("15:04")).Str("outcome", rec.Outcome).
			Int("executed", len(rec.Executions)).Msg("simulated cycle")
	}
	printSummary(a)
	return nil
}
