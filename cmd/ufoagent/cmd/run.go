package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/ufoagent/agent"
	"github.com/rustyeddy/ufoagent/cycle"
	"github.com/rustyeddy/ufoagent/journal"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the decision loop until interrupted",
	Long: `Start the agent and run one cycle immediately, then one every
trading.cycle_period_minutes. Open positions are restored from the broker
and the journal before the first cycle.

The loop stops on SIGINT or SIGTERM. It also stops, with an error, when the
portfolio no longer matches the broker; restart the agent to resynchronize.

Example:
  ufoagent run --config ufo.yaml`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single cycle now and exit",
	Args:  cobra.NoArgs,
	RunE:  runOnce,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(onceCmd)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	a, err := agent.Build(ctx, cfg, agent.Options{}, log)
	if err != nil {
		return fmt.Errorf("build agent: %w", err)
	}
	defer a.Close()

	err = a.Orchestrator.Run(ctx)
	printSummary(a)
	if errors.Is(err, cycle.ErrStateDesync) {
		log.Error().Err(err).Msg("loop halted; restart to resynchronize with the broker")
	}
	return err
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	a, err := agent.Build(ctx, cfg, agent.Options{}, log)
	if err != nil {
		return fmt.Errorf("build agent: %w", err)
	}
	defer a.Close()

	rec, err := a.Orchestrator.RunCycle(ctx, time.Now().UTC())
	printRecord(rec)
	printSummary(a)
	return err
}

func printRecord(rec cycle.Record) {
	fmt.Printf("Cycle %s: %s", rec.ID, rec.Outcome)
	if rec.Degraded() {
		fmt.Printf(" (signals from %s)", rec.Snapshot.Origin())
	}
	fmt.Println()
	fmt.Printf("  Bars: %d/%d series\n", rec.Stats.Returned, rec.Stats.Requested)
	fmt.Printf("  Decisions: %d  approved: %d  rejected: %d  executed: %d\n",
		len(rec.Decisions), len(rec.Approved), len(rec.Rejected), len(rec.Executions))
	for _, x := range rec.Executions {
		fmt.Printf("    %s %s: %s\n", x.Decision.Action, x.Decision.Symbol, x.Status)
	}
	for _, c := range rec.Closed {
		fmt.Printf("    closed %s %s P&L $%.2f\n", c.Symbol, c.Reason, c.RealizedPL)
	}
	if rec.Err != nil {
		fmt.Printf("  Error: %v\n", rec.Err)
	}
}

func printSummary(a *agent.Agent) {
	s := a.Session
	sum := s.Summary(a.Limits)
	fmt.Printf("\nSession since %s\n", s.Started.Format(time.RFC3339))
	fmt.Printf("  Cycles: %d (degraded %d)\n", s.Cycles, s.Degraded)
	fmt.Printf("  Positions: %d/%d open (target %d, minimum %d)\n",
		sum.OpenPositions, sum.MaxPositions, sum.TargetPositions, sum.MinPositions)
	fmt.Printf("  Trades: %d opened, %d closed\n", sum.TradesOpened, sum.TradesClosed)
	fmt.Printf("  Balance: $%.2f  Equity: $%.2f  Drawdown: %.2f%%\n", sum.Balance, sum.Equity, sum.Drawdown*100)
	if sum.BelowMinimum() {
		fmt.Println("  ⚠ below the session minimum of open positions")
	}
}

// printReport prints a P&L report.
func printReport(r journal.Report) {
	fmt.Printf("Trades: %d  wins: %d  net: $%.2f  profit factor: %.2f\n",
		r.Total.Trades, r.Total.Wins, r.Total.Net, r.Total.ProfitFactor())
	if len(r.BySymbol) > 0 {
		fmt.Println("\nBy symbol:")
		for _, p := range r.BySymbol {
			fmt.Printf("  %-8s %4d trades  net $%10.2f\n", p.Key, p.Trades, p.Net)
		}
	}
	if len(r.ByReason) > 0 {
		fmt.Println("\nBy reason:")
		for _, p := range r.ByReason {
			fmt.Printf("  %-16s %4d trades  net $%10.2f\n", p.Key, p.Trades, p.Net)
		}
	}
}
