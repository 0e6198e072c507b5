package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/ufoagent/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the run journal",
	Long: `Query the trades, cycles and P&L recorded by the agent.

Subcommands:
  trades  - List trades closed on a day, or every open trade
  cycles  - Show the most recent cycles
  pnl     - P&L by symbol and closing reason

Examples:
  ufoagent journal trades --day 2025-07-31
  ufoagent journal trades --open --csv > open.csv
  ufoagent journal cycles -n 5
  ufoagent journal pnl --log ufo-run.log`,
}

var journalTradesCmd = &cobra.Command{
	Use:   "trades",
	Short: "List journaled trades",
	Args:  cobra.NoArgs,
	RunE:  runJournalTrades,
}

var journalCyclesCmd = &cobra.Command{
	Use:   "cycles",
	Short: "Show recent cycles",
	Args:  cobra.NoArgs,
	RunE:  runJournalCycles,
}

var journalPnLCmd = &cobra.Command{
	Use:   "pnl",
	Short: "Summarize realized P&L",
	Long: `Summarize realized P&L from the journal database, or from a text run
log when --log is given.`,
	Args: cobra.NoArgs,
	RunE: runJournalPnL,
}

var (
	journalDBPath string
	journalDay    string
	journalDays   int
	journalOpen   bool
	journalCSV    bool
	journalLimit  int
	journalLog    string
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalTradesCmd)
	journalCmd.AddCommand(journalCyclesCmd)
	journalCmd.AddCommand(journalPnLCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "", "SQLite journal (default journal.sqlite_path)")
	journalTradesCmd.Flags().StringVar(&journalDay, "day", "", "day trades closed on (YYYY-MM-DD, default today)")
	journalTradesCmd.Flags().BoolVar(&journalOpen, "open", false, "list open trades instead")
	journalTradesCmd.Flags().BoolVar(&journalCSV, "csv", false, "write CSV to stdout")
	journalCyclesCmd.Flags().IntVarP(&journalLimit, "limit", "n", 10, "number of cycles")
	journalPnLCmd.Flags().StringVar(&journalLog, "log", "", "text run log to read instead of the database")
	journalPnLCmd.Flags().IntVar(&journalDays, "days", 30, "days back to include")
}

func openStore() (*journal.SQLite, error) {
	path := journalDBPath
	if path == "" {
		cfg, _, err := loadConfig()
		if err != nil {
			return nil, err
		}
		path = cfg.Journal.SQLitePath
	}
	if path == "" {
		return nil, fmt.Errorf("no journal database: pass --db or set journal.sqlite_path")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	j, err := journal.NewSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return j, nil
}

// dayBounds returns [start, end) for a YYYY-MM-DD day in loc.
func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	d, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return d, d.AddDate(0, 0, 1), nil
}

func runJournalTrades(cmd *cobra.Command, args []string) error {
	j, err := openStore()
	if err != nil {
		return err
	}
	defer j.Close()
	ctx := context.Background()

	var recs []journal.TradeRecord
	if journalOpen {
		recs, err = j.OpenTrades(ctx)
	} else {
		day := journalDay
		if day == "" {
			day = time.Now().UTC().Format("2006-01-02")
		}
		start, end, derr := dayBounds(time.UTC, day)
		if derr != nil {
			return fmt.Errorf("date: %w", derr)
		}
		recs, err = j.Trades(ctx, start, end)
	}
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}

	if journalCSV {
		return journal.WriteTradesCSV(os.Stdout, recs)
	}
	if len(recs) == 0 {
		fmt.Println("No trades.")
		return nil
	}
	for _, r := range recs {
		fmt.Printf("%s  %-7s %-5s %8.0f @ %.5f", r.OpenTime.Format("2006-01-02 15:04"), r.Symbol, r.Direction, r.Units, r.EntryPrice)
		if r.Closed() {
			fmt.Printf(" -> %.5f  %s  P&L $%.2f", r.ExitPrice, r.Reason, r.RealizedPL)
		}
		fmt.Printf("  [%s]\n", r.TradeID)
	}
	return nil
}

func runJournalCycles(cmd *cobra.Command, args []string) error {
	j, err := openStore()
	if err != nil {
		return err
	}
	defer j.Close()

	cycles, err := j.Cycles(context.Background(), journalLimit)
	if err != nil {
		return fmt.Errorf("query cycles: %w", err)
	}
	if len(cycles) == 0 {
		fmt.Println("No cycles.")
		return nil
	}
	for _, c := range cycles {
		fmt.Printf("%s  %s  %-9s", c.Start.Format("2006-01-02 15:04:05"), c.ID, c.Outcome)
		if c.Degraded {
			fmt.Printf(" degraded(%s)", c.Origin)
		}
		s := c.Summary
		fmt.Printf("  %d/%d open  decisions=%d rejected=%d executed=%d  equity $%.2f\n",
			s.OpenPositions, s.MaxPositions, len(c.Decisions), len(c.Rejections), len(c.Executions), s.Equity)
		if c.Error != "" {
			fmt.Printf("    error: %s\n", c.Error)
		}
	}
	return nil
}

func runJournalPnL(cmd *cobra.Command, args []string) error {
	if journalLog != "" {
		f, err := os.Open(journalLog)
		if err != nil {
			return fmt.Errorf("open log: %w", err)
		}
		defer f.Close()
		lines, err := journal.ParseClosedLines(f)
		if err != nil {
			return fmt.Errorf("read log: %w", err)
		}
		printReport(journal.SummarizeLines(lines))
		return nil
	}

	j, err := openStore()
	if err != nil {
		return err
	}
	defer j.Close()

	end := time.Now().UTC()
	recs, err := j.Trades(context.Background(), end.AddDate(0, 0, -journalDays), end)
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}
	printReport(journal.Summarize(recs))
	return nil
}
