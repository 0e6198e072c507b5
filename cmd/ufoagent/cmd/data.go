package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/ufoagent/agent"
	"github.com/rustyeddy/ufoagent/gateway/csvdir"
	"github.com/rustyeddy/ufoagent/market"
	"github.com/rustyeddy/ufoagent/oanda"
)

var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "Fetch and export bar history",
}

var dataExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write bars from the configured source to CSV files",
	Long: `Fetch every configured symbol and timeframe from data.source and write
one CSV file per series into a directory the csv source can replay.

Example:
  ufoagent data export --out ./bars --end 2025-07-31T18:00:00Z`,
	Args: cobra.NoArgs,
	RunE: runDataExport,
}

var (
	dataOut string
	dataEnd string
)

func init() {
	rootCmd.AddCommand(dataCmd)
	dataCmd.AddCommand(dataExportCmd)

	dataExportCmd.Flags().StringVarP(&dataOut, "out", "o", "./bars", "output directory")
	dataExportCmd.Flags().StringVar(&dataEnd, "end", "", "last bar time, RFC3339 (default now)")
}

func runDataExport(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	var end *time.Time
	if dataEnd != "" {
		t, err := time.Parse(time.RFC3339, dataEnd)
		if err != nil {
			return fmt.Errorf("end: %w", err)
		}
		end = &t
	}

	var oc *oanda.Client
	if cfg.Data.Source == "oanda" {
		oc = oanda.NewClient(cfg.Broker.Token, cfg.Broker.Practice).WithAccount(cfg.Broker.AccountID)
	}
	src, err := agent.NewSource(cfg.Data, oc)
	if err != nil {
		return err
	}
	bars, err := cfg.Data.TimeframeBars()
	if err != nil {
		return err
	}
	tfs := make([]market.Timeframe, 0, len(bars))
	for tf := range bars {
		tfs = append(tfs, tf)
	}
	market.SortTimeframes(tfs)

	ctx := context.Background()
	written := 0
	for _, sym := range cfg.Trading.Universe() {
		for _, tf := range tfs {
			fctx, cancel := context.WithTimeout(ctx, cfg.Data.FetchTimeout())
			s, err := src.FetchBars(fctx, sym, tf, bars[tf], end)
			cancel()
			if err != nil {
				log.Warn().Err(err).Str("symbol", sym).Str("timeframe", tf.String()).Msg("skipped")
				continue
			}
			path, err := csvdir.WriteFile(dataOut, s)
			if err != nil {
				return fmt.Errorf("write %s %s: %w", sym, tf, err)
			}
			written++
			log.Debug().Str("file", path).Int("bars", len(s.Candles)).Msg("written")
		}
	}
	fmt.Printf("✓ Wrote %d series to %s\n", written, dataOut)
	return nil
}
