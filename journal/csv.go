package journal

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

var tradeHeader = []string{
	"trade_id", "cycle", "symbol", "direction", "units", "entry_price", "exit_price",
	"open_time", "close_time", "realized_pl", "reason",
}

// WriteTradesCSV exports trades for spreadsheets and offline analysis.
func WriteTradesCSV(w io.Writer, trades []TradeRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tradeHeader); err != nil {
		return err
	}
	for _, t := range trades {
		closeTime := ""
		if t.Closed() {
			closeTime = t.CloseTime.UTC().Format(time.RFC3339)
		}
		if err := cw.Write([]string{
			t.TradeID,
			t.Cycle,
			t.Symbol,
			t.Direction,
			f(t.Units),
			f(t.EntryPrice),
			f(t.ExitPrice),
			t.OpenTime.UTC().Format(time.RFC3339),
			closeTime,
			f(t.RealizedPL),
			t.Reason,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
