package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTradeClosed(t *testing.T) {
	at := time.Date(2025, 7, 31, 14, 0, 0, 0, time.UTC)
	tr := Trade{
		ID: "T1", Symbol: "EURUSD", Units: 10000, State: TradeClosed,
		ClosePrice: 1.1050, CloseTime: at, RealizedPL: 50, CloseReason: ReasonTakeProfit,
	}
	assert.Equal(t, Closed{TradeID: "T1", Symbol: "EURUSD", Price: 1.1050, Time: at, RealizedPL: 50, Reason: ReasonTakeProfit}, tr.Closed())
}
