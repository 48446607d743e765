package models

import (
	"encoding/json"
	"testing"
	"time"

	"binance-grid-bot-go/internal/config"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestGrid_Sellable(t *testing.T) {
	buy := Grid{
		Side:            SideBuy,
		OperatingAmount: d("3"),
		SellAmount:      d("1"),
		NeedSellPrice:   d("105"),
	}

	assert.True(t, buy.Sellable(d("105")), "take-profit price is inclusive")
	assert.True(t, buy.Sellable(d("120")))
	assert.False(t, buy.Sellable(d("104.99")))

	closed := buy.Clone()
	closed.SellAmount = d("3")
	assert.False(t, closed.Sellable(d("200")), "fully sold grid is never sellable again")

	sell := Grid{Side: SideSell, OperatingAmount: d("3"), NeedSellPrice: d("0")}
	assert.False(t, sell.Sellable(d("200")), "SELL grids are never sold")
}

func TestGrid_Outstanding(t *testing.T) {
	g := Grid{Side: SideBuy, OperatingAmount: d("5"), SellAmount: d("3")}
	assert.True(t, d("2").Equal(g.Outstanding()))

	g.SellAmount = d("6")
	assert.True(t, g.Outstanding().IsZero())

	s := Grid{Side: SideSell, OperatingAmount: d("5")}
	assert.True(t, s.Outstanding().IsZero())
}

func TestGrid_CloneIsDeep(t *testing.T) {
	g := Grid{ID: "a", SellTids: []string{"s1"}}
	c := g.Clone()
	c.SellTids[0] = "changed"
	assert.Equal(t, "s1", g.SellTids[0])
	assert.True(t, g.HasSellTid("s1"))
	assert.False(t, g.HasSellTid("s2"))
}

func TestGrid_Stamp(t *testing.T) {
	var g Grid
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	g.Stamp(ts)
	assert.Equal(t, "1709296200000", g.FillTime)
	assert.Equal(t, "2024-03-01 12:30:00", g.FillTimeFormat)
}

func TestGrid_UnmarshalLegacyLayout(t *testing.T) {
	raw := `{
		"tid": "x1",
		"tradeStatus": 1,
		"operatingTime": "1700000000000",
		"operatingTimeFormat": "2023/11/14",
		"operatingPrice": 1900.5,
		"operatingAmount": 0.05,
		"tradingType": 0,
		"nextBuyPrice": 1805.48,
		"needSellPrice": 1995.53,
		"sellAmount": 0,
		"sellTids": []
	}`

	var g Grid
	require.NoError(t, json.Unmarshal([]byte(raw), &g))
	assert.Equal(t, StatusSuccess, g.Status)
	assert.Equal(t, SideBuy, g.Side)
	assert.True(t, d("1900.5").Equal(g.FillPrice))
	assert.True(t, d("1995.53").Equal(g.NeedSellPrice))

	var sell Grid
	require.NoError(t, json.Unmarshal([]byte(`{"tid":"x2","tradeStatus":"finished","tradingType":"SELL"}`), &sell))
	assert.Equal(t, StatusFinished, sell.Status)
	assert.Equal(t, SideSell, sell.Side)

	assert.Error(t, json.Unmarshal([]byte(`{"tradingType":7}`), &sell))
}

func TestProfile_Thresholds(t *testing.T) {
	p := NewProfile(config.Grid{
		TradingPair:    "ETHUSDT",
		BuyDownRate:    0.10,
		SellUpRate:     0.05,
		Precision:      2,
		BuyQuoteAmount: 100,
	})

	assert.Equal(t, "90", p.NextBuyPrice(d("100")).String())
	assert.Equal(t, "105", p.NeedSellPrice(d("100")).String())
	// Exact decimal rounding: 110.25 * 0.9 = 99.225 rounds half away from zero.
	assert.Equal(t, "99.23", p.NextBuyPrice(d("110.25")).String())
}

func TestGridRecord_RoundTrip(t *testing.T) {
	g := Grid{
		ID:              "abc",
		Status:          StatusSuccess,
		FillPrice:       d("100"),
		OperatingAmount: d("1.5"),
		Side:            SideBuy,
		NextBuyPrice:    d("90"),
		NeedSellPrice:   d("105"),
		SellAmount:      d("0.5"),
		SellTids:        []string{"s1"},
	}
	rec := NewGridRecord("ETHUSDT", 3, g)
	assert.Equal(t, "ETHUSDT", rec.Pair)
	assert.Equal(t, 3, rec.Position)
	assert.Equal(t, g, rec.Grid())
}
