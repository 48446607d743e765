package paper

import (
	"context"
	"testing"

	"binance-grid-bot-go/internal/config"
	"binance-grid-bot-go/internal/exchange"
	"binance-grid-bot-go/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixedPrice decimal.Decimal

func (p fixedPrice) GetCurrentPrice(context.Context, string) (decimal.Decimal, error) {
	return decimal.Decimal(p), nil
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newGateway(quote, base float64) *Gateway {
	profile := models.Profile{Pair: "ETHUSDT", TargetCoin: "ETH", AnchorCoin: "USDT"}
	return New(fixedPrice(d("2000")), profile, config.Paper{QuoteBalance: quote, BaseBalance: base}, zap.NewNop())
}

func TestGateway_BuyThenSell(t *testing.T) {
	ctx := context.Background()
	g := newGateway(1000, 0)

	price, err := g.GetCurrentPrice(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.True(t, d("2000").Equal(price))

	buyID, err := g.BuyCoin(ctx, d("2000"), d("100"), "ETHUSDT")
	require.NoError(t, err)
	require.NotEmpty(t, buyID)

	res, err := g.SearchTrade(ctx, buyID, "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, res.Status)
	assert.True(t, d("0.05").Equal(res.GainAmount))
	assert.True(t, d("100").Equal(res.GivenAmount))
	assert.True(t, res.Filled())

	eth, _ := g.GetAccountBalance(ctx, "ETH")
	usdt, _ := g.GetAccountBalance(ctx, "USDT")
	assert.True(t, d("0.05").Equal(eth))
	assert.True(t, d("900").Equal(usdt))

	sellID, err := g.SellCoin(ctx, d("2100"), d("0.05"), "ETHUSDT")
	require.NoError(t, err)
	res, err = g.SearchTrade(ctx, sellID, "ETHUSDT")
	require.NoError(t, err)
	assert.True(t, d("105").Equal(res.GivenAmount))

	usdt, _ = g.GetAccountBalance(ctx, "USDT")
	assert.True(t, d("1005").Equal(usdt))
}

func TestGateway_InsufficientBalance(t *testing.T) {
	ctx := context.Background()
	g := newGateway(50, 0)

	_, err := g.BuyCoin(ctx, d("2000"), d("100"), "ETHUSDT")
	assert.ErrorIs(t, err, exchange.ErrInsufficientBalance)

	_, err = g.SellCoin(ctx, d("2000"), d("1"), "ETHUSDT")
	assert.ErrorIs(t, err, exchange.ErrInsufficientBalance)
}

func TestGateway_CancelIsIdempotent(t *testing.T) {
	ctx := context.Background()
	g := newGateway(1000, 0)

	id, err := g.BuyCoin(ctx, d("2000"), d("100"), "ETHUSDT")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		cancelled, err := g.CancelTrade(ctx, id, "ETHUSDT")
		assert.NoError(t, err)
		assert.False(t, cancelled)
	}

	_, err = g.SearchTrade(ctx, "missing", "ETHUSDT")
	assert.ErrorIs(t, err, exchange.ErrOrderNotFound)
}
