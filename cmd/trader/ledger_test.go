package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"binance-grid-bot-go/internal/config"
	"binance-grid-bot-go/internal/ledger"
	"binance-grid-bot-go/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const legacyDocument = `{"ETHUSDT":{"tradingGrids":[
	{"tid":"a","tradeStatus":1,"operatingTime":"1","operatingTimeFormat":"x","operatingPrice":100,
	 "operatingAmount":1,"tradingType":0,"nextBuyPrice":90,"needSellPrice":105,"sellAmount":0.5,"sellTids":["s"]},
	{"tid":"b","tradeStatus":1,"operatingTime":"2","operatingTimeFormat":"y","operatingPrice":90,
	 "operatingAmount":1,"tradingType":0,"nextBuyPrice":81,"needSellPrice":94.5,"sellAmount":0,"sellTids":[]}
]}}`

func TestImportExportLedger(t *testing.T) {
	ctx := context.Background()
	persister := ledger.NewJSONPersister(filepath.Join(t.TempDir(), "db.json"))

	// A stale copy of "a" already in the store is replaced, not duplicated.
	store, err := ledger.Open(ctx, persister, zap.NewNop())
	require.NoError(t, err)
	store.GetLedger("ETHUSDT").Append(models.Grid{ID: "a", Side: models.SideBuy, FillPrice: decimal.NewFromInt(1)})
	require.NoError(t, store.Close(ctx))

	require.NoError(t, importLedger(ctx, bytes.NewBufferString(legacyDocument), persister, zap.NewNop()))

	snapshot, err := persister.Load(ctx)
	require.NoError(t, err)
	grids := snapshot["ETHUSDT"]
	require.Len(t, grids, 2)
	assert.Equal(t, "a", grids[0].ID)
	assert.True(t, decimal.NewFromInt(100).Equal(grids[0].FillPrice))
	assert.Equal(t, []string{"s"}, grids[0].SellTids)
	assert.Equal(t, "b", grids[1].ID)

	var out bytes.Buffer
	require.NoError(t, exportLedger(ctx, &out, persister))
	exported, err := ledger.DecodeJSON(&out)
	require.NoError(t, err)
	assert.Len(t, exported["ETHUSDT"], 2)
}

func TestOpenPersister_UnknownBackend(t *testing.T) {
	_, _, err := openPersister(config.Store{Backend: "redis"})
	assert.Error(t, err)
}
