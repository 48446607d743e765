package binance

import (
	"context"
	"errors"
	"testing"

	"binance-grid-bot-go/internal/exchange"
	"binance-grid-bot-go/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockRestClient is a mock implementation of RestClientInterface.
type MockRestClient struct {
	mock.Mock
}

func (m *MockRestClient) GetServerTime(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRestClient) GetTickerPrice(ctx context.Context, symbol string) (string, error) {
	args := m.Called(ctx, symbol)
	return args.String(0), args.Error(1)
}

func (m *MockRestClient) GetExchangeInfo(ctx context.Context, symbol string) (*ExchangeInfoResponse, error) {
	args := m.Called(ctx, symbol)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ExchangeInfoResponse), args.Error(1)
}

func (m *MockRestClient) GetAccount(ctx context.Context) (*AccountResponse, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*AccountResponse), args.Error(1)
}

func (m *MockRestClient) CreateOrder(ctx context.Context, order OrderRequest) (*OrderResponse, error) {
	args := m.Called(ctx, order)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*OrderResponse), args.Error(1)
}

func (m *MockRestClient) QueryOrder(ctx context.Context, symbol, clientOrderID string) (*OrderResponse, error) {
	args := m.Called(ctx, symbol, clientOrderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*OrderResponse), args.Error(1)
}

func (m *MockRestClient) CancelOrder(ctx context.Context, symbol, clientOrderID string) (*OrderResponse, error) {
	args := m.Called(ctx, symbol, clientOrderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*OrderResponse), args.Error(1)
}

var ethusdt = SymbolInfo{
	Symbol:     "ETHUSDT",
	Status:     "TRADING",
	BaseAsset:  "ETH",
	QuoteAsset: "USDT",
	Filters: []Filter{
		{FilterType: FilterPriceFilter, MinPrice: "0.01", MaxPrice: "1000000", TickSize: "0.01"},
		{FilterType: FilterLotSize, MinQty: "0.0001", MaxQty: "9000", StepSize: "0.0001"},
	},
}

func newTestGateway(t *testing.T) (*Gateway, *MockRestClient) {
	client := new(MockRestClient)
	client.On("GetExchangeInfo", mock.Anything, "ETHUSDT").
		Return(&ExchangeInfoResponse{Symbols: []SymbolInfo{ethusdt}}, nil).Maybe()
	t.Cleanup(func() { client.AssertExpectations(t) })
	return NewGateway(client, zap.NewNop()), client
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestSymbolInfo_FloorQuantity(t *testing.T) {
	testCases := []struct {
		name    string
		qty     string
		want    string
		wantErr bool
	}{
		{name: "floors to step", qty: "1.23456", want: "1.2345"},
		{name: "exact step", qty: "0.25", want: "0.25"},
		{name: "below min", qty: "0.00009", wantErr: true},
		{name: "zero", qty: "0", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ethusdt.FloorQuantity(d(tc.qty))
			if tc.wantErr {
				assert.ErrorIs(t, err, exchange.ErrOrderTooSmall)
				return
			}
			require.NoError(t, err)
			assert.True(t, d(tc.want).Equal(got), "got %s", got)
		})
	}
}

func TestSymbolInfo_RoundPrice(t *testing.T) {
	assert.True(t, d("100.01").Equal(ethusdt.RoundPrice(d("100.005"))))
	assert.True(t, d("99.22").Equal(ethusdt.RoundPrice(d("99.2249"))))
	// No price filter: unchanged.
	assert.True(t, d("1.23456").Equal(SymbolInfo{}.RoundPrice(d("1.23456"))))
}

func TestGateway_BuyCoin(t *testing.T) {
	g, client := newTestGateway(t)

	client.On("CreateOrder", mock.Anything, mock.MatchedBy(func(o OrderRequest) bool {
		return o.Symbol == "ETHUSDT" &&
			o.Side == OrderSideBuy &&
			o.Price == "30" &&
			o.Quantity == "0.3333" &&
			o.ClientOrderID != ""
	})).Return(&OrderResponse{ClientOrderID: "cid-1"}, nil).Once()

	// The price rounds to the tick, then 10 / 30 = 0.3333... floors to the step.
	id, err := g.BuyCoin(context.Background(), d("30.004"), d("10"), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, "cid-1", id)

	// Rules are fetched only once.
	client.On("CreateOrder", mock.Anything, mock.Anything).Return(&OrderResponse{ClientOrderID: "cid-2"}, nil).Once()
	_, err = g.BuyCoin(context.Background(), d("100"), d("25"), "ETHUSDT")
	require.NoError(t, err)
	client.AssertNumberOfCalls(t, "GetExchangeInfo", 1)
}

func TestGateway_SellCoinTooSmall(t *testing.T) {
	g, client := newTestGateway(t)

	_, err := g.SellCoin(context.Background(), d("100"), d("0.00001"), "ETHUSDT")
	assert.ErrorIs(t, err, exchange.ErrOrderTooSmall)
	client.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
}

func TestGateway_InsufficientBalance(t *testing.T) {
	g, client := newTestGateway(t)
	client.On("CreateOrder", mock.Anything, mock.Anything).
		Return(nil, &APIError{StatusCode: 400, Code: CodeNewOrderRejected, Msg: "Account has insufficient balance for requested action."}).Once()

	id, err := g.SellCoin(context.Background(), d("100"), d("1"), "ETHUSDT")
	assert.Empty(t, id)
	assert.ErrorIs(t, err, exchange.ErrInsufficientBalance)
}

func TestGateway_PlacementOutcomeUnknown(t *testing.T) {
	duplicate := &APIError{StatusCode: 400, Code: CodeNewOrderRejected, Msg: "Duplicate order sent."}
	unavailable := &APIError{StatusCode: 503, Code: -1007, Msg: "Timeout waiting for response from backend server."}
	noSuchOrder := &APIError{StatusCode: 400, Code: CodeNoSuchOrder, Msg: "Order does not exist."}

	testCases := []struct {
		name     string
		placeErr error
		queryErr error
		wantID   bool
		wantErr  bool
	}{
		{name: "duplicate of an accepted order", placeErr: duplicate, wantID: true},
		{name: "server error but order exists", placeErr: unavailable, wantID: true},
		{name: "network error and order unknown", placeErr: errors.New("connection reset"), queryErr: noSuchOrder, wantErr: true},
		{name: "lookup also fails", placeErr: unavailable, queryErr: errors.New("connection reset"), wantID: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			g, client := newTestGateway(t)
			var sent string
			client.On("CreateOrder", mock.Anything, mock.Anything).
				Run(func(args mock.Arguments) { sent = args.Get(1).(OrderRequest).ClientOrderID }).
				Return(nil, tc.placeErr).Once()
			if tc.queryErr != nil {
				client.On("QueryOrder", mock.Anything, "ETHUSDT", mock.Anything).Return(nil, tc.queryErr).Once()
			} else {
				client.On("QueryOrder", mock.Anything, "ETHUSDT", mock.Anything).
					Return(&OrderResponse{Status: "NEW"}, nil).Once()
			}

			id, err := g.BuyCoin(context.Background(), d("100"), d("25"), "ETHUSDT")
			if tc.wantErr {
				assert.Error(t, err)
				assert.Empty(t, id)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, sent, id)
			client.AssertCalled(t, "QueryOrder", mock.Anything, "ETHUSDT", sent)
		})
	}

	t.Run("definite rejection is not looked up", func(t *testing.T) {
		g, client := newTestGateway(t)
		client.On("CreateOrder", mock.Anything, mock.Anything).
			Return(nil, &APIError{StatusCode: 400, Code: -1013, Msg: "Filter failure: PRICE_FILTER"}).Once()

		id, err := g.BuyCoin(context.Background(), d("100"), d("25"), "ETHUSDT")
		assert.Error(t, err)
		assert.Empty(t, id)
		client.AssertNotCalled(t, "QueryOrder", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestGateway_SearchTrade(t *testing.T) {
	g, client := newTestGateway(t)

	client.On("QueryOrder", mock.Anything, "ETHUSDT", "cid-1").Return(&OrderResponse{
		Price:               "0",
		ExecutedQuantity:    "0.5",
		CummulativeQuoteQty: "50",
		Status:              "FILLED",
	}, nil).Once()
	client.On("QueryOrder", mock.Anything, "ETHUSDT", "gone").
		Return(nil, &APIError{StatusCode: 400, Code: CodeNoSuchOrder, Msg: "Order does not exist."}).Once()

	res, err := g.SearchTrade(context.Background(), "cid-1", "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, res.Status)
	assert.True(t, d("0.5").Equal(res.GainAmount))
	assert.True(t, d("50").Equal(res.GivenAmount))
	// Zero price falls back to the average fill price.
	assert.True(t, d("100").Equal(res.FillPrice))
	assert.True(t, res.Filled())

	_, err = g.SearchTrade(context.Background(), "gone", "ETHUSDT")
	assert.ErrorIs(t, err, exchange.ErrOrderNotFound)
}

func TestGateway_CancelTrade(t *testing.T) {
	g, client := newTestGateway(t)

	client.On("CancelOrder", mock.Anything, "ETHUSDT", "open").Return(&OrderResponse{Status: "CANCELED"}, nil).Once()
	client.On("CancelOrder", mock.Anything, "ETHUSDT", "filled").
		Return(nil, &APIError{StatusCode: 400, Code: CodeCancelRejected, Msg: "Unknown order sent."}).Once()
	client.On("CancelOrder", mock.Anything, "ETHUSDT", "down").Return(nil, errors.New("connection reset")).Once()

	ok, err := g.CancelTrade(context.Background(), "open", "ETHUSDT")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.CancelTrade(context.Background(), "filled", "ETHUSDT")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = g.CancelTrade(context.Background(), "down", "ETHUSDT")
	assert.Error(t, err)
}

func TestGateway_GetAccountBalance(t *testing.T) {
	g, client := newTestGateway(t)
	client.On("GetAccount", mock.Anything).Return(&AccountResponse{Balances: []Balance{
		{Asset: "ETH", Free: "1.5", Locked: "0"},
	}}, nil).Twice()

	eth, err := g.GetAccountBalance(context.Background(), "ETH")
	require.NoError(t, err)
	assert.True(t, d("1.5").Equal(eth))

	usdt, err := g.GetAccountBalance(context.Background(), "USDT")
	require.NoError(t, err)
	assert.True(t, usdt.IsZero())
}

func TestStatusOf(t *testing.T) {
	testCases := map[string]models.TradeStatus{
		"FILLED":           models.StatusSuccess,
		"CANCELED":         models.StatusFinished,
		"EXPIRED":          models.StatusFinished,
		"NEW":              models.StatusNotStarted,
		"PARTIALLY_FILLED": models.StatusPending,
		"REJECTED":         models.StatusFailed,
		"PENDING_CANCEL":   models.StatusUnknown,
	}
	for in, want := range testCases {
		assert.Equal(t, want, StatusOf(in), in)
	}
}
