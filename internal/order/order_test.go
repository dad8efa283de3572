package order

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Spok95/pipe-catalog/internal/apperr"
	"github.com/Spok95/pipe-catalog/internal/pricing"
)

type MockQuoter struct {
	mock.Mock
}

func (m *MockQuoter) Calculate(ctx context.Context, req pricing.Request) (pricing.Result, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(pricing.Result), args.Error(1)
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCart_AddMergesSameLine(t *testing.T) {
	var c Cart
	require.NoError(t, c.Add(Line{ProductID: 1, StockID: 7, Quantity: d("10"), Unit: pricing.UnitLength}))
	require.NoError(t, c.Add(Line{ProductID: 1, StockID: 7, Quantity: d("5.5"), Unit: pricing.UnitLength}))
	require.NoError(t, c.Add(Line{ProductID: 1, StockID: 7, Quantity: d("1"), Unit: pricing.UnitWeight}))

	require.Len(t, c.Lines, 2)
	assert.True(t, c.Lines[0].Quantity.Equal(d("15.5")))
	assert.Equal(t, pricing.UnitWeight, c.Lines[1].Unit)
}

func TestCart_AddRejectsBadLines(t *testing.T) {
	var c Cart
	assert.ErrorIs(t, c.Add(Line{ProductID: 1, StockID: 7, Quantity: decimal.Zero, Unit: pricing.UnitLength}), apperr.ErrInvalidArgument)
	assert.ErrorIs(t, c.Add(Line{ProductID: 1, StockID: 7, Quantity: d("1"), Unit: "pcs"}), apperr.ErrInvalidArgument)
	assert.Empty(t, c.Lines)
}

func TestQuote_SumsCalculatorPrices(t *testing.T) {
	// Arrange
	ctx := context.Background()
	q := new(MockQuoter)
	l1 := Line{ProductID: 1, StockID: 7, Quantity: d("50"), Unit: pricing.UnitLength}
	l2 := Line{ProductID: 2, StockID: 7, Quantity: d("1"), Unit: pricing.UnitWeight}
	q.On("Calculate", ctx, pricing.Request{ProductID: 1, StockID: 7, Quantity: d("50"), Unit: pricing.UnitLength}).
		Return(pricing.Result{BasePrice: d("5000"), FinalPrice: d("4500")}, nil)
	q.On("Calculate", ctx, pricing.Request{ProductID: 2, StockID: 7, Quantity: d("1"), Unit: pricing.UnitWeight}).
		Return(pricing.Result{BasePrice: d("90000"), FinalPrice: d("90000")}, nil)

	// Act
	o, err := Quote(ctx, q, []Line{l1, l2})

	// Assert
	require.NoError(t, err)
	assert.Len(t, o.Lines, 2)
	assert.True(t, o.Subtotal.Equal(d("95000")))
	assert.True(t, o.Total.Equal(d("94500")))
	assert.True(t, o.Discount.Equal(d("500")))
	q.AssertExpectations(t)
}

func TestQuote_LineErrorFailsWholeOrder(t *testing.T) {
	ctx := context.Background()
	q := new(MockQuoter)
	q.On("Calculate", ctx, mock.Anything).Return(pricing.Result{}, apperr.ErrNotFound)

	o, err := Quote(ctx, q, []Line{{ProductID: 9, StockID: 1, Quantity: d("1"), Unit: pricing.UnitLength}})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Empty(t, o.Lines)
}

func TestQuote_EmptyCart(t *testing.T) {
	_, err := Quote(context.Background(), new(MockQuoter), nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}
