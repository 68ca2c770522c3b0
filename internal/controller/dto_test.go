package controller

import (
	"testing"

	"github.com/cassiomorais/daraja/internal/domain/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloatToCents(t *testing.T) {
	tests := []struct {
		name  string
		input float64
		want  int64
	}{
		{"whole units", 100, 10000},
		{"units with cents", 100.50, 10050},
		{"cents only", 0.99, 99},
		{"zero", 0, 0},
		{"smallest amount", 0.01, 1},
		{"large amount", 100000.00, 10000000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, floatToCents(tt.input))
		})
	}
}

func TestCentsToFloat_RoundTrip(t *testing.T) {
	for _, cents := range []int64{0, 1, 99, 10050, 10000000} {
		assert.Equal(t, cents, floatToCents(centsToFloat(cents)))
	}
}

func TestFromTransaction(t *testing.T) {
	phone := "254712345678"
	txn, err := transaction.New(transaction.OpSTKPush, &phone, transaction.Amount{
		ValueCents: 10050,
		Currency:   "KES",
	})
	require.NoError(t, err)
	txn.SetSTKCorrelation("29115-1", "ws_CO_1")

	resp := FromTransaction(txn)

	assert.Equal(t, txn.ID.String(), resp.ID)
	assert.Equal(t, "stk_push", resp.Operation)
	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, 100.50, resp.Amount)
	assert.Equal(t, "KES", resp.Currency)
	require.NotNil(t, resp.CheckoutRequestID)
	assert.Equal(t, "ws_CO_1", *resp.CheckoutRequestID)
	require.NotNil(t, resp.Phone)
	assert.Equal(t, "254712345678", *resp.Phone)
}
