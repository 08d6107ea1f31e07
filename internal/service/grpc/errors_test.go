package grpcsvc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

func TestToStatus(t *testing.T) {
	shortage := domain.InsufficientStock("P1", "Notebook", 1, 3)
	mutated := domain.InsufficientStock("P1", "Notebook", 1, 3)
	mutated.Mutated = true

	tests := []struct {
		name string
		err  error
		code codes.Code
	}{
		{"not found", domain.NotFound("order", "o-1", domain.ErrOrderNotFound), codes.NotFound},
		{"validation", domain.Validation("items", 0, "must not be empty"), codes.InvalidArgument},
		{"payment", domain.PaymentFailed("o-1", "amount above ceiling"), codes.InvalidArgument},
		{"invalid state", domain.InvalidState("o-1", domain.OrderStatusApproved, "cancel"), codes.FailedPrecondition},
		{"shortage", shortage, codes.FailedPrecondition},
		{"wrapped", fmt.Errorf("create: %w", mutated), codes.FailedPrecondition},
		{"version conflict", fmt.Errorf("save: %w", domain.ErrOrderVersionConflict), codes.Aborted},
		{"deadline", context.DeadlineExceeded, codes.DeadlineExceeded},
		{"infrastructure", errors.New("connection reset"), codes.Internal},
		{"already status", status.Error(codes.Unavailable, "down"), codes.Unavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, status.Code(toStatus(tt.err)))
		})
	}

	assert.NotContains(t, status.Convert(toStatus(shortage)).Message(), "order_mutated")
	assert.Contains(t, status.Convert(toStatus(mutated)).Message(), "order_mutated")
	assert.NotContains(t, status.Convert(toStatus(errors.New("password=secret"))).Message(), "secret")
	assert.NoError(t, toStatus(nil))
}

func TestRequestHashIsStable(t *testing.T) {
	a, err := structpb.NewStruct(map[string]any{"customer_id": "C1", "note": "x"})
	require.NoError(t, err)
	b, err := structpb.NewStruct(map[string]any{"note": "x", "customer_id": "C1"})
	require.NoError(t, err)

	ha, err := requestHash(MethodCreateOrder, a)
	require.NoError(t, err)
	hb, err := requestHash(MethodCreateOrder, b)
	require.NoError(t, err)
	hc, err := requestHash(MethodCancelOrder, a)
	require.NoError(t, err)

	assert.Equal(t, ha, hb)
	assert.NotEqual(t, ha, hc)
}

func TestIntField(t *testing.T) {
	req, err := structpb.NewStruct(map[string]any{"n": 3, "f": 2.5, "s": "3"})
	require.NoError(t, err)

	n, err := intField(req, "n", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	def, err := intField(req, "missing", 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), def)

	_, err = intField(req, "f", 0)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	_, err = intField(req, "s", 0)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
