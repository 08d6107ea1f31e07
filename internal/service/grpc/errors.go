package grpcsvc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// toStatus переводит ошибку сервиса в gRPC-статус.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}

	de, ok := domain.AsError(err)
	if !ok {
		if errors.Is(err, domain.ErrOrderVersionConflict) {
			return status.Error(codes.Aborted, err.Error())
		}
		return status.Error(codes.Internal, "internal error")
	}

	switch de.Kind {
	case domain.KindNotFound:
		return status.Error(codes.NotFound, de.Error())
	case domain.KindValidation, domain.KindPayment:
		return status.Error(codes.InvalidArgument, de.Error())
	case domain.KindInvalidState:
		return status.Error(codes.FailedPrecondition, de.Error())
	case domain.KindInsufficientStock:
		msg := de.Error()
		if de.Mutated {
			msg += " (order_mutated: order cancelled)"
		}
		return status.Error(codes.FailedPrecondition, msg)
	default:
		return status.Error(codes.Internal, de.Error())
	}
}
