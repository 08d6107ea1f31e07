package grpcsvc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

const (
	// IdempotencyKeyHeader — metadata-заголовок с ключом идемпотентности.
	IdempotencyKeyHeader  = "idempotency-key"
	DefaultIdempotencyTTL = domain.DefaultIdempotencyTTL
)

type structHandler func(context.Context, *structpb.Struct) (*structpb.Struct, error)

// idempotent выполняет handler не более одного раза на ключ. Без ключа запрос
// обрабатывается как обычно.
func (s *OrderService) idempotent(ctx context.Context, method string, req *structpb.Struct, handler structHandler) (*structpb.Struct, error) {
	key := idempotencyKey(ctx)
	if s.idem == nil || key == "" {
		return handler(ctx, req)
	}
	entry := s.logger.WithFields(log.Fields{"method": method, "idempotency_key": key})

	hash, err := requestHash(method, req)
	if err != nil {
		entry.WithError(err).Warn("failed to hash idempotent request")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	record, err := s.idem.CreateProcessing(ctx, key, hash, s.now().Add(s.idemTTL))
	if err != nil {
		return s.replay(method, err, record, entry)
	}

	resp, runErr := handler(ctx, req)
	if runErr != nil {
		s.recordRequest(method, "executed")
		s.storeFailure(ctx, key, runErr, entry)
		return nil, runErr
	}

	body, err := protojson.Marshal(resp)
	if err == nil {
		err = s.idem.MarkDone(ctx, key, body, int(codes.OK))
	}
	if err != nil {
		entry.WithError(err).Warn("failed to store idempotent response")
	}
	s.recordRequest(method, "executed")
	return resp, nil
}

func (s *OrderService) replay(method string, createErr error, record domain.IdempotencyRecord, entry *log.Entry) (*structpb.Struct, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		s.recordRequest(method, "conflict")
		return nil, status.Error(codes.AlreadyExists, "idempotency key is already used with a different request")
	case !errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		entry.WithError(createErr).Warn("failed to reserve idempotency key")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	switch record.Status {
	case domain.IdempotencyStatusProcessing:
		s.recordRequest(method, "in_progress")
		return nil, status.Error(codes.Aborted, "request with the same idempotency key is still processing")
	case domain.IdempotencyStatusDone:
		s.recordRequest(method, "replayed")
		resp := &structpb.Struct{}
		if err := protojson.Unmarshal(record.ResponseBody, resp); err != nil {
			entry.WithError(err).Warn("failed to decode cached response")
			return nil, status.Error(codes.Internal, "failed to decode cached response")
		}
		return resp, nil
	case domain.IdempotencyStatusFailed:
		s.recordRequest(method, "replayed")
		return nil, cachedFailure(record)
	default:
		return nil, status.Error(codes.Internal, "unknown idempotency record status")
	}
}

func (s *OrderService) storeFailure(ctx context.Context, key string, runErr error, entry *log.Entry) {
	st := status.Convert(runErr)
	code := st.Code()
	if code == codes.OK {
		code = codes.Internal
	}

	var body []byte
	payload, err := structpb.NewStruct(map[string]any{"message": st.Message()})
	if err == nil {
		body, err = protojson.Marshal(payload)
	}
	if err != nil {
		entry.WithError(err).Warn("failed to encode failure response")
	}
	if err := s.idem.MarkFailed(ctx, key, body, int(code)); err != nil {
		entry.WithError(err).Warn("failed to store failure response")
	}
}

func (s *OrderService) recordRequest(method, outcome string) {
	if s.idemMetrics != nil {
		s.idemMetrics.RecordRequest(method, outcome)
	}
}

func cachedFailure(record domain.IdempotencyRecord) error {
	code := codes.Internal
	if record.StatusCode > int(codes.OK) && record.StatusCode <= int(codes.Unauthenticated) {
		code = codes.Code(uint32(record.StatusCode))
	}

	message := "previous request with the same idempotency key failed"
	payload := &structpb.Struct{}
	if len(record.ResponseBody) > 0 && protojson.Unmarshal(record.ResponseBody, payload) == nil {
		if m := stringField(payload, "message"); m != "" {
			message = m
		}
	}
	return status.Error(code, message)
}

func idempotencyKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, value := range md.Get(IdempotencyKeyHeader) {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}

// requestHash связывает ключ с методом и детерминированной сериализацией запроса.
func requestHash(method string, req proto.Message) (string, error) {
	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(req)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{':'})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
