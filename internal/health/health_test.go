package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
)

func ok(context.Context) error { return nil }

func TestHealthHandlerAggregatesChecks(t *testing.T) {
	tests := []struct {
		name       string
		checkers   map[string]Checker
		wantStatus Status
		wantCode   int
	}{
		{"no checks", nil, StatusHealthy, http.StatusOK},
		{"healthy", map[string]Checker{"storage": NewCheckFunc("storage", ok)}, StatusHealthy, http.StatusOK},
		{
			"unhealthy",
			map[string]Checker{
				"storage": NewCheckFunc("storage", func(context.Context) error { return errors.New("connection refused") }),
				"other":   NewCheckFunc("other", ok),
			},
			StatusUnhealthy,
			http.StatusServiceUnavailable,
		},
		{"degraded", map[string]Checker{"outbox": staticChecker{StatusDegraded}}, StatusDegraded, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHandler("v1.2.3")
			for name, checker := range tt.checkers {
				handler.RegisterChecker(name, checker)
			}

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			require.Equal(t, tt.wantCode, w.Code)
			var resp Response
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, "v1.2.3", resp.Version)
			assert.Len(t, resp.Checks, len(tt.checkers))
		})
	}
}

func TestReadinessHandler(t *testing.T) {
	handler := NewHandler("dev")
	handler.RegisterChecker("outbox", staticChecker{StatusDegraded})

	w := httptest.NewRecorder()
	handler.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	handler.RegisterChecker("storage", staticChecker{StatusUnhealthy})
	w = httptest.NewRecorder()
	handler.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "not ready", w.Body.String())
}

func TestChecksReceiveDeadline(t *testing.T) {
	handler := NewHandler("dev")
	handler.timeout = 20 * time.Millisecond
	handler.RegisterChecker("slow", NewCheckFunc("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	status, checks := handler.Run(context.Background())
	assert.Equal(t, StatusUnhealthy, status)
	assert.Contains(t, checks["slow"].Message, "deadline")
}

func TestLivenessHandler(t *testing.T) {
	w := httptest.NewRecorder()
	LivenessHandler(w, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestOutboxBacklogChecker(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOutboxRepository()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	checker := NewOutboxBacklogChecker(repo, time.Minute)
	checker.now = func() time.Time { return now }
	assert.Equal(t, StatusHealthy, checker.Check(ctx).Status)

	_, err := repo.Enqueue(ctx, domain.OutboxMessage{AggregateID: "o-1", CreatedAt: now.Add(-30 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, checker.Check(ctx).Status)

	_, err = repo.Enqueue(ctx, domain.OutboxMessage{AggregateID: "o-2", CreatedAt: now.Add(-5 * time.Minute)})
	require.NoError(t, err)
	check := checker.Check(ctx)
	assert.Equal(t, StatusDegraded, check.Status)
	assert.Contains(t, check.Message, "2 pending events")
}

type staticChecker struct{ status Status }

func (s staticChecker) Check(context.Context) Check {
	return Check{Name: "static", Status: s.status}
}
