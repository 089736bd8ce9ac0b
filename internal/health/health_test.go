package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestChecker_BasicHealth(t *testing.T) {
	checker := NewChecker(&CheckerConfig{
		Version: "1.0.0",
		Timeout: 5 * time.Second,
	})

	response := checker.Check(context.Background())

	if response.Status != StatusHealthy {
		t.Errorf("expected status healthy, got %s", response.Status)
	}
	if response.Version != "1.0.0" {
		t.Errorf("expected version 1.0.0, got %s", response.Version)
	}
}

func TestChecker_DeepCheck_AllHealthy(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer sqlDB.Close()
	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	checker := NewChecker(&CheckerConfig{
		DB:    sqlDB,
		Redis: client,
		Probes: map[string]Probe{
			"revocation": func(ctx context.Context) error { return nil },
		},
		Version: "1.0.0",
	})

	response := checker.DeepCheck(context.Background())

	if response.Status != StatusHealthy {
		t.Errorf("expected status healthy, got %s (%+v)", response.Status, response.Components)
	}
	for _, name := range []string{"database", "redis", "revocation"} {
		if response.Components[name].Status != StatusHealthy {
			t.Errorf("expected %s healthy, got %s", name, response.Components[name].Status)
		}
	}
}

func TestChecker_DeepCheck_SkipsUnconfigured(t *testing.T) {
	checker := NewChecker(&CheckerConfig{Version: "1.0.0"})

	response := checker.DeepCheck(context.Background())

	if response.Status != StatusHealthy {
		t.Errorf("expected status healthy, got %s", response.Status)
	}
	if len(response.Components) != 0 {
		t.Errorf("expected no components, got %v", response.Components)
	}
}

func TestChecker_DeepCheck_DatabaseQueryFailsIsDegraded(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer sqlDB.Close()
	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("permission denied"))

	checker := NewChecker(&CheckerConfig{DB: sqlDB})
	response := checker.DeepCheck(context.Background())

	if response.Status != StatusDegraded {
		t.Errorf("expected status degraded, got %s", response.Status)
	}
}

func TestChecker_DeepCheck_RedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	checker := NewChecker(&CheckerConfig{Redis: client, Timeout: time.Second})
	response := checker.DeepCheck(context.Background())

	if response.Status != StatusUnhealthy {
		t.Errorf("expected status unhealthy, got %s", response.Status)
	}
	if response.Components["redis"].Message != "redis ping failed" {
		t.Errorf("unexpected message %q", response.Components["redis"].Message)
	}
}

func TestHandler_LivenessHandler(t *testing.T) {
	handler := NewHandler(NewChecker(&CheckerConfig{Version: "1.0.0"}))

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	w := httptest.NewRecorder()

	handler.LivenessHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var response HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Status != StatusHealthy {
		t.Errorf("expected status healthy, got %s", response.Status)
	}
}

func TestHandler_ReadinessHandler_Unhealthy(t *testing.T) {
	checker := NewChecker(&CheckerConfig{
		Probes: map[string]Probe{
			"revocation": func(ctx context.Context) error { return errors.New("unreachable") },
		},
	})
	handler := NewHandler(checker)

	req := httptest.NewRequest(http.MethodGet, "/health?deep=true", nil)
	w := httptest.NewRecorder()

	handler.HealthHandler(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}

	var response HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Components["revocation"].Message != "revocation check failed" {
		t.Errorf("unexpected message %q", response.Components["revocation"].Message)
	}
}
