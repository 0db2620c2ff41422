package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/hanko-field/discounts/internal/domain"
	"github.com/hanko-field/discounts/internal/services"
)

type stubSystemService struct {
	report services.SystemHealthReport
	build  services.BuildInfo
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

func (s *stubSystemService) Build() services.BuildInfo { return s.build }

func TestHealthzReportsBuildInfo(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(30 * time.Second)
	h := NewHealthHandlers(
		WithHealthSystemService(&stubSystemService{build: services.BuildInfo{Version: "1.0.0", CommitSHA: "abc123", StartedAt: start}}),
		WithHealthClock(func() time.Time { return now }),
	)

	rr := httptest.NewRecorder()
	h.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != string(domain.HealthStatusOK) || body["version"] != "1.0.0" || body["uptime"] != "30s" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestReadyzStatusCodes(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name   string
		svc    *stubSystemService
		status int
	}{
		{
			name: "degraded stays ready",
			svc: &stubSystemService{report: services.SystemHealthReport{HealthReport: domain.HealthReport{
				Status:      domain.HealthStatusDegraded,
				GeneratedAt: now,
				Checks:      map[string]domain.HealthCheck{"kafka": {Status: domain.HealthStatusDegraded, Detail: "slow"}},
			}}},
			status: http.StatusOK,
		},
		{
			name: "error is unavailable",
			svc: &stubSystemService{report: services.SystemHealthReport{HealthReport: domain.HealthReport{
				Status: domain.HealthStatusError,
				Checks: map[string]domain.HealthCheck{"firestore": {Status: domain.HealthStatusError, Detail: "timeout"}},
			}}},
			status: http.StatusServiceUnavailable,
		},
		{
			name:   "collect failure",
			svc:    &stubSystemService{err: errors.New("boom")},
			status: http.StatusServiceUnavailable,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := NewRouter(WithHealthHandlers(NewHealthHandlers(WithHealthSystemService(tc.svc))))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
		})
	}
}
