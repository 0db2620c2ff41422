package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/discounts/internal/domain"
)

type stubHealthRepository struct {
	report domain.HealthReport
	err    error
}

func (s stubHealthRepository) Collect(context.Context) (domain.HealthReport, error) {
	return s.report, s.err
}

func TestSystemServiceHealthReport(t *testing.T) {
	started := time.Date(2024, time.November, 29, 0, 0, 0, 0, time.UTC)
	now := started.Add(90 * time.Second)
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: stubHealthRepository{report: domain.HealthReport{
			Status: domain.HealthStatusDegraded,
			Checks: map[string]domain.HealthCheck{"firestore": {Status: domain.HealthStatusDegraded, Detail: "slow"}},
		}},
		Clock: func() time.Time { return now },
		Build: BuildInfo{Version: " 1.4.0 ", CommitSHA: "abc123", Environment: "prod", StartedAt: started},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded || report.Checks["firestore"].Detail != "slow" {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Version != "1.4.0" || report.Uptime != 90*time.Second || !report.GeneratedAt.Equal(now) {
		t.Fatalf("unexpected metadata %+v", report)
	}
}

func TestSystemServiceDefaultsEmptyReport(t *testing.T) {
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: stubHealthRepository{}})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusOK || report.Checks == nil {
		t.Fatalf("expected ok with empty checks, got %+v", report)
	}
}

func TestSystemServicePropagatesCollectError(t *testing.T) {
	svc, _ := NewSystemService(SystemServiceDeps{HealthRepository: stubHealthRepository{err: errors.New("down")}})
	if _, err := svc.HealthReport(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatalf("expected missing repository error")
	}
}
