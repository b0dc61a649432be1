package services

import (
	"context"
	"errors"
	"time"

	"github.com/hanko-field/orders/internal/repositories"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators for health reporting.
type SystemServiceDeps struct {
	Health repositories.HealthRepository
	Build  BuildInfo
	Clock  func() time.Time
}

type systemService struct {
	health    repositories.HealthRepository
	build     BuildInfo
	startedAt time.Time
	clock     func() time.Time
}

// NewSystemService constructs the health reporting service.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.Health == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := utcClock(deps.Clock)
	started := deps.Build.StartedAt
	if started.IsZero() {
		started = clock()
	}
	return &systemService{
		health:    deps.Health,
		build:     deps.Build,
		startedAt: started,
		clock:     clock,
	}, nil
}

func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	report, err := s.health.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}
	now := s.clock()
	report.Version = s.build.Version
	report.CommitSHA = s.build.CommitSHA
	report.Environment = s.build.Environment
	report.Uptime = now.Sub(s.startedAt)
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	return report, nil
}
