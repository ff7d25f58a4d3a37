package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/perf-eval-api/internal/models"
)

type directoryStore interface {
	EmployeeSummary(ctx context.Context, id string) (*models.EmployeeSummary, error)
	PeriodSummary(ctx context.Context, id string) (*models.PeriodSummary, error)
}

// DirectoryService resolves employee and period summaries through a read-through cache.
type DirectoryService struct {
	repo   directoryStore
	cache  *CacheService
	ttl    time.Duration
	logger *zap.Logger
}

// NewDirectoryService constructs the directory lookup service.
func NewDirectoryService(repo directoryStore, cache *CacheService, ttl time.Duration, logger *zap.Logger) *DirectoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectoryService{repo: repo, cache: cache, ttl: ttl, logger: logger}
}

// Employee returns the employee summary or NotFound.
func (s *DirectoryService) Employee(ctx context.Context, id string) (*models.EmployeeSummary, error) {
	return readThrough(ctx, s.cache, fmt.Sprintf("directory:employee:%s", id), s.ttl,
		func(ctx context.Context) (*models.EmployeeSummary, error) {
			summary, err := s.repo.EmployeeSummary(ctx, id)
			if err != nil {
				s.logger.Debug("employee lookup failed", zap.String("employee_id", id), zap.Error(err))
				return nil, notFound(err, "employee not found")
			}
			return summary, nil
		})
}

// Period returns the evaluation period summary or NotFound.
func (s *DirectoryService) Period(ctx context.Context, id string) (*models.PeriodSummary, error) {
	return readThrough(ctx, s.cache, fmt.Sprintf("directory:period:%s", id), s.ttl,
		func(ctx context.Context) (*models.PeriodSummary, error) {
			summary, err := s.repo.PeriodSummary(ctx, id)
			if err != nil {
				s.logger.Debug("period lookup failed", zap.String("period_id", id), zap.Error(err))
				return nil, notFound(err, "evaluation period not found")
			}
			return summary, nil
		})
}
