package services

import (
	"context"

	"chart-warehouse/internal/models"
	"chart-warehouse/internal/repository"
	"chart-warehouse/pkg/logging"
	"chart-warehouse/pkg/metrics"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

// WarehouseService answers read queries against the warehouse. It backs
// the HTTP API and applies pagination bounds before hitting the
// repository.
type WarehouseService struct {
	repo    repository.WarehouseRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewWarehouseService creates a new warehouse query service
func NewWarehouseService(repo repository.WarehouseRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *WarehouseService {
	return &WarehouseService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// GetWeatherDays returns averaged weather days matching the filter plus
// the total match count
func (s *WarehouseService) GetWeatherDays(ctx context.Context, filter repository.WeatherFilter) ([]*models.WeatherSummaryRow, int, error) {
	filter.Limit = clampLimit(filter.Limit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	return s.repo.GetWeatherDays(ctx, filter)
}

// GetChartRows returns chart entries matching the filter plus the total
// match count
func (s *WarehouseService) GetChartRows(ctx context.Context, filter repository.ChartFilter) ([]*models.ChartRow, int, error) {
	filter.Limit = clampLimit(filter.Limit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	return s.repo.GetChartRows(ctx, filter)
}

// GetCoverage returns the warehouse completeness counters
func (s *WarehouseService) GetCoverage(ctx context.Context) (*models.CoverageSummary, error) {
	return s.repo.CoverageSummary(ctx)
}

// HealthCheck verifies database connectivity
func (s *WarehouseService) HealthCheck(ctx context.Context) error {
	return s.repo.HealthCheck(ctx)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultQueryLimit
	}
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}
