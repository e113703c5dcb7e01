package services

import (
	"context"
	"time"

	"chart-warehouse/internal/models"
	"chart-warehouse/internal/repository"
	"chart-warehouse/pkg/logging"
	"chart-warehouse/pkg/metrics"
)

// DateRange is a contiguous run of calendar days, both endpoints inclusive
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Days returns the number of days the range spans
func (r DateRange) Days() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

// GapService derives missing work from current warehouse state. Every
// list it produces is recomputed per run, so a failed stage simply leaves
// its gap open for the next invocation.
type GapService struct {
	repo    repository.WarehouseRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewGapService creates a new gap detection service
func NewGapService(repo repository.WarehouseRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *GapService {
	return &GapService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// MissingWeatherRanges returns the days in [start, end] without a weather
// row, grouped into contiguous ranges sorted by date
func (s *GapService) MissingWeatherRanges(ctx context.Context, start, end time.Time) ([]DateRange, error) {
	start = models.NormalizeDate(start)
	end = models.NormalizeDate(end)
	if start.After(end) {
		return nil, nil
	}

	covered, err := s.repo.WeatherDateSet(ctx, start, end)
	if err != nil {
		return nil, err
	}

	var ranges []DateRange
	open := -1
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if _, ok := covered[models.DateKey(d)]; ok {
			open = -1
			continue
		}
		if open == -1 {
			ranges = append(ranges, DateRange{Start: d, End: d})
			open = len(ranges) - 1
			continue
		}
		ranges[open].End = d
	}

	s.logger.Debug(ctx, "[GAP_WEATHER] Missing weather dates computed", logging.Fields{
		"window_start": models.DateKey(start),
		"window_end":   models.DateKey(end),
		"ranges":       len(ranges),
	})

	return ranges, nil
}

// MissingChartDates returns the chart Sundays in [start, end] for which
// no fact exists yet, sorted by date
func (s *GapService) MissingChartDates(ctx context.Context, country string, start, end time.Time) ([]time.Time, error) {
	start = models.NormalizeDate(start)
	end = models.NormalizeDate(end)
	if start.After(end) {
		return nil, nil
	}

	covered, err := s.repo.ChartDateSet(ctx, country, start, end)
	if err != nil {
		return nil, err
	}

	var missing []time.Time
	for _, sunday := range models.SundaysBetween(start, end) {
		if _, ok := covered[models.DateKey(sunday)]; ok {
			continue
		}
		missing = append(missing, sunday)
	}

	s.logger.Debug(ctx, "[GAP_CHARTS] Missing chart dates computed", logging.Fields{
		"country": country,
		"missing": len(missing),
	})

	return missing, nil
}

// MissingHolidayYears returns the years in [start, end] with no holiday
// rows yet. The final year of the window is always included, published
// holiday schedules for it keep changing.
func (s *GapService) MissingHolidayYears(ctx context.Context, start, end time.Time) ([]int, error) {
	if start.After(end) {
		return nil, nil
	}

	have, err := s.repo.HolidayYearSet(ctx)
	if err != nil {
		return nil, err
	}

	var years []int
	for y := start.Year(); y <= end.Year(); y++ {
		if _, ok := have[y]; ok && y != end.Year() {
			continue
		}
		years = append(years, y)
	}

	return years, nil
}

// TracksNeedingFeatures returns up to limit track IDs whose feature
// columns are still empty, in stable order
func (s *GapService) TracksNeedingFeatures(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}

	tracks, err := s.repo.TracksMissingFeatures(ctx, limit)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(tracks))
	for _, t := range tracks {
		ids = append(ids, t.TrackID)
	}

	return ids, nil
}
