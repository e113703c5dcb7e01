package services

import (
	"context"
	"errors"
	"time"

	"chart-warehouse/internal/holidays"
	"chart-warehouse/internal/meteo"
	"chart-warehouse/internal/models"
	"chart-warehouse/internal/repository"
	"chart-warehouse/internal/soundcharts"
	"chart-warehouse/pkg/logging"
	"chart-warehouse/pkg/metrics"
)

// LoadResult counts the outcome of one dimension load pass
type LoadResult struct {
	Inserted int
	Skipped  int
}

// ChartLoadResult counts the outcome of loading one chart day
type ChartLoadResult struct {
	FactsInserted int
	FactsSkipped  int
	NewTracks     []string
}

// FeatureLoadResult counts the outcome of applying fetched features
type FeatureLoadResult struct {
	Updated  int
	NotFound int
	Failed   int
}

// LoadService persists fetched records in fixed-size batches. Each batch
// is committed on its own, so partial progress survives a crash mid-run.
// Records whose date is unknown to the time dimension are skipped and
// counted, never failed.
type LoadService struct {
	repo    repository.WarehouseRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewLoadService creates a new batch load service
func NewLoadService(repo repository.WarehouseRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *LoadService {
	return &LoadService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// LoadWeather writes averaged weather days. dateIDs is the date lookup
// loaded once per run.
func (s *LoadService) LoadWeather(ctx context.Context, observations []meteo.DayObservation, dateIDs map[string]int64, batchSize int) (*LoadResult, error) {
	result := &LoadResult{}
	batch := make([]*models.WeatherDay, 0, batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := s.repo.UpsertWeatherDays(ctx, batch)
		if err != nil {
			return err
		}
		result.Inserted += n
		batch = batch[:0]
		return nil
	}

	for _, obs := range observations {
		dateID, ok := dateIDs[obs.Date]
		if !ok {
			result.Skipped++
			s.metrics.RecordRowsSkipped("dim_weather", "unknown_date", 1)
			s.logger.Debug(ctx, "[LOAD_WEATHER_SKIP] Date not in time dimension", logging.Fields{
				"date": obs.Date,
			})
			continue
		}

		batch = append(batch, &models.WeatherDay{
			DateID:          dateID,
			TemperatureAvg:  obs.TemperatureAvg,
			PrecipitationMM: obs.PrecipitationMM,
			WindSpeedKMH:    obs.WindSpeedKMH,
			SunshineHours:   obs.SunshineHours,
		})

		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}

	if err := flush(); err != nil {
		return result, err
	}

	return result, nil
}

// LoadHolidays writes expanded holiday days. Days already present and
// days outside the time dimension are skipped and counted.
func (s *LoadService) LoadHolidays(ctx context.Context, days []holidays.Day, dateIDs map[string]int64, batchSize int) (*LoadResult, error) {
	result := &LoadResult{}
	batch := make([]*models.HolidayDay, 0, batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := s.repo.InsertHolidayDays(ctx, batch)
		if err != nil {
			return err
		}
		result.Inserted += n
		if dup := len(batch) - n; dup > 0 {
			result.Skipped += dup
			s.metrics.RecordRowsSkipped("dim_holiday", "duplicate", dup)
		}
		batch = batch[:0]
		return nil
	}

	for _, day := range days {
		dateID, ok := dateIDs[models.DateKey(day.Date)]
		if !ok {
			// Spans reach past the populated window at year boundaries.
			result.Skipped++
			s.metrics.RecordRowsSkipped("dim_holiday", "unknown_date", 1)
			continue
		}

		batch = append(batch, &models.HolidayDay{
			DateID:      dateID,
			State:       day.State,
			HolidayName: day.Name,
		})

		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}

	if err := flush(); err != nil {
		return result, err
	}

	return result, nil
}

// LoadChartDay writes one chart day: placeholder tracks first, then the
// fact rows. Placements already recorded are skipped by a per-row
// existence check, the fact table carries no uniqueness constraint. The
// returned NewTracks are the track IDs created by this call, in chart
// order, so the caller can prioritize them for feature fetching.
func (s *LoadService) LoadChartDay(ctx context.Context, country string, day time.Time, entries []soundcharts.ChartEntry, dateIDs map[string]int64, trackBatchSize, factBatchSize int) (*ChartLoadResult, error) {
	result := &ChartLoadResult{}
	if len(entries) == 0 {
		return result, nil
	}

	dateID, ok := dateIDs[models.DateKey(day)]
	if !ok {
		result.FactsSkipped = len(entries)
		s.metrics.RecordRowsSkipped("fact_track_chart", "unknown_date", len(entries))
		s.logger.Warn(ctx, "[LOAD_CHART_SKIP] Chart date not in time dimension", logging.Fields{
			"date":    models.DateKey(day),
			"entries": len(entries),
		})
		return result, nil
	}

	// Dimension rows before the facts that reference them.
	seen := make(map[string]struct{}, len(entries))
	var placeholders []*models.Track
	for _, entry := range entries {
		if _, dup := seen[entry.TrackID]; dup {
			continue
		}
		seen[entry.TrackID] = struct{}{}
		placeholders = append(placeholders, &models.Track{
			TrackID:    entry.TrackID,
			TrackName:  entry.TrackName,
			ArtistName: entry.ArtistName,
			ImageURL:   entry.ImageURL,
		})
	}

	for start := 0; start < len(placeholders); start += trackBatchSize {
		chunk := placeholders[start:min(start+trackBatchSize, len(placeholders))]
		created, err := s.repo.InsertTrackPlaceholders(ctx, chunk)
		if err != nil {
			return result, err
		}
		result.NewTracks = append(result.NewTracks, created...)
	}

	factSeen := make(map[string]struct{}, len(entries))
	batch := make([]*models.ChartFact, 0, factBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := s.repo.InsertChartFacts(ctx, batch)
		if err != nil {
			return err
		}
		result.FactsInserted += n
		batch = batch[:0]
		return nil
	}

	for _, entry := range entries {
		if _, dup := factSeen[entry.TrackID]; dup {
			result.FactsSkipped++
			s.metrics.RecordRowsSkipped("fact_track_chart", "duplicate", 1)
			continue
		}
		factSeen[entry.TrackID] = struct{}{}

		exists, err := s.repo.FactExists(ctx, entry.TrackID, dateID, country)
		if err != nil {
			return result, err
		}
		if exists {
			result.FactsSkipped++
			s.metrics.RecordRowsSkipped("fact_track_chart", "duplicate", 1)
			continue
		}

		batch = append(batch, &models.ChartFact{
			TrackID:       entry.TrackID,
			DateID:        dateID,
			Country:       country,
			StreamCount:   entry.Streams,
			ChartPosition: entry.Position,
		})

		if len(batch) >= factBatchSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}

	if err := flush(); err != nil {
		return result, err
	}

	return result, nil
}

// ApplyFeatures writes fetched feature sets to their tracks. Not-found
// tracks keep their NULL features and stay eligible for a later attempt.
func (s *LoadService) ApplyFeatures(ctx context.Context, results []soundcharts.FeatureResult) (*FeatureLoadResult, error) {
	out := &FeatureLoadResult{}

	for _, r := range results {
		switch r.Status {
		case soundcharts.FetchOK:
			if err := s.repo.UpdateTrackFeatures(ctx, r.Track); err != nil {
				var nfe *repository.NotFoundError
				if errors.As(err, &nfe) {
					out.Failed++
					s.logger.Warn(ctx, "[LOAD_FEATURES_ORPHAN] Fetched features for unknown track", logging.Fields{
						"track_id": r.TrackID,
					})
					continue
				}
				return out, err
			}
			out.Updated++
			s.metrics.RecordRowsLoaded("dim_track_features", 1)

		case soundcharts.FetchNotFound:
			out.NotFound++
			s.metrics.RecordRowsSkipped("dim_track_features", "not_found", 1)

		case soundcharts.FetchFailed:
			out.Failed++
			s.metrics.RecordRowsSkipped("dim_track_features", "fetch_failed", 1)
			if r.Err != nil {
				s.logger.Warn(ctx, "[LOAD_FEATURES_FAILED] Feature fetch failed, track stays pending", logging.Fields{
					"track_id": r.TrackID,
					"error":    r.Err.Error(),
				})
			}
		}
	}

	return out, nil
}
