package services

import (
	"context"
	"fmt"
	"time"

	"chart-warehouse/internal/holidays"
	"chart-warehouse/internal/meteo"
	"chart-warehouse/internal/models"
	"chart-warehouse/internal/repository"
	"chart-warehouse/internal/soundcharts"
	"chart-warehouse/pkg/logging"
	"chart-warehouse/pkg/metrics"
)

// Stage names, in run order
const (
	StageExtendTime    = "EXTEND_TIME"
	StageDetectGaps    = "DETECT_GAPS"
	StageFetchWeather  = "FETCH_WEATHER"
	StageFetchHolidays = "FETCH_HOLIDAYS"
	StageFetchCharts   = "FETCH_CHARTS"
	StageFetchFeatures = "FETCH_FEATURES"
	StageLink          = "LINK"
	StageReport        = "REPORT"
)

// weatherSource fetches daily observations for all sampling locations
type weatherSource interface {
	FetchAll(ctx context.Context, start, end time.Time) ([][]meteo.DayObservation, error)
}

// chartSource fetches published chart dates, rankings and song features
type chartSource interface {
	AvailableDates(ctx context.Context) ([]soundcharts.RankingDate, error)
	ChartForDate(ctx context.Context, date soundcharts.RankingDate) ([]soundcharts.ChartEntry, error)
	FeaturesForTracks(ctx context.Context, trackIDs []string) ([]soundcharts.FeatureResult, int, error)
}

// holidaySource fetches school holiday spans for one year
type holidaySource interface {
	FetchAllStates(ctx context.Context, year int) ([]holidays.Span, error)
}

// SyncOptions bounds one synchronization run
type SyncOptions struct {
	StartDate time.Time
	EndDate   time.Time // zero means today
	Country   string
	// Full rescans the whole window for gaps instead of extending from
	// the latest covered date.
	Full bool

	WeatherBatchSize int
	TrackBatchSize   int
	FactBatchSize    int
	HolidayBatchSize int
	FeatureFetchCap  int
	LinkCommitEvery  int
	ChartPause       time.Duration
	RangePause       time.Duration
}

func (o *SyncOptions) normalize() {
	if o.Country == "" {
		o.Country = "DE"
	}
	if o.WeatherBatchSize <= 0 {
		o.WeatherBatchSize = 1000
	}
	if o.TrackBatchSize <= 0 {
		o.TrackBatchSize = 500
	}
	if o.FactBatchSize <= 0 {
		o.FactBatchSize = 1000
	}
	if o.HolidayBatchSize <= 0 {
		o.HolidayBatchSize = 1000
	}
	if o.FeatureFetchCap <= 0 {
		o.FeatureFetchCap = 200
	}
	if o.LinkCommitEvery <= 0 {
		o.LinkCommitEvery = 5000
	}
}

// RunReport summarizes one synchronization run. Stage failures are
// recorded here rather than raised, a failed stage only leaves its gap
// open for the next run.
type RunReport struct {
	StartedAt time.Time
	Duration  time.Duration
	Window    DateRange

	TimeDaysInserted int

	WeatherRanges   int
	WeatherFetched  int
	WeatherInserted int
	WeatherSkipped  int

	HolidayYears    int
	HolidayInserted int
	HolidaySkipped  int

	ChartDatesMissing     int
	ChartDatesLoaded      int
	ChartDatesEmpty       int
	ChartDatesUnpublished int
	ChartDatesFailed      int
	FactsInserted         int
	FactsSkipped          int
	TracksCreated         int

	FeatureTracks    int
	FeaturesUpdated  int
	FeaturesNotFound int
	FeaturesFailed   int
	FeaturesDeferred int

	WeatherLinked int
	HolidayLinked int
	FactsUnlinked int

	StageErrors map[string]string
	Warnings    []string

	Coverage *models.CoverageSummary
}

// Failed reports whether any stage aborted
func (r *RunReport) Failed() bool {
	return len(r.StageErrors) > 0
}

// runPlan carries the work lists between stages of one run
type runPlan struct {
	end          time.Time
	dateIDs      map[string]int64
	weatherGaps  []DateRange
	chartDates   []time.Time
	holidayYears []int
	pendingIDs   []string
	newTracks    []string
}

// SyncService sequences a full synchronization run. Stages run in a
// fixed order and every stage re-derives its work from warehouse state,
// so re-running after any failure is safe.
type SyncService struct {
	repo     repository.WarehouseRepository
	weather  weatherSource
	charts   chartSource
	holidays holidaySource
	gaps     *GapService
	loader   *LoadService
	linker   *LinkService
	opts     SyncOptions
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
}

// NewSyncService creates the run orchestrator
func NewSyncService(
	repo repository.WarehouseRepository,
	weather weatherSource,
	charts chartSource,
	holidaySrc holidaySource,
	opts SyncOptions,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *SyncService {
	opts.normalize()

	return &SyncService{
		repo:     repo,
		weather:  weather,
		charts:   charts,
		holidays: holidaySrc,
		gaps:     NewGapService(repo, logger, metricsCollector),
		loader:   NewLoadService(repo, logger, metricsCollector),
		linker:   NewLinkService(repo, logger, metricsCollector),
		opts:     opts,
		logger:   logger,
		metrics:  metricsCollector,
	}
}

// Run executes one synchronization run and returns its report. Only a
// canceled context is returned as an error; stage failures are contained
// in the report.
func (s *SyncService) Run(ctx context.Context) (*RunReport, error) {
	report := &RunReport{
		StartedAt:   time.Now().UTC(),
		StageErrors: make(map[string]string),
	}

	end := s.opts.EndDate
	if end.IsZero() {
		end = time.Now().UTC()
	}
	end = models.NormalizeDate(end)
	start := models.NormalizeDate(s.opts.StartDate)
	report.Window = DateRange{Start: start, End: end}

	plan := &runPlan{end: end}

	s.logger.Info(ctx, "[SYNC_START] Synchronization run starting", logging.Fields{
		"window_start": models.DateKey(start),
		"window_end":   models.DateKey(end),
		"country":      s.opts.Country,
		"full":         s.opts.Full,
	})

	s.stage(ctx, report, StageExtendTime, func(ctx context.Context) error {
		return s.extendTime(ctx, report, plan, start)
	})
	s.stage(ctx, report, StageDetectGaps, func(ctx context.Context) error {
		return s.detectGaps(ctx, report, plan, start)
	})
	s.stage(ctx, report, StageFetchWeather, func(ctx context.Context) error {
		return s.fetchWeather(ctx, report, plan)
	})
	s.stage(ctx, report, StageFetchHolidays, func(ctx context.Context) error {
		return s.fetchHolidays(ctx, report, plan)
	})
	s.stage(ctx, report, StageFetchCharts, func(ctx context.Context) error {
		return s.fetchCharts(ctx, report, plan)
	})
	s.stage(ctx, report, StageFetchFeatures, func(ctx context.Context) error {
		return s.fetchFeatures(ctx, report, plan)
	})
	s.stage(ctx, report, StageLink, func(ctx context.Context) error {
		return s.linkFacts(ctx, report)
	})
	s.stage(ctx, report, StageReport, func(ctx context.Context) error {
		return s.buildReport(ctx, report, start, end)
	})

	report.Duration = time.Since(report.StartedAt)

	s.logger.Info(ctx, "[SYNC_COMPLETE] Synchronization run finished", logging.Fields{
		"duration_seconds": report.Duration.Seconds(),
		"failed_stages":    len(report.StageErrors),
		"warnings":         len(report.Warnings),
		"facts_inserted":   report.FactsInserted,
		"weather_inserted": report.WeatherInserted,
		"tracks_created":   report.TracksCreated,
	})

	if ctx.Err() != nil {
		return report, ctx.Err()
	}
	return report, nil
}

// stage runs one stage with timing, containment and metrics
func (s *SyncService) stage(ctx context.Context, report *RunReport, name string, fn func(context.Context) error) {
	if ctx.Err() != nil {
		report.StageErrors[name] = ctx.Err().Error()
		return
	}

	s.logger.Info(ctx, "[STAGE_START] Stage starting", logging.Fields{"stage": name})
	startTime := time.Now()

	err := fn(ctx)
	duration := time.Since(startTime)
	s.metrics.StageDuration.WithLabelValues(name).Observe(duration.Seconds())

	if err != nil {
		s.metrics.RecordSyncError(name)
		report.StageErrors[name] = err.Error()
		s.logger.Error(ctx, "[STAGE_FAILED] Stage aborted, run continues", logging.Fields{
			"stage":            name,
			"duration_seconds": duration.Seconds(),
		}, err)
		return
	}

	s.logger.Info(ctx, "[STAGE_COMPLETE] Stage finished", logging.Fields{
		"stage":            name,
		"duration_seconds": duration.Seconds(),
	})
}

// extendTime appends the missing calendar days up to the window end and
// loads the date lookup every later stage shares
func (s *SyncService) extendTime(ctx context.Context, report *RunReport, plan *runPlan, start time.Time) error {
	from := start
	if !s.opts.Full {
		maxDate, err := s.repo.MaxTimeDate(ctx)
		if err != nil {
			return err
		}
		if maxDate != nil && maxDate.After(from) {
			from = maxDate.AddDate(0, 0, 1)
		}
	}

	if !from.After(plan.end) {
		inserted, err := s.repo.InsertTimeDays(ctx, models.BuildTimeDays(from, plan.end))
		if err != nil {
			return err
		}
		report.TimeDaysInserted = inserted
	}

	dateIDs, err := s.repo.DateIDMap(ctx, start, plan.end)
	if err != nil {
		return err
	}
	plan.dateIDs = dateIDs

	return nil
}

// detectGaps derives the missing-work lists for the fetch stages
func (s *SyncService) detectGaps(ctx context.Context, report *RunReport, plan *runPlan, start time.Time) error {
	weatherStart := start
	chartStart := start
	if !s.opts.Full {
		if maxWeather, err := s.repo.MaxWeatherDate(ctx); err != nil {
			return err
		} else if maxWeather != nil && maxWeather.After(weatherStart) {
			weatherStart = maxWeather.AddDate(0, 0, 1)
		}
		if maxChart, err := s.repo.MaxChartDate(ctx, s.opts.Country); err != nil {
			return err
		} else if maxChart != nil && maxChart.After(chartStart) {
			chartStart = maxChart.AddDate(0, 0, 1)
		}
	}

	weatherGaps, err := s.gaps.MissingWeatherRanges(ctx, weatherStart, plan.end)
	if err != nil {
		return err
	}
	plan.weatherGaps = weatherGaps
	report.WeatherRanges = len(weatherGaps)

	chartDates, err := s.gaps.MissingChartDates(ctx, s.opts.Country, chartStart, plan.end)
	if err != nil {
		return err
	}
	plan.chartDates = chartDates
	report.ChartDatesMissing = len(chartDates)

	holidayYears, err := s.gaps.MissingHolidayYears(ctx, start, plan.end)
	if err != nil {
		return err
	}
	plan.holidayYears = holidayYears
	report.HolidayYears = len(holidayYears)

	pendingIDs, err := s.gaps.TracksNeedingFeatures(ctx, s.opts.FeatureFetchCap)
	if err != nil {
		return err
	}
	plan.pendingIDs = pendingIDs

	s.logger.Info(ctx, "[GAPS_DETECTED] Missing work derived from warehouse state", logging.Fields{
		"weather_ranges": len(weatherGaps),
		"chart_dates":    len(chartDates),
		"holiday_years":  len(holidayYears),
		"pending_tracks": len(pendingIDs),
	})

	return nil
}

// fetchWeather closes the missing weather ranges in date order. Ranges
// are processed front to back and the stage stops at the first range
// that fails, which keeps coverage hole-free behind its latest date.
func (s *SyncService) fetchWeather(ctx context.Context, report *RunReport, plan *runPlan) error {
	if plan.dateIDs == nil {
		return errSkipStage(ctx, s.logger, StageFetchWeather)
	}

	for i, gap := range plan.weatherGaps {
		sets, err := s.weather.FetchAll(ctx, gap.Start, gap.End)
		if err != nil {
			return fmt.Errorf("weather range %s..%s: %w", models.DateKey(gap.Start), models.DateKey(gap.End), err)
		}

		averaged := meteo.AggregateDays(sets)
		report.WeatherFetched += len(averaged)

		result, err := s.loader.LoadWeather(ctx, averaged, plan.dateIDs, s.opts.WeatherBatchSize)
		if result != nil {
			report.WeatherInserted += result.Inserted
			report.WeatherSkipped += result.Skipped
		}
		if err != nil {
			return err
		}

		if i < len(plan.weatherGaps)-1 && s.opts.RangePause > 0 {
			if err := pauseContext(ctx, s.opts.RangePause); err != nil {
				return err
			}
		}
	}

	return nil
}

// fetchHolidays loads the holiday calendar for every uncovered year
func (s *SyncService) fetchHolidays(ctx context.Context, report *RunReport, plan *runPlan) error {
	if plan.dateIDs == nil {
		return errSkipStage(ctx, s.logger, StageFetchHolidays)
	}

	for _, year := range plan.holidayYears {
		spans, err := s.holidays.FetchAllStates(ctx, year)
		if err != nil {
			return fmt.Errorf("holiday year %d: %w", year, err)
		}

		result, err := s.loader.LoadHolidays(ctx, holidays.ExpandDays(spans), plan.dateIDs, s.opts.HolidayBatchSize)
		if result != nil {
			report.HolidayInserted += result.Inserted
			report.HolidaySkipped += result.Skipped
		}
		if err != nil {
			return err
		}
	}

	return nil
}

// fetchCharts loads every missing chart date. One date failing to fetch
// never aborts its siblings; a persistence failure aborts the stage.
func (s *SyncService) fetchCharts(ctx context.Context, report *RunReport, plan *runPlan) error {
	if plan.dateIDs == nil {
		return errSkipStage(ctx, s.logger, StageFetchCharts)
	}
	if len(plan.chartDates) == 0 {
		return nil
	}

	available, err := s.charts.AvailableDates(ctx)
	if err != nil {
		return err
	}
	availableByDay := make(map[string]soundcharts.RankingDate, len(available))
	for _, rd := range available {
		availableByDay[models.DateKey(rd.Day)] = rd
	}

	for i, day := range plan.chartDates {
		rd, published := availableByDay[models.DateKey(day)]
		if !published {
			report.ChartDatesUnpublished++
			s.logger.Debug(ctx, "[CHART_UNPUBLISHED] No ranking published for chart day", logging.Fields{
				"date": models.DateKey(day),
			})
			continue
		}

		entries, err := s.charts.ChartForDate(ctx, rd)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			report.ChartDatesFailed++
			s.metrics.RecordSyncError(StageFetchCharts)
			s.logger.Warn(ctx, "[CHART_DATE_FAILED] Chart date skipped after fetch failure", logging.Fields{
				"date":  models.DateKey(day),
				"error": err.Error(),
			})
			continue
		}

		if len(entries) == 0 {
			report.ChartDatesEmpty++
			s.logger.Info(ctx, "[CHART_EMPTY] Chart day has no entries, skipping", logging.Fields{
				"date": models.DateKey(day),
			})
			continue
		}

		result, err := s.loader.LoadChartDay(ctx, s.opts.Country, day, entries, plan.dateIDs, s.opts.TrackBatchSize, s.opts.FactBatchSize)
		if result != nil {
			report.FactsInserted += result.FactsInserted
			report.FactsSkipped += result.FactsSkipped
			report.TracksCreated += len(result.NewTracks)
			plan.newTracks = append(plan.newTracks, result.NewTracks...)
		}
		if err != nil {
			return err
		}
		report.ChartDatesLoaded++

		if i < len(plan.chartDates)-1 && s.opts.ChartPause > 0 {
			if err := pauseContext(ctx, s.opts.ChartPause); err != nil {
				return err
			}
		}
	}

	return nil
}

// fetchFeatures fills audio features for tracks created this run first,
// then for the already pending backlog, bounded by the per-run cap
func (s *SyncService) fetchFeatures(ctx context.Context, report *RunReport, plan *runPlan) error {
	trackIDs := mergeTrackIDs(plan.newTracks, plan.pendingIDs, s.opts.FeatureFetchCap)
	report.FeatureTracks = len(trackIDs)
	if len(trackIDs) == 0 {
		return nil
	}

	results, deferred, err := s.charts.FeaturesForTracks(ctx, trackIDs)
	report.FeaturesDeferred = deferred
	if err != nil {
		return err
	}

	loadResult, err := s.loader.ApplyFeatures(ctx, results)
	if loadResult != nil {
		report.FeaturesUpdated = loadResult.Updated
		report.FeaturesNotFound = loadResult.NotFound
		report.FeaturesFailed = loadResult.Failed
	}
	return err
}

// linkFacts backfills dimension keys on facts loaded before their
// dimensions existed
func (s *SyncService) linkFacts(ctx context.Context, report *RunReport) error {
	result, err := s.linker.LinkFacts(ctx, s.opts.LinkCommitEvery)
	if result != nil {
		report.WeatherLinked = result.WeatherLinked
		report.HolidayLinked = result.HolidayLinked
		report.FactsUnlinked = result.WeatherUnlinked
	}
	return err
}

// buildReport attaches coverage counters and advisory warnings
func (s *SyncService) buildReport(ctx context.Context, report *RunReport, start, end time.Time) error {
	coverage, err := s.repo.CoverageSummary(ctx)
	if err != nil {
		return err
	}
	report.Coverage = coverage
	report.Warnings = coverageWarnings(coverage, DateRange{Start: start, End: end})

	for _, w := range report.Warnings {
		s.logger.Warn(ctx, "[SYNC_WARNING] Coverage threshold not met", logging.Fields{
			"warning": w,
		})
	}

	return nil
}

// Coverage thresholds below which a run reports advisory warnings
const (
	minExpectedWeatherDays = 300
	minExpectedTracks      = 3000
	minFeatureCoverage     = 0.90
	minWeatherLinkRatio    = 0.99
)

// coverageWarnings checks the warehouse against its expected shape. All
// findings are advisory, a thin warehouse is not a failed run.
func coverageWarnings(c *models.CoverageSummary, window DateRange) []string {
	var warnings []string

	expectedDays := int64(window.Days())
	if c.TimeDays < expectedDays {
		warnings = append(warnings, fmt.Sprintf("time dimension has %d of %d expected days", c.TimeDays, expectedDays))
	}
	if c.WeatherDays < minExpectedWeatherDays {
		warnings = append(warnings, fmt.Sprintf("only %d weather days loaded, expected at least %d", c.WeatherDays, minExpectedWeatherDays))
	}
	if c.Facts == 0 {
		warnings = append(warnings, "no chart facts loaded")
	}
	if c.Tracks < minExpectedTracks {
		warnings = append(warnings, fmt.Sprintf("only %d tracks known, expected at least %d", c.Tracks, minExpectedTracks))
	}
	if c.Tracks > 0 && c.FeatureCoverage() < minFeatureCoverage {
		warnings = append(warnings, fmt.Sprintf("feature coverage %.1f%% below %.0f%%", c.FeatureCoverage()*100, minFeatureCoverage*100))
	}
	if c.Facts > 0 && c.WeatherLinkRatio() < minWeatherLinkRatio {
		warnings = append(warnings, fmt.Sprintf("weather link ratio %.1f%% below %.0f%%", c.WeatherLinkRatio()*100, minWeatherLinkRatio*100))
	}

	return warnings
}

// mergeTrackIDs concatenates new and pending track IDs, deduplicated in
// order, capped to limit
func mergeTrackIDs(newTracks, pending []string, limit int) []string {
	seen := make(map[string]struct{}, len(newTracks)+len(pending))
	var merged []string

	for _, id := range append(append([]string{}, newTracks...), pending...) {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		merged = append(merged, id)
		if len(merged) == limit {
			break
		}
	}

	return merged
}

// errSkipStage records that a stage ran without its prerequisites
func errSkipStage(ctx context.Context, logger *logging.StructuredLogger, stage string) error {
	logger.Warn(ctx, "[STAGE_SKIP] Prerequisite stage failed, nothing to do", logging.Fields{
		"stage": stage,
	})
	return nil
}

// pauseContext waits between work units unless the run is canceled
func pauseContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
