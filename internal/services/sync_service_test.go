package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chart-warehouse/internal/holidays"
	"chart-warehouse/internal/meteo"
	"chart-warehouse/internal/models"
	"chart-warehouse/internal/soundcharts"
)

type fakeWeatherSource struct {
	calls []DateRange
	err   error
	temp  float64
}

func (f *fakeWeatherSource) FetchAll(ctx context.Context, start, end time.Time) ([][]meteo.DayObservation, error) {
	f.calls = append(f.calls, DateRange{Start: start, End: end})
	if f.err != nil {
		return nil, f.err
	}
	var obs []meteo.DayObservation
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		obs = append(obs, meteo.DayObservation{Date: models.DateKey(d), TemperatureAvg: f64(f.temp)})
	}
	return [][]meteo.DayObservation{obs}, nil
}

type fakeChartSource struct {
	available      []soundcharts.RankingDate
	availableCalls int
	charts         map[string][]soundcharts.ChartEntry
	chartErrs      map[string]error
	features       map[string]soundcharts.FeatureResult
	deferAfter     int
	featureCalls   [][]string
}

func (f *fakeChartSource) AvailableDates(ctx context.Context) ([]soundcharts.RankingDate, error) {
	f.availableCalls++
	return f.available, nil
}

func (f *fakeChartSource) ChartForDate(ctx context.Context, date soundcharts.RankingDate) ([]soundcharts.ChartEntry, error) {
	key := models.DateKey(date.Day)
	if err, ok := f.chartErrs[key]; ok {
		return nil, err
	}
	return f.charts[key], nil
}

func (f *fakeChartSource) FeaturesForTracks(ctx context.Context, trackIDs []string) ([]soundcharts.FeatureResult, int, error) {
	f.featureCalls = append(f.featureCalls, append([]string{}, trackIDs...))

	limit := len(trackIDs)
	deferred := 0
	if f.deferAfter > 0 && limit > f.deferAfter {
		deferred = limit - f.deferAfter
		limit = f.deferAfter
	}

	var results []soundcharts.FeatureResult
	for _, id := range trackIDs[:limit] {
		if r, ok := f.features[id]; ok {
			results = append(results, r)
			continue
		}
		results = append(results, soundcharts.FeatureResult{TrackID: id, Status: soundcharts.FetchOK, Track: fullTrack(id)})
	}
	return results, deferred, nil
}

type fakeHolidaySource struct {
	spans map[int][]holidays.Span
	years []int
}

func (f *fakeHolidaySource) FetchAllStates(ctx context.Context, year int) ([]holidays.Span, error) {
	f.years = append(f.years, year)
	return f.spans[year], nil
}

type syncFixture struct {
	repo     *fakeRepo
	weather  *fakeWeatherSource
	charts   *fakeChartSource
	holidays *fakeHolidaySource
}

func newSyncFixture() *syncFixture {
	return &syncFixture{
		repo:    newFakeRepo(),
		weather: &fakeWeatherSource{temp: 10},
		charts: &fakeChartSource{
			charts:    make(map[string][]soundcharts.ChartEntry),
			chartErrs: make(map[string]error),
			features:  make(map[string]soundcharts.FeatureResult),
		},
		holidays: &fakeHolidaySource{spans: make(map[int][]holidays.Span)},
	}
}

func (fx *syncFixture) service(t *testing.T, opts SyncOptions) *SyncService {
	t.Helper()
	return NewSyncService(fx.repo, fx.weather, fx.charts, fx.holidays, opts, newTestLogger(t), testMetrics)
}

func rankingDay(d time.Time) soundcharts.RankingDate {
	return soundcharts.RankingDate{Raw: models.DateKey(d) + "T00:00:00+00:00", Day: d}
}

func chartEntries(ids ...string) []soundcharts.ChartEntry {
	var entries []soundcharts.ChartEntry
	for i, id := range ids {
		entries = append(entries, soundcharts.ChartEntry{
			Position:   i + 1,
			TrackID:    id,
			TrackName:  "Track " + id,
			ArtistName: "Artist",
		})
	}
	return entries
}

func TestRunFirstSyncPopulatesWarehouse(t *testing.T) {
	fx := newSyncFixture()
	sunday := day(2024, time.January, 7)
	fx.charts.available = []soundcharts.RankingDate{rankingDay(sunday)}
	fx.charts.charts[models.DateKey(sunday)] = chartEntries("aaa", "bbb")
	fx.holidays.spans[2024] = []holidays.Span{
		{State: "Bayern", Name: "Weihnachtsferien", Start: day(2024, time.January, 2), End: day(2024, time.January, 3)},
	}

	svc := fx.service(t, SyncOptions{StartDate: day(2024, time.January, 1), EndDate: sunday, Country: "DE"})
	report, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.False(t, report.Failed(), "stage errors: %v", report.StageErrors)

	assert.Equal(t, 7, report.TimeDaysInserted)
	assert.Equal(t, 1, report.WeatherRanges)
	assert.Equal(t, 7, report.WeatherInserted)
	assert.Equal(t, 2, report.HolidayInserted)
	assert.Equal(t, 1, report.ChartDatesMissing)
	assert.Equal(t, 1, report.ChartDatesLoaded)
	assert.Equal(t, 2, report.FactsInserted)
	assert.Equal(t, 2, report.TracksCreated)
	assert.Equal(t, 2, report.FeaturesUpdated)
	assert.Equal(t, 2, report.WeatherLinked)
	assert.Equal(t, 0, report.FactsUnlinked)

	require.NotNil(t, report.Coverage)
	assert.Equal(t, int64(7), report.Coverage.TimeDays)
	assert.Equal(t, int64(7), report.Coverage.WeatherDays)
	assert.Equal(t, int64(2), report.Coverage.Facts)
	assert.Equal(t, int64(2), report.Coverage.FactsWithWeather)
	assert.Equal(t, 1.0, report.Coverage.FeatureCoverage())

	assert.True(t, fx.repo.tracks["aaa"].HasCompleteFeatures())
	assert.True(t, fx.repo.tracks["bbb"].HasCompleteFeatures())

	fact := fx.repo.factAt("aaa", sunday, "DE")
	require.NotNil(t, fact)
	require.NotNil(t, fact.WeatherID)

	// A small warehouse reports advisory warnings, never a failure.
	assert.NotEmpty(t, report.Warnings)
}

func TestRunTwiceInsertsNothingNew(t *testing.T) {
	fx := newSyncFixture()
	sunday := day(2024, time.January, 7)
	fx.charts.available = []soundcharts.RankingDate{rankingDay(sunday)}
	fx.charts.charts[models.DateKey(sunday)] = chartEntries("aaa", "bbb")
	fx.holidays.spans[2024] = []holidays.Span{
		{State: "Bayern", Name: "Weihnachtsferien", Start: day(2024, time.January, 2), End: day(2024, time.January, 3)},
	}
	opts := SyncOptions{StartDate: day(2024, time.January, 1), EndDate: sunday, Country: "DE"}

	first, err := fx.service(t, opts).Run(context.Background())
	require.NoError(t, err)
	require.False(t, first.Failed())

	second, err := fx.service(t, opts).Run(context.Background())
	require.NoError(t, err)
	require.False(t, second.Failed())

	assert.Equal(t, 0, second.TimeDaysInserted)
	assert.Equal(t, 0, second.WeatherRanges)
	assert.Equal(t, 0, second.ChartDatesMissing)
	assert.Equal(t, 0, second.FactsInserted)
	assert.Equal(t, 0, second.TracksCreated)
	assert.Equal(t, 0, second.FeatureTracks)

	// The gap pass found nothing, so no upstream was called again.
	assert.Len(t, fx.weather.calls, 1)
	assert.Equal(t, 1, fx.charts.availableCalls)
	assert.Len(t, fx.charts.featureCalls, 1)

	// The final year's holiday schedule is refreshed each run; existing
	// rows deduplicate.
	assert.Equal(t, []int{2024, 2024}, fx.holidays.years)
	assert.Equal(t, 0, second.HolidayInserted)
	assert.Equal(t, 2, second.HolidaySkipped)

	assert.Len(t, fx.repo.facts, 2)
	assert.Len(t, fx.repo.weather, 7)
	assert.Len(t, fx.repo.tracks, 2)
	assert.Len(t, fx.repo.holidayDays, 2)
}

func TestRunContainsChartDateFailure(t *testing.T) {
	fx := newSyncFixture()
	s1 := day(2024, time.June, 2)
	s2 := day(2024, time.June, 9)
	s3 := day(2024, time.June, 16)
	fx.charts.available = []soundcharts.RankingDate{rankingDay(s1), rankingDay(s2), rankingDay(s3)}
	fx.charts.charts[models.DateKey(s1)] = chartEntries("aaa", "bbb")
	fx.charts.chartErrs[models.DateKey(s2)] = errors.New("status 500")
	fx.charts.charts[models.DateKey(s3)] = chartEntries("ccc")

	svc := fx.service(t, SyncOptions{StartDate: day(2024, time.June, 1), EndDate: day(2024, time.June, 18), Country: "DE"})
	report, err := svc.Run(context.Background())
	require.NoError(t, err)

	// One failed chart day never aborts its siblings or the stage.
	assert.False(t, report.Failed())
	assert.Equal(t, 3, report.ChartDatesMissing)
	assert.Equal(t, 2, report.ChartDatesLoaded)
	assert.Equal(t, 1, report.ChartDatesFailed)
	assert.Equal(t, 3, report.FactsInserted)

	assert.NotNil(t, fx.repo.factAt("aaa", s1, "DE"))
	assert.Nil(t, fx.repo.factAt("aaa", s2, "DE"))
	assert.NotNil(t, fx.repo.factAt("ccc", s3, "DE"))
}

func TestRunSkipsEmptyAndUnpublishedChartDates(t *testing.T) {
	fx := newSyncFixture()
	s1 := day(2024, time.June, 2)
	s2 := day(2024, time.June, 9)
	s3 := day(2024, time.June, 16)
	s4 := day(2024, time.June, 23)
	// s2 is published with no entries, s4 was never published at all.
	fx.charts.available = []soundcharts.RankingDate{rankingDay(s1), rankingDay(s2), rankingDay(s3)}
	fx.charts.charts[models.DateKey(s1)] = chartEntries("aaa", "bbb")
	fx.charts.charts[models.DateKey(s3)] = chartEntries("ccc")

	svc := fx.service(t, SyncOptions{StartDate: day(2024, time.June, 1), EndDate: day(2024, time.June, 24), Country: "DE"})
	report, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Failed())
	assert.Equal(t, 4, report.ChartDatesMissing)
	assert.Equal(t, 2, report.ChartDatesLoaded)
	assert.Equal(t, 1, report.ChartDatesEmpty)
	assert.Equal(t, 1, report.ChartDatesUnpublished)
	assert.Equal(t, 0, report.ChartDatesFailed)
	assert.Equal(t, 3, report.FactsInserted)
	assert.Len(t, fx.repo.facts, 3)
	assert.Nil(t, fx.repo.factAt("aaa", s2, "DE"))
}

func TestRunFullRescanClosesSkippedWeek(t *testing.T) {
	fx := newSyncFixture()
	s1 := day(2024, time.June, 2)
	s2 := day(2024, time.June, 9)
	s3 := day(2024, time.June, 16)
	fx.charts.available = []soundcharts.RankingDate{rankingDay(s1), rankingDay(s2), rankingDay(s3)}
	fx.charts.charts[models.DateKey(s1)] = chartEntries("aaa")
	fx.charts.chartErrs[models.DateKey(s2)] = errors.New("status 500")
	fx.charts.charts[models.DateKey(s2)] = chartEntries("bbb")
	fx.charts.charts[models.DateKey(s3)] = chartEntries("ccc")
	opts := SyncOptions{StartDate: day(2024, time.June, 1), EndDate: day(2024, time.June, 18), Country: "DE"}

	first, err := fx.service(t, opts).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, first.ChartDatesFailed)

	// An incremental run scans forward from the latest loaded date, so
	// the skipped week behind it stays open.
	second, err := fx.service(t, opts).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.ChartDatesMissing)
	assert.Nil(t, fx.repo.factAt("bbb", s2, "DE"))

	// A full rescan diffs the whole window and closes it.
	delete(fx.charts.chartErrs, models.DateKey(s2))
	fullOpts := opts
	fullOpts.Full = true
	third, err := fx.service(t, fullOpts).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, third.ChartDatesMissing)
	assert.Equal(t, 1, third.ChartDatesLoaded)
	assert.NotNil(t, fx.repo.factAt("bbb", s2, "DE"))
	assert.Len(t, fx.repo.facts, 3)
}

func TestRunWeatherStageFailureIsContained(t *testing.T) {
	fx := newSyncFixture()
	fx.weather.err = errors.New("archive api unreachable")

	start := day(2024, time.January, 1)
	end := day(2024, time.January, 7)
	ids := seedDays(t, fx.repo, start, end)
	seedWeatherOn(t, fx.repo, ids,
		day(2024, time.January, 1),
		day(2024, time.January, 2),
		day(2024, time.January, 3),
		day(2024, time.January, 4),
		day(2024, time.January, 5),
	)
	seedFactOn(t, fx.repo, ids, "track-x", day(2024, time.January, 3), "DE")
	seedFactOn(t, fx.repo, ids, "track-y", day(2024, time.January, 6), "DE")

	svc := fx.service(t, SyncOptions{StartDate: start, EndDate: end, Country: "DE"})
	report, err := svc.Run(context.Background())
	require.NoError(t, err, "a failed stage must not fail the run")

	require.True(t, report.Failed())
	assert.Contains(t, report.StageErrors[StageFetchWeather], "unreachable")
	assert.NotContains(t, report.StageErrors, StageLink)

	// Linking still ran: the fact with weather coverage got its key, the
	// one without stays NULL for the next run.
	assert.Equal(t, 1, report.WeatherLinked)
	assert.Equal(t, 1, report.FactsUnlinked)
	require.NotNil(t, fx.repo.factAt("track-x", day(2024, time.January, 3), "DE").WeatherID)
	assert.Nil(t, fx.repo.factAt("track-y", day(2024, time.January, 6), "DE").WeatherID)
}

func TestRunNotFoundTrackStaysPendingAndIsRetried(t *testing.T) {
	fx := newSyncFixture()
	sunday := day(2024, time.January, 7)
	fx.charts.available = []soundcharts.RankingDate{rankingDay(sunday)}
	fx.charts.charts[models.DateKey(sunday)] = chartEntries("aaa", "bbb", "ccc")
	fx.charts.features["bbb"] = soundcharts.FeatureResult{TrackID: "bbb", Status: soundcharts.FetchNotFound}
	opts := SyncOptions{StartDate: day(2024, time.January, 1), EndDate: sunday, Country: "DE"}

	first, err := fx.service(t, opts).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, first.FeaturesUpdated)
	assert.Equal(t, 1, first.FeaturesNotFound)
	assert.True(t, fx.repo.tracks["aaa"].HasCompleteFeatures())
	assert.True(t, fx.repo.tracks["bbb"].FeaturesPending())

	second, err := fx.service(t, opts).Run(context.Background())
	require.NoError(t, err)

	// The not-found track keeps its NULL features and is offered again.
	assert.Equal(t, 1, second.FeatureTracks)
	require.Len(t, fx.charts.featureCalls, 2)
	assert.Equal(t, []string{"bbb"}, fx.charts.featureCalls[1])
	assert.True(t, fx.repo.tracks["bbb"].FeaturesPending())
}

func TestRunDeferredFeaturesPickedUpNextRun(t *testing.T) {
	fx := newSyncFixture()
	sunday := day(2024, time.January, 7)
	fx.charts.available = []soundcharts.RankingDate{rankingDay(sunday)}
	fx.charts.charts[models.DateKey(sunday)] = chartEntries("aaa", "bbb", "ccc", "ddd")
	fx.charts.deferAfter = 2
	opts := SyncOptions{StartDate: day(2024, time.January, 1), EndDate: sunday, Country: "DE"}

	first, err := fx.service(t, opts).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, first.FeaturesUpdated)
	assert.Equal(t, 2, first.FeaturesDeferred)

	second, err := fx.service(t, opts).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, second.FeaturesUpdated)
	assert.Equal(t, 0, second.FeaturesDeferred)
	require.Len(t, fx.charts.featureCalls, 2)
	assert.Equal(t, []string{"ccc", "ddd"}, fx.charts.featureCalls[1])
	for _, id := range []string{"aaa", "bbb", "ccc", "ddd"} {
		assert.True(t, fx.repo.tracks[id].HasCompleteFeatures(), "track %s", id)
	}
}

func TestRunCanceledContextReturnsError(t *testing.T) {
	fx := newSyncFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := fx.service(t, SyncOptions{StartDate: day(2024, time.January, 1), EndDate: day(2024, time.January, 7)})
	report, err := svc.Run(ctx)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.True(t, report.Failed())
}
