package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chart-warehouse/internal/models"
)

func newGapFixture(t *testing.T) (*GapService, *fakeRepo) {
	t.Helper()
	repo := newFakeRepo()
	return NewGapService(repo, newTestLogger(t), testMetrics), repo
}

func seedWeatherOn(t *testing.T, repo *fakeRepo, ids map[string]int64, dates ...time.Time) {
	t.Helper()
	var days []*models.WeatherDay
	for _, d := range dates {
		dateID, ok := ids[models.DateKey(d)]
		require.True(t, ok, "date %s not seeded in dim_time", models.DateKey(d))
		days = append(days, &models.WeatherDay{DateID: dateID, TemperatureAvg: f64(5)})
	}
	_, err := repo.UpsertWeatherDays(context.Background(), days)
	require.NoError(t, err)
}

func seedFactOn(t *testing.T, repo *fakeRepo, ids map[string]int64, trackID string, d time.Time, country string) {
	t.Helper()
	_, err := repo.InsertTrackPlaceholders(context.Background(), []*models.Track{
		{TrackID: trackID, TrackName: "Track " + trackID, ArtistName: "Artist"},
	})
	require.NoError(t, err)
	_, err = repo.InsertChartFacts(context.Background(), []*models.ChartFact{
		{TrackID: trackID, DateID: ids[models.DateKey(d)], Country: country, ChartPosition: 1},
	})
	require.NoError(t, err)
}

func TestMissingWeatherRangesGroupsContiguousGaps(t *testing.T) {
	svc, repo := newGapFixture(t)
	start := day(2024, time.January, 1)
	end := day(2024, time.January, 10)
	ids := seedDays(t, repo, start, end)

	seedWeatherOn(t, repo, ids,
		day(2024, time.January, 3),
		day(2024, time.January, 4),
		day(2024, time.January, 8),
	)

	ranges, err := svc.MissingWeatherRanges(context.Background(), start, end)
	require.NoError(t, err)

	require.Len(t, ranges, 3)
	assert.Equal(t, DateRange{Start: day(2024, time.January, 1), End: day(2024, time.January, 2)}, ranges[0])
	assert.Equal(t, DateRange{Start: day(2024, time.January, 5), End: day(2024, time.January, 7)}, ranges[1])
	assert.Equal(t, DateRange{Start: day(2024, time.January, 9), End: day(2024, time.January, 10)}, ranges[2])
	assert.Equal(t, 2, ranges[0].Days())
	assert.Equal(t, 3, ranges[1].Days())
}

func TestMissingWeatherRangesEmptyWhenCovered(t *testing.T) {
	svc, repo := newGapFixture(t)
	start := day(2024, time.March, 1)
	end := day(2024, time.March, 3)
	ids := seedDays(t, repo, start, end)
	seedWeatherOn(t, repo, ids, start, start.AddDate(0, 0, 1), end)

	ranges, err := svc.MissingWeatherRanges(context.Background(), start, end)
	require.NoError(t, err)
	assert.Empty(t, ranges)
}

func TestMissingWeatherRangesInvertedWindow(t *testing.T) {
	svc, _ := newGapFixture(t)

	ranges, err := svc.MissingWeatherRanges(context.Background(), day(2024, time.May, 10), day(2024, time.May, 1))
	require.NoError(t, err)
	assert.Empty(t, ranges)
}

func TestMissingChartDatesSkipsCoveredSundays(t *testing.T) {
	svc, repo := newGapFixture(t)
	// 2024-06-02, 2024-06-09 and 2024-06-16 are the Sundays in this window.
	start := day(2024, time.June, 1)
	end := day(2024, time.June, 18)
	ids := seedDays(t, repo, start, end)

	seedFactOn(t, repo, ids, "track-a", day(2024, time.June, 9), "DE")

	missing, err := svc.MissingChartDates(context.Background(), "DE", start, end)
	require.NoError(t, err)

	require.Len(t, missing, 2)
	assert.Equal(t, day(2024, time.June, 2), missing[0])
	assert.Equal(t, day(2024, time.June, 16), missing[1])
}

func TestMissingChartDatesPerCountry(t *testing.T) {
	svc, repo := newGapFixture(t)
	start := day(2024, time.June, 1)
	end := day(2024, time.June, 8)
	ids := seedDays(t, repo, start, end)

	// Coverage in another country must not close the gap for DE.
	seedFactOn(t, repo, ids, "track-a", day(2024, time.June, 2), "FR")

	missing, err := svc.MissingChartDates(context.Background(), "DE", start, end)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, day(2024, time.June, 2), missing[0])
}

func TestMissingHolidayYearsAlwaysRefreshesFinalYear(t *testing.T) {
	svc, repo := newGapFixture(t)
	start := day(2024, time.January, 1)
	end := day(2025, time.March, 1)
	ids := seedDays(t, repo, start, end)

	_, err := repo.InsertHolidayDays(context.Background(), []*models.HolidayDay{
		{DateID: ids["2024-04-01"], State: "Bayern", HolidayName: "Osterferien"},
	})
	require.NoError(t, err)

	years, err := svc.MissingHolidayYears(context.Background(), start, end)
	require.NoError(t, err)

	// 2024 is covered; 2025 is both uncovered and the final year.
	assert.Equal(t, []int{2025}, years)

	_, err = repo.InsertHolidayDays(context.Background(), []*models.HolidayDay{
		{DateID: ids["2025-02-03"], State: "Bayern", HolidayName: "Winterferien"},
	})
	require.NoError(t, err)

	years, err = svc.MissingHolidayYears(context.Background(), start, end)
	require.NoError(t, err)

	// The final year keeps refreshing even once covered.
	assert.Equal(t, []int{2025}, years)
}

func TestTracksNeedingFeaturesHonorsLimit(t *testing.T) {
	svc, repo := newGapFixture(t)

	_, err := repo.InsertTrackPlaceholders(context.Background(), []*models.Track{
		{TrackID: "cccc", TrackName: "C", ArtistName: "A"},
		{TrackID: "aaaa", TrackName: "A", ArtistName: "A"},
		{TrackID: "bbbb", TrackName: "B", ArtistName: "A"},
		{TrackID: "dddd", TrackName: "D", ArtistName: "A"},
	})
	require.NoError(t, err)

	// A track with features already present must not be refetched.
	complete := &models.Track{TrackID: "dddd", Danceability: f64(0.5), Energy: f64(0.5), Valence: f64(0.5),
		Tempo: f64(120), Loudness: f64(-6), Speechiness: f64(0.1), Acousticness: f64(0.2),
		Instrumentalness: f64(0), Liveness: f64(0.1), Key: i64(5), Mode: i64(1), TimeSignature: i64(4)}
	require.NoError(t, repo.UpdateTrackFeatures(context.Background(), complete))

	ids, err := svc.TracksNeedingFeatures(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"aaaa", "bbbb"}, ids)

	ids, err = svc.TracksNeedingFeatures(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"aaaa", "bbbb", "cccc"}, ids)

	ids, err = svc.TracksNeedingFeatures(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
