package services

import (
	"context"
	"fmt"
	"io"
	"sort"
	"testing"
	"time"

	"chart-warehouse/internal/models"
	"chart-warehouse/internal/repository"
	"chart-warehouse/pkg/logging"
	"chart-warehouse/pkg/metrics"
)

// One collector per test binary, promauto registers globally.
var testMetrics = metrics.NewCollector("services_test")

func newTestLogger(t *testing.T) *logging.StructuredLogger {
	t.Helper()
	logger := logging.NewStructuredLogger("services-test", "test", logging.ErrorLevel)
	logger.SetOutput(io.Discard)
	return logger
}

// fakeRepo is an in-memory WarehouseRepository. It mirrors the SQL
// layer's conflict and NULL semantics closely enough that the services
// can be exercised without a database.
type fakeRepo struct {
	timeSeq  int64
	timeDays map[string]*models.TimeDay
	dateByID map[int64]time.Time

	weatherSeq int64
	weather    map[int64]*models.WeatherDay

	holidaySeq  int64
	holidayDays map[string]*models.HolidayDay

	tracks map[string]*models.Track

	factSeq int64
	facts   []*models.ChartFact

	errInsertChartFacts error
	errUpsertWeather    error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		timeDays:    make(map[string]*models.TimeDay),
		dateByID:    make(map[int64]time.Time),
		weather:     make(map[int64]*models.WeatherDay),
		holidayDays: make(map[string]*models.HolidayDay),
		tracks:      make(map[string]*models.Track),
	}
}

func holidayKey(dateID int64, state string) string {
	return fmt.Sprintf("%d|%s", dateID, state)
}

func (r *fakeRepo) MaxTimeDate(ctx context.Context) (*time.Time, error) {
	var max *time.Time
	for _, td := range r.timeDays {
		if max == nil || td.Date.After(*max) {
			d := td.Date
			max = &d
		}
	}
	return max, nil
}

func (r *fakeRepo) InsertTimeDays(ctx context.Context, days []models.TimeDay) (int, error) {
	inserted := 0
	for _, day := range days {
		key := models.DateKey(day.Date)
		if _, ok := r.timeDays[key]; ok {
			continue
		}
		r.timeSeq++
		stored := day
		stored.DateID = r.timeSeq
		r.timeDays[key] = &stored
		r.dateByID[stored.DateID] = stored.Date
		inserted++
	}
	return inserted, nil
}

func (r *fakeRepo) DateIDMap(ctx context.Context, start, end time.Time) (map[string]int64, error) {
	ids := make(map[string]int64)
	for key, td := range r.timeDays {
		if td.Date.Before(start) || td.Date.After(end) {
			continue
		}
		ids[key] = td.DateID
	}
	return ids, nil
}

func (r *fakeRepo) MaxWeatherDate(ctx context.Context) (*time.Time, error) {
	var max *time.Time
	for dateID := range r.weather {
		date := r.dateByID[dateID]
		if max == nil || date.After(*max) {
			d := date
			max = &d
		}
	}
	return max, nil
}

func (r *fakeRepo) WeatherDateSet(ctx context.Context, start, end time.Time) (map[string]struct{}, error) {
	covered := make(map[string]struct{})
	for dateID := range r.weather {
		date := r.dateByID[dateID]
		if date.Before(start) || date.After(end) {
			continue
		}
		covered[models.DateKey(date)] = struct{}{}
	}
	return covered, nil
}

func (r *fakeRepo) UpsertWeatherDays(ctx context.Context, days []*models.WeatherDay) (int, error) {
	if r.errUpsertWeather != nil {
		return 0, r.errUpsertWeather
	}
	for _, day := range days {
		stored := *day
		if existing, ok := r.weather[day.DateID]; ok {
			stored.WeatherID = existing.WeatherID
		} else {
			r.weatherSeq++
			stored.WeatherID = r.weatherSeq
		}
		r.weather[day.DateID] = &stored
	}
	return len(days), nil
}

func (r *fakeRepo) WeatherIDMap(ctx context.Context) (map[int64]int64, error) {
	ids := make(map[int64]int64, len(r.weather))
	for dateID, day := range r.weather {
		ids[dateID] = day.WeatherID
	}
	return ids, nil
}

func (r *fakeRepo) GetWeatherDays(ctx context.Context, filter repository.WeatherFilter) ([]*models.WeatherSummaryRow, int, error) {
	var rows []*models.WeatherSummaryRow
	for dateID, day := range r.weather {
		date := r.dateByID[dateID]
		if filter.StartDate != nil && date.Before(*filter.StartDate) {
			continue
		}
		if filter.EndDate != nil && date.After(*filter.EndDate) {
			continue
		}
		td := r.timeDays[models.DateKey(date)]
		rows = append(rows, &models.WeatherSummaryRow{
			Date:            date,
			Season:          td.Season,
			TemperatureAvg:  day.TemperatureAvg,
			PrecipitationMM: day.PrecipitationMM,
			WindSpeedKMH:    day.WindSpeedKMH,
			SunshineHours:   day.SunshineHours,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date.After(rows[j].Date) })
	total := len(rows)
	rows = paginate(rows, filter.Offset, filter.Limit)
	return rows, total, nil
}

func (r *fakeRepo) InsertHolidayDays(ctx context.Context, days []*models.HolidayDay) (int, error) {
	inserted := 0
	for _, day := range days {
		key := holidayKey(day.DateID, day.State)
		if _, ok := r.holidayDays[key]; ok {
			continue
		}
		r.holidaySeq++
		stored := *day
		stored.HolidayID = r.holidaySeq
		r.holidayDays[key] = &stored
		inserted++
	}
	return inserted, nil
}

func (r *fakeRepo) HolidayIDMap(ctx context.Context) (map[int64]int64, error) {
	ids := make(map[int64]int64)
	for _, day := range r.holidayDays {
		if existing, ok := ids[day.DateID]; !ok || day.HolidayID < existing {
			ids[day.DateID] = day.HolidayID
		}
	}
	return ids, nil
}

func (r *fakeRepo) HolidayYearSet(ctx context.Context) (map[int]struct{}, error) {
	years := make(map[int]struct{})
	for _, day := range r.holidayDays {
		years[r.dateByID[day.DateID].Year()] = struct{}{}
	}
	return years, nil
}

func (r *fakeRepo) InsertTrackPlaceholders(ctx context.Context, tracks []*models.Track) ([]string, error) {
	var created []string
	for _, track := range tracks {
		if _, ok := r.tracks[track.TrackID]; ok {
			continue
		}
		stored := *track
		r.tracks[track.TrackID] = &stored
		created = append(created, track.TrackID)
	}
	return created, nil
}

func (r *fakeRepo) UpdateTrackFeatures(ctx context.Context, track *models.Track) error {
	existing, ok := r.tracks[track.TrackID]
	if !ok {
		return &repository.NotFoundError{Resource: "track", ID: track.TrackID}
	}
	if track.TrackName != "" {
		existing.TrackName = track.TrackName
	}
	if track.ArtistName != "" {
		existing.ArtistName = track.ArtistName
	}
	existing.Genre = track.Genre
	existing.ExplicitFlag = track.ExplicitFlag
	existing.ReleaseDate = track.ReleaseDate
	existing.DurationMS = track.DurationMS
	existing.LanguageCode = track.LanguageCode
	existing.ImageURL = track.ImageURL
	existing.Danceability = track.Danceability
	existing.Energy = track.Energy
	existing.Valence = track.Valence
	existing.Tempo = track.Tempo
	existing.Loudness = track.Loudness
	existing.Speechiness = track.Speechiness
	existing.Acousticness = track.Acousticness
	existing.Instrumentalness = track.Instrumentalness
	existing.Liveness = track.Liveness
	existing.Key = track.Key
	existing.Mode = track.Mode
	existing.TimeSignature = track.TimeSignature
	return nil
}

func (r *fakeRepo) TracksMissingFeatures(ctx context.Context, limit int) ([]*models.Track, error) {
	var missing []*models.Track
	for _, track := range r.tracks {
		if track.Danceability == nil {
			copied := *track
			missing = append(missing, &copied)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].TrackID < missing[j].TrackID })
	if len(missing) > limit {
		missing = missing[:limit]
	}
	return missing, nil
}

func (r *fakeRepo) FactExists(ctx context.Context, trackID string, dateID int64, country string) (bool, error) {
	for _, fact := range r.facts {
		if fact.TrackID == trackID && fact.DateID == dateID && fact.Country == country {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) InsertChartFacts(ctx context.Context, facts []*models.ChartFact) (int, error) {
	if r.errInsertChartFacts != nil {
		return 0, r.errInsertChartFacts
	}
	for _, fact := range facts {
		r.factSeq++
		stored := *fact
		stored.FactID = r.factSeq
		r.facts = append(r.facts, &stored)
	}
	return len(facts), nil
}

func (r *fakeRepo) MaxChartDate(ctx context.Context, country string) (*time.Time, error) {
	var max *time.Time
	for _, fact := range r.facts {
		if fact.Country != country {
			continue
		}
		date := r.dateByID[fact.DateID]
		if max == nil || date.After(*max) {
			d := date
			max = &d
		}
	}
	return max, nil
}

func (r *fakeRepo) ChartDateSet(ctx context.Context, country string, start, end time.Time) (map[string]struct{}, error) {
	covered := make(map[string]struct{})
	for _, fact := range r.facts {
		if fact.Country != country {
			continue
		}
		date := r.dateByID[fact.DateID]
		if date.Before(start) || date.After(end) {
			continue
		}
		covered[models.DateKey(date)] = struct{}{}
	}
	return covered, nil
}

func (r *fakeRepo) FactsMissingWeather(ctx context.Context, afterFactID int64, limit int) ([]*models.ChartFact, error) {
	return r.factsMissing(afterFactID, limit, func(f *models.ChartFact) bool { return f.WeatherID == nil })
}

func (r *fakeRepo) FactsMissingHoliday(ctx context.Context, afterFactID int64, limit int) ([]*models.ChartFact, error) {
	return r.factsMissing(afterFactID, limit, func(f *models.ChartFact) bool { return f.HolidayID == nil })
}

func (r *fakeRepo) factsMissing(afterFactID int64, limit int, missing func(*models.ChartFact) bool) ([]*models.ChartFact, error) {
	var out []*models.ChartFact
	for _, fact := range r.facts {
		if fact.FactID <= afterFactID || !missing(fact) {
			continue
		}
		copied := *fact
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FactID < out[j].FactID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepo) LinkFactsWeather(ctx context.Context, links []repository.FactLink) (int, error) {
	return r.linkFacts(links, func(f *models.ChartFact, id int64) bool {
		if f.WeatherID != nil {
			return false
		}
		f.WeatherID = &id
		return true
	})
}

func (r *fakeRepo) LinkFactsHoliday(ctx context.Context, links []repository.FactLink) (int, error) {
	return r.linkFacts(links, func(f *models.ChartFact, id int64) bool {
		if f.HolidayID != nil {
			return false
		}
		f.HolidayID = &id
		return true
	})
}

func (r *fakeRepo) linkFacts(links []repository.FactLink, apply func(*models.ChartFact, int64) bool) (int, error) {
	linked := 0
	for _, link := range links {
		for _, fact := range r.facts {
			if fact.FactID == link.FactID && apply(fact, link.TargetID) {
				linked++
			}
		}
	}
	return linked, nil
}

func (r *fakeRepo) GetChartRows(ctx context.Context, filter repository.ChartFilter) ([]*models.ChartRow, int, error) {
	weatherByID := make(map[int64]*models.WeatherDay)
	for _, day := range r.weather {
		weatherByID[day.WeatherID] = day
	}

	var rows []*models.ChartRow
	for _, fact := range r.facts {
		date := r.dateByID[fact.DateID]
		if filter.StartDate != nil && date.Before(*filter.StartDate) {
			continue
		}
		if filter.EndDate != nil && date.After(*filter.EndDate) {
			continue
		}
		if filter.Country != nil && fact.Country != *filter.Country {
			continue
		}
		track := r.tracks[fact.TrackID]
		row := &models.ChartRow{
			Date:          date,
			ChartPosition: fact.ChartPosition,
			TrackName:     track.TrackName,
			ArtistName:    track.ArtistName,
			StreamCount:   fact.StreamCount,
			Country:       fact.Country,
			Season:        r.timeDays[models.DateKey(date)].Season,
		}
		if fact.WeatherID != nil {
			if day, ok := weatherByID[*fact.WeatherID]; ok {
				row.TemperatureAvg = day.TemperatureAvg
			}
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].Date.Equal(rows[j].Date) {
			return rows[i].Date.After(rows[j].Date)
		}
		return rows[i].ChartPosition < rows[j].ChartPosition
	})
	total := len(rows)
	rows = paginate(rows, filter.Offset, filter.Limit)
	return rows, total, nil
}

func (r *fakeRepo) CoverageSummary(ctx context.Context) (*models.CoverageSummary, error) {
	summary := &models.CoverageSummary{
		TimeDays:    int64(len(r.timeDays)),
		WeatherDays: int64(len(r.weather)),
		HolidayDays: int64(len(r.holidayDays)),
		Tracks:      int64(len(r.tracks)),
		Facts:       int64(len(r.facts)),
	}
	for _, track := range r.tracks {
		if track.Danceability != nil {
			summary.TracksWithFeatures++
		}
	}
	for _, fact := range r.facts {
		if fact.WeatherID != nil {
			summary.FactsWithWeather++
		}
	}
	for _, td := range r.timeDays {
		d := td.Date
		if summary.EarliestDate == nil || d.Before(*summary.EarliestDate) {
			summary.EarliestDate = &d
		}
		if summary.LatestDate == nil || d.After(*summary.LatestDate) {
			summary.LatestDate = &d
		}
	}
	return summary, nil
}

func (r *fakeRepo) HealthCheck(ctx context.Context) error {
	return nil
}

func paginate[T any](rows []T, offset, limit int) []T {
	if offset >= len(rows) {
		return nil
	}
	rows = rows[offset:]
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

// factAt finds the single fact for a track on a chart day, or nil
func (r *fakeRepo) factAt(trackID string, day time.Time, country string) *models.ChartFact {
	td, ok := r.timeDays[models.DateKey(day)]
	if !ok {
		return nil
	}
	for _, fact := range r.facts {
		if fact.TrackID == trackID && fact.DateID == td.DateID && fact.Country == country {
			return fact
		}
	}
	return nil
}

// seedDays populates dim_time over [start, end] and returns the date lookup
func seedDays(t *testing.T, repo *fakeRepo, start, end time.Time) map[string]int64 {
	t.Helper()
	if _, err := repo.InsertTimeDays(context.Background(), models.BuildTimeDays(start, end)); err != nil {
		t.Fatalf("seed time days: %v", err)
	}
	ids, err := repo.DateIDMap(context.Background(), start, end)
	if err != nil {
		t.Fatalf("date id map: %v", err)
	}
	return ids
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }
func str(v string) *string   { return &v }
