package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"chart-warehouse/internal/models"
	"chart-warehouse/pkg/database"
	"chart-warehouse/pkg/logging"
	"chart-warehouse/pkg/metrics"
)

// WarehouseRepository provides data access for the chart warehouse. All
// batch writes run in one transaction per call, so a committed call is a
// durability boundary the caller can rely on.
type WarehouseRepository interface {
	// Time dimension operations
	MaxTimeDate(ctx context.Context) (*time.Time, error)
	InsertTimeDays(ctx context.Context, days []models.TimeDay) (int, error)
	DateIDMap(ctx context.Context, start, end time.Time) (map[string]int64, error)

	// Weather dimension operations
	MaxWeatherDate(ctx context.Context) (*time.Time, error)
	WeatherDateSet(ctx context.Context, start, end time.Time) (map[string]struct{}, error)
	UpsertWeatherDays(ctx context.Context, days []*models.WeatherDay) (int, error)
	WeatherIDMap(ctx context.Context) (map[int64]int64, error)
	GetWeatherDays(ctx context.Context, filter WeatherFilter) ([]*models.WeatherSummaryRow, int, error)

	// Holiday dimension operations
	InsertHolidayDays(ctx context.Context, days []*models.HolidayDay) (int, error)
	HolidayIDMap(ctx context.Context) (map[int64]int64, error)
	HolidayYearSet(ctx context.Context) (map[int]struct{}, error)

	// Track dimension operations
	InsertTrackPlaceholders(ctx context.Context, tracks []*models.Track) ([]string, error)
	UpdateTrackFeatures(ctx context.Context, track *models.Track) error
	TracksMissingFeatures(ctx context.Context, limit int) ([]*models.Track, error)

	// Fact operations
	FactExists(ctx context.Context, trackID string, dateID int64, country string) (bool, error)
	InsertChartFacts(ctx context.Context, facts []*models.ChartFact) (int, error)
	MaxChartDate(ctx context.Context, country string) (*time.Time, error)
	ChartDateSet(ctx context.Context, country string, start, end time.Time) (map[string]struct{}, error)
	FactsMissingWeather(ctx context.Context, afterFactID int64, limit int) ([]*models.ChartFact, error)
	FactsMissingHoliday(ctx context.Context, afterFactID int64, limit int) ([]*models.ChartFact, error)
	LinkFactsWeather(ctx context.Context, links []FactLink) (int, error)
	LinkFactsHoliday(ctx context.Context, links []FactLink) (int, error)
	GetChartRows(ctx context.Context, filter ChartFilter) ([]*models.ChartRow, int, error)

	// Coverage and utility operations
	CoverageSummary(ctx context.Context) (*models.CoverageSummary, error)
	HealthCheck(ctx context.Context) error
}

// WeatherFilter defines filters for querying averaged weather days
type WeatherFilter struct {
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
	Offset    int
}

// ChartFilter defines filters for querying chart rows
type ChartFilter struct {
	StartDate *time.Time
	EndDate   *time.Time
	Country   *string
	Limit     int
	Offset    int
}

// FactLink assigns a dimension key to one fact row
type FactLink struct {
	FactID   int64
	TargetID int64
}

// warehouseRepository implements WarehouseRepository
type warehouseRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewWarehouseRepository creates a new warehouse repository
func NewWarehouseRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) WarehouseRepository {
	return &warehouseRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// MaxTimeDate returns the latest calendar day in dim_time, or nil when empty
func (r *warehouseRepository) MaxTimeDate(ctx context.Context) (*time.Time, error) {
	return r.maxDate(ctx, "max_time_date", `SELECT MAX(date) FROM dim_time`)
}

// InsertTimeDays inserts calendar days, skipping dates already present
func (r *warehouseRepository) InsertTimeDays(ctx context.Context, days []models.TimeDay) (int, error) {
	if len(days) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO dim_time (date, day, month, year, weekday, week_of_year, season, is_weekend)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (date) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, day := range days {
		res, err := stmt.ExecContext(ctx,
			day.Date,
			day.Day,
			day.Month,
			day.Year,
			day.Weekday,
			day.WeekOfYear,
			day.Season,
			day.IsWeekend,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert time day %s: %w", models.DateKey(day.Date), err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.metrics.SyncBatchSize.Observe(float64(len(days)))
	r.metrics.RecordRowsLoaded("dim_time", inserted)

	return inserted, nil
}

// DateIDMap loads the date to date_id lookup for a date range once
func (r *warehouseRepository) DateIDMap(ctx context.Context, start, end time.Time) (map[string]int64, error) {
	query := `
		SELECT date_id, date
		FROM dim_time
		WHERE date >= $1 AND date <= $2
	`

	var rows []struct {
		DateID int64     `db:"date_id"`
		Date   time.Time `db:"date"`
	}
	if err := r.db.SelectContext(ctx, "date_id_map", &rows, query, start, end); err != nil {
		return nil, fmt.Errorf("failed to load date lookup: %w", err)
	}

	lookup := make(map[string]int64, len(rows))
	for _, row := range rows {
		lookup[models.DateKey(row.Date)] = row.DateID
	}

	return lookup, nil
}

// MaxWeatherDate returns the latest weather-covered day, or nil when empty
func (r *warehouseRepository) MaxWeatherDate(ctx context.Context) (*time.Time, error) {
	return r.maxDate(ctx, "max_weather_date", `
		SELECT MAX(t.date)
		FROM dim_weather w
		JOIN dim_time t ON t.date_id = w.date_id
	`)
}

// WeatherDateSet returns the weather-covered dates inside a range
func (r *warehouseRepository) WeatherDateSet(ctx context.Context, start, end time.Time) (map[string]struct{}, error) {
	query := `
		SELECT t.date
		FROM dim_weather w
		JOIN dim_time t ON t.date_id = w.date_id
		WHERE t.date >= $1 AND t.date <= $2
	`

	var dates []time.Time
	if err := r.db.SelectContext(ctx, "weather_date_set", &dates, query, start, end); err != nil {
		return nil, fmt.Errorf("failed to load weather dates: %w", err)
	}

	set := make(map[string]struct{}, len(dates))
	for _, d := range dates {
		set[models.DateKey(d)] = struct{}{}
	}

	return set, nil
}

// UpsertWeatherDays writes averaged weather days, replacing metrics for
// days already present
func (r *warehouseRepository) UpsertWeatherDays(ctx context.Context, days []*models.WeatherDay) (int, error) {
	if len(days) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO dim_weather (date_id, temperature_avg, precipitation_mm, wind_speed_kmh, sunshine_hours)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (date_id) DO UPDATE SET
			temperature_avg = EXCLUDED.temperature_avg,
			precipitation_mm = EXCLUDED.precipitation_mm,
			wind_speed_kmh = EXCLUDED.wind_speed_kmh,
			sunshine_hours = EXCLUDED.sunshine_hours
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, day := range days {
		if _, err := stmt.ExecContext(ctx,
			day.DateID,
			day.TemperatureAvg,
			day.PrecipitationMM,
			day.WindSpeedKMH,
			day.SunshineHours,
		); err != nil {
			return 0, fmt.Errorf("failed to upsert weather day %d: %w", day.DateID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.metrics.SyncBatchSize.Observe(float64(len(days)))
	r.metrics.RecordRowsLoaded("dim_weather", len(days))

	return len(days), nil
}

// WeatherIDMap loads the date_id to weather_id lookup for fact linking
func (r *warehouseRepository) WeatherIDMap(ctx context.Context) (map[int64]int64, error) {
	var rows []struct {
		DateID    int64 `db:"date_id"`
		WeatherID int64 `db:"weather_id"`
	}
	query := `SELECT date_id, weather_id FROM dim_weather`
	if err := r.db.SelectContext(ctx, "weather_id_map", &rows, query); err != nil {
		return nil, fmt.Errorf("failed to load weather lookup: %w", err)
	}

	lookup := make(map[int64]int64, len(rows))
	for _, row := range rows {
		lookup[row.DateID] = row.WeatherID
	}

	return lookup, nil
}

// GetWeatherDays retrieves averaged weather days with filtering and pagination
func (r *warehouseRepository) GetWeatherDays(ctx context.Context, filter WeatherFilter) ([]*models.WeatherSummaryRow, int, error) {
	query := `
		SELECT t.date, t.season,
		       w.temperature_avg, w.precipitation_mm, w.wind_speed_kmh, w.sunshine_hours
		FROM dim_weather w
		JOIN dim_time t ON t.date_id = w.date_id
		WHERE 1=1
	`
	args := []interface{}{}
	argNum := 1

	if filter.StartDate != nil {
		query += fmt.Sprintf(" AND t.date >= $%d", argNum)
		args = append(args, *filter.StartDate)
		argNum++
	}

	if filter.EndDate != nil {
		query += fmt.Sprintf(" AND t.date <= $%d", argNum)
		args = append(args, *filter.EndDate)
		argNum++
	}

	countQuery := "SELECT COUNT(*) FROM (" + query + ") AS count_query"
	var totalCount int
	if err := r.db.GetContext(ctx, "count_weather_days", &totalCount, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count weather days: %w", err)
	}

	query += " ORDER BY t.date DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, filter.Limit, filter.Offset)

	var days []*models.WeatherSummaryRow
	if err := r.db.SelectContext(ctx, "get_weather_days", &days, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to get weather days: %w", err)
	}

	return days, totalCount, nil
}

// InsertHolidayDays inserts holiday days, skipping (date, state) pairs
// already present
func (r *warehouseRepository) InsertHolidayDays(ctx context.Context, days []*models.HolidayDay) (int, error) {
	if len(days) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO dim_holiday (date_id, state, holiday_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (date_id, state) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, day := range days {
		res, err := stmt.ExecContext(ctx, day.DateID, day.State, day.HolidayName)
		if err != nil {
			return 0, fmt.Errorf("failed to insert holiday day: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.metrics.SyncBatchSize.Observe(float64(len(days)))
	r.metrics.RecordRowsLoaded("dim_holiday", inserted)

	return inserted, nil
}

// HolidayIDMap loads the date_id to holiday_id lookup for fact linking.
// Days with holidays in several states map to the lowest holiday_id.
func (r *warehouseRepository) HolidayIDMap(ctx context.Context) (map[int64]int64, error) {
	var rows []struct {
		DateID    int64 `db:"date_id"`
		HolidayID int64 `db:"holiday_id"`
	}
	query := `
		SELECT date_id, MIN(holiday_id) AS holiday_id
		FROM dim_holiday
		GROUP BY date_id
	`
	if err := r.db.SelectContext(ctx, "holiday_id_map", &rows, query); err != nil {
		return nil, fmt.Errorf("failed to load holiday lookup: %w", err)
	}

	lookup := make(map[int64]int64, len(rows))
	for _, row := range rows {
		lookup[row.DateID] = row.HolidayID
	}

	return lookup, nil
}

// HolidayYearSet returns the years that already have holiday rows
func (r *warehouseRepository) HolidayYearSet(ctx context.Context) (map[int]struct{}, error) {
	var years []int
	query := `
		SELECT DISTINCT t.year
		FROM dim_holiday h
		JOIN dim_time t ON t.date_id = h.date_id
	`
	if err := r.db.SelectContext(ctx, "holiday_year_set", &years, query); err != nil {
		return nil, fmt.Errorf("failed to load holiday years: %w", err)
	}

	set := make(map[int]struct{}, len(years))
	for _, y := range years {
		set[y] = struct{}{}
	}

	return set, nil
}

// InsertTrackPlaceholders inserts metadata-only track rows for UUIDs not
// seen before and returns the IDs that were newly created. Feature columns
// stay NULL until a feature fetch completes.
func (r *warehouseRepository) InsertTrackPlaceholders(ctx context.Context, tracks []*models.Track) ([]string, error) {
	if len(tracks) == 0 {
		return nil, nil
	}

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO dim_track (track_id, track_name, artist_name, image_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (track_id) DO NOTHING
		RETURNING track_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	var created []string
	for _, track := range tracks {
		var id string
		err := stmt.QueryRowContext(ctx,
			track.TrackID,
			track.TrackName,
			track.ArtistName,
			track.ImageURL,
			now,
		).Scan(&id)
		if err == sql.ErrNoRows {
			continue // already known
		}
		if err != nil {
			return nil, fmt.Errorf("failed to insert track %s: %w", track.TrackID, err)
		}
		created = append(created, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.metrics.SyncBatchSize.Observe(float64(len(tracks)))
	r.metrics.RecordRowsLoaded("dim_track", len(created))

	return created, nil
}

// UpdateTrackFeatures writes all twelve audio feature columns and the
// refreshed metadata in one statement, keeping the feature state atomic.
func (r *warehouseRepository) UpdateTrackFeatures(ctx context.Context, track *models.Track) error {
	query := `
		UPDATE dim_track SET
			track_name = COALESCE(NULLIF($2, ''), track_name),
			artist_name = COALESCE(NULLIF($3, ''), artist_name),
			genre = COALESCE($4, genre),
			explicit_flag = COALESCE($5, explicit_flag),
			release_date = COALESCE($6, release_date),
			duration_ms = COALESCE($7, duration_ms),
			language_code = COALESCE($8, language_code),
			image_url = COALESCE($9, image_url),
			danceability = $10,
			energy = $11,
			valence = $12,
			tempo = $13,
			loudness = $14,
			speechiness = $15,
			acousticness = $16,
			instrumentalness = $17,
			liveness = $18,
			"key" = $19,
			"mode" = $20,
			time_signature = $21,
			updated_at = $22
		WHERE track_id = $1
	`

	res, err := r.db.ExecContext(ctx, "update_track_features", query,
		track.TrackID,
		track.TrackName,
		track.ArtistName,
		track.Genre,
		track.ExplicitFlag,
		track.ReleaseDate,
		track.DurationMS,
		track.LanguageCode,
		track.ImageURL,
		track.Danceability,
		track.Energy,
		track.Valence,
		track.Tempo,
		track.Loudness,
		track.Speechiness,
		track.Acousticness,
		track.Instrumentalness,
		track.Liveness,
		track.Key,
		track.Mode,
		track.TimeSignature,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update track features: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &NotFoundError{Resource: "track", ID: track.TrackID}
	}

	return nil
}

// TracksMissingFeatures lists tracks whose feature columns are still NULL,
// oldest first, capped to limit
func (r *warehouseRepository) TracksMissingFeatures(ctx context.Context, limit int) ([]*models.Track, error) {
	query := `
		SELECT track_id, track_name, artist_name, genre, explicit_flag,
		       release_date, duration_ms, language_code, image_url,
		       danceability, energy, valence, tempo, loudness, speechiness,
		       acousticness, instrumentalness, liveness, "key", "mode", time_signature,
		       created_at, updated_at
		FROM dim_track
		WHERE danceability IS NULL
		ORDER BY track_id
		LIMIT $1
	`

	var tracks []*models.Track
	if err := r.db.SelectContext(ctx, "tracks_missing_features", &tracks, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list tracks missing features: %w", err)
	}

	return tracks, nil
}

// FactExists reports whether a chart placement is already recorded. The
// fact table deliberately has no uniqueness constraint, so this pre-check
// is the only duplicate guard.
func (r *warehouseRepository) FactExists(ctx context.Context, trackID string, dateID int64, country string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM fact_track_chart
			WHERE track_id = $1 AND date_id = $2 AND country = $3
		)
	`

	var exists bool
	if err := r.db.GetContext(ctx, "fact_exists", &exists, query, trackID, dateID, country); err != nil {
		return false, fmt.Errorf("failed to check fact existence: %w", err)
	}

	return exists, nil
}

// InsertChartFacts inserts chart placements in one transaction
func (r *warehouseRepository) InsertChartFacts(ctx context.Context, facts []*models.ChartFact) (int, error) {
	if len(facts) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fact_track_chart (track_id, date_id, weather_id, holiday_id, country, stream_count, chart_position, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, fact := range facts {
		if _, err := stmt.ExecContext(ctx,
			fact.TrackID,
			fact.DateID,
			fact.WeatherID,
			fact.HolidayID,
			fact.Country,
			fact.StreamCount,
			fact.ChartPosition,
			now,
		); err != nil {
			return 0, fmt.Errorf("failed to insert chart fact: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.metrics.SyncBatchSize.Observe(float64(len(facts)))
	r.metrics.RecordRowsLoaded("fact_track_chart", len(facts))

	return len(facts), nil
}

// MaxChartDate returns the latest chart day with facts for a market
func (r *warehouseRepository) MaxChartDate(ctx context.Context, country string) (*time.Time, error) {
	return r.maxDate(ctx, "max_chart_date", `
		SELECT MAX(t.date)
		FROM fact_track_chart f
		JOIN dim_time t ON t.date_id = f.date_id
		WHERE f.country = $1
	`, country)
}

// ChartDateSet returns the chart days that already have facts for a market
func (r *warehouseRepository) ChartDateSet(ctx context.Context, country string, start, end time.Time) (map[string]struct{}, error) {
	query := `
		SELECT DISTINCT t.date
		FROM fact_track_chart f
		JOIN dim_time t ON t.date_id = f.date_id
		WHERE f.country = $1 AND t.date >= $2 AND t.date <= $3
	`

	var dates []time.Time
	if err := r.db.SelectContext(ctx, "chart_date_set", &dates, query, country, start, end); err != nil {
		return nil, fmt.Errorf("failed to load chart dates: %w", err)
	}

	set := make(map[string]struct{}, len(dates))
	for _, d := range dates {
		set[models.DateKey(d)] = struct{}{}
	}

	return set, nil
}

// FactsMissingWeather pages through facts without a weather key, keyset
// style, so permanently unlinkable facts cannot stall the pass
func (r *warehouseRepository) FactsMissingWeather(ctx context.Context, afterFactID int64, limit int) ([]*models.ChartFact, error) {
	return r.factsMissingDimension(ctx, "facts_missing_weather", "weather_id", afterFactID, limit)
}

// FactsMissingHoliday pages through facts without a holiday key
func (r *warehouseRepository) FactsMissingHoliday(ctx context.Context, afterFactID int64, limit int) ([]*models.ChartFact, error) {
	return r.factsMissingDimension(ctx, "facts_missing_holiday", "holiday_id", afterFactID, limit)
}

func (r *warehouseRepository) factsMissingDimension(ctx context.Context, queryType, column string, afterFactID int64, limit int) ([]*models.ChartFact, error) {
	query := fmt.Sprintf(`
		SELECT fact_id, track_id, date_id, weather_id, holiday_id, country, stream_count, chart_position, created_at
		FROM fact_track_chart
		WHERE %s IS NULL AND fact_id > $1
		ORDER BY fact_id
		LIMIT $2
	`, column)

	var facts []*models.ChartFact
	if err := r.db.SelectContext(ctx, queryType, &facts, query, afterFactID, limit); err != nil {
		return nil, fmt.Errorf("failed to load facts missing %s: %w", column, err)
	}

	return facts, nil
}

// LinkFactsWeather assigns weather keys to facts in one transaction
func (r *warehouseRepository) LinkFactsWeather(ctx context.Context, links []FactLink) (int, error) {
	return r.linkFacts(ctx, "weather_id", links)
}

// LinkFactsHoliday assigns holiday keys to facts in one transaction
func (r *warehouseRepository) LinkFactsHoliday(ctx context.Context, links []FactLink) (int, error) {
	return r.linkFacts(ctx, "holiday_id", links)
}

func (r *warehouseRepository) linkFacts(ctx context.Context, column string, links []FactLink) (int, error) {
	if len(links) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		UPDATE fact_track_chart
		SET %s = $1
		WHERE fact_id = $2 AND %s IS NULL
	`, column, column))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	linked := 0
	for _, link := range links {
		res, err := stmt.ExecContext(ctx, link.TargetID, link.FactID)
		if err != nil {
			return 0, fmt.Errorf("failed to link fact %d: %w", link.FactID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			linked += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_LINK_FACTS] Fact links committed", logging.Fields{
		"column": column,
		"linked": linked,
	})

	return linked, nil
}

// GetChartRows retrieves chart placements joined with track, calendar and
// weather attributes, with filtering and pagination
func (r *warehouseRepository) GetChartRows(ctx context.Context, filter ChartFilter) ([]*models.ChartRow, int, error) {
	query := `
		SELECT t.date, f.chart_position, tr.track_name, tr.artist_name,
		       f.stream_count, f.country, t.season, w.temperature_avg
		FROM fact_track_chart f
		JOIN dim_time t ON t.date_id = f.date_id
		JOIN dim_track tr ON tr.track_id = f.track_id
		LEFT JOIN dim_weather w ON w.weather_id = f.weather_id
		WHERE 1=1
	`
	args := []interface{}{}
	argNum := 1

	if filter.StartDate != nil {
		query += fmt.Sprintf(" AND t.date >= $%d", argNum)
		args = append(args, *filter.StartDate)
		argNum++
	}

	if filter.EndDate != nil {
		query += fmt.Sprintf(" AND t.date <= $%d", argNum)
		args = append(args, *filter.EndDate)
		argNum++
	}

	if filter.Country != nil {
		query += fmt.Sprintf(" AND f.country = $%d", argNum)
		args = append(args, *filter.Country)
		argNum++
	}

	countQuery := "SELECT COUNT(*) FROM (" + query + ") AS count_query"
	var totalCount int
	if err := r.db.GetContext(ctx, "count_chart_rows", &totalCount, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count chart rows: %w", err)
	}

	query += " ORDER BY t.date DESC, f.chart_position ASC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, filter.Limit, filter.Offset)

	var rows []*models.ChartRow
	if err := r.db.SelectContext(ctx, "get_chart_rows", &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to get chart rows: %w", err)
	}

	return rows, totalCount, nil
}

// CoverageSummary computes warehouse completeness counters in one query
func (r *warehouseRepository) CoverageSummary(ctx context.Context) (*models.CoverageSummary, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM dim_time) AS time_days,
			(SELECT COUNT(*) FROM dim_weather) AS weather_days,
			(SELECT COUNT(*) FROM dim_holiday) AS holiday_days,
			(SELECT COUNT(*) FROM dim_track) AS tracks,
			(SELECT COUNT(*) FROM dim_track WHERE danceability IS NOT NULL) AS tracks_with_features,
			(SELECT COUNT(*) FROM fact_track_chart) AS facts,
			(SELECT COUNT(*) FROM fact_track_chart WHERE weather_id IS NOT NULL) AS facts_with_weather,
			(SELECT MIN(t.date) FROM dim_weather w JOIN dim_time t ON t.date_id = w.date_id) AS earliest_date,
			(SELECT MAX(t.date) FROM dim_weather w JOIN dim_time t ON t.date_id = w.date_id) AS latest_date
	`

	var summary models.CoverageSummary
	if err := r.db.GetContext(ctx, "coverage_summary", &summary, query); err != nil {
		return nil, fmt.Errorf("failed to compute coverage summary: %w", err)
	}

	return &summary, nil
}

// HealthCheck performs a repository health check
func (r *warehouseRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// maxDate runs an aggregate returning the latest date or nil when no rows
func (r *warehouseRepository) maxDate(ctx context.Context, queryType, query string, args ...interface{}) (*time.Time, error) {
	var max sql.NullTime
	err := r.db.GetContext(ctx, queryType, &max, query, args...)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to get %s: %w", queryType, err)
	}
	if !max.Valid {
		return nil, nil
	}

	d := models.NormalizeDate(max.Time)
	return &d, nil
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) IsTransient() bool {
	return false
}
