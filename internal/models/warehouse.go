package models

import (
	"time"
)

// Season labels stored in dim_time
const (
	SeasonWinter = "Winter"
	SeasonSpring = "Spring"
	SeasonSummer = "Summer"
	SeasonAutumn = "Autumn"
)

// DateFormat is the canonical calendar-day key used across the warehouse
const DateFormat = "2006-01-02"

// TimeDay represents one dim_time row. Weekday follows the warehouse
// convention 0=Monday .. 6=Sunday, so weekly charts land on weekday 6.
type TimeDay struct {
	DateID     int64     `json:"date_id" db:"date_id"`
	Date       time.Time `json:"date" db:"date"`
	Day        int       `json:"day" db:"day"`
	Month      int       `json:"month" db:"month"`
	Year       int       `json:"year" db:"year"`
	Weekday    int       `json:"weekday" db:"weekday"`
	WeekOfYear int       `json:"week_of_year" db:"week_of_year"`
	Season     string    `json:"season" db:"season"`
	IsWeekend  bool      `json:"is_weekend" db:"is_weekend"`
}

// WeatherDay represents one dim_weather row: a calendar day averaged
// across all sampled locations. NULL metrics are represented as pointers.
type WeatherDay struct {
	WeatherID       int64    `json:"weather_id" db:"weather_id"`
	DateID          int64    `json:"date_id" db:"date_id"`
	TemperatureAvg  *float64 `json:"temperature_avg,omitempty" db:"temperature_avg"`
	PrecipitationMM *float64 `json:"precipitation_mm,omitempty" db:"precipitation_mm"`
	WindSpeedKMH    *float64 `json:"wind_speed_kmh,omitempty" db:"wind_speed_kmh"`
	SunshineHours   *float64 `json:"sunshine_hours,omitempty" db:"sunshine_hours"`
}

// HolidayDay represents one dim_holiday row: one school holiday day in one
// federal state.
type HolidayDay struct {
	HolidayID   int64  `json:"holiday_id" db:"holiday_id"`
	DateID      int64  `json:"date_id" db:"date_id"`
	State       string `json:"state" db:"state"`
	HolidayName string `json:"holiday_name" db:"holiday_name"`
}

// Track represents one dim_track row. The primary key is the upstream song
// UUID. Audio features stay NULL until a feature fetch succeeds.
type Track struct {
	TrackID      string  `json:"track_id" db:"track_id"`
	TrackName    string  `json:"track_name" db:"track_name"`
	ArtistName   string  `json:"artist_name" db:"artist_name"`
	Genre        *string `json:"genre,omitempty" db:"genre"`
	ExplicitFlag *bool   `json:"explicit_flag,omitempty" db:"explicit_flag"`
	ReleaseDate  *string `json:"release_date,omitempty" db:"release_date"`
	DurationMS   *int64  `json:"duration_ms,omitempty" db:"duration_ms"`
	LanguageCode *string `json:"language_code,omitempty" db:"language_code"`
	ImageURL     *string `json:"image_url,omitempty" db:"image_url"`

	Danceability     *float64 `json:"danceability,omitempty" db:"danceability"`
	Energy           *float64 `json:"energy,omitempty" db:"energy"`
	Valence          *float64 `json:"valence,omitempty" db:"valence"`
	Tempo            *float64 `json:"tempo,omitempty" db:"tempo"`
	Loudness         *float64 `json:"loudness,omitempty" db:"loudness"`
	Speechiness      *float64 `json:"speechiness,omitempty" db:"speechiness"`
	Acousticness     *float64 `json:"acousticness,omitempty" db:"acousticness"`
	Instrumentalness *float64 `json:"instrumentalness,omitempty" db:"instrumentalness"`
	Liveness         *float64 `json:"liveness,omitempty" db:"liveness"`
	Key              *int64   `json:"key,omitempty" db:"key"`
	Mode             *int64   `json:"mode,omitempty" db:"mode"`
	TimeSignature    *int64   `json:"time_signature,omitempty" db:"time_signature"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HasCompleteFeatures reports whether all twelve audio feature columns are
// populated. Features are written as a unit, so a track is either pending
// (all NULL) or complete.
func (t *Track) HasCompleteFeatures() bool {
	return t.Danceability != nil && t.Energy != nil && t.Valence != nil &&
		t.Tempo != nil && t.Loudness != nil && t.Speechiness != nil &&
		t.Acousticness != nil && t.Instrumentalness != nil && t.Liveness != nil &&
		t.Key != nil && t.Mode != nil && t.TimeSignature != nil
}

// FeaturesPending reports whether no audio feature column is populated yet
func (t *Track) FeaturesPending() bool {
	return t.Danceability == nil && t.Energy == nil && t.Valence == nil &&
		t.Tempo == nil && t.Loudness == nil && t.Speechiness == nil &&
		t.Acousticness == nil && t.Instrumentalness == nil && t.Liveness == nil &&
		t.Key == nil && t.Mode == nil && t.TimeSignature == nil
}

// ChartFact represents one fact_track_chart row. Weather and holiday keys
// are filled in by the linking pass and stay NULL until then.
type ChartFact struct {
	FactID        int64     `json:"fact_id" db:"fact_id"`
	TrackID       string    `json:"track_id" db:"track_id"`
	DateID        int64     `json:"date_id" db:"date_id"`
	WeatherID     *int64    `json:"weather_id,omitempty" db:"weather_id"`
	HolidayID     *int64    `json:"holiday_id,omitempty" db:"holiday_id"`
	Country       string    `json:"country" db:"country"`
	StreamCount   *int64    `json:"stream_count,omitempty" db:"stream_count"`
	ChartPosition int       `json:"chart_position" db:"chart_position"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// SeasonOf maps a month to its three-month season bucket
func SeasonOf(month time.Month) string {
	switch month {
	case time.December, time.January, time.February:
		return SeasonWinter
	case time.March, time.April, time.May:
		return SeasonSpring
	case time.June, time.July, time.August:
		return SeasonSummer
	default:
		return SeasonAutumn
	}
}

// NormalizeDate truncates a timestamp to its UTC calendar day
func NormalizeDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DateKey formats a timestamp as the warehouse day key
func DateKey(t time.Time) string {
	return t.Format(DateFormat)
}

// BuildTimeDay derives all dim_time attributes for one calendar day
func BuildTimeDay(date time.Time) TimeDay {
	date = NormalizeDate(date)
	weekday := (int(date.Weekday()) + 6) % 7 // time.Sunday=0 shifted to Monday=0
	_, week := date.ISOWeek()

	return TimeDay{
		Date:       date,
		Day:        date.Day(),
		Month:      int(date.Month()),
		Year:       date.Year(),
		Weekday:    weekday,
		WeekOfYear: week,
		Season:     SeasonOf(date.Month()),
		IsWeekend:  weekday >= 5,
	}
}

// BuildTimeDays derives dim_time rows for every day in [start, end]
func BuildTimeDays(start, end time.Time) []TimeDay {
	start = NormalizeDate(start)
	end = NormalizeDate(end)

	var days []TimeDay
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, BuildTimeDay(d))
	}
	return days
}

// IsChartDay reports whether the warehouse expects a weekly chart for the
// day. Rankings are published for Sundays.
func IsChartDay(date time.Time) bool {
	return date.Weekday() == time.Sunday
}

// SundaysBetween lists every chart day in [start, end]
func SundaysBetween(start, end time.Time) []time.Time {
	start = NormalizeDate(start)
	end = NormalizeDate(end)

	var sundays []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if IsChartDay(d) {
			sundays = append(sundays, d)
		}
	}
	return sundays
}

// ValidationError represents a data validation error
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsTransient returns false as validation errors are permanent
func (e *ValidationError) IsTransient() bool {
	return false
}
