package models

import "time"

// CoverageSummary aggregates warehouse completeness counters. It backs the
// coverage API endpoint and the end-of-run report.
type CoverageSummary struct {
	TimeDays           int64      `json:"time_days" db:"time_days"`
	WeatherDays        int64      `json:"weather_days" db:"weather_days"`
	HolidayDays        int64      `json:"holiday_days" db:"holiday_days"`
	Tracks             int64      `json:"tracks" db:"tracks"`
	TracksWithFeatures int64      `json:"tracks_with_features" db:"tracks_with_features"`
	Facts              int64      `json:"facts" db:"facts"`
	FactsWithWeather   int64      `json:"facts_with_weather" db:"facts_with_weather"`
	EarliestDate       *time.Time `json:"earliest_date,omitempty" db:"earliest_date"`
	LatestDate         *time.Time `json:"latest_date,omitempty" db:"latest_date"`
}

// FeatureCoverage returns the share of tracks with complete audio features
func (c *CoverageSummary) FeatureCoverage() float64 {
	if c.Tracks == 0 {
		return 0
	}
	return float64(c.TracksWithFeatures) / float64(c.Tracks)
}

// WeatherLinkRatio returns the share of facts linked to a weather day
func (c *CoverageSummary) WeatherLinkRatio() float64 {
	if c.Facts == 0 {
		return 0
	}
	return float64(c.FactsWithWeather) / float64(c.Facts)
}

// WeatherSummaryRow is one averaged weather day joined with its calendar
// attributes, as served by the weather API endpoint.
type WeatherSummaryRow struct {
	Date            time.Time `json:"date" db:"date"`
	Season          string    `json:"season" db:"season"`
	TemperatureAvg  *float64  `json:"temperature_avg,omitempty" db:"temperature_avg"`
	PrecipitationMM *float64  `json:"precipitation_mm,omitempty" db:"precipitation_mm"`
	WindSpeedKMH    *float64  `json:"wind_speed_kmh,omitempty" db:"wind_speed_kmh"`
	SunshineHours   *float64  `json:"sunshine_hours,omitempty" db:"sunshine_hours"`
}

// ChartRow is one chart fact joined with track, calendar, and weather
// attributes, as served by the charts API endpoint.
type ChartRow struct {
	Date           time.Time `json:"date" db:"date"`
	ChartPosition  int       `json:"chart_position" db:"chart_position"`
	TrackName      string    `json:"track_name" db:"track_name"`
	ArtistName     string    `json:"artist_name" db:"artist_name"`
	StreamCount    *int64    `json:"stream_count,omitempty" db:"stream_count"`
	Country        string    `json:"country" db:"country"`
	Season         string    `json:"season" db:"season"`
	TemperatureAvg *float64  `json:"temperature_avg,omitempty" db:"temperature_avg"`
}
