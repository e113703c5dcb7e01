package models

import (
	"testing"
	"time"
)

// TestBuildTimeDay tests derivation of calendar attributes
func TestBuildTimeDay(t *testing.T) {
	tests := []struct {
		name        string
		date        time.Time
		checkValues func(*testing.T, TimeDay)
	}{
		{
			name: "sunday in winter",
			date: time.Date(2023, 1, 15, 0, 0, 0, 0, time.UTC),
			checkValues: func(t *testing.T, day TimeDay) {
				if day.Weekday != 6 {
					t.Errorf("Weekday = %v, want 6 (Sunday)", day.Weekday)
				}
				if !day.IsWeekend {
					t.Error("IsWeekend should be true for Sunday")
				}
				if day.Season != SeasonWinter {
					t.Errorf("Season = %v, want %v", day.Season, SeasonWinter)
				}
				if day.Day != 15 || day.Month != 1 || day.Year != 2023 {
					t.Errorf("Day/Month/Year = %v/%v/%v, want 15/1/2023", day.Day, day.Month, day.Year)
				}
			},
		},
		{
			name: "monday is first weekday",
			date: time.Date(2023, 1, 16, 0, 0, 0, 0, time.UTC),
			checkValues: func(t *testing.T, day TimeDay) {
				if day.Weekday != 0 {
					t.Errorf("Weekday = %v, want 0 (Monday)", day.Weekday)
				}
				if day.IsWeekend {
					t.Error("IsWeekend should be false for Monday")
				}
			},
		},
		{
			name: "saturday is weekend",
			date: time.Date(2023, 1, 21, 0, 0, 0, 0, time.UTC),
			checkValues: func(t *testing.T, day TimeDay) {
				if day.Weekday != 5 {
					t.Errorf("Weekday = %v, want 5 (Saturday)", day.Weekday)
				}
				if !day.IsWeekend {
					t.Error("IsWeekend should be true for Saturday")
				}
			},
		},
		{
			name: "december belongs to winter",
			date: time.Date(2023, 12, 24, 0, 0, 0, 0, time.UTC),
			checkValues: func(t *testing.T, day TimeDay) {
				if day.Season != SeasonWinter {
					t.Errorf("Season = %v, want %v", day.Season, SeasonWinter)
				}
			},
		},
		{
			name: "iso week carries over year boundary",
			date: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
			checkValues: func(t *testing.T, day TimeDay) {
				// 2021-01-01 falls into ISO week 53 of 2020.
				if day.WeekOfYear != 53 {
					t.Errorf("WeekOfYear = %v, want 53", day.WeekOfYear)
				}
				if day.Year != 2021 {
					t.Errorf("Year = %v, want 2021", day.Year)
				}
			},
		},
		{
			name: "timestamp is truncated to the calendar day",
			date: time.Date(2023, 6, 1, 17, 45, 12, 0, time.UTC),
			checkValues: func(t *testing.T, day TimeDay) {
				want := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
				if !day.Date.Equal(want) {
					t.Errorf("Date = %v, want %v", day.Date, want)
				}
				if day.Season != SeasonSummer {
					t.Errorf("Season = %v, want %v", day.Season, SeasonSummer)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			day := BuildTimeDay(tt.date)
			tt.checkValues(t, day)
		})
	}
}

// TestSeasonOf tests the three-month season buckets
func TestSeasonOf(t *testing.T) {
	tests := []struct {
		month time.Month
		want  string
	}{
		{time.December, SeasonWinter},
		{time.January, SeasonWinter},
		{time.February, SeasonWinter},
		{time.March, SeasonSpring},
		{time.April, SeasonSpring},
		{time.May, SeasonSpring},
		{time.June, SeasonSummer},
		{time.July, SeasonSummer},
		{time.August, SeasonSummer},
		{time.September, SeasonAutumn},
		{time.October, SeasonAutumn},
		{time.November, SeasonAutumn},
	}

	for _, tt := range tests {
		if got := SeasonOf(tt.month); got != tt.want {
			t.Errorf("SeasonOf(%v) = %v, want %v", tt.month, got, tt.want)
		}
	}
}

// TestBuildTimeDays tests inclusive range expansion
func TestBuildTimeDays(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2023, 1, 10, 0, 0, 0, 0, time.UTC)

	days := BuildTimeDays(start, end)
	if len(days) != 10 {
		t.Fatalf("len(days) = %v, want 10", len(days))
	}
	if !days[0].Date.Equal(start) {
		t.Errorf("first day = %v, want %v", days[0].Date, start)
	}
	if !days[9].Date.Equal(end) {
		t.Errorf("last day = %v, want %v", days[9].Date, end)
	}

	// Leap day must be included.
	leap := BuildTimeDays(
		time.Date(2020, 2, 28, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC),
	)
	if len(leap) != 3 {
		t.Errorf("len(leap) = %v, want 3", len(leap))
	}
}

// TestSundaysBetween tests chart day enumeration
func TestSundaysBetween(t *testing.T) {
	sundays := SundaysBetween(
		time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 1, 31, 0, 0, 0, 0, time.UTC),
	)
	if len(sundays) != 5 {
		t.Fatalf("len(sundays) = %v, want 5", len(sundays))
	}
	for _, s := range sundays {
		if s.Weekday() != time.Sunday {
			t.Errorf("%v is not a Sunday", s)
		}
	}

	none := SundaysBetween(
		time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 1, 7, 0, 0, 0, 0, time.UTC),
	)
	if len(none) != 0 {
		t.Errorf("len(none) = %v, want 0", len(none))
	}
}

// TestTrackFeatureCompleteness tests the all-or-nothing feature state
func TestTrackFeatureCompleteness(t *testing.T) {
	pending := &Track{TrackID: "uuid-1", TrackName: "Song", ArtistName: "Artist"}
	if !pending.FeaturesPending() {
		t.Error("FeaturesPending() should be true for a placeholder track")
	}
	if pending.HasCompleteFeatures() {
		t.Error("HasCompleteFeatures() should be false for a placeholder track")
	}

	complete := &Track{TrackID: "uuid-2"}
	for _, p := range []**float64{
		&complete.Danceability, &complete.Energy, &complete.Valence,
		&complete.Tempo, &complete.Loudness, &complete.Speechiness,
		&complete.Acousticness, &complete.Instrumentalness, &complete.Liveness,
	} {
		v := 0.5
		*p = &v
	}
	for _, p := range []**int64{&complete.Key, &complete.Mode, &complete.TimeSignature} {
		v := int64(1)
		*p = &v
	}
	if !complete.HasCompleteFeatures() {
		t.Error("HasCompleteFeatures() should be true with all twelve set")
	}
	if complete.FeaturesPending() {
		t.Error("FeaturesPending() should be false with all twelve set")
	}

	partial := &Track{TrackID: "uuid-3"}
	v := 0.7
	partial.Danceability = &v
	if partial.HasCompleteFeatures() {
		t.Error("HasCompleteFeatures() should be false with one feature set")
	}
	if partial.FeaturesPending() {
		t.Error("FeaturesPending() should be false with one feature set")
	}
}

// TestCoverageSummaryRatios tests ratio calculations including zero guards
func TestCoverageSummaryRatios(t *testing.T) {
	empty := &CoverageSummary{}
	if empty.FeatureCoverage() != 0 {
		t.Errorf("FeatureCoverage() on empty = %v, want 0", empty.FeatureCoverage())
	}
	if empty.WeatherLinkRatio() != 0 {
		t.Errorf("WeatherLinkRatio() on empty = %v, want 0", empty.WeatherLinkRatio())
	}

	c := &CoverageSummary{
		Tracks:             200,
		TracksWithFeatures: 180,
		Facts:              1000,
		FactsWithWeather:   990,
	}
	if got := c.FeatureCoverage(); got != 0.9 {
		t.Errorf("FeatureCoverage() = %v, want 0.9", got)
	}
	if got := c.WeatherLinkRatio(); got != 0.99 {
		t.Errorf("WeatherLinkRatio() = %v, want 0.99", got)
	}
}

// TestValidationError tests error handling
func TestValidationError(t *testing.T) {
	err := &ValidationError{
		Field:   "date",
		Value:   "invalid",
		Message: "invalid date format",
	}

	if err.Error() != "invalid date format" {
		t.Errorf("Error() = %v, want %v", err.Error(), "invalid date format")
	}

	if err.IsTransient() {
		t.Error("ValidationError should not be transient")
	}
}
