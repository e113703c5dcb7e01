package meteo

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"chart-warehouse/pkg/httpclient"
	"chart-warehouse/pkg/logging"
	"chart-warehouse/pkg/metrics"
)

// archivePath is the daily history endpoint of the Open-Meteo archive API
const archivePath = "/v1/archive"

// dailyMetrics are the metric columns requested per day
const dailyMetrics = "temperature_2m_mean,precipitation_sum,windspeed_10m_max,sunshine_duration"

// Location is one weather sampling point
type Location struct {
	Name      string
	Latitude  float64
	Longitude float64
}

// Locations are the capitals of the 16 German federal states. Warehouse
// weather days are the average across all of them.
var Locations = []Location{
	{Name: "Baden-Württemberg", Latitude: 48.7758, Longitude: 9.1829},
	{Name: "Bayern", Latitude: 48.1351, Longitude: 11.5820},
	{Name: "Berlin", Latitude: 52.5200, Longitude: 13.4050},
	{Name: "Brandenburg", Latitude: 52.4125, Longitude: 12.5316},
	{Name: "Bremen", Latitude: 53.0793, Longitude: 8.8017},
	{Name: "Hamburg", Latitude: 53.5511, Longitude: 9.9937},
	{Name: "Hessen", Latitude: 50.1109, Longitude: 8.6821},
	{Name: "Mecklenburg-Vorpommern", Latitude: 53.6355, Longitude: 12.6925},
	{Name: "Niedersachsen", Latitude: 52.3759, Longitude: 9.7320},
	{Name: "Nordrhein-Westfalen", Latitude: 51.4556, Longitude: 7.0116},
	{Name: "Rheinland-Pfalz", Latitude: 49.9929, Longitude: 8.2473},
	{Name: "Saarland", Latitude: 49.2401, Longitude: 6.9969},
	{Name: "Sachsen", Latitude: 51.0504, Longitude: 13.7373},
	{Name: "Sachsen-Anhalt", Latitude: 51.4969, Longitude: 11.9688},
	{Name: "Schleswig-Holstein", Latitude: 54.3233, Longitude: 10.1228},
	{Name: "Thüringen", Latitude: 50.9848, Longitude: 11.0299},
}

// DayObservation holds one day's metrics, either for a single location or
// averaged across locations. Sunshine is already converted to hours; a nil
// field means the metric was not reported.
type DayObservation struct {
	Date            string
	TemperatureAvg  *float64
	PrecipitationMM *float64
	WindSpeedKMH    *float64
	SunshineHours   *float64
}

// archiveResponse mirrors the parallel daily arrays of the archive API
type archiveResponse struct {
	Daily struct {
		Time              []string   `json:"time"`
		Temperature2mMean []*float64 `json:"temperature_2m_mean"`
		PrecipitationSum  []*float64 `json:"precipitation_sum"`
		Windspeed10mMax   []*float64 `json:"windspeed_10m_max"`
		SunshineDuration  []*float64 `json:"sunshine_duration"`
	} `json:"daily"`
}

// Client fetches daily weather history from the Open-Meteo archive API
type Client struct {
	baseURL string
	http    *httpclient.Client
	pause   time.Duration
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewClient creates a weather archive client. pause is the wait between
// location requests when fetching all locations.
func NewClient(baseURL string, httpClient *httpclient.Client, pause time.Duration, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Client {
	return &Client{
		baseURL: baseURL,
		http:    httpClient,
		pause:   pause,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// FetchRange fetches daily metrics for one location over [start, end]
func (c *Client) FetchRange(ctx context.Context, loc Location, start, end time.Time) ([]DayObservation, error) {
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(loc.Latitude, 'f', 4, 64))
	params.Set("longitude", strconv.FormatFloat(loc.Longitude, 'f', 4, 64))
	params.Set("start_date", start.Format("2006-01-02"))
	params.Set("end_date", end.Format("2006-01-02"))
	params.Set("daily", dailyMetrics)
	params.Set("timezone", "Europe/Berlin")

	requestURL := c.baseURL + archivePath + "?" + params.Encode()

	var resp archiveResponse
	if err := c.http.GetJSON(ctx, requestURL, nil, &resp); err != nil {
		return nil, fmt.Errorf("weather fetch for %s failed: %w", loc.Name, err)
	}

	daily := resp.Daily
	observations := make([]DayObservation, 0, len(daily.Time))
	for i, date := range daily.Time {
		observations = append(observations, DayObservation{
			Date:            date,
			TemperatureAvg:  at(daily.Temperature2mMean, i),
			PrecipitationMM: at(daily.PrecipitationSum, i),
			WindSpeedKMH:    at(daily.Windspeed10mMax, i),
			SunshineHours:   sunshineHours(at(daily.SunshineDuration, i)),
		})
	}

	return observations, nil
}

// FetchAll fetches every location sequentially and returns one observation
// slice per location that responded. A failed location is logged, skipped
// and does not fail the fetch; an error is returned only when every
// location failed.
func (c *Client) FetchAll(ctx context.Context, start, end time.Time) ([][]DayObservation, error) {
	var sets [][]DayObservation
	failed := 0

	for i, loc := range Locations {
		observations, err := c.FetchRange(ctx, loc, start, end)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failed++
			c.metrics.RecordAPIError("weather_location_failed", "meteo")
			c.logger.Warn(ctx, "[METEO_LOCATION_FAILED] Skipping location after fetch failure", logging.Fields{
				"location": loc.Name,
				"error":    err.Error(),
			})
			continue
		}

		c.logger.Debug(ctx, "[METEO_LOCATION_DONE] Location fetched", logging.Fields{
			"location": loc.Name,
			"days":     len(observations),
		})
		sets = append(sets, observations)

		if i < len(Locations)-1 && c.pause > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.pause):
			}
		}
	}

	if failed == len(Locations) {
		return nil, fmt.Errorf("all %d weather locations failed", len(Locations))
	}

	return sets, nil
}

// AggregateDays averages per-location observations into one record per
// calendar day, sorted by date. Each metric is averaged over the locations
// that reported it; a metric missing everywhere stays nil.
func AggregateDays(sets [][]DayObservation) []DayObservation {
	type accumulator struct {
		temps    []float64
		precips  []float64
		winds    []float64
		sunshine []float64
	}

	byDate := make(map[string]*accumulator)
	for _, set := range sets {
		for _, obs := range set {
			acc, ok := byDate[obs.Date]
			if !ok {
				acc = &accumulator{}
				byDate[obs.Date] = acc
			}
			if obs.TemperatureAvg != nil {
				acc.temps = append(acc.temps, *obs.TemperatureAvg)
			}
			if obs.PrecipitationMM != nil {
				acc.precips = append(acc.precips, *obs.PrecipitationMM)
			}
			if obs.WindSpeedKMH != nil {
				acc.winds = append(acc.winds, *obs.WindSpeedKMH)
			}
			if obs.SunshineHours != nil {
				acc.sunshine = append(acc.sunshine, *obs.SunshineHours)
			}
		}
	}

	dates := make([]string, 0, len(byDate))
	for date := range byDate {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	averaged := make([]DayObservation, 0, len(dates))
	for _, date := range dates {
		acc := byDate[date]
		averaged = append(averaged, DayObservation{
			Date:            date,
			TemperatureAvg:  mean(acc.temps),
			PrecipitationMM: mean(acc.precips),
			WindSpeedKMH:    mean(acc.winds),
			SunshineHours:   mean(acc.sunshine),
		})
	}

	return averaged
}

// at guards parallel-array access; a short or missing array yields nil
func at(values []*float64, i int) *float64 {
	if i >= len(values) {
		return nil
	}
	return values[i]
}

// sunshineHours converts sunshine seconds to hours. Zero and absent both
// mean the metric was not usable and map to nil.
func sunshineHours(seconds *float64) *float64 {
	if seconds == nil || *seconds == 0 {
		return nil
	}
	hours := *seconds / 3600
	return &hours
}

// mean averages values, nil when empty
func mean(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	m := sum / float64(len(values))
	return &m
}
