package holidays

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"chart-warehouse/internal/models"
	"chart-warehouse/pkg/httpclient"
	"chart-warehouse/pkg/logging"
	"chart-warehouse/pkg/metrics"
)

// State pairs a ferien-api state code with the federal state name stored
// in the warehouse
type State struct {
	Code string
	Name string
}

// States lists the 16 German federal states
var States = []State{
	{Code: "BW", Name: "Baden-Württemberg"},
	{Code: "BY", Name: "Bayern"},
	{Code: "BE", Name: "Berlin"},
	{Code: "BB", Name: "Brandenburg"},
	{Code: "HB", Name: "Bremen"},
	{Code: "HH", Name: "Hamburg"},
	{Code: "HE", Name: "Hessen"},
	{Code: "MV", Name: "Mecklenburg-Vorpommern"},
	{Code: "NI", Name: "Niedersachsen"},
	{Code: "NW", Name: "Nordrhein-Westfalen"},
	{Code: "RP", Name: "Rheinland-Pfalz"},
	{Code: "SL", Name: "Saarland"},
	{Code: "SN", Name: "Sachsen"},
	{Code: "ST", Name: "Sachsen-Anhalt"},
	{Code: "SH", Name: "Schleswig-Holstein"},
	{Code: "TH", Name: "Thüringen"},
}

// Span is one school holiday period in one state
type Span struct {
	State string
	Name  string
	Start time.Time
	End   time.Time
}

// Day is one expanded holiday day in one state
type Day struct {
	Date  time.Time
	State string
	Name  string
}

// apiHoliday mirrors one element of the ferien-api response
type apiHoliday struct {
	Start     string `json:"start"`
	End       string `json:"end"`
	Year      int    `json:"year"`
	StateCode string `json:"stateCode"`
	Name      string `json:"name"`
	Slug      string `json:"slug"`
}

// spanLayouts are the timestamp shapes ferien-api has been seen returning
var spanLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02",
}

// Client fetches German school holidays from ferien-api.de
type Client struct {
	baseURL string
	http    *httpclient.Client
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewClient creates a school holiday client
func NewClient(baseURL string, httpClient *httpclient.Client, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Client {
	return &Client{
		baseURL: baseURL,
		http:    httpClient,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// FetchYear fetches the holiday spans for one state and year
func (c *Client) FetchYear(ctx context.Context, state State, year int) ([]Span, error) {
	requestURL := fmt.Sprintf("%s/api/v1/holidays/%s/%d", c.baseURL, state.Code, year)

	var raw []apiHoliday
	if err := c.http.GetJSON(ctx, requestURL, nil, &raw); err != nil {
		return nil, fmt.Errorf("holiday fetch for %s/%d failed: %w", state.Code, year, err)
	}

	spans := make([]Span, 0, len(raw))
	for _, h := range raw {
		start, err := parseSpanTime(h.Start)
		if err != nil {
			c.logger.Warn(ctx, "[HOLIDAY_PARSE] Skipping span with unreadable start", logging.Fields{
				"state": state.Code,
				"value": h.Start,
			})
			continue
		}
		end, err := parseSpanTime(h.End)
		if err != nil {
			c.logger.Warn(ctx, "[HOLIDAY_PARSE] Skipping span with unreadable end", logging.Fields{
				"state": state.Code,
				"value": h.End,
			})
			continue
		}

		spans = append(spans, Span{
			State: state.Name,
			Name:  h.Name,
			Start: models.NormalizeDate(start),
			End:   models.NormalizeDate(end),
		})
	}

	return spans, nil
}

// FetchAllStates fetches one year for every state concurrently. A failed
// state is logged and skipped so a single flaky request cannot wipe out
// the whole year; an error is returned only when every state failed.
func (c *Client) FetchAllStates(ctx context.Context, year int) ([]Span, error) {
	results := make([][]Span, len(States))

	g, gctx := errgroup.WithContext(ctx)
	for i, state := range States {
		g.Go(func() error {
			spans, err := c.FetchYear(gctx, state, year)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				c.metrics.RecordAPIError("holiday_state_failed", "holidays")
				c.logger.Warn(gctx, "[HOLIDAY_STATE_FAILED] Skipping state after fetch failure", logging.Fields{
					"state": state.Code,
					"year":  year,
					"error": err.Error(),
				})
				return nil
			}
			results[i] = spans
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	failed := 0
	var all []Span
	for _, spans := range results {
		if spans == nil {
			failed++
			continue
		}
		all = append(all, spans...)
	}
	if failed == len(States) {
		return nil, fmt.Errorf("all %d holiday states failed", len(States))
	}

	return all, nil
}

// ExpandDays turns holiday spans into per-day records. Both endpoints are
// inclusive, matching how the upstream publishes ranges.
func ExpandDays(spans []Span) []Day {
	var days []Day
	for _, span := range spans {
		for d := span.Start; !d.After(span.End); d = d.AddDate(0, 0, 1) {
			days = append(days, Day{
				Date:  d,
				State: span.State,
				Name:  span.Name,
			})
		}
	}
	return days
}

// parseSpanTime reads a ferien-api timestamp in any of its known shapes
func parseSpanTime(value string) (time.Time, error) {
	for _, layout := range spanLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}
