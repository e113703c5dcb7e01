package soundcharts

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"chart-warehouse/internal/models"
	"chart-warehouse/pkg/httpclient"
	"chart-warehouse/pkg/logging"
	"chart-warehouse/pkg/metrics"
)

// API version prefixes. Rankings, available ranking dates and song
// metadata live on different versions of the customer API.
const (
	rankingAPIPath  = "/api/v2.14"
	datesAPIPath    = "/api/v2"
	metadataAPIPath = "/api/v2.25"
)

// pageSize is the fixed ranking page size of the upstream API
const pageSize = 100

// Config holds chart API access settings
type Config struct {
	BaseURL        string
	AppID          string
	APIKey         string
	ChartSlug      string
	TopN           int
	RequestBudget  int64
	MaxDatesOffset int
	PagePause      time.Duration
}

// RankingDate is one published chart date. Raw is the exact timestamp
// string the API expects back in ranking URLs; Day is the calendar day it
// falls on.
type RankingDate struct {
	Raw string
	Day time.Time
}

// ChartEntry is one chart placement on one date
type ChartEntry struct {
	Position   int
	Streams    *int64
	TrackID    string
	TrackName  string
	ArtistName string
	ImageURL   *string
}

// FetchStatus classifies the outcome of a song feature fetch
type FetchStatus int

const (
	// FetchOK means the song was found with a complete feature set
	FetchOK FetchStatus = iota
	// FetchNotFound means the song is unknown upstream or has no usable
	// audio analysis. The track keeps its NULL features and may be
	// re-attempted in a later run.
	FetchNotFound
	// FetchFailed means a transient failure; the track stays pending
	FetchFailed
)

// FeatureResult is the outcome of one song feature fetch
type FeatureResult struct {
	TrackID string
	Status  FetchStatus
	Track   *models.Track
	Err     error
}

type datesResponse struct {
	Items []string `json:"items"`
}

type rankingResponse struct {
	Items []rankingItem `json:"items"`
}

type rankingItem struct {
	Position int    `json:"position"`
	Metric   *int64 `json:"metric"`
	Song     struct {
		UUID       string  `json:"uuid"`
		Name       string  `json:"name"`
		CreditName string  `json:"creditName"`
		ImageURL   *string `json:"imageUrl"`
	} `json:"song"`
}

type songResponse struct {
	Object struct {
		Name         string      `json:"name"`
		CreditName   string      `json:"creditName"`
		ReleaseDate  *string     `json:"releaseDate"`
		Duration     *int64      `json:"duration"`
		Explicit     *bool       `json:"explicit"`
		LanguageCode *string     `json:"languageCode"`
		ImageURL     *string     `json:"imageUrl"`
		Genres       []songGenre `json:"genres"`
		Audio        struct {
			Acousticness     *float64 `json:"acousticness"`
			Danceability     *float64 `json:"danceability"`
			Energy           *float64 `json:"energy"`
			Instrumentalness *float64 `json:"instrumentalness"`
			Key              *int64   `json:"key"`
			Liveness         *float64 `json:"liveness"`
			Loudness         *float64 `json:"loudness"`
			Mode             *int64   `json:"mode"`
			Speechiness      *float64 `json:"speechiness"`
			Tempo            *float64 `json:"tempo"`
			TimeSignature    *int64   `json:"timeSignature"`
			Valence          *float64 `json:"valence"`
		} `json:"audio"`
	} `json:"object"`
}

// songGenre is one node of the genre tree; only root genres are kept
type songGenre struct {
	Root string `json:"root"`
}

// rankingDateLayouts are the timestamp shapes seen in available-rankings
var rankingDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Client talks to the Soundcharts customer API. All requests share one
// counting HTTP client, so the request budget meters the whole run.
type Client struct {
	cfg     Config
	http    *httpclient.Client
	pace    *rate.Limiter
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewClient creates a chart API client. featurePause is the minimum gap
// between song metadata requests.
func NewClient(cfg Config, httpClient *httpclient.Client, featurePause time.Duration, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Client {
	if cfg.TopN <= 0 {
		cfg.TopN = 200
	}
	if cfg.MaxDatesOffset <= 0 {
		cfg.MaxDatesOffset = 500
	}
	if cfg.PagePause <= 0 {
		cfg.PagePause = 300 * time.Millisecond
	}

	limit := rate.Inf
	if featurePause > 0 {
		limit = rate.Every(featurePause)
	}

	return &Client{
		cfg:     cfg,
		http:    httpClient,
		pace:    rate.NewLimiter(limit, 1),
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Requests returns the number of API requests made through this client
func (c *Client) Requests() int64 {
	return c.http.Requests()
}

func (c *Client) headers() map[string]string {
	return map[string]string{
		"x-app-id":  c.cfg.AppID,
		"x-api-key": c.cfg.APIKey,
	}
}

// AvailableDates pages through the published ranking dates for the
// configured chart, oldest page first, deduplicated in API order. Paging
// stops at the first empty page or 404.
func (c *Client) AvailableDates(ctx context.Context) ([]RankingDate, error) {
	base := fmt.Sprintf("%s%s/chart/song/%s/available-rankings", c.cfg.BaseURL, datesAPIPath, c.cfg.ChartSlug)

	var dates []RankingDate
	seen := make(map[string]struct{})

	for offset := 0; offset <= c.cfg.MaxDatesOffset; offset += pageSize {
		params := url.Values{}
		params.Set("offset", strconv.Itoa(offset))
		params.Set("limit", strconv.Itoa(pageSize))

		var resp datesResponse
		err := c.http.GetJSON(ctx, base+"?"+params.Encode(), c.headers(), &resp)
		if httpclient.IsNotFound(err) {
			break
		}
		if err != nil {
			if len(dates) == 0 {
				return nil, fmt.Errorf("available rankings fetch failed: %w", err)
			}
			c.logger.Warn(ctx, "[CHART_DATES_TRUNCATED] Stopping date pagination after failure", logging.Fields{
				"offset":    offset,
				"collected": len(dates),
				"error":     err.Error(),
			})
			break
		}

		if len(resp.Items) == 0 {
			break
		}

		for _, raw := range resp.Items {
			if _, dup := seen[raw]; dup {
				continue
			}
			seen[raw] = struct{}{}

			day, err := parseRankingDate(raw)
			if err != nil {
				c.logger.Warn(ctx, "[CHART_DATES_PARSE] Skipping unreadable ranking date", logging.Fields{
					"value": raw,
				})
				continue
			}
			dates = append(dates, RankingDate{Raw: raw, Day: day})
		}

		if offset+pageSize <= c.cfg.MaxDatesOffset {
			if err := waitContext(ctx, c.cfg.PagePause); err != nil {
				return nil, err
			}
		}
	}

	c.logger.Info(ctx, "[CHART_DATES] Published ranking dates collected", logging.Fields{
		"chart": c.cfg.ChartSlug,
		"dates": len(dates),
	})

	return dates, nil
}

// ChartForDate fetches the top N placements for one published chart date.
// Pages are requested concurrently and concatenated in page order, then
// truncated to the configured depth. A date without a published ranking
// returns an empty slice; any failing page fails the whole date so it
// stays a gap and is retried on the next run.
func (c *Client) ChartForDate(ctx context.Context, date RankingDate) ([]ChartEntry, error) {
	pages := (c.cfg.TopN + pageSize - 1) / pageSize
	results := make([][]ChartEntry, pages)

	g, gctx := errgroup.WithContext(ctx)
	for page := 0; page < pages; page++ {
		g.Go(func() error {
			entries, err := c.fetchChartPage(gctx, date, page*pageSize)
			if err != nil {
				return err
			}
			results[page] = entries
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("chart fetch for %s failed: %w", models.DateKey(date.Day), err)
	}

	var entries []ChartEntry
	for _, pageEntries := range results {
		entries = append(entries, pageEntries...)
	}

	if len(entries) > c.cfg.TopN {
		entries = entries[:c.cfg.TopN]
	}

	return entries, nil
}

// fetchChartPage fetches one ranking page. A 404 means the date has no
// published ranking and yields an empty page.
func (c *Client) fetchChartPage(ctx context.Context, date RankingDate, offset int) ([]ChartEntry, error) {
	params := url.Values{}
	params.Set("offset", strconv.Itoa(offset))
	params.Set("limit", strconv.Itoa(pageSize))

	requestURL := fmt.Sprintf("%s%s/chart/song/%s/ranking/%s?%s",
		c.cfg.BaseURL, rankingAPIPath, c.cfg.ChartSlug, url.PathEscape(date.Raw), params.Encode())

	var resp rankingResponse
	err := c.http.GetJSON(ctx, requestURL, c.headers(), &resp)
	if httpclient.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	entries := make([]ChartEntry, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Song.UUID == "" {
			continue
		}
		entries = append(entries, ChartEntry{
			Position:   item.Position,
			Streams:    item.Metric,
			TrackID:    item.Song.UUID,
			TrackName:  item.Song.Name,
			ArtistName: item.Song.CreditName,
			ImageURL:   item.Song.ImageURL,
		})
	}

	return entries, nil
}

// SongFeatures fetches metadata and audio features for one song. A track
// counts as found only when the full feature set is populated; anything
// less would leave a half-written feature state in the warehouse.
func (c *Client) SongFeatures(ctx context.Context, trackID string) FeatureResult {
	if err := c.pace.Wait(ctx); err != nil {
		return FeatureResult{TrackID: trackID, Status: FetchFailed, Err: err}
	}

	requestURL := fmt.Sprintf("%s%s/song/%s", c.cfg.BaseURL, metadataAPIPath, url.PathEscape(trackID))

	var resp songResponse
	err := c.http.GetJSON(ctx, requestURL, c.headers(), &resp)
	if httpclient.IsNotFound(err) {
		return FeatureResult{TrackID: trackID, Status: FetchNotFound}
	}
	if err != nil {
		return FeatureResult{TrackID: trackID, Status: FetchFailed, Err: err}
	}

	obj := resp.Object
	track := &models.Track{
		TrackID:          trackID,
		TrackName:        obj.Name,
		ArtistName:       obj.CreditName,
		Genre:            genreLabel(obj.Genres),
		ExplicitFlag:     obj.Explicit,
		ReleaseDate:      obj.ReleaseDate,
		DurationMS:       obj.Duration,
		LanguageCode:     obj.LanguageCode,
		ImageURL:         obj.ImageURL,
		Danceability:     obj.Audio.Danceability,
		Energy:           obj.Audio.Energy,
		Valence:          obj.Audio.Valence,
		Tempo:            obj.Audio.Tempo,
		Loudness:         obj.Audio.Loudness,
		Speechiness:      obj.Audio.Speechiness,
		Acousticness:     obj.Audio.Acousticness,
		Instrumentalness: obj.Audio.Instrumentalness,
		Liveness:         obj.Audio.Liveness,
		Key:              obj.Audio.Key,
		Mode:             obj.Audio.Mode,
		TimeSignature:    obj.Audio.TimeSignature,
	}

	if !track.HasCompleteFeatures() {
		return FeatureResult{TrackID: trackID, Status: FetchNotFound}
	}

	return FeatureResult{TrackID: trackID, Status: FetchOK, Track: track}
}

// FeaturesForTracks fetches features for the given tracks sequentially,
// paced by the feature limiter. Fetching stops once the shared request
// counter reaches the configured budget; the second return value is the
// number of tracks left unfetched because of that.
func (c *Client) FeaturesForTracks(ctx context.Context, trackIDs []string) ([]FeatureResult, int, error) {
	var results []FeatureResult

	for i, trackID := range trackIDs {
		if c.cfg.RequestBudget > 0 && c.http.Requests() >= c.cfg.RequestBudget {
			remaining := len(trackIDs) - i
			c.logger.Warn(ctx, "[FEATURES_BUDGET] Request budget reached, deferring remaining tracks", logging.Fields{
				"requests_used": c.http.Requests(),
				"budget":        c.cfg.RequestBudget,
				"deferred":      remaining,
			})
			return results, remaining, nil
		}

		if ctx.Err() != nil {
			return results, len(trackIDs) - i, ctx.Err()
		}

		results = append(results, c.SongFeatures(ctx, trackID))

		if (i+1)%50 == 0 || i+1 == len(trackIDs) {
			c.logger.Info(ctx, "[FEATURES_PROGRESS] Feature fetch progress", logging.Fields{
				"done":  i + 1,
				"total": len(trackIDs),
			})
		}
	}

	return results, 0, nil
}

// genreLabel flattens the genre tree into the single denormalized genre
// column, root names joined in API order
func genreLabel(genres []songGenre) *string {
	var roots []string
	for _, g := range genres {
		if g.Root != "" {
			roots = append(roots, g.Root)
		}
	}
	if len(roots) == 0 {
		return nil
	}
	label := strings.Join(roots, ", ")
	return &label
}

// parseRankingDate reads one available-rankings timestamp
func parseRankingDate(value string) (time.Time, error) {
	for _, layout := range rankingDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return models.NormalizeDate(t), nil
		}
	}
	// The leading ten characters are always the calendar day.
	if len(value) >= 10 {
		if t, err := time.Parse("2006-01-02", value[:10]); err == nil {
			return models.NormalizeDate(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized ranking date %q", value)
}

// waitContext pauses between paginated requests unless canceled
func waitContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
