package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"chart-warehouse/internal/config"
	"chart-warehouse/internal/holidays"
	"chart-warehouse/internal/meteo"
	"chart-warehouse/internal/models"
	"chart-warehouse/internal/repository"
	"chart-warehouse/internal/services"
	"chart-warehouse/internal/soundcharts"
	"chart-warehouse/pkg/database"
	"chart-warehouse/pkg/httpclient"
	"chart-warehouse/pkg/logging"
	"chart-warehouse/pkg/metrics"
)

func main() {
	// Parse command-line flags
	startFlag := flag.String("start", "", "Window start date YYYY-MM-DD (default: SYNC_START_DATE)")
	endFlag := flag.String("end", "", "Window end date YYYY-MM-DD (default: today)")
	full := flag.Bool("full", false, "Rescan the whole window for gaps instead of extending from the latest covered date")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ValidateSync(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid sync configuration: %v\n", err)
		os.Exit(1)
	}

	startDate := cfg.Sync.StartDate
	if *startFlag != "" {
		startDate, err = time.Parse("2006-01-02", *startFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid -start date: %v\n", err)
			os.Exit(1)
		}
	}

	var endDate time.Time
	if *endFlag != "" {
		endDate, err = time.Parse("2006-01-02", *endFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid -end date: %v\n", err)
			os.Exit(1)
		}
	}

	// Initialize logger
	logger := logging.NewStructuredLogger("chart-warehouse-sync", "1.0.0", logging.ParseLevel(cfg.Logging.Level))

	runID := uuid.NewString()[:8]
	ctx := logging.WithRunID(context.Background(), runID)

	logger.Info(ctx, "[SYNC_RUN] Starting synchronization run", logging.Fields{
		"version": "1.0.0",
		"start":   models.DateKey(startDate),
		"full":    *full,
		"country": cfg.Soundcharts.Country,
	})

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector("chart_warehouse_sync")

	// Initialize database
	dbConfig := &database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}

	db, err := database.NewPostgresDB(dbConfig, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[SYNC_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	// Initialize repository
	warehouseRepo := repository.NewWarehouseRepository(db, logger, metricsCollector)

	// Initialize upstream clients, one counting HTTP client per source
	weatherClient := meteo.NewClient(
		cfg.Meteo.BaseURL,
		httpclient.New(httpclient.DefaultConfig("meteo"), logger, metricsCollector),
		cfg.Sync.LocationPause,
		logger,
		metricsCollector,
	)
	holidayClient := holidays.NewClient(
		cfg.Holidays.BaseURL,
		httpclient.New(httpclient.DefaultConfig("holidays"), logger, metricsCollector),
		logger,
		metricsCollector,
	)
	chartClient := soundcharts.NewClient(
		soundcharts.Config{
			BaseURL:       cfg.Soundcharts.BaseURL,
			AppID:         cfg.Soundcharts.AppID,
			APIKey:        cfg.Soundcharts.APIKey,
			ChartSlug:     cfg.Soundcharts.ChartSlug,
			TopN:          cfg.Soundcharts.TopN,
			RequestBudget: cfg.Soundcharts.RequestBudget,
		},
		httpclient.New(httpclient.DefaultConfig("soundcharts"), logger, metricsCollector),
		cfg.Sync.FeaturePause,
		logger,
		metricsCollector,
	)

	// Initialize orchestrator
	syncService := services.NewSyncService(
		warehouseRepo,
		weatherClient,
		chartClient,
		holidayClient,
		services.SyncOptions{
			StartDate:        startDate,
			EndDate:          endDate,
			Country:          cfg.Soundcharts.Country,
			Full:             *full,
			WeatherBatchSize: cfg.Sync.WeatherBatchSize,
			TrackBatchSize:   cfg.Sync.TrackBatchSize,
			FactBatchSize:    cfg.Sync.FactBatchSize,
			HolidayBatchSize: cfg.Sync.HolidayBatchSize,
			FeatureFetchCap:  cfg.Sync.FeatureFetchCap,
			LinkCommitEvery:  cfg.Sync.LinkCommitEvery,
			ChartPause:       cfg.Sync.ChartPause,
			RangePause:       cfg.Sync.RangePause,
		},
		logger,
		metricsCollector,
	)

	report, err := syncService.Run(ctx)
	if err != nil {
		logger.Fatal(ctx, "[SYNC_ERROR] Synchronization run aborted", logging.Fields{}, err)
	}

	printReport(report, runID, chartClient.Requests())

	if report.Failed() {
		logger.Error(ctx, "[SYNC_FAILED_STAGES] Run finished with failed stages", logging.Fields{
			"stages": report.StageErrors,
		}, fmt.Errorf("%d stage(s) failed", len(report.StageErrors)))
		os.Exit(1)
	}

	logger.Info(ctx, "[SYNC_RUN_COMPLETE] Synchronization run completed successfully", logging.Fields{
		"duration_seconds": report.Duration.Seconds(),
		"facts_inserted":   report.FactsInserted,
		"chart_requests":   chartClient.Requests(),
	})
}

func printReport(report *services.RunReport, runID string, chartRequests int64) {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("SYNC COMPLETE (run %s)\n", runID)
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Window:             %s .. %s\n", models.DateKey(report.Window.Start), models.DateKey(report.Window.End))
	fmt.Printf("Duration:           %v\n", report.Duration.Round(time.Millisecond))
	fmt.Printf("Time Days Added:    %d\n", report.TimeDaysInserted)
	fmt.Printf("Weather Days:       %d inserted, %d skipped (%d ranges)\n", report.WeatherInserted, report.WeatherSkipped, report.WeatherRanges)
	fmt.Printf("Holiday Days:       %d inserted, %d skipped (%d years)\n", report.HolidayInserted, report.HolidaySkipped, report.HolidayYears)
	fmt.Printf("Chart Dates:        %d loaded, %d empty, %d unpublished, %d failed of %d missing\n",
		report.ChartDatesLoaded, report.ChartDatesEmpty, report.ChartDatesUnpublished, report.ChartDatesFailed, report.ChartDatesMissing)
	fmt.Printf("Chart Facts:        %d inserted, %d skipped\n", report.FactsInserted, report.FactsSkipped)
	fmt.Printf("Tracks Created:     %d\n", report.TracksCreated)
	fmt.Printf("Features:           %d updated, %d not found, %d failed, %d deferred\n",
		report.FeaturesUpdated, report.FeaturesNotFound, report.FeaturesFailed, report.FeaturesDeferred)
	fmt.Printf("Facts Linked:       %d weather, %d holiday (%d still unlinked)\n",
		report.WeatherLinked, report.HolidayLinked, report.FactsUnlinked)
	fmt.Printf("Chart API Requests: %d\n", chartRequests)

	if report.Coverage != nil {
		fmt.Println(strings.Repeat("-", 80))
		fmt.Printf("Coverage:           %d time days, %d weather days, %d holiday days\n",
			report.Coverage.TimeDays, report.Coverage.WeatherDays, report.Coverage.HolidayDays)
		fmt.Printf("                    %d tracks (%d with features), %d facts (%d weather-linked)\n",
			report.Coverage.Tracks, report.Coverage.TracksWithFeatures, report.Coverage.Facts, report.Coverage.FactsWithWeather)
	}

	if len(report.Warnings) > 0 {
		fmt.Printf("\nWarnings (%d):\n", len(report.Warnings))
		for _, w := range report.Warnings {
			fmt.Printf("  - %s\n", w)
		}
	}

	if len(report.StageErrors) > 0 {
		fmt.Printf("\nFailed Stages (%d):\n", len(report.StageErrors))
		for stage, msg := range report.StageErrors {
			fmt.Printf("  - %s: %s\n", stage, msg)
		}
	}
}
