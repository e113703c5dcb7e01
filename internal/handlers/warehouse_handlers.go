package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"chart-warehouse/internal/repository"
	"chart-warehouse/internal/services"
	"chart-warehouse/pkg/logging"
	"chart-warehouse/pkg/metrics"
)

// WarehouseHandler handles warehouse API endpoints
type WarehouseHandler struct {
	warehouseService *services.WarehouseService
	logger           *logging.StructuredLogger
	metrics          *metrics.Collector
}

// NewWarehouseHandler creates a new warehouse handler
func NewWarehouseHandler(
	warehouseService *services.WarehouseService,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *WarehouseHandler {
	return &WarehouseHandler{
		warehouseService: warehouseService,
		logger:           logger,
		metrics:          metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

// GetWeather handles GET /api/weather
func (h *WarehouseHandler) GetWeather(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/weather").Observe(duration.Seconds())
	}()

	// Parse query parameters
	startDateStr := r.URL.Query().Get("start_date")
	endDateStr := r.URL.Query().Get("end_date")
	page, limit := parsePagination(r)
	offset := (page - 1) * limit

	// Build filter
	filter := repository.WeatherFilter{
		Limit:  limit,
		Offset: offset,
	}

	if startDateStr != "" {
		startDate, err := time.Parse("2006-01-02", startDateStr)
		if err != nil {
			h.sendError(w, r, "invalid start_date format, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		filter.StartDate = &startDate
	}

	if endDateStr != "" {
		endDate, err := time.Parse("2006-01-02", endDateStr)
		if err != nil {
			h.sendError(w, r, "invalid end_date format, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		filter.EndDate = &endDate
	}

	// Get weather days
	days, total, err := h.warehouseService.GetWeatherDays(ctx, filter)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_WEATHER_ERROR] Failed to get weather days", logging.Fields{
			"filter": filter,
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/weather")
		h.sendError(w, r, "failed to retrieve weather days", http.StatusInternalServerError)
		return
	}

	totalPages := (total + limit - 1) / limit

	response := PaginatedResponse{
		Data:       days,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
	}

	h.metrics.RecordAPIRequest("/api/weather", "GET", "200")
	h.sendJSON(w, response, http.StatusOK)
}

// GetCharts handles GET /api/charts
func (h *WarehouseHandler) GetCharts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/charts").Observe(duration.Seconds())
	}()

	// Parse query parameters
	startDateStr := r.URL.Query().Get("start_date")
	endDateStr := r.URL.Query().Get("end_date")
	countryStr := r.URL.Query().Get("country")
	page, limit := parsePagination(r)
	offset := (page - 1) * limit

	// Build filter
	filter := repository.ChartFilter{
		Limit:  limit,
		Offset: offset,
	}

	if startDateStr != "" {
		startDate, err := time.Parse("2006-01-02", startDateStr)
		if err != nil {
			h.sendError(w, r, "invalid start_date format, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		filter.StartDate = &startDate
	}

	if endDateStr != "" {
		endDate, err := time.Parse("2006-01-02", endDateStr)
		if err != nil {
			h.sendError(w, r, "invalid end_date format, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		filter.EndDate = &endDate
	}

	if countryStr != "" {
		country := strings.ToUpper(countryStr)
		if len(country) != 2 {
			h.sendError(w, r, "invalid country, expected a two-letter market code", http.StatusBadRequest)
			return
		}
		filter.Country = &country
	}

	// Get chart rows
	rows, total, err := h.warehouseService.GetChartRows(ctx, filter)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_CHARTS_ERROR] Failed to get chart rows", logging.Fields{
			"filter": filter,
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/charts")
		h.sendError(w, r, "failed to retrieve chart rows", http.StatusInternalServerError)
		return
	}

	totalPages := (total + limit - 1) / limit

	response := PaginatedResponse{
		Data:       rows,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
	}

	h.metrics.RecordAPIRequest("/api/charts", "GET", "200")
	h.sendJSON(w, response, http.StatusOK)
}

// GetCoverage handles GET /api/coverage
func (h *WarehouseHandler) GetCoverage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/coverage").Observe(duration.Seconds())
	}()

	coverage, err := h.warehouseService.GetCoverage(ctx)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_COVERAGE_ERROR] Failed to get coverage summary", logging.Fields{}, err)
		h.metrics.RecordAPIError("internal_error", "/api/coverage")
		h.sendError(w, r, "failed to retrieve coverage summary", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/coverage", "GET", "200")
	h.sendJSON(w, coverage, http.StatusOK)
}

// HealthCheck handles GET /health
func (h *WarehouseHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.warehouseService.HealthCheck(ctx); err != nil {
		h.logger.Error(ctx, "[HEALTH_CHECK_ERROR] Database unreachable", logging.Fields{}, err)
		h.sendJSON(w, map[string]string{
			"status":    "unhealthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}, http.StatusServiceUnavailable)
		return
	}

	status := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", logging.Fields{})
	h.sendJSON(w, status, http.StatusOK)
}

// parsePagination reads page and limit query parameters with defaults
func parsePagination(r *http.Request) (int, int) {
	page := 1
	limit := 100

	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			page = p
		}
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}

	return page, limit
}

// sendJSON sends a JSON response
func (h *WarehouseHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (h *WarehouseHandler) sendError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	h.metrics.RecordAPIRequest(r.URL.Path, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, response, statusCode)
}

// RegisterRoutes registers all warehouse API routes
func (h *WarehouseHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/weather", h.GetWeather).Methods("GET")
	router.HandleFunc("/api/charts", h.GetCharts).Methods("GET")
	router.HandleFunc("/api/coverage", h.GetCoverage).Methods("GET")
	router.HandleFunc("/api/docs", SwaggerUI).Methods("GET")
	router.HandleFunc("/api/docs/openapi.json", OpenAPISpec).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
}
