package handlers

import (
	"encoding/json"
	"net/http"
)

// OpenAPISpec returns the OpenAPI 3.0 specification for the Chart Warehouse API
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	spec := map[string]interface{}{
		"openapi": "3.0.0",
		"info": map[string]interface{}{
			"title":       "Chart Warehouse API",
			"description": "Analytical warehouse joining weekly music charts with daily weather and school holidays for Germany",
			"version":     "1.0.0",
			"contact": map[string]string{
				"name": "Chart Warehouse Team",
			},
		},
		"servers": []map[string]string{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"paths": map[string]interface{}{
			"/api/weather": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Get averaged weather days",
					"description": "Retrieve country-averaged daily weather with filtering and pagination",
					"parameters": []map[string]interface{}{
						{
							"name":        "start_date",
							"in":          "query",
							"description": "Filter by start date (YYYY-MM-DD)",
							"required":    false,
							"schema":      map[string]string{"type": "string", "format": "date"},
						},
						{
							"name":        "end_date",
							"in":          "query",
							"description": "Filter by end date (YYYY-MM-DD)",
							"required":    false,
							"schema":      map[string]string{"type": "string", "format": "date"},
						},
						{
							"name":        "page",
							"in":          "query",
							"description": "Page number (default: 1)",
							"required":    false,
							"schema":      map[string]interface{}{"type": "integer", "default": 1},
						},
						{
							"name":        "limit",
							"in":          "query",
							"description": "Records per page (default: 100)",
							"required":    false,
							"schema":      map[string]interface{}{"type": "integer", "default": 100},
						},
					},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "Successful response",
							"content": map[string]interface{}{
								"application/json": map[string]interface{}{
									"schema": map[string]interface{}{
										"type": "object",
										"properties": map[string]interface{}{
											"data": map[string]interface{}{
												"type": "array",
												"items": map[string]interface{}{
													"type": "object",
													"properties": map[string]interface{}{
														"date":             map[string]string{"type": "string", "format": "date-time"},
														"season":           map[string]string{"type": "string"},
														"temperature_avg":  map[string]interface{}{"type": "number", "nullable": true},
														"precipitation_mm": map[string]interface{}{"type": "number", "nullable": true},
														"wind_speed_kmh":   map[string]interface{}{"type": "number", "nullable": true},
														"sunshine_hours":   map[string]interface{}{"type": "number", "nullable": true},
													},
												},
											},
											"total":       map[string]string{"type": "integer"},
											"page":        map[string]string{"type": "integer"},
											"limit":       map[string]string{"type": "integer"},
											"total_pages": map[string]string{"type": "integer"},
										},
									},
								},
							},
						},
					},
				},
			},
			"/api/charts": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Get chart entries",
					"description": "Retrieve chart placements joined with track, calendar and weather attributes",
					"parameters": []map[string]interface{}{
						{
							"name":        "start_date",
							"in":          "query",
							"description": "Filter by start date (YYYY-MM-DD)",
							"required":    false,
							"schema":      map[string]string{"type": "string", "format": "date"},
						},
						{
							"name":        "end_date",
							"in":          "query",
							"description": "Filter by end date (YYYY-MM-DD)",
							"required":    false,
							"schema":      map[string]string{"type": "string", "format": "date"},
						},
						{
							"name":        "country",
							"in":          "query",
							"description": "Filter by two-letter market code",
							"required":    false,
							"schema":      map[string]string{"type": "string"},
						},
						{
							"name":        "page",
							"in":          "query",
							"description": "Page number (default: 1)",
							"required":    false,
							"schema":      map[string]interface{}{"type": "integer", "default": 1},
						},
						{
							"name":        "limit",
							"in":          "query",
							"description": "Records per page (default: 100)",
							"required":    false,
							"schema":      map[string]interface{}{"type": "integer", "default": 100},
						},
					},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "Successful response",
							"content": map[string]interface{}{
								"application/json": map[string]interface{}{
									"schema": map[string]interface{}{
										"type": "object",
										"properties": map[string]interface{}{
											"data": map[string]interface{}{
												"type": "array",
												"items": map[string]interface{}{
													"type": "object",
													"properties": map[string]interface{}{
														"date":            map[string]string{"type": "string", "format": "date-time"},
														"chart_position":  map[string]string{"type": "integer"},
														"track_name":      map[string]string{"type": "string"},
														"artist_name":     map[string]string{"type": "string"},
														"stream_count":    map[string]interface{}{"type": "integer", "nullable": true},
														"country":         map[string]string{"type": "string"},
														"season":          map[string]string{"type": "string"},
														"temperature_avg": map[string]interface{}{"type": "number", "nullable": true},
													},
												},
											},
											"total":       map[string]string{"type": "integer"},
											"page":        map[string]string{"type": "integer"},
											"limit":       map[string]string{"type": "integer"},
											"total_pages": map[string]string{"type": "integer"},
										},
									},
								},
							},
						},
					},
				},
			},
			"/api/coverage": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Get warehouse coverage",
					"description": "Retrieve completeness counters across all dimensions and facts",
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "Successful response",
							"content": map[string]interface{}{
								"application/json": map[string]interface{}{
									"schema": map[string]interface{}{
										"type": "object",
										"properties": map[string]interface{}{
											"time_days":            map[string]string{"type": "integer"},
											"weather_days":         map[string]string{"type": "integer"},
											"holiday_days":         map[string]string{"type": "integer"},
											"tracks":               map[string]string{"type": "integer"},
											"tracks_with_features": map[string]string{"type": "integer"},
											"facts":                map[string]string{"type": "integer"},
											"facts_with_weather":   map[string]string{"type": "integer"},
											"earliest_date":        map[string]interface{}{"type": "string", "format": "date-time", "nullable": true},
											"latest_date":          map[string]interface{}{"type": "string", "format": "date-time", "nullable": true},
										},
									},
								},
							},
						},
					},
				},
			},
			"/health": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Health check",
					"description": "Check if the API and its database are reachable",
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "API is healthy",
							"content": map[string]interface{}{
								"application/json": map[string]interface{}{
									"schema": map[string]interface{}{
										"type": "object",
										"properties": map[string]interface{}{
											"status": map[string]string{"type": "string"},
										},
									},
								},
							},
						},
						"503": map[string]interface{}{
							"description": "Database unreachable",
						},
					},
				},
			},
			"/metrics": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Prometheus metrics",
					"description": "Prometheus metrics endpoint for monitoring",
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "Prometheus metrics in text format",
							"content": map[string]interface{}{
								"text/plain": map[string]interface{}{
									"schema": map[string]string{"type": "string"},
								},
							},
						},
					},
				},
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(spec)
}
