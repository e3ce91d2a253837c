package web

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/elys-network/rebalancer/internal/logger"
	"github.com/elys-network/rebalancer/internal/metrics"
	"github.com/elys-network/rebalancer/internal/rebalancer"
	"github.com/elys-network/rebalancer/internal/types"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer serves the read-mostly inspection API of the rebalancer.
type WebServer struct {
	router     *mux.Router
	port       string
	service    *rebalancer.Service
	events     *EventHub
	scoreCache *ristretto.Cache
	startedAt  time.Time
	httpServer *http.Server
}

// NewWebServer creates a new web server instance. events may be nil, in which case
// the websocket endpoint is not registered.
func NewWebServer(port string, service *rebalancer.Service, events *EventHub) (*WebServer, error) {
	if port == "" {
		port = "8080"
	}
	if service == nil {
		return nil, errors.New("web server requires a rebalancer service")
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000, // ~10x the expected number of distinct inputs
		MaxCost:     10_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create score cache: %w", err)
	}

	server := &WebServer{
		router:     mux.NewRouter(),
		port:       port,
		service:    service,
		events:     events,
		scoreCache: cache,
		startedAt:  time.Now(),
	}

	server.setupRoutes()
	return server, nil
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")
	ws.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/score", ws.handleScore).Methods("POST", "OPTIONS")
	api.HandleFunc("/portfolios", ws.handleListPortfolios).Methods("GET")

	api.HandleFunc("/portfolios/{manager}", ws.handleGetPortfolio).Methods("GET")
	api.HandleFunc("/portfolios/{manager}/strategies", ws.handleGetStrategies).Methods("GET")
	api.HandleFunc("/portfolios/{manager}/summary", ws.handleGetSummary).Methods("GET")
	api.HandleFunc("/portfolios/{manager}/plans", ws.handleGetPlans).Methods("GET")
	api.HandleFunc("/portfolios/{manager}/plan", ws.handlePreviewPlan).Methods("POST", "OPTIONS")
	api.HandleFunc("/portfolios/{manager}/risk-profile", ws.handleGetRiskProfile).Methods("GET")

	if ws.events != nil {
		api.Handle("/events", ws.events).Methods("GET")
	}

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Handler exposes the router, mainly for tests.
func (ws *WebServer) Handler() http.Handler {
	return ws.router
}

// Start starts the web server and blocks until it stops.
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	ws.httpServer = &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if err := ws.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, closes event subscribers and releases the score cache.
func (ws *WebServer) Shutdown(ctx context.Context) error {
	if ws.events != nil {
		ws.events.Close()
	}
	defer ws.scoreCache.Close()
	if ws.httpServer == nil {
		return nil
	}
	return ws.httpServer.Shutdown(ctx)
}

// managerFromRequest parses the {manager} path variable, writing a 400 on failure.
func (ws *WebServer) managerFromRequest(w http.ResponseWriter, r *http.Request) (types.ID, bool) {
	manager, err := types.ParseID(mux.Vars(r)["manager"])
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid manager identity")
		return types.ID{}, false
	}
	return manager, true
}

// limitFromRequest reads ?limit=, defaulting to 20 and capped at 100.
func limitFromRequest(r *http.Request) int {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}
	return limit
}

// statusForError maps domain errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, types.ErrPortfolioNotFound), errors.Is(err, types.ErrStrategyNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrUnauthorizedManager):
		return http.StatusForbidden
	case rebalancer.IsSkip(err):
		return http.StatusConflict
	case errors.Is(err, types.ErrInvalidRiskLimits):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests and records request metrics by route template.
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a response writer wrapper to capture status code
		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		duration := time.Since(start)
		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, path, strconv.Itoa(wrapper.statusCode)).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, path).Observe(duration.Seconds())

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", duration).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Hijack lets the websocket upgrader take over the connection through the wrapper.
func (w *responseWriterWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.statusCode = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}
