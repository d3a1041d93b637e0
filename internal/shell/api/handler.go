// Package api provides the HTTP API of the collector: scrape and refresh
// jobs, job status, and read access to collected agents and listings.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/artpar/realty-collector/internal/core/domain"
	"github.com/artpar/realty-collector/internal/core/export"
	"github.com/artpar/realty-collector/internal/shell/jobs"
	"github.com/artpar/realty-collector/internal/shell/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// =============================================================================
// Handler
// =============================================================================

// JobRunner starts scrape and refresh jobs and waits for their outcome.
type JobRunner interface {
	Submit(ctx context.Context, req domain.ScrapeRequest) (domain.JobStatus, error)
	Refresh(ctx context.Context, city, state string) (domain.JobStatus, error)
}

// Handler provides HTTP handlers for the API.
type Handler struct {
	store    store.Store
	jobs     JobRunner
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// NewHandler creates a new API handler. A nil gatherer serves the default
// Prometheus registry.
func NewHandler(s store.Store, jobs JobRunner, gatherer prometheus.Gatherer, l *slog.Logger) *Handler {
	if l == nil {
		l = slog.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handler{
		store:    s,
		jobs:     jobs,
		gatherer: gatherer,
		logger:   l.With("component", "api"),
	}
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc:  func(*http.Request, string) bool { return true },
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "HEAD"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))
	r.Use(h.requestIDHeader)

	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(h.jsonContentType)

		r.Get("/", h.handleRoot)
		r.Get("/health", h.handleHealth)
		r.Get("/ready", h.handleReady)

		// Jobs
		r.Get("/scrape/{city}/{state}", h.handleScrape)
		r.Post("/scrape", h.handleScrapeRequest)
		r.Post("/refresh/{city}/{state}", h.handleRefresh)
		r.Get("/status/{city}/{state}", h.handleStatus)

		// Queries
		r.Get("/agent/{agent_id}", h.handleGetAgent)
		r.Get("/agent/{agent_id}/cities", h.handleAgentCities)
		r.Get("/agent/{agent_id}/listings", h.handleAgentListings)
		r.Get("/listing/{zpid}", h.handleGetListing)
	})

	r.Get("/export/{city}/{state}", h.handleExport)

	return r
}

// =============================================================================
// Middleware
// =============================================================================

// jsonContentType sets Content-Type header to application/json.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, MessageResponse{Message: "Collector server alive and well."})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		checks["database"] = "failed"
		h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
			Status: "not_ready",
			Checks: checks,
		})
		return
	}
	checks["database"] = "ok"

	h.writeJSON(w, http.StatusOK, ReadyResponse{
		Status: "ready",
		Checks: checks,
	})
}

// =============================================================================
// Job Handlers
// =============================================================================

func (h *Handler) handleScrape(w http.ResponseWriter, r *http.Request) {
	req, err := scrapeRequestFromQuery(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.scrape(w, r, req)
}

func (h *Handler) handleScrapeRequest(w http.ResponseWriter, r *http.Request) {
	var req domain.ScrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	h.scrape(w, r, req)
}

// scrape starts a job when the city's status admits one and waits for it.
func (h *Handler) scrape(w http.ResponseWriter, r *http.Request, req domain.ScrapeRequest) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	city, state := req.City, req.State
	logger := h.logger.With("city", city, "state", state)

	if !req.Rescrape {
		current, err := h.store.CheckStatus(r.Context(), city, state)
		if err != nil {
			logger.Error("failed to check job status", "error", err)
			h.writeError(w, http.StatusInternalServerError, domain.JobInternalError.Message(city, state))
			return
		}

		switch domain.Admit(current, false) {
		case domain.RejectAlreadyCompleted:
			h.writeJSON(w, http.StatusUnprocessableEntity, MessageResponse{
				Message: fmt.Sprintf("Data is Already Available For %s, %s. Set 'rescrape' Flag To True To Update Data.", city, state),
			})
			return
		case domain.RejectInProgress:
			h.writeJSON(w, http.StatusConflict, MessageResponse{Message: current.Message(city, state)})
			return
		case domain.RejectUnknownState:
			h.writeError(w, http.StatusInternalServerError, current.Message(city, state))
			return
		}
		logger.Info("initializing job", "previous_status", current)
	} else {
		logger.Info("initializing rescrape job")
	}

	status, err := h.jobs.Submit(r.Context(), req)
	if h.callerLeft(w, err, status, city, state) || h.jobBusy(w, err, city, state) {
		return
	}
	if status == domain.JobCompleted {
		h.writeJSON(w, http.StatusOK, MessageResponse{Message: status.Message(city, state)})
		return
	}

	if err != nil {
		logger.Warn("job did not complete", "status", status, "error", err)
	}
	msg := status.Message(city, state)
	if req.Rescrape {
		msg = "Error in Re-scraping/insertion job. " + msg
	}
	h.writeError(w, http.StatusInternalServerError, msg)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	city, state := domain.NormalizeLocation(chi.URLParam(r, "city"), chi.URLParam(r, "state"))
	logger := h.logger.With("city", city, "state", state)

	current, err := h.store.CheckStatus(r.Context(), city, state)
	if err != nil {
		logger.Error("failed to check job status", "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.JobInternalError.Message(city, state))
		return
	}
	switch current {
	case domain.JobNotScraped:
		h.writeJSON(w, http.StatusNotFound, MessageResponse{Message: current.Message(city, state)})
		return
	case domain.JobPending:
		h.writeJSON(w, http.StatusConflict, MessageResponse{Message: current.Message(city, state)})
		return
	}

	status, err := h.jobs.Refresh(r.Context(), city, state)
	if h.callerLeft(w, err, status, city, state) || h.jobBusy(w, err, city, state) {
		return
	}
	if status == domain.JobCompleted {
		h.writeJSON(w, http.StatusOK, MessageResponse{Message: status.Message(city, state)})
		return
	}
	if err != nil {
		logger.Warn("refresh did not complete", "status", status, "error", err)
	}
	h.writeError(w, http.StatusInternalServerError, status.Message(city, state))
}

// callerLeft handles a job that outlived the request that started it.
func (h *Handler) callerLeft(w http.ResponseWriter, err error, status domain.JobStatus, city, state string) bool {
	if status != domain.JobPending || !isContextError(err) {
		return false
	}
	h.logger.Info("request ended before job finished", "city", city, "state", state)
	h.writeJSON(w, http.StatusAccepted, MessageResponse{Message: status.Message(city, state)})
	return true
}

// jobBusy answers a request turned away because the city has another kind
// of job running.
func (h *Handler) jobBusy(w http.ResponseWriter, err error, city, state string) bool {
	if !errors.Is(err, jobs.ErrBusy) {
		return false
	}
	h.writeJSON(w, http.StatusConflict, MessageResponse{Message: domain.JobPending.Message(city, state)})
	return true
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	city, state := domain.NormalizeLocation(chi.URLParam(r, "city"), chi.URLParam(r, "state"))

	status, err := h.store.CheckStatus(r.Context(), city, state)
	if err != nil {
		h.logger.Error("failed to check job status", "city", city, "state", state, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.JobInternalError.Message(city, state))
		return
	}

	switch status {
	case domain.JobCompleted:
		h.writeJSON(w, http.StatusOK, MessageResponse{Message: status.Message(city, state)})
	case domain.JobNotScraped:
		h.writeJSON(w, http.StatusNotFound, MessageResponse{Message: status.Message(city, state)})
	case domain.JobPending:
		h.writeJSON(w, http.StatusConflict, MessageResponse{Message: status.Message(city, state)})
	case domain.JobError:
		h.writeError(w, http.StatusUnprocessableEntity, status.Message(city, state))
	default:
		h.writeError(w, http.StatusInternalServerError, status.Message(city, state))
	}
}

// =============================================================================
// Query Handlers
// =============================================================================

func (h *Handler) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "agent_id")

	agent, err := h.store.GetAgent(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err, "Agent not found", "failed to get agent")
		return
	}
	if agent.Specialties == nil {
		agent.Specialties = []string{}
	}
	h.writeJSON(w, http.StatusOK, agent)
}

func (h *Handler) handleAgentCities(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "agent_id")

	cities, err := h.store.ListAgentCities(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err, "Agent not found", "failed to list agent cities")
		return
	}

	resp := make([][2]string, 0, len(cities))
	for _, c := range cities {
		resp = append(resp, [2]string{c.City, c.State})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleAgentListings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "agent_id")

	listings, err := h.store.ListAgentListings(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err, "Agent not found", "failed to list agent listings")
		return
	}
	if listings == nil {
		listings = []domain.ListingRecord{}
	}
	h.writeJSON(w, http.StatusOK, listings)
}

func (h *Handler) handleGetListing(w http.ResponseWriter, r *http.Request) {
	zpid, err := strconv.ParseInt(chi.URLParam(r, "zpid"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "zpid must be an integer")
		return
	}

	listing, err := h.store.GetListing(r.Context(), zpid)
	if err != nil {
		h.writeStoreError(w, err, "Listing not found", "failed to get listing")
		return
	}
	h.writeJSON(w, http.StatusOK, listing)
}

// exportPageSize is the page size used to read a city's agents for export.
const exportPageSize = 1000

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	city, state := domain.NormalizeLocation(chi.URLParam(r, "city"), chi.URLParam(r, "state"))

	var agents []domain.Agent
	opts := store.ListOptions{Limit: exportPageSize}
	for {
		page, err := h.store.ListAgentsByCity(r.Context(), city, state, opts)
		if err != nil {
			h.logger.Error("failed to list agents for export", "city", city, "state", state, "error", err)
			w.Header().Set("Content-Type", "application/json")
			h.writeError(w, http.StatusInternalServerError, "failed to export agents")
			return
		}
		agents = append(agents, page...)
		if len(page) < opts.Limit {
			break
		}
		opts.Offset += len(page)
	}

	var buf bytes.Buffer
	if err := export.WriteAgentsCSV(&buf, agents); err != nil {
		w.Header().Set("Content-Type", "application/json")
		if errors.Is(err, export.ErrNoAgents) {
			h.writeError(w, http.StatusNotFound, fmt.Sprintf("No agents collected for %s, %s", city, state))
			return
		}
		h.logger.Error("failed to render export", "city", city, "state", state, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to export agents")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("agents_%s_%s.csv", city, state)))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.Warn("failed to write export", "error", err)
	}
}

// =============================================================================
// Helpers
// =============================================================================

// scrapeRequestFromQuery reads the GET /scrape path and query parameters.
func scrapeRequestFromQuery(r *http.Request) (domain.ScrapeRequest, error) {
	q := r.URL.Query()
	req := domain.ScrapeRequest{
		City:  chi.URLParam(r, "city"),
		State: chi.URLParam(r, "state"),
	}

	var err error
	if req.MaxPages, err = intParam(q.Get("max_pages"), "max_pages"); err != nil {
		return req, err
	}
	if req.PageStart, err = intParam(q.Get("page_start"), "page_start"); err != nil {
		return req, err
	}
	if req.PageEnd, err = intParam(q.Get("page_end"), "page_end"); err != nil {
		return req, err
	}
	if req.Rescrape, err = boolParam(q.Get("rescrape"), "rescrape"); err != nil {
		return req, err
	}
	if req.UpdateExisting, err = boolParam(q.Get("update_existing"), "update_existing"); err != nil {
		return req, err
	}
	req.AgentTypes = q["agent_type"]
	return req, nil
}

func intParam(v, name string) (*int, error) {
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, fmt.Errorf("%s must be an integer", name)
	}
	return &n, nil
}

func boolParam(v, name string) (bool, error) {
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean", name)
	}
	return b, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, ErrorResponse{
		Message: "Error",
		Error:   message,
	})
}

// writeStoreError maps ErrNotFound to 404 and anything else to 500.
func (h *Handler) writeStoreError(w http.ResponseWriter, err error, notFound, failed string) {
	if isNotFound(err) {
		h.writeError(w, http.StatusNotFound, notFound)
		return
	}
	h.logger.Error(failed, "error", err)
	h.writeError(w, http.StatusInternalServerError, failed)
}

// isNotFound checks if an error is a not found error.
func isNotFound(err error) bool {
	var storeErr *store.StoreError
	if errors.As(err, &storeErr) {
		return errors.Is(storeErr.Unwrap(), store.ErrNotFound)
	}
	return false
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
