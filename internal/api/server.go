// Package api exposes the detection engine over HTTP. Handlers stay thin:
// parse, call the store or engine, encode. The dashboard and CLI are the
// consumers; there is no server-rendered UI.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/shadowtrace/internal/bssid"
	"github.com/banshee-data/shadowtrace/internal/db"
	"github.com/banshee-data/shadowtrace/internal/detect"
	"github.com/banshee-data/shadowtrace/internal/enrich"
	"github.com/banshee-data/shadowtrace/internal/geo"
	"github.com/banshee-data/shadowtrace/internal/httputil"
	"github.com/banshee-data/shadowtrace/internal/importer"
	"github.com/banshee-data/shadowtrace/internal/learn"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	db      *db.DB
	scanner *detect.Scanner
	loop    *learn.Loop
	worker  *enrich.Worker
	batcher *importer.Batcher
}

func NewServer(database *db.DB, scanner *detect.Scanner, loop *learn.Loop, worker *enrich.Worker, batcher *importer.Batcher) *Server {
	return &Server{
		db:      database,
		scanner: scanner,
		loop:    loop,
		worker:  worker,
		batcher: batcher,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// Router builds the API route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/threats", s.listThreats).Methods(http.MethodGet)
	r.HandleFunc("/api/observations", s.ingestObservations).Methods(http.MethodPost)

	r.HandleFunc("/api/settings", s.listSettings).Methods(http.MethodGet)
	r.HandleFunc("/api/settings/{radio_type}", s.getSettings).Methods(http.MethodGet)
	r.HandleFunc("/api/settings/{radio_type}", s.updateSettings).Methods(http.MethodPut)

	r.HandleFunc("/api/anchors", s.listAnchors).Methods(http.MethodGet)
	r.HandleFunc("/api/anchors", s.setAnchor).Methods(http.MethodPost)

	r.HandleFunc("/api/feedback", s.submitFeedback).Methods(http.MethodPost)
	r.HandleFunc("/api/feedback/summary", s.feedbackSummary).Methods(http.MethodGet)
	r.HandleFunc("/api/learn", s.runLearn).Methods(http.MethodPost)

	r.HandleFunc("/api/enrich/tag", s.tagForEnrichment).Methods(http.MethodPost)
	r.HandleFunc("/api/enrich/run", s.runEnrichment).Methods(http.MethodPost)
	r.HandleFunc("/api/enrich/queue", s.listQueue).Methods(http.MethodGet)

	r.HandleFunc("/api/import", s.runImport).Methods(http.MethodPost)
	r.HandleFunc("/api/devices/{bssid}", s.showDevice).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return r
}

func parseFloatParam(r *http.Request, name string) (*float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %q parameter", name)
	}
	return &v, nil
}

func parseIntParam(r *http.Request, name string) (*int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %q parameter", name)
	}
	return &v, nil
}

func (s *Server) listThreats(w http.ResponseWriter, r *http.Request) {
	radioType := r.URL.Query().Get("radio_type")
	if radioType == "" {
		radioType = "wifi"
	}

	var ov detect.Overrides
	var err error
	if ov.MinDistanceKm, err = parseFloatParam(r, "min_distance_km"); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if ov.HomeRadiusM, err = parseFloatParam(r, "home_radius_m"); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if ov.MinHomeSightings, err = parseIntParam(r, "min_home_sightings"); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	limit, err := parseIntParam(r, "limit")
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if limit != nil {
		ov.Limit = *limit
	}

	result, err := s.scanner.ListIncidents(r.Context(), radioType, ov)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to evaluate threats: %v", err))
		return
	}
	if len(result.MissingConfig) > 0 {
		// Missing configuration is not "no threats": report it as a
		// client-fixable condition.
		httputil.WriteJSON(w, http.StatusPreconditionFailed, result)
		return
	}
	httputil.WriteJSONOK(w, result)
}

func (s *Server) ingestObservations(w http.ResponseWriter, r *http.Request) {
	var observations []db.Observation
	if err := json.NewDecoder(r.Body).Decode(&observations); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid observation batch: %v", err))
		return
	}
	for i := range observations {
		canonical, err := bssid.Canonicalize(observations[i].BSSID)
		if err != nil {
			httputil.BadRequest(w, fmt.Sprintf("observation %d: %v", i, err))
			return
		}
		observations[i].BSSID = canonical
		if observations[i].Source == "" {
			observations[i].Source = db.SourceCapture
		}
	}

	stats, err := s.db.InsertObservations(r.Context(), observations)
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("failed to ingest observations: %v", err))
		return
	}
	httputil.WriteJSONOK(w, stats)
}

func (s *Server) listSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.db.ListSettings(r.Context())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list settings: %v", err))
		return
	}
	httputil.WriteJSONOK(w, settings)
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	radioType := mux.Vars(r)["radio_type"]
	settings, err := s.db.GetSettings(r.Context(), radioType)
	if errors.Is(err, db.ErrNoSettings) {
		httputil.NotFound(w, fmt.Sprintf("no settings for radio type %q", radioType))
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load settings: %v", err))
		return
	}
	httputil.WriteJSONOK(w, settings)
}

func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	radioType := mux.Vars(r)["radio_type"]

	var settings db.DetectionSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid settings: %v", err))
		return
	}
	settings.RadioType = radioType

	if err := s.db.UpdateSettings(r.Context(), &settings); err != nil {
		if errors.Is(err, db.ErrNoSettings) {
			httputil.NotFound(w, fmt.Sprintf("no settings for radio type %q", radioType))
			return
		}
		httputil.BadRequest(w, fmt.Sprintf("failed to update settings: %v", err))
		return
	}
	httputil.WriteJSONOK(w, settings)
}

func (s *Server) listAnchors(w http.ResponseWriter, r *http.Request) {
	anchors, err := s.db.ListAnchors(r.Context())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list anchors: %v", err))
		return
	}
	httputil.WriteJSONOK(w, anchors)
}

func (s *Server) setAnchor(w http.ResponseWriter, r *http.Request) {
	var req db.HomeAnchor
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid anchor: %v", err))
		return
	}
	if !geo.ValidCoordinate(req.Lat, req.Lon) {
		httputil.BadRequest(w, fmt.Sprintf("anchor coordinates (%f, %f) out of range", req.Lat, req.Lon))
		return
	}
	anchor, err := s.db.SetPrimaryAnchor(r.Context(), req.Label, req.Lat, req.Lon, req.RadiusM)
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("failed to set anchor: %v", err))
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, anchor)
}

func (s *Server) submitFeedback(w http.ResponseWriter, r *http.Request) {
	var fb db.FeedbackEvent
	if err := json.NewDecoder(r.Body).Decode(&fb); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid feedback: %v", err))
		return
	}
	canonical, err := bssid.Canonicalize(fb.BSSID)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	fb.BSSID = canonical

	if err := s.db.InsertFeedback(r.Context(), &fb); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("failed to record feedback: %v", err))
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, fb)
}

func (s *Server) feedbackSummary(w http.ResponseWriter, r *http.Request) {
	days := 30
	if d, err := parseIntParam(r, "since_days"); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	} else if d != nil {
		if *d <= 0 {
			httputil.BadRequest(w, "since_days must be positive")
			return
		}
		days = *d
	}
	since := float64(time.Now().Add(-time.Duration(days) * 24 * time.Hour).Unix())

	counts, err := s.db.FeedbackCountsSince(r.Context(), since)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to summarise feedback: %v", err))
		return
	}
	if counts == nil {
		counts = []db.RatingCounts{}
	}
	httputil.WriteJSONOK(w, counts)
}

func (s *Server) runLearn(w http.ResponseWriter, r *http.Request) {
	report, err := s.loop.Run(r.Context())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("adjustment run failed: %v", err))
		return
	}
	httputil.WriteJSONOK(w, report)
}

type tagRequest struct {
	BSSIDs   []string `json:"bssids"`
	Priority int      `json:"priority"`
}

type tagResponse struct {
	Tagged   []string `json:"tagged"`
	Existing []string `json:"existing"`
}

func (s *Server) tagForEnrichment(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid tag request: %v", err))
		return
	}
	if len(req.BSSIDs) == 0 {
		httputil.BadRequest(w, "tag request names no devices")
		return
	}

	resp := tagResponse{Tagged: []string{}, Existing: []string{}}
	for _, raw := range req.BSSIDs {
		canonical, err := bssid.Canonicalize(raw)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		created, err := s.db.TagForEnrichment(r.Context(), canonical, req.Priority)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to tag %s: %v", canonical, err))
			return
		}
		if created {
			resp.Tagged = append(resp.Tagged, canonical)
		} else {
			resp.Existing = append(resp.Existing, canonical)
		}
	}
	httputil.WriteJSON(w, http.StatusCreated, resp)
}

func (s *Server) runEnrichment(w http.ResponseWriter, r *http.Request) {
	summary, err := s.worker.RunOnce(r.Context())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("enrichment run failed: %v", err))
		return
	}
	httputil.WriteJSONOK(w, summary)
}

func (s *Server) listQueue(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit := 100
	if l, err := parseIntParam(r, "limit"); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	} else if l != nil {
		limit = *l
	}

	items, err := s.db.ListQueue(r.Context(), status, limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list queue: %v", err))
		return
	}
	if items == nil {
		items = []db.QueueItem{}
	}
	httputil.WriteJSONOK(w, items)
}

type importRequest struct {
	Path   string `json:"path"`
	Format string `json:"format"`
}

func (s *Server) runImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid import request: %v", err))
		return
	}

	var (
		report *importer.Report
		err    error
	)
	switch req.Format {
	case "wigle", importer.FormatWigleBackup:
		report, err = s.batcher.ImportWigleBackup(r.Context(), req.Path)
	case "kismet", importer.FormatKismetLog:
		report, err = s.batcher.ImportKismetLog(r.Context(), req.Path)
	default:
		httputil.BadRequest(w, fmt.Sprintf("unknown import format %q", req.Format))
		return
	}
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("import failed: %v", err))
		return
	}
	httputil.WriteJSONOK(w, report)
}

type deviceResponse struct {
	Device          *db.Device       `json:"device"`
	RecentSightings []db.Observation `json:"recent_sightings"`
}

func (s *Server) showDevice(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["bssid"]
	canonical, err := bssid.Canonicalize(raw)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	device, err := s.db.GetDevice(r.Context(), canonical)
	if errors.Is(err, db.ErrDeviceNotFound) {
		httputil.NotFound(w, fmt.Sprintf("unknown device %s", canonical))
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load device: %v", err))
		return
	}

	sightings, err := s.db.RecentSightingsForDevice(r.Context(), canonical, 50)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load sightings: %v", err))
		return
	}
	if sightings == nil {
		sightings = []db.Observation{}
	}
	httputil.WriteJSONOK(w, deviceResponse{Device: device, RecentSightings: sightings})
}
