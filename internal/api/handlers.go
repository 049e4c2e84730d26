package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ubaguard/ubaguard/internal/coordinator"
	"github.com/ubaguard/ubaguard/internal/models"
)

// handleHealth reports liveness plus a storage ping.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	var dbErr string

	if s.store != nil {
		var db *sql.DB = s.store.DB()
		if db == nil {
			status, code, dbErr = "degraded", http.StatusServiceUnavailable, "storage not open"
		} else if err := db.PingContext(r.Context()); err != nil {
			status, code, dbErr = "degraded", http.StatusServiceUnavailable, err.Error()
		}
	}

	body := map[string]interface{}{"status": status}
	if dbErr != "" {
		body["storage_error"] = dbErr
	}
	respondJSON(w, code, body)
}

// ingestRequest accepts an envelope, a bare array, or a single event.
type ingestRequest struct {
	Events []*models.Event `json:"events"`
}

func decodeIngest(body []byte) ([]*models.Event, error) {
	var req ingestRequest
	if err := json.Unmarshal(body, &req); err == nil && len(req.Events) > 0 {
		return req.Events, nil
	}
	var list []*models.Event
	if err := json.Unmarshal(body, &list); err == nil && len(list) > 0 {
		return list, nil
	}
	var single models.Event
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, err
	}
	return []*models.Event{&single}, nil
}

// handleIngestEvents pushes externally submitted events into the pipeline.
// Accepted events are queued, not yet scored, so the response is 202.
func (s *Server) handleIngestEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	events, err := decodeIngest(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if len(events) == 0 {
		respondError(w, http.StatusBadRequest, "no events provided")
		return
	}

	accepted, dropped := 0, 0
	for _, ev := range events {
		if ev == nil || ev.UserID == "" {
			dropped++
			continue
		}
		if ev.Collector == "" {
			ev.Collector = "api"
		}
		if s.pipeline.AddEvent(ev) {
			accepted++
		} else {
			dropped++
		}
	}

	respondJSON(w, http.StatusAccepted, map[string]int{
		"accepted": accepted,
		"dropped":  dropped,
	})
}

// handleListAlerts returns alerts newest first, filtered by query params.
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.AlertFilter{
		UserID: q.Get("user_id"),
	}
	if v := q.Get("severity"); v != "" {
		filter.Severity = models.ParseSeverity(v)
		if filter.Severity == "" {
			respondError(w, http.StatusBadRequest, "invalid severity: "+v)
			return
		}
	}
	if v := q.Get("status"); v != "" {
		filter.Status = models.ParseStatus(v)
		if filter.Status == "" {
			respondError(w, http.StatusBadRequest, "invalid status: "+v)
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit: "+v)
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid offset: "+v)
			return
		}
		filter.Offset = n
	}

	alerts, err := s.alertMgr.GetAlerts(r.Context(), filter)
	if err != nil {
		s.log.WithError(err).Error("failed to list alerts")
		respondError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// handleGetAlert returns one alert by id.
func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	alert, err := s.alertMgr.GetAlert(r.Context(), id)
	if err != nil {
		s.log.WithError(err).WithField("alert_id", id).Error("failed to load alert")
		respondError(w, http.StatusInternalServerError, "failed to load alert")
		return
	}
	if alert == nil {
		respondError(w, http.StatusNotFound, "alert not found")
		return
	}
	respondJSON(w, http.StatusOK, alert)
}

// handleAlertNotifications returns the notification audit trail for an alert.
func (s *Server) handleAlertNotifications(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	records, err := s.alertMgr.Notifications(r.Context(), id)
	if err != nil {
		s.log.WithError(err).WithField("alert_id", id).Error("failed to load notifications")
		respondError(w, http.StatusInternalServerError, "failed to load notifications")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": records,
		"count":         len(records),
	})
}

// transitionRequest is the body for acknowledge and close.
type transitionRequest struct {
	By    string `json:"by"`
	Notes string `json:"notes"`
}

// handleAcknowledge moves an alert to acknowledged. A transition refused by
// the state machine is a conflict, not an error.
func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.alertMgr.Acknowledge)
}

// handleCloseAlert moves an alert to closed.
func (s *Server) handleCloseAlert(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.alertMgr.CloseAlert)
}

type transitionFunc func(ctx context.Context, id, by, notes string) (bool, error)

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request, apply transitionFunc) {
	id := chi.URLParam(r, "id")

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.By == "" {
		respondError(w, http.StatusBadRequest, "field 'by' is required")
		return
	}

	ok, err := apply(r.Context(), id, req.By, req.Notes)
	if err != nil {
		s.log.WithError(err).WithField("alert_id", id).Error("alert transition failed")
		respondError(w, http.StatusInternalServerError, "alert transition failed")
		return
	}
	if !ok {
		respondError(w, http.StatusConflict, "alert not found or already closed")
		return
	}

	alert, err := s.alertMgr.GetAlert(r.Context(), id)
	if err != nil || alert == nil {
		respondJSON(w, http.StatusOK, map[string]bool{"updated": true})
		return
	}
	respondJSON(w, http.StatusOK, alert)
}

// handleStatistics summarizes the alert store.
func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.alertMgr.Statistics(r.Context())
	if err != nil {
		s.log.WithError(err).Error("failed to compute statistics")
		respondError(w, http.StatusInternalServerError, "failed to compute statistics")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// handlePerformance returns pipeline and collector counters.
func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.coord.Performance())
}

// handleCollectors returns per-collector health.
func (s *Server) handleCollectors(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"collectors": s.coord.Status(),
	})
}

// handleForceCollection runs collectors on demand. An optional ?name=
// restricts the run to one collector.
func (s *Server) handleForceCollection(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	collected, err := s.coord.ForceCollection(r.Context(), name)
	if err != nil {
		if errors.Is(err, coordinator.ErrUnknownCollector) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		s.log.WithError(err).Warn("forced collection failed")
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"events_collected": collected,
	})
}
