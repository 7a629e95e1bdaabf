package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/crewdeck/crewdeck/internal/crew"
	"github.com/crewdeck/crewdeck/internal/report"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Session credential (never persisted, never echoed back)
	mux.HandleFunc("POST /api/credential", s.setCredential)
	mux.HandleFunc("GET /api/credential", s.getCredential)

	// Crew runs
	mux.HandleFunc("POST /api/runs", s.createRun)
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.getRun)
	mux.HandleFunc("DELETE /api/runs/{id}", s.deleteRun)
	mux.HandleFunc("GET /api/runs/{id}/report", s.downloadReport)
	mux.HandleFunc("GET /api/reports/archive", s.downloadArchive)

	// System
	mux.HandleFunc("GET /api/status", s.getStatus)
}

func (s *Server) setCredential(w http.ResponseWriter, r *http.Request) {
	var body struct {
		APIKey string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.dispatcher.SetCredential(body.APIKey); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) getCredential(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]bool{"configured": s.dispatcher.HasCredential()})
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var req crew.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	run, err := s.dispatcher.StartRun(req)
	if err != nil {
		switch {
		case errors.Is(err, crew.ErrMissingCredential):
			jsonError(w, "enter your API key before running the crew", http.StatusUnprocessableEntity)
		case errors.Is(err, crew.ErrRunInFlight):
			jsonError(w, err.Error(), http.StatusConflict)
		case errors.Is(err, crew.ErrNoAgents), errors.Is(err, crew.ErrTooManyAgents):
			jsonError(w, err.Error(), http.StatusBadRequest)
		default:
			jsonError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	jsonResponse(w, run)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := s.store.GetRun(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, run)
}

func (s *Server) deleteRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := s.store.GetRun(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	if err := s.store.DeleteRun(id); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func (s *Server) downloadReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := s.store.GetRun(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	if run.Status != "completed" || run.Report == "" {
		jsonError(w, "run has no report", http.StatusConflict)
		return
	}

	ts := time.Now()
	if run.CompletedAt != nil {
		ts = *run.CompletedAt
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename(ts)))
	fmt.Fprint(w, run.Report)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	runs, _ := s.store.ListRuns()

	completed := 0
	for _, run := range runs {
		if run.Status == "completed" {
			completed++
		}
	}

	jsonResponse(w, map[string]any{
		"status":         "ok",
		"model":          s.provider.Model,
		"runs":           len(runs),
		"completed_runs": completed,
		"run_in_flight":  s.dispatcher.InFlight(),
		"credential_set": s.dispatcher.HasCredential(),
		"uptime":         formatUptime(time.Since(s.startedAt)),
		"timestamp":      time.Now().UTC(),
		"version":        s.version,
	})
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
