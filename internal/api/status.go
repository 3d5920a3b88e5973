package api

import (
	"net/http"
	"time"
)

type statusResponse struct {
	Status        string `json:"status"`
	Uptime        string `json:"uptime"`
	PendingAlarms int    `json:"pending_alarms"`
	AlarmsEnabled bool   `json:"alarms_enabled"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	resp := statusResponse{Status: "ok"}
	if !started.IsZero() {
		resp.Uptime = time.Since(started).Round(time.Second).String()
	}
	if s.alarms != nil {
		snap := s.alarms.Snapshot()
		resp.PendingAlarms = len(snap.Pending)
		resp.AlarmsEnabled = snap.Enabled
	}
	writeJSON(w, http.StatusOK, resp)
}
