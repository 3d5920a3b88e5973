package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"medicared/internal/medicine"
	"medicared/internal/reminders"
	"medicared/internal/storage"
	logx "medicared/pkg/logx"
)

const dateLayout = "2006-01-02"

type medicineRequest struct {
	Name      string   `json:"name"`
	Dosage    string   `json:"dosage"`
	Frequency string   `json:"frequency"`
	Times     []string `json:"times"`
	Type      string   `json:"medicine_type"`
	Notes     string   `json:"notes"`
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date"`
	Active    *bool    `json:"is_active"`
}

// toMedicine validates the request and builds the domain object. Times are
// added one by one so duplicates and capacity overflows surface as errors
// rather than being silently dropped.
func (req medicineRequest) toMedicine(userID int64) (medicine.Medicine, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return medicine.Medicine{}, errors.New("name is required")
	}
	freq, err := medicine.ParseFrequency(req.Frequency)
	if err != nil {
		return medicine.Medicine{}, err
	}

	m := medicine.Medicine{
		UserID:    userID,
		Name:      name,
		Dosage:    strings.TrimSpace(req.Dosage),
		Frequency: freq,
		Notes:     strings.TrimSpace(req.Notes),
		Active:    true,
	}
	if req.Active != nil {
		m.Active = *req.Active
	}

	m.Type = medicine.Other
	if t := strings.TrimSpace(req.Type); t != "" {
		m.Type = medicine.Type(strings.ToLower(t))
	}

	for _, raw := range req.Times {
		ct, err := medicine.ParseClockTime(raw)
		if err != nil {
			return medicine.Medicine{}, err
		}
		if _, err := m.AddTime(ct); err != nil {
			return medicine.Medicine{}, err
		}
	}

	if m.StartDate, err = parseDate(req.StartDate); err != nil {
		return medicine.Medicine{}, errors.New("start_date must be YYYY-MM-DD")
	}
	if m.EndDate, err = parseDate(req.EndDate); err != nil {
		return medicine.Medicine{}, errors.New("end_date must be YYYY-MM-DD")
	}
	if m.StartDate != nil && m.EndDate != nil && m.EndDate.Before(*m.StartDate) {
		return medicine.Medicine{}, errors.New("end_date is before start_date")
	}
	return m, nil
}

func parseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func validationStatus(err error) int {
	switch {
	case errors.Is(err, medicine.ErrDuplicateTime),
		errors.Is(err, medicine.ErrCapacityExceeded),
		errors.Is(err, medicine.ErrIndexOutOfRange):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) handleListMedicines(w http.ResponseWriter, r *http.Request, userID int64) {
	meds, err := s.store.Medicines(r.Context(), userID)
	if err != nil {
		s.log.Error("list medicines failed", logx.Int64("user_id", userID), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	if meds == nil {
		meds = []medicine.Medicine{}
	}
	writeJSON(w, http.StatusOK, meds)
}

func (s *Server) handleCreateMedicine(w http.ResponseWriter, r *http.Request, userID int64) {
	var req medicineRequest
	if !decodeBody(w, r, &req) {
		return
	}
	m, err := req.toMedicine(userID)
	if err != nil {
		writeError(w, validationStatus(err), err.Error())
		return
	}
	m, err = s.store.CreateMedicine(r.Context(), m)
	if err != nil {
		s.log.Error("create medicine failed", logx.Int64("user_id", userID), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}

	// Scheduling is best-effort: the medicine is saved even if some alarms
	// could not be registered. A medicine without times is a valid as-needed
	// entry, not a scheduling failure.
	if err := s.sched.Schedule(r.Context(), m); err != nil && !errors.Is(err, reminders.ErrNothingToSchedule) {
		s.log.Warn("scheduling incomplete", logx.Int64("medicine_id", m.ID), logx.Err(err))
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleGetMedicine(w http.ResponseWriter, r *http.Request, userID int64) {
	m, ok := s.ownedMedicine(w, r, userID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleUpdateMedicine(w http.ResponseWriter, r *http.Request, userID int64) {
	old, ok := s.ownedMedicine(w, r, userID)
	if !ok {
		return
	}
	var req medicineRequest
	if !decodeBody(w, r, &req) {
		return
	}
	m, err := req.toMedicine(userID)
	if err != nil {
		writeError(w, validationStatus(err), err.Error())
		return
	}
	m.ID = old.ID
	m.CreatedAt = old.CreatedAt

	if err := s.store.UpdateMedicine(r.Context(), m); err != nil {
		s.log.Error("update medicine failed", logx.Int64("medicine_id", m.ID), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}

	// The old time list may be longer than the new one; cancel against it so
	// no stale alarm survives the edit, then schedule fresh.
	s.sched.Cancel(r.Context(), old)
	if err := s.sched.Schedule(r.Context(), m); err != nil && !errors.Is(err, reminders.ErrNothingToSchedule) {
		s.log.Warn("rescheduling after update incomplete", logx.Int64("medicine_id", m.ID), logx.Err(err))
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDeleteMedicine(w http.ResponseWriter, r *http.Request, userID int64) {
	m, ok := s.ownedMedicine(w, r, userID)
	if !ok {
		return
	}
	if err := s.store.DeleteMedicine(r.Context(), m.ID, userID); err != nil {
		s.log.Error("delete medicine failed", logx.Int64("medicine_id", m.ID), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	s.sched.Cancel(r.Context(), m)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReschedule(w http.ResponseWriter, r *http.Request, userID int64) {
	if err := s.sched.RescheduleAll(r.Context(), userID); err != nil {
		s.log.Warn("reschedule incomplete", logx.Int64("user_id", userID), logx.Err(err))
		writeJSON(w, http.StatusOK, map[string]string{"status": "partial", "detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMedinfo(w http.ResponseWriter, r *http.Request, userID int64) {
	_ = userID
	if s.info == nil {
		writeError(w, http.StatusServiceUnavailable, "drug info lookup not configured")
		return
	}
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "name query parameter is required")
		return
	}
	info, err := s.info.Lookup(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// ownedMedicine loads the {id} path medicine and enforces ownership.
func (s *Server) ownedMedicine(w http.ResponseWriter, r *http.Request, userID int64) (medicine.Medicine, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid medicine id")
		return medicine.Medicine{}, false
	}
	m, err := s.store.MedicineByID(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && m.UserID != userID) {
		// Not distinguishing "missing" from "not yours".
		writeError(w, http.StatusNotFound, "medicine not found")
		return medicine.Medicine{}, false
	}
	if err != nil {
		s.log.Error("load medicine failed", logx.Int64("medicine_id", id), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "storage failure")
		return medicine.Medicine{}, false
	}
	return m, true
}
