package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"sendbot/internal/store"
	"sendbot/pkg/logx"
)

type targetView struct {
	Destination string  `json:"destination"`
	Status      string  `json:"status"`
	Error       *string `json:"error"`
	UpdatedAt   string  `json:"updated_at"`
}

type eventView struct {
	TS     string `json:"ts"`
	Event  string `json:"event"`
	Detail string `json:"detail"`
}

type jobView struct {
	ID         string       `json:"id"`
	Status     string       `json:"status"`
	Executor   *string      `json:"executor"`
	Paused     bool         `json:"paused"`
	Canceled   bool         `json:"canceled"`
	Error      *string      `json:"error"`
	CreatedAt  string       `json:"created_at"`
	UpdatedAt  string       `json:"updated_at"`
	TargetType string       `json:"target_type"`
	RawTarget  string       `json:"raw_target"`
	Timeline   []eventView  `json:"timeline"`
	Targets    []targetView `json:"targets"`
}

func optStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isoTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func snapshotView(snap *store.Snapshot) jobView {
	v := jobView{
		ID:         snap.Job.ID,
		Status:     string(snap.Job.Status),
		Executor:   optStr(snap.Job.Executor),
		Paused:     snap.Job.Paused,
		Canceled:   snap.Job.Canceled,
		Error:      optStr(snap.Job.Error),
		CreatedAt:  isoTime(snap.Job.CreatedAt),
		UpdatedAt:  isoTime(snap.Job.UpdatedAt),
		TargetType: string(snap.Job.TargetType),
		RawTarget:  snap.Job.RawTarget,
		Timeline:   make([]eventView, 0, len(snap.Timeline)),
		Targets:    make([]targetView, 0, len(snap.Targets)),
	}
	for _, e := range snap.Timeline {
		v.Timeline = append(v.Timeline, eventView{TS: isoTime(e.TS), Event: e.Kind, Detail: e.Detail})
	}
	for _, t := range snap.Targets {
		v.Targets = append(v.Targets, targetView{
			Destination: t.Destination,
			Status:      string(t.Status),
			Error:       optStr(t.Error),
			UpdatedAt:   isoTime(t.UpdatedAt),
		})
	}
	return v
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ready": s.reg.AnyReady()})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	counts, err := s.ctl.Counts(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}

	type executorView struct {
		ID    string `json:"id"`
		Ready bool   `json:"ready"`
	}
	executors := make([]executorView, 0)
	for _, e := range s.reg.Snapshot() {
		executors = append(executors, executorView{ID: e.ID, Ready: e.Ready})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ready":           s.reg.AnyReady(),
		"executors_total": s.reg.Count(),
		"executors_ready": s.reg.ReadyCount(),
		"queued_jobs":     counts.QueuedJobs,
		"running_jobs":    counts.RunningJobs,
		"pending_targets": counts.PendingTargets,
		"executors":       executors,
	})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	target := r.PathValue("target")
	message := r.PathValue("message")

	job, err := s.ctl.Create(r.Context(), target, message)
	if errors.Is(err, store.ErrGroupNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "group_not_found", "group": target})
		return
	}
	if err != nil {
		s.internalError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted":   1,
		"queued":     1,
		"running":    0,
		"request_id": job.ID,
		"status_url": "/status/" + job.ID,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.ctl.Get(r.Context(), r.PathValue("id"))
	s.respondSnapshot(w, snap, err)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	snap, err := s.ctl.Cancel(r.Context(), r.PathValue("id"))
	s.respondSnapshot(w, snap, err)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	snap, err := s.ctl.Pause(r.Context(), r.PathValue("id"))
	s.respondSnapshot(w, snap, err)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	snap, err := s.ctl.Resume(r.Context(), r.PathValue("id"))
	s.respondSnapshot(w, snap, err)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	snap, err := s.ctl.Retry(r.Context(), r.PathValue("id"))
	s.respondSnapshot(w, snap, err)
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	jobs, targets, err := s.ctl.Recover(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":            true,
		"updated_jobs":  jobs,
		"reset_targets": targets,
		"message":       "All paused/failed/canceled/queued jobs set to queued; non-sent targets reset to pending.",
	})
}

func (s *Server) handleAddContact(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Destination string `json:"destination"`
		Group       string `json:"group"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request"})
		return
	}
	if req.Name == "" || req.Destination == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name and destination are required"})
		return
	}

	id, err := s.ctl.AddContact(r.Context(), store.Contact{Name: req.Name, Destination: req.Destination, Group: req.Group})
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":          id,
		"name":        req.Name,
		"destination": req.Destination,
		"group":       req.Group,
	})
}

func (s *Server) handleListGroup(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.ctl.Contacts(r.Context(), r.PathValue("group"))
	if err != nil {
		s.internalError(w, err)
		return
	}

	type contactView struct {
		ID          int64  `json:"id"`
		Name        string `json:"name"`
		Destination string `json:"destination"`
		Group       string `json:"group"`
	}
	out := make([]contactView, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, contactView{ID: c.ID, Name: c.Name, Destination: c.Destination, Group: c.Group})
	}
	writeJSON(w, http.StatusOK, map[string]any{"group": r.PathValue("group"), "contacts": out})
}

func (s *Server) respondSnapshot(w http.ResponseWriter, snap *store.Snapshot, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
		return
	}
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotView(snap))
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("request failed", logx.Err(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
}
