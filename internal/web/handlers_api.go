package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"seqflow/internal/history"
	"seqflow/internal/sequence"
)

// StepView is the JSON view of a step.
type StepView struct {
	Type                     string    `json:"type"`
	Label                    string    `json:"label"`
	Script                   string    `json:"script"`
	UsedContextVariableNames []string  `json:"used_context_variable_names"`
	Timeout                  string    `json:"timeout"`
	IndentationLevel         int       `json:"indentation_level"`
	IsDisabled               bool      `json:"is_disabled"`
	TimeOfLastModification   time.Time `json:"time_of_last_modification"`
	TimeOfLastExecution      time.Time `json:"time_of_last_execution"`
}

// SequenceView is the JSON view of a sequence.
type SequenceView struct {
	Label string     `json:"label"`
	Steps []StepView `json:"steps"`
}

func sequenceView(seq *sequence.Sequence) SequenceView {
	view := SequenceView{Label: seq.Label(), Steps: make([]StepView, 0, seq.Size())}
	for _, st := range seq.Steps() {
		view.Steps = append(view.Steps, StepView{
			Type:                     st.Type().String(),
			Label:                    st.Label(),
			Script:                   st.Script(),
			UsedContextVariableNames: st.UsedContextVariableNames(),
			Timeout:                  st.Timeout().String(),
			IndentationLevel:         st.IndentationLevel(),
			IsDisabled:               st.IsDisabled(),
			TimeOfLastModification:   st.TimeOfLastModification(),
			TimeOfLastExecution:      st.TimeOfLastExecution(),
		})
	}
	return view
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) handleAPIListSequences(w http.ResponseWriter, r *http.Request) {
	labels, err := s.mgr.List()
	if err != nil {
		s.logger.Error("list sequences", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, labels)
}

func (s *Server) handleAPIGetSequence(w http.ResponseWriter, r *http.Request) {
	label := r.PathValue("label")
	seq, err := s.mgr.Load(label)
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "sequence not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, sequenceView(seq))
}

func (s *Server) handleAPIDeleteSequence(w http.ResponseWriter, r *http.Request) {
	label := r.PathValue("label")
	if err := s.mgr.Remove(label); err != nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "sequence not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type runSequenceRequest struct {
	Variables map[string]any `json:"variables"`
}

func (s *Server) handleAPIRunSequence(w http.ResponseWriter, r *http.Request) {
	label := r.PathValue("label")

	req := runSequenceRequest{}
	if r.ContentLength != 0 {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}

	id, err := s.runner.Start(label, req.Variables)
	if err != nil {
		s.logger.Error("start run", "sequence", label, "err", err)
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id})
}

func (s *Server) handleAPIActiveRuns(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.runner.Active())
}

func (s *Server) handleAPIListRuns(w http.ResponseWriter, r *http.Request) {
	if s.hist == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "history disabled"})
		return
	}
	runs, err := s.hist.ListRuns()
	if err != nil {
		s.logger.Error("list runs", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleAPIGetRun(w http.ResponseWriter, r *http.Request) {
	if s.hist == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "history disabled"})
		return
	}
	rec, err := s.hist.GetRun(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
			return
		}
		s.logger.Error("get run", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAPITerminateRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.runner.Terminate(id); err != nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "terminating"})
}
