package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/constructsafe/constructsafe/pkg/matcher"
	"github.com/constructsafe/constructsafe/pkg/reports"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.cfg.Version,
	})
}

func (s *Server) handleListViolations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"violations": s.cat.ViolationSummaries(),
	})
}

func (s *Server) handleViolation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	bundle, ok := s.matcher.Lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Violation type not found")
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

func (s *Server) handleAuthority(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	a, ok := s.cat.Authority(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Authority not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleMatchText(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	text := q.Get("text")
	topK := matcher.DefaultTopK
	if raw := q.Get("top_k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_request", "top_k must be a positive integer")
			return
		}
		topK = n
	}
	// Echo the effective value, not the raw request.
	if topK > matcher.MaxTopK {
		topK = matcher.MaxTopK
	}

	matches := s.matcher.MatchText(text, topK)
	if matches == nil {
		matches = []matcher.ClauseMatch{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   text,
		"top_k":   topK,
		"matches": matches,
	})
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		writeError(w, http.StatusNotFound, "not_found", "Report archive is disabled")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	list, err := s.reports.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if list == nil {
		list = []reports.Report{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": list})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		writeError(w, http.StatusNotFound, "not_found", "Report archive is disabled")
		return
	}
	rep, ok, err := s.reports.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Report not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rep.Payload)
}
