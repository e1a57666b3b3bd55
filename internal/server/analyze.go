package server

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/constructsafe/constructsafe/internal/utils"
	"github.com/constructsafe/constructsafe/pkg/cache"
	"github.com/constructsafe/constructsafe/pkg/catalog"
	"github.com/constructsafe/constructsafe/pkg/imaging"
	"github.com/constructsafe/constructsafe/pkg/limiter"
	"github.com/constructsafe/constructsafe/pkg/matcher"
	"github.com/constructsafe/constructsafe/pkg/reports"
	"github.com/constructsafe/constructsafe/pkg/vision"
)

const disclaimer = "AI-assisted analysis. Verify with qualified safety professionals and official authorities."

// ViolationWithLaw pairs a confirmed detection with its legal context.
type ViolationWithLaw struct {
	Violation          vision.Detection         `json:"violation"`
	Laws               []catalog.LegalReference `json:"laws"`
	Penalties          []catalog.PenaltyProfile `json:"penalties"`
	RecommendedActions []string                 `json:"recommended_actions"`
}

// FlaggedItem is a detection held for mandatory human verification.
type FlaggedItem struct {
	Violation  vision.Detection         `json:"violation"`
	FlagReason string                   `json:"flag_reason"`
	Laws       []catalog.LegalReference `json:"laws"`
}

type TopViolation struct {
	ViolationID     string  `json:"violation_id"`
	Severity        string  `json:"severity"`
	ConfidenceScore float64 `json:"confidence_score"`
}

type Summary struct {
	Total            int            `json:"total"`
	BySeverity       map[string]int `json:"by_severity"`
	FlaggedForReview int            `json:"flagged_for_review_count"`
	Top              []TopViolation `json:"top"`
}

type AnalysisResponse struct {
	Success          bool               `json:"success"`
	ImageID          string             `json:"image_id"`
	Timestamp        string             `json:"timestamp"`
	Mode             string             `json:"mode"`
	ImageQuality     string             `json:"image_quality"`
	ViolationsFound  int                `json:"violations_found"`
	Violations       []ViolationWithLaw `json:"violations"`
	FlaggedForReview []FlaggedItem      `json:"flagged_for_review"`
	Summary          Summary            `json:"summary"`
	Disclaimer       string             `json:"disclaimer"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	mode := q.Get("mode")
	if mode == "" {
		mode = vision.ModeFast
	}
	if mode != vision.ModeFast && mode != vision.ModeAccurate {
		writeError(w, http.StatusBadRequest, "invalid_request", "mode must be 'fast' or 'accurate'")
		return
	}
	includeLaws := true
	if raw := q.Get("include_laws"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "include_laws must be a boolean")
			return
		}
		includeLaws = v
	}

	if res := s.limiter.Allow(utils.ClientIP(r), vision.Cost(mode)); !res.Allowed {
		msg := "Too many requests from this client. Try again shortly."
		if res.Rule == limiter.RuleDailyQuota {
			msg = "Daily quota exceeded for this client. Try again tomorrow."
		}
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":   string(res.Rule),
			"message": msg,
			"limit":   res.Limit,
		})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, int64(s.cfg.MaxUploadBytes)+1024)
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "multipart field 'file' is required")
		return
	}
	defer file.Close()

	imageBytes, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "could not read upload")
		return
	}

	key := cache.Key(imageBytes, mode, includeLaws)
	if cached, ok := s.cache.Get(r.Context(), key); ok {
		utils.Log.Debugf("cache hit for %s", key)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Cache", "hit")
		_, _ = w.Write(cached)
		return
	}

	processed, err := imaging.Process(imageBytes, s.cfg.MaxUploadBytes)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_image", err.Error())
		return
	}

	if s.vision == nil {
		writeError(w, http.StatusServiceUnavailable, "vision_unavailable", "Vision analysis is not configured")
		return
	}

	result := s.vision.Analyze(r.Context(), vision.Request{
		ImageJPEG:    processed.JPEG,
		Mode:         mode,
		Quality:      processed.Quality,
		AllowedIDs:   s.allowedIDs,
		SensitiveIDs: s.sensitive,
	})
	if !result.Success {
		writeError(w, http.StatusServiceUnavailable, "vision_unavailable", "Vision analysis unavailable: "+result.Error)
		return
	}

	resp := s.buildAnalysis(result, mode, processed.Quality.Label, includeLaws)

	body, err := json.Marshal(resp)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	s.cache.Set(r.Context(), key, body, s.cfg.CacheTTL)
	s.archive(r, resp, body)

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (s *Server) buildAnalysis(result vision.Result, mode, qualityLabel string, includeLaws bool) AnalysisResponse {
	violations := make([]ViolationWithLaw, 0, len(result.Violations))
	for _, d := range result.Violations {
		violations = append(violations, s.enrich(d, includeLaws))
	}

	flagged := make([]FlaggedItem, 0, len(result.Flagged))
	for _, f := range result.Flagged {
		item := FlaggedItem{
			Violation:  f.Detection,
			FlagReason: f.FlagReason,
			Laws:       []catalog.LegalReference{},
		}
		if includeLaws {
			if bundle, ok := s.matcher.Lookup(f.Detection.ViolationID); ok {
				item.Laws = emptyIfNil(bundle.Laws)
			}
		}
		flagged = append(flagged, item)
	}

	return AnalysisResponse{
		Success:          true,
		ImageID:          uuid.NewString(),
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		Mode:             mode,
		ImageQuality:     qualityLabel,
		ViolationsFound:  len(violations),
		Violations:       violations,
		FlaggedForReview: flagged,
		Summary:          summarize(violations, len(flagged)),
		Disclaimer:       disclaimer,
	}
}

// enrich attaches legal context: exact identifier lookup first, then a
// free-text clause search over the description as a fallback.
func (s *Server) enrich(d vision.Detection, includeLaws bool) ViolationWithLaw {
	out := ViolationWithLaw{
		Violation:          d,
		Laws:               []catalog.LegalReference{},
		Penalties:          []catalog.PenaltyProfile{},
		RecommendedActions: []string{},
	}
	if !includeLaws {
		return out
	}

	if bundle, ok := s.matcher.Lookup(d.ViolationID); ok {
		out.Laws = emptyIfNil(bundle.Laws)
		out.Penalties = emptyIfNil(bundle.Penalties)
		out.RecommendedActions = emptyIfNil(bundle.RecommendedActions)
		return out
	}

	query := d.Description
	if query == "" {
		query = d.ViolationID
	}
	for _, m := range s.matcher.MatchText(query, matcher.DefaultTopK) {
		out.Laws = append(out.Laws, clauseMatchToRef(m))
	}
	return out
}

func clauseMatchToRef(m matcher.ClauseMatch) catalog.LegalReference {
	citation := m.Citation
	if citation == "" {
		citation = m.Title
	}
	interpretation := m.Title
	if m.Section != "" {
		interpretation += " | Section: " + m.Section
	}
	return catalog.LegalReference{
		SourceID:       m.SourceID,
		Citation:       citation,
		Interpretation: interpretation,
		Confidence:     strconv.FormatFloat(m.Score, 'f', 4, 64),
	}
}

var severityRank = map[string]int{"critical": 3, "high": 2, "medium": 1, "low": 0}

func summarize(violations []ViolationWithLaw, flaggedCount int) Summary {
	sum := Summary{
		Total:            len(violations),
		BySeverity:       map[string]int{},
		FlaggedForReview: flaggedCount,
		Top:              []TopViolation{},
	}
	for _, v := range violations {
		sum.BySeverity[v.Violation.Severity]++
		sum.Top = append(sum.Top, TopViolation{
			ViolationID:     v.Violation.ViolationID,
			Severity:        v.Violation.Severity,
			ConfidenceScore: v.Violation.ConfidenceScore,
		})
	}
	sort.SliceStable(sum.Top, func(i, j int) bool {
		ri, rj := severityRank[sum.Top[i].Severity], severityRank[sum.Top[j].Severity]
		if ri != rj {
			return ri > rj
		}
		return sum.Top[i].ConfidenceScore > sum.Top[j].ConfidenceScore
	})
	if len(sum.Top) > 3 {
		sum.Top = sum.Top[:3]
	}
	return sum
}

func (s *Server) archive(r *http.Request, resp AnalysisResponse, body []byte) {
	if s.reports == nil {
		return
	}
	err := s.reports.Insert(r.Context(), reports.Report{
		ID:              resp.ImageID,
		CreatedAt:       time.Now().UTC(),
		Mode:            resp.Mode,
		ImageQuality:    resp.ImageQuality,
		ViolationsFound: resp.ViolationsFound,
		FlaggedCount:    len(resp.FlaggedForReview),
		Payload:         body,
	})
	if err != nil {
		utils.Log.Warnf("failed to archive report %s: %v", resp.ImageID, err)
	}
}

func emptyIfNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
