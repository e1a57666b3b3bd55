package vision

const (
	ModeFast     = "fast"
	ModeAccurate = "accurate"

	// Acceptance thresholds rise as image quality falls; a perfect image uses
	// the base threshold, the worst image adds the full penalty.
	baseThresholdFast     = 0.50
	baseThresholdAccurate = 0.60
	qualityPenalty        = 0.20
	maxThreshold          = 0.85

	// Sensitive categories get a stricter bar; between the floor and that bar
	// the detection goes to human review instead of being dropped.
	sensitiveThreshold = 0.80
	sensitiveFloor     = 0.50

	confidenceHigh   = 0.75
	confidenceMedium = 0.50
)

type params struct {
	base      float64
	maxItems  int
	maxTokens int
}

func modeParams(mode string) params {
	if mode == ModeAccurate {
		return params{base: baseThresholdAccurate, maxItems: 15, maxTokens: 2048}
	}
	return params{base: baseThresholdFast, maxItems: 8, maxTokens: 1024}
}

// Cost returns the rate-limit cost of one analysis in the given mode.
func Cost(mode string) int {
	if mode == ModeAccurate {
		return 2
	}
	return 1
}

// filterDetections applies the hallucination guard, confidence bucketing and
// the quality-scaled acceptance thresholds.
func filterDetections(raw []Detection, req Request, p params) ([]Detection, []FlaggedDetection) {
	allowed := make(map[string]struct{}, len(req.AllowedIDs))
	for _, id := range req.AllowedIDs {
		allowed[id] = struct{}{}
	}

	threshold := p.base + (1-req.Quality.Score)*qualityPenalty
	if threshold > maxThreshold {
		threshold = maxThreshold
	}

	var confirmed []Detection
	var flagged []FlaggedDetection

	for _, d := range raw {
		// Vocabulary guard: the model must not invent identifiers.
		if _, ok := allowed[d.ViolationID]; !ok {
			continue
		}
		if d.ConfidenceScore < 0 {
			d.ConfidenceScore = 0
		}
		if d.ConfidenceScore > 1 {
			d.ConfidenceScore = 1
		}
		d.Confidence = bucketConfidence(d.ConfidenceScore)

		if _, sensitive := req.SensitiveIDs[d.ViolationID]; sensitive {
			strict := threshold
			if strict < sensitiveThreshold {
				strict = sensitiveThreshold
			}
			switch {
			case d.ConfidenceScore >= strict:
				confirmed = append(confirmed, d)
			case d.ConfidenceScore >= sensitiveFloor:
				flagged = append(flagged, FlaggedDetection{
					Detection:  d,
					FlagReason: "Sensitive category below acceptance threshold; requires human verification.",
				})
			}
			continue
		}

		// The item cap bounds confirmations only; sensitive detections above
		// were already routed and later ones must still reach review.
		if d.ConfidenceScore >= threshold && len(confirmed) < p.maxItems {
			confirmed = append(confirmed, d)
		}
	}

	return confirmed, flagged
}

func bucketConfidence(score float64) string {
	switch {
	case score >= confidenceHigh:
		return "high"
	case score >= confidenceMedium:
		return "medium"
	default:
		return "low"
	}
}
