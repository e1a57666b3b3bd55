package vision

import (
	"encoding/json"
	"fmt"

	"github.com/constructsafe/constructsafe/pkg/imaging"
)

const systemPrompt = `You are a construction safety compliance analyst specializing in Bangladesh construction sites.

CRITICAL GUIDELINES:
1) Only report violations you can CLEARLY see with high certainty. Do not infer.
2) Evidence must be directly visible in the image.
3) Image quality affects certainty: blur, low light and low resolution must LOWER confidence.

SENSITIVE DETECTIONS (CHILD LABOR / UNDERAGE WORKER):
- Short stature alone is NOT evidence of a child.
- Many adult workers in Bangladesh are shorter in height.
- Only raise child labor or underage items if you can see CLEAR facial or physical indicators consistent with a minor.
- If age cannot be clearly determined, set confidence_score below 0.5 or omit the item.

Output MUST be valid JSON only (no markdown, no extra text).`

const userPromptTemplate = `Analyze this construction site image for safety violations.

IMAGE QUALITY CONTEXT (from preprocessing heuristics):
%s

ALLOWED VIOLATION TYPES (use EXACT IDs from the list; do not invent IDs):
%s

OUTPUT SCHEMA (JSON object):
{
  "violations": [
    {
      "violation_type": "EXACT_ID_FROM_LIST",
      "confidence_score": 0.0,
      "severity": "low|medium|high|critical",
      "description": "What you actually see in the image (short, factual)",
      "location": "Where in the image (e.g., 'left foreground', 'center', 'near excavation edge', 'unknown')",
      "affected_parties": ["workers", "public"],
      "evidence_clarity": "clear|partial|uncertain"
    }
  ]
}

RULES:
- Return at most %d violations.
- confidence_score must reflect ACTUAL visual certainty.
- Omit items you are not certain about.
- Never accuse a person; describe observations.`

func buildUserPrompt(allowedIDs []string, maxItems int, q imaging.Quality) string {
	idsJSON, _ := json.Marshal(allowedIDs)
	hint := fmt.Sprintf("label=%s score=%.2f brightness=%.2f contrast=%.2f edge_energy=%.3f",
		q.Label, q.Score, q.Brightness, q.Contrast, q.EdgeEnergy)
	return fmt.Sprintf(userPromptTemplate, hint, string(idsJSON), maxItems)
}
