// Package vision wraps the external multimodal model call: it sends the image
// with a prompt constrained to the catalog's violation vocabulary, parses the
// model's JSON output and applies the confidence and quality heuristics that
// split detections into confirmed and flagged-for-review.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/constructsafe/constructsafe/internal/utils"
	"github.com/constructsafe/constructsafe/pkg/imaging"
)

// Config controls how the vision client behaves.
type Config struct {
	APIKey     string
	Model      string
	Endpoint   string
	Timeout    time.Duration
	HTTPClient httpClient
}

const (
	defaultModel    = "gemini-2.0-flash"
	defaultEndpoint = "https://generativelanguage.googleapis.com/v1beta/openai/chat/completions"
	defaultTimeout  = 60 * time.Second
)

type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Analyzer defines the behavior required to detect violations in an image.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) Result
}

// Request carries one analysis call.
type Request struct {
	ImageJPEG    []byte
	Mode         string // "fast" or "accurate"
	Quality      imaging.Quality
	AllowedIDs   []string
	SensitiveIDs map[string]struct{}
}

// Detection is one model-reported violation after vocabulary filtering.
type Detection struct {
	ViolationID     string   `json:"violation_type"`
	Description     string   `json:"description"`
	Severity        string   `json:"severity"`
	ConfidenceScore float64  `json:"confidence_score"`
	Confidence      string   `json:"confidence"`
	Location        string   `json:"location,omitempty"`
	AffectedParties []string `json:"affected_parties,omitempty"`
	EvidenceClarity string   `json:"evidence_clarity,omitempty"`
}

// FlaggedDetection is a sensitive detection below the acceptance threshold
// but above the review floor: held for mandatory human verification.
type FlaggedDetection struct {
	Detection  Detection `json:"violation"`
	FlagReason string    `json:"flag_reason"`
}

// Result is the structured outcome of an analysis. Upstream failure and
// unparseable output set Success=false with Error; they are never panics or
// returned errors.
type Result struct {
	Success    bool               `json:"success"`
	Error      string             `json:"error,omitempty"`
	Violations []Detection        `json:"violations"`
	Flagged    []FlaggedDetection `json:"flagged_for_review"`
}

// Client calls an OpenAI-compatible chat-completions endpoint with the image
// attached as a data URI part.
type Client struct {
	apiKey   string
	model    string
	endpoint string
	timeout  time.Duration
	client   httpClient
}

func New(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("vision analysis requires an API key (set vision.api_key in config or VISION_API_KEY)")
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := cfg.HTTPClient
	if client == nil {
		rc := retryablehttp.NewClient()
		rc.RetryMax = 2
		rc.Logger = nil
		rc.HTTPClient.Timeout = timeout
		client = rc.StandardClient()
	}

	return &Client{
		apiKey:   apiKey,
		model:    model,
		endpoint: endpoint,
		timeout:  timeout,
		client:   client,
	}, nil
}

// Analyze runs one detection call. The model call is bounded by the client
// timeout; any failure comes back as an unsuccessful Result.
func (c *Client) Analyze(ctx context.Context, req Request) Result {
	params := modeParams(req.Mode)

	content, err := c.queryModel(ctx, req, params)
	if err != nil {
		utils.Log.Debugf("[vision] model call failed: %v", err)
		return Result{Error: err.Error()}
	}

	raw, ok := extractDetections(content)
	if !ok {
		utils.Log.Debugf("[vision] unparseable model output: %.200s", content)
		return Result{Error: "model returned unparseable output"}
	}

	confirmed, flagged := filterDetections(raw, req, params)
	return Result{Success: true, Violations: confirmed, Flagged: flagged}
}

func (c *Client) queryModel(ctx context.Context, req Request, params params) (string, error) {
	userPrompt := buildUserPrompt(req.AllowedIDs, params.maxItems, req.Quality)
	imageURI := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(req.ImageJPEG)

	body := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Parts: []contentPart{
				{Type: "text", Text: userPrompt},
				{Type: "image_url", ImageURL: &imageURL{URL: imageURI}},
			}},
		},
		Temperature:    0.1,
		MaxTokens:      params.maxTokens,
		ResponseFormat: responseFormat{Type: "json_object"},
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error.Message != "" {
			return "", fmt.Errorf("vision analysis: %s", apiErr.Error.Message)
		}
		return "", fmt.Errorf("vision analysis failed with HTTP %d", resp.StatusCode)
	}

	var apiResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", err
	}
	if len(apiResp.Choices) == 0 || strings.TrimSpace(apiResp.Choices[0].Message.Content) == "" {
		return "", errors.New("model returned an empty response")
	}
	return strings.TrimSpace(apiResp.Choices[0].Message.Content), nil
}

// extractDetections tolerates markdown fences and surrounding prose around
// the JSON object the prompt demands.
func extractDetections(content string) ([]Detection, bool) {
	cleaned := stripFences(content)

	parsed := gjson.Parse(cleaned)
	if !parsed.IsObject() {
		// Fall back to the first {...} span in the text.
		start := strings.Index(cleaned, "{")
		end := strings.LastIndex(cleaned, "}")
		if start < 0 || end <= start {
			return nil, false
		}
		parsed = gjson.Parse(cleaned[start : end+1])
		if !parsed.IsObject() {
			return nil, false
		}
	}

	violations := parsed.Get("violations")
	if !violations.Exists() {
		return nil, false
	}

	var out []Detection
	for _, v := range violations.Array() {
		if !v.IsObject() {
			continue
		}
		d := Detection{
			ViolationID:     strings.TrimSpace(v.Get("violation_type").String()),
			Description:     v.Get("description").String(),
			Severity:        normalizeSeverity(v.Get("severity").String()),
			ConfidenceScore: v.Get("confidence_score").Float(),
			Location:        v.Get("location").String(),
			EvidenceClarity: v.Get("evidence_clarity").String(),
		}
		for _, p := range v.Get("affected_parties").Array() {
			if s := p.String(); s != "" {
				d.AffectedParties = append(d.AffectedParties, s)
			}
		}
		out = append(out, d)
	}
	return out, true
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func normalizeSeverity(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return "critical"
	case "high":
		return "high"
	case "low":
		return "low"
	default:
		return "medium"
	}
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	ResponseFormat responseFormat `json:"response_format"`
}

// chatMessage marshals Content for plain text messages and Parts for
// multimodal ones; the API accepts either shape for the content field.
type chatMessage struct {
	Role    string        `json:"role"`
	Content string        `json:"-"`
	Parts   []contentPart `json:"-"`
}

func (m chatMessage) MarshalJSON() ([]byte, error) {
	if len(m.Parts) > 0 {
		return json.Marshal(struct {
			Role    string        `json:"role"`
			Content []contentPart `json:"content"`
		}{m.Role, m.Parts})
	}
	return json.Marshal(struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{m.Role, m.Content})
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}
