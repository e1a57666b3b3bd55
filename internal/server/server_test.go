package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/constructsafe/constructsafe/pkg/cache"
	"github.com/constructsafe/constructsafe/pkg/catalog"
	"github.com/constructsafe/constructsafe/pkg/limiter"
	"github.com/constructsafe/constructsafe/pkg/matcher"
	"github.com/constructsafe/constructsafe/pkg/reports"
	"github.com/constructsafe/constructsafe/pkg/vision"
)

// stubAnalyzer returns a fixed result and records the last request.
type stubAnalyzer struct {
	result vision.Result
	calls  int
	last   vision.Request
}

func (a *stubAnalyzer) Analyze(_ context.Context, req vision.Request) vision.Result {
	a.calls++
	a.last = req
	return a.result
}

type serverOpts struct {
	limits   limiter.Config
	analyzer vision.Analyzer
	archive  *reports.Store
	ttl      time.Duration
}

func newTestServer(t *testing.T, opts serverOpts) *Server {
	t.Helper()
	cat, err := catalog.Default()
	if err != nil {
		t.Fatal(err)
	}
	if opts.limits == (limiter.Config{}) {
		opts.limits = limiter.Config{PerMinute: 100, PerDay: 1000}
	}
	if opts.ttl == 0 {
		opts.ttl = time.Minute
	}
	return New(
		Config{Version: "test", CacheTTL: opts.ttl},
		cat,
		matcher.New(cat),
		limiter.New(opts.limits),
		cache.NewMemory(),
		opts.analyzer,
		opts.archive,
	)
}

func pngUpload(t *testing.T) (body *bytes.Buffer, contentType string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			c := color.RGBA{A: 255}
			if (x/8+y/8)%2 == 0 {
				c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
			}
			img.Set(x, y, c)
		}
	}
	var imgBuf bytes.Buffer
	if err := png.Encode(&imgBuf, img); err != nil {
		t.Fatal(err)
	}
	return fileUpload(t, imgBuf.Bytes())
}

func fileUpload(t *testing.T, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	fw, err := mw.CreateFormFile("file", "site.png")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return body, mw.FormDataContentType()
}

func doRequest(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, serverOpts{})
	rec := doRequest(s, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got map[string]string
	decodeBody(t, rec, &got)
	if got["status"] != "ok" || got["version"] != "test" {
		t.Fatalf("body = %v", got)
	}
}

func TestListViolations(t *testing.T) {
	s := newTestServer(t, serverOpts{})
	rec := doRequest(s, httptest.NewRequest("GET", "/api/v1/laws/violations", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got struct {
		Violations []catalog.ViolationSummary `json:"violations"`
	}
	decodeBody(t, rec, &got)
	if len(got.Violations) < 10 {
		t.Fatalf("only %d violations listed", len(got.Violations))
	}
}

func TestGetViolation(t *testing.T) {
	s := newTestServer(t, serverOpts{})

	rec := doRequest(s, httptest.NewRequest("GET", "/api/v1/laws/violations/EXCAVATION_NO_BARRICADE", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var bundle matcher.Bundle
	decodeBody(t, rec, &bundle)
	if bundle.Violation.ID != "EXCAVATION_NO_BARRICADE" {
		t.Fatalf("bundle = %+v", bundle.Violation)
	}
	if len(bundle.Penalties) != 1 || bundle.Penalties[0].ID != "PP-07" {
		t.Fatalf("penalties = %+v", bundle.Penalties)
	}

	rec = doRequest(s, httptest.NewRequest("GET", "/api/v1/laws/violations/NOPE", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing id status = %d", rec.Code)
	}
	var errBody map[string]string
	decodeBody(t, rec, &errBody)
	if errBody["error"] != "not_found" {
		t.Fatalf("error body = %v", errBody)
	}
}

func TestGetAuthority(t *testing.T) {
	s := newTestServer(t, serverOpts{})

	rec := doRequest(s, httptest.NewRequest("GET", "/api/v1/laws/authorities/AUTH-DIFE", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var a catalog.Authority
	decodeBody(t, rec, &a)
	if a.ID != "AUTH-DIFE" || a.Name == "" {
		t.Fatalf("authority = %+v", a)
	}

	rec = doRequest(s, httptest.NewRequest("GET", "/api/v1/laws/authorities/AUTH-NOPE", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing id status = %d", rec.Code)
	}
}

func TestMatchText(t *testing.T) {
	s := newTestServer(t, serverOpts{})

	rec := doRequest(s, httptest.NewRequest("GET", "/api/v1/laws/match-text?text=bamboo+scaffold+guardrail&top_k=5", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got struct {
		Query   string                `json:"query"`
		TopK    int                   `json:"top_k"`
		Matches []matcher.ClauseMatch `json:"matches"`
	}
	decodeBody(t, rec, &got)
	if got.TopK != 5 || len(got.Matches) == 0 {
		t.Fatalf("body = %+v", got)
	}

	// Zero-match queries still return an empty array, not null.
	rec = doRequest(s, httptest.NewRequest("GET", "/api/v1/laws/match-text?text=zzzz", nil))
	if !bytes.Contains(rec.Body.Bytes(), []byte(`"matches":[]`)) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestMatchTextTopKEchoIsClamped(t *testing.T) {
	s := newTestServer(t, serverOpts{})

	rec := doRequest(s, httptest.NewRequest("GET", "/api/v1/laws/match-text?text=scaffold&top_k=1000", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got struct {
		TopK int `json:"top_k"`
	}
	decodeBody(t, rec, &got)
	if got.TopK != matcher.MaxTopK {
		t.Fatalf("top_k echoed as %d, want %d", got.TopK, matcher.MaxTopK)
	}
}

func TestMatchTextInvalidTopK(t *testing.T) {
	s := newTestServer(t, serverOpts{})
	for _, raw := range []string{"0", "-1", "abc"} {
		rec := doRequest(s, httptest.NewRequest("GET", "/api/v1/laws/match-text?text=x&top_k="+raw, nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("top_k=%s status = %d", raw, rec.Code)
		}
	}
}

func TestAnalyzeSuccess(t *testing.T) {
	stub := &stubAnalyzer{result: vision.Result{
		Success: true,
		Violations: []vision.Detection{
			{ViolationID: "EXCAVATION_NO_BARRICADE", Severity: "high", ConfidenceScore: 0.9, Confidence: "high"},
			{ViolationID: "HOUSEKEEPING_POOR", Severity: "low", ConfidenceScore: 0.7, Confidence: "medium"},
		},
	}}
	s := newTestServer(t, serverOpts{analyzer: stub})

	body, ct := pngUpload(t)
	req := httptest.NewRequest("POST", "/api/v1/analyze", body)
	req.Header.Set("Content-Type", ct)

	rec := doRequest(s, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp AnalysisResponse
	decodeBody(t, rec, &resp)
	if !resp.Success || resp.ViolationsFound != 2 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Mode != "fast" {
		t.Fatalf("mode = %q", resp.Mode)
	}
	if resp.ImageID == "" || resp.Disclaimer == "" {
		t.Fatal("missing image id or disclaimer")
	}

	// Exact catalog ids are enriched with their laws and penalties.
	first := resp.Violations[0]
	if first.Violation.ViolationID != "EXCAVATION_NO_BARRICADE" {
		t.Fatalf("first violation = %+v", first.Violation)
	}
	if len(first.Laws) != 1 || len(first.Penalties) != 1 {
		t.Fatalf("enrichment missing: laws=%d penalties=%d", len(first.Laws), len(first.Penalties))
	}

	// Summary ranks the high severity detection first.
	if resp.Summary.Total != 2 || len(resp.Summary.Top) != 2 {
		t.Fatalf("summary = %+v", resp.Summary)
	}
	if resp.Summary.Top[0].ViolationID != "EXCAVATION_NO_BARRICADE" {
		t.Fatalf("top = %+v", resp.Summary.Top)
	}

	if stub.last.Mode != "fast" || len(stub.last.AllowedIDs) == 0 {
		t.Fatalf("analyzer request = %+v", stub.last)
	}
}

func TestAnalyzeCacheHit(t *testing.T) {
	stub := &stubAnalyzer{result: vision.Result{Success: true}}
	s := newTestServer(t, serverOpts{analyzer: stub})

	send := func() *httptest.ResponseRecorder {
		body, ct := pngUpload(t)
		req := httptest.NewRequest("POST", "/api/v1/analyze", body)
		req.Header.Set("Content-Type", ct)
		return doRequest(s, req)
	}

	first := send()
	if first.Code != http.StatusOK || first.Header().Get("X-Cache") != "" {
		t.Fatalf("first: code=%d cache=%q", first.Code, first.Header().Get("X-Cache"))
	}
	second := send()
	if second.Code != http.StatusOK || second.Header().Get("X-Cache") != "hit" {
		t.Fatalf("second: code=%d cache=%q", second.Code, second.Header().Get("X-Cache"))
	}
	if stub.calls != 1 {
		t.Fatalf("analyzer called %d times, want 1", stub.calls)
	}
	if !bytes.Equal(first.Body.Bytes(), second.Body.Bytes()) {
		t.Fatal("cached body differs from original")
	}
}

func TestAnalyzeRateLimited(t *testing.T) {
	stub := &stubAnalyzer{result: vision.Result{Success: true}}
	s := newTestServer(t, serverOpts{
		analyzer: stub,
		limits:   limiter.Config{PerMinute: 1, PerDay: 100},
	})

	body, ct := pngUpload(t)
	req := httptest.NewRequest("POST", "/api/v1/analyze", body)
	req.Header.Set("Content-Type", ct)
	if rec := doRequest(s, req); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}

	body, ct = pngUpload(t)
	req = httptest.NewRequest("POST", "/api/v1/analyze", body)
	req.Header.Set("Content-Type", ct)
	rec := doRequest(s, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d", rec.Code)
	}
	var got map[string]any
	decodeBody(t, rec, &got)
	if got["error"] != string(limiter.RulePerMinute) {
		t.Fatalf("body = %v", got)
	}
}

func TestAnalyzeValidation(t *testing.T) {
	s := newTestServer(t, serverOpts{analyzer: &stubAnalyzer{result: vision.Result{Success: true}}})

	tests := []struct {
		name  string
		query string
		body  func(t *testing.T) (*bytes.Buffer, string)
		code  int
	}{
		{"bad mode", "?mode=turbo", pngUpload, http.StatusBadRequest},
		{"bad include_laws", "?include_laws=maybe", pngUpload, http.StatusBadRequest},
		{"missing file", "", func(t *testing.T) (*bytes.Buffer, string) {
			return &bytes.Buffer{}, "multipart/form-data; boundary=x"
		}, http.StatusBadRequest},
		{"garbage image", "", func(t *testing.T) (*bytes.Buffer, string) {
			return fileUpload(t, []byte("not an image"))
		}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := tt.body(t)
			req := httptest.NewRequest("POST", "/api/v1/analyze"+tt.query, body)
			req.Header.Set("Content-Type", ct)
			if rec := doRequest(s, req); rec.Code != tt.code {
				t.Fatalf("status = %d, want %d; body = %s", rec.Code, tt.code, rec.Body.String())
			}
		})
	}
}

func TestAnalyzeVisionUnavailable(t *testing.T) {
	s := newTestServer(t, serverOpts{analyzer: nil})

	body, ct := pngUpload(t)
	req := httptest.NewRequest("POST", "/api/v1/analyze", body)
	req.Header.Set("Content-Type", ct)
	rec := doRequest(s, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAnalyzeVisionFailure(t *testing.T) {
	stub := &stubAnalyzer{result: vision.Result{Error: "model timeout"}}
	s := newTestServer(t, serverOpts{analyzer: stub})

	body, ct := pngUpload(t)
	req := httptest.NewRequest("POST", "/api/v1/analyze", body)
	req.Header.Set("Content-Type", ct)
	rec := doRequest(s, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("model timeout")) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestAnalyzeArchivesReport(t *testing.T) {
	store, err := reports.Open(filepath.Join(t.TempDir(), "reports.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	stub := &stubAnalyzer{result: vision.Result{
		Success:    true,
		Violations: []vision.Detection{{ViolationID: "PPE_HELMET_MISSING", Severity: "high", ConfidenceScore: 0.9}},
	}}
	s := newTestServer(t, serverOpts{analyzer: stub, archive: store})

	body, ct := pngUpload(t)
	req := httptest.NewRequest("POST", "/api/v1/analyze", body)
	req.Header.Set("Content-Type", ct)
	rec := doRequest(s, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp AnalysisResponse
	decodeBody(t, rec, &resp)

	// The archived report is retrievable through the reports API.
	rec = doRequest(s, httptest.NewRequest("GET", "/api/v1/reports/"+resp.ImageID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("report fetch status = %d", rec.Code)
	}
	var archived AnalysisResponse
	decodeBody(t, rec, &archived)
	if archived.ImageID != resp.ImageID || archived.ViolationsFound != 1 {
		t.Fatalf("archived = %+v", archived)
	}

	rec = doRequest(s, httptest.NewRequest("GET", "/api/v1/reports", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("report list status = %d", rec.Code)
	}
	var list struct {
		Reports []reports.Report `json:"reports"`
	}
	decodeBody(t, rec, &list)
	if len(list.Reports) != 1 || list.Reports[0].ID != resp.ImageID {
		t.Fatalf("list = %+v", list.Reports)
	}
}

func TestReportsDisabled(t *testing.T) {
	s := newTestServer(t, serverOpts{})
	for _, path := range []string{"/api/v1/reports", "/api/v1/reports/some-id"} {
		rec := doRequest(s, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s status = %d", path, rec.Code)
		}
	}
}

func TestReportNotFound(t *testing.T) {
	store, err := reports.Open(filepath.Join(t.TempDir(), "reports.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	s := newTestServer(t, serverOpts{archive: store})
	rec := doRequest(s, httptest.NewRequest("GET", "/api/v1/reports/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAnalyzeAccurateModeCost(t *testing.T) {
	stub := &stubAnalyzer{result: vision.Result{Success: true}}
	s := newTestServer(t, serverOpts{
		analyzer: stub,
		limits:   limiter.Config{PerMinute: 2, PerDay: 100},
	})

	// One accurate request consumes the whole per-minute budget of 2.
	body, ct := pngUpload(t)
	req := httptest.NewRequest("POST", "/api/v1/analyze?mode=accurate", body)
	req.Header.Set("Content-Type", ct)
	if rec := doRequest(s, req); rec.Code != http.StatusOK {
		t.Fatalf("accurate request status = %d", rec.Code)
	}

	body, ct = pngUpload(t)
	req = httptest.NewRequest("POST", "/api/v1/analyze", body)
	req.Header.Set("Content-Type", ct)
	if rec := doRequest(s, req); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("follow-up status = %d, want 429", rec.Code)
	}
}
