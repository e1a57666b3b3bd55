// Package server exposes the analysis service over HTTP: image analysis,
// catalog lookups, free-text law search and the report archive.
package server

import (
	"net/http"
	"time"

	"github.com/constructsafe/constructsafe/internal/utils"
	"github.com/constructsafe/constructsafe/pkg/cache"
	"github.com/constructsafe/constructsafe/pkg/catalog"
	"github.com/constructsafe/constructsafe/pkg/limiter"
	"github.com/constructsafe/constructsafe/pkg/matcher"
	"github.com/constructsafe/constructsafe/pkg/reports"
	"github.com/constructsafe/constructsafe/pkg/vision"
)

type Config struct {
	ListenAddr     string
	Version        string
	MaxUploadBytes int
	CacheTTL       time.Duration
}

type Server struct {
	cfg     Config
	cat     *catalog.Catalog
	matcher *matcher.Matcher
	limiter *limiter.Limiter
	cache   cache.Store
	vision  vision.Analyzer // nil when no API key is configured
	reports *reports.Store  // nil when the archive is disabled

	allowedIDs []string
	sensitive  map[string]struct{}
}

func New(cfg Config, cat *catalog.Catalog, m *matcher.Matcher, lim *limiter.Limiter, store cache.Store, analyzer vision.Analyzer, archive *reports.Store) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	return &Server{
		cfg:        cfg,
		cat:        cat,
		matcher:    m,
		limiter:    lim,
		cache:      store,
		vision:     analyzer,
		reports:    archive,
		allowedIDs: cat.ViolationIDs(),
		sensitive:  cat.SensitiveViolationIDs(),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/analyze", s.handleAnalyze)
	mux.HandleFunc("GET /api/v1/laws/violations", s.handleListViolations)
	mux.HandleFunc("GET /api/v1/laws/violations/{id}", s.handleViolation)
	mux.HandleFunc("GET /api/v1/laws/authorities/{id}", s.handleAuthority)
	mux.HandleFunc("GET /api/v1/laws/match-text", s.handleMatchText)
	mux.HandleFunc("GET /api/v1/reports", s.handleListReports)
	mux.HandleFunc("GET /api/v1/reports/{id}", s.handleReport)
	mux.HandleFunc("GET /health", s.handleHealth)

	return mux
}

func (s *Server) Start() error {
	utils.Log.Infof("Starting server on %s", s.cfg.ListenAddr)
	return http.ListenAndServe(s.cfg.ListenAddr, s.Handler())
}
