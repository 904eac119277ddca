package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/dejaview/pinboard/internal/catalog"
	"github.com/dejaview/pinboard/internal/jobs"
	"github.com/dejaview/pinboard/internal/pipeline"
)

type assetLister interface {
	ListAssets(ctx context.Context, limit int) ([]*catalog.Asset, error)
}

type Server struct {
	runner   *pipeline.Runner
	registry *jobs.Registry
	assets   assetLister

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

// WithAssetCatalog exposes the asset index on the API. Without it the
// assets endpoint reports not-implemented.
func WithAssetCatalog(lister assetLister) Option {
	return func(s *Server) {
		s.assets = lister
	}
}

func NewServer(runner *pipeline.Runner, registry *jobs.Registry, opts ...Option) *Server {
	s := &Server{
		runner:   runner,
		registry: registry,
		mux:      http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/v1/analyze", s.handleAnalyze)
	s.mux.HandleFunc("/v1/analyze/", s.handleAnalyzeStatus)
	s.mux.HandleFunc("/v1/extract-item-image", s.handleExtractItemImage)
	s.mux.HandleFunc("/v1/extract-item-3d", s.handleExtractItem3D)
	s.mux.HandleFunc("/v1/extract-item-3d/", s.handleExtractItem3DStatus)
	s.mux.HandleFunc("/v1/jobs/stats", s.handleJobStats)
	s.mux.HandleFunc("/v1/assets", s.handleListAssets)
}
