package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"repost/internal/blob"
	"repost/internal/events"
	"repost/internal/listing"
	"repost/internal/models"
	"repost/internal/ratelimit"
	"repost/internal/storage"
	"repost/internal/upload"
)

// Deps are the collaborators the HTTP surface is wired to.
type Deps struct {
	Repo    storage.Repository
	Blobs   blob.Store
	Events  events.Publisher
	Limiter ratelimit.Limiter // nil disables rate limiting
	Log     *slog.Logger
}

type Server struct {
	cfg     *models.Config
	router  *gin.Engine
	http    *http.Server
	repo    storage.Repository
	uploads *upload.Orchestrator
	listing *listing.Service
	events  events.Publisher
	log     *slog.Logger
}

func NewServer(cfg *models.Config, deps Deps) (*Server, error) {
	const op = "server.NewServer"

	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}

	r := gin.New()
	var proxies []string
	if len(cfg.TrustedProxies) > 0 {
		proxies = cfg.TrustedProxies
	}
	if err := r.SetTrustedProxies(proxies); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	r.MaxMultipartMemory = 32 << 20

	s := &Server{
		cfg:    cfg,
		router: r,
		repo:   deps.Repo,
		uploads: upload.NewOrchestrator(deps.Repo, deps.Blobs, deps.Events, upload.Options{
			Workers:      cfg.Upload.Workers,
			ItemTimeout:  cfg.Upload.ItemTimeout,
			MaxFileBytes: cfg.Upload.MaxFileBytes,
			MaxPixels:    cfg.Upload.MaxPixels,
		}, deps.Log),
		listing: listing.NewService(deps.Repo, cfg.Listing.PageSize, cfg.Listing.MaxPageSize),
		events:  deps.Events,
		log:     deps.Log,
	}

	r.Use(gin.Recovery(), requestID(), requestLog(deps.Log), cors(cfg.CORSOrigins))

	limited := r.Group("/")
	if deps.Limiter != nil {
		limited.Use(rateLimit(deps.Limiter))
	}

	r.GET("/", s.handleRoot)
	r.GET("/healthz", s.handleHealth)
	r.GET("/images", s.handleListImages)
	r.GET("/images/:id", s.handleGetImage)
	limited.POST("/upload", s.handleUpload)
	limited.POST("/like/:id", s.handleLike)
	limited.POST("/comment/:id", s.handleComment)

	s.http = &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.log.Info("server listening", "addr", s.cfg.ServerAddr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
