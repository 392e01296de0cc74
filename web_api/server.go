package web_api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"comfy_studio/app_config"
	"comfy_studio/generation_orchestrator"
	"comfy_studio/history_store"
	"comfy_studio/repositories/default_settings"
	"comfy_studio/repositories/job_records"

	"github.com/gin-gonic/gin"
)

const engineStatusTimeout = 2 * time.Second

type serverImpl struct {
	engine              *gin.Engine
	httpMu              sync.Mutex
	httpServer          *http.Server
	orchestrator        generation_orchestrator.Orchestrator
	historyStore        history_store.Store
	jobRecordRepo       job_records.Repository
	defaultSettingsRepo default_settings.Repository
	configPath          string

	cfgMu sync.RWMutex
	cfg   *app_config.Config

	// generating is held for the whole of a generation; a second request
	// is turned away instead of queued.
	generating sync.Mutex
}

type Config struct {
	AppConfig           *app_config.Config
	ConfigPath          string
	Orchestrator        generation_orchestrator.Orchestrator
	HistoryStore        history_store.Store
	JobRecordRepo       job_records.Repository
	DefaultSettingsRepo default_settings.Repository
	DevMode             bool
}

func New(cfg Config) (Server, error) {
	if cfg.AppConfig == nil {
		return nil, errors.New("missing app config")
	}

	if cfg.Orchestrator == nil {
		return nil, errors.New("missing generation orchestrator")
	}

	if cfg.HistoryStore == nil {
		return nil, errors.New("missing history store")
	}

	if cfg.DevMode {
		gin.SetMode(gin.DebugMode)
	} else if gin.Mode() == gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &serverImpl{
		engine:              gin.New(),
		orchestrator:        cfg.Orchestrator,
		historyStore:        cfg.HistoryStore,
		jobRecordRepo:       cfg.JobRecordRepo,
		defaultSettingsRepo: cfg.DefaultSettingsRepo,
		configPath:          cfg.ConfigPath,
		cfg:                 cfg.AppConfig,
	}

	server.engine.Use(gin.Recovery())

	if cfg.DevMode {
		server.engine.Use(gin.Logger())
	}

	server.registerRoutes()

	return server, nil
}

func (s *serverImpl) registerRoutes() {
	api := s.engine.Group("/api")

	api.POST("/generate", s.handleGenerate)

	history := api.Group("/history")
	history.GET("", s.handleListHistory)
	history.POST("/backup", s.handleBackupHistory)
	history.POST("/clear", s.handleClearHistory)
	history.GET("/:index", s.handleGetEntry)
	history.GET("/:index/restore", s.handleRestoreEntry)
	history.GET("/:index/image", s.handleEntryImage)
	history.GET("/:index/thumbnail", s.handleEntryThumbnail)
	history.POST("/:index/favorite", s.handleToggleFavorite)
	history.DELETE("/:index", s.handleDeleteEntry)

	api.GET("/jobs", s.handleListJobs)

	api.GET("/defaults/:profile", s.handleGetDefaults)
	api.PUT("/defaults/:profile", s.handlePutDefaults)

	api.GET("/config", s.handleGetConfig)
	api.PUT("/config", s.handlePutConfig)

	api.GET("/engine/status", s.handleEngineStatus)
}

func (s *serverImpl) Handler() http.Handler {
	return s.engine
}

// Start serves until Shutdown is called.
func (s *serverImpl) Start(addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.httpMu.Lock()
	s.httpServer = httpServer
	s.httpMu.Unlock()

	log.Printf("Listening on %s", addr)

	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

func (s *serverImpl) Shutdown(ctx context.Context) error {
	s.httpMu.Lock()
	httpServer := s.httpServer
	s.httpMu.Unlock()

	if httpServer == nil {
		return nil
	}

	return httpServer.Shutdown(ctx)
}

func (s *serverImpl) config() *app_config.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()

	return s.cfg
}
