package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"comfy_studio/app_config"
	"comfy_studio/backup_scheduler"
	"comfy_studio/databases/sqlite"
	"comfy_studio/generation_orchestrator"
	"comfy_studio/history_store"
	"comfy_studio/repositories/default_settings"
	"comfy_studio/repositories/job_records"
	"comfy_studio/thumbnail_renderer"
	"comfy_studio/web_api"
)

// Studio parameters
var (
	configPath  = flag.String("config", app_config.DefaultConfigFile, "Path to the JSON config file")
	addrFlag    = flag.String("addr", "", "Listen address. Defaults to server_name:server_port from the config")
	devModeFlag = flag.Bool("dev", false, "Start in development mode, with request logging")
)

const shutdownTimeout = 10 * time.Second

func main() {
	flag.Parse()

	if configPath == nil || *configPath == "" {
		log.Fatalf("Config flag is required")
	}

	devMode := devModeFlag != nil && *devModeFlag
	if devMode {
		log.Printf("Starting in development mode..")
	}

	cfg, err := app_config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sqliteDB, err := sqlite.New(ctx, cfg.DatabaseFile)
	if err != nil {
		log.Fatalf("Failed to create sqlite database: %v", err)
	}
	defer sqliteDB.Close()

	jobRecordRepo, err := job_records.NewRepository(&job_records.Config{DB: sqliteDB})
	if err != nil {
		log.Fatalf("Failed to create job record repository: %v", err)
	}

	defaultSettingsRepo, err := default_settings.NewRepository(&default_settings.Config{DB: sqliteDB})
	if err != nil {
		log.Fatalf("Failed to create default settings repository: %v", err)
	}

	renderer, err := thumbnail_renderer.New(thumbnail_renderer.Config{})
	if err != nil {
		log.Fatalf("Failed to create thumbnail renderer: %v", err)
	}

	historyStore, err := history_store.New(history_store.Config{
		HistoryFile:     cfg.HistoryFilePath,
		ThumbnailDir:    cfg.ThumbnailDir,
		BackupDir:       cfg.BackupDir,
		LaunchScript:    cfg.LaunchBat,
		EngineOutputDir: cfg.ComfyOutputDir,
		Renderer:        renderer,
	})
	if err != nil {
		log.Fatalf("Failed to create history store: %v", err)
	}

	orchestrator, err := generation_orchestrator.New(generation_orchestrator.Config{
		HistoryStore:  historyStore,
		JobRecordRepo: jobRecordRepo,
		SlotTitles:    cfg.SlotTitles,
		Poll:          cfg.PollOptions(),
	})
	if err != nil {
		log.Fatalf("Failed to create generation orchestrator: %v", err)
	}

	if cfg.BackupSchedule != "" {
		scheduler, err := backup_scheduler.New(backup_scheduler.Config{
			Schedule: cfg.BackupSchedule,
			Store:    historyStore,
		})
		if err != nil {
			log.Fatalf("Failed to create backup scheduler: %v", err)
		}

		scheduler.Start()
		defer func() { <-scheduler.Stop().Done() }()

		log.Printf("History backups scheduled with %q", cfg.BackupSchedule)
	}

	server, err := web_api.New(web_api.Config{
		AppConfig:           cfg,
		ConfigPath:          *configPath,
		Orchestrator:        orchestrator,
		HistoryStore:        historyStore,
		JobRecordRepo:       jobRecordRepo,
		DefaultSettingsRepo: defaultSettingsRepo,
		DevMode:             devMode,
	})
	if err != nil {
		log.Fatalf("Error creating web server: %v", err)
	}

	addr := cfg.Addr()
	if addrFlag != nil && *addrFlag != "" {
		addr = *addrFlag
	}

	serveErr := make(chan error, 1)

	go func() {
		serveErr <- server.Start(addr)
	}()

	select {
	case err = <-serveErr:
		if err != nil {
			log.Printf("Web server stopped: %v", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err = server.Shutdown(shutdownCtx)
		if err != nil {
			log.Printf("Error shutting down web server: %v", err)
		}
	}

	log.Println("Gracefully shutting down.")
}
