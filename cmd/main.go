package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dejaview/pinboard/internal/catalog"
	"github.com/dejaview/pinboard/internal/config"
	"github.com/dejaview/pinboard/internal/gemini"
	"github.com/dejaview/pinboard/internal/httpapi"
	"github.com/dejaview/pinboard/internal/jobs"
	"github.com/dejaview/pinboard/internal/llm"
	"github.com/dejaview/pinboard/internal/pipeline"
	"github.com/dejaview/pinboard/internal/scraper"
	"github.com/dejaview/pinboard/internal/storage"
	"github.com/dejaview/pinboard/internal/trellis"
	"github.com/dejaview/pinboard/internal/watcher"
	"github.com/dejaview/pinboard/pkg/log"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	log.InitLogger(log.ParseLevel(cfg.Server.LogLevel))

	analyzer, err := llm.NewClient(&llm.Config{
		APIKey:          cfg.LLM.APIKey,
		APIURL:          cfg.LLM.APIURL,
		Model:           cfg.LLM.Model,
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
		Temperature:     cfg.LLM.Temperature,
		Timeout:         cfg.LLM.Timeout,
	})
	if err != nil {
		log.Fatal("Failed to initialize LLM client: %v", err)
	}

	isolator, err := gemini.NewClient(&gemini.Config{
		APIKey:     cfg.Gemini.APIKey,
		APIURL:     cfg.Gemini.APIURL,
		ImageModel: cfg.Gemini.ImageModel,
		Timeout:    cfg.Gemini.Timeout,
	})
	if err != nil {
		log.Fatal("Failed to initialize Gemini client: %v", err)
	}

	synthesizer, err := trellis.NewClient(&trellis.Config{
		APIToken:       cfg.Replicate.APIToken,
		APIURL:         cfg.Replicate.APIURL,
		TrellisVersion: cfg.Replicate.TrellisVersion,
		Timeout:        cfg.Replicate.Timeout,
	})
	if err != nil {
		log.Fatal("Failed to initialize Trellis client: %v", err)
	}

	objectStore, err := storage.New(&cfg.R2)
	if err != nil {
		log.Fatal("Failed to initialize object store: %v", err)
	}

	assetCatalog, err := catalog.NewStore(cfg.Catalog.DBPath)
	if err != nil {
		log.Fatal("Failed to open asset catalog: %v", err)
	}
	defer assetCatalog.Close()

	registry := jobs.NewRegistry()
	sweeper := jobs.NewSweeper(registry, cfg.Jobs.Retention, cfg.Jobs.SweepInterval)
	if err := sweeper.Start(); err != nil {
		log.Fatal("Failed to start retention sweeper: %v", err)
	}
	defer sweeper.Stop()

	runner := pipeline.NewRunner(
		registry,
		jobs.NewGate(cfg.Jobs.MaxConcurrent),
		jobs.NewGate(cfg.Jobs.ItemConcurrency),
		pipeline.Collaborators{
			Lister:      scraper.New(30 * time.Second),
			Analyzer:    analyzer,
			Isolator:    isolator,
			Synthesizer: synthesizer,
			Store:       objectStore,
			Fetcher:     pipeline.NewHTTPFetcher(5 * time.Minute),
		},
		assetCatalog,
	)

	boardWatcher := watcher.New(runner, cfg.Watcher.Boards, cfg.Watcher.MaxPins, cfg.Watcher.CronExpr)
	if err := boardWatcher.Start(); err != nil {
		log.Fatal("Failed to start board watcher: %v", err)
	}
	defer boardWatcher.Stop()

	server := httpapi.NewServer(runner, registry, httpapi.WithAssetCatalog(assetCatalog))

	go func() {
		log.Info("HTTP server listening on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("HTTP shutdown error: %v", err)
	}
}
