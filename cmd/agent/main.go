package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/clipforge/clipforge-agent/internal/api"
	"github.com/clipforge/clipforge-agent/internal/artifact"
	"github.com/clipforge/clipforge-agent/internal/broadcast"
	"github.com/clipforge/clipforge-agent/internal/config"
	"github.com/clipforge/clipforge-agent/internal/db"
	"github.com/clipforge/clipforge-agent/internal/inbox"
	"github.com/clipforge/clipforge-agent/internal/ledger"
	"github.com/clipforge/clipforge-agent/internal/logging"
	"github.com/clipforge/clipforge-agent/internal/media"
	"github.com/clipforge/clipforge-agent/internal/orchestrator"
	"github.com/clipforge/clipforge-agent/internal/reconcile"
	"github.com/clipforge/clipforge-agent/internal/stage"
	"github.com/clipforge/clipforge-agent/internal/stages"
	"github.com/clipforge/clipforge-agent/internal/ui"
)

const reconcileInterval = 5 * time.Minute

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting clipforge agent", "version", config.Version, "data_dir", cfg.DataDir())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := ledger.NewRepository(database.Conn())

	agentID, err := ensureConfigValue(repo, "agent_id", 16)
	if err != nil {
		return fmt.Errorf("failed to ensure agent ID: %w", err)
	}

	authToken, err := ensureConfigValue(repo, "auth_token", 32)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║                   CLIPFORGE AGENT v0.1.0                  ║")
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-45s ║\n", authToken)
	fmt.Printf("║  Agent ID:   %-45s ║\n", agentID[:16]+"...")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	store, err := artifact.NewStore(cfg.ArtifactsDir(), logging.WithComponent(logger, "artifacts"))
	if err != nil {
		return fmt.Errorf("failed to initialize artifact store: %w", err)
	}

	pipelineDef, err := config.LoadPipeline(cfg.PipelineFile())
	if err != nil {
		return fmt.Errorf("failed to load pipeline definition: %w", err)
	}
	logger.Info("pipeline loaded", "stages", pipelineDef.StageNames())

	contentRunner, err := stages.NewContentRunner(stages.Config{
		PythonPath:    cfg.PipelinesPython(),
		ModuleName:    cfg.PipelinesModule(),
		WorkDir:       filepath.Join(cfg.DataDir(), "work"),
		DoctorTimeout: cfg.PipelinesTimeoutDoctor(),
		Logger:        logging.WithComponent(logger, "content"),
	})
	if err != nil {
		return fmt.Errorf("content runner unavailable: %w", err)
	}

	probe := stages.NewCachedProbe(contentRunner, logger)

	initCtx, initCancel := context.WithTimeout(context.Background(), cfg.PipelinesTimeoutDoctor())
	if caps, err := probe.Refresh(initCtx); err != nil {
		logger.Warn("initial doctor probe failed", "error", err)
	} else {
		logger.Info("content capabilities detected",
			"content", caps.HasContent,
			"ffmpeg", caps.HasFFmpeg,
			"deps", fmt.Sprintf("%d/%d", caps.Summary.Available, caps.Summary.Total),
		)
	}
	initCancel()

	ffmpeg, err := stages.NewExecFFmpeg(cfg.FFmpegPath(), logging.WithComponent(logger, "ffmpeg"))
	if err != nil {
		return fmt.Errorf("ffmpeg unavailable: %w", err)
	}

	impls := make(map[string]stage.Stage, len(pipelineDef.Stages))
	for _, sd := range pipelineDef.Stages {
		if sd.Name == stages.CuttingStageName {
			impls[sd.Name] = stages.NewCutStage(ffmpeg, cfg.ClipsDir(), logging.WithComponent(logger, "cutting"))
		} else {
			impls[sd.Name] = stages.NewContentStage(sd.Name, contentRunner)
		}
	}

	registry, err := stage.NewRegistry(pipelineDef, impls)
	if err != nil {
		return fmt.Errorf("failed to build stage registry: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broadcaster := broadcast.New(logging.WithComponent(logger, "broadcast"))

	orch := orchestrator.New(registry, store, repo, broadcaster,
		logging.WithComponent(logger, "orchestrator"), orchestrator.Options{})

	reconciler := reconcile.New(repo, store, orch, broadcaster, cfg.JobRetention(),
		logging.WithComponent(logger, "reconcile"))
	if err := reconciler.Reconcile(ctx); err != nil {
		logger.Warn("startup reconcile failed", "error", err)
	}
	go reconciler.Start(ctx, reconcileInterval)

	if cfg.InboxDir() != "" {
		scanner := inbox.NewScanner(cfg.InboxDir(), orch, repo, logging.WithComponent(logger, "inbox"))
		go scanner.Start(ctx)
	}

	apiServer := api.NewServer(api.ServerConfig{
		Port:         cfg.Port(),
		Orchestrator: orch,
		Repository:   repo,
		Artifacts:    store,
		Broadcaster:  broadcaster,
		Probe:        probe,
		Streamer:     media.NewStreamer(logging.WithComponent(logger, "media")),
		Logger:       logging.WithComponent(logger, "api"),
		StartTime:    startTime,
		AgentID:      agentID,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	quitCh := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			close(quitCh)
		case <-quitCh:
		}
	}()

	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			Orchestrator: orch,
			Logger:       logging.WithComponent(logger, "tray"),
			OnQuit: func() {
				close(quitCh)
			},
		})
		go tray.Run()
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to drain executors", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// ensureConfigValue returns the stored value for key, minting a random hex
// value of byteLen bytes on first start.
func ensureConfigValue(repo ledger.Repository, key string, byteLen int) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, key)
	if err == nil && existing != "" {
		return existing, nil
	}

	buf := make([]byte, byteLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	value := hex.EncodeToString(buf)

	if err := repo.SetConfig(ctx, key, value); err != nil {
		return "", err
	}

	return value, nil
}
