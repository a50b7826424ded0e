package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"detectserver/internal/config"
	"detectserver/internal/logger"
	"detectserver/internal/repository/sqlite"
	"detectserver/internal/route"
	"detectserver/internal/service/annotate"
	"detectserver/internal/service/detector"
	"detectserver/internal/service/roboflow"
	"detectserver/internal/service/storage"
	"detectserver/internal/service/stream"
)

const (
	shutdownTimeout = 10 * time.Second
	startupTimeout  = 10 * time.Second
)

type App struct {
	config          *config.Config
	logger          *logger.Logger
	db              *sqlite.DB
	roboflow        *roboflow.Client
	bufferService   *storage.BufferService
	detectorService *detector.DetectorService
	manager         *stream.Manager
	handler         http.Handler
}

func NewApp() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log, err := logger.NewLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	detectionRepo := sqlite.NewDetectionRepository(db)

	client := roboflow.New(cfg)
	buffer := storage.NewBufferService(cfg, log, detectionRepo)
	annotator := annotate.NewAnnotator(annotate.NewColorMap())

	imageModel := client.Model(cfg.RoboflowProject, cfg.RoboflowVersion)
	streamModel := client.ModelByID(cfg.RoboflowStreamModelID)
	log.Info("Image model: %s, stream model: %s", imageModel.ID(), streamModel.ID())

	ds := detector.NewDetectorService(cfg, imageModel, annotator, buffer, log)
	mng := stream.NewManager(cfg, streamModel, annotator, buffer, log)

	return &App{
		config:          cfg,
		logger:          log,
		db:              db,
		roboflow:        client,
		bufferService:   buffer,
		detectorService: ds,
		manager:         mng,
		handler:         route.SetupRoutes(cfg, mng, ds, buffer, annotator, detectionRepo, log),
	}, nil
}

// Run serves HTTP until SIGINT/SIGTERM, then drains streams, flushes history and closes resources.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.checkProject(ctx)

	bufferCtx, cancelBuffer := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.bufferService.Run(bufferCtx)
	}()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.config.Port),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.logger.Info("Detection server listening on http://localhost:%d", a.config.Port)

	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("Shutting down...")
	case err := <-serveErr:
		runErr = fmt.Errorf("server failed: %w", err)
	}

	// Streams never finish on their own while a viewer is attached, so close them before draining.
	a.manager.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Server shutdown: %v", err)
	}

	cancelBuffer()
	wg.Wait()

	if err := a.db.Close(); err != nil {
		a.logger.Error("Failed to close database: %v", err)
	}
	a.logger.Info("Server stopped")
	a.logger.Close()

	return runErr
}

func (a *App) checkProject(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	if err := a.roboflow.CheckProject(ctx, a.config.RoboflowWorkspace, a.config.RoboflowProject); err != nil {
		a.logger.Warning("Roboflow project check failed: %v", err)
		return
	}
	a.logger.Info("Roboflow project %s/%s is reachable", a.config.RoboflowWorkspace, a.config.RoboflowProject)
}
