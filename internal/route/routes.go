package route

import (
	"net/http"

	"github.com/rs/cors"

	"detectserver/internal/config"
	"detectserver/internal/handler"
	"detectserver/internal/logger"
	"detectserver/internal/middleware"
	"detectserver/internal/repository"
	"detectserver/internal/service/annotate"
	"detectserver/internal/service/detector"
	"detectserver/internal/service/stream"
)

// SetupRoutes registers the upload, streaming, detection and history endpoints,
// the static pages, and wraps the mux with request logging and permissive CORS.
func SetupRoutes(cfg *config.Config, manager *stream.Manager, detectorService *detector.DetectorService,
	history handler.PendingCounter, annotator *annotate.Annotator,
	detectionRepo repository.DetectionRepository, logger *logger.Logger) http.Handler {
	mux := http.NewServeMux()

	// Streaming
	mux.HandleFunc("POST /upload_stream/{$}", handler.UploadStreamHandler(manager, logger))
	mux.HandleFunc("GET /video_feed/{id}", handler.VideoFeedHandler(manager, logger))
	mux.HandleFunc("GET /ws/video_feed/{id}", handler.WatchStreamHandler(manager, logger))

	// Single image
	mux.HandleFunc("POST /detect", handler.DetectHandler(detectorService, logger))

	// History
	mux.HandleFunc("GET /api/detections", handler.ListDetectionsHandler(detectionRepo, logger))
	mux.HandleFunc("GET /api/detections/classes", handler.ListClassesHandler(detectionRepo, logger))
	mux.HandleFunc("DELETE /api/detections/{id}", handler.DeleteDetectionsHandler(detectionRepo, logger))

	// Operations
	mux.HandleFunc("GET /health", handler.HealthHandler(manager, history, annotator, logger))
	mux.HandleFunc("GET /logs", handler.ShowLogsHandler(logger))
	mux.HandleFunc("POST /logs/rotate", handler.RotateLogsHandler(logger))

	// Pages, e.g. /about -> static/about.html
	mux.HandleFunc("GET /{$}", handler.PageHandler(cfg.StaticDirectory))
	mux.HandleFunc("GET /{page}", handler.PageHandler(cfg.StaticDirectory))

	return cors.AllowAll().Handler(middleware.LoggingMiddleware(logger)(mux))
}
