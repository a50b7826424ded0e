package handler

import (
	"net/http"
	"strconv"

	"detectserver/internal/dto"
	"detectserver/internal/logger"
	"detectserver/internal/model"
	"detectserver/internal/repository"
	"detectserver/internal/service/annotate"
	"detectserver/internal/service/stream"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// ListDetectionsHandler returns stored detections, newest first.
// Query parameters: source, stream, class, limit.
func ListDetectionsHandler(detectionRepo repository.DetectionRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := &dto.DetectionFilter{
			Source:    q.Get("source"),
			SourceID:  q.Get("stream"),
			ClassName: q.Get("class"),
			Limit:     min(atoiDefault(q.Get("limit"), defaultListLimit), maxListLimit),
		}

		detections, err := detectionRepo.List(filter)
		if err != nil {
			logger.Error("Error querying detections from database: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if detections == nil {
			detections = []model.Detection{}
		}

		stored, err := detectionRepo.Count()
		if err != nil {
			logger.Error("Error counting detections: %v", err)
			stored = len(detections)
		}

		respondJSON(w, logger, http.StatusOK, dto.DetectionList{
			Detections: detections,
			Stored:     stored,
			Limit:      filter.Limit,
		})
	}
}

// ListClassesHandler returns every class name the model has reported so far.
func ListClassesHandler(detectionRepo repository.DetectionRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		classes, err := detectionRepo.GetAllClassNames()
		if err != nil {
			logger.Error("Error querying class names: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if classes == nil {
			classes = []string{}
		}

		respondJSON(w, logger, http.StatusOK, classes)
	}
}

// DeleteDetectionsHandler removes every detection recorded for one stream.
func DeleteDetectionsHandler(detectionRepo repository.DetectionRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sourceID := r.PathValue("id")
		if err := detectionRepo.DeleteBySourceID(sourceID); err != nil {
			logger.Error("Failed to delete detections of %s: %v", sourceID, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		logger.Info("[%s] Detections deleted", sourceID)
		w.WriteHeader(http.StatusNoContent)
	}
}

// PendingCounter reports detections waiting to be written to the database.
type PendingCounter interface {
	Pending() int
}

// HealthHandler reports liveness, per-stream progress, the history backlog
// and how many classes have been assigned a color.
func HealthHandler(manager *stream.Manager, history PendingCounter, annotator *annotate.Annotator, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions := manager.Sessions()
		statuses := make([]dto.StreamStatus, 0, len(sessions))
		for _, sess := range sessions {
			stats := sess.Stats()
			statuses = append(statuses, dto.StreamStatus{
				ID:          sess.ID,
				CreatedAt:   sess.CreatedAt,
				Buffered:    sess.Frames.Len(),
				Frames:      stats.Frames,
				Predictions: stats.Predictions,
				Failures:    stats.Failures,
			})
		}

		health := dto.Health{
			Status:       "ok",
			Streams:      len(statuses),
			Sessions:     statuses,
			KnownClasses: annotator.Colors().Len(),
		}
		if history != nil {
			health.PendingDetections = history.Pending()
		}

		respondJSON(w, logger, http.StatusOK, health)
	}
}

// atoiDefault converts string to int or returns a default when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}
