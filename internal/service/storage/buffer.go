package storage

import (
	"context"
	"sync"
	"time"

	"detectserver/internal/config"
	"detectserver/internal/logger"
	"detectserver/internal/model"
	"detectserver/internal/repository"
	"detectserver/internal/service/roboflow"
)

// BufferService buffers detections in memory and periodically flushes them to the repository.
type BufferService struct {
	detections    []model.Detection
	limit         int
	flushInterval time.Duration
	dropped       int
	mu            sync.Mutex
	logger        *logger.Logger
	detectionRepo repository.DetectionRepository
	now           func() time.Time
}

// NewBufferService creates a new BufferService writing to detectionRepo.
func NewBufferService(cfg *config.Config, logger *logger.Logger, detectionRepo repository.DetectionRepository) *BufferService {
	return &BufferService{
		detections:    make([]model.Detection, 0, cfg.HistoryBufferLimit),
		limit:         cfg.HistoryBufferLimit,
		flushInterval: cfg.HistoryFlushInterval,
		logger:        logger,
		detectionRepo: detectionRepo,
		now:           time.Now,
	}
}

// Run flushes on a ticker until ctx is cancelled, then flushes one last time.
func (s *BufferService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Flush()
		case <-ctx.Done():
			s.Flush()
			return
		}
	}
}

// AddPredictions converts model predictions into detection records and buffers them.
func (s *BufferService) AddPredictions(source, sourceID string, predictions []roboflow.Prediction) {
	if len(predictions) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.now()
	for _, p := range predictions {
		if s.limit > 0 && len(s.detections) >= s.limit {
			s.dropped++
			continue
		}
		x1, y1, x2, y2 := p.Bounds()
		s.detections = append(s.detections, model.Detection{
			Source:     source,
			SourceID:   sourceID,
			ClassName:  p.Class,
			X:          x1,
			Y:          y1,
			Width:      x2 - x1,
			Height:     y2 - y1,
			Confidence: p.Confidence,
			CreatedAt:  at,
		})
	}
}

// Pending returns the number of buffered detections.
func (s *BufferService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.detections)
}

// Flush writes buffered detections to the repository and resets the buffer.
func (s *BufferService) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dropped > 0 {
		s.logger.Warning("Detection buffer full, dropped %d detections", s.dropped)
		s.dropped = 0
	}
	if len(s.detections) == 0 {
		return
	}

	if err := s.detectionRepo.InsertBatch(s.detections); err != nil {
		s.logger.Error("Error saving detections to database: %v", err)
		return
	}

	s.logger.Info("Flushed %d detections to database", len(s.detections))
	s.detections = s.detections[:0]
}
