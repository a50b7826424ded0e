package detector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gocv.io/x/gocv"

	"detectserver/internal/config"
	"detectserver/internal/logger"
	"detectserver/internal/model"
	"detectserver/internal/service/annotate"
	"detectserver/internal/service/roboflow"
)

// Recorder receives the predictions of every detected image.
type Recorder interface {
	AddPredictions(source, sourceID string, predictions []roboflow.Prediction)
}

// Result is an annotated image and what was found in it.
type Result struct {
	Image       []byte // JPEG
	Width       int
	Height      int
	Predictions []roboflow.Prediction
}

type DetectorService struct {
	model      roboflow.Predictor
	annotator  *annotate.Annotator
	recorder   Recorder
	thresholds roboflow.Thresholds
	logger     *logger.Logger

	// tempPath is shared by every request; mu serialises its use.
	tempPath string
	mu       sync.Mutex
}

// NewDetectorService creates a detector writing uploads to cfg.TempImagePath.
func NewDetectorService(cfg *config.Config, predictor roboflow.Predictor, annotator *annotate.Annotator, recorder Recorder, logger *logger.Logger) *DetectorService {
	return &DetectorService{
		model:      predictor,
		annotator:  annotator,
		recorder:   recorder,
		thresholds: roboflow.Thresholds{Confidence: cfg.DetectConfidence, Overlap: cfg.DetectOverlap},
		logger:     logger,
		tempPath:   cfg.TempImagePath,
	}
}

// Detect decodes imageBytes as a 3-channel color image, runs the model on it
// and returns the image with boxes and "<class> <confidence>" labels drawn.
func (s *DetectorService) Detect(ctx context.Context, imageBytes []byte) (*Result, error) {
	src, err := gocv.IMDecode(imageBytes, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	defer src.Close()

	if src.Empty() {
		return nil, fmt.Errorf("decoded image is empty")
	}

	mat, resp, err := s.predictViaTempFile(ctx, src)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	if err := s.annotator.Draw(&mat, resp.Predictions, annotate.ClassConfidenceLabel, annotate.ImageStyle); err != nil {
		return nil, err
	}

	encoded, err := annotate.EncodeJPEG(mat)
	if err != nil {
		s.logger.Error("Failed to encode image: %v", err)
		return nil, err
	}

	for _, p := range resp.Predictions {
		s.logger.Info("Detected %s (%.2f)", p.Class, p.Confidence)
	}
	if s.recorder != nil {
		s.recorder.AddPredictions(model.SourceImage, "", resp.Predictions)
	}

	return &Result{
		Image:       encoded,
		Width:       mat.Cols(),
		Height:      mat.Rows(),
		Predictions: resp.Predictions,
	}, nil
}

// predictViaTempFile writes src to the shared temp path and reads the file back.
// Only that round trip holds the lock; the model then gets the bytes read back,
// and the returned Mat is decoded from those same bytes.
func (s *DetectorService) predictViaTempFile(ctx context.Context, src gocv.Mat) (gocv.Mat, *roboflow.Response, error) {
	data, err := s.roundTripTempFile(src)
	if err != nil {
		return gocv.Mat{}, nil, err
	}

	resp, err := s.model.Predict(ctx, data, s.thresholds)
	if err != nil {
		return gocv.Mat{}, nil, err
	}

	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return gocv.Mat{}, nil, fmt.Errorf("failed to decode %s: %w", s.tempPath, err)
	}
	if mat.Empty() {
		mat.Close()
		return gocv.Mat{}, nil, fmt.Errorf("failed to load %s", s.tempPath)
	}

	return mat, resp, nil
}

func (s *DetectorService) roundTripTempFile(src gocv.Mat) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.tempPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	if ok := gocv.IMWrite(s.tempPath, src); !ok {
		return nil, fmt.Errorf("failed to write %s", s.tempPath)
	}

	data, err := os.ReadFile(s.tempPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.tempPath, err)
	}
	return data, nil
}
