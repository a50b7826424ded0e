// Package stream owns the per-upload resources behind a live detection feed.
package stream

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"detectserver/internal/config"
	"detectserver/internal/logger"
	"detectserver/internal/model"
	"detectserver/internal/service/annotate"
	"detectserver/internal/service/pipeline"
	"detectserver/internal/service/roboflow"
)

const (
	sniffLen         = 3072
	defaultExtension = ".mp4"
	// stopWait bounds how long teardown waits for the pipeline before removing the video.
	stopWait = 2 * time.Second
)

// ErrManagerClosed is returned by Create once Close has been called.
var ErrManagerClosed = errors.New("stream manager is closed")

// Recorder receives the predictions of every forwarded frame.
type Recorder interface {
	AddPredictions(source, sourceID string, predictions []roboflow.Prediction)
}

// Session is one uploaded video being streamed back with detections drawn on it.
type Session struct {
	ID        string
	TempPath  string
	CreatedAt time.Time
	Frames    *FrameBuffer

	pipeline *pipeline.Pipeline
	once     sync.Once
}

// Stats reports how far the pipeline got.
func (s *Session) Stats() pipeline.Stats {
	return s.pipeline.Stats()
}

func (s *Session) close(log *logger.Logger) {
	s.once.Do(func() {
		s.pipeline.Stop()
		s.Frames.Close()

		select {
		case <-s.pipeline.Done():
		case <-time.After(stopWait):
			log.Warning("[%s] Pipeline still running after stop", s.ID)
		}

		if err := os.Remove(s.TempPath); err != nil && !os.IsNotExist(err) {
			log.Error("[%s] Failed to remove temp file %s: %v", s.ID, s.TempPath, err)
		}
	})
}

type Manager struct {
	model     roboflow.Predictor
	annotator *annotate.Annotator
	recorder  Recorder
	logger    *logger.Logger

	uploadDir   string
	thresholds  roboflow.Thresholds
	maxFPS      float64
	idleTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
	wg       sync.WaitGroup
}

func NewManager(cfg *config.Config, predictor roboflow.Predictor, annotator *annotate.Annotator, recorder Recorder, logger *logger.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		model:       predictor,
		annotator:   annotator,
		recorder:    recorder,
		logger:      logger,
		uploadDir:   cfg.UploadDir,
		thresholds:  roboflow.Thresholds{Confidence: cfg.StreamConfidence, Overlap: cfg.StreamOverlap},
		maxFPS:      cfg.StreamMaxFPS,
		idleTimeout: cfg.StreamIdleTimeout,
		ctx:         ctx,
		cancel:      cancel,
		sessions:    make(map[string]*Session),
	}
}

// IdleTimeout is how long a consumer should wait for the next frame.
func (m *Manager) IdleTimeout() time.Duration {
	return m.idleTimeout
}

// Create stores the upload in a temp file, registers a session and starts inference in the background.
// After Close it returns ErrManagerClosed and leaves nothing on disk.
func (m *Manager) Create(upload io.Reader) (*Session, error) {
	if m.isClosed() {
		return nil, ErrManagerClosed
	}

	tempPath, err := m.saveUpload(upload)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		ID:        newStreamID(),
		TempPath:  tempPath,
		CreatedAt: time.Now(),
		Frames:    NewFrameBuffer(),
	}
	sess.pipeline = pipeline.New(m.model, tempPath, m.onPrediction(sess), pipeline.Options{
		Thresholds: m.thresholds,
		MaxFPS:     m.maxFPS,
		Logger:     m.logger.With("stream", sess.ID),
	})

	// Registration and wg.Add happen under mu so Close cannot miss this session.
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		os.Remove(tempPath)
		return nil, ErrManagerClosed
	}
	m.sessions[sess.ID] = sess
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		if err := sess.pipeline.Start(m.ctx); err != nil {
			if !errors.Is(err, pipeline.ErrStopped) {
				m.logger.Error("[%s] Failed to start pipeline: %v", sess.ID, err)
			}
			return
		}
		if err := sess.pipeline.Join(); err != nil {
			m.logger.Error("[%s] Pipeline ended with error: %v", sess.ID, err)
		}
	}()

	m.logger.Info("[%s] Stream session created for %s", sess.ID, tempPath)
	return sess, nil
}

// Get returns the live session with the given id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

// Teardown stops the pipeline, drops the buffer and removes the temp file.
// It reports false when no such session exists.
func (m *Manager) Teardown(id string) bool {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return false
	}

	m.logger.Info("[%s] Cleaning up resources...", id)
	sess.close(m.logger)
	return true
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Sessions returns a snapshot of the live sessions, oldest first.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close tears down every session and waits for their pipelines to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Teardown(id)
	}
	m.cancel()
	m.wg.Wait()
	m.logger.Info("All stream sessions closed")
}

func (m *Manager) onPrediction(sess *Session) pipeline.PredictionHandler {
	return func(resp *roboflow.Response, frame gocv.Mat) {
		if len(resp.Predictions) == 0 {
			return
		}

		if err := m.annotator.Draw(&frame, resp.Predictions, annotate.ClassLabel, annotate.StreamStyle); err != nil {
			m.logger.Error("[%s] Failed to annotate frame: %v", sess.ID, err)
			return
		}

		encoded, err := annotate.EncodeJPEG(frame)
		if err != nil {
			m.logger.Error("[%s] %v", sess.ID, err)
			return
		}

		if !sess.Frames.Push(encoded) {
			return
		}
		if m.recorder != nil {
			m.recorder.AddPredictions(model.SourceStream, sess.ID, resp.Predictions)
		}
	}
}

func (m *Manager) saveUpload(upload io.Reader) (string, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(upload, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	head = head[:n]

	ext := defaultExtension
	if mt := mimetype.Detect(head); isVideo(mt) && mt.Extension() != "" {
		ext = mt.Extension()
	}

	file, err := os.CreateTemp(m.uploadDir, "stream-*"+ext)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(head); err != nil {
		os.Remove(file.Name())
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if _, err := io.Copy(file, upload); err != nil {
		os.Remove(file.Name())
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}

	return file.Name(), nil
}

func isVideo(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "video/") {
			return true
		}
	}
	return false
}

func newStreamID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}
