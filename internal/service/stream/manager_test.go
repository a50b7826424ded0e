package stream

import (
	"bytes"
	"context"
	"image/jpeg"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"detectserver/internal/config"
	"detectserver/internal/logger"
	"detectserver/internal/service/annotate"
	"detectserver/internal/service/roboflow"
)

type fakePredictor struct {
	predictions []roboflow.Prediction
}

func (f *fakePredictor) Predict(ctx context.Context, image []byte, th roboflow.Thresholds) (*roboflow.Response, error) {
	return &roboflow.Response{Predictions: f.predictions}, nil
}

type recorder struct {
	mu    sync.Mutex
	calls map[string]int
}

func (r *recorder) AddPredictions(source, sourceID string, predictions []roboflow.Prediction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[string]int)
	}
	r.calls[source+"/"+sourceID] += len(predictions)
}

func (r *recorder) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[key]
}

func encodeTestVideo(t *testing.T, frames int) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "clip.avi")
	w, err := gocv.VideoWriterFile(path, "MJPG", 10, 64, 48, true)
	require.NoError(t, err)
	for i := 0; i < frames; i++ {
		mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(40, 80, float64(i*20), 0), 48, 64, gocv.MatTypeCV8UC3)
		require.NoError(t, w.Write(mat))
		mat.Close()
	}
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func newTestManager(t *testing.T, predictor roboflow.Predictor, rec Recorder) (*Manager, string) {
	t.Helper()

	dir := t.TempDir()
	cfg := &config.Config{
		UploadDir:         dir,
		StreamConfidence:  50,
		StreamOverlap:     50,
		StreamIdleTimeout: 300 * time.Millisecond,
	}
	m := NewManager(cfg, predictor, annotate.NewAnnotator(annotate.NewColorMap()), rec, logger.NewNop())
	t.Cleanup(m.Close)
	return m, dir
}

var hex32 = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestManager_StreamsAnnotatedFrames(t *testing.T) {
	rec := &recorder{}
	m, dir := newTestManager(t, &fakePredictor{predictions: []roboflow.Prediction{
		{X: 32, Y: 24, Width: 20, Height: 10, Confidence: 0.9, Class: "can"},
	}}, rec)

	sess, err := m.Create(bytes.NewReader(encodeTestVideo(t, 3)))
	require.NoError(t, err)

	assert.Regexp(t, hex32, sess.ID)
	assert.Equal(t, dir, filepath.Dir(sess.TempPath))
	assert.Equal(t, ".avi", filepath.Ext(sess.TempPath))
	assert.FileExists(t, sess.TempPath)

	got, ok := m.Get(sess.ID)
	require.True(t, ok)
	assert.Same(t, sess, got)

	for i := 0; i < 3; i++ {
		frame, err := sess.Frames.Pop(context.Background(), 2*time.Second)
		require.NoError(t, err)
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(frame))
		require.NoError(t, err)
		assert.Equal(t, 64, cfg.Width)
		assert.Equal(t, 48, cfg.Height)
	}

	_, err = sess.Frames.Pop(context.Background(), m.IdleTimeout())
	assert.ErrorIs(t, err, ErrIdleTimeout)
	assert.Equal(t, 3, rec.count("stream/"+sess.ID))
}

func TestManager_SkipsFramesWithoutDetections(t *testing.T) {
	m, _ := newTestManager(t, &fakePredictor{}, nil)

	sess, err := m.Create(bytes.NewReader(encodeTestVideo(t, 3)))
	require.NoError(t, err)

	_, err = sess.Frames.Pop(context.Background(), m.IdleTimeout())
	assert.ErrorIs(t, err, ErrIdleTimeout)
	assert.Eventually(t, func() bool { return sess.Stats().Predictions == 3 }, 2*time.Second, 10*time.Millisecond)
}

func TestManager_TeardownReleasesEverything(t *testing.T) {
	m, _ := newTestManager(t, &fakePredictor{predictions: []roboflow.Prediction{{Class: "can", Width: 4, Height: 4}}}, nil)

	sess, err := m.Create(bytes.NewReader(encodeTestVideo(t, 10)))
	require.NoError(t, err)
	require.Equal(t, 1, m.Count())

	assert.True(t, m.Teardown(sess.ID))

	_, ok := m.Get(sess.ID)
	assert.False(t, ok)
	assert.Zero(t, m.Count())
	assert.NoFileExists(t, sess.TempPath)
	assert.Zero(t, sess.Frames.Len())
	select {
	case <-sess.pipeline.Done():
	default:
		t.Fatal("pipeline still running after teardown")
	}

	assert.False(t, m.Teardown(sess.ID))
}

func TestManager_TeardownUnknown(t *testing.T) {
	m, _ := newTestManager(t, &fakePredictor{}, nil)
	assert.False(t, m.Teardown("0123456789abcdef0123456789abcdef"))
}

func TestManager_UnreadableVideo(t *testing.T) {
	m, dir := newTestManager(t, &fakePredictor{}, nil)

	sess, err := m.Create(bytes.NewReader([]byte("not a video")))
	require.NoError(t, err)
	assert.Equal(t, ".mp4", filepath.Ext(sess.TempPath))

	_, err = sess.Frames.Pop(context.Background(), m.IdleTimeout())
	assert.ErrorIs(t, err, ErrIdleTimeout)

	require.True(t, m.Teardown(sess.ID))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestManager_CloseTearsDownAll(t *testing.T) {
	m, dir := newTestManager(t, &fakePredictor{}, nil)

	for i := 0; i < 3; i++ {
		_, err := m.Create(bytes.NewReader(encodeTestVideo(t, 2)))
		require.NoError(t, err)
	}
	require.Equal(t, 3, m.Count())

	m.Close()
	assert.Zero(t, m.Count())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestManager_CreateAfterClose(t *testing.T) {
	m, dir := newTestManager(t, &fakePredictor{}, nil)
	m.Close()

	sess, err := m.Create(bytes.NewReader(encodeTestVideo(t, 2)))
	assert.ErrorIs(t, err, ErrManagerClosed)
	assert.Nil(t, sess)
	assert.Zero(t, m.Count())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestManager_SessionsOldestFirst(t *testing.T) {
	m, _ := newTestManager(t, &fakePredictor{}, nil)

	first, err := m.Create(bytes.NewReader(encodeTestVideo(t, 2)))
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := m.Create(bytes.NewReader(encodeTestVideo(t, 2)))
	require.NoError(t, err)

	sessions := m.Sessions()
	require.Len(t, sessions, 2)
	assert.Same(t, first, sessions[0])
	assert.Same(t, second, sessions[1])

	m.Teardown(first.ID)
	assert.Len(t, m.Sessions(), 1)
}

func TestNewStreamID(t *testing.T) {
	a, b := newStreamID(), newStreamID()
	assert.Regexp(t, hex32, a)
	assert.NotEqual(t, a, b)
}
