package handler

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"detectserver/internal/config"
	"detectserver/internal/logger"
	"detectserver/internal/service/annotate"
	"detectserver/internal/service/detector"
	"detectserver/internal/service/roboflow"
	"detectserver/internal/service/stream"
)

type fakePredictor struct {
	preds []roboflow.Prediction
	err   error
}

func (f *fakePredictor) Predict(ctx context.Context, image []byte, th roboflow.Thresholds) (*roboflow.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &roboflow.Response{Predictions: f.preds}, nil
}

var oneCan = []roboflow.Prediction{{X: 20, Y: 20, Width: 10, Height: 10, Confidence: 0.9, Class: "can"}}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		UploadDir:         dir,
		TempImagePath:     filepath.Join(dir, "temp_img", "temp.jpg"),
		DetectConfidence:  40,
		DetectOverlap:     30,
		StreamConfidence:  50,
		StreamOverlap:     50,
		StreamIdleTimeout: 300 * time.Millisecond,
	}
}

func newTestManager(t *testing.T, p roboflow.Predictor) *stream.Manager {
	t.Helper()
	m := stream.NewManager(testConfig(t), p, annotate.NewAnnotator(annotate.NewColorMap()), nil, logger.NewNop())
	t.Cleanup(m.Close)
	return m
}

func newTestDetector(t *testing.T, p roboflow.Predictor) *detector.DetectorService {
	t.Helper()
	return detector.NewDetectorService(testConfig(t), p, annotate.NewAnnotator(annotate.NewColorMap()), nil, logger.NewNop())
}

func pngImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeTestVideo(t *testing.T, frames int) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "clip.avi")
	w, err := gocv.VideoWriterFile(path, "MJPG", 10, 64, 48, true)
	require.NoError(t, err)
	for i := 0; i < frames; i++ {
		mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(30, 60, float64(i*25), 0), 48, 64, gocv.MatTypeCV8UC3)
		require.NoError(t, w.Write(mat))
		mat.Close()
	}
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

// multipartBody builds a form with the given text fields and, when file is non-nil, a "file" part.
func multipartBody(t *testing.T, fields map[string]string, filename string, file []byte) (*bytes.Buffer, string) {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func newStreamMux(m *stream.Manager) *http.ServeMux {
	mux := http.NewServeMux()
	l := logger.NewNop()
	mux.HandleFunc("POST /upload_stream/{$}", UploadStreamHandler(m, l))
	mux.HandleFunc("GET /video_feed/{id}", VideoFeedHandler(m, l))
	mux.HandleFunc("GET /ws/video_feed/{id}", WatchStreamHandler(m, l))
	return mux
}
