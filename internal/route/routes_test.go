package route

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"detectserver/internal/config"
	"detectserver/internal/logger"
	"detectserver/internal/repository/sqlite"
	"detectserver/internal/service/annotate"
	"detectserver/internal/service/detector"
	"detectserver/internal/service/roboflow"
	"detectserver/internal/service/stream"
)

type nopPredictor struct{}

func (nopPredictor) Predict(ctx context.Context, image []byte, th roboflow.Thresholds) (*roboflow.Response, error) {
	return &roboflow.Response{}, nil
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html></html>"), 0644))
	cfg := &config.Config{
		UploadDir:         dir,
		StaticDirectory:   dir,
		TempImagePath:     filepath.Join(dir, "temp.jpg"),
		StreamIdleTimeout: time.Second,
	}
	l := logger.NewNop()

	db, err := sqlite.New(filepath.Join(dir, "routes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	annotator := annotate.NewAnnotator(annotate.NewColorMap())
	manager := stream.NewManager(cfg, nopPredictor{}, annotator, nil, l)
	t.Cleanup(manager.Close)

	return SetupRoutes(cfg, manager, detector.NewDetectorService(cfg, nopPredictor{}, annotator, nil, l),
		nil, annotator, sqlite.NewDetectionRepository(db), l)
}

func TestSetupRoutes(t *testing.T) {
	router := newTestRouter(t)

	cases := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/api/detections", http.StatusOK},
		{http.MethodGet, "/api/detections/classes", http.StatusOK},
		{http.MethodDelete, "/api/detections/abc", http.StatusNoContent},
		{http.MethodGet, "/video_feed/unknown", http.StatusNotFound},
		{http.MethodGet, "/ws/video_feed/unknown", http.StatusNotFound},
		{http.MethodGet, "/logs", http.StatusNotFound},
		{http.MethodPut, "/detect", http.StatusMethodNotAllowed},
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/upload_stream/", http.StatusMethodNotAllowed},
		{http.MethodPost, "/upload_stream/extra", http.StatusNotFound},
		{http.MethodGet, "/nothing-here", http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))
			assert.Equal(t, tc.want, rr.Code)
		})
	}
}

func TestSetupRoutes_CORS(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/detect", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://example.com")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}
