package handler

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageHandler(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>viewer</h1>"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "about.html"), []byte("<p>about</p>"), 0644))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", PageHandler(dir))
	mux.HandleFunc("GET /{page}", PageHandler(dir))

	cases := []struct {
		path string
		code int
		body string
	}{
		{"/", http.StatusOK, "<h1>viewer</h1>"},
		{"/about", http.StatusOK, "<p>about</p>"},
		{"/missing", http.StatusNotFound, ""},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tc.path, nil))
		assert.Equal(t, tc.code, rr.Code, tc.path)
		if tc.body != "" {
			assert.Equal(t, tc.body, rr.Body.String(), tc.path)
			assert.Contains(t, rr.Header().Get("Content-Type"), "text/html", tc.path)
		}
	}
}
