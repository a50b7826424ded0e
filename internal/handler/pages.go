package handler

import (
	"net/http"
	"os"
	"path/filepath"
)

// PageHandler serves /{page} as {dir}/{page}.html if the file exists, and / as index.html.
func PageHandler(dir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page := r.PathValue("page")
		if page == "" {
			page = "index"
		}

		filePath := filepath.Join(dir, filepath.Base(page)+".html")
		if info, err := os.Stat(filePath); err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}

		http.ServeFile(w, r, filePath)
	}
}
