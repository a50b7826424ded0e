package handler

import (
	"net/http"
	"os"

	"detectserver/internal/logger"
)

// ShowLogsHandler serves the active server log as text/plain.
func ShowLogsHandler(logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filePath := logger.FilePath()
		if filePath == "" {
			http.Error(w, "Log file not found", http.StatusNotFound)
			return
		}
		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			http.Error(w, "Log file not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")

		http.ServeFile(w, r, filePath)
	}
}

// RotateLogsHandler starts a new log file; the old one is kept as a backup.
func RotateLogsHandler(logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := logger.Rotate(); err != nil {
			logger.Error("Failed to rotate log file: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
