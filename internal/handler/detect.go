package handler

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"

	"detectserver/internal/dto"
	"detectserver/internal/logger"
	"detectserver/internal/service/detector"
)

// DetectHandler handles POST /detect with a "message" form field and a "file" image.
// It answers with the message and the annotated image as base64 JPEG.
func DetectHandler(detectorService *detector.DetectorService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
			http.Error(w, "Failed to parse form", http.StatusBadRequest)
			return
		}
		defer r.MultipartForm.RemoveAll()

		messages, ok := r.MultipartForm.Value["message"]
		if !ok || len(messages) == 0 {
			http.Error(w, "Field 'message' is required", http.StatusBadRequest)
			return
		}

		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "No file uploaded", http.StatusBadRequest)
			return
		}
		defer file.Close()

		imageData, err := io.ReadAll(file)
		if err != nil {
			logger.Error("Error reading upload: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		result, err := detectorService.Detect(r.Context(), imageData)
		if err != nil {
			logger.Error("Detection failed: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		respondJSON(w, logger, http.StatusOK, dto.DetectionResult{
			Message: messages[0],
			Image:   base64.StdEncoding.EncodeToString(result.Image),
		})
	}
}

func respondJSON(w http.ResponseWriter, logger *logger.Logger, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Error encoding JSON response: %v", err)
	}
}
