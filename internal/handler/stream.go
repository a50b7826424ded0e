package handler

import (
	"errors"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"detectserver/internal/logger"
	"detectserver/internal/service/stream"
)

const (
	// maxUploadMemory is how much of a multipart upload is kept in memory before spilling to disk.
	maxUploadMemory = 32 << 20
	frameBoundary   = "frame"
)

// UploadStreamHandler handles POST /upload_stream/: it stores the video, starts
// background inference and answers with the path of the stream endpoint.
func UploadStreamHandler(manager *stream.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
			http.Error(w, "Failed to parse form", http.StatusBadRequest)
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "No file uploaded", http.StatusBadRequest)
			return
		}
		defer file.Close()

		sess, err := manager.Create(file)
		if errors.Is(err, stream.ErrManagerClosed) {
			http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
			return
		}
		if err != nil {
			logger.Error("Failed to create stream for %s: %v", header.Filename, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		logger.Info("[%s] Upload %s (%d bytes) accepted", sess.ID, header.Filename, header.Size)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("/video_feed/" + sess.ID))
	}
}

// VideoFeedHandler handles GET /video_feed/{id} by writing annotated frames as
// an MJPEG multipart stream until the client leaves or no frame arrives in time.
// The session is torn down when the stream ends.
func VideoFeedHandler(manager *stream.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		sess, ok := manager.Get(id)
		if !ok {
			http.Error(w, "Invalid stream ID", http.StatusNotFound)
			return
		}
		defer manager.Teardown(id)

		mw := multipart.NewWriter(w)
		if err := mw.SetBoundary(frameBoundary); err != nil {
			logger.Error("[%s] %v", id, err)
			return
		}

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+frameBoundary)
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)

		rc := http.NewResponseController(w)
		_ = rc.Flush()

		for {
			frame, err := sess.Frames.Pop(r.Context(), manager.IdleTimeout())
			if err != nil {
				logStreamEnd(logger, id, err)
				return
			}

			part, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"image/jpeg"}})
			if err == nil {
				_, err = part.Write(frame)
			}
			if err == nil {
				err = rc.Flush()
			}
			if err != nil {
				logger.Warning("[%s] Streaming stopped: %v", id, err)
				return
			}
		}
	}
}

func logStreamEnd(logger *logger.Logger, id string, err error) {
	switch {
	case errors.Is(err, stream.ErrIdleTimeout):
		logger.Info("[%s] Streaming stopped: no frame for a while", id)
	case errors.Is(err, stream.ErrClosed):
		logger.Info("[%s] Streaming stopped: session closed", id)
	default:
		logger.Info("[%s] Streaming stopped: %v", id, err)
	}
}
