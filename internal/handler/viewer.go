package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"detectserver/internal/logger"
	"detectserver/internal/service/stream"
)

const writeWait = 5 * time.Second

// Upgrader upgrades HTTP connections to WebSocket; CheckOrigin allows all origins.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WatchStreamHandler handles GET /ws/video_feed/{id}. It delivers the same frames as
// VideoFeedHandler, one binary WebSocket message per JPEG, with the same teardown rules.
func WatchStreamHandler(manager *stream.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		sess, ok := manager.Get(id)
		if !ok {
			http.Error(w, "Invalid stream ID", http.StatusNotFound)
			return
		}
		defer manager.Teardown(id)

		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("[%s] WebSocket upgrade error: %v", id, err)
			return
		}
		defer connection.Close()

		logger.Info("[%s] Viewer connected", id)

		// The read loop only exists to notice the viewer leaving.
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			defer cancel()
			for {
				if _, _, err := connection.ReadMessage(); err != nil {
					if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
						logger.Info("[%s] Viewer disconnected normally", id)
					} else {
						logger.Info("[%s] Viewer disconnected: %v", id, err)
					}
					return
				}
			}
		}()

		for {
			frame, err := sess.Frames.Pop(ctx, manager.IdleTimeout())
			if err != nil {
				logStreamEnd(logger, id, err)
				break
			}

			connection.SetWriteDeadline(time.Now().Add(writeWait))
			if err := connection.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				logger.Warning("[%s] Streaming stopped: %v", id, err)
				return
			}
		}

		connection.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"),
			time.Now().Add(writeWait))
	}
}
