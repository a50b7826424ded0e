package dto

import "time"

// Health is the /health response body.
type Health struct {
	Status            string         `json:"status"`
	Streams           int            `json:"streams"`
	Sessions          []StreamStatus `json:"sessions"`
	PendingDetections int            `json:"pending_detections"`
	KnownClasses      int            `json:"known_classes"`
}

// StreamStatus describes one live stream session.
type StreamStatus struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Buffered    int       `json:"buffered"`
	Frames      int64     `json:"frames"`
	Predictions int64     `json:"predictions"`
	Failures    int64     `json:"failures"`
}
