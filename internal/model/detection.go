package model

import "time"

const (
	SourceImage  = "image"
	SourceStream = "stream"
)

// Detection represents one object found by the model, either in an uploaded image or a stream frame.
type Detection struct {
	ID         int64     `json:"id"`
	Source     string    `json:"source"`
	SourceID   string    `json:"source_id,omitempty"`
	ClassName  string    `json:"class_name"`
	X          int       `json:"x"`
	Y          int       `json:"y"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}
