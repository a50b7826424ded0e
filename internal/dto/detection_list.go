package dto

import "detectserver/internal/model"

// DetectionList is the /api/detections response body.
type DetectionList struct {
	Detections []model.Detection `json:"detections"`
	Stored     int               `json:"stored"`
	Limit      int               `json:"limit"`
}
