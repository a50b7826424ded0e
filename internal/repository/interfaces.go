package repository

import (
	"detectserver/internal/dto"
	"detectserver/internal/model"
)

// DetectionRepository defines the interface for detection history operations.
type DetectionRepository interface {
	// Create operations
	InsertBatch(detections []model.Detection) error

	// Read operations
	List(filter *dto.DetectionFilter) ([]model.Detection, error)
	GetAllClassNames() ([]string, error)
	Count() (int, error)

	// Delete operations
	DeleteBySourceID(sourceID string) error
}
