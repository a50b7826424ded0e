package dto

// DetectionResult is the /detect response body.
type DetectionResult struct {
	Message string `json:"message"`
	Image   string `json:"image"` // base64 JPEG
}
