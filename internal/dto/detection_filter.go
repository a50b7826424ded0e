package dto

// DetectionFilter narrows the detection history listing.
type DetectionFilter struct {
	Source    string
	SourceID  string
	ClassName string
	Limit     int
}
