package domain

// Detection is one classified object found in an image.
type Detection struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

// DetectionSummary is the normalized output of the vision pipeline.
type DetectionSummary struct {
	Detections      []Detection `json:"detections"`
	FillPercentage  float64     `json:"fill_percentage"`
	EstimatedVolume float64     `json:"estimated_volume"`
	EstimatedWeight float64     `json:"estimated_weight"`
	TruckDetected   bool        `json:"truck_detected"`
}

// Classes returns the detected class names in order.
func (s *DetectionSummary) Classes() []string {
	classes := make([]string, 0, len(s.Detections))
	for _, d := range s.Detections {
		classes = append(classes, d.Class)
	}
	return classes
}

// Clone returns a deep copy of the summary.
func (s *DetectionSummary) Clone() *DetectionSummary {
	cp := *s
	cp.Detections = append(make([]Detection, 0, len(s.Detections)), s.Detections...)
	return &cp
}
