package vision

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/bissquit/wastewatch/internal/domain"
)

// Mode selects the model pass to run on an image.
type Mode string

// Detection modes.
const (
	ModeWaste Mode = "waste"
	ModeTruck Mode = "truck"
)

// DetectRequest is a single image submitted to the model.
type DetectRequest struct {
	Image    []byte
	Filename string
	Mode     Mode
}

// Analysis is the raw model output plus the annotated image, if any.
type Analysis struct {
	Reading        RawReading
	ProcessedImage []byte
}

// Detector runs the external object-detection model.
type Detector interface {
	Detect(ctx context.Context, req DetectRequest) (*Analysis, error)
}

// TruckStats are the load figures reported for a truck image.
type TruckStats struct {
	FillPercentage      float64 `json:"fill_percentage"`
	EstimatedVolumeM3   float64 `json:"estimated_volume_m3"`
	EstimatedWeightTons float64 `json:"estimated_weight_tons"`
	TruckDetected       bool    `json:"truck_detected"`
}

// TruckReport is the result of analyzing a truck image.
type TruckReport struct {
	Detections     []domain.Detection `json:"detections"`
	Severity       domain.Severity    `json:"severity"`
	Stats          TruckStats         `json:"stats"`
	ProcessedImage string             `json:"processed_image,omitempty"`
}

// Scan is a detection pass over a waste image.
type Scan struct {
	Summary        *domain.DetectionSummary
	Severity       domain.Severity
	ProcessedImage string
}

// Analyzer combines the external detector with normalization and classification.
type Analyzer struct {
	detector Detector
	adapter  *Adapter
	policy   *SeverityPolicy
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer(detector Detector, adapter *Adapter, policy *SeverityPolicy) *Analyzer {
	return &Analyzer{
		detector: detector,
		adapter:  adapter,
		policy:   policy,
	}
}

// ScanWaste detects waste in an image and returns the normalized summary.
func (a *Analyzer) ScanWaste(ctx context.Context, image []byte, filename string) (*Scan, error) {
	analysis, err := a.detector.Detect(ctx, DetectRequest{Image: image, Filename: filename, Mode: ModeWaste})
	if err != nil {
		return nil, fmt.Errorf("detect waste: %w", err)
	}

	summary, err := a.adapter.Summarize(analysis.Reading)
	if err != nil {
		return nil, fmt.Errorf("summarize detections: %w", err)
	}

	return &Scan{
		Summary:        summary,
		Severity:       a.policy.Classify(summary),
		ProcessedImage: encodeImage(analysis.ProcessedImage),
	}, nil
}

// AnalyzeTruck estimates the load of a truck in an image.
func (a *Analyzer) AnalyzeTruck(ctx context.Context, image []byte, filename string) (*TruckReport, error) {
	analysis, err := a.detector.Detect(ctx, DetectRequest{Image: image, Filename: filename, Mode: ModeTruck})
	if err != nil {
		return nil, fmt.Errorf("detect truck: %w", err)
	}

	summary, err := a.adapter.Summarize(analysis.Reading)
	if err != nil {
		return nil, fmt.Errorf("summarize detections: %w", err)
	}

	return &TruckReport{
		Detections: summary.Detections,
		Severity:   a.policy.Classify(summary),
		Stats: TruckStats{
			FillPercentage:      summary.FillPercentage,
			EstimatedVolumeM3:   summary.EstimatedVolume,
			EstimatedWeightTons: summary.EstimatedWeight,
			TruckDetected:       summary.TruckDetected,
		},
		ProcessedImage: encodeImage(analysis.ProcessedImage),
	}, nil
}

func encodeImage(img []byte) string {
	if len(img) == 0 {
		return ""
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img)
}
