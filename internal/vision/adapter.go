// Package vision normalizes object-detection output into detection summaries
// and classifies their severity.
package vision

import (
	"fmt"
	"math"
	"strings"

	"github.com/bissquit/wastewatch/internal/domain"
	"golang.org/x/text/cases"
)

// TruckClass is the label the model uses for trucks.
const TruckClass = "truck"

// BoundingBox is a pixel-space rectangle in (x1, y1, x2, y2) form.
type BoundingBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Area returns the box area, zero for degenerate boxes.
func (b BoundingBox) Area() float64 {
	w := b.X2 - b.X1
	h := b.Y2 - b.Y1
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// RawDetection is one object as reported by the model.
type RawDetection struct {
	Label      string       `json:"label"`
	Confidence *float64     `json:"confidence"`
	Box        *BoundingBox `json:"box,omitempty"`
}

// RawReading is the complete model output for one image.
type RawReading struct {
	Detections     []RawDetection `json:"detections"`
	FillPercentage *float64       `json:"fill_percentage,omitempty"`
	ImageWidth     int            `json:"image_width,omitempty"`
	ImageHeight    int            `json:"image_height,omitempty"`
}

// Config holds load estimation parameters.
type Config struct {
	MaxVolumeM3   float64
	MaxWeightTons float64
	LoadFactor    float64
}

// DefaultConfig returns the capacities of a standard 20 m3 tipper.
func DefaultConfig() Config {
	return Config{
		MaxVolumeM3:   20,
		MaxWeightTons: 12,
		LoadFactor:    1.5,
	}
}

// Adapter turns raw readings into detection summaries.
type Adapter struct {
	config Config
}

// NewAdapter creates an adapter. Zero config fields fall back to defaults.
func NewAdapter(config Config) *Adapter {
	def := DefaultConfig()
	if config.MaxVolumeM3 <= 0 {
		config.MaxVolumeM3 = def.MaxVolumeM3
	}
	if config.MaxWeightTons <= 0 {
		config.MaxWeightTons = def.MaxWeightTons
	}
	if config.LoadFactor <= 0 {
		config.LoadFactor = def.LoadFactor
	}
	return &Adapter{config: config}
}

// Summarize validates and normalizes a raw reading.
func (a *Adapter) Summarize(raw RawReading) (*domain.DetectionSummary, error) {
	summary := &domain.DetectionSummary{
		Detections: make([]domain.Detection, 0, len(raw.Detections)),
	}

	var maxArea float64
	for i, d := range raw.Detections {
		label := NormalizeLabel(d.Label)
		if label == "" {
			return nil, fmt.Errorf("%w: detection %d has no label", ErrMalformedDetection, i)
		}
		if d.Confidence == nil {
			return nil, fmt.Errorf("%w: detection %d has no confidence", ErrMalformedDetection, i)
		}
		if !isFinite(*d.Confidence) {
			return nil, fmt.Errorf("%w: detection %d confidence is not a number", ErrMalformedDetection, i)
		}

		summary.Detections = append(summary.Detections, domain.Detection{
			Class:      label,
			Confidence: clamp(*d.Confidence, 0, 1),
		})

		if d.Box != nil {
			area := d.Box.Area()
			if label == TruckClass || area > maxArea {
				summary.TruckDetected = true
				maxArea = area
			}
		} else if label == TruckClass {
			summary.TruckDetected = true
		}
	}

	switch {
	case raw.FillPercentage != nil:
		if !isFinite(*raw.FillPercentage) {
			return nil, fmt.Errorf("%w: fill percentage is not a number", ErrMalformedDetection)
		}
		summary.FillPercentage = clamp(*raw.FillPercentage, 0, 100)
	case maxArea > 0 && raw.ImageWidth > 0 && raw.ImageHeight > 0:
		summary.FillPercentage = a.estimateFill(maxArea, float64(raw.ImageWidth*raw.ImageHeight))
	}

	summary.EstimatedVolume = round1(summary.FillPercentage / 100 * a.config.MaxVolumeM3)
	summary.EstimatedWeight = round1(summary.FillPercentage / 100 * a.config.MaxWeightTons)

	return summary, nil
}

// estimateFill scales the share of the frame covered by the largest box.
func (a *Adapter) estimateFill(boxArea, imageArea float64) float64 {
	ratio := boxArea / imageArea * 100
	return math.Min(math.Round(ratio*a.config.LoadFactor), 100)
}

// NormalizeLabel folds case, trims, and joins words with dashes.
// A Caser is stateful, so one is created per call.
func NormalizeLabel(label string) string {
	fields := strings.Fields(cases.Fold().String(label))
	return strings.Join(fields, "-")
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
