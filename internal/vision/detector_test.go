package vision

import (
	"context"
	"errors"
	"testing"

	"github.com/bissquit/wastewatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDetector struct {
	analysis *Analysis
	err      error
	lastReq  DetectRequest
}

func (f *fakeDetector) Detect(_ context.Context, req DetectRequest) (*Analysis, error) {
	f.lastReq = req
	return f.analysis, f.err
}

func TestAnalyzer_AnalyzeTruck(t *testing.T) {
	detector := &fakeDetector{analysis: &Analysis{
		Reading: RawReading{
			Detections: []RawDetection{
				{Label: "Truck", Confidence: ptr(0.88), Box: &BoundingBox{X2: 500, Y2: 480}},
			},
			ImageWidth:  640,
			ImageHeight: 480,
		},
		ProcessedImage: []byte{0xff, 0xd8},
	}}
	analyzer := NewAnalyzer(detector, NewAdapter(DefaultConfig()), NewSeverityPolicy(DefaultSeverityRules()))

	report, err := analyzer.AnalyzeTruck(context.Background(), []byte("img"), "load.jpg")
	require.NoError(t, err)

	assert.Equal(t, ModeTruck, detector.lastReq.Mode)
	assert.Equal(t, "load.jpg", detector.lastReq.Filename)
	assert.True(t, report.Stats.TruckDetected)
	assert.Equal(t, 100.0, report.Stats.FillPercentage)
	assert.Equal(t, 20.0, report.Stats.EstimatedVolumeM3)
	assert.Equal(t, 12.0, report.Stats.EstimatedWeightTons)
	assert.Equal(t, domain.SeverityHigh, report.Severity)
	assert.Equal(t, "data:image/jpeg;base64,/9g=", report.ProcessedImage)
}

func TestAnalyzer_ScanWaste_PropagatesErrors(t *testing.T) {
	t.Run("detector failure", func(t *testing.T) {
		detector := &fakeDetector{err: ErrDetectorUnavailable}
		analyzer := NewAnalyzer(detector, NewAdapter(DefaultConfig()), NewSeverityPolicy(DefaultSeverityRules()))

		_, err := analyzer.ScanWaste(context.Background(), []byte("img"), "")
		assert.True(t, errors.Is(err, ErrDetectorUnavailable))
	})

	t.Run("malformed output", func(t *testing.T) {
		detector := &fakeDetector{analysis: &Analysis{Reading: RawReading{
			Detections: []RawDetection{{Label: "plastic"}},
		}}}
		analyzer := NewAnalyzer(detector, NewAdapter(DefaultConfig()), NewSeverityPolicy(DefaultSeverityRules()))

		_, err := analyzer.ScanWaste(context.Background(), []byte("img"), "")
		assert.ErrorIs(t, err, ErrMalformedDetection)
	})
}

func TestAnalyzer_ScanWaste(t *testing.T) {
	detector := &fakeDetector{analysis: &Analysis{Reading: RawReading{
		Detections:     []RawDetection{{Label: "plastic", Confidence: ptr(0.7)}},
		FillPercentage: ptr(50),
	}}}
	analyzer := NewAnalyzer(detector, NewAdapter(DefaultConfig()), NewSeverityPolicy(DefaultSeverityRules()))

	scan, err := analyzer.ScanWaste(context.Background(), []byte("img"), "site.jpg")
	require.NoError(t, err)

	assert.Equal(t, ModeWaste, detector.lastReq.Mode)
	assert.Equal(t, domain.SeverityMedium, scan.Severity)
	assert.Equal(t, 10.0, scan.Summary.EstimatedVolume)
	assert.Empty(t, scan.ProcessedImage)
}
