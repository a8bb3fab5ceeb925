package vision

import (
	"testing"

	"github.com/bissquit/wastewatch/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestSeverityPolicy_DefaultRules(t *testing.T) {
	policy := NewSeverityPolicy(DefaultSeverityRules())

	tests := []struct {
		name    string
		summary *domain.DetectionSummary
		want    domain.Severity
	}{
		{"fill 85 is high", &domain.DetectionSummary{FillPercentage: 85}, domain.SeverityHigh},
		{"fill 80 is medium", &domain.DetectionSummary{FillPercentage: 80}, domain.SeverityMedium},
		{"fill 50 is medium", &domain.DetectionSummary{FillPercentage: 50}, domain.SeverityMedium},
		{"fill 40 is low", &domain.DetectionSummary{FillPercentage: 40}, domain.SeverityLow},
		{"fill 10 is low", &domain.DetectionSummary{FillPercentage: 10}, domain.SeverityLow},
		{
			"hazardous class is high",
			&domain.DetectionSummary{FillPercentage: 10, Detections: []domain.Detection{{Class: "hazardous", Confidence: 0.4}}},
			domain.SeverityHigh,
		},
		{"nil summary is low", nil, domain.SeverityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.Classify(tt.summary))
		})
	}
}

func TestSeverityPolicy_CustomTable(t *testing.T) {
	threshold := 20.0
	policy := NewSeverityPolicy([]SeverityRule{
		{Severity: domain.SeverityHigh, Classes: []string{"Medical Waste"}},
		{Severity: domain.SeverityMedium, FillAbove: &threshold},
	})

	medical := &domain.DetectionSummary{Detections: []domain.Detection{{Class: "medical-waste"}}}
	assert.Equal(t, domain.SeverityHigh, policy.Classify(medical))
	assert.Equal(t, domain.SeverityMedium, policy.Classify(&domain.DetectionSummary{FillPercentage: 25}))
	assert.Equal(t, domain.SeverityLow, policy.Classify(&domain.DetectionSummary{FillPercentage: 5}))
}
