package vision

import (
	"github.com/bissquit/wastewatch/internal/domain"
)

// SeverityRule matches a summary when its fill exceeds FillAbove or when any
// detected class is listed in Classes. A rule with neither condition never matches.
type SeverityRule struct {
	Severity  domain.Severity
	FillAbove *float64
	Classes   []string
}

// DefaultSeverityRules returns the standard policy table.
func DefaultSeverityRules() []SeverityRule {
	high := 80.0
	medium := 40.0
	return []SeverityRule{
		{Severity: domain.SeverityHigh, FillAbove: &high},
		{Severity: domain.SeverityHigh, Classes: []string{"hazardous", "large-debris"}},
		{Severity: domain.SeverityMedium, FillAbove: &medium},
	}
}

// SeverityPolicy classifies summaries using an ordered rule table.
// The first matching rule wins; no match means low severity.
type SeverityPolicy struct {
	rules []compiledRule
}

type compiledRule struct {
	severity  domain.Severity
	fillAbove *float64
	classes   map[string]struct{}
}

// NewSeverityPolicy compiles rules. Class names are normalized like detection labels.
func NewSeverityPolicy(rules []SeverityRule) *SeverityPolicy {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		cr := compiledRule{
			severity:  r.Severity,
			fillAbove: r.FillAbove,
			classes:   make(map[string]struct{}, len(r.Classes)),
		}
		for _, c := range r.Classes {
			cr.classes[NormalizeLabel(c)] = struct{}{}
		}
		compiled = append(compiled, cr)
	}
	return &SeverityPolicy{rules: compiled}
}

// Classify returns the severity of a summary.
func (p *SeverityPolicy) Classify(summary *domain.DetectionSummary) domain.Severity {
	if summary == nil {
		return domain.SeverityLow
	}
	for _, r := range p.rules {
		if r.matches(summary) {
			return r.severity
		}
	}
	return domain.SeverityLow
}

func (r compiledRule) matches(summary *domain.DetectionSummary) bool {
	if r.fillAbove != nil && summary.FillPercentage > *r.fillAbove {
		return true
	}
	for _, d := range summary.Detections {
		if _, ok := r.classes[d.Class]; ok {
			return true
		}
	}
	return false
}
