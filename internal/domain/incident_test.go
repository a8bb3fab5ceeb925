package domain

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncidentStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from IncidentStatus
		to   IncidentStatus
		want bool
	}{
		{IncidentStatusOpen, IncidentStatusAssigned, true},
		{IncidentStatusOpen, IncidentStatusResolved, true},
		{IncidentStatusAssigned, IncidentStatusResolved, true},
		{IncidentStatusAssigned, IncidentStatusOpen, false},
		{IncidentStatusResolved, IncidentStatusOpen, false},
		{IncidentStatusResolved, IncidentStatusAssigned, false},
		{IncidentStatusOpen, IncidentStatus("unknown"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestIncident_TransitionTo(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("same state is a no-op", func(t *testing.T) {
		inc := &Incident{Status: IncidentStatusOpen}
		changed, err := inc.TransitionTo(IncidentStatusOpen, now)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.True(t, inc.UpdatedAt.IsZero())
	})

	t.Run("resolve sets resolved_at", func(t *testing.T) {
		inc := &Incident{Status: IncidentStatusAssigned}
		changed, err := inc.TransitionTo(IncidentStatusResolved, now)
		require.NoError(t, err)
		assert.True(t, changed)
		require.NotNil(t, inc.ResolvedAt)
		assert.Equal(t, now, *inc.ResolvedAt)
	})

	t.Run("resolved is terminal", func(t *testing.T) {
		inc := &Incident{Status: IncidentStatusResolved}
		_, err := inc.TransitionTo(IncidentStatusOpen, now)
		assert.ErrorIs(t, err, ErrIllegalTransition)

		var te *TransitionError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, IncidentStatusResolved, te.From)
	})
}

func TestIncident_RandomTransitionsStayInTable(t *testing.T) {
	statuses := []IncidentStatus{IncidentStatusOpen, IncidentStatusAssigned, IncidentStatusResolved}
	rng := rand.New(rand.NewSource(7))

	for run := 0; run < 200; run++ {
		inc := &Incident{Status: IncidentStatusOpen}
		for step := 0; step < 10; step++ {
			before := inc.Status
			next := statuses[rng.Intn(len(statuses))]

			var err error
			if next == IncidentStatusOpen {
				err = inc.Reopen(time.Now())
			} else {
				_, err = inc.TransitionTo(next, time.Now())
			}

			if err != nil {
				assert.Equal(t, before, inc.Status, "failed transition must not change status")
				continue
			}
			legal := before == inc.Status ||
				before.CanTransitionTo(inc.Status) ||
				(before == IncidentStatusAssigned && inc.Status == IncidentStatusOpen)
			assert.True(t, legal, "%s -> %s", before, inc.Status)
		}
	}
}

func TestIncident_Reopen(t *testing.T) {
	inc := &Incident{Status: IncidentStatusAssigned}
	require.NoError(t, inc.Reopen(time.Now()))
	assert.Equal(t, IncidentStatusOpen, inc.Status)

	assert.ErrorIs(t, inc.Reopen(time.Now()), ErrIllegalTransition)
}

func TestLocation_IsValid(t *testing.T) {
	tests := []struct {
		name string
		loc  Location
		want bool
	}{
		{"city center", Location{Lat: 28.6139, Lng: 77.2090}, true},
		{"poles and antimeridian", Location{Lat: -90, Lng: 180}, true},
		{"lat out of range", Location{Lat: 91, Lng: 0}, false},
		{"lng out of range", Location{Lat: 0, Lng: -180.5}, false},
		{"nan", Location{Lat: math.NaN(), Lng: 0}, false},
		{"inf", Location{Lat: 0, Lng: math.Inf(1)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.loc.IsValid())
		})
	}
}

func TestIncident_CloneIsDeep(t *testing.T) {
	contractor := "c-1"
	inc := &Incident{
		ContractorID: &contractor,
		Detection:    &DetectionSummary{Detections: []Detection{{Class: "plastic", Confidence: 0.9}}},
	}

	cp := inc.Clone()
	*cp.ContractorID = "c-2"
	cp.Detection.Detections[0].Class = "metal"

	assert.Equal(t, "c-1", *inc.ContractorID)
	assert.Equal(t, "plastic", inc.Detection.Detections[0].Class)
}
