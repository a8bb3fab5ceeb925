package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bissquit/wastewatch/internal/domain"
	"github.com/bissquit/wastewatch/internal/escalation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSender_Send_SignsBody(t *testing.T) {
	var received payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		assert.Equal(t, Sign(body, "s3cret"), r.Header.Get(SignatureHeader))
		require.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	notice := escalation.Render(domain.Escalation{
		ID:           "e-1",
		IncidentID:   "i-1",
		IncidentType: domain.DefaultIncidentType,
		Severity:     domain.SeverityHigh,
		Reasons:      []string{domain.EscalationReasonHighSeverity},
	})

	err := NewSender(Config{URL: server.URL, Secret: "s3cret"}).Send(context.Background(), notice)
	require.NoError(t, err)

	assert.Equal(t, notice.Subject, received.Subject)
	assert.Equal(t, "i-1", received.Escalation.IncidentID)
}

func TestSender_Send_NoSecretNoSignature(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get(SignatureHeader))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := NewSender(Config{URL: server.URL}).Send(context.Background(), escalation.Notice{Body: "x"})
	assert.NoError(t, err)
}

func TestSender_Send_Failures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"client error", http.StatusUnprocessableEntity, false},
		{"server error", http.StatusServiceUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			err := NewSender(Config{URL: server.URL}).Send(context.Background(), escalation.Notice{Body: "x"})

			var delivery *escalation.DeliveryError
			require.True(t, errors.As(err, &delivery))
			assert.Equal(t, tt.retryable, delivery.IsRetryable())
		})
	}
}

func TestSign(t *testing.T) {
	// echo -n '{"a":1}' | openssl dgst -sha256 -hmac key
	assert.Equal(t, "88a67f24bbcdaed0e6c997404bb79a743baf44c6bab2f4c27328e3009d22e342", Sign([]byte(`{"a":1}`), "key"))
	assert.NotEqual(t, Sign([]byte("a"), "key"), Sign([]byte("a"), "other"))
}
