package remote

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bissquit/wastewatch/internal/vision"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(Config{URL: "http://model:8000"})

	assert.Equal(t, defaultTimeout, client.config.Timeout)
	assert.Equal(t, defaultWasteConfidence, client.config.WasteConfidence)
	assert.Equal(t, defaultTruckConfidence, client.config.TruckConfidence)
}

func TestClient_Detect_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/detect", r.URL.Path)
		assert.Equal(t, "truck", r.URL.Query().Get("mode"))
		assert.Equal(t, "0.15", r.URL.Query().Get("conf"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer func() { _ = file.Close() }()
		assert.Equal(t, "truck.jpg", header.Filename)
		data, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, []byte("jpeg-bytes"), data)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"detections": [{"label": "truck", "confidence": 0.91, "box": {"x1": 0, "y1": 0, "x2": 320, "y2": 240}}],
			"image_width": 640,
			"image_height": 480,
			"processed_image": "` + base64.StdEncoding.EncodeToString([]byte("annotated")) + `"
		}`))
	}))
	defer server.Close()

	client := NewClient(Config{URL: server.URL})
	analysis, err := client.Detect(context.Background(), vision.DetectRequest{
		Image:    []byte("jpeg-bytes"),
		Filename: "truck.jpg",
		Mode:     vision.ModeTruck,
	})
	require.NoError(t, err)

	require.Len(t, analysis.Reading.Detections, 1)
	assert.Equal(t, "truck", analysis.Reading.Detections[0].Label)
	assert.Equal(t, 640, analysis.Reading.ImageWidth)
	assert.Equal(t, []byte("annotated"), analysis.ProcessedImage)
}

func TestClient_Detect_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"server error", http.StatusInternalServerError, "boom", vision.ErrDetectorUnavailable},
		{"rate limited", http.StatusTooManyRequests, "slow down", vision.ErrDetectorUnavailable},
		{"bad image", http.StatusUnprocessableEntity, "not an image", vision.ErrImageRejected},
		{"garbage body", http.StatusOK, "{not json", vision.ErrMalformedDetection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(Config{URL: server.URL})
			_, err := client.Detect(context.Background(), vision.DetectRequest{Image: []byte("x"), Mode: vision.ModeWaste})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestClient_Detect_Unreachable(t *testing.T) {
	client := NewClient(Config{URL: "http://127.0.0.1:1", Timeout: time.Second})
	_, err := client.Detect(context.Background(), vision.DetectRequest{Image: []byte("x")})
	assert.ErrorIs(t, err, vision.ErrDetectorUnavailable)
}

func TestClient_Detect_NotConfigured(t *testing.T) {
	client := NewClient(Config{})
	_, err := client.Detect(context.Background(), vision.DetectRequest{Image: []byte("x")})
	assert.ErrorIs(t, err, vision.ErrDetectorUnavailable)
}
