// Package remote provides a vision.Detector backed by an HTTP model server.
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bissquit/wastewatch/internal/vision"
)

const (
	defaultTimeout         = 30 * time.Second
	defaultWasteConfidence = 0.25
	defaultTruckConfidence = 0.15
	maxResponseBytes       = 16 << 20
)

// Config holds model server settings.
type Config struct {
	URL             string
	Timeout         time.Duration
	WasteConfidence float64
	TruckConfidence float64
}

// Client posts images to the model server.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a new model server client.
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.WasteConfidence <= 0 {
		config.WasteConfidence = defaultWasteConfidence
	}
	if config.TruckConfidence <= 0 {
		config.TruckConfidence = defaultTruckConfidence
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

type detectResponse struct {
	Detections     []vision.RawDetection `json:"detections"`
	FillPercentage *float64              `json:"fill_percentage"`
	ImageWidth     int                   `json:"image_width"`
	ImageHeight    int                   `json:"image_height"`
	ProcessedImage string                `json:"processed_image"`
}

// Detect uploads the image and decodes the model output.
func (c *Client) Detect(ctx context.Context, req vision.DetectRequest) (*vision.Analysis, error) {
	if c.config.URL == "" {
		return nil, fmt.Errorf("%w: model url is not configured", vision.ErrDetectorUnavailable)
	}

	body, contentType, err := encodeImage(req)
	if err != nil {
		return nil, err
	}

	endpoint, err := c.endpoint(req.Mode)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vision.ErrDetectorUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	analysis, err := c.handleResponse(resp)
	if err != nil {
		return nil, err
	}

	slog.Debug("model inference completed",
		"mode", req.Mode,
		"detections", len(analysis.Reading.Detections),
		"duration", time.Since(start),
	)
	return analysis, nil
}

func (c *Client) endpoint(mode vision.Mode) (string, error) {
	u, err := url.Parse(c.config.URL)
	if err != nil {
		return "", fmt.Errorf("parse model url: %w", err)
	}
	u = u.JoinPath("v1", "detect")

	conf := c.config.WasteConfidence
	if mode == vision.ModeTruck {
		conf = c.config.TruckConfidence
	}

	q := u.Query()
	q.Set("mode", string(mode))
	q.Set("conf", strconv.FormatFloat(conf, 'f', -1, 64))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func encodeImage(req vision.DetectRequest) (io.Reader, string, error) {
	filename := req.Filename
	if filename == "" {
		filename = "upload.jpg"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(req.Image); err != nil {
		return nil, "", fmt.Errorf("write image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

func (c *Client) handleResponse(resp *http.Response) (*vision.Analysis, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", vision.ErrDetectorUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: status %d: %s", vision.ErrDetectorUnavailable, resp.StatusCode, truncate(body))
	default:
		return nil, fmt.Errorf("%w: status %d: %s", vision.ErrImageRejected, resp.StatusCode, truncate(body))
	}

	var decoded detectResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("%w: decode model response: %v", vision.ErrMalformedDetection, err)
	}

	analysis := &vision.Analysis{
		Reading: vision.RawReading{
			Detections:     decoded.Detections,
			FillPercentage: decoded.FillPercentage,
			ImageWidth:     decoded.ImageWidth,
			ImageHeight:    decoded.ImageHeight,
		},
	}

	if decoded.ProcessedImage != "" {
		img, err := base64.StdEncoding.DecodeString(decoded.ProcessedImage)
		if err != nil {
			slog.Warn("discarding undecodable processed image", "error", err)
		} else {
			analysis.ProcessedImage = img
		}
	}

	return analysis, nil
}

func truncate(body []byte) string {
	if len(body) > 200 {
		return string(body[:200]) + "..."
	}
	return string(body)
}
