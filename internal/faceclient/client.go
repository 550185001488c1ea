package faceclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"attendify/internal/verification"
)

// SkipConfidence is the confidence reported in skip mode.
const SkipConfidence = 95

var ErrNoTemplates = errors.New("at least one template image required")

// FaceQuality describes the live frame as seen by the face service.
type FaceQuality struct {
	Score     float64 `json:"score"`
	Blur      float64 `json:"blur"`
	IsFrontal bool    `json:"is_frontal"`
}

// CompareResult is the face service's verdict on a live frame.
type CompareResult struct {
	IsMatch       bool         `json:"is_match"`
	Confidence    float64      `json:"confidence"`
	Reason        string       `json:"reason"`
	FacesDetected int          `json:"faces_detected"`
	Quality       *FaceQuality `json:"quality,omitempty"`
}

type compareRequest struct {
	LiveImage string   `json:"live_image"`
	Templates []string `json:"templates"`
	Threshold int      `json:"threshold"`
}

// Client calls the face recognition microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client with configurable timeout.
func New(baseURL string, skip bool, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: timeout,
		},
	}
}

// Compare sends the live frame and the reference templates to the face
// service. Images travel base64 encoded.
func (c *Client) Compare(ctx context.Context, live []byte, templates [][]byte, threshold int) (*CompareResult, error) {
	if c.Skip {
		return &CompareResult{
			IsMatch:       true,
			Confidence:    SkipConfidence,
			Reason:        "face service skipped",
			FacesDetected: 1,
		}, nil
	}
	if len(live) == 0 {
		return nil, fmt.Errorf("live image required")
	}
	if len(templates) == 0 {
		return nil, ErrNoTemplates
	}

	payload := compareRequest{
		LiveImage: base64.StdEncoding.EncodeToString(live),
		Templates: make([]string, 0, len(templates)),
		Threshold: threshold,
	}
	for _, t := range templates {
		payload.Templates = append(payload.Templates, base64.StdEncoding.EncodeToString(t))
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/compare", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out CompareResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if out.Confidence < 0 || out.Confidence > 100 {
		return nil, fmt.Errorf("face service returned confidence %.2f outside 0-100", out.Confidence)
	}
	return &out, nil
}

// CompareFaces satisfies verification.Comparator.
func (c *Client) CompareFaces(ctx context.Context, live []byte, templates [][]byte, threshold int) (verification.Match, error) {
	res, err := c.Compare(ctx, live, templates, threshold)
	if err != nil {
		return verification.Match{}, err
	}
	return verification.Match{IsMatch: res.IsMatch, Confidence: res.Confidence, Reason: res.Reason}, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}

	return nil
}
