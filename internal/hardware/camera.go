package hardware

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"attendify/internal/capture"
	"attendify/internal/verification"
)

var ErrStreamClosed = errors.New("camera stream closed")

// SnapshotCamera pulls JPEG stills from an ESP32-CAM over HTTP. Each Frame
// call fetches GET http://<addr>/capture.
type SnapshotCamera struct {
	Addr string
	HTTP *http.Client
}

func NewSnapshotCamera(addr string, timeout time.Duration) *SnapshotCamera {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SnapshotCamera{Addr: addr, HTTP: &http.Client{Timeout: timeout}}
}

func (c *SnapshotCamera) url(path string) string {
	base := c.Addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return strings.TrimRight(base, "/") + path
}

// Open checks the node answers before handing out a stream.
func (c *SnapshotCamera) Open(ctx context.Context) (verification.Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.url("/capture"), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("camera node %s: %w", c.Addr, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("camera node %s: status %d", c.Addr, resp.StatusCode)
	}
	return &snapshotStream{cam: c}, nil
}

type snapshotStream struct {
	cam    *SnapshotCamera
	mu     sync.Mutex
	closed bool
}

func (s *snapshotStream) Frame(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrStreamClosed
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cam.url("/capture"), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.cam.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("camera node %s: %w", s.cam.Addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("camera node %s: status %d", s.cam.Addr, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, capture.MaxFrameBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > capture.MaxFrameBytes {
		return nil, capture.ErrFrameTooBig
	}
	return capture.Normalize(data)
}

func (s *snapshotStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
