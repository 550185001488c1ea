// Package capture adapts pushed client input (frames and position fixes) to
// the camera and locator a verification session pulls from.
package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"attendify/internal/geo"
	"attendify/internal/verification"
)

var (
	ErrNoFrame     = errors.New("no frame submitted")
	ErrNoFix       = errors.New("no position submitted")
	ErrClosed      = errors.New("camera stream closed")
	ErrBadDataURL  = errors.New("malformed image data")
	ErrFrameTooBig = errors.New("frame exceeds size limit")
)

// MaxFrameBytes bounds a single pushed frame.
const MaxFrameBytes = 8 << 20

// Frames is a camera fed by client uploads. Only one stream is open at a time;
// opening a new one closes the previous.
type Frames struct {
	mu     sync.Mutex
	latest []byte
	open   *frameStream
}

func NewFrames() *Frames { return &Frames{} }

// Put stores frame as the latest image.
func (f *Frames) Put(frame []byte) error {
	if len(frame) == 0 {
		return ErrNoFrame
	}
	if len(frame) > MaxFrameBytes {
		return ErrFrameTooBig
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latest = frame
	return nil
}

func (f *Frames) Open(context.Context) (verification.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.open != nil {
		f.open.closed = true
	}
	f.latest = nil
	f.open = &frameStream{src: f}
	return f.open, nil
}

// Streaming reports whether a stream is currently open.
func (f *Frames) Streaming() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open != nil && !f.open.closed
}

type frameStream struct {
	src    *Frames
	closed bool
}

func (s *frameStream) Frame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.src.mu.Lock()
	defer s.src.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.src.latest == nil {
		return nil, ErrNoFrame
	}
	return s.src.latest, nil
}

func (s *frameStream) Close() error {
	s.src.mu.Lock()
	defer s.src.mu.Unlock()
	s.closed = true
	s.src.latest = nil
	if s.src.open == s {
		s.src.open = nil
	}
	return nil
}

// Fixes is a locator that returns the last position a client submitted.
type Fixes struct {
	mu  sync.Mutex
	fix *geo.Point
	err error
}

func NewFixes() *Fixes { return &Fixes{} }

// Set records a fix from the client.
func (f *Fixes) Set(p geo.Point) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fix = &p
	f.err = nil
}

// Fail records that the client could not obtain a position.
func (f *Fixes) Fail(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fix = nil
	f.err = errors.New(reason)
}

func (f *Fixes) Locate(ctx context.Context) (geo.Point, error) {
	if err := ctx.Err(); err != nil {
		return geo.Point{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return geo.Point{}, f.err
	}
	if f.fix == nil {
		return geo.Point{}, ErrNoFix
	}
	return *f.fix, nil
}

// DecodeDataURL accepts a "data:image/...;base64," URL or bare base64.
func DecodeDataURL(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ",")
		if i < 0 || !strings.HasSuffix(s[:i], ";base64") {
			return nil, ErrBadDataURL
		}
		s = s[i+1:]
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadDataURL, err)
	}
	if len(b) == 0 {
		return nil, ErrNoFrame
	}
	return b, nil
}
