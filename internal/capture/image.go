package capture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"net/http"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

// MaxEdge is the longest side of a normalised frame.
const MaxEdge = 640

var ErrUnsupportedImage = errors.New("unsupported image format")

func decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrNoFrame
	}
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	ct := http.DetectContentType(head)
	switch {
	case strings.Contains(ct, "webp"):
		return webp.Decode(bytes.NewReader(data))
	case strings.Contains(ct, "jpeg"), strings.Contains(ct, "png"):
		return imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedImage, ct)
}

// Normalize decodes a JPEG, PNG or WebP frame, applies EXIF orientation,
// fits it within MaxEdge and re-encodes it as JPEG.
func Normalize(data []byte) ([]byte, error) {
	img, err := decode(data)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	if b.Dx() > MaxEdge || b.Dy() > MaxEdge {
		img = imaging.Fit(img, MaxEdge, MaxEdge, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// ToWebP re-encodes an image as lossy WebP for archiving.
func ToWebP(data []byte, quality float32) ([]byte, error) {
	img, err := decode(data)
	if err != nil {
		return nil, err
	}
	if quality <= 0 {
		quality = 80
	}
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode webp: %w", err)
	}
	return buf.Bytes(), nil
}
