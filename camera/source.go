// Package camera supplies frames to the landing loop.
package camera

import (
	"context"
	"image"
	"time"

	"github.com/pkg/errors"
)

// ErrClosed is returned once a frame stream has ended or been closed.
var ErrClosed = errors.New("camera stream closed")

// A Source produces images on demand. release is called once the caller no longer needs the
// image; it may be nil.
type Source interface {
	Read(ctx context.Context) (img image.Image, release func(), err error)
	Close(ctx context.Context) error
}

// Frame is one captured image.
type Frame struct {
	Image image.Image
	// Seq counts source reads starting at 1. Gaps mean frames were dropped.
	Seq        uint64
	CapturedAt time.Time
}
