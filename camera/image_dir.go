package camera

import (
	"context"
	"image"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

var imageExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

// ImageDirConfig is the attribute struct for an ImageDirSource.
type ImageDirConfig struct {
	Dir string `json:"dir"`
	// Width and Height are the resolution frames are resized to. Zero keeps the file size.
	Width  int `json:"width_px,omitempty"`
	Height int `json:"height_px,omitempty"`
	// FrameRate paces reads like a real camera would. Zero reads as fast as possible.
	FrameRate float64 `json:"frame_rate_hz,omitempty"`
	Loop      bool    `json:"loop,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *ImageDirConfig) Validate(path string) error {
	if cfg.Dir == "" {
		return errors.Errorf("%s: dir is required", path)
	}
	if cfg.Width < 0 || cfg.Height < 0 {
		return errors.Errorf("%s: resolution must be non-negative, got %dx%d", path, cfg.Width, cfg.Height)
	}
	if cfg.FrameRate < 0 {
		return errors.Errorf("%s: frame_rate_hz must be non-negative", path)
	}
	return nil
}

// ImageDirSource replays the images of a directory in lexical order.
type ImageDirSource struct {
	cfg   ImageDirConfig
	clock clock.Clock
	files []string

	mu     sync.Mutex
	next   int
	last   time.Time
	closed bool
}

// NewImageDirSource lists the images in cfg.Dir.
func NewImageDirSource(cfg ImageDirConfig, clk clock.Clock) (*ImageDirSource, error) {
	if err := cfg.Validate("camera"); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(cfg.Dir)
	if err != nil {
		return nil, errors.Wrap(err, "cannot list image directory")
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(cfg.Dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no images in %q", cfg.Dir)
	}
	sort.Strings(files)
	return &ImageDirSource{cfg: cfg, clock: clk, files: files}, nil
}

// Read returns the next image, or io.EOF after the last one unless looping.
func (s *ImageDirSource) Read(ctx context.Context) (image.Image, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, ErrClosed
	}
	if s.next >= len(s.files) {
		if !s.cfg.Loop {
			return nil, nil, io.EOF
		}
		s.next = 0
	}
	if err := s.pace(ctx); err != nil {
		return nil, nil, err
	}

	path := s.files[s.next]
	s.next++
	img, err := imaging.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "cannot decode %q", path)
	}
	if s.cfg.Width > 0 && s.cfg.Height > 0 {
		b := img.Bounds()
		if b.Dx() != s.cfg.Width || b.Dy() != s.cfg.Height {
			img = imaging.Resize(img, s.cfg.Width, s.cfg.Height, imaging.Linear)
		}
	}
	return img, func() {}, nil
}

func (s *ImageDirSource) pace(ctx context.Context) error {
	if s.cfg.FrameRate == 0 {
		return nil
	}
	if !s.last.IsZero() {
		interval := time.Duration(float64(time.Second) / s.cfg.FrameRate)
		if wait := interval - s.clock.Since(s.last); wait > 0 {
			timer := s.clock.Timer(wait)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	s.last = s.clock.Now()
	return nil
}

// Len returns the number of images in the directory.
func (s *ImageDirSource) Len() int {
	return len(s.files)
}

// Close makes further reads fail with ErrClosed.
func (s *ImageDirSource) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
