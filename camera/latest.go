package camera

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	goutils "go.viam.com/utils"

	"go.viam.com/precisionland/logging"
	"go.viam.com/precisionland/utils"
)

const readRetryInterval = 20 * time.Millisecond

// LatestFrame reads a Source continuously in the background and hands out only the newest frame.
// Frames the consumer is too slow for are dropped. Reading starts with the first call to Next.
type LatestFrame struct {
	src    Source
	clock  clock.Clock
	logger logging.Logger

	mu        sync.Mutex
	workers   *utils.StoppableWorkers
	closed    bool
	latest    *Frame
	delivered uint64
	err       error
	ready     chan struct{}

	readErrors atomic.Uint64
}

// NewLatestFrame wraps src. Nothing is read until the first Next, so a replayed source is not
// consumed while the caller is still setting up. Images from src must stay valid after their
// release func is called, since consumers hold frames after the producer has moved on.
func NewLatestFrame(src Source, clk clock.Clock, logger logging.Logger) *LatestFrame {
	return &LatestFrame{
		src:    src,
		clock:  clk,
		logger: logger,
		ready:  make(chan struct{}),
	}
}

// startLocked starts the producer once. lf.mu must be held.
func (lf *LatestFrame) startLocked() {
	if lf.workers != nil || lf.closed {
		return
	}
	lf.workers = utils.NewStoppableWorkers(context.Background(), lf.produce)
}

func (lf *LatestFrame) produce(ctx context.Context) {
	var seq uint64
	for {
		if ctx.Err() != nil {
			lf.finish(ErrClosed)
			return
		}
		img, release, err := lf.src.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				lf.finish(ErrClosed)
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, ErrClosed) {
				lf.logger.Info("frame source exhausted")
				lf.finish(ErrClosed)
				return
			}
			lf.readErrors.Inc()
			lf.logger.Debugw("frame read failed", "error", err)
			if !goutils.SelectContextOrWait(ctx, readRetryInterval) {
				lf.finish(ErrClosed)
				return
			}
			continue
		}
		seq++
		frame := &Frame{Image: img, Seq: seq, CapturedAt: lf.clock.Now()}
		if release != nil {
			release()
		}
		lf.publish(frame)
	}
}

func (lf *LatestFrame) publish(f *Frame) {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	lf.latest = f
	close(lf.ready)
	lf.ready = make(chan struct{})
}

func (lf *LatestFrame) finish(err error) {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	if lf.err != nil {
		return
	}
	lf.err = err
	close(lf.ready)
	lf.ready = make(chan struct{})
}

// Next blocks until a frame newer than the last one returned is available. Once the stream has
// ended and the newest frame was delivered, it returns ErrClosed.
func (lf *LatestFrame) Next(ctx context.Context) (Frame, error) {
	for {
		lf.mu.Lock()
		lf.startLocked()
		if lf.latest != nil && lf.latest.Seq > lf.delivered {
			f := *lf.latest
			lf.delivered = f.Seq
			lf.mu.Unlock()
			return f, nil
		}
		if lf.err != nil {
			err := lf.err
			lf.mu.Unlock()
			return Frame{}, err
		}
		ready := lf.ready
		lf.mu.Unlock()

		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-ready:
		}
	}
}

// ReadErrors returns how many reads failed and were retried.
func (lf *LatestFrame) ReadErrors() uint64 {
	return lf.readErrors.Load()
}

// Close stops the producer and closes the source.
func (lf *LatestFrame) Close(ctx context.Context) error {
	lf.mu.Lock()
	workers := lf.workers
	if !lf.closed {
		lf.closed = true
		if workers == nil && lf.err == nil {
			lf.err = ErrClosed
			close(lf.ready)
			lf.ready = make(chan struct{})
		}
	}
	lf.mu.Unlock()
	if workers != nil {
		workers.Stop()
	}
	return lf.src.Close(ctx)
}
