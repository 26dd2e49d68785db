package detection

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/precisionland/camera"
)

// ReplayDetector answers from detections recorded earlier, keyed by frame sequence number.
// Frames without a record have no detections.
type ReplayDetector struct {
	frames map[uint64][]Detection
}

type replayRecord struct {
	Seq     uint64         `json:"seq"`
	Markers []replayMarker `json:"markers"`
}

type replayMarker struct {
	ID      int          `json:"id"`
	Corners [4][2]float64 `json:"corners"`
}

// NewReplayDetectorFromFile reads a JSON lines recording.
func NewReplayDetectorFromFile(path string) (*ReplayDetector, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open detection recording")
	}
	defer func() {
		_ = f.Close()
	}()
	return NewReplayDetector(f)
}

// NewReplayDetector reads one JSON record per line:
//
//	{"seq": 12, "markers": [{"id": 129, "corners": [[x,y],[x,y],[x,y],[x,y]]}]}
func NewReplayDetector(r io.Reader) (*ReplayDetector, error) {
	rd := &ReplayDetector{frames: map[uint64][]Detection{}}
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec replayRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		for _, m := range rec.Markers {
			var d Detection
			d.MarkerID = m.ID
			for i, c := range m.Corners {
				d.Corners[i] = r2.Point{X: c[0], Y: c[1]}
			}
			rd.frames[rec.Seq] = append(rd.frames[rec.Seq], d)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "cannot read detection recording")
	}
	return rd, nil
}

// Detect returns the recorded detections for frame.Seq.
func (rd *ReplayDetector) Detect(ctx context.Context, frame camera.Frame) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return rd.frames[frame.Seq], nil
}

// Frames returns how many frames have at least one recorded detection.
func (rd *ReplayDetector) Frames() int {
	return len(rd.frames)
}
