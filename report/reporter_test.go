package report

import (
	"io"
	"math"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"go.viam.com/precisionland/fusion"
	"go.viam.com/precisionland/logging"
)

func newTestReporter(t *testing.T) (*Reporter, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	return NewReporter(NewMetrics(clk), logging.NewTestLogger(t)), clk
}

func TestReportFreshEstimate(t *testing.T) {
	r, clk := newTestReporter(t)
	clk.Add(1500 * time.Millisecond)
	captured := clk.Now()

	target := r.Report(captured, &fusion.Estimate{
		MarkerID: 129, HorizontalAngle: 0.05, VerticalAngle: -0.02, Distance: 8, SideLengthM: 0.4,
	})
	test.That(t, target, test.ShouldNotBeNil)
	test.That(t, target.TimeUsec, test.ShouldEqual, uint64(1500000))
	test.That(t, target.CapturedAt, test.ShouldEqual, captured)
	test.That(t, target.MarkerID, test.ShouldEqual, 129)
	test.That(t, target.AngleX, test.ShouldAlmostEqual, 0.05)
	test.That(t, target.AngleY, test.ShouldAlmostEqual, -0.02)
	test.That(t, target.Distance, test.ShouldAlmostEqual, 8)
	test.That(t, target.SizeX, test.ShouldAlmostEqual, 2*math.Atan(0.2/8))
	test.That(t, target.SizeY, test.ShouldAlmostEqual, target.SizeX)
	test.That(t, target.Held, test.ShouldBeFalse)

	test.That(t, r.Metrics().DetectionCount(), test.ShouldEqual, 1)
	test.That(t, r.Metrics().MissCount(), test.ShouldEqual, 0)
}

func TestReportHeldAndLost(t *testing.T) {
	r, clk := newTestReporter(t)

	clk.Add(100 * time.Millisecond)
	fixAt := clk.Now()
	fix := fusion.Estimate{MarkerID: 72, HorizontalAngle: 0.1, Distance: 3, SideLengthM: 0.19, Timestamp: fixAt}
	fresh := r.Report(fixAt, &fix)
	test.That(t, fresh.TimeUsec, test.ShouldEqual, uint64(100000))

	clk.Add(500 * time.Millisecond)
	repeated := fix
	repeated.Held, repeated.Misses = true, 2
	held := r.Report(clk.Now(), &repeated)
	test.That(t, held, test.ShouldNotBeNil)
	test.That(t, held.Held, test.ShouldBeTrue)
	test.That(t, held.TimeUsec, test.ShouldEqual, fresh.TimeUsec)
	test.That(t, held.CapturedAt, test.ShouldEqual, fixAt)

	test.That(t, r.Report(clk.Now(), nil), test.ShouldBeNil)

	test.That(t, r.Metrics().DetectionCount(), test.ShouldEqual, 1)
	test.That(t, r.Metrics().MissCount(), test.ShouldEqual, 2)
}

func TestReportBeforeSessionStart(t *testing.T) {
	r, clk := newTestReporter(t)
	target := r.Report(clk.Now().Add(-time.Second), &fusion.Estimate{MarkerID: 129, Distance: 0})
	test.That(t, target.TimeUsec, test.ShouldEqual, 0)
	test.That(t, target.SizeX, test.ShouldEqual, 0)
}

func TestMetricsSummary(t *testing.T) {
	r, clk := newTestReporter(t)
	test.That(t, r.Metrics().Summary(), test.ShouldResemble, Summary{})

	for i := 0; i < 6; i++ {
		r.Report(clk.Now(), &fusion.Estimate{MarkerID: 129, Distance: 5, SideLengthM: 0.4})
	}
	for i := 0; i < 2; i++ {
		r.Report(clk.Now(), nil)
	}
	clk.Add(4 * time.Second)

	s := r.Metrics().Summary()
	test.That(t, s.TotalTime, test.ShouldEqual, 4*time.Second)
	test.That(t, s.Detections, test.ShouldEqual, 6)
	test.That(t, s.Misses, test.ShouldEqual, 2)
	test.That(t, s.DetectionRate, test.ShouldAlmostEqual, 75)
	test.That(t, s.DetectionsPerSecond, test.ShouldAlmostEqual, 1.5)
	test.That(t, s.String(), test.ShouldContainSubstring, "detection rate 75.0%")
}

func TestMetricsHandler(t *testing.T) {
	r, clk := newTestReporter(t)
	r.Report(clk.Now(), &fusion.Estimate{MarkerID: 129, Distance: 5, Blending: true})
	r.Metrics().RecordSwitch()

	rec := httptest.NewRecorder()
	r.Metrics().Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(body), test.ShouldContainSubstring, "precisionland_detections_total 1")
	test.That(t, string(body), test.ShouldContainSubstring, "precisionland_misses_total 0")
	test.That(t, string(body), test.ShouldContainSubstring, "precisionland_blended_frames_total 1")
	test.That(t, string(body), test.ShouldContainSubstring, "precisionland_marker_switches_total 1")
	test.That(t, string(body), test.ShouldContainSubstring, "precisionland_detection_rate_percent 100")
}
