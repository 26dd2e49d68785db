package marker

import (
	"math"
	"testing"

	"go.viam.com/test"

	"go.viam.com/precisionland/logging"
)

func newTestSelector(t *testing.T, margin float64) *Selector {
	t.Helper()
	reg, err := NewRegistry(lowSpec, highSpec)
	test.That(t, err, test.ShouldBeNil)
	sel, err := NewSelector(reg, margin, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return sel
}

func TestSelectorValidation(t *testing.T) {
	reg, err := NewRegistry(lowSpec, highSpec)
	test.That(t, err, test.ShouldBeNil)
	logger := logging.NewTestLogger(t)

	_, err = NewSelector(nil, 1, logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewSelector(reg, -0.5, logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewSelector(reg, 3.5, logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewSelector(reg, 3, logger)
	test.That(t, err, test.ShouldBeNil)
}

func TestSelectorAboveBandAlwaysHigh(t *testing.T) {
	const margin = 1.0
	for _, prior := range []float64{0.5, 4, 4.5, 8} {
		for _, alt := range []float64{5.01, 6, 7, 12.5, 100} {
			sel := newTestSelector(t, margin)
			sel.Select(prior)
			test.That(t, sel.Select(alt).ID, test.ShouldEqual, 129)
			test.That(t, sel.State(), test.ShouldEqual, StateTrackingHigh)
		}
	}
}

func TestSelectorBelowThresholdAlwaysLow(t *testing.T) {
	const margin = 1.0
	for _, prior := range []float64{0.5, 4, 4.5, 8} {
		for _, alt := range []float64{0, 1, 3.99} {
			sel := newTestSelector(t, margin)
			sel.Select(prior)
			test.That(t, sel.Select(alt).ID, test.ShouldEqual, 72)
			test.That(t, sel.State(), test.ShouldEqual, StateTrackingLow)
		}
	}
}

func TestSelectorHysteresisBand(t *testing.T) {
	sel := newTestSelector(t, 1.0)
	test.That(t, sel.State(), test.ShouldEqual, StateUnknown)

	// first sample inside the band uses the plain threshold rule
	test.That(t, sel.Select(4.5).ID, test.ShouldEqual, 129)
	// exactly on the threshold belongs to the low marker
	test.That(t, sel.Select(4).ID, test.ShouldEqual, 72)
	// climbing back into the band keeps the low marker
	test.That(t, sel.Select(4.5).ID, test.ShouldEqual, 72)
	test.That(t, sel.Select(5).ID, test.ShouldEqual, 72)
	test.That(t, sel.Select(5.0001).ID, test.ShouldEqual, 129)
	test.That(t, sel.Switches(), test.ShouldEqual, 2)
	test.That(t, sel.LastAltitude(), test.ShouldEqual, 5.0001)
}

func TestSelectorNoChatterNearThreshold(t *testing.T) {
	sel := newTestSelector(t, 1.0)
	sel.Select(9)

	// a single descent through the threshold with noise that never re-crosses the band
	altitudes := []float64{8, 7, 6, 5, 4.4, 4.1, 3.95, 4.05, 3.9, 4.2, 4.6, 3.8, 4.9, 4.3, 3.5, 3, 2}
	var ids []int
	for _, alt := range altitudes {
		ids = append(ids, sel.Select(alt).ID)
	}
	test.That(t, sel.Switches(), test.ShouldEqual, 1)

	changes := 0
	for i := 1; i < len(ids); i++ {
		if ids[i] != ids[i-1] {
			changes++
		}
	}
	test.That(t, changes, test.ShouldEqual, 1)
	test.That(t, ids[len(ids)-1], test.ShouldEqual, 72)
}

func TestSelectorWithoutMarginChatters(t *testing.T) {
	sel := newTestSelector(t, 0)
	sel.Select(9)
	for _, alt := range []float64{3.9, 4.1, 3.9, 4.1} {
		sel.Select(alt)
	}
	test.That(t, sel.Switches(), test.ShouldEqual, 4)
}

func TestSelectorIgnoresNonFiniteAltitude(t *testing.T) {
	sel := newTestSelector(t, 1.0)
	test.That(t, sel.Select(math.NaN()).ID, test.ShouldEqual, 129)
	test.That(t, sel.State(), test.ShouldEqual, StateUnknown)

	sel.Select(2)
	test.That(t, sel.Select(math.Inf(1)).ID, test.ShouldEqual, 72)
	test.That(t, sel.LastAltitude(), test.ShouldEqual, 2.0)
	test.That(t, sel.Switches(), test.ShouldEqual, 0)
}

func TestSelectorActiveDoesNotSample(t *testing.T) {
	sel := newTestSelector(t, 1)
	test.That(t, sel.Active().ID, test.ShouldEqual, highSpec.ID)
	test.That(t, sel.State(), test.ShouldEqual, StateUnknown)

	sel.Select(2)
	test.That(t, sel.Active().ID, test.ShouldEqual, lowSpec.ID)
	test.That(t, math.IsNaN(sel.LastAltitude()), test.ShouldBeFalse)
}
