package fusion

import (
	"math"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"

	"github.com/atlas-sensing/atlas/config"
	"github.com/atlas-sensing/atlas/spatialmath"
)

const trackerDocument = `
entities:
  - entity: drone1
    filterAlpha: 0.5
    sensors:
      - sensor: cam
        sigma: 2.0
        target: drone1
        transform:
          origin: [1, 0, 0]
    markers:
      - marker: 5
        transform:
          origin: [0, 1, 0]
      - marker: -1
  - entity: rover
    filterAlpha: 1.0
`

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	logger := golog.NewTestLogger(t)
	cfg, err := config.FromString(trackerDocument, logger)
	test.That(t, err, test.ShouldBeNil)
	return NewTracker(cfg, logger)
}

func poseAt(v r3.Vector) spatialmath.Transform {
	return spatialmath.NewTransform(quat.Number{Real: 1}, v)
}

func TestTrackerUnknownEntity(t *testing.T) {
	tracker := newTestTracker(t)
	err := tracker.AddObservation("ghost", poseAt(r3.Vector{}), 1, time.Now())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "ghost")

	_, err = tracker.CurrentEstimate("ghost")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestTrackerEstimate(t *testing.T) {
	tracker := newTestTracker(t)
	now := time.Now()

	test.That(t, tracker.AddObservation("drone1", poseAt(r3.Vector{X: 1}), 1, now), test.ShouldBeNil)
	test.That(t, tracker.AddObservation("drone1", poseAt(r3.Vector{Y: 1}), 1, now), test.ShouldBeNil)

	estimate, err := tracker.CurrentEstimate("drone1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, estimate.Translation().X, test.ShouldAlmostEqual, 0.5)
	test.That(t, estimate.Translation().Y, test.ShouldAlmostEqual, 0.5)

	// the other entity is untouched
	other, err := tracker.CurrentEstimate("rover")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, other.AlmostEqual(spatialmath.NewZeroTransform(), 1e-12), test.ShouldBeTrue)
}

func TestTrackerDecay(t *testing.T) {
	tracker := newTestTracker(t)
	start := time.Now()
	dt := 2.0

	test.That(t, tracker.AddObservation("drone1", poseAt(r3.Vector{X: 1}), 1, start), test.ShouldBeNil)
	test.That(t, tracker.AddObservation("drone1", poseAt(r3.Vector{X: 4}), 1,
		start.Add(time.Duration(dt*float64(time.Second)))), test.ShouldBeNil)

	// filterAlpha is 0.5, so the first sample is scaled by exp(-0.5*2)
	factor := math.Exp(-0.5 * dt)
	expected := (factor*1 + 4) / (factor + 1)
	estimate, err := tracker.CurrentEstimate("drone1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, estimate.Translation().X, test.ShouldAlmostEqual, expected)
}

func TestTrackerNoDecayForSimultaneous(t *testing.T) {
	tracker := newTestTracker(t)
	now := time.Now()

	test.That(t, tracker.AddObservation("drone1", poseAt(r3.Vector{X: 1}), 1, now), test.ShouldBeNil)
	// an out-of-order arrival never amplifies older evidence
	test.That(t, tracker.AddObservation("drone1", poseAt(r3.Vector{X: 3}), 1,
		now.Add(-time.Second)), test.ShouldBeNil)

	estimate, err := tracker.CurrentEstimate("drone1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, estimate.Translation().X, test.ShouldAlmostEqual, 2)

	last, err := tracker.LastUpdate("drone1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, last, test.ShouldEqual, now)
}

func TestTrackerRejectsBadWeight(t *testing.T) {
	tracker := newTestTracker(t)
	now := time.Now()
	test.That(t, tracker.AddObservation("drone1", poseAt(r3.Vector{X: 1}), 1, now), test.ShouldBeNil)

	before, err := tracker.CurrentEstimate("drone1")
	test.That(t, err, test.ShouldBeNil)

	err = tracker.AddObservation("drone1", poseAt(r3.Vector{X: 100}), 0, now.Add(time.Second))
	test.That(t, err, test.ShouldBeError, errNonPositiveWeight)

	after, err := tracker.CurrentEstimate("drone1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, after.AlmostEqual(before, 1e-12), test.ShouldBeTrue)

	last, err := tracker.LastUpdate("drone1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, last, test.ShouldEqual, now)
}

func TestTrackerSensorObservation(t *testing.T) {
	tracker := newTestTracker(t)
	now := time.Now()

	// the cam sensor carries a (1,0,0) calibration offset
	test.That(t, tracker.AddSensorObservation("drone1", "cam",
		spatialmath.NewZeroTransform(), now), test.ShouldBeNil)

	estimate, err := tracker.CurrentEstimate("drone1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, estimate.Translation().X, test.ShouldAlmostEqual, 1)

	err = tracker.AddSensorObservation("drone1", "lidar", spatialmath.NewZeroTransform(), now)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "lidar")
}

func TestTrackerSensorWeight(t *testing.T) {
	logger := golog.NewTestLogger(t)
	cfg, err := config.FromString(trackerDocument, logger)
	test.That(t, err, test.ShouldBeNil)

	// sigma 2 gives inverse-variance weight 1/4: a direct observation
	// with that weight must fuse identically
	viaSensor := NewTracker(cfg, logger)
	direct := NewTracker(cfg, logger)
	now := time.Now()

	test.That(t, viaSensor.AddObservation("drone1", poseAt(r3.Vector{X: 9}), 1, now), test.ShouldBeNil)
	test.That(t, direct.AddObservation("drone1", poseAt(r3.Vector{X: 9}), 1, now), test.ShouldBeNil)

	test.That(t, viaSensor.AddSensorObservation("drone1", "cam",
		spatialmath.NewZeroTransform(), now), test.ShouldBeNil)
	test.That(t, direct.AddObservation("drone1", poseAt(r3.Vector{X: 1}), 0.25, now), test.ShouldBeNil)

	a, err := viaSensor.CurrentEstimate("drone1")
	test.That(t, err, test.ShouldBeNil)
	b, err := direct.CurrentEstimate("drone1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, a.AlmostEqual(b, 1e-9), test.ShouldBeTrue)
}

func TestTrackerMarkerObservation(t *testing.T) {
	tracker := newTestTracker(t)
	now := time.Now()

	test.That(t, tracker.AddMarkerObservation("drone1", 5,
		spatialmath.NewZeroTransform(), 1, now), test.ShouldBeNil)

	estimate, err := tracker.CurrentEstimate("drone1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, estimate.Translation().Y, test.ShouldAlmostEqual, 1)

	// the undefined marker id never matches anything
	err = tracker.AddMarkerObservation("drone1", config.UndefinedMarkerID,
		spatialmath.NewZeroTransform(), 1, now)
	test.That(t, err, test.ShouldNotBeNil)

	err = tracker.AddMarkerObservation("drone1", 42, spatialmath.NewZeroTransform(), 1, now)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "42")
}

func TestTrackerReset(t *testing.T) {
	tracker := newTestTracker(t)
	now := time.Now()

	test.That(t, tracker.AddObservation("drone1", poseAt(r3.Vector{X: 5}), 1, now), test.ShouldBeNil)
	test.That(t, tracker.Reset("drone1"), test.ShouldBeNil)

	estimate, err := tracker.CurrentEstimate("drone1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, estimate.AlmostEqual(spatialmath.NewZeroTransform(), 1e-12), test.ShouldBeTrue)

	last, err := tracker.LastUpdate("drone1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, last.IsZero(), test.ShouldBeTrue)
}

func TestTrackerPassThroughFilters(t *testing.T) {
	logger := golog.NewTestLogger(t)
	cfg, err := config.FromString(trackerDocument, logger)
	test.That(t, err, test.ShouldBeNil)

	tracker := NewTrackerWithFilters(cfg, func() Filter { return NewPassThrough() }, logger)
	now := time.Now()
	test.That(t, tracker.AddObservation("drone1", poseAt(r3.Vector{X: 1}), 1, now), test.ShouldBeNil)
	test.That(t, tracker.AddObservation("drone1", poseAt(r3.Vector{X: 3}), 1,
		now.Add(time.Second)), test.ShouldBeNil)

	estimate, err := tracker.CurrentEstimate("drone1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, estimate.Translation().X, test.ShouldAlmostEqual, 3)
}

func TestTrackerEntityNames(t *testing.T) {
	tracker := newTestTracker(t)
	test.That(t, tracker.EntityNames(), test.ShouldResemble, []string{"drone1", "rover"})
}
