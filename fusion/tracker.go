package fusion

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"github.com/atlas-sensing/atlas/config"
	"github.com/atlas-sensing/atlas/spatialmath"
)

type entityState struct {
	mu         sync.Mutex
	filter     Filter
	alpha      float64
	sensors    map[string]config.Sensor
	markers    map[int]config.Marker
	lastUpdate time.Time
}

// Tracker maintains one consensus pose estimate per configured entity.
// Entities decay and update independently: observations for different
// entities never contend, while updates to the same entity are serialized
// because the decay step reads and rewrites the accumulator state.
type Tracker struct {
	entities map[string]*entityState
	logger   golog.Logger
}

// NewTracker builds a tracker with one WeightedMean filter per entity in
// cfg.
func NewTracker(cfg *config.Config, logger golog.Logger) *Tracker {
	return NewTrackerWithFilters(cfg, func() Filter { return NewWeightedMean() }, logger)
}

// NewTrackerWithFilters builds a tracker using newFilter to construct the
// per-entity accumulator, allowing PassThrough for no-fusion deployments.
func NewTrackerWithFilters(cfg *config.Config, newFilter func() Filter, logger golog.Logger) *Tracker {
	tracker := &Tracker{entities: map[string]*entityState{}, logger: logger}
	for _, entity := range cfg.Entities() {
		state := &entityState{
			filter:  newFilter(),
			alpha:   entity.FilterAlpha,
			sensors: map[string]config.Sensor{},
			markers: map[int]config.Marker{},
		}
		for _, sensor := range entity.Sensors {
			state.sensors[sensor.Name] = sensor
		}
		for _, marker := range entity.Markers {
			if marker.ID == config.UndefinedMarkerID {
				logger.Warnw("ignoring marker with undefined id", "entity", entity.Name)
				continue
			}
			state.markers[marker.ID] = marker
		}
		tracker.entities[entity.Name] = state
	}
	return tracker
}

// AddObservation folds a weighted pose observation timestamped at into
// the named entity's estimate.
func (t *Tracker) AddObservation(
	entityName string,
	pose spatialmath.Transform,
	weight float64,
	at time.Time,
) error {
	state, err := t.lookup(entityName)
	if err != nil {
		return err
	}
	return state.add(pose, weight, at)
}

// AddSensorObservation folds a raw reading from a configured sensor into
// its target entity's estimate. The sensor's calibration transform is
// composed with the raw reading and its weight is derived from sigma.
func (t *Tracker) AddSensorObservation(
	entityName, sensorName string,
	raw spatialmath.Transform,
	at time.Time,
) error {
	state, err := t.lookup(entityName)
	if err != nil {
		return err
	}
	sensor, ok := state.sensors[sensorName]
	if !ok {
		return errors.Errorf("entity %q has no sensor named %q", entityName, sensorName)
	}
	return state.add(raw.Compose(sensor.Calibration), sensor.Weight(), at)
}

// AddMarkerObservation folds a raw observation of a configured fiducial
// marker into the entity's estimate, composing the marker's calibration
// transform with the raw reading.
func (t *Tracker) AddMarkerObservation(
	entityName string,
	markerID int,
	raw spatialmath.Transform,
	weight float64,
	at time.Time,
) error {
	state, err := t.lookup(entityName)
	if err != nil {
		return err
	}
	marker, ok := state.markers[markerID]
	if !ok {
		return errors.Errorf("entity %q has no marker with id %d", entityName, markerID)
	}
	return state.add(raw.Compose(marker.Calibration), weight, at)
}

// CurrentEstimate returns the entity's consensus pose. Before any
// observation arrives it is the identity transform.
func (t *Tracker) CurrentEstimate(entityName string) (spatialmath.Transform, error) {
	state, err := t.lookup(entityName)
	if err != nil {
		return spatialmath.NewZeroTransform(), err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return spatialmath.NewTransform(state.filter.Quat(), state.filter.Vec3()), nil
}

// LastUpdate returns when the entity last accepted an observation; the
// zero time when it never has.
func (t *Tracker) LastUpdate(entityName string) (time.Time, error) {
	state, err := t.lookup(entityName)
	if err != nil {
		return time.Time{}, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.lastUpdate, nil
}

// Reset discards the entity's accumulated evidence.
func (t *Tracker) Reset(entityName string) error {
	state, err := t.lookup(entityName)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	state.filter.Clear()
	state.lastUpdate = time.Time{}
	return nil
}

// EntityNames returns the tracked entity names in sorted order.
func (t *Tracker) EntityNames() []string {
	names := make([]string, 0, len(t.entities))
	for name := range t.entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t *Tracker) lookup(entityName string) (*entityState, error) {
	state, ok := t.entities[entityName]
	if !ok {
		return nil, errors.Errorf("no entity named %q", entityName)
	}
	return state, nil
}

func (s *entityState) add(pose spatialmath.Transform, weight float64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// validate before decaying so a rejected sample leaves the
	// accumulator untouched
	if weight <= 0 {
		return errNonPositiveWeight
	}
	if quat.Abs(pose.Rotation()) == 0 {
		return errZeroRotation
	}

	// exponentially forget old evidence; out-of-order arrivals are
	// treated as simultaneous rather than amplifying the past
	if !s.lastUpdate.IsZero() {
		if dt := at.Sub(s.lastUpdate).Seconds(); dt > 0 {
			if d, ok := s.filter.(decayable); ok {
				d.scale(math.Exp(-s.alpha * dt))
			}
		}
	}

	if err := s.filter.AddVec3(pose.Translation(), weight); err != nil {
		return err
	}
	if err := s.filter.AddQuat(pose.Rotation(), weight); err != nil {
		return err
	}
	if at.After(s.lastUpdate) {
		s.lastUpdate = at
	}
	return nil
}
