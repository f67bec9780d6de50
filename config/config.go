// Package config describes the tracked world: which entities exist, which
// sensors and fiducial markers feed them, and the global engine tunables.
// A Config is built once from a declarative document and is read-only
// afterwards, so it can be shared across concurrent readers without
// locking.
package config

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/atlas-sensing/atlas/spatialmath"
)

// SensorType distinguishes how a sensor produces pose observations.
type SensorType int

const (
	// MarkerBased sensors observe fiducial markers attached to entities.
	MarkerBased SensorType = iota
	// NonMarkerBased sensors report entity poses directly.
	NonMarkerBased
)

// String returns the configuration spelling of the sensor type.
func (t SensorType) String() string {
	if t == NonMarkerBased {
		return "NonMarkerBased"
	}
	return "MarkerBased"
}

// ParseSensorType maps a configuration string to a SensorType. The second
// return is false when the string is unrecognized, in which case the type
// deliberately falls back to MarkerBased; callers are expected to log the
// fallback rather than abort.
func ParseSensorType(s string) (SensorType, bool) {
	switch s {
	case "MarkerBased":
		return MarkerBased, true
	case "NonMarkerBased":
		return NonMarkerBased, true
	default:
		return MarkerBased, false
	}
}

// A Sensor is one source of pose observations about a target entity.
type Sensor struct {
	Name        string
	Topic       string
	Type        SensorType
	Sigma       float64
	Target      string
	Calibration spatialmath.Transform
}

// Weight returns the inverse-variance fusion weight derived from the
// sensor's noise sigma. Smaller sigma means higher trust.
func (s Sensor) Weight() float64 {
	return 1 / (s.Sigma * s.Sigma)
}

// UndefinedMarkerID marks a marker entry with no assigned fiducial id.
// Such markers never participate in pose fusion.
const UndefinedMarkerID = -1

// A Marker is a known fiducial marker attached to an entity, with the
// static transform from the marker frame to the entity frame.
type Marker struct {
	ID          int
	Calibration spatialmath.Transform
}

// An Entity is one tracked object together with the sensors and markers
// that feed its pose estimate.
type Entity struct {
	Name        string
	FilterAlpha float64
	Sensors     []Sensor
	Markers     []Marker
}

// MarkerByID returns the marker with the given fiducial id.
// UndefinedMarkerID never matches.
func (e *Entity) MarkerByID(id int) (Marker, bool) {
	if id == UndefinedMarkerID {
		return Marker{}, false
	}
	for _, m := range e.Markers {
		if m.ID == id {
			return m, true
		}
	}
	return Marker{}, false
}

// Options holds the global engine tunables.
type Options struct {
	DbgDumpGraphFilename string
	DbgDumpGraphInterval float64
	LoopRate             float64
	DecayDuration        float64
	PublishMarkers       bool
	PublishWorldSensors  bool
	PublishEntitySensors bool
	PublishPoseTopics    bool
}

// DefaultOptions returns the options used when the document has no
// options section or leaves fields unset.
func DefaultOptions() Options {
	return Options{
		LoopRate:             60.0,
		DecayDuration:        0.25,
		PublishMarkers:       true,
		PublishWorldSensors:  true,
		PublishEntitySensors: true,
		PublishPoseTopics:    true,
	}
}

// Config is the immutable model built from one configuration document.
type Config struct {
	entities []Entity
	options  Options
}

// Options returns a copy of the global tunables.
func (c *Config) Options() Options {
	return c.options
}

// Entities returns a deep copy of the entity list. Mutating the result
// does not affect the model.
func (c *Config) Entities() []Entity {
	out := make([]Entity, len(c.entities))
	for i, e := range c.entities {
		out[i] = copyEntity(e)
	}
	return out
}

// Entity returns a copy of the named entity.
func (c *Config) Entity(name string) (Entity, bool) {
	for _, e := range c.entities {
		if e.Name == name {
			return copyEntity(e), true
		}
	}
	return Entity{}, false
}

func copyEntity(e Entity) Entity {
	e.Sensors = append([]Sensor(nil), e.Sensors...)
	e.Markers = append([]Marker(nil), e.Markers...)
	return e
}

// Validate checks the loaded model for values the fusion engine cannot
// work with. Loading is deliberately tolerant, so validation is a
// separate opt-in step.
func (c *Config) Validate() error {
	var result error
	known := map[string]bool{}
	for _, e := range c.entities {
		known[e.Name] = true
	}
	seen := map[string]bool{}
	for _, e := range c.entities {
		if seen[e.Name] {
			result = multierr.Append(result, errors.Errorf("duplicate entity name %q", e.Name))
		}
		seen[e.Name] = true
		if e.FilterAlpha <= 0 || e.FilterAlpha > 1 {
			result = multierr.Append(result,
				errors.Errorf("entity %q: filterAlpha must be in (0,1], got %v", e.Name, e.FilterAlpha))
		}
		for _, s := range e.Sensors {
			if s.Sigma <= 0 {
				result = multierr.Append(result,
					errors.Errorf("entity %q: sensor %q: sigma must be positive, got %v", e.Name, s.Name, s.Sigma))
			}
			if !known[s.Target] {
				result = multierr.Append(result,
					errors.Errorf("entity %q: sensor %q: unknown target entity %q", e.Name, s.Name, s.Target))
			}
		}
	}
	return result
}

// String renders the full model for debugging.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("=== CONFIG ===\n")
	b.WriteString("Options:\n")
	fmt.Fprintf(&b, "  loopRate: %v\n", c.options.LoopRate)
	fmt.Fprintf(&b, "  decayDuration: %v\n", c.options.DecayDuration)
	fmt.Fprintf(&b, "  dbgDumpGraphFilename: %s\n", c.options.DbgDumpGraphFilename)
	fmt.Fprintf(&b, "  dbgDumpGraphInterval: %v\n", c.options.DbgDumpGraphInterval)
	fmt.Fprintf(&b, "  publishMarkers: %t\n", c.options.PublishMarkers)
	fmt.Fprintf(&b, "  publishWorldSensors: %t\n", c.options.PublishWorldSensors)
	fmt.Fprintf(&b, "  publishEntitySensors: %t\n", c.options.PublishEntitySensors)
	fmt.Fprintf(&b, "  publishPoseTopics: %t\n", c.options.PublishPoseTopics)
	b.WriteString("Entities:\n")
	for _, e := range c.entities {
		fmt.Fprintf(&b, "  -%s\n", e.Name)
		b.WriteString("    Sensors:\n")
		for _, s := range e.Sensors {
			fmt.Fprintf(&b, "      -%s\n", s.Name)
		}
		b.WriteString("    Markers:\n")
		for _, m := range e.Markers {
			fmt.Fprintf(&b, "      -ID:%d\n", m.ID)
		}
	}
	b.WriteString("=== CONFIG END ===\n")
	return b.String()
}
