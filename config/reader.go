package config

import (
	"io"
	"os"
	"strings"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
	"gonum.org/v1/gonum/num/quat"
	"gopkg.in/yaml.v3"

	"github.com/atlas-sensing/atlas/spatialmath"
)

// Loading is tolerant by design: only a structurally unparseable document
// fails. Every optional field falls back to a documented default and the
// fallback is logged, so a partially written configuration still produces
// a usable model.

type transformNode struct {
	Rot    []float64 `yaml:"rot"`
	Origin []float64 `yaml:"origin"`
}

type sensorNode struct {
	Sensor    *string        `yaml:"sensor"`
	Topic     *string        `yaml:"topic"`
	Type      *string        `yaml:"type"`
	Sigma     *float64       `yaml:"sigma"`
	Target    *string        `yaml:"target"`
	Transform *transformNode `yaml:"transform"`
}

type markerNode struct {
	Marker    *int           `yaml:"marker"`
	Transform *transformNode `yaml:"transform"`
}

type entityNode struct {
	Entity      *string      `yaml:"entity"`
	FilterAlpha *float64     `yaml:"filterAlpha"`
	Sensors     []sensorNode `yaml:"sensors"`
	Markers     []markerNode `yaml:"markers"`
}

type optionsNode struct {
	DbgDumpGraphFilename *string  `yaml:"dbgDumpGraphFilename"`
	DbgDumpGraphInterval *float64 `yaml:"dbgDumpGraphInterval"`
	LoopRate             *float64 `yaml:"loopRate"`
	DecayDuration        *float64 `yaml:"decayDuration"`
	PublishMarkers       *bool    `yaml:"publishMarkers"`
	PublishWorldSensors  *bool    `yaml:"publishWorldSensors"`
	PublishEntitySensors *bool    `yaml:"publishEntitySensors"`
	PublishPoseTopics    *bool    `yaml:"publishPoseTopics"`
}

type rootNode struct {
	Entities []entityNode `yaml:"entities"`
	Options  *optionsNode `yaml:"options"`
}

// ReadFile builds a Config from the YAML document at path.
func ReadFile(path string, logger golog.Logger) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer goutils.UncheckedErrorFunc(f.Close)
	return Read(f, logger)
}

// FromString builds a Config from an in-memory YAML document.
func FromString(document string, logger golog.Logger) (*Config, error) {
	return Read(strings.NewReader(document), logger)
}

// Read builds a Config from a YAML document. It fails only when the
// document cannot be parsed at all; missing sections and malformed
// optional fields are logged and defaulted.
func Read(r io.Reader, logger golog.Logger) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var root rootNode
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, errors.Wrap(err, "malformed configuration document")
	}

	if root.Entities == nil {
		logger.Warn("cannot find 'entities' section; no entities will be tracked")
	}
	if root.Options == nil {
		logger.Warn("cannot find 'options' section; using defaults")
	}

	cfg := &Config{options: DefaultOptions()}
	for _, node := range root.Entities {
		cfg.entities = append(cfg.entities, parseEntity(node, logger))
	}
	if root.Options != nil {
		parseOptions(root.Options, &cfg.options)
	}
	return cfg, nil
}

func parseEntity(node entityNode, logger golog.Logger) Entity {
	entity := Entity{
		Name:        stringOr(node.Entity, "undefined"),
		FilterAlpha: floatOr(node.FilterAlpha, 0.1),
	}
	for _, s := range node.Sensors {
		sensor := Sensor{
			Name:        stringOr(s.Sensor, "undefined"),
			Topic:       stringOr(s.Topic, "undefined"),
			Sigma:       floatOr(s.Sigma, 1.0),
			Target:      stringOr(s.Target, "undefined"),
			Calibration: parseTransform(s.Transform, logger),
		}
		sensorType, known := ParseSensorType(stringOr(s.Type, MarkerBased.String()))
		if !known {
			logger.Warnw("unrecognized sensor type; falling back to MarkerBased",
				"sensor", sensor.Name, "type", *s.Type)
		}
		sensor.Type = sensorType
		entity.Sensors = append(entity.Sensors, sensor)
	}
	for _, m := range node.Markers {
		entity.Markers = append(entity.Markers, Marker{
			ID:          intOr(m.Marker, UndefinedMarkerID),
			Calibration: parseTransform(m.Transform, logger),
		})
	}
	return entity
}

// parseTransform accepts a rotation of 4 numbers (quaternion x, y, z, w),
// 3 numbers (yaw, pitch, roll in degrees) or nothing (identity), and an
// origin of exactly 3 numbers. Any other element count is logged and
// replaced with the identity value.
func parseTransform(node *transformNode, logger golog.Logger) spatialmath.Transform {
	if node == nil {
		return spatialmath.NewZeroTransform()
	}

	rot := quat.Number{Real: 1}
	switch len(node.Rot) {
	case 4:
		rot = quat.Number{Imag: node.Rot[0], Jmag: node.Rot[1], Kmag: node.Rot[2], Real: node.Rot[3]}
	case 3:
		return composeOrigin(
			spatialmath.NewTransformFromYPRDegrees(node.Rot[0], node.Rot[1], node.Rot[2], r3.Vector{}),
			node, logger)
	case 0:
	default:
		logger.Warnw("'rot' is expected to have either 3 elements (YPR) or 4 elements (quaternion); using identity",
			"got", len(node.Rot))
	}
	return composeOrigin(spatialmath.NewTransform(rot, r3.Vector{}), node, logger)
}

func composeOrigin(tf spatialmath.Transform, node *transformNode, logger golog.Logger) spatialmath.Transform {
	origin := r3.Vector{}
	switch len(node.Origin) {
	case 3:
		origin = r3.Vector{X: node.Origin[0], Y: node.Origin[1], Z: node.Origin[2]}
	case 0:
	default:
		logger.Warnw("'origin' is expected to have 3 elements; using zero vector",
			"got", len(node.Origin))
	}
	return spatialmath.NewTransform(tf.Rotation(), origin)
}

func parseOptions(node *optionsNode, opts *Options) {
	opts.DbgDumpGraphFilename = stringOr(node.DbgDumpGraphFilename, opts.DbgDumpGraphFilename)
	opts.DbgDumpGraphInterval = floatOr(node.DbgDumpGraphInterval, opts.DbgDumpGraphInterval)
	opts.LoopRate = floatOr(node.LoopRate, opts.LoopRate)
	opts.DecayDuration = floatOr(node.DecayDuration, opts.DecayDuration)
	opts.PublishMarkers = boolOr(node.PublishMarkers, opts.PublishMarkers)
	opts.PublishWorldSensors = boolOr(node.PublishWorldSensors, opts.PublishWorldSensors)
	opts.PublishEntitySensors = boolOr(node.PublishEntitySensors, opts.PublishEntitySensors)
	opts.PublishPoseTopics = boolOr(node.PublishPoseTopics, opts.PublishPoseTopics)
}

func stringOr(v *string, fallback string) string {
	if v == nil {
		return fallback
	}
	return *v
}

func floatOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}

func intOr(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
