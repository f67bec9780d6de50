// Package fusion combines weighted pose observations from many sensors
// into a running consensus transform per tracked entity.
package fusion

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"
)

// A Filter accumulates weighted pose samples and reports a consensus
// value per channel. Implementations are not safe for concurrent use;
// the Tracker provides the per-entity locking.
type Filter interface {
	// AddVec3 folds a weighted translation sample into the filter.
	AddVec3(v r3.Vector, weight float64) error
	// AddQuat folds a weighted rotation sample into the filter. The
	// sample is normalized on ingest.
	AddQuat(q quat.Number, weight float64) error
	// Vec3 returns the consensus translation, or the zero vector when no
	// samples have been added.
	Vec3() r3.Vector
	// Quat returns the consensus rotation, or the identity rotation when
	// no samples have been added.
	Quat() quat.Number
	// Clear resets the filter to its empty state.
	Clear()
}

// decayable filters can scale down their accumulated evidence so old
// samples are forgotten over time.
type decayable interface {
	scale(factor float64)
}

var (
	errNonPositiveWeight = errors.New("sample weight must be positive")
	errZeroRotation      = errors.New("rotation sample has zero length")
)
