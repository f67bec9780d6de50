package fusion

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"github.com/atlas-sensing/atlas/spatialmath"
)

// PassThrough implements Filter without any fusion: it retains the raw
// samples and reports the most recent one. It stands in for WeightedMean
// when fusion is disabled but downstream code still expects the Filter
// interface.
type PassThrough struct {
	vecs  []r3.Vector
	quats []quat.Number
}

// NewPassThrough returns an empty pass-through filter.
func NewPassThrough() *PassThrough {
	return &PassThrough{}
}

// AddVec3 retains a raw translation sample. The weight is validated for
// interface consistency but otherwise ignored.
func (pt *PassThrough) AddVec3(v r3.Vector, weight float64) error {
	if weight <= 0 {
		return errNonPositiveWeight
	}
	pt.vecs = append(pt.vecs, v)
	return nil
}

// AddQuat retains a raw rotation sample, normalized on ingest.
func (pt *PassThrough) AddQuat(q quat.Number, weight float64) error {
	if weight <= 0 {
		return errNonPositiveWeight
	}
	if quat.Abs(q) == 0 {
		return errZeroRotation
	}
	pt.quats = append(pt.quats, spatialmath.Normalize(q))
	return nil
}

// Vec3 returns the most recent translation sample.
func (pt *PassThrough) Vec3() r3.Vector {
	if len(pt.vecs) == 0 {
		return r3.Vector{}
	}
	return pt.vecs[len(pt.vecs)-1]
}

// Quat returns the most recent rotation sample.
func (pt *PassThrough) Quat() quat.Number {
	if len(pt.quats) == 0 {
		return quat.Number{Real: 1}
	}
	return pt.quats[len(pt.quats)-1]
}

// Clear drops all retained samples.
func (pt *PassThrough) Clear() {
	pt.vecs = nil
	pt.quats = nil
}

// Samples returns copies of the retained raw samples, for diagnostics.
func (pt *PassThrough) Samples() ([]r3.Vector, []quat.Number) {
	return append([]r3.Vector(nil), pt.vecs...), append([]quat.Number(nil), pt.quats...)
}
