package fusion

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"github.com/atlas-sensing/atlas/spatialmath"
)

// WeightedMean fuses weighted samples into a single consensus pose.
//
// The translation channel keeps a running weighted sum. The rotation
// channel cannot do the same: a linear combination of unit quaternions is
// not unit-norm, and q and -q describe the same rotation, so an
// arithmetic mean depends on the arbitrary sign of each input. Instead
// each sample's weighted outer product q*q^T is accumulated into a 4x4
// moment matrix whose dominant eigenvector is the consensus rotation.
// The eigendecomposition happens lazily on read, not on every insert.
type WeightedMean struct {
	vecSum    r3.Vector
	vecWeight float64

	moment     *mat.SymDense
	quatWeight float64

	cachedQuat quat.Number
	quatDirty  bool
}

// NewWeightedMean returns an empty weighted-mean filter.
func NewWeightedMean() *WeightedMean {
	return &WeightedMean{
		moment:     mat.NewSymDense(4, nil),
		cachedQuat: quat.Number{Real: 1},
	}
}

// AddVec3 folds a weighted translation sample into the filter.
func (wm *WeightedMean) AddVec3(v r3.Vector, weight float64) error {
	if weight <= 0 {
		return errNonPositiveWeight
	}
	wm.vecSum = wm.vecSum.Add(v.Mul(weight))
	wm.vecWeight += weight
	return nil
}

// AddQuat folds a weighted rotation sample into the filter. The sample is
// normalized on ingest; a zero-length quaternion is rejected.
func (wm *WeightedMean) AddQuat(q quat.Number, weight float64) error {
	if weight <= 0 {
		return errNonPositiveWeight
	}
	if quat.Abs(q) == 0 {
		return errZeroRotation
	}
	q = spatialmath.Normalize(q)

	// x, y, z, w ordering within the moment matrix
	elems := [4]float64{q.Imag, q.Jmag, q.Kmag, q.Real}
	for i := 0; i < 4; i++ {
		for j := i; j < 4; j++ {
			wm.moment.SetSym(i, j, wm.moment.At(i, j)+weight*elems[i]*elems[j])
		}
	}
	wm.quatWeight += weight
	wm.quatDirty = true
	return nil
}

// Vec3 returns the weighted mean translation. With zero total weight the
// zero vector is returned rather than dividing by zero.
func (wm *WeightedMean) Vec3() r3.Vector {
	if wm.vecWeight == 0 {
		return r3.Vector{}
	}
	return wm.vecSum.Mul(1 / wm.vecWeight)
}

// Quat returns the consensus rotation: the unit eigenvector of the moment
// matrix belonging to its largest eigenvalue. With zero total weight the
// identity rotation is returned.
func (wm *WeightedMean) Quat() quat.Number {
	if wm.quatWeight == 0 {
		return quat.Number{Real: 1}
	}
	if !wm.quatDirty {
		return wm.cachedQuat
	}

	var eig mat.EigenSym
	if !eig.Factorize(wm.moment, true) {
		return quat.Number{Real: 1}
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// eigenvalues come back in ascending order; take the last column
	dominant := mat.Col(nil, 3, &vecs)
	consensus := spatialmath.Normalize(quat.Number{
		Imag: dominant[0],
		Jmag: dominant[1],
		Kmag: dominant[2],
		Real: dominant[3],
	})
	// pin the sign so repeated reads are deterministic
	if consensus.Real < 0 {
		consensus = quat.Scale(-1, consensus)
	}
	wm.cachedQuat = consensus
	wm.quatDirty = false
	return consensus
}

// Clear resets both channels to their empty state.
func (wm *WeightedMean) Clear() {
	wm.vecSum = r3.Vector{}
	wm.vecWeight = 0
	wm.moment = mat.NewSymDense(4, nil)
	wm.quatWeight = 0
	wm.cachedQuat = quat.Number{Real: 1}
	wm.quatDirty = false
}

// scale multiplies all accumulated evidence by factor, implementing
// exponential forgetting of old samples.
func (wm *WeightedMean) scale(factor float64) {
	wm.vecSum = wm.vecSum.Mul(factor)
	wm.vecWeight *= factor
	wm.moment.ScaleSym(factor, wm.moment)
	wm.quatWeight *= factor
	// the consensus direction is scale-invariant, so the cache stays valid
}
