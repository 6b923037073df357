package servo

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Singular values below this are treated as exactly zero when inverting.
const singularValueFloor = 1e-12

// The singular vector probe is scaled down by this factor before the
// condition-number lookahead.
const singularityProbeScale = 100.0

// pseudoInverse computes the thin-SVD pseudo-inverse of the Jacobian. It also
// returns the left singular vectors and the singular values, which the
// singularity check reuses.
func pseudoInverse(jac *mat.Dense) (*mat.Dense, *mat.Dense, []float64, error) {
	var svd mat.SVD
	if !svd.Factorize(jac, mat.SVDThin) {
		return nil, nil, nil, errors.New("jacobian SVD failed to converge")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	values := svd.Values(nil)

	sInv := mat.NewDiagDense(len(values), nil)
	for i, val := range values {
		if val > singularValueFloor {
			sInv.SetDiag(i, 1/val)
		}
	}

	var pinv mat.Dense
	pinv.Product(&v, sInv, u.T())
	return &pinv, &u, values, nil
}

// conditionNumber is the ratio of largest to smallest singular value, a proxy
// for distance to a kinematic singularity.
func conditionNumber(values []float64) float64 {
	return values[0] / values[len(values)-1]
}

// jacobianCondition factorizes the Jacobian just far enough to read its
// condition number.
func jacobianCondition(jac *mat.Dense) (float64, error) {
	var svd mat.SVD
	if !svd.Factorize(jac, mat.SVDNone) {
		return 0, errors.New("jacobian SVD failed to converge")
	}
	return conditionNumber(svd.Values(nil)), nil
}

// velocityScaleForSingularity returns the factor in [0, 1] by which the joint
// deltas must be scaled given the proximity of the current configuration to a
// singularity and the direction of the commanded motion. It publishes the
// Jacobian condition number as a side effect.
func (s *Servo) velocityScaleForSingularity(
	deltaX []float64,
	u *mat.Dense,
	values []float64,
	pinv *mat.Dense,
	positions []float64,
) (float64, error) {
	numDimensions := len(deltaX)

	// The last left-singular column points directly toward or away from the
	// nearest singularity.
	_, uCols := u.Dims()
	towardSingularity := mat.Col(nil, uCols-1, u)

	iniCondition := conditionNumber(values)
	s.pub.PublishCondition(iniCondition)

	// The singular vector tends to flip direction unpredictably. See R. Bro,
	// "Resolving the Sign Ambiguity in the Singular Value Decomposition".
	// Look ahead: perturb the joints a small amount along it and see whether
	// the condition number decreases in that direction.
	probe := mat.NewVecDense(numDimensions, nil)
	for i, c := range towardSingularity {
		probe.SetVec(i, c/singularityProbeScale)
	}
	perturbed := mat.NewVecDense(len(positions), nil)
	perturbed.MulVec(pinv, probe)
	newTheta := make([]float64, len(positions))
	for i, p := range positions {
		newTheta[i] = p + perturbed.AtVec(i)
	}
	newJacobian, err := s.kin.Jacobian(newTheta)
	if err != nil {
		return 0, errors.Wrap(err, "computing perturbed jacobian")
	}
	newCondition, err := jacobianCondition(newJacobian)
	if err != nil {
		return 0, err
	}
	// If the condition did not increase, the vector points away; flip it so it
	// points toward the singularity.
	if iniCondition >= newCondition {
		floats.Scale(-1, towardSingularity)
	}

	// Moving away from the singularity needs no deceleration.
	if floats.Dot(towardSingularity, deltaX) <= 0 {
		return 1, nil
	}

	switch {
	case iniCondition <= s.cfg.LowerSingularityThreshold:
		return 1, nil
	case iniCondition < s.cfg.HardStopSingularityThreshold:
		scale := 1 - (iniCondition-s.cfg.LowerSingularityThreshold)/
			(s.cfg.HardStopSingularityThreshold-s.cfg.LowerSingularityThreshold)
		s.setStatus(StatusDecelerateForSingularity)
		s.warnThrottled("singularity-decel", "%s", StatusDecelerateForSingularity)
		return scale, nil
	default:
		s.setStatus(StatusHaltForSingularity)
		s.warnThrottled("singularity-halt", "%s", StatusHaltForSingularity)
		return 0, nil
	}
}

// removeDriftDimensions drops the Jacobian rows, and the matching delta
// entries, for every Cartesian dimension marked as drifting. Rows are walked
// from the highest index down, and at least one row is always kept.
func removeDriftDimensions(jac *mat.Dense, deltaX []float64, drift [6]bool) (*mat.Dense, []float64) {
	rows, cols := jac.Dims()
	keep := make([]bool, rows)
	for i := range keep {
		keep[i] = true
	}
	remaining := rows
	for dim := rows - 1; dim >= 0; dim-- {
		if dim < len(drift) && drift[dim] && remaining > 1 {
			keep[dim] = false
			remaining--
		}
	}
	if remaining == rows {
		return jac, deltaX
	}

	reduced := mat.NewDense(remaining, cols, nil)
	reducedDelta := make([]float64, 0, remaining)
	row := 0
	for i := 0; i < rows; i++ {
		if !keep[i] {
			continue
		}
		reduced.SetRow(row, mat.Row(nil, i, jac))
		if i < len(deltaX) {
			reducedDelta = append(reducedDelta, deltaX[i])
		}
		row++
	}
	return reduced, reducedDelta
}
