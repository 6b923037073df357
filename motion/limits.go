// Package motion holds the per-joint kinematic limit primitives shared by the
// servoing engine and trajectory smoothing.
package motion

import (
	"math"

	"go.viam.com/rdk/referenceframe"
)

// Defaults used when a joint does not declare the corresponding bound.
const (
	DefaultMaxVelocity     = 5.0  // rad/s
	DefaultMaxAcceleration = 10.0 // rad/s^2
	DefaultMaxJerk         = 20.0 // rad/s^3
)

// JointLimits describes the kinematic bounds of a single joint. A zero value
// for any of the Max fields means the bound is absent and the corresponding
// default applies. Position bounds are absent unless Min < Max.
type JointLimits struct {
	Position        referenceframe.Limit
	MaxVelocity     float64
	MaxAcceleration float64
	MaxJerk         float64
}

// Unbounded returns a position limit spanning the whole real line.
func Unbounded() referenceframe.Limit {
	return referenceframe.Limit{Min: math.Inf(-1), Max: math.Inf(1)}
}

// PositionBounded reports whether the joint declares finite position bounds.
func (jl JointLimits) PositionBounded() bool {
	return jl.Position.Min < jl.Position.Max &&
		!math.IsInf(jl.Position.Min, -1) && !math.IsInf(jl.Position.Max, 1)
}

// VelocityLimit returns the joint's velocity bound, or the default when absent.
func (jl JointLimits) VelocityLimit() float64 {
	if jl.MaxVelocity > 0 {
		return jl.MaxVelocity
	}
	return DefaultMaxVelocity
}

// AccelerationLimit returns the joint's acceleration bound, or the default when absent.
func (jl JointLimits) AccelerationLimit() float64 {
	if jl.MaxAcceleration > 0 {
		return jl.MaxAcceleration
	}
	return DefaultMaxAcceleration
}

// JerkLimit returns the joint's jerk bound, or the default when absent.
func (jl JointLimits) JerkLimit() float64 {
	if jl.MaxJerk > 0 {
		return jl.MaxJerk
	}
	return DefaultMaxJerk
}

// VelocityLimitScale returns the tightest uniform scale in [0, 1] such that
// every scaled delta, interpreted as a velocity over the given period, stays
// within its joint's velocity bound. Scaling the whole vector uniformly
// preserves the direction of motion; clipping joints individually would not.
func VelocityLimitScale(limits []JointLimits, deltas []float64, period float64) float64 {
	scale := 1.0
	for i, delta := range deltas {
		if i >= len(limits) {
			break
		}
		velocity := math.Abs(delta / period)
		if bound := limits[i].VelocityLimit(); velocity > bound {
			scale = math.Min(scale, bound/velocity)
		}
	}
	return scale
}
