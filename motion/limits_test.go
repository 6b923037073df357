package motion

import (
	"testing"

	"go.viam.com/rdk/referenceframe"
	"go.viam.com/test"
)

func TestLimitDefaults(t *testing.T) {
	var jl JointLimits
	test.That(t, jl.VelocityLimit(), test.ShouldEqual, DefaultMaxVelocity)
	test.That(t, jl.AccelerationLimit(), test.ShouldEqual, DefaultMaxAcceleration)
	test.That(t, jl.JerkLimit(), test.ShouldEqual, DefaultMaxJerk)
	test.That(t, jl.PositionBounded(), test.ShouldBeFalse)

	jl = JointLimits{
		Position:        referenceframe.Limit{Min: -1, Max: 1},
		MaxVelocity:     2,
		MaxAcceleration: 4,
		MaxJerk:         8,
	}
	test.That(t, jl.VelocityLimit(), test.ShouldEqual, 2.0)
	test.That(t, jl.AccelerationLimit(), test.ShouldEqual, 4.0)
	test.That(t, jl.JerkLimit(), test.ShouldEqual, 8.0)
	test.That(t, jl.PositionBounded(), test.ShouldBeTrue)

	test.That(t, JointLimits{Position: Unbounded()}.PositionBounded(), test.ShouldBeFalse)
}

func TestVelocityLimitScale(t *testing.T) {
	limits := []JointLimits{{MaxVelocity: 1}, {MaxVelocity: 2}}

	// Both joints within bounds: no scaling.
	scale := VelocityLimitScale(limits, []float64{0.005, 0.01}, 0.01)
	test.That(t, scale, test.ShouldEqual, 1.0)

	// Joint 0 moving at 2 rad/s against a 1 rad/s bound: halve everything.
	scale = VelocityLimitScale(limits, []float64{0.02, 0.01}, 0.01)
	test.That(t, scale, test.ShouldAlmostEqual, 0.5, 1e-12)

	// The tightest joint wins.
	scale = VelocityLimitScale(limits, []float64{0.02, 0.08}, 0.01)
	test.That(t, scale, test.ShouldAlmostEqual, 0.25, 1e-12)

	// Sign does not matter.
	scale = VelocityLimitScale(limits, []float64{-0.02, 0}, 0.01)
	test.That(t, scale, test.ShouldAlmostEqual, 0.5, 1e-12)
}
