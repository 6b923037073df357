package trajsmooth

import (
	"math"
	"testing"
	"time"

	"go.viam.com/rdk/logging"
	"go.viam.com/test"

	"go.viam.com/servoing/motion"
)

func singleJointSmoother(t *testing.T) *Smoother {
	t.Helper()
	s, err := NewSmoother(Config{
		Limits: []motion.JointLimits{{MaxVelocity: 1, MaxAcceleration: 2, MaxJerk: 5}},
	}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return s
}

func waypoint(dur time.Duration, positions ...float64) Waypoint {
	return Waypoint{Positions: positions, Duration: dur}
}

func TestNewSmootherValidation(t *testing.T) {
	logger := logging.NewTestLogger(t)

	_, err := NewSmoother(Config{}, logger)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewSmoother(Config{
		Limits:          []motion.JointLimits{{}},
		VelocityScaling: 1.5,
	}, logger)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewSmoother(Config{
		Limits:              []motion.JointLimits{{}},
		AccelerationScaling: -0.1,
	}, logger)
	test.That(t, err, test.ShouldNotBeNil)

	s, err := NewSmoother(Config{Limits: []motion.JointLimits{{}}}, logger)
	test.That(t, err, test.ShouldBeNil)
	// Absent bounds fall back to the defaults.
	test.That(t, s.gen.maxVelocity[0], test.ShouldEqual, motion.DefaultMaxVelocity)
	test.That(t, s.gen.maxAcceleration[0], test.ShouldEqual, motion.DefaultMaxAcceleration)
	test.That(t, s.gen.maxJerk[0], test.ShouldEqual, motion.DefaultMaxJerk)
	test.That(t, s.timestep, test.ShouldEqual, DefaultTimestep)
}

func TestSmoothRejectsDegenerateInputs(t *testing.T) {
	s := singleJointSmoother(t)

	_, err := s.Smooth(Trajectory{waypoint(0, 0)})
	test.That(t, err, test.ShouldNotBeNil)

	_, err = s.Smooth(Trajectory{waypoint(0, 0), waypoint(time.Second, math.NaN())})
	test.That(t, err, test.ShouldNotBeNil)

	// All waypoints within the collapse epsilon of each other.
	_, err = s.Smooth(Trajectory{waypoint(0, 0), waypoint(time.Second, 0.0005)})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "distinct")

	// Average segment duration shorter than the output timestep.
	_, err = s.Smooth(Trajectory{waypoint(0, 0), waypoint(500*time.Microsecond, 1)})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "timestep")

	_, err = s.Smooth(Trajectory{waypoint(0, 0), Waypoint{Positions: []float64{1, 2}, Duration: time.Second}})
	test.That(t, err, test.ShouldNotBeNil)
}

// checkKinematicBounds verifies the finite differences of a sample stream
// against the generator's bounds.
func checkKinematicBounds(t *testing.T, out Trajectory, vMax, aMax, jMax, dt float64) {
	t.Helper()
	for i := 1; i < len(out); i++ {
		test.That(t, out[i].Duration, test.ShouldEqual, time.Millisecond)
		for j := range out[i].Positions {
			dv := out[i].Velocities[j] - out[i-1].Velocities[j]
			da := out[i].Accelerations[j] - out[i-1].Accelerations[j]
			test.That(t, math.Abs(out[i].Velocities[j]), test.ShouldBeLessThanOrEqualTo, vMax+jMax*dt)
			test.That(t, math.Abs(dv), test.ShouldBeLessThanOrEqualTo, aMax*dt+1e-9)
			test.That(t, math.Abs(da), test.ShouldBeLessThanOrEqualTo, jMax*dt+1e-9)
		}
	}
}

func TestSmoothSingleSegment(t *testing.T) {
	s := singleJointSmoother(t)

	out, err := s.Smooth(Trajectory{waypoint(0, 0), waypoint(2*time.Second, 1)})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(out), test.ShouldBeGreaterThan, 2)

	// The first output waypoint equals the first input waypoint.
	test.That(t, out[0].Positions[0], test.ShouldEqual, 0.0)
	test.That(t, out[0].Duration, test.ShouldEqual, time.Duration(0))

	checkKinematicBounds(t, out, 1, 2, 5, 0.001)

	final := out[len(out)-1]
	test.That(t, final.Positions[0], test.ShouldAlmostEqual, 1, 1e-3)
	test.That(t, math.Abs(final.Velocities[0]), test.ShouldBeLessThan, 0.01)
}

func TestSmoothReversals(t *testing.T) {
	s := singleJointSmoother(t)

	out, err := s.Smooth(Trajectory{
		waypoint(0, 1),
		waypoint(3*time.Second, -1),
		waypoint(3*time.Second, 1),
	})
	test.That(t, err, test.ShouldBeNil)
	checkKinematicBounds(t, out, 1, 2, 5, 0.001)

	// The stream visits the reversal point and returns.
	low := math.Inf(1)
	for _, wp := range out {
		low = math.Min(low, wp.Positions[0])
	}
	test.That(t, low, test.ShouldAlmostEqual, -1, 1e-2)
	test.That(t, out[len(out)-1].Positions[0], test.ShouldAlmostEqual, 1, 1e-2)
}

func TestSmoothScalingFactors(t *testing.T) {
	s, err := NewSmoother(Config{
		Limits:              []motion.JointLimits{{MaxVelocity: 1, MaxAcceleration: 2, MaxJerk: 5}},
		VelocityScaling:     0.5,
		AccelerationScaling: 0.5,
	}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	out, err := s.Smooth(Trajectory{waypoint(0, 0), waypoint(4*time.Second, 1)})
	test.That(t, err, test.ShouldBeNil)
	checkKinematicBounds(t, out, 0.5, 1, 5, 0.001)
}

func TestSmoothRetractsTargetVelocity(t *testing.T) {
	s := singleJointSmoother(t)

	// The target waypoint asks to arrive faster than the jerk-limited profile
	// can build up; the smoother retracts the target velocity until the
	// generated motion no longer lags it.
	in := Trajectory{
		{Positions: []float64{0}, Velocities: []float64{0.5}},
		{Positions: []float64{2}, Velocities: []float64{0.52}, Duration: 3 * time.Second},
	}
	out, err := s.Smooth(in)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(out), test.ShouldBeGreaterThan, 2)

	final := out[len(out)-1]
	test.That(t, final.Positions[0], test.ShouldAlmostEqual, 2, 1e-2)
	// The arrival velocity reflects the retraction: below the requested 0.52.
	test.That(t, final.Velocities[0], test.ShouldBeLessThan, 0.52)
	test.That(t, final.Velocities[0], test.ShouldBeGreaterThan, 0.3)
}

func TestSmoothCannotPreventBackwardMotion(t *testing.T) {
	s := singleJointSmoother(t)

	// From rest, a 1 rad/s arrival velocity is unreachable within one
	// timestep; retraction hits the search floor and the smoother gives up.
	in := Trajectory{
		{Positions: []float64{0}, Velocities: []float64{0}},
		{Positions: []float64{2}, Velocities: []float64{1}, Duration: 3 * time.Second},
	}
	_, err := s.Smooth(in)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "backward motion")
}

func TestSmoothUnwinds(t *testing.T) {
	s := singleJointSmoother(t)

	// 3.0 -> -3.0 crosses the +/- pi seam; the continuous representation is a
	// short hop to ~3.28, not a 6 rad swing backward.
	out, err := s.Smooth(Trajectory{waypoint(0, 3.0), waypoint(time.Second, -3.0)})
	test.That(t, err, test.ShouldBeNil)

	final := out[len(out)-1]
	test.That(t, final.Positions[0], test.ShouldAlmostEqual, -3.0+2*math.Pi, 1e-3)
	for _, wp := range out {
		test.That(t, wp.Positions[0], test.ShouldBeGreaterThanOrEqualTo, 3.0-1e-6)
	}
}

func TestCollapseIdenticalWaypoints(t *testing.T) {
	in := Trajectory{
		waypoint(0, 0),
		waypoint(time.Second, 0.0005),
		waypoint(time.Second, 1),
	}
	out := collapseIdenticalWaypoints(in)
	test.That(t, len(out), test.ShouldEqual, 2)
	test.That(t, out[1].Positions[0], test.ShouldEqual, 1.0)
	// The dropped waypoint's duration is folded into the kept one.
	test.That(t, out[1].Duration, test.ShouldEqual, 2*time.Second)
}

func TestLaggingMotion(t *testing.T) {
	// Near-zero targets are exempt from the ratio check.
	test.That(t, laggingMotion([]float64{0.0}, []float64{0.0}), test.ShouldBeFalse)
	test.That(t, laggingMotion([]float64{-1}, []float64{1e-6}), test.ShouldBeFalse)

	// Opposite signs lag regardless of magnitude.
	test.That(t, laggingMotion([]float64{-0.5}, []float64{0.5}), test.ShouldBeTrue)

	// A sign-agnostic ratio below one lags.
	test.That(t, laggingMotion([]float64{0.4}, []float64{0.5}), test.ShouldBeTrue)
	test.That(t, laggingMotion([]float64{-0.6}, []float64{-0.5}), test.ShouldBeFalse)
	test.That(t, laggingMotion([]float64{0.6}, []float64{0.5}), test.ShouldBeFalse)
}

func TestStepGeneratorHoldsAtTarget(t *testing.T) {
	gen := stepGenerator{
		maxVelocity:     []float64{1},
		maxAcceleration: []float64{2},
		maxJerk:         []float64{5},
		timestep:        0.001,
	}
	cur := newStepState(1)
	target := newStepState(1)
	next := newStepState(1)
	cur.positions[0] = 0.7
	target.positions[0] = 0.7

	finished := gen.step(cur, target, next)
	test.That(t, finished, test.ShouldBeTrue)
	test.That(t, next.positions[0], test.ShouldAlmostEqual, 0.7, 1e-9)
	test.That(t, next.velocities[0], test.ShouldAlmostEqual, 0, 1e-9)
}
