package trajsmooth

import (
	"math"
)

// Tolerances for deciding a joint has reached its target state. The position
// check widens to one sample's worth of travel so a joint passing through the
// target at speed still registers.
const (
	positionTolerance = 1e-4 // rad
	velocityTolerance = 1e-2 // rad/s
)

// stepState is the kinematic state of every joint at one instant.
type stepState struct {
	positions     []float64
	velocities    []float64
	accelerations []float64
}

func newStepState(numJoints int) stepState {
	return stepState{
		positions:     make([]float64, numJoints),
		velocities:    make([]float64, numJoints),
		accelerations: make([]float64, numJoints),
	}
}

func (s stepState) copyFrom(other stepState) {
	copy(s.positions, other.positions)
	copy(s.velocities, other.velocities)
	copy(s.accelerations, other.accelerations)
}

// stepGenerator advances a multi-joint state toward a target state one fixed
// timestep at a time, never exceeding the velocity, acceleration, or jerk
// bound of any joint.
type stepGenerator struct {
	maxVelocity     []float64
	maxAcceleration []float64
	maxJerk         []float64
	timestep        float64 // seconds
}

// admissibleVelocity returns the largest speed toward the target from which
// the remaining distance still suffices to decelerate to the arrival speed
// under the acceleration and jerk bounds. It inverts the duration of a
// trapezoidal deceleration profile, dv/aMax + aMax/jerk, which overestimates
// the time of the jerk-dominated (triangular) regime and so errs toward
// starting the deceleration early.
func admissibleVelocity(dist, arrivalVel, aMax, jerk float64) float64 {
	slack := dist - arrivalVel*aMax/jerk
	if slack <= 0 {
		return math.Max(0, arrivalVel)
	}
	a := 1 / (2 * aMax)
	b := arrivalVel/aMax + aMax/(2*jerk)
	dv := (-b + math.Sqrt(b*b+4*a*slack)) / (2 * a)
	return math.Max(0, arrivalVel+dv)
}

// step computes the next state from cur toward target and reports whether
// every joint has reached the target position and velocity.
//
// Each joint follows a desired velocity derived from the remaining distance:
// the velocity limit, or the largest speed the acceleration and jerk limits
// can still shed before arrival, whichever is tighter. Keeping the approach
// decelerable is what makes the profile converge instead of overshooting.
func (g *stepGenerator) step(cur, target stepState, next stepState) bool {
	dt := g.timestep
	finished := true
	for j := range cur.positions {
		posErr := target.positions[j] - cur.positions[j]
		targetVel := target.velocities[j]

		// Arrival velocity projected onto the direction of approach; a target
		// velocity pointing away from the approach contributes nothing to the
		// admissible speed.
		toward := targetVel
		if posErr < 0 {
			toward = -targetVel
		}
		mag := math.Min(
			g.maxVelocity[j],
			admissibleVelocity(math.Abs(posErr), toward, g.maxAcceleration[j], g.maxJerk[j]),
		)

		var desired float64
		switch {
		case posErr > 0:
			desired = mag
		case posErr < 0:
			desired = -mag
		default:
			desired = math.Max(-g.maxVelocity[j], math.Min(g.maxVelocity[j], targetVel))
		}

		// Cap the acceleration so the jerk limit can still unwind it to zero
		// by the time the velocity reaches the desired value; without the cap
		// the velocity would overshoot by up to a^2/(2*jerk).
		velGap := math.Abs(desired - cur.velocities[j])
		accelCap := math.Min(g.maxAcceleration[j], math.Sqrt(2*g.maxJerk[j]*velGap))

		accel := (desired - cur.velocities[j]) / dt
		accel = math.Max(-accelCap, math.Min(accelCap, accel))
		accel = math.Max(cur.accelerations[j]-g.maxJerk[j]*dt,
			math.Min(cur.accelerations[j]+g.maxJerk[j]*dt, accel))

		vel := cur.velocities[j] + accel*dt
		pos := cur.positions[j] + vel*dt

		next.positions[j] = pos
		next.velocities[j] = vel
		next.accelerations[j] = accel

		posReached := math.Abs(target.positions[j]-pos) <= math.Max(positionTolerance, math.Abs(vel)*dt)
		velReached := math.Abs(vel-targetVel) <= math.Max(velocityTolerance, g.maxAcceleration[j]*dt)
		if !posReached || !velReached {
			finished = false
		}
	}
	return finished
}
