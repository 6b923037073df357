// Package trajsmooth rewrites a waypoint trajectory into a stream of
// constant-timestep samples that respect per-joint velocity, acceleration, and
// jerk bounds.
package trajsmooth

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"gonum.org/v1/gonum/floats"

	"go.viam.com/servoing/motion"
)

// DefaultTimestep spaces the output samples when the config does not say
// otherwise.
const DefaultTimestep = time.Millisecond

const (
	// Consecutive waypoints closer than this in group space are collapsed;
	// repeated waypoints would otherwise induce spurious circular motions.
	identicalPositionEps = 1e-3 // rad

	// Target-velocity retraction stops once the magnitude falls this low.
	minVelocitySearchMagnitude = 0.01 // rad/s

	targetVelocityRetraction = 0.9

	// Joints whose target velocity is below this are exempt from the lagging
	// check; the new/target velocity ratio is meaningless near zero.
	laggingVelocityFloor = 1e-3 // rad/s

	// Backstop against a step generator that never reports finished.
	maxStepsPerWaypoint = 100_000
)

// Config holds the smoother options.
type Config struct {
	// Limits are the per-joint kinematic bounds, in joint order.
	Limits []motion.JointLimits

	// VelocityScaling and AccelerationScaling shrink the respective bounds;
	// both must be in (0, 1] and default to 1.
	VelocityScaling     float64 `json:"max_velocity_scaling_factor"`
	AccelerationScaling float64 `json:"max_acceleration_scaling_factor"`

	// Timestep is the fixed output sample spacing.
	Timestep time.Duration `json:"timestep"`
}

// Waypoint is one sample of a joint trajectory. Velocities and Accelerations
// may be nil, meaning zero. Duration is the time from the previous waypoint.
type Waypoint struct {
	Positions     []float64
	Velocities    []float64
	Accelerations []float64
	Duration      time.Duration
}

// Trajectory is an ordered waypoint sequence. Every interior segment duration
// must be positive.
type Trajectory []Waypoint

func (t Trajectory) averageSegmentDuration() time.Duration {
	if len(t) < 2 {
		return 0
	}
	var total time.Duration
	for _, wp := range t[1:] {
		total += wp.Duration
	}
	return total / time.Duration(len(t)-1)
}

// Smoother rewrites trajectories into jerk-limited constant-timestep streams.
// It has no internal concurrency; it runs synchronously on the calling
// goroutine.
type Smoother struct {
	timestep time.Duration
	gen      stepGenerator
	logger   logging.Logger
}

// NewSmoother validates the config and precomputes the scaled bounds.
func NewSmoother(cfg Config, logger logging.Logger) (*Smoother, error) {
	if len(cfg.Limits) == 0 {
		return nil, errors.New("at least one joint limit is required")
	}
	velScale := cfg.VelocityScaling
	if velScale == 0 {
		velScale = 1
	}
	accScale := cfg.AccelerationScaling
	if accScale == 0 {
		accScale = 1
	}
	if velScale <= 0 || velScale > 1 || accScale <= 0 || accScale > 1 {
		return nil, errors.New("scaling factors must be in (0, 1]")
	}
	timestep := cfg.Timestep
	if timestep == 0 {
		timestep = DefaultTimestep
	}
	if timestep < 0 {
		return nil, errors.New("timestep must be positive")
	}

	numJoints := len(cfg.Limits)
	gen := stepGenerator{
		maxVelocity:     make([]float64, numJoints),
		maxAcceleration: make([]float64, numJoints),
		maxJerk:         make([]float64, numJoints),
		timestep:        timestep.Seconds(),
	}
	for i, lim := range cfg.Limits {
		gen.maxVelocity[i] = velScale * lim.VelocityLimit()
		gen.maxAcceleration[i] = accScale * lim.AccelerationLimit()
		gen.maxJerk[i] = lim.JerkLimit()
	}

	return &Smoother{timestep: timestep, gen: gen, logger: logger}, nil
}

// Smooth returns a new trajectory whose samples are spaced exactly one
// timestep apart and whose finite differences respect the configured bounds.
// The input is not modified. On failure the partial output is discarded.
func (s *Smoother) Smooth(traj Trajectory) (Trajectory, error) {
	numJoints := len(s.gen.maxVelocity)
	if len(traj) < 2 {
		return nil, errors.New("trajectory does not have enough waypoints to smooth")
	}
	for i, wp := range traj {
		if len(wp.Positions) != numJoints {
			return nil, errors.Errorf("waypoint %d has %d positions for a %d joint group", i, len(wp.Positions), numJoints)
		}
		if hasNaN(wp.Positions) || hasNaN(wp.Velocities) || hasNaN(wp.Accelerations) {
			return nil, errors.Errorf("waypoint %d contains NaN", i)
		}
	}

	working := unwind(traj)
	working = collapseIdenticalWaypoints(working)
	if dropped := len(traj) - len(working); dropped > 0 {
		s.logger.Debugf("collapsed %d repeated waypoints before smoothing", dropped)
	}
	if len(working) < 2 {
		return nil, errors.New("fewer than two distinct waypoints after collapsing")
	}
	if working.averageSegmentDuration() < s.timestep {
		return nil, errors.Errorf("average segment duration %v is shorter than the %v timestep",
			working.averageSegmentDuration(), s.timestep)
	}

	// The first output waypoint exactly equals the first input waypoint.
	out := Trajectory{cloneWaypoint(working[0], numJoints, 0)}

	cur := newStepState(numJoints)
	next := newStepState(numJoints)
	copy(cur.positions, working[0].Positions)
	copyOrZero(cur.velocities, working[0].Velocities)
	copyOrZero(cur.accelerations, working[0].Accelerations)

	for wpIdx, targetWaypoint := range working[1:] {
		target := newStepState(numJoints)
		copy(target.positions, targetWaypoint.Positions)
		copyOrZero(target.velocities, targetWaypoint.Velocities)
		copyOrZero(target.accelerations, targetWaypoint.Accelerations)

		steps := 0
		for {
			if steps++; steps > maxStepsPerWaypoint {
				return nil, errors.Errorf("smoothing did not converge on waypoint %d", wpIdx+1)
			}

			finished := s.gen.step(cur, target, next)

			if laggingMotion(next.velocities, target.velocities) {
				// The jerk-limited output lags the target. Retract the
				// target velocity and retry the same step; the position is
				// left alone so the exact target is still achieved.
				for j := range target.velocities {
					target.velocities[j] *= targetVelocityRetraction
					target.accelerations[j] = (target.velocities[j] - next.velocities[j]) / s.gen.timestep
				}
				if floats.Norm(target.velocities, 2) < minVelocitySearchMagnitude {
					return nil, errors.New("could not prevent backward motion during smoothing")
				}
				continue
			}

			sample := Waypoint{
				Positions:     append([]float64(nil), next.positions...),
				Velocities:    append([]float64(nil), next.velocities...),
				Accelerations: append([]float64(nil), next.accelerations...),
				Duration:      s.timestep,
			}
			out = append(out, sample)
			cur.copyFrom(next)

			if finished {
				break
			}
		}
	}

	return out, nil
}

// laggingMotion reports whether any joint's generated velocity lags its
// target: an opposite sign, or a sign-agnostic ratio below one. Joints with a
// near-zero target velocity are exempt; the ratio carries no information
// there.
func laggingMotion(newVelocities, targetVelocities []float64) bool {
	for j, tv := range targetVelocities {
		if math.Abs(tv) < laggingVelocityFloor {
			continue
		}
		nv := newVelocities[j]
		if nv*tv < 0 {
			return true
		}
		if math.Abs(nv) < math.Abs(tv) {
			return true
		}
	}
	return false
}

// retryWithExtendedDuration is where a failed segment would be reattempted
// with stretched input durations before giving up.
// TODO: wire in duration extension once the retry semantics are settled; the
// seed trajectory's duration is sometimes too short once jerk is accounted
// for.
func retryWithExtendedDuration(traj Trajectory, factor float64) Trajectory {
	out := make(Trajectory, len(traj))
	copy(out, traj)
	for i := 1; i < len(out); i++ {
		out[i].Duration = time.Duration(float64(out[i].Duration) * factor)
	}
	return out
}

// unwind rewrites each joint onto a continuous representation with no ±π
// discontinuity between consecutive waypoints.
func unwind(traj Trajectory) Trajectory {
	out := make(Trajectory, len(traj))
	for i, wp := range traj {
		out[i] = wp
		out[i].Positions = append([]float64(nil), wp.Positions...)
	}
	numJoints := len(out[0].Positions)
	for j := 0; j < numJoints; j++ {
		offset := 0.0
		for i := 1; i < len(out); i++ {
			diff := (out[i].Positions[j] + offset) - out[i-1].Positions[j]
			for diff > math.Pi {
				offset -= 2 * math.Pi
				diff -= 2 * math.Pi
			}
			for diff < -math.Pi {
				offset += 2 * math.Pi
				diff += 2 * math.Pi
			}
			out[i].Positions[j] += offset
		}
	}
	return out
}

// collapseIdenticalWaypoints drops waypoints whose group-space distance to the
// previously kept waypoint is negligible, folding their durations into the
// next kept waypoint.
func collapseIdenticalWaypoints(traj Trajectory) Trajectory {
	out := Trajectory{traj[0]}
	var carried time.Duration
	for _, wp := range traj[1:] {
		last := out[len(out)-1]
		if groupDistance(last.Positions, wp.Positions) <= identicalPositionEps {
			carried += wp.Duration
			continue
		}
		wp.Duration += carried
		carried = 0
		out = append(out, wp)
	}
	return out
}

func groupDistance(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

func cloneWaypoint(wp Waypoint, numJoints int, duration time.Duration) Waypoint {
	out := Waypoint{
		Positions:     append([]float64(nil), wp.Positions...),
		Velocities:    make([]float64, numJoints),
		Accelerations: make([]float64, numJoints),
		Duration:      duration,
	}
	copyOrZero(out.Velocities, wp.Velocities)
	copyOrZero(out.Accelerations, wp.Accelerations)
	return out
}

func copyOrZero(dst, src []float64) {
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, src)
}

func hasNaN(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
