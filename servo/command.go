package servo

import (
	"math"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// TwistCommand is a Cartesian velocity command: linear and angular velocity of
// the end effector, expressed in FrameID. A zero Stamp never advances the
// engine's notion of command freshness.
type TwistCommand struct {
	FrameID string
	Stamp   time.Time
	Linear  r3.Vector
	Angular r3.Vector
}

// IsZero reports whether every component of the twist is zero.
func (c *TwistCommand) IsZero() bool {
	return c.Linear == r3.Vector{} && c.Angular == r3.Vector{}
}

// JointJogCommand is a joint-space velocity command for a subset of joints.
type JointJogCommand struct {
	Stamp      time.Time
	JointNames []string
	Velocities []float64
}

// IsZero reports whether every commanded joint velocity is zero.
func (c *JointJogCommand) IsZero() bool {
	for _, v := range c.Velocities {
		if v != 0 {
			return false
		}
	}
	return true
}

// checkValidTwist rejects commands the engine must skip: NaN components, and
// out-of-range components in unitless mode.
func checkValidTwist(cmd *TwistCommand, inType CommandInType) error {
	components := [6]float64{
		cmd.Linear.X, cmd.Linear.Y, cmd.Linear.Z,
		cmd.Angular.X, cmd.Angular.Y, cmd.Angular.Z,
	}
	var err error
	for _, c := range components {
		if math.IsNaN(c) {
			err = multierr.Append(err, errors.New("nan in incoming command"))
			break
		}
	}
	if inType == CommandInUnitless {
		for _, c := range components {
			if math.Abs(c) > 1 {
				err = multierr.Append(err, errors.New("component of incoming unitless command is >1"))
				break
			}
		}
	}
	return err
}

// checkValidJog rejects jog commands containing NaN velocities.
func checkValidJog(cmd *JointJogCommand) error {
	for _, v := range cmd.Velocities {
		if math.IsNaN(v) {
			return errors.New("nan in incoming command")
		}
	}
	return nil
}

// scaleCartesianCommand converts a twist into a 6-vector of Cartesian position
// deltas over one publish period.
func scaleCartesianCommand(cmd *TwistCommand, cfg Config) []float64 {
	result := make([]float64, 6)
	switch cfg.CommandInType {
	case CommandInUnitless:
		result[0] = cfg.LinearScale * cfg.PublishPeriod * cmd.Linear.X
		result[1] = cfg.LinearScale * cfg.PublishPeriod * cmd.Linear.Y
		result[2] = cfg.LinearScale * cfg.PublishPeriod * cmd.Linear.Z
		result[3] = cfg.RotationalScale * cfg.PublishPeriod * cmd.Angular.X
		result[4] = cfg.RotationalScale * cfg.PublishPeriod * cmd.Angular.Y
		result[5] = cfg.RotationalScale * cfg.PublishPeriod * cmd.Angular.Z
	case CommandInSpeedUnits:
		result[0] = cfg.PublishPeriod * cmd.Linear.X
		result[1] = cfg.PublishPeriod * cmd.Linear.Y
		result[2] = cfg.PublishPeriod * cmd.Linear.Z
		result[3] = cfg.PublishPeriod * cmd.Angular.X
		result[4] = cfg.PublishPeriod * cmd.Angular.Y
		result[5] = cfg.PublishPeriod * cmd.Angular.Z
	}
	return result
}

// scaleJointCommand converts a jog into a vector of joint position deltas over
// one publish period. Joint names not in the controlled group are ignored with
// a throttled warning; they never grow the output vector.
func (s *Servo) scaleJointCommand(cmd *JointJogCommand) []float64 {
	result := make([]float64, s.numJoints)
	for m, name := range cmd.JointNames {
		if m >= len(cmd.Velocities) {
			break
		}
		c, ok := s.jointIndex[name]
		if !ok {
			s.warnThrottled("ignoring-joint-"+name, "ignoring joint %q, not in group", name)
			continue
		}
		switch s.cfg.CommandInType {
		case CommandInUnitless:
			result[c] = cmd.Velocities[m] * s.cfg.JointScale * s.cfg.PublishPeriod
		case CommandInSpeedUnits:
			result[c] = cmd.Velocities[m] * s.cfg.PublishPeriod
		}
	}
	return result
}
