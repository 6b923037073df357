package servo

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// CommandInType selects how incoming command magnitudes are interpreted.
type CommandInType string

// The recognized command input interpretations.
const (
	// CommandInUnitless treats command components as unitless values in
	// [-1, 1], scaled by the configured linear/rotational/joint scales.
	CommandInUnitless = CommandInType("unitless")
	// CommandInSpeedUnits treats command components as m/s and rad/s.
	CommandInSpeedUnits = CommandInType("speed_units")
)

// CommandOutType selects the shape of the outgoing command.
type CommandOutType string

// The recognized outgoing command shapes.
const (
	// CommandOutTrajectory publishes a joint trajectory with a single point.
	CommandOutTrajectory = CommandOutType("trajectory")
	// CommandOutMultiarray publishes a flat array of positions (or
	// velocities when positions are disabled).
	CommandOutMultiarray = CommandOutType("multiarray")
)

// Config holds the servo engine options.
type Config struct {
	PublishPeriod                float64 `json:"publish_period"`           // seconds
	LowLatencyMode               bool    `json:"low_latency_mode"`         // begin calculations as soon as a command arrives
	IncomingCommandTimeout       float64 `json:"incoming_command_timeout"` // seconds until a command is considered stale
	NumOutgoingHaltMsgsToPublish int     `json:"num_outgoing_halt_msgs_to_publish"` // 0 keeps republishing forever

	CommandInType   CommandInType `json:"command_in_type"`
	LinearScale     float64       `json:"linear_scale"`
	RotationalScale float64       `json:"rotational_scale"`
	JointScale      float64       `json:"joint_scale"`

	LowerSingularityThreshold    float64 `json:"lower_singularity_threshold"`
	HardStopSingularityThreshold float64 `json:"hard_stop_singularity_threshold"`

	JointLimitMargin             float64 `json:"joint_limit_margin"` // radians
	HaltAllJointsInJointMode     bool    `json:"halt_all_joints_in_joint_mode"`
	HaltAllJointsInCartesianMode bool    `json:"halt_all_joints_in_cartesian_mode"`

	PublishJointPositions     bool `json:"publish_joint_positions"`
	PublishJointVelocities    bool `json:"publish_joint_velocities"`
	PublishJointAccelerations bool `json:"publish_joint_accelerations"`

	CommandOutType CommandOutType `json:"command_out_type"`
	CommandOutTopic string        `json:"command_out_topic"`

	PlanningFrame         string `json:"planning_frame"`
	EEFrameName           string `json:"ee_frame_name"`
	RobotLinkCommandFrame string `json:"robot_link_command_frame"`
	MoveGroupName         string `json:"move_group_name"`

	SmoothingFilterPluginName string  `json:"smoothing_filter_plugin_name"`
	LowPassFilterCoeff        float64 `json:"low_pass_filter_coeff"`

	// RedundantPointCount pads the outgoing trajectory with copies of the
	// single computed point at multiples of the publish period. Some
	// simulated controllers drop the first points when their stamps are
	// already in the past by arrival time.
	RedundantPointCount int `json:"redundant_point_count"`
}

// Validate checks the config for consistency.
func (c *Config) Validate() error {
	var err error
	if c.PublishPeriod <= 0 {
		err = multierr.Append(err, errors.New("publish_period must be positive"))
	}
	if c.IncomingCommandTimeout <= 0 {
		err = multierr.Append(err, errors.New("incoming_command_timeout must be positive"))
	}
	if c.NumOutgoingHaltMsgsToPublish < 0 {
		err = multierr.Append(err, errors.New("num_outgoing_halt_msgs_to_publish cannot be negative"))
	}
	switch c.CommandInType {
	case CommandInUnitless, CommandInSpeedUnits:
	default:
		err = multierr.Append(err, errors.Errorf("unexpected command_in_type %q", c.CommandInType))
	}
	switch c.CommandOutType {
	case CommandOutTrajectory, CommandOutMultiarray:
	default:
		err = multierr.Append(err, errors.Errorf("unexpected command_out_type %q", c.CommandOutType))
	}
	if c.LowerSingularityThreshold <= 0 || c.HardStopSingularityThreshold <= c.LowerSingularityThreshold {
		err = multierr.Append(err, errors.New(
			"singularity thresholds must satisfy 0 < lower_singularity_threshold < hard_stop_singularity_threshold"))
	}
	if c.JointLimitMargin < 0 {
		err = multierr.Append(err, errors.New("joint_limit_margin cannot be negative"))
	}
	if c.MoveGroupName == "" {
		err = multierr.Append(err, errors.New("move_group_name is required"))
	}
	if c.PlanningFrame == "" {
		err = multierr.Append(err, errors.New("planning_frame is required"))
	}
	if c.EEFrameName == "" {
		err = multierr.Append(err, errors.New("ee_frame_name is required"))
	}
	return err
}

// withDefaults returns a copy of the config with optional fields filled in.
func (c Config) withDefaults() Config {
	if c.RobotLinkCommandFrame == "" {
		c.RobotLinkCommandFrame = c.EEFrameName
	}
	if c.SmoothingFilterPluginName == "" {
		c.SmoothingFilterPluginName = LowPassSmootherName
	}
	if c.LowPassFilterCoeff <= 1 {
		c.LowPassFilterCoeff = defaultLowPassFilterCoeff
	}
	if c.LinearScale == 0 {
		c.LinearScale = 1
	}
	if c.RotationalScale == 0 {
		c.RotationalScale = 1
	}
	if c.JointScale == 0 {
		c.JointScale = 1
	}
	return c
}
