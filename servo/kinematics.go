package servo

import (
	"gonum.org/v1/gonum/mat"

	"go.viam.com/servoing/motion"
	"go.viam.com/servoing/spatial"
)

// Kinematics is the robot model for one controlled joint group. Implementations
// are expected to be safe for calls from the servo worker goroutine; the engine
// never calls them concurrently with itself.
type Kinematics interface {
	// Name returns the name of the joint group this model describes.
	Name() string

	// JointNames returns the ordered names of the actuated joints.
	JointNames() []string

	// Limits returns the kinematic limits of each joint, in joint order.
	Limits() []motion.JointLimits

	// Jacobian returns the 6xN Jacobian of the end effector at the given
	// joint positions, expressed in the planning frame.
	Jacobian(positions []float64) (*mat.Dense, error)

	// GlobalLinkTransform returns the base-to-link transform of the named
	// link at the given joint positions.
	GlobalLinkTransform(linkName string, positions []float64) (*spatial.Transform, error)
}

// JointState is a snapshot of the joint group: names, positions and velocities
// share one ordering and one length.
type JointState struct {
	Names      []string
	Positions  []float64
	Velocities []float64
}

// Clone returns a deep copy of the joint state.
func (js JointState) Clone() JointState {
	out := JointState{
		Names:      js.Names,
		Positions:  make([]float64, len(js.Positions)),
		Velocities: make([]float64, len(js.Velocities)),
	}
	copy(out.Positions, js.Positions)
	copy(out.Velocities, js.Velocities)
	return out
}

// StateSource supplies the latest observed joint state, typically backed by a
// state monitor fed from the robot. It is polled once per cycle.
type StateSource interface {
	CurrentJointState() JointState
}

// Publisher receives everything the engine emits. Only one of
// PublishTrajectory or PublishFloats is used, per the configured
// command_out_type. Implementations must not block for long; they are called
// from the servo worker during each cycle.
type Publisher interface {
	PublishTrajectory(traj *JointTrajectory)
	PublishFloats(values []float64)
	PublishStatus(code StatusCode)
	PublishCondition(conditionNumber float64)
}
