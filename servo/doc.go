// Package servo implements a real-time Cartesian and joint-space servoing
// engine for a multi-joint manipulator. At a fixed publish cadence it turns
// externally supplied twist or joint-jog commands into smoothed,
// limit-enforced, singularity-aware joint trajectories for a downstream joint
// controller.
//
// The engine does not talk to hardware or a transport layer itself. The robot
// model, the source of current joint state, and the publication of outgoing
// commands are all injected through small interfaces.
package servo
