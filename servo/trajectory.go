package servo

import (
	"time"
)

// TrajectoryPoint is a single sample of an outgoing joint trajectory.
type TrajectoryPoint struct {
	Positions     []float64
	Velocities    []float64
	Accelerations []float64
	TimeFromStart time.Duration
}

// JointTrajectory is the outgoing command for a downstream joint trajectory
// controller. A zero Stamp means "begin immediately".
type JointTrajectory struct {
	FrameID    string
	Stamp      time.Time
	JointNames []string
	Points     []TrajectoryPoint
}

// Clone returns a deep copy of the trajectory.
func (jt *JointTrajectory) Clone() *JointTrajectory {
	out := &JointTrajectory{
		FrameID:    jt.FrameID,
		Stamp:      jt.Stamp,
		JointNames: jt.JointNames,
		Points:     make([]TrajectoryPoint, len(jt.Points)),
	}
	for i, pt := range jt.Points {
		out.Points[i] = TrajectoryPoint{
			Positions:     append([]float64(nil), pt.Positions...),
			Velocities:    append([]float64(nil), pt.Velocities...),
			Accelerations: append([]float64(nil), pt.Accelerations...),
			TimeFromStart: pt.TimeFromStart,
		}
	}
	return out
}
