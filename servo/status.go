package servo

// StatusCode summarizes the engine's most recent kinematic constraint event.
// It is published once per cycle and then reset, so a code published in cycle
// k reflects events from earlier cycles only.
type StatusCode int8

// The possible status codes.
const (
	StatusNoWarning StatusCode = iota
	StatusDecelerateForCollision
	StatusHaltForCollision
	StatusDecelerateForSingularity
	StatusHaltForSingularity
	StatusJointBound
)

func (s StatusCode) String() string {
	switch s {
	case StatusNoWarning:
		return "no warning"
	case StatusDecelerateForCollision:
		return "decelerating for collision"
	case StatusHaltForCollision:
		return "halting for collision"
	case StatusDecelerateForSingularity:
		return "decelerating for approaching singularity"
	case StatusHaltForSingularity:
		return "halting for singularity"
	case StatusJointBound:
		return "close to a joint position bound"
	default:
		return "unknown status"
	}
}
