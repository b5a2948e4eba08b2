package coordinator

// Phase is a coordinator lifecycle state. Phases only advance in
// declaration order.
type Phase int

const (
	Validating Phase = iota
	Calibrating
	Spawning
	Waiting
	Done
)

func (p Phase) String() string {
	switch p {
	case Validating:
		return "validating"
	case Calibrating:
		return "calibrating"
	case Spawning:
		return "spawning"
	case Waiting:
		return "waiting"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}
