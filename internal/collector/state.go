package collector

// SenderState is the lifecycle of one sender position.
type SenderState int

const (
	NotStarted SenderState = iota
	Active
	Finished
)

func (s SenderState) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Active:
		return "active"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}
