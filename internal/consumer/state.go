package consumer

// State is the connection state of a Consumer.
type State int

// Consumer states.
const (
	Disconnected State = iota
	Connecting
	Consuming
	Closing
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Consuming:
		return "consuming"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}
