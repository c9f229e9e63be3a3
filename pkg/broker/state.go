package broker

// State is the lifecycle state of the single broker session owned by a Manager.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Closing
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	case Reconnecting:
		return "reconnecting"
	default:
		return "invalid"
	}
}
