package connection

// State is the lifecycle state of a Connection.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

var stateNames = map[State]string{
	Disconnected: "disconnected",
	Connecting:   "connecting",
	Connected:    "connected",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// transition is permissive: any state may move to any other, including itself.
func (c *Connection) transition(to State) {
	from := State(c.state.Swap(int32(to)))
	c.logger.Debug("connection state changed",
		stateField("from", from),
		stateField("to", to),
	)
}
