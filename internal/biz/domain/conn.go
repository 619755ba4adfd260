package domain

// ConnState is the broker connection lifecycle.
type ConnState int

const (
	ConnDisconnected ConnState = iota
	ConnConnecting
	ConnSubscribed
	ConnLost
	ConnStopped
)

var connStateNames = map[ConnState]string{
	ConnDisconnected: "DISCONNECTED",
	ConnConnecting:   "CONNECTING",
	ConnSubscribed:   "SUBSCRIBED",
	ConnLost:         "CONNECTION_LOST",
	ConnStopped:      "STOPPED",
}

func (s ConnState) String() string {
	if name, ok := connStateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Stop is allowed from every non-terminal state.
var connTransitions = map[ConnState][]ConnState{
	ConnDisconnected: {ConnConnecting, ConnStopped},
	ConnConnecting:   {ConnSubscribed, ConnLost, ConnStopped},
	ConnSubscribed:   {ConnLost, ConnStopped},
	ConnLost:         {ConnConnecting, ConnStopped},
}

// CanTransition reports whether s -> to is allowed.
func (s ConnState) CanTransition(to ConnState) bool {
	for _, next := range connTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Live reports whether the connection is up or being brought up.
func (s ConnState) Live() bool {
	return s == ConnConnecting || s == ConnSubscribed
}
