package session

import "fmt"

// State is the connection lifecycle state.
//
//	Disconnected → Connecting → Handshaking → Streaming
//	Connecting/Handshaking/Streaming --failure--> Disconnected → Backoff → Connecting
//	Streaming --shutdown--> Draining → Stopped
//	any suspension point --shutdown--> Stopped
type State int

const (
	// Disconnected has no socket.
	Disconnected State = iota
	// Connecting is dialing the collector.
	Connecting
	// Handshaking is sending the handshake and, if configured, awaiting the ack.
	Handshaking
	// Streaming is writing queued chunks and keepalives.
	Streaming
	// Draining is flushing queued chunks after a shutdown request.
	Draining
	// Backoff is waiting before the next connection attempt.
	Backoff
	// Stopped is terminal.
	Stopped
)

var stateNames = [...]string{
	Disconnected: "disconnected",
	Connecting:   "connecting",
	Handshaking:  "handshaking",
	Streaming:    "streaming",
	Draining:     "draining",
	Backoff:      "backoff",
	Stopped:      "stopped",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// validTransitions lists the states reachable from each state.
var validTransitions = map[State][]State{
	Disconnected: {Connecting, Backoff, Stopped},
	Connecting:   {Handshaking, Disconnected, Stopped},
	Handshaking:  {Streaming, Disconnected, Stopped},
	Streaming:    {Disconnected, Draining, Stopped},
	Draining:     {Stopped},
	Backoff:      {Connecting, Stopped},
	Stopped:      nil,
}

// CanTransition reports whether from → to is a legal transition.
func CanTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
