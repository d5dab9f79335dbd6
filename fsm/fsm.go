// Package fsm implements the per-peer BGP session state machine as a pure,
// total function: Handle(Value, Event) -> (Value, []Action). It performs no
// I/O, starts no timers, and opens no sockets — package server's Coordinator
// interprets the emitted actions against real timers, connections, and the
// RIB. This separation is what makes the state machine itself exhaustively
// unit-testable (see handle_test.go) the way the teacher's inline,
// channel-entangled server.FSM methods never could be.
package fsm

import "github.com/corebgp/corebgp/packet"

// State is one of the six RFC 4271 8.2.1 session states.
type State uint8

const (
	Idle State = iota
	Connect
	Active
	OpenSent
	OpenConfirm
	Established
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Connect:
		return "Connect"
	case Active:
		return "Active"
	case OpenSent:
		return "OpenSent"
	case OpenConfirm:
		return "OpenConfirm"
	case Established:
		return "Established"
	default:
		return "Unknown"
	}
}

// Value is the FSM's complete state: the current State plus the timer
// configuration and retry counter RFC 4271 8.1.1 attaches to a connection.
// HoldTime starts out as the configured local value and is overwritten with
// the negotiated value once an OPEN is received (§3 of the spec: a single
// field is reused, not two).
type Value struct {
	State            State
	ConnRetryCounter uint32
	ConnRetryTime    uint16
	HoldTime         uint16
	KeepaliveTime    uint16
}

// NewValue builds the initial Idle-state Value for a newly configured peer.
func NewValue(connRetryTime, holdTime, keepaliveTime uint16) Value {
	return Value{
		State:         Idle,
		ConnRetryTime: connRetryTime,
		HoldTime:      holdTime,
		KeepaliveTime: keepaliveTime,
	}
}

// EventType names one of the inputs the FSM reacts to.
type EventType uint8

const (
	ManualStart EventType = iota
	ManualStop
	ConnRetryTimerExpired
	HoldTimerExpired
	KeepaliveTimerExpired
	TCPConnectionConfirmed
	TCPCRAcked
	TCPConnectionFail
	BGPOpenReceived
	BGPHeaderErr
	BGPOpenMsgErr
	NotifMsgReceived
	KeepaliveMsgReceived
	UpdateMsgReceived
	OpenCollisionDump
)

// Event is one input to Handle. Payload fields are populated only for the
// EventTypes that carry data.
type Event struct {
	Type   EventType
	Open   *packet.Open
	Notif  *packet.Notification
	Update *packet.Update
}

// ActionType names one output of Handle. The Coordinator's executor
// (package server) maps each to a concrete side effect.
type ActionType uint8

const (
	InitiateTCPConnection ActionType = iota
	DropTCPConnection
	SendOpenMsg
	SendMsg
	StartConnRetryTimer
	StopConnRetryTimer
	ResetConnRetryTimer
	StartHoldTimer
	StopHoldTimer
	ResetHoldTimer
	StartKeepaliveTimer
	StopKeepaliveTimer
	ResetKeepaliveTimer
	ProcessUpdateMsg
	InitiateRib
	ReleaseRib
)

// Action is one output of Handle, executed by the Coordinator in the order
// the slice lists them.
type Action struct {
	Type   ActionType
	Secs   uint16
	Msg    interface{}
	Update *packet.Update
}

// initialOpenSentHoldTime is the large hold timer RFC 4271 4.4 mandates
// while waiting for the peer's OPEN, before any hold time is negotiated.
const initialOpenSentHoldTime = 240
