package fsm

import "github.com/corebgp/corebgp/packet"

// Handle is the BGP-4 session state machine: a pure, total function from
// the current Value and one input Event to the next Value and the ordered
// list of Actions the Coordinator must execute. It never performs I/O,
// never starts a real timer, and never blocks — every side effect it wants
// is represented as a returned Action, executed by package server in the
// order the slice lists them (§4.4 of the governing design: Action order
// is significant).
func Handle(v Value, e Event) (Value, []Action) {
	switch v.State {
	case Idle:
		return handleIdle(v, e)
	case Connect:
		return handleConnect(v, e)
	case Active:
		return handleActive(v, e)
	case OpenSent:
		return handleOpenSent(v, e)
	case OpenConfirm:
		return handleOpenConfirm(v, e)
	case Established:
		return handleEstablished(v, e)
	default:
		return v, nil
	}
}

func handleIdle(v Value, e Event) (Value, []Action) {
	switch e.Type {
	case ManualStart:
		v.State = Connect
		v.ConnRetryCounter = 0
		return v, []Action{
			{Type: InitiateTCPConnection},
			{Type: StartConnRetryTimer, Secs: v.ConnRetryTime},
		}
	case ManualStop:
		return v, nil
	case OpenCollisionDump:
		return toIdleOnCollisionDump(v)
	default:
		// Idle ignores all other events per RFC 4271 8.2.1.
		return v, nil
	}
}

func handleConnect(v Value, e Event) (Value, []Action) {
	switch e.Type {
	case TCPCRAcked, TCPConnectionConfirmed:
		v.State = OpenSent
		return v, []Action{
			{Type: StopConnRetryTimer},
			{Type: SendOpenMsg},
			{Type: StartHoldTimer, Secs: initialOpenSentHoldTime},
		}
	case ConnRetryTimerExpired:
		return v, []Action{
			{Type: DropTCPConnection},
			{Type: ResetConnRetryTimer, Secs: v.ConnRetryTime},
			{Type: InitiateTCPConnection},
		}
	case TCPConnectionFail:
		v.State = Active
		return v, []Action{
			{Type: ResetConnRetryTimer, Secs: v.ConnRetryTime},
			{Type: DropTCPConnection},
		}
	case ManualStop:
		return toIdleOnManualStop(v)
	case OpenCollisionDump:
		return toIdleOnCollisionDump(v)
	case BGPHeaderErr, BGPOpenMsgErr:
		return toIdleOnParseError(v)
	default:
		return v, nil
	}
}

func handleActive(v Value, e Event) (Value, []Action) {
	switch e.Type {
	case TCPConnectionFail:
		v.State = Idle
		v.ConnRetryCounter++
		return v, []Action{
			{Type: StopConnRetryTimer},
			{Type: DropTCPConnection},
			{Type: ReleaseRib},
		}
	case TCPCRAcked, TCPConnectionConfirmed:
		v.State = OpenSent
		return v, []Action{
			{Type: StopConnRetryTimer},
			{Type: SendOpenMsg},
			{Type: StartHoldTimer, Secs: initialOpenSentHoldTime},
		}
	case ConnRetryTimerExpired:
		v.State = Connect
		return v, []Action{
			{Type: ResetConnRetryTimer, Secs: v.ConnRetryTime},
			{Type: InitiateTCPConnection},
		}
	case ManualStop:
		return toIdleOnManualStop(v)
	case OpenCollisionDump:
		return toIdleOnCollisionDump(v)
	case BGPHeaderErr, BGPOpenMsgErr:
		return toIdleOnParseError(v)
	default:
		return v, nil
	}
}

func handleOpenSent(v Value, e Event) (Value, []Action) {
	switch e.Type {
	case BGPOpenReceived:
		negotiated := v.HoldTime
		if e.Open != nil && e.Open.HoldTime < negotiated {
			negotiated = e.Open.HoldTime
		}
		v.State = OpenConfirm
		v.HoldTime = negotiated
		v.KeepaliveTime = negotiated / 3
		actions := []Action{
			{Type: SendMsg},
			{Type: ResetHoldTimer, Secs: negotiated},
			{Type: StartKeepaliveTimer, Secs: negotiated / 3},
			{Type: InitiateRib},
		}
		return v, actions
	case TCPConnectionFail, BGPHeaderErr, BGPOpenMsgErr:
		v.State = Idle
		v.ConnRetryCounter++
		return v, []Action{
			{Type: StopConnRetryTimer},
			{Type: DropTCPConnection},
			{Type: ReleaseRib},
		}
	case HoldTimerExpired:
		return toIdleOnHoldExpired(v)
	case ManualStop:
		return toIdleOnManualStop(v)
	case OpenCollisionDump:
		return toIdleOnCollisionDump(v)
	case NotifMsgReceived:
		v.State = Idle
		v.ConnRetryCounter++
		return v, []Action{
			{Type: StopConnRetryTimer},
			{Type: DropTCPConnection},
			{Type: ReleaseRib},
		}
	default:
		return v, nil
	}
}

func handleOpenConfirm(v Value, e Event) (Value, []Action) {
	switch e.Type {
	case KeepaliveMsgReceived:
		v.State = Established
		return v, []Action{
			{Type: ResetHoldTimer, Secs: v.HoldTime},
		}
	case HoldTimerExpired:
		return toIdleOnHoldExpired(v)
	case KeepaliveTimerExpired:
		return v, []Action{
			{Type: SendMsg},
			{Type: StartKeepaliveTimer, Secs: v.KeepaliveTime},
		}
	case TCPConnectionFail, NotifMsgReceived, BGPHeaderErr, BGPOpenMsgErr:
		v.State = Idle
		v.ConnRetryCounter++
		return v, []Action{
			{Type: StopConnRetryTimer},
			{Type: DropTCPConnection},
			{Type: ReleaseRib},
		}
	case ManualStop:
		return toIdleOnManualStop(v)
	case OpenCollisionDump:
		return toIdleOnCollisionDump(v)
	default:
		return v, nil
	}
}

func handleEstablished(v Value, e Event) (Value, []Action) {
	switch e.Type {
	case UpdateMsgReceived:
		return v, []Action{
			{Type: ProcessUpdateMsg, Update: e.Update},
			{Type: ResetHoldTimer, Secs: v.HoldTime},
		}
	case KeepaliveMsgReceived:
		return v, []Action{
			{Type: ResetHoldTimer, Secs: v.HoldTime},
		}
	case KeepaliveTimerExpired:
		return v, []Action{
			{Type: SendMsg},
			{Type: StartKeepaliveTimer, Secs: v.KeepaliveTime},
		}
	case HoldTimerExpired:
		return toIdleOnHoldExpired(v)
	case TCPConnectionFail, NotifMsgReceived, BGPHeaderErr, BGPOpenMsgErr:
		v.State = Idle
		v.ConnRetryCounter++
		return v, []Action{
			{Type: StopConnRetryTimer},
			{Type: DropTCPConnection},
			{Type: ReleaseRib},
		}
	case ManualStop:
		return toIdleOnManualStop(v)
	case OpenCollisionDump:
		return toIdleOnCollisionDump(v)
	default:
		return v, nil
	}
}

// toIdleOnManualStop implements the common "any state + Manual_stop" rule.
func toIdleOnManualStop(v Value) (Value, []Action) {
	v.State = Idle
	v.ConnRetryCounter = 0
	return v, []Action{
		{Type: StopConnRetryTimer},
		{Type: StopHoldTimer},
		{Type: StopKeepaliveTimer},
		{Type: DropTCPConnection},
		{Type: ReleaseRib},
	}
}

// toIdleOnCollisionDump implements the common "any state + Open_collision_dump"
// rule. conn_retry_counter is left untouched: no connect retry occurred, and
// the Coordinator carries this Value's counter forward into the replacement
// CONNECT state (§4.5), so bumping it here would misreport a retry that
// never happened.
func toIdleOnCollisionDump(v Value) (Value, []Action) {
	v.State = Idle
	return v, []Action{
		{Type: SendMsg, Msg: &packet.Notification{
			ErrorCode:    packet.Cease,
			ErrorSubcode: packet.ConnectionCollisionResolution,
		}},
		{Type: DropTCPConnection},
		{Type: ReleaseRib},
	}
}

// toIdleOnHoldExpired sends a HoldTimerExpired NOTIFICATION and tears down.
func toIdleOnHoldExpired(v Value) (Value, []Action) {
	v.State = Idle
	v.ConnRetryCounter++
	return v, []Action{
		{Type: SendMsg, Msg: &packet.Notification{
			ErrorCode: packet.HoldTimeExpired,
		}},
		{Type: StopConnRetryTimer},
		{Type: StopKeepaliveTimer},
		{Type: DropTCPConnection},
		{Type: ReleaseRib},
	}
}

// toIdleOnParseError tears down after a framing/open parse failure. No
// NOTIFICATION is sent for the parse failure, neither by this transition
// nor by package server before it raises the event.
func toIdleOnParseError(v Value) (Value, []Action) {
	v.State = Idle
	v.ConnRetryCounter++
	return v, []Action{
		{Type: StopConnRetryTimer},
		{Type: DropTCPConnection},
		{Type: ReleaseRib},
	}
}
