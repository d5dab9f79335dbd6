package fsm

import (
	"testing"

	"github.com/corebgp/corebgp/packet"

	"github.com/stretchr/testify/assert"
)

func actionTypes(actions []Action) []ActionType {
	types := make([]ActionType, len(actions))
	for i, a := range actions {
		types[i] = a.Type
	}
	return types
}

func TestIdleManualStart(t *testing.T) {
	v := NewValue(30, 45, 15)
	next, actions := Handle(v, Event{Type: ManualStart})

	assert.Equal(t, Connect, next.State)
	assert.Equal(t, uint32(0), next.ConnRetryCounter)
	assert.Equal(t, []ActionType{InitiateTCPConnection, StartConnRetryTimer}, actionTypes(actions))
	assert.Equal(t, uint16(30), actions[1].Secs)
}

func TestIdleIgnoresUnrelatedEvents(t *testing.T) {
	v := NewValue(30, 45, 15)
	next, actions := Handle(v, Event{Type: KeepaliveMsgReceived})

	assert.Equal(t, Idle, next.State)
	assert.Nil(t, actions)
}

func TestConnectToOpenSentOnTCPEstablished(t *testing.T) {
	v := NewValue(30, 45, 15)
	v.State = Connect

	next, actions := Handle(v, Event{Type: TCPConnectionConfirmed})

	assert.Equal(t, OpenSent, next.State)
	// hold_time_s stays at the locally configured value: Send_open_msg (and
	// the later BGP_open negotiation) reads it, so only Start_hold_timer's
	// own Secs parameter carries the large RFC 4271 4.2 initial value.
	assert.Equal(t, uint16(45), next.HoldTime)
	assert.Equal(t, []ActionType{StopConnRetryTimer, SendOpenMsg, StartHoldTimer}, actionTypes(actions))
	assert.Equal(t, uint16(initialOpenSentHoldTime), actions[2].Secs)
}

func TestConnectRetryTimerExpiredReinitiates(t *testing.T) {
	v := NewValue(30, 45, 15)
	v.State = Connect

	next, actions := Handle(v, Event{Type: ConnRetryTimerExpired})

	assert.Equal(t, Connect, next.State)
	assert.Equal(t, []ActionType{DropTCPConnection, ResetConnRetryTimer, InitiateTCPConnection}, actionTypes(actions))
}

func TestConnectTCPFailGoesActive(t *testing.T) {
	v := NewValue(30, 45, 15)
	v.State = Connect

	next, actions := Handle(v, Event{Type: TCPConnectionFail})

	assert.Equal(t, Active, next.State)
	assert.Equal(t, []ActionType{ResetConnRetryTimer, DropTCPConnection}, actionTypes(actions))
}

func TestActiveTCPFailReturnsIdleAndIncrementsCounter(t *testing.T) {
	v := NewValue(30, 45, 15)
	v.State = Active
	v.ConnRetryCounter = 2

	next, actions := Handle(v, Event{Type: TCPConnectionFail})

	assert.Equal(t, Idle, next.State)
	assert.Equal(t, uint32(3), next.ConnRetryCounter)
	assert.Equal(t, []ActionType{StopConnRetryTimer, DropTCPConnection, ReleaseRib}, actionTypes(actions))
}

func TestOpenSentNegotiatesSmallerHoldTime(t *testing.T) {
	v := NewValue(30, 45, 15)
	v.State = OpenSent

	next, actions := Handle(v, Event{Type: BGPOpenReceived, Open: &packet.Open{HoldTime: 30}})

	assert.Equal(t, OpenConfirm, next.State)
	assert.Equal(t, uint16(30), next.HoldTime)
	assert.Equal(t, uint16(10), next.KeepaliveTime)
	assert.Equal(t, []ActionType{SendMsg, ResetHoldTimer, StartKeepaliveTimer, InitiateRib}, actionTypes(actions))
	assert.Equal(t, uint16(30), actions[1].Secs)
	assert.Equal(t, uint16(10), actions[2].Secs)
}

// TestConnectThroughOpenSentNegotiatesLocallyConfiguredHoldTime drives the
// real IDLE->CONNECT->OPEN_SENT->negotiation sequence end to end, the way
// scenario S1 in the governing design specifies it, rather than hand-setting
// hold_time_s as a precondition: the OPEN this speaker sends must advertise
// its own configured hold time (45), and negotiating against a peer offering
// 180 must settle on min(45, 180) = 45, not the RFC 4271 4.2 Start_hold_timer
// parameter (240) that only arms the OPEN_SENT timeout.
func TestConnectThroughOpenSentNegotiatesLocallyConfiguredHoldTime(t *testing.T) {
	v := NewValue(30, 45, 15)
	v.State = Idle

	v, actions := Handle(v, Event{Type: ManualStart})
	assert.Equal(t, Connect, v.State)
	assert.Equal(t, []ActionType{InitiateTCPConnection, StartConnRetryTimer}, actionTypes(actions))

	v, actions = Handle(v, Event{Type: TCPConnectionConfirmed})
	assert.Equal(t, OpenSent, v.State)
	assert.Equal(t, uint16(45), v.HoldTime, "locally configured hold time must survive into OPEN_SENT")
	assert.Equal(t, []ActionType{StopConnRetryTimer, SendOpenMsg, StartHoldTimer}, actionTypes(actions))
	assert.Equal(t, uint16(initialOpenSentHoldTime), actions[2].Secs)

	v, actions = Handle(v, Event{Type: BGPOpenReceived, Open: &packet.Open{HoldTime: 180}})
	assert.Equal(t, OpenConfirm, v.State)
	assert.Equal(t, uint16(45), v.HoldTime)
	assert.Equal(t, uint16(45), actions[1].Secs)
}

func TestOpenSentKeepsLocalHoldTimeWhenSmaller(t *testing.T) {
	v := NewValue(30, 45, 15)
	v.State = OpenSent
	v.HoldTime = 90 // local configured default, smaller than peer's offer

	next, _ := Handle(v, Event{Type: BGPOpenReceived, Open: &packet.Open{HoldTime: 240}})

	assert.Equal(t, uint16(90), next.HoldTime)
}

func TestOpenConfirmToEstablishedOnKeepalive(t *testing.T) {
	v := NewValue(30, 45, 15)
	v.State = OpenConfirm
	v.HoldTime = 30

	next, actions := Handle(v, Event{Type: KeepaliveMsgReceived})

	assert.Equal(t, Established, next.State)
	assert.Equal(t, []ActionType{ResetHoldTimer}, actionTypes(actions))
	assert.Equal(t, uint16(30), actions[0].Secs)
}

func TestEstablishedUpdateResetsHoldTimer(t *testing.T) {
	v := NewValue(30, 45, 15)
	v.State = Established
	v.HoldTime = 45
	upd := &packet.Update{}

	next, actions := Handle(v, Event{Type: UpdateMsgReceived, Update: upd})

	assert.Equal(t, Established, next.State)
	assert.Equal(t, []ActionType{ProcessUpdateMsg, ResetHoldTimer}, actionTypes(actions))
	assert.Same(t, upd, actions[0].Update)
	assert.Equal(t, uint16(45), actions[1].Secs)
}

func TestEstablishedKeepaliveTimerExpiredSendsKeepalive(t *testing.T) {
	v := NewValue(30, 45, 15)
	v.State = Established
	v.KeepaliveTime = 15

	next, actions := Handle(v, Event{Type: KeepaliveTimerExpired})

	assert.Equal(t, Established, next.State)
	assert.Equal(t, []ActionType{SendMsg, StartKeepaliveTimer}, actionTypes(actions))
	assert.Equal(t, uint16(15), actions[1].Secs)
}

func TestEstablishedHoldTimerExpiredSendsNotificationAndTearsDown(t *testing.T) {
	v := NewValue(30, 45, 15)
	v.State = Established
	v.ConnRetryCounter = 0

	next, actions := Handle(v, Event{Type: HoldTimerExpired})

	assert.Equal(t, Idle, next.State)
	assert.Equal(t, uint32(1), next.ConnRetryCounter)
	assert.Equal(t, []ActionType{SendMsg, StopConnRetryTimer, StopKeepaliveTimer, DropTCPConnection, ReleaseRib}, actionTypes(actions))
	notif, ok := actions[0].Msg.(*packet.Notification)
	assert.True(t, ok)
	assert.Equal(t, packet.HoldTimeExpired, notif.ErrorCode)
}

func TestIdleManualStopIsIdempotent(t *testing.T) {
	v := NewValue(30, 45, 15)

	next, actions := Handle(v, Event{Type: ManualStop})

	assert.Equal(t, Idle, next.State)
	assert.Nil(t, actions)
}

func TestManualStopFromAnyStateReturnsIdle(t *testing.T) {
	for _, s := range []State{Connect, Active, OpenSent, OpenConfirm, Established} {
		v := NewValue(30, 45, 15)
		v.State = s
		v.ConnRetryCounter = 5

		next, actions := Handle(v, Event{Type: ManualStop})

		assert.Equal(t, Idle, next.State, "state %s", s)
		assert.Equal(t, uint32(0), next.ConnRetryCounter, "state %s", s)
		assert.Equal(t, []ActionType{StopConnRetryTimer, StopHoldTimer, StopKeepaliveTimer, DropTCPConnection, ReleaseRib}, actionTypes(actions))
	}
}

func TestOpenCollisionDumpFromAnyStateReturnsIdle(t *testing.T) {
	for _, s := range []State{Connect, Active, OpenSent, OpenConfirm, Established} {
		v := NewValue(30, 45, 15)
		v.State = s
		v.ConnRetryCounter = 2

		next, actions := Handle(v, Event{Type: OpenCollisionDump})

		assert.Equal(t, Idle, next.State, "state %s", s)
		// No connect retry occurred, so conn_retry_counter must be preserved,
		// not bumped — the Coordinator carries it forward into the
		// replacement CONNECT state.
		assert.Equal(t, uint32(2), next.ConnRetryCounter, "state %s", s)
		assert.Equal(t, []ActionType{SendMsg, DropTCPConnection, ReleaseRib}, actionTypes(actions))
		notif, ok := actions[0].Msg.(*packet.Notification)
		assert.True(t, ok)
		assert.Equal(t, packet.Cease, notif.ErrorCode)
		assert.Equal(t, packet.ConnectionCollisionResolution, notif.ErrorSubcode)
	}
}

func TestParseErrorFromConnectAndActiveReturnsIdle(t *testing.T) {
	for _, evt := range []EventType{BGPHeaderErr, BGPOpenMsgErr} {
		for _, s := range []State{Connect, Active} {
			v := NewValue(30, 45, 15)
			v.State = s

			next, actions := Handle(v, Event{Type: evt})

			assert.Equal(t, Idle, next.State)
			assert.Equal(t, []ActionType{StopConnRetryTimer, DropTCPConnection, ReleaseRib}, actionTypes(actions))
		}
	}
}

// TestNonEstablishedIgnoresUpdateMsg checks the FSM silently ignores an
// Update_msg event delivered outside Established: no state change and no
// actions (only Established processes updates).
func TestNonEstablishedIgnoresUpdateMsg(t *testing.T) {
	for _, s := range []State{Idle, Connect, Active, OpenSent, OpenConfirm} {
		v := NewValue(30, 45, 15)
		v.State = s

		next, actions := Handle(v, Event{Type: UpdateMsgReceived, Update: &packet.Update{}})

		assert.Equal(t, s, next.State)
		assert.Nil(t, actions)
	}
}
