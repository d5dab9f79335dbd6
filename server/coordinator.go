package server

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"

	"github.com/corebgp/corebgp/config"
	"github.com/corebgp/corebgp/fsm"
	internallog "github.com/corebgp/corebgp/internal/log"
	"github.com/corebgp/corebgp/packet"
	"github.com/corebgp/corebgp/rib"

	tomb "gopkg.in/tomb.v2"
)

// Coordinator owns one Peer Runtime and is the sole mutator of its
// fields: the FSM Value, the current flow, its timers, and its RIB
// handles. It generalizes the teacher's FSM.start/tcpConnector/msgReceiver
// trio into a single tomb.Tomb-supervised actor that funnels every
// completion — connect, read, timer fire — through one event loop, so
// Handle's emitted actions always apply to a consistent, single-threaded
// view of the peer.
type Coordinator struct {
	t tomb.Tomb

	localID    net.IP
	localASN   uint32
	remoteID   net.IP
	remotePort int

	locRIB *rib.LocRIB

	value fsm.Value

	flow       *framedConn
	flowCancel context.CancelFunc

	connStarting bool
	connCancel   context.CancelFunc

	inRIB       *rib.AdjRIB
	outRIB      *rib.AdjRIB
	outRIBSubID int

	connRetryTimer *resettableTimer
	holdTimer      *resettableTimer
	keepaliveTimer *resettableTimer

	events   chan fsm.Event
	inbound  chan net.Conn
	outbound chan dialResult

	manualStart chan struct{}
	manualStop  chan struct{}
}

// dialResult is the outcome of one outbound connect attempt, delivered to
// the Coordinator's own event loop so connStarting and the FSM are only
// ever touched from that one goroutine.
type dialResult struct {
	conn net.Conn
	err  error
}

// NewCoordinator builds a Coordinator for one configured peer, starting
// from Idle.
func NewCoordinator(p config.Peer, localID net.IP, locRIB *rib.LocRIB) *Coordinator {
	return &Coordinator{
		localID:        localID,
		localASN:       p.LocalAS,
		remoteID:       net.ParseIP(p.RemoteID).To4(),
		remotePort:     p.RemotePort,
		locRIB:         locRIB,
		value:          fsm.NewValue(p.ConnRetryS, p.HoldTimeS, p.KeepaliveS),
		connRetryTimer: newResettableTimer(),
		holdTimer:      newResettableTimer(),
		keepaliveTimer: newResettableTimer(),
		events:         make(chan fsm.Event, 4),
		inbound:        make(chan net.Conn, 1),
		outbound:       make(chan dialResult, 1),
		manualStart:    make(chan struct{}, 1),
		manualStop:     make(chan struct{}, 1),
	}
}

// RemoteID returns the configured neighbor's BGP Identifier address, used
// by the Listener to route an inbound connection to the right Coordinator.
func (c *Coordinator) RemoteID() net.IP { return c.remoteID }

// Start launches the Coordinator's event loop under its tomb.
func (c *Coordinator) Start() {
	c.t.Go(c.loop)
}

// Activate delivers a Manual_start event, the operator-facing "start this
// peer" command.
func (c *Coordinator) Activate() {
	select {
	case c.manualStart <- struct{}{}:
	default:
	}
}

// Stop delivers Manual_stop and waits for the event loop to exit.
func (c *Coordinator) Stop() error {
	select {
	case c.manualStop <- struct{}{}:
	default:
	}
	c.t.Kill(nil)
	return c.t.Wait()
}

// Deliver hands an inbound connection to this Coordinator, as routed by
// the Listener.
func (c *Coordinator) Deliver(conn net.Conn) {
	select {
	case c.inbound <- conn:
	case <-c.t.Dying():
		conn.Close()
	}
}

// State returns the current FSM state, for the CLI's `show fsm`.
func (c *Coordinator) State() fsm.State { return c.value.State }

func (c *Coordinator) loop() error {
	for {
		select {
		case <-c.manualStart:
			c.handle(fsm.Event{Type: fsm.ManualStart})
		case <-c.manualStop:
			c.handle(fsm.Event{Type: fsm.ManualStop})
		case <-c.connRetryTimer.C():
			c.connRetryTimer.Fired()
			c.handle(fsm.Event{Type: fsm.ConnRetryTimerExpired})
		case <-c.holdTimer.C():
			c.holdTimer.Fired()
			c.handle(fsm.Event{Type: fsm.HoldTimerExpired})
		case <-c.keepaliveTimer.C():
			c.keepaliveTimer.Fired()
			c.handle(fsm.Event{Type: fsm.KeepaliveTimerExpired})
		case e := <-c.events:
			c.handle(e)
		case conn := <-c.inbound:
			c.handleConnAttempt(conn, true)
		case res := <-c.outbound:
			c.connStarting = false
			if res.err != nil {
				internallog.WithField("peer", c.remoteID.String()).WithError(res.err).Debug("server: outbound connect failed")
				c.handle(fsm.Event{Type: fsm.TCPConnectionFail})
				continue
			}
			c.handleConnAttempt(res.conn, false)
		case <-c.t.Dying():
			select {
			case <-c.manualStop:
				c.handle(fsm.Event{Type: fsm.ManualStop})
			default:
			}
			c.teardown()
			return nil
		}
	}
}

// handle runs the pure FSM transition, logs the state change if any, then
// executes the emitted actions in order (§4.4/§5: action order and
// per-peer serialization are both required for correctness).
func (c *Coordinator) handle(e fsm.Event) {
	before := c.value.State
	next, actions := fsm.Handle(c.value, e)
	c.value = next

	if next.State != before {
		internallog.WithFields(internallog.Fields{
			"peer":       c.remoteID.String(),
			"last_state": before.String(),
			"new_state":  next.State.String(),
		}).Info("FSM: neighbor state change")
	}

	for _, a := range actions {
		c.apply(a)
	}
}

func (c *Coordinator) apply(a fsm.Action) {
	switch a.Type {
	case fsm.InitiateTCPConnection:
		c.initiateTCPConnection()
	case fsm.DropTCPConnection:
		c.dropFlow()
	case fsm.SendOpenMsg:
		c.sendOpen()
	case fsm.SendMsg:
		c.sendMsg(a.Msg)
	case fsm.StartConnRetryTimer, fsm.ResetConnRetryTimer:
		c.connRetryTimer.Start(a.Secs)
	case fsm.StopConnRetryTimer:
		c.connRetryTimer.Stop()
	case fsm.StartHoldTimer, fsm.ResetHoldTimer:
		c.holdTimer.Start(a.Secs)
	case fsm.StopHoldTimer:
		c.holdTimer.Stop()
	case fsm.StartKeepaliveTimer, fsm.ResetKeepaliveTimer:
		c.keepaliveTimer.Start(a.Secs)
	case fsm.StopKeepaliveTimer:
		c.keepaliveTimer.Stop()
	case fsm.ProcessUpdateMsg:
		c.processUpdate(a.Update)
	case fsm.InitiateRib:
		c.initiateRIB()
	case fsm.ReleaseRib:
		c.releaseRIB()
	}
}

func (c *Coordinator) initiateTCPConnection() {
	if c.connStarting || c.flow != nil {
		internallog.WithField("peer", c.remoteID.String()).Debug("server: connect already in flight or flow already live, skipping")
		return
	}
	c.connStarting = true

	ctx, cancel := context.WithCancel(context.Background())
	c.connCancel = cancel

	go func() {
		defer cancel()
		conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", c.remoteID.String(), c.remotePort))
		if ctx.Err() != nil {
			if conn != nil {
				conn.Close()
			}
			return
		}
		select {
		case c.outbound <- dialResult{conn: conn, err: err}:
		case <-c.t.Dying():
			if conn != nil {
				conn.Close()
			}
		}
	}()
}

// handleConnAttempt implements the §4.5 collision table for one arriving
// connection, whether inbound (from the Listener) or outbound (from our
// own dialer completing).
func (c *Coordinator) handleConnAttempt(conn net.Conn, inbound bool) {
	switch c.value.State {
	case fsm.Idle, fsm.Established:
		conn.Close()
		return
	case fsm.Connect, fsm.Active:
		c.installFlow(conn)
		if inbound {
			c.handle(fsm.Event{Type: fsm.TCPConnectionConfirmed})
		} else {
			c.handle(fsm.Event{Type: fsm.TCPCRAcked})
		}
		return
	case fsm.OpenSent, fsm.OpenConfirm:
		weWin := binary.BigEndian.Uint32(c.localID.To4()) > binary.BigEndian.Uint32(c.remoteID.To4())
		var dropNew bool
		if inbound {
			dropNew = weWin
		} else {
			dropNew = !weWin
		}
		if dropNew {
			conn.Close()
			return
		}
		c.handle(fsm.Event{Type: fsm.OpenCollisionDump})
		c.value.State = fsm.Connect
		c.installFlow(conn)
		if inbound {
			c.handle(fsm.Event{Type: fsm.TCPConnectionConfirmed})
		} else {
			c.handle(fsm.Event{Type: fsm.TCPCRAcked})
		}
		return
	default:
		conn.Close()
	}
}

func (c *Coordinator) installFlow(conn net.Conn) {
	c.dropFlow()
	fc := newFramedConn(conn)
	c.flow = fc

	ctx, cancel := context.WithCancel(context.Background())
	c.flowCancel = cancel
	go c.readLoop(ctx, fc)
}

func (c *Coordinator) readLoop(ctx context.Context, fc *framedConn) {
	for {
		msg, err := fc.ReadMessage()
		if err != nil {
			select {
			case c.events <- translateReadError(err):
			case <-ctx.Done():
			case <-c.t.Dying():
			}
			return
		}

		event, ok := translateMessage(msg)
		if !ok {
			continue
		}
		select {
		case c.events <- event:
		case <-ctx.Done():
			return
		case <-c.t.Dying():
			return
		}
	}
}

func translateReadError(err error) fsm.Event {
	if bgpErr, ok := err.(packet.BGPError); ok {
		if bgpErr.ErrorCode == packet.OpenMessageError {
			return fsm.Event{Type: fsm.BGPOpenMsgErr}
		}
		return fsm.Event{Type: fsm.BGPHeaderErr}
	}
	return fsm.Event{Type: fsm.TCPConnectionFail}
}

func translateMessage(msg *packet.Message) (fsm.Event, bool) {
	switch body := msg.Body.(type) {
	case nil:
		return fsm.Event{Type: fsm.KeepaliveMsgReceived}, true
	case *packet.Open:
		return fsm.Event{Type: fsm.BGPOpenReceived, Open: body}, true
	case *packet.Notification:
		return fsm.Event{Type: fsm.NotifMsgReceived, Notif: body}, true
	case *packet.Update:
		return fsm.Event{Type: fsm.UpdateMsgReceived, Update: body}, true
	default:
		return fsm.Event{}, false
	}
}

func (c *Coordinator) dropFlow() {
	if c.connCancel != nil {
		c.connCancel()
		c.connCancel = nil
	}
	c.connStarting = false
	if c.flowCancel != nil {
		c.flowCancel()
		c.flowCancel = nil
	}
	if c.flow != nil {
		c.flow.Close()
		c.flow = nil
	}
}

func (c *Coordinator) sendOpen() {
	open := &packet.Open{
		Version:       packet.BGP4Version,
		AS:            uint16(c.localASN),
		HoldTime:      c.value.HoldTime,
		BGPIdentifier: binary.BigEndian.Uint32(c.localID.To4()),
	}
	c.sendMsg(open)
}

func (c *Coordinator) sendMsg(body interface{}) {
	if c.flow == nil {
		return
	}
	var msg *packet.Message
	switch b := body.(type) {
	case nil:
		msg = &packet.Message{Header: &packet.Header{Type: packet.KeepaliveMsg}}
	case *packet.Open:
		msg = &packet.Message{Header: &packet.Header{Type: packet.OpenMsg}, Body: b}
	case *packet.Notification:
		msg = &packet.Message{Header: &packet.Header{Type: packet.NotificationMsg}, Body: b}
	case *packet.Update:
		msg = &packet.Message{Header: &packet.Header{Type: packet.UpdateMsg}, Body: b}
	default:
		return
	}
	if err := c.flow.WriteMessage(msg); err != nil {
		internallog.WithField("peer", c.remoteID.String()).WithError(err).Warn("server: write failed")
	}
}

func (c *Coordinator) processUpdate(u *packet.Update) {
	if c.inRIB == nil {
		panic(fmt.Sprintf("server: Process_update_msg for peer %s with no input_rib", c.remoteID.String()))
	}
	c.inRIB.HandleUpdate(u)
	c.locRIB.HandleSignal(c.remoteID.String(), u)
}

func (c *Coordinator) initiateRIB() {
	c.inRIB = rib.NewAdjRIB(c.remoteID.String())
	c.outRIB = rib.NewAdjRIB(c.remoteID.String())
	c.outRIBSubID, _ = c.locRIB.Subscribe()
}

func (c *Coordinator) releaseRIB() {
	c.inRIB = nil
	if c.outRIB != nil {
		c.locRIB.Unsubscribe(c.outRIBSubID)
		c.outRIB = nil
	}
}

func (c *Coordinator) teardown() {
	c.dropFlow()
	c.connRetryTimer.Stop()
	c.holdTimer.Stop()
	c.keepaliveTimer.Stop()
	c.releaseRIB()
}
