package server

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/corebgp/corebgp/config"
	"github.com/corebgp/corebgp/fsm"
	"github.com/corebgp/corebgp/rib"

	"github.com/stretchr/testify/assert"
)

func testCoordinator(remoteID string) *Coordinator {
	p := config.Peer{
		RemoteID:   remoteID,
		RemotePort: 179,
		ConnRetryS: 30,
		HoldTimeS:  45,
		KeepaliveS: 15,
		LocalAS:    65001,
	}
	return NewCoordinator(p, net.ParseIP("1.1.1.1"), rib.NewLocRIB())
}

func TestHandleConnAttemptIdleClosesNewConnection(t *testing.T) {
	c := testCoordinator("2.2.2.2")
	a, b := net.Pipe()
	defer b.Close()

	done := make(chan struct{})
	go func() {
		c.handleConnAttempt(a, true)
		close(done)
	}()

	buf := make([]byte, 1)
	_, err := b.Read(buf)
	assert.Error(t, err, "peer connection should be closed while Idle")
	<-done
}

func TestHandleConnAttemptConnectInstallsFlowAndAdvancesFSM(t *testing.T) {
	c := testCoordinator("2.2.2.2")
	c.value.State = fsm.Connect

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	go io.Copy(io.Discard, b)

	c.handleConnAttempt(a, true)

	assert.Equal(t, fsm.OpenSent, c.value.State)
	assert.NotNil(t, c.flow)
}

func TestCollisionTieBreakLocalWinsDropsInboundNew(t *testing.T) {
	// local_id 2.2.2.2 > remote_id 1.1.1.1: we win, so an inbound
	// connection arriving while OPEN_SENT is dropped and the FSM is
	// unaffected (scenario S2 in the governing design).
	p := config.Peer{RemoteID: "1.1.1.1", RemotePort: 179, ConnRetryS: 30, HoldTimeS: 45, KeepaliveS: 15}
	c := NewCoordinator(p, net.ParseIP("2.2.2.2"), rib.NewLocRIB())
	c.value.State = fsm.OpenSent

	existing, existingPeer := net.Pipe()
	defer existing.Close()
	defer existingPeer.Close()
	c.installFlow(existing)

	newConn, newPeer := net.Pipe()
	defer newPeer.Close()

	done := make(chan struct{})
	go func() {
		c.handleConnAttempt(newConn, true)
		close(done)
	}()

	buf := make([]byte, 1)
	_, err := newPeer.Read(buf)
	assert.Error(t, err, "new inbound connection should be closed when we win the tie-break")
	<-done

	assert.Equal(t, fsm.OpenSent, c.value.State)
	assert.NotNil(t, c.flow, "the existing flow must remain installed")
}

func TestCollisionTieBreakLocalLosesDumpsExisting(t *testing.T) {
	// local_id 1.1.1.1 < remote_id 2.2.2.2: we lose, so the existing
	// flow is dumped, the FSM returns to CONNECT, the new flow is
	// installed, and its Tcp_connection_confirmed moves the FSM on to
	// OPEN_SENT (scenario S3).
	p := config.Peer{RemoteID: "2.2.2.2", RemotePort: 179, ConnRetryS: 30, HoldTimeS: 45, KeepaliveS: 15}
	c := NewCoordinator(p, net.ParseIP("1.1.1.1"), rib.NewLocRIB())
	c.value.State = fsm.OpenSent

	existing, existingPeer := net.Pipe()
	c.installFlow(existing)

	readDone := make(chan struct{})
	go func() {
		buf := make([]byte, 64)
		existingPeer.Read(buf)
		close(readDone)
	}()

	newConn, newPeer := net.Pipe()
	defer newPeer.Close()

	go io.Copy(io.Discard, newPeer)

	c.handleConnAttempt(newConn, true)

	select {
	case <-readDone:
	case <-time.After(time.Second):
		t.Fatal("expected the losing (existing) flow to receive a write before being closed")
	}

	assert.Equal(t, fsm.OpenSent, c.value.State)
	assert.NotNil(t, c.flow)
}

func TestInitiateRibThenReleaseRib(t *testing.T) {
	c := testCoordinator("2.2.2.2")

	c.initiateRIB()
	assert.NotNil(t, c.inRIB)
	assert.NotNil(t, c.outRIB)

	c.releaseRIB()
	assert.Nil(t, c.inRIB)
	assert.Nil(t, c.outRIB)
}

func TestProcessUpdateWithoutInputRibPanics(t *testing.T) {
	c := testCoordinator("2.2.2.2")
	assert.Panics(t, func() {
		c.processUpdate(nil)
	})
}
