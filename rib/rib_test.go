package rib

import (
	"testing"

	tnet "github.com/corebgp/corebgp/net"
	"github.com/corebgp/corebgp/packet"

	"github.com/stretchr/testify/assert"
)

func TestAdjRIBHandleUpdateInsertsAndWithdraws(t *testing.T) {
	a := NewAdjRIB("10.0.0.1")

	a.HandleUpdate(&packet.Update{
		NLRI: []packet.NLRI{
			{Prefix: [4]byte{10, 0, 0, 0}, Pfxlen: 8},
			{Prefix: [4]byte{192, 168, 0, 0}, Pfxlen: 16},
		},
	})
	assert.Equal(t, uint64(2), a.Count())

	a.HandleUpdate(&packet.Update{
		WithdrawnRoutes: []packet.NLRI{
			{Prefix: [4]byte{10, 0, 0, 0}, Pfxlen: 8},
		},
	})
	assert.Equal(t, uint64(1), a.Count())
	assert.ElementsMatch(t, []*tnet.Prefix{tnet.NewPfxFromBytes([4]byte{192, 168, 0, 0}, 16)}, a.Dump())
}

func TestLocRIBFansOutToSubscribers(t *testing.T) {
	l := NewLocRIB()
	id, ch := l.Subscribe()
	defer l.Unsubscribe(id)

	l.HandleSignal("10.0.0.1", &packet.Update{
		NLRI: []packet.NLRI{{Prefix: [4]byte{172, 16, 0, 0}, Pfxlen: 12}},
	})

	select {
	case upd := <-ch:
		assert.Equal(t, "10.0.0.1", upd.PeerID)
		assert.Len(t, upd.Advertised, 1)
	default:
		t.Fatal("expected an update on the subscriber channel")
	}

	assert.Equal(t, uint64(1), l.Count())
}

func TestLocRIBUnsubscribeClosesChannel(t *testing.T) {
	l := NewLocRIB()
	id, ch := l.Subscribe()
	l.Unsubscribe(id)

	_, ok := <-ch
	assert.False(t, ok)
}
