// Package rib is the sink UPDATE messages feed into: per-peer Adj-RIB-In
// and Adj-RIB-Out tries, and a single shared Loc-RIB. It is grounded on
// the teacher's own lpm.LPM radix trie and net.Prefix, the only persistent
// data structure the teacher ships, adapted from the inline route-install
// loop the teacher's established() method ran directly against
// fsm.adjRibIn into a standalone, reusable sink with an explicit
// subscribe/update contract.
package rib

import (
	"sync"

	"github.com/corebgp/corebgp/lpm"
	tnet "github.com/corebgp/corebgp/net"
	"github.com/corebgp/corebgp/packet"
)

// AdjRIB is one peer's view of routes received from (Adj-RIB-In) or sent
// to (Adj-RIB-Out) that peer. It is owned exclusively by that peer's
// Coordinator goroutine, so it needs no internal locking.
type AdjRIB struct {
	peerID string
	routes *lpm.LPM
}

// NewAdjRIB creates an empty Adj-RIB for the neighbor identified by
// peerID (its BGP Identifier, dotted-quad string form).
func NewAdjRIB(peerID string) *AdjRIB {
	return &AdjRIB{peerID: peerID, routes: lpm.New()}
}

// HandleUpdate applies one UPDATE message's NLRI/withdrawn-routes to the
// Adj-RIB: inserting advertised prefixes and removing withdrawn ones,
// exactly the loop the teacher ran inline in established().
func (a *AdjRIB) HandleUpdate(u *packet.Update) {
	for _, n := range u.WithdrawnRoutes {
		a.routes.Remove(tnet.NewPfxFromBytes(n.Prefix, n.Pfxlen))
	}
	for _, n := range u.NLRI {
		a.routes.Insert(tnet.NewPfxFromBytes(n.Prefix, n.Pfxlen))
	}
}

// Dump returns every prefix currently held.
func (a *AdjRIB) Dump() []*tnet.Prefix {
	return a.routes.Dump()
}

// Count returns the number of routes currently held.
func (a *AdjRIB) Count() uint64 {
	return a.routes.Count()
}

// LocRIB is the speaker's single route table, shared across every peer's
// Coordinator. It holds every prefix any peer has advertised; no best-path
// selection is performed, and a withdrawal from any peer removes the
// prefix. It is the one piece of cross-peer mutable state the
// concurrency model allows (see package server's Coordinator), so every
// access goes through its mutex.
type LocRIB struct {
	mu        sync.Mutex
	routes    *lpm.LPM
	listeners map[int]chan Update
	nextID    int
}

// Update describes one change applied to the Loc-RIB, delivered to every
// subscriber.
type Update struct {
	PeerID     string
	Withdrawn  []*tnet.Prefix
	Advertised []*tnet.Prefix
}

// NewLocRIB creates an empty, ready-to-use Loc-RIB.
func NewLocRIB() *LocRIB {
	return &LocRIB{
		routes:    lpm.New(),
		listeners: make(map[int]chan Update),
	}
}

// HandleSignal applies peerID's UPDATE to the Loc-RIB and fans the
// resulting change out to every subscriber. It is the "handle_signal"
// contract's sole entry point: every caller, regardless of which peer's
// Coordinator goroutine invokes it, observes a serialized view.
func (l *LocRIB) HandleSignal(peerID string, u *packet.Update) {
	l.mu.Lock()
	defer l.mu.Unlock()

	change := Update{PeerID: peerID}
	for _, n := range u.WithdrawnRoutes {
		pfx := tnet.NewPfxFromBytes(n.Prefix, n.Pfxlen)
		l.routes.Remove(pfx)
		change.Withdrawn = append(change.Withdrawn, pfx)
	}
	for _, n := range u.NLRI {
		pfx := tnet.NewPfxFromBytes(n.Prefix, n.Pfxlen)
		l.routes.Insert(pfx)
		change.Advertised = append(change.Advertised, pfx)
	}

	for _, ch := range l.listeners {
		select {
		case ch <- change:
		default:
			// A slow subscriber misses an update rather than blocking the
			// Loc-RIB for every other peer.
		}
	}
}

// Subscribe registers a new listener and returns its channel plus a
// handle to pass to Unsubscribe.
func (l *LocRIB) Subscribe() (int, <-chan Update) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	l.nextID++
	ch := make(chan Update, 16)
	l.listeners[id] = ch
	return id, ch
}

// Unsubscribe removes and closes the listener registered under id.
func (l *LocRIB) Unsubscribe(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ch, ok := l.listeners[id]; ok {
		close(ch)
		delete(l.listeners, id)
	}
}

// Dump returns every route currently held in the Loc-RIB.
func (l *LocRIB) Dump() []*tnet.Prefix {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.routes.Dump()
}

// Count returns the number of routes currently held in the Loc-RIB.
func (l *LocRIB) Count() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.routes.Count()
}
