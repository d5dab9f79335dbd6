package server

import (
	"net"

	internallog "github.com/corebgp/corebgp/internal/log"
)

// Listener accepts inbound BGP TCP connections and routes each to the
// Coordinator configured for its source address, generalizing the bare
// net.Listen loop the teacher's passive-mode handling implied but never
// wrote explicitly as a standalone component.
type Listener struct {
	ln    net.Listener
	peers map[string]*Coordinator
}

// NewListener opens a TCP listener on addr (host:port, typically
// ":179") and prepares it to dispatch to coordinators, keyed by each
// peer's configured remote BGP Identifier address.
func NewListener(addr string, coordinators []*Coordinator) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	peers := make(map[string]*Coordinator, len(coordinators))
	for _, c := range coordinators {
		peers[c.RemoteID().String()] = c
	}

	return &Listener{ln: ln, peers: peers}, nil
}

// Serve accepts connections until the listener is closed.
func (l *Listener) Serve() error {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return err
		}
		l.dispatch(conn)
	}
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	return l.ln.Close()
}

func (l *Listener) dispatch(conn net.Conn) {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		conn.Close()
		return
	}

	c, ok := l.peers[host]
	if !ok {
		internallog.WithField("remote", host).Warn("server: inbound connection from unconfigured peer, closing")
		conn.Close()
		return
	}

	c.Deliver(conn)
}
