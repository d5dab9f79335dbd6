package server

import (
	"bufio"
	"fmt"
	"io"

	"github.com/corebgp/corebgp/packet"
)

// BGPPort is the well-known TCP port for BGP-4 (RFC 4271 4.2). The
// teacher's own fsm.go referenced an undefined BGPPORT constant; this is
// the value RFC 4271 actually specifies.
const BGPPort = 179

// framedConn reconstructs whole BGP messages out of a byte stream. BGP has
// no message delimiter; only the 19-byte header's length field tells a
// reader how many more bytes complete the message, so every read must be
// buffered across TCP segment boundaries.
type framedConn struct {
	conn io.ReadWriteCloser
	r    *bufio.Reader
}

func newFramedConn(conn io.ReadWriteCloser) *framedConn {
	return &framedConn{conn: conn, r: bufio.NewReaderSize(conn, packet.MaxLen)}
}

// ReadMessage blocks until one full BGP message has arrived, then decodes
// it. It returns io.EOF or the underlying read error unchanged so the
// caller can distinguish a clean close from a framing/parse failure.
func (f *framedConn) ReadMessage() (*packet.Message, error) {
	hdr, err := f.r.Peek(packet.HeaderLen)
	if err != nil {
		return nil, err
	}

	length, err := packet.HeaderLength(hdr)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(f.r, buf); err != nil {
		return nil, err
	}

	return packet.Decode(buf)
}

// WriteMessage encodes msg and writes it to the underlying connection in
// one call, so a partial write never interleaves with another goroutine's
// write (the Coordinator serializes all writes for a connection onto one
// goroutine regardless, but this keeps the type safe to use elsewhere too).
func (f *framedConn) WriteMessage(msg *packet.Message) error {
	b, err := packet.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	_, err = f.conn.Write(b)
	return err
}

func (f *framedConn) Close() error {
	return f.conn.Close()
}
