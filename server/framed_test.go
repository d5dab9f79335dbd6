package server

import (
	"bytes"
	"io"
	"testing"

	"github.com/corebgp/corebgp/packet"

	"github.com/stretchr/testify/assert"
)

// chunkedConn feeds a fixed byte stream back to Read in caller-specified
// chunk sizes, regardless of how many bytes the message boundaries inside
// it actually need — exactly the "transport may deliver less than or more
// than one message per underlying read" condition the framed reader must
// tolerate (scenario S5 in the governing design).
type chunkedConn struct {
	chunks [][]byte
}

func (c *chunkedConn) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	c.chunks[0] = c.chunks[0][n:]
	if len(c.chunks[0]) == 0 {
		c.chunks = c.chunks[1:]
	}
	return n, nil
}

func (c *chunkedConn) Write(p []byte) (int, error) { return len(p), nil }
func (c *chunkedConn) Close() error                { return nil }

func TestFramedConnReassemblesMessagesAcrossArbitraryChunking(t *testing.T) {
	keepalive := packet.EncodeKeepaliveMsg()
	update := packet.EncodeUpdateMsg(&packet.Update{
		NLRI: []packet.NLRI{{Prefix: [4]byte{10, 0, 0, 0}, Pfxlen: 8}},
	})
	whole := append(append([]byte{}, keepalive...), update...)

	chunks := [][]byte{whole[:7], whole[7:19], whole[19:]}
	fc := newFramedConn(&chunkedConn{chunks: chunks})

	msg1, err := fc.ReadMessage()
	assert.NoError(t, err)
	assert.Equal(t, packet.KeepaliveMsg, msg1.Header.Type)

	msg2, err := fc.ReadMessage()
	assert.NoError(t, err)
	assert.Equal(t, packet.UpdateMsg, msg2.Header.Type)

	_, err = fc.ReadMessage()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFramedConnWriteMessageRoundTrips(t *testing.T) {
	buf := &bytes.Buffer{}
	fc := newFramedConn(&nopCloser{buf})

	err := fc.WriteMessage(&packet.Message{Header: &packet.Header{Type: packet.KeepaliveMsg}})
	assert.NoError(t, err)

	fc2 := newFramedConn(&nopCloser{buf})
	msg, err := fc2.ReadMessage()
	assert.NoError(t, err)
	assert.Equal(t, packet.KeepaliveMsg, msg.Header.Type)
}

type nopCloser struct {
	*bytes.Buffer
}

func (nopCloser) Close() error { return nil }
