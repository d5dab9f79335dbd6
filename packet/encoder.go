package packet

import (
	"bytes"
	"encoding/binary"
)

// EncodeKeepaliveMsg encodes a KEEPALIVE message: header only, no body.
func EncodeKeepaliveMsg() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, HeaderLen))
	encodeHeader(buf, HeaderLen, KeepaliveMsg)
	return buf.Bytes()
}

// EncodeNotificationMsg encodes a NOTIFICATION message.
func EncodeNotificationMsg(msg *Notification) []byte {
	length := uint16(HeaderLen + 2 + len(msg.Data))
	buf := bytes.NewBuffer(make([]byte, 0, length))
	encodeHeader(buf, length, NotificationMsg)

	buf.WriteByte(msg.ErrorCode)
	buf.WriteByte(msg.ErrorSubcode)
	buf.Write(msg.Data)

	return buf.Bytes()
}

// EncodeOpenMsg encodes an OPEN message. Capability negotiation is out of
// scope, so OptParmLen is always written as 0.
func EncodeOpenMsg(msg *Open) []byte {
	const openLen = HeaderLen + 10
	buf := bytes.NewBuffer(make([]byte, 0, openLen))
	encodeHeader(buf, openLen, OpenMsg)

	buf.WriteByte(msg.Version)
	writeUint16(buf, msg.AS)
	writeUint16(buf, msg.HoldTime)
	writeUint32(buf, msg.BGPIdentifier)
	buf.WriteByte(0)

	return buf.Bytes()
}

// EncodeUpdateMsg encodes an UPDATE message. The teacher repo never wrote
// an UPDATE encode path (only decode); this one is new, following the same
// wire layout decodeUpdateMsg expects.
func EncodeUpdateMsg(msg *Update) []byte {
	body := &bytes.Buffer{}

	withdrawn := &bytes.Buffer{}
	for _, n := range msg.WithdrawnRoutes {
		encodeNLRI(withdrawn, n)
	}
	writeUint16(body, uint16(withdrawn.Len()))
	body.Write(withdrawn.Bytes())

	attrs := &bytes.Buffer{}
	for _, a := range msg.PathAttributes {
		encodePathAttr(attrs, a)
	}
	writeUint16(body, uint16(attrs.Len()))
	body.Write(attrs.Bytes())

	for _, n := range msg.NLRI {
		encodeNLRI(body, n)
	}

	length := uint16(HeaderLen + body.Len())
	buf := bytes.NewBuffer(make([]byte, 0, length))
	encodeHeader(buf, length, UpdateMsg)
	buf.Write(body.Bytes())

	return buf.Bytes()
}

func encodeNLRI(buf *bytes.Buffer, n NLRI) {
	buf.WriteByte(n.Pfxlen)
	toCopy := (int(n.Pfxlen) + 7) / 8
	buf.Write(n.Prefix[:toCopy])
}

func encodePathAttr(buf *bytes.Buffer, a PathAttribute) {
	var flags uint8
	if a.Optional {
		flags |= 128
	}
	if a.Transitive {
		flags |= 64
	}
	if a.Partial {
		flags |= 32
	}

	value := encodeAttrValue(a)
	if len(value) > 255 {
		flags |= 16
	}

	buf.WriteByte(flags)
	buf.WriteByte(a.TypeCode)
	if flags&16 == 16 {
		writeUint16(buf, uint16(len(value)))
	} else {
		buf.WriteByte(uint8(len(value)))
	}
	buf.Write(value)
}

func encodeAttrValue(a PathAttribute) []byte {
	switch a.TypeCode {
	case OriginAttr:
		return []byte{a.Value.(uint8)}
	case ASPathAttr:
		buf := &bytes.Buffer{}
		for _, seg := range a.Value.([]ASPathSegment) {
			buf.WriteByte(seg.Type)
			buf.WriteByte(uint8(len(seg.ASNs)))
			for _, asn := range seg.ASNs {
				writeUint16(buf, uint16(asn))
			}
		}
		return buf.Bytes()
	case NextHopAttr:
		addr := a.Value.([4]byte)
		return addr[:]
	case MEDAttr, LocalPrefAttr:
		buf := &bytes.Buffer{}
		writeUint32(buf, a.Value.(uint32))
		return buf.Bytes()
	case AtomicAggrAttr:
		return nil
	case AggregatorAttr:
		aggr := a.Value.(Aggregator)
		buf := &bytes.Buffer{}
		writeUint16(buf, aggr.ASN)
		buf.Write(aggr.Addr[:])
		return buf.Bytes()
	default:
		return nil
	}
}

func encodeHeader(buf *bytes.Buffer, length uint16, typ uint8) {
	for i := 0; i < MarkerLen; i++ {
		buf.WriteByte(0xff)
	}
	writeUint16(buf, length)
	buf.WriteByte(typ)
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}
