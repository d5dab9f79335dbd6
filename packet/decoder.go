package packet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"net"
)

// HeaderLength reads the big-endian length field out of a byte prefix that
// is at least HeaderLen long. The framed reader (package server) uses this
// to decide how many more bytes it must accumulate before calling Decode.
func HeaderLength(hdr []byte) (uint16, error) {
	if len(hdr) < HeaderLen {
		return 0, fmt.Errorf("header prefix too short: %d bytes", len(hdr))
	}
	return binary.BigEndian.Uint16(hdr[MarkerLen : MarkerLen+2]), nil
}

// Decode decodes exactly one full BGP message, header included.
func Decode(b []byte) (*Message, error) {
	buf := bytes.NewBuffer(b)

	hdr, err := decodeHeader(buf)
	if err != nil {
		return nil, err
	}

	body, err := decodeMsgBody(buf, hdr.Type, hdr.Length-MinLen)
	if err != nil {
		return nil, err
	}

	return &Message{
		Header: hdr,
		Body:   body,
	}, nil
}

// Encode serializes msg, including its header, ready to be written to the
// transport.
func Encode(msg *Message) ([]byte, error) {
	switch body := msg.Body.(type) {
	case nil:
		return EncodeKeepaliveMsg(), nil
	case *Open:
		return EncodeOpenMsg(body), nil
	case *Notification:
		return EncodeNotificationMsg(body), nil
	case *Update:
		return EncodeUpdateMsg(body), nil
	default:
		return nil, fmt.Errorf("unknown message body type %T", body)
	}
}

func decodeMsgBody(buf *bytes.Buffer, msgType uint8, l uint16) (interface{}, error) {
	switch msgType {
	case OpenMsg:
		return decodeOpenMsg(buf)
	case UpdateMsg:
		return decodeUpdateMsg(buf, l)
	case KeepaliveMsg:
		return nil, nil
	case NotificationMsg:
		return decodeNotificationMsg(buf)
	}
	return nil, fmt.Errorf("unknown message type: %d", msgType)
}

func decodeUpdateMsg(buf *bytes.Buffer, l uint16) (*Update, error) {
	msg := &Update{}

	var withdrawnLen uint16
	if err := decode(buf, []interface{}{&withdrawnLen}); err != nil {
		return nil, err
	}

	var err error
	msg.WithdrawnRoutes, err = decodeNLRIs(buf, withdrawnLen)
	if err != nil {
		return nil, err
	}

	var totalPathAttrLen uint16
	if err := decode(buf, []interface{}{&totalPathAttrLen}); err != nil {
		return nil, err
	}

	msg.PathAttributes, err = decodePathAttrs(buf, totalPathAttrLen)
	if err != nil {
		return nil, err
	}

	nlriLen := l - 4 - totalPathAttrLen - withdrawnLen
	if nlriLen > 0 {
		msg.NLRI, err = decodeNLRIs(buf, nlriLen)
		if err != nil {
			return nil, err
		}
	}

	return msg, nil
}

func decodeNLRIs(buf *bytes.Buffer, length uint16) ([]NLRI, error) {
	var ret []NLRI
	p := uint16(0)

	for p < length {
		nlri, consumed, err := decodeNLRI(buf)
		if err != nil {
			return nil, fmt.Errorf("unable to decode NLRI: %v", err)
		}
		p += uint16(consumed)
		ret = append(ret, *nlri)
	}

	return ret, nil
}

func decodeNLRI(buf *bytes.Buffer) (*NLRI, uint8, error) {
	nlri := &NLRI{}

	if err := decode(buf, []interface{}{&nlri.Pfxlen}); err != nil {
		return nil, 0, err
	}
	if nlri.Pfxlen > 32 {
		return nil, 0, BGPError{
			ErrorCode:    UpdateMessageError,
			ErrorSubCode: InvalidNetworkField,
			ErrorStr:     fmt.Sprintf("invalid prefix length: %d", nlri.Pfxlen),
		}
	}

	toCopy := uint8(math.Ceil(float64(nlri.Pfxlen) / float64(8)))
	for i := uint8(0); i < 4; i++ {
		if i < toCopy {
			if err := decode(buf, []interface{}{&nlri.Prefix[i]}); err != nil {
				return nil, 0, err
			}
		}
	}

	return nlri, toCopy + 1, nil
}

func decodePathAttrs(buf *bytes.Buffer, tpal uint16) ([]PathAttribute, error) {
	var ret []PathAttribute

	p := uint16(0)
	for p < tpal {
		pa := PathAttribute{}

		if err := decodePathAttrFlags(buf, &pa); err != nil {
			return nil, fmt.Errorf("unable to get path attribute flags: %v", err)
		}
		p++

		if err := decode(buf, []interface{}{&pa.TypeCode}); err != nil {
			return nil, err
		}
		p++

		n, err := pa.setLength(buf)
		if err != nil {
			return nil, err
		}
		p += uint16(n)

		switch pa.TypeCode {
		case OriginAttr:
			if err := pa.decodeOrigin(buf); err != nil {
				return nil, fmt.Errorf("failed to decode ORIGIN: %v", err)
			}
		case ASPathAttr:
			if err := pa.decodeASPath(buf); err != nil {
				return nil, fmt.Errorf("failed to decode AS_PATH: %v", err)
			}
		case NextHopAttr:
			if err := pa.decodeNextHop(buf); err != nil {
				return nil, fmt.Errorf("failed to decode NEXT_HOP: %v", err)
			}
		case MEDAttr:
			if err := pa.decodeUint32Attr(buf); err != nil {
				return nil, fmt.Errorf("failed to decode MED: %v", err)
			}
		case LocalPrefAttr:
			if err := pa.decodeUint32Attr(buf); err != nil {
				return nil, fmt.Errorf("failed to decode LOCAL_PREF: %v", err)
			}
		case AtomicAggrAttr:
			// zero-octet attribute, nothing to decode
		case AggregatorAttr:
			if err := pa.decodeAggregator(buf); err != nil {
				return nil, fmt.Errorf("failed to decode AGGREGATOR: %v", err)
			}
		default:
			if !pa.Optional {
				return nil, BGPError{
					ErrorCode:    UpdateMessageError,
					ErrorSubCode: UnrecognizedWellKnownAttr,
					ErrorStr:     fmt.Sprintf("unrecognized well-known attribute: %d", pa.TypeCode),
				}
			}
			if err := dumpNBytes(buf, pa.Length); err != nil {
				return nil, err
			}
		}

		p += pa.Length
		ret = append(ret, pa)
	}

	return ret, nil
}

func (pa *PathAttribute) decodeAggregator(buf *bytes.Buffer) error {
	aggr := Aggregator{}

	if err := decode(buf, []interface{}{&aggr.ASN}); err != nil {
		return err
	}

	n, err := buf.Read(aggr.Addr[:])
	if err != nil {
		return err
	}
	if n != 4 {
		return fmt.Errorf("unable to read aggregator address: read %d bytes", n)
	}

	pa.Value = aggr
	return dumpNBytes(buf, pa.Length-6)
}

func (pa *PathAttribute) decodeUint32Attr(buf *bytes.Buffer) error {
	var v uint32
	if err := decode(buf, []interface{}{&v}); err != nil {
		return err
	}

	pa.Value = v
	return dumpNBytes(buf, pa.Length-4)
}

func (pa *PathAttribute) decodeNextHop(buf *bytes.Buffer) error {
	var addr [4]byte
	n, err := buf.Read(addr[:])
	if err != nil {
		return err
	}
	if n != 4 {
		return fmt.Errorf("unable to read next hop: read %d bytes", n)
	}

	pa.Value = addr
	return dumpNBytes(buf, pa.Length-4)
}

func (pa *PathAttribute) decodeASPath(buf *bytes.Buffer) error {
	segments := make([]ASPathSegment, 0)

	p := uint16(0)
	for p < pa.Length {
		var typ, count uint8
		if err := decode(buf, []interface{}{&typ, &count}); err != nil {
			return err
		}
		p += 2

		if typ != ASSet && typ != ASSequence {
			return fmt.Errorf("invalid AS_PATH segment type: %d", typ)
		}
		if count == 0 {
			return fmt.Errorf("invalid AS_PATH segment length: %d", count)
		}

		segment := ASPathSegment{Type: typ, ASNs: make([]uint32, 0, count)}
		for i := uint8(0); i < count; i++ {
			var asn uint16
			if err := decode(buf, []interface{}{&asn}); err != nil {
				return err
			}
			p += 2
			segment.ASNs = append(segment.ASNs, uint32(asn))
		}
		segments = append(segments, segment)
	}

	pa.Value = segments
	return nil
}

func (pa *PathAttribute) decodeOrigin(buf *bytes.Buffer) error {
	var origin uint8
	if err := decode(buf, []interface{}{&origin}); err != nil {
		return err
	}

	pa.Value = origin
	return dumpNBytes(buf, pa.Length-1)
}

// dumpNBytes discards n bytes of buf. Useful when an attribute's declared
// length doesn't match the fixed length this codec expects (e.g. ORIGIN is
// always one octet).
func dumpNBytes(buf *bytes.Buffer, n uint16) error {
	if n == 0 || n > uint16(buf.Len()) {
		return nil
	}
	dump := make([]byte, n)
	return decode(buf, []interface{}{&dump})
}

func (pa *PathAttribute) setLength(buf *bytes.Buffer) (int, error) {
	if pa.ExtendedLength {
		if err := decode(buf, []interface{}{&pa.Length}); err != nil {
			return 0, err
		}
		return 2, nil
	}

	var x uint8
	if err := decode(buf, []interface{}{&x}); err != nil {
		return 0, err
	}
	pa.Length = uint16(x)
	return 1, nil
}

func decodePathAttrFlags(buf *bytes.Buffer, pa *PathAttribute) error {
	var flags uint8
	if err := decode(buf, []interface{}{&flags}); err != nil {
		return err
	}

	pa.Optional = flags&128 == 128
	pa.Transitive = flags&64 == 64
	pa.Partial = flags&32 == 32
	pa.ExtendedLength = flags&16 == 16

	return nil
}

func decodeNotificationMsg(buf *bytes.Buffer) (*Notification, error) {
	msg := &Notification{}

	if err := decode(buf, []interface{}{&msg.ErrorCode, &msg.ErrorSubcode}); err != nil {
		return nil, err
	}

	if buf.Len() > 0 {
		msg.Data = make([]byte, buf.Len())
		copy(msg.Data, buf.Bytes())
	}

	return msg, nil
}

func decodeOpenMsg(buf *bytes.Buffer) (*Open, error) {
	msg := &Open{}

	fields := []interface{}{
		&msg.Version,
		&msg.AS,
		&msg.HoldTime,
		&msg.BGPIdentifier,
		&msg.OptParmLen,
	}
	if err := decode(buf, fields); err != nil {
		return nil, err
	}

	if err := validateOpen(msg); err != nil {
		return nil, err
	}

	return msg, nil
}

func validateOpen(msg *Open) error {
	if msg.Version != BGP4Version {
		return BGPError{
			ErrorCode:    OpenMessageError,
			ErrorSubCode: UnsupportedVersionNumber,
			ErrorStr:     "unsupported version number",
		}
	}
	if !isValidIdentifier(msg.BGPIdentifier) {
		return BGPError{
			ErrorCode:    OpenMessageError,
			ErrorSubCode: BadBGPIdentifier,
			ErrorStr:     "invalid BGP identifier",
		}
	}

	return nil
}

func isValidIdentifier(id uint32) bool {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, id)
	addr := net.IP(b)

	if addr.IsLoopback() || addr.IsMulticast() {
		return false
	}
	if b[0] == 0 {
		return false
	}
	if b[0] == 255 && b[1] == 255 && b[2] == 255 && b[3] == 255 {
		return false
	}

	return true
}

func decodeHeader(buf *bytes.Buffer) (*Header, error) {
	hdr := &Header{}

	marker := make([]byte, MarkerLen)
	n, err := buf.Read(marker)
	if err != nil || n != MarkerLen {
		return nil, BGPError{
			ErrorCode:    MessageHeaderError,
			ErrorSubCode: ConnectionNotSync,
			ErrorStr:     "failed to read marker",
		}
	}
	for i := range marker {
		if marker[i] != 0xff {
			return nil, BGPError{
				ErrorCode:    MessageHeaderError,
				ErrorSubCode: ConnectionNotSync,
				ErrorStr:     fmt.Sprintf("invalid marker: %v", marker),
			}
		}
	}

	if err := decode(buf, []interface{}{&hdr.Length, &hdr.Type}); err != nil {
		return nil, BGPError{
			ErrorCode:    MessageHeaderError,
			ErrorSubCode: BadMessageLength,
			ErrorStr:     err.Error(),
		}
	}

	if hdr.Length < MinLen || hdr.Length > MaxLen {
		return nil, BGPError{
			ErrorCode:    MessageHeaderError,
			ErrorSubCode: BadMessageLength,
			ErrorStr:     fmt.Sprintf("invalid length in BGP header: %d", hdr.Length),
		}
	}

	if hdr.Type > KeepaliveMsg || hdr.Type == 0 {
		return nil, BGPError{
			ErrorCode:    MessageHeaderError,
			ErrorSubCode: BadMessageType,
			ErrorStr:     fmt.Sprintf("invalid message type: %d", hdr.Type),
		}
	}

	return hdr, nil
}

func decode(buf *bytes.Buffer, fields []interface{}) error {
	for _, field := range fields {
		if err := binary.Read(buf, binary.BigEndian, field); err != nil {
			return fmt.Errorf("unable to read from buffer: %v", err)
		}
	}
	return nil
}
