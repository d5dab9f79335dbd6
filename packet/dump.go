package packet

import (
	"fmt"
	"net"
	"strings"
)

// String renders msg for logging and the operator CLI's "show" commands.
func (m *Message) String() string {
	switch body := m.Body.(type) {
	case *Open:
		return fmt.Sprintf("OPEN version=%d as=%d hold_time=%d id=%s",
			body.Version, body.AS, body.HoldTime, net.IPv4(byte(body.BGPIdentifier>>24), byte(body.BGPIdentifier>>16), byte(body.BGPIdentifier>>8), byte(body.BGPIdentifier)))
	case *Update:
		var sb strings.Builder
		sb.WriteString("UPDATE")
		for _, w := range body.WithdrawnRoutes {
			fmt.Fprintf(&sb, " -%s/%d", net.IP(w.Prefix[:]), w.Pfxlen)
		}
		for _, n := range body.NLRI {
			fmt.Fprintf(&sb, " +%s/%d", net.IP(n.Prefix[:]), n.Pfxlen)
		}
		return sb.String()
	case *Notification:
		return fmt.Sprintf("NOTIFICATION code=%d subcode=%d", body.ErrorCode, body.ErrorSubcode)
	case nil:
		return "KEEPALIVE"
	default:
		return fmt.Sprintf("unknown message %T", body)
	}
}
