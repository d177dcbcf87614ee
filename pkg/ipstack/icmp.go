package ipstack

import (
	"github.com/elliotchong/vrouter/pkg/common"
	"github.com/elliotchong/vrouter/pkg/netif"
)

// EchoReply mutates an inbound echo request into an echo reply in place:
// reverse (keeping the same total length), set type 0 / code 0, and
// recompute the ICMP checksum over the ICMP region. rawLen is the frame's
// total byte length as received. Ported from
// original_source/sr_ip.c:sr_icmp_handler (ICMP_ECHO_REQUEST case).
func EchoReply(b *Bundle, rawLen int) {
	totalLen := b.Header.TotalLength()
	Reverse(b, totalLen)

	h := b.Header
	h.SetICMPType(ICMPEchoReply)
	h.SetICMPCode(0)

	icmpLen := rawLen - EthernetHeaderLen - IPHeaderLen
	h.RecomputeICMPChecksum(icmpLen)
}

// Traceroute mutates an inbound traceroute probe into its reply in place:
// reverse (keeping the same total length), increment in-hops, set MTU to
// 1500, set speed from the interface whose IP matched the probe's original
// source, and recompute the checksum. Ported from
// original_source/sr_ip.c:sr_icmp_handler (ICMP_TRACEROUTE case).
func Traceroute(b *Bundle, rawLen int, originSourceIface *netif.Record) {
	totalLen := b.Header.TotalLength()
	Reverse(b, totalLen)

	h := b.Header
	h.SetICMPChecksum(0)
	h.SetTracerouteInHops(h.TracerouteInHops() + 1)
	h.SetTracerouteMTU(1500)
	if originSourceIface != nil {
		h.SetTracerouteSpeed(originSourceIface.Speed)
	}

	icmpLen := rawLen - EthernetHeaderLen - IPHeaderLen
	h.RecomputeICMPChecksum(icmpLen)
}

// Unreachable builds an ICMP time-exceeded reply in place for either TTL
// expiry or an undeliverable datagram - the original's single
// sr_icmp_unreachable routine is used for both, and always stamps the
// ICMP type as TIME_EXCEEDED regardless of which case triggered it. It
// preserves the first ICMPTimeoutSize bytes of the original datagram (its
// IP header plus leading payload), retargets the IP destination to
// outgoingIfaceIP (the address of the interface that would have forwarded
// the original datagram, so that after Reverse it becomes this reply's
// source), and fixes the total length at UnreachableTotalLen. Ported from
// original_source/sr_ip.c:sr_icmp_unreachable.
func Unreachable(b *Bundle, outgoingIfaceIP common.IPv4Address) {
	var preserved [ICMPTimeoutSize]byte
	copy(preserved[:], b.Raw[EthernetHeaderLen:])

	b.Header.SetDestination(outgoingIfaceIP)
	Reverse(b, UnreachableTotalLen)

	// Fix the frame's length at its final size before writing the
	// preserved data into place, so the write lands within bounds
	// regardless of how long the inbound datagram was. A frame whose
	// backing array is too small is copied into a new one first.
	frameLen := EthernetHeaderLen + UnreachableTotalLen
	if cap(b.Raw) < frameLen {
		grown := make([]byte, len(b.Raw), frameLen)
		copy(grown, b.Raw)
		b.Raw = grown
	}
	b.Truncate(frameLen)
	b.Rebind(b.Raw)

	h := b.Header
	h.SetICMPType(ICMPTimeExceeded)
	h.SetICMPCode(0)
	h.SetICMPUnused(0)

	copy(b.Raw[EthernetHeaderLen+IPHeaderLen+ICMPHeaderLen:], preserved[:])
	h.RecomputeICMPChecksum(ICMPHeaderLen + ICMPTimeoutSize)
}

// Action is the disposition the protocol classifier assigns to an inbound
// IPv4 datagram.
type Action int

// Dispositions the dispatcher acts on.
const (
	ActionDrop Action = iota
	ActionEchoReply
	ActionTraceroute
	ActionForward
)

// String returns a human-readable name for the action.
func (a Action) String() string {
	switch a {
	case ActionDrop:
		return "Drop"
	case ActionEchoReply:
		return "EchoReply"
	case ActionTraceroute:
		return "Traceroute"
	case ActionForward:
		return "Forward"
	default:
		return "Unknown"
	}
}

// Classify decides what to do with an inbound datagram whose TTL has
// already been checked by the caller: ICMP echo requests get an echo
// reply, ICMP traceroute probes get a traceroute reply, any other ICMP
// message addressed to one of our interfaces is dropped (already
// delivered) while one addressed elsewhere is forwarded, and TCP/UDP are
// always forwarded. Anything else is dropped. Ported from
// original_source/sr_ip.c:sr_icmp_handler/sr_ip_handler.
func Classify(h *Header, destIsLocal bool) Action {
	switch h.Protocol() {
	case common.ProtocolICMP:
		switch h.ICMPType() {
		case ICMPEchoRequest:
			return ActionEchoReply
		case ICMPTraceroute:
			return ActionTraceroute
		default:
			if destIsLocal {
				return ActionDrop
			}
			return ActionForward
		}
	case common.ProtocolTCP, common.ProtocolUDP:
		return ActionForward
	default:
		return ActionDrop
	}
}
