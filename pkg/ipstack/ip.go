package ipstack

import "github.com/elliotchong/vrouter/pkg/common"

// Reverse turns an inbound datagram into the shell of a router-generated
// reply in place: swap Ethernet src/dst, normalize the header length to 5
// words, clear any fragment offset, reset TTL to HopLimit, set the
// protocol to ICMP, swap the IP source/destination, stamp totalLen as the
// new IP total length, and recompute the IP checksum. Ported from
// original_source/sr_ip.c:sr_ip_reverse.
func Reverse(b *Bundle, totalLen uint16) {
	b.swapEthernetAddresses()

	h := b.Header
	if h.IHL() != 5 {
		h.SetIHL(5)
	}
	h.ClearFragmentOffset()
	h.SetTTL(HopLimit)
	h.SetProtocol(common.ProtocolICMP)

	src, dst := h.Source(), h.Destination()
	h.SetDestination(src)
	h.SetSource(dst)

	h.SetTotalLength(totalLen)
	h.RecomputeChecksum()
}

// Forward decrements TTL by one and recomputes the IP header checksum,
// ported from original_source/sr_ip.c:sr_ip_forward. The caller is
// responsible for having already rejected TTL <= 1 upstream.
func Forward(b *Bundle) {
	h := b.Header
	h.SetTTL(h.TTL() - 1)
	h.RecomputeChecksum()
}
