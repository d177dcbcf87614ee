package ipstack

import (
	"testing"

	"github.com/elliotchong/vrouter/pkg/common"
)

// buildFrame assembles a minimal Ethernet+IPv4 frame with an optional
// trailing payload, header checksum already filled in. For ICMP frames the
// payload follows a zeroed ICMPHeaderLen-byte ICMP header; for any other
// protocol it follows the IP header directly.
func buildFrame(t *testing.T, ttl uint8, proto common.Protocol, src, dst common.IPv4Address, payload []byte) []byte {
	t.Helper()
	l4Len := len(payload)
	payloadOff := IPHeaderLen
	if proto == common.ProtocolICMP {
		l4Len += ICMPHeaderLen
		payloadOff += ICMPHeaderLen
	}
	raw := make([]byte, EthernetHeaderLen+IPHeaderLen+l4Len)

	dstMAC := common.MACAddress{0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA}
	srcMAC := common.MACAddress{0xBB, 0xBB, 0xBB, 0xBB, 0xBB, 0xBB}
	copy(raw[0:6], dstMAC[:])
	copy(raw[6:12], srcMAC[:])
	raw[12], raw[13] = 0x08, 0x00

	ip := raw[EthernetHeaderLen:]
	ip[0] = 0x45 // version 4, IHL 5
	ipLen := uint16(IPHeaderLen + l4Len)
	ip[2], ip[3] = byte(ipLen>>8), byte(ipLen)
	ip[8] = ttl
	ip[9] = byte(proto)
	copy(ip[12:16], src[:])
	copy(ip[16:20], dst[:])
	copy(ip[payloadOff:], payload)

	h := newHeader(ip)
	h.RecomputeChecksum()
	return raw
}

func TestHeaderIPAccessors(t *testing.T) {
	src := common.IPv4Address{10, 0, 0, 1}
	dst := common.IPv4Address{10, 0, 0, 2}
	raw := buildFrame(t, 64, common.ProtocolTCP, src, dst, nil)
	h := newHeader(raw[EthernetHeaderLen:])

	if h.IHL() != 5 {
		t.Errorf("IHL() = %d, want 5", h.IHL())
	}
	if h.HeaderLen() != 20 {
		t.Errorf("HeaderLen() = %d, want 20", h.HeaderLen())
	}
	if h.TTL() != 64 {
		t.Errorf("TTL() = %d, want 64", h.TTL())
	}
	if h.Protocol() != common.ProtocolTCP {
		t.Errorf("Protocol() = %v, want TCP", h.Protocol())
	}
	if h.Source() != src {
		t.Errorf("Source() = %s, want %s", h.Source(), src)
	}
	if h.Destination() != dst {
		t.Errorf("Destination() = %s, want %s", h.Destination(), dst)
	}
	if !h.VerifyChecksum() {
		t.Error("VerifyChecksum() = false for a freshly built header")
	}
}

func TestHeaderSetters(t *testing.T) {
	raw := buildFrame(t, 64, common.ProtocolUDP, common.IPv4Address{1, 1, 1, 1}, common.IPv4Address{2, 2, 2, 2}, nil)
	h := newHeader(raw[EthernetHeaderLen:])

	h.SetTTL(10)
	h.SetProtocol(common.ProtocolICMP)
	h.SetSource(common.IPv4Address{9, 9, 9, 9})
	h.SetDestination(common.IPv4Address{8, 8, 8, 8})
	h.SetTotalLength(100)
	h.RecomputeChecksum()

	if h.TTL() != 10 {
		t.Errorf("TTL() = %d, want 10", h.TTL())
	}
	if h.Protocol() != common.ProtocolICMP {
		t.Errorf("Protocol() = %v, want ICMP", h.Protocol())
	}
	if h.Source() != (common.IPv4Address{9, 9, 9, 9}) {
		t.Errorf("Source() = %s, want 9.9.9.9", h.Source())
	}
	if h.TotalLength() != 100 {
		t.Errorf("TotalLength() = %d, want 100", h.TotalLength())
	}
	if !h.VerifyChecksum() {
		t.Error("VerifyChecksum() = false after RecomputeChecksum")
	}
}

func TestHeaderICMPAccessors(t *testing.T) {
	payload := make([]byte, 16)
	raw := buildFrame(t, 64, common.ProtocolICMP, common.IPv4Address{1, 1, 1, 1}, common.IPv4Address{2, 2, 2, 2}, payload)
	h := newHeader(raw[EthernetHeaderLen:])

	h.SetICMPType(ICMPEchoRequest)
	h.SetICMPCode(0)
	h.RecomputeICMPChecksum(ICMPHeaderLen + len(payload))

	if h.ICMPType() != ICMPEchoRequest {
		t.Errorf("ICMPType() = %d, want %d", h.ICMPType(), ICMPEchoRequest)
	}
	sum := common.Checksum(h.l4()[:ICMPHeaderLen+len(payload)])
	if sum != 0 {
		t.Errorf("ICMP checksum did not fold to zero: got residual %#x", sum)
	}
}

func TestHeaderTracerouteAccessors(t *testing.T) {
	raw := buildFrame(t, 64, common.ProtocolICMP, common.IPv4Address{1, 1, 1, 1}, common.IPv4Address{2, 2, 2, 2}, make([]byte, 20))
	h := newHeader(raw[EthernetHeaderLen:])

	h.SetTracerouteInHops(5)
	h.SetTracerouteSpeed(100_000_000)
	h.SetTracerouteMTU(1500)

	if h.TracerouteInHops() != 5 {
		t.Errorf("TracerouteInHops() = %d, want 5", h.TracerouteInHops())
	}
}
