// Package ipstack implements the router's IPv4/ICMP engine: header
// validation, TTL handling, and the echo/traceroute/unreachable ICMP
// builders, grounded on original_source/sr_ip.c. Headers are typed
// overlays - accessors that read and write straight through to a frame's
// raw bytes - rather than the parse-into-a-struct-then-reserialize style
// used elsewhere in this module, mirroring the original's pointer-cast
// access over a single packed C struct.
package ipstack

import (
	"encoding/binary"

	"github.com/elliotchong/vrouter/pkg/common"
)

// Layout constants grounded on original_source/sr_ip.h and sr_router.h.
const (
	// EthernetHeaderLen is the size of the Ethernet II header preceding
	// the IP header in a bundle's raw bytes.
	EthernetHeaderLen = 14

	// IPHeaderLen is the fixed IPv4 header length this router ever
	// produces or expects: IHL is always normalized to 5 (no options),
	// per the Non-goals in spec.md.
	IPHeaderLen = 20

	// ICMPHeaderLen is the fixed 8-byte ICMP header: type, code,
	// checksum, and a 4-byte type-specific field (sr_icmp.fields).
	ICMPHeaderLen = 8

	// ICMPTimeoutSize is the number of bytes of the original datagram
	// (IP header plus leading payload) preserved in an unreachable/
	// time-exceeded reply's data section (original_source/sr_ip.h).
	ICMPTimeoutSize = 32

	// UnreachableTotalLen is the IPv4 total length of a synthesized
	// unreachable/time-exceeded datagram: IP header + ICMP header +
	// ICMPTimeoutSize bytes of preserved original data.
	UnreachableTotalLen = IPHeaderLen + ICMPHeaderLen + ICMPTimeoutSize // 60

	// HopLimit is the TTL stamped onto router-generated replies.
	HopLimit = 128
)

// ICMP type values this router builds or classifies on (original_source/sr_ip.h).
const (
	ICMPEchoReply    uint8 = 0x00
	ICMPUnreachable  uint8 = 0x03
	ICMPEchoRequest  uint8 = 0x08
	ICMPTimeExceeded uint8 = 0x0b
	ICMPTraceroute   uint8 = 0x1e
)

// Header is a typed overlay onto the IPv4 header (and, for the ICMP
// accessors, the L4 region immediately following it) of a bundle's raw
// bytes. Every accessor reads or writes directly through to raw; there is
// no intermediate parsed copy, so mutating the header mutates the frame.
type Header struct {
	raw []byte
}

// newHeader wraps raw, which must begin at the first byte of the IPv4
// header (i.e. Bundle.Raw[EthernetHeaderLen:]).
func newHeader(raw []byte) *Header {
	return &Header{raw: raw}
}

// IHL returns the IPv4 header length in 32-bit words.
func (h *Header) IHL() uint8 {
	return h.raw[0] & 0x0F
}

// SetIHL sets the IPv4 header length in 32-bit words, leaving the version
// nibble untouched.
func (h *Header) SetIHL(words uint8) {
	h.raw[0] = (h.raw[0] &^ 0x0F) | (words & 0x0F)
}

// HeaderLen returns the IPv4 header length in bytes (IHL * 4).
func (h *Header) HeaderLen() int {
	return int(h.IHL()) * 4
}

// TotalLength returns the ip_len field: header plus payload, in bytes.
func (h *Header) TotalLength() uint16 {
	return binary.BigEndian.Uint16(h.raw[2:4])
}

// SetTotalLength sets the ip_len field.
func (h *Header) SetTotalLength(n uint16) {
	binary.BigEndian.PutUint16(h.raw[2:4], n)
}

// ClearFragmentOffset zeroes the flags+fragment-offset field, matching
// sr_ip_reverse's normalization of a reply to an unfragmented datagram.
func (h *Header) ClearFragmentOffset() {
	binary.BigEndian.PutUint16(h.raw[6:8], 0)
}

// TTL returns the time-to-live field.
func (h *Header) TTL() uint8 {
	return h.raw[8]
}

// SetTTL sets the time-to-live field.
func (h *Header) SetTTL(ttl uint8) {
	h.raw[8] = ttl
}

// Protocol returns the ip_p field.
func (h *Header) Protocol() common.Protocol {
	return common.Protocol(h.raw[9])
}

// SetProtocol sets the ip_p field.
func (h *Header) SetProtocol(p common.Protocol) {
	h.raw[9] = byte(p)
}

// Checksum returns the ip_sum field as transmitted.
func (h *Header) Checksum() uint16 {
	return binary.BigEndian.Uint16(h.raw[10:12])
}

// SetChecksum sets the ip_sum field.
func (h *Header) SetChecksum(sum uint16) {
	binary.BigEndian.PutUint16(h.raw[10:12], sum)
}

// Source returns the source IPv4 address.
func (h *Header) Source() common.IPv4Address {
	var ip common.IPv4Address
	copy(ip[:], h.raw[12:16])
	return ip
}

// SetSource sets the source IPv4 address.
func (h *Header) SetSource(ip common.IPv4Address) {
	copy(h.raw[12:16], ip[:])
}

// Destination returns the destination IPv4 address.
func (h *Header) Destination() common.IPv4Address {
	var ip common.IPv4Address
	copy(ip[:], h.raw[16:20])
	return ip
}

// SetDestination sets the destination IPv4 address.
func (h *Header) SetDestination(ip common.IPv4Address) {
	copy(h.raw[16:20], ip[:])
}

// VerifyChecksum reports whether the IPv4 header checksum, as currently
// transmitted, is valid.
func (h *Header) VerifyChecksum() bool {
	return common.VerifyChecksum(h.raw[:h.HeaderLen()])
}

// RecomputeChecksum zeroes and recomputes the IPv4 header checksum over
// the header's own bytes, exactly sr_ip_forward/sr_ip_reverse's
// "zero then recompute" sequence.
func (h *Header) RecomputeChecksum() {
	h.SetChecksum(0)
	h.SetChecksum(common.Checksum(h.raw[:h.HeaderLen()]))
}

// l4 returns the bytes immediately following the fixed-length IP header -
// the ICMP, TCP, or UDP region, per sr_ip_comb's union.
func (h *Header) l4() []byte {
	return h.raw[IPHeaderLen:]
}

// ICMPType returns the ICMP type byte.
func (h *Header) ICMPType() uint8 {
	return h.l4()[0]
}

// SetICMPType sets the ICMP type byte.
func (h *Header) SetICMPType(t uint8) {
	h.l4()[0] = t
}

// ICMPCode returns the ICMP code byte.
func (h *Header) ICMPCode() uint8 {
	return h.l4()[1]
}

// SetICMPCode sets the ICMP code byte.
func (h *Header) SetICMPCode(c uint8) {
	h.l4()[1] = c
}

// ICMPChecksum returns the ICMP checksum field as transmitted.
func (h *Header) ICMPChecksum() uint16 {
	return binary.BigEndian.Uint16(h.l4()[2:4])
}

// SetICMPChecksum sets the ICMP checksum field.
func (h *Header) SetICMPChecksum(sum uint16) {
	binary.BigEndian.PutUint16(h.l4()[2:4], sum)
}

// RecomputeICMPChecksum zeroes and recomputes the ICMP checksum over the
// first n bytes of the ICMP region.
func (h *Header) RecomputeICMPChecksum(n int) {
	h.SetICMPChecksum(0)
	h.SetICMPChecksum(common.Checksum(h.l4()[:n]))
}

// EchoID returns the identifier field of an echo request/reply.
func (h *Header) EchoID() uint16 {
	return binary.BigEndian.Uint16(h.l4()[4:6])
}

// EchoSequence returns the sequence field of an echo request/reply.
func (h *Header) EchoSequence() uint16 {
	return binary.BigEndian.Uint16(h.l4()[6:8])
}

// Traceroute field offsets within the ICMP region, per RFC 1393:
// type(1) code(1) checksum(2) identifier(2) unused(2) out_hops(2)
// in_hops(2) speed(4) mtu(4).
const (
	tracerouteInHopsOff = 10
	tracerouteSpeedOff  = 12
	tracerouteMTUOff    = 16
	tracerouteHeaderLen = 20
)

// TracerouteInHops returns the in_hops field.
func (h *Header) TracerouteInHops() uint16 {
	return binary.BigEndian.Uint16(h.l4()[tracerouteInHopsOff : tracerouteInHopsOff+2])
}

// SetTracerouteInHops sets the in_hops field.
func (h *Header) SetTracerouteInHops(hops uint16) {
	binary.BigEndian.PutUint16(h.l4()[tracerouteInHopsOff:tracerouteInHopsOff+2], hops)
}

// SetTracerouteSpeed sets the speed field (interface link speed, bits/sec).
func (h *Header) SetTracerouteSpeed(speed uint32) {
	binary.BigEndian.PutUint32(h.l4()[tracerouteSpeedOff:tracerouteSpeedOff+4], speed)
}

// SetTracerouteMTU sets the mtu field.
func (h *Header) SetTracerouteMTU(mtu uint32) {
	binary.BigEndian.PutUint32(h.l4()[tracerouteMTUOff:tracerouteMTUOff+4], mtu)
}

// ICMPUnused returns the 4-byte type-specific field used by time-exceeded
// and unreachable messages (sr_icmp_timeout.unused / sr_icmp_unreachable).
func (h *Header) ICMPUnused() uint32 {
	return binary.BigEndian.Uint32(h.l4()[4:8])
}

// SetICMPUnused sets the 4-byte type-specific field to zero or a given value.
func (h *Header) SetICMPUnused(v uint32) {
	binary.BigEndian.PutUint32(h.l4()[4:8], v)
}
