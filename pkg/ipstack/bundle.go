package ipstack

import (
	"github.com/elliotchong/vrouter/pkg/common"
	"github.com/elliotchong/vrouter/pkg/netif"
)

// Bundle is the common argument shape threaded through the IP engine and
// the backlog: a frame's raw bytes, a header overlay onto them, the
// interface it arrived on (or will be sent on), and whether it currently
// lives in a backlog slot. It borrows Raw rather than owning it - mirrors
// sr_bundle from original_source/sr_buf.h.
type Bundle struct {
	Raw      []byte
	Header   *Header
	Iface    *netif.Record
	Buffered bool
}

// NewBundle wraps raw (a full Ethernet frame: 14-byte header followed by an
// IPv4 datagram) in a Bundle whose Header overlays raw[EthernetHeaderLen:].
// raw must outlive the Bundle and the Header aliases it; mutating one
// mutates the other.
func NewBundle(raw []byte, iface *netif.Record) *Bundle {
	return &Bundle{
		Raw:    raw,
		Header: newHeader(raw[EthernetHeaderLen:]),
		Iface:  iface,
	}
}

// Rebind repoints the Bundle (and its Header) at a new backing array,
// without changing Iface/Buffered - used when a bundle is copied into or
// out of a backlog slot.
func (b *Bundle) Rebind(raw []byte) {
	b.Raw = raw
	b.Header = newHeader(raw[EthernetHeaderLen:])
}

// swapEthernetAddresses exchanges the source and destination MAC addresses
// in the frame's Ethernet header.
func (b *Bundle) swapEthernetAddresses() {
	var tmp common.MACAddress
	copy(tmp[:], b.Raw[0:6])
	copy(b.Raw[0:6], b.Raw[6:12])
	copy(b.Raw[6:12], tmp[:])
}

// SourceMAC returns the frame's Ethernet source address.
func (b *Bundle) SourceMAC() common.MACAddress {
	var mac common.MACAddress
	copy(mac[:], b.Raw[6:12])
	return mac
}

// SetEthernetAddresses sets the frame's Ethernet destination and source.
func (b *Bundle) SetEthernetAddresses(dst, src common.MACAddress) {
	copy(b.Raw[0:6], dst[:])
	copy(b.Raw[6:12], src[:])
}

// TotalFrameLen returns the length the frame should be considered to have
// given the IPv4 header's current total-length field: Ethernet header plus
// the IP total length.
func (b *Bundle) TotalFrameLen() int {
	return EthernetHeaderLen + int(b.Header.TotalLength())
}

// Truncate resizes Raw to n bytes without reallocating, for operations
// (like Unreachable) that produce a shorter datagram than the one that
// arrived.
func (b *Bundle) Truncate(n int) {
	b.Raw = b.Raw[:n]
}
