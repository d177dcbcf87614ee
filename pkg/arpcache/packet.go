// Package arpcache implements RFC 826 ARP packet framing and the router's
// bounded address-resolution table: a fixed 256-slot cache of IP-to-MAC
// bindings with periodic refresh and a retry budget.
package arpcache

import (
	"encoding/binary"
	"fmt"

	"github.com/elliotchong/vrouter/pkg/common"
)

// ARP packet format (RFC 826), Ethernet/IPv4 flavor:
//  0                   1                   2                   3
//  0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
// +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
// |        Hardware Type          |        Protocol Type          |
// +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
// | HW Addr Len | Proto Addr Len|          Operation            |
// +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
// |                 Sender Hardware Address (6 bytes)             |
// +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
// |                 Sender Protocol Address (4 bytes)             |
// +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
// |                 Target Hardware Address (6 bytes)             |
// +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
// |                 Target Protocol Address (4 bytes)             |
// +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+

const (
	// PacketSize is the size of an ARP packet for Ethernet/IPv4 (28 bytes).
	PacketSize = 28

	// HardwareTypeEthernet is the ARP hardware type for Ethernet.
	HardwareTypeEthernet = 1
)

// Operation is the ARP opcode.
type Operation uint16

// Opcodes this router dispatches on.
const (
	OperationRequest Operation = 1
	OperationReply   Operation = 2
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OperationRequest:
		return "Request"
	case OperationReply:
		return "Reply"
	default:
		return fmt.Sprintf("Unknown(%d)", uint16(op))
	}
}

// Packet represents a parsed ARP packet.
type Packet struct {
	HardwareType   uint16
	ProtocolType   uint16
	HardwareLength uint8
	ProtocolLength uint8
	Operation      Operation
	SenderMAC      common.MACAddress
	SenderIP       common.IPv4Address
	TargetMAC      common.MACAddress
	TargetIP       common.IPv4Address
}

// Parse parses an ARP packet from raw bytes.
func Parse(data []byte) (*Packet, error) {
	if len(data) < PacketSize {
		return nil, fmt.Errorf("arp: packet too short: %d bytes (expected %d)", len(data), PacketSize)
	}

	p := &Packet{
		HardwareType:   binary.BigEndian.Uint16(data[0:2]),
		ProtocolType:   binary.BigEndian.Uint16(data[2:4]),
		HardwareLength: data[4],
		ProtocolLength: data[5],
		Operation:      Operation(binary.BigEndian.Uint16(data[6:8])),
	}

	if p.HardwareType != HardwareTypeEthernet {
		return nil, fmt.Errorf("arp: unsupported hardware type: %d", p.HardwareType)
	}
	if p.ProtocolType != uint16(common.EtherTypeIPv4) {
		return nil, fmt.Errorf("arp: unsupported protocol type: 0x%04x", p.ProtocolType)
	}
	if p.HardwareLength != 6 {
		return nil, fmt.Errorf("arp: invalid hardware address length: %d", p.HardwareLength)
	}
	if p.ProtocolLength != 4 {
		return nil, fmt.Errorf("arp: invalid protocol address length: %d", p.ProtocolLength)
	}

	copy(p.SenderMAC[:], data[8:14])
	copy(p.SenderIP[:], data[14:18])
	copy(p.TargetMAC[:], data[18:24])
	copy(p.TargetIP[:], data[24:28])

	return p, nil
}

// Serialize converts the ARP packet to bytes for transmission.
func (p *Packet) Serialize() []byte {
	data := make([]byte, PacketSize)

	binary.BigEndian.PutUint16(data[0:2], p.HardwareType)
	binary.BigEndian.PutUint16(data[2:4], p.ProtocolType)
	data[4] = p.HardwareLength
	data[5] = p.ProtocolLength
	binary.BigEndian.PutUint16(data[6:8], uint16(p.Operation))

	copy(data[8:14], p.SenderMAC[:])
	copy(data[14:18], p.SenderIP[:])
	copy(data[18:24], p.TargetMAC[:])
	copy(data[24:28], p.TargetIP[:])

	return data
}

// String returns a human-readable representation of the packet.
func (p *Packet) String() string {
	return fmt.Sprintf("ARP{Op=%s, Sender=%s(%s), Target=%s(%s)}",
		p.Operation, p.SenderIP, p.SenderMAC, p.TargetIP, p.TargetMAC)
}

// NewRequest builds an ARP request asking who has targetIP, with the given
// target hardware address (the caller decides whether to zero it or copy a
// cached value - see Table.Refresh).
func NewRequest(senderMAC common.MACAddress, senderIP common.IPv4Address, targetMAC common.MACAddress, targetIP common.IPv4Address) *Packet {
	return &Packet{
		HardwareType:   HardwareTypeEthernet,
		ProtocolType:   uint16(common.EtherTypeIPv4),
		HardwareLength: 6,
		ProtocolLength: 4,
		Operation:      OperationRequest,
		SenderMAC:      senderMAC,
		SenderIP:       senderIP,
		TargetMAC:      targetMAC,
		TargetIP:       targetIP,
	}
}
