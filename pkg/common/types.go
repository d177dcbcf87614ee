// Package common provides shared types and utilities used across the router core.
package common

import (
	"encoding/binary"
	"fmt"
	"net"
)

// MACAddress represents a 48-bit hardware address.
type MACAddress [6]byte

// String returns the MAC address in standard format (e.g., "00:11:22:33:44:55").
func (m MACAddress) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		m[0], m[1], m[2], m[3], m[4], m[5])
}

// IsBroadcast returns true if this is a broadcast MAC address (FF:FF:FF:FF:FF:FF).
func (m MACAddress) IsBroadcast() bool {
	return m == BroadcastMAC
}

// IsZero returns true if this is the all-zero hardware address, the value an
// ARP refresh uses for an as-yet-unknown target hardware address.
func (m MACAddress) IsZero() bool {
	return m == MACAddress{}
}

// ParseMAC parses a string MAC address (e.g., "00:11:22:33:44:55").
func ParseMAC(s string) (MACAddress, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return MACAddress{}, err
	}
	if len(hw) != 6 {
		return MACAddress{}, fmt.Errorf("invalid MAC address length: %d", len(hw))
	}
	var mac MACAddress
	copy(mac[:], hw)
	return mac, nil
}

// BroadcastMAC is the broadcast MAC address (FF:FF:FF:FF:FF:FF).
var BroadcastMAC = MACAddress{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// IPv4Address represents a 32-bit IPv4 address in network byte order.
type IPv4Address [4]byte

// String returns the IP address in dotted decimal format (e.g., "192.168.1.1").
func (ip IPv4Address) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", ip[0], ip[1], ip[2], ip[3])
}

// ToUint32 converts the IPv4 address to a uint32 in network byte order.
func (ip IPv4Address) ToUint32() uint32 {
	return binary.BigEndian.Uint32(ip[:])
}

// IsZero reports whether this is the 0.0.0.0 address. Both the ARP table
// (a free slot) and the routing table (the default route) use the zero
// address as their sentinel.
func (ip IPv4Address) IsZero() bool {
	return ip == IPv4Address{}
}

// LowByte returns ntohl(ip)&0xFF, the bucket the interface registry's IP
// index hashes on.
func (ip IPv4Address) LowByte() byte {
	return ip[3]
}

// ParseIPv4 parses a string IPv4 address (e.g., "192.168.1.1").
func ParseIPv4(s string) (IPv4Address, error) {
	parsed := net.ParseIP(s)
	if parsed == nil {
		return IPv4Address{}, fmt.Errorf("invalid IP address: %s", s)
	}
	v4 := parsed.To4()
	if v4 == nil {
		return IPv4Address{}, fmt.Errorf("not an IPv4 address: %s", s)
	}
	var addr IPv4Address
	copy(addr[:], v4)
	return addr, nil
}

// IPv4FromUint32 converts a uint32 in network byte order to an IPv4 address.
func IPv4FromUint32(v uint32) IPv4Address {
	var addr IPv4Address
	binary.BigEndian.PutUint32(addr[:], v)
	return addr
}

// EtherType represents the protocol type in an Ethernet frame.
type EtherType uint16

// EtherType values the dispatcher classifies.
const (
	EtherTypeIPv4 EtherType = 0x0800 // Internet Protocol version 4
	EtherTypeARP  EtherType = 0x0806 // Address Resolution Protocol
)

// String returns a human-readable name for the EtherType.
func (et EtherType) String() string {
	switch et {
	case EtherTypeIPv4:
		return "IPv4"
	case EtherTypeARP:
		return "ARP"
	default:
		return fmt.Sprintf("Unknown(0x%04x)", uint16(et))
	}
}

// Protocol represents the protocol number in an IP header.
type Protocol uint8

// Protocol numbers the IP engine recognizes.
const (
	ProtocolICMP Protocol = 1  // Internet Control Message Protocol
	ProtocolTCP  Protocol = 6  // Transmission Control Protocol
	ProtocolUDP  Protocol = 17 // User Datagram Protocol
)

// String returns a human-readable name for the protocol.
func (p Protocol) String() string {
	switch p {
	case ProtocolICMP:
		return "ICMP"
	case ProtocolTCP:
		return "TCP"
	case ProtocolUDP:
		return "UDP"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(p))
	}
}
