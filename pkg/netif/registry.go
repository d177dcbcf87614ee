// Package netif holds the router's interface table: the set of local
// Ethernet interfaces the router forwards between, indexed by name and by
// the low byte of each interface's IP address.
package netif

import (
	"fmt"
	"strconv"

	"github.com/elliotchong/vrouter/pkg/common"
)

// Record describes one local interface.
type Record struct {
	Name  string
	MAC   common.MACAddress
	IP    common.IPv4Address
	Speed uint32
}

// Registry is the router's interface table. It is not safe for concurrent
// use; callers must serialize access the way Router does.
type Registry struct {
	byName      map[string]*Record
	byLowByteIP [256]*Record
	records     []*Record
	last        *Record
}

// NewRegistry returns an empty interface registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Record)}
}

// Add registers a new interface by name. The name must be three characters
// followed by a decimal index less than 256 (e.g. "eth0", "eth12") - Add
// parses everything after the first three characters as that index and
// panics if it doesn't parse, doesn't fit, or is already used by another
// registered interface, mirroring the fixed-size interface table this index used to address
// in the original implementation. The new record becomes the target of the
// next SetMAC/SetIP call, taking the role of "the last interface in the
// list" in the C original.
func (r *Registry) Add(name string) *Record {
	if len(name) <= 3 {
		panic(fmt.Sprintf("netif: interface name %q too short to carry an index", name))
	}
	idx, err := strconv.Atoi(name[3:])
	if err != nil {
		panic(fmt.Sprintf("netif: interface name %q has no decimal index: %v", name, err))
	}
	if idx < 0 || idx >= 256 {
		panic(fmt.Sprintf("netif: interface index %d out of range [0,256)", idx))
	}
	if _, exists := r.byName[name]; exists {
		panic(fmt.Sprintf("netif: interface %q already registered", name))
	}
	for _, other := range r.records {
		if otherIdx, _ := strconv.Atoi(other.Name[3:]); otherIdx == idx {
			panic(fmt.Sprintf("netif: interface index %d already used by %q", idx, other.Name))
		}
	}

	rec := &Record{Name: name}
	r.byName[name] = rec
	r.records = append(r.records, rec)
	r.last = rec
	return rec
}

// SetMAC sets the hardware address of the most recently added interface.
func (r *Registry) SetMAC(mac common.MACAddress) {
	if r.last == nil {
		panic("netif: SetMAC called with no interface added")
	}
	r.last.MAC = mac
}

// SetIP sets the IP address of the most recently added interface and wires
// it into the low-byte index so FindByIP doesn't need to scan.
func (r *Registry) SetIP(ip common.IPv4Address) {
	if r.last == nil {
		panic("netif: SetIP called with no interface added")
	}
	r.last.IP = ip
	r.byLowByteIP[ip.LowByte()] = r.last
}

// SetSpeed sets the link speed of the most recently added interface.
func (r *Registry) SetSpeed(speed uint32) {
	if r.last == nil {
		panic("netif: SetSpeed called with no interface added")
	}
	r.last.Speed = speed
}

// FindByName returns the interface registered under name, or nil.
func (r *Registry) FindByName(name string) *Record {
	return r.byName[name]
}

// FindByIP returns the interface whose address is ip. It indexes by the low
// byte of ip and then verifies an exact match, so a bucket collision (two
// interfaces whose addresses share a low byte) returns nil rather than the
// wrong interface, matching sr_if_get_iface_ip.
func (r *Registry) FindByIP(ip common.IPv4Address) *Record {
	rec := r.byLowByteIP[ip.LowByte()]
	if rec == nil || rec.IP != ip {
		return nil
	}
	return rec
}

// All returns every registered interface in registration order.
func (r *Registry) All() []*Record {
	return r.records
}

// Clear removes every registered interface.
func (r *Registry) Clear() {
	r.byName = make(map[string]*Record)
	r.byLowByteIP = [256]*Record{}
	r.records = nil
	r.last = nil
}
