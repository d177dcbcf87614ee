package arpcache

import (
	"github.com/elliotchong/vrouter/pkg/common"
	"github.com/elliotchong/vrouter/pkg/ethernet"
	"github.com/elliotchong/vrouter/pkg/netif"
)

// Bounds mirroring original_source/sr_arp_table.h.
const (
	MaxEntries = 256 // ARP_MAX_ENTRIES
	TTLSeconds = 60  // ARP_TTL
	CheckEvery = 10  // ARP_CHECK_EVERY
	MaxTries   = 5   // ARP_MAX_TRIES
)

// entry is one slot in the fixed ARP table. An entry with a zero IP is
// free; (b) of the table invariants in spec.md section 4.4.
type entry struct {
	IP      common.IPv4Address
	MAC     common.MACAddress
	Iface   *netif.Record
	Tries   uint8
	Created int64
}

func (e *entry) free() bool {
	return e.IP.IsZero()
}

// Sender transmits a raw Ethernet frame on the named interface. Table calls
// through this seam instead of importing pkg/ethernet's socket code
// directly, so the cache is testable without a real interface.
type Sender interface {
	Send(frame []byte, ifaceName string) error
}

// Table is the router's fixed-capacity ARP cache: 256 slots, linear scan,
// no dynamic growth - grounded on original_source/sr_arp_table.c.
type Table struct {
	entries  [MaxEntries]entry
	sender   Sender
	lastScan int64
}

// NewTable returns an empty ARP table that sends probes through sender.
func NewTable(sender Sender) *Table {
	return &Table{sender: sender}
}

// Lookup scans the table for ip and reports the slot index along with
// whether that slot currently holds ip. If no slot holds ip, the index of
// the first free slot is returned with found=false; Lookup only returns
// ok=false if every slot is occupied by a different address, i.e. the table
// is full.
func (t *Table) Lookup(ip common.IPv4Address) (index int, found bool, ok bool) {
	firstFree := -1
	for i := range t.entries {
		e := &t.entries[i]
		if e.IP == ip {
			return i, true, true
		}
		if firstFree == -1 && e.free() {
			firstFree = i
		}
	}
	if firstFree == -1 {
		return 0, false, false
	}
	return firstFree, false, true
}

// Get returns the entry for ip if one is installed (matched exactly, not a
// free slot), along with whether it was found.
func (t *Table) Get(ip common.IPv4Address) (mac common.MACAddress, iface *netif.Record, tries uint8, found bool) {
	idx, matched, ok := t.Lookup(ip)
	if !ok || !matched {
		return common.MACAddress{}, nil, 0, false
	}
	e := &t.entries[idx]
	return e.MAC, e.Iface, e.Tries, true
}

// Set installs ip/mac/iface into the table, reusing a matching slot if one
// exists or the first free slot otherwise, and resets the retry count and
// creation time. It reports whether the table had room.
func (t *Table) Set(ip common.IPv4Address, mac common.MACAddress, iface *netif.Record, now int64) bool {
	idx, _, ok := t.Lookup(ip)
	if !ok {
		return false
	}
	t.entries[idx] = entry{IP: ip, MAC: mac, Iface: iface, Tries: 0, Created: now}
	return true
}

// Refresh builds and transmits a broadcast ARP request for ip on the named
// interface: destination MAC is the broadcast address, source MAC/IP are
// the interface's, and the target hardware address is left zeroed - the
// original copies whatever bytes sr_arp_get(ip) happens to hold, which for
// a freshly allocated slot is uninitialized memory; this implementation
// uses the documented fix of sending all-zero instead.
func (t *Table) Refresh(ip common.IPv4Address, iface *netif.Record) error {
	if iface == nil {
		return nil
	}

	arpReq := NewRequest(iface.MAC, iface.IP, common.MACAddress{}, ip)
	frame := ethernet.NewFrame(common.BroadcastMAC, iface.MAC, common.EtherTypeARP, arpReq.Serialize())

	return t.sender.Send(frame.Serialize(), iface.Name)
}

// ConvertRequestToReply rewrites an inbound ARP request frame into a reply
// in place and retransmits it on the arrival interface. If the request's
// target IP doesn't match the arrival interface's IP the frame is silently
// dropped, matching sr_arp_convert_request_response.
func (t *Table) ConvertRequestToReply(frame []byte, arrival *netif.Record) error {
	if len(frame) < ethernet.HeaderSize+PacketSize {
		return nil
	}

	arpOffset := ethernet.HeaderSize
	arp, err := Parse(frame[arpOffset:])
	if err != nil {
		return nil
	}
	if arp.TargetIP != arrival.IP {
		return nil
	}

	var srcMAC common.MACAddress
	copy(srcMAC[:], frame[6:12])
	copy(frame[0:6], srcMAC[:])       // ether dst = original ether src
	copy(frame[6:12], arrival.MAC[:]) // ether src = ours

	arp.TargetMAC = arp.SenderMAC
	arp.TargetIP = arp.SenderIP
	arp.SenderMAC = arrival.MAC
	arp.SenderIP = arrival.IP
	arp.Operation = OperationReply

	copy(frame[arpOffset:], arp.Serialize())

	return t.sender.Send(frame, arrival.Name)
}

// Scan probes every gateway in targets with a Refresh, mirroring
// sr_arp_scan's pass over the routing table at startup.
func (t *Table) Scan(targets []ScanTarget) {
	for _, target := range targets {
		if target.IP.IsZero() || target.Iface == nil {
			continue
		}
		_ = t.Refresh(target.IP, target.Iface)
	}
}

// ScanTarget is one gateway/interface pair to probe via Scan.
type ScanTarget struct {
	IP    common.IPv4Address
	Iface *netif.Record
}

// CheckAge is the periodic tick, gated by CheckEvery seconds since the last
// invocation that actually ran. Every occupied slot is handled according to
// which of the two states (spec.md section 4.7) it's currently in:
//
//   - Pending (MAC not yet learned): unresolved since the entry was first
//     referenced, so every tick re-broadcasts a request and counts as a
//     try, regardless of the entry's age. This is what makes
//     ARP_MAX_TRIES consecutive ticks (ARP_CHECK_EVERY apart) the bound on
//     how long a never-replying gateway is retried before the dispatcher
//     gives up on it - sr_arp_check_age can't drive this case at all,
//     since its single age>ARP_TTL gate (below) never fires for an entry
//     sr_arp_get never actually installed in the table (see sr_router.c's
//     sr_router_send: a lookup miss there buffers and refreshes without
//     ever calling sr_arp_set). Table.Set is called on a lookup miss
//     instead, to give this case a slot check_age can act on.
//   - Resolved (MAC learned, presumably tries == 0): ages out after
//     TTLSeconds exactly as sr_arp_check_age does for its one entry kind -
//     incrementing tries and re-broadcasting once the slot is older than
//     ARP_TTL. The MAC is cleared at that point rather than left in place,
//     moving the entry back to Pending (spec.md section 4.7: "reset to
//     Pending on the next refresh") so a caller sending through a now-
//     stale MAC doesn't keep using it.
func (t *Table) CheckAge(now int64) {
	if now-t.lastScan < CheckEvery {
		return
	}
	t.lastScan = now

	for i := range t.entries {
		e := &t.entries[i]
		if e.free() {
			continue
		}
		if e.MAC.IsZero() {
			e.Tries++
			_ = t.Refresh(e.IP, e.Iface)
			continue
		}
		if now-e.Created <= TTLSeconds {
			continue
		}
		e.Tries++
		e.MAC = common.MACAddress{}
		e.Created = now
		_ = t.Refresh(e.IP, e.Iface)
	}
}

// Clear empties the table, releasing every slot.
func (t *Table) Clear() {
	t.entries = [MaxEntries]entry{}
	t.lastScan = 0
}
