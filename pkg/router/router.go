// Package router wires the interface registry, routing table, ARP cache,
// and pending-packet backlog into the router's single dispatch entry
// point, grounded on original_source/sr_router.c.
package router

import (
	"fmt"

	"github.com/elliotchong/vrouter/pkg/arpcache"
	"github.com/elliotchong/vrouter/pkg/backlog"
	"github.com/elliotchong/vrouter/pkg/common"
	"github.com/elliotchong/vrouter/pkg/ethernet"
	"github.com/elliotchong/vrouter/pkg/ipstack"
	"github.com/elliotchong/vrouter/pkg/netif"
	"github.com/elliotchong/vrouter/pkg/netlog"
	"github.com/elliotchong/vrouter/pkg/routing"
)

// Sender transmits a raw Ethernet frame on a named local interface. Both
// Router and the arpcache.Table it owns call through this seam rather than
// importing pkg/ethernet directly, so the whole dispatcher is testable
// without a real socket.
type Sender interface {
	Send(frame []byte, ifaceName string) error
}

// Result is the outcome of an attempt to transmit a bundle, collapsing
// sr_router_send's int return (0 for re-buffered, nonzero for every other
// outcome) into the three cases the dispatcher actually distinguishes.
type Result int

// Possible outcomes of Router.Send.
const (
	ResultSent Result = iota
	ResultDeferred
	ResultError
)

// String returns a human-readable name for the result.
func (r Result) String() string {
	switch r {
	case ResultSent:
		return "Sent"
	case ResultDeferred:
		return "Deferred"
	case ResultError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Router is the router core: the interface registry, routing table, ARP
// cache, and backlog, plus the subnet filter and outgoing Sender. It holds
// no goroutines of its own - a caller serializes every Handle/Tick/Send
// call from a single loop, matching sr_handlepacket's single-threaded,
// run-to-completion dispatch.
type Router struct {
	Ifaces  *netif.Registry
	Routes  *routing.Table
	ARP     *arpcache.Table
	Backlog *backlog.Table

	sender Sender
	subnet common.IPv4Address
	mask   common.IPv4Address
}

// New returns a Router over the given interface registry and routing
// table, filtering inbound IPv4 traffic to subnet/mask and transmitting
// through sender.
func New(ifaces *netif.Registry, routes *routing.Table, subnet, mask common.IPv4Address, sender Sender) *Router {
	return &Router{
		Ifaces:  ifaces,
		Routes:  routes,
		ARP:     arpcache.NewTable(sender),
		Backlog: backlog.NewTable(),
		sender:  sender,
		subnet:  subnet,
		mask:    mask,
	}
}

// Handle processes one received frame, arrived on the named interface at
// time now. It parses the Ethernet header and dispatches on EtherType,
// mirroring sr_handlepacket's outer switch. now is a wall-clock second
// count, threaded through explicitly rather than read from the system
// clock so the dispatcher stays deterministic under test.
func (r *Router) Handle(raw []byte, ifaceName string, now int64) {
	iface := r.Ifaces.FindByName(ifaceName)
	if iface == nil {
		netlog.L.Fatalf("router: received a frame on unregistered interface %q", ifaceName)
	}

	frame, err := ethernet.Parse(raw)
	if err != nil {
		netlog.L.WithError(err).Warn("router: malformed ethernet frame")
		return
	}

	switch frame.EtherType {
	case common.EtherTypeIPv4:
		r.handleIP(raw, iface, now)
	case common.EtherTypeARP:
		r.handleARP(raw, iface, now)
	default:
		netlog.L.Debugf("router: unhandled ethertype %s on %s", frame.EtherType, ifaceName)
	}
}

// handleARP dispatches an inbound ARP frame: a request addressed to us is
// answered in place, a reply updates the cache and releases anything
// backlogged on it. Mirrors sr_handlepacket's ETHERTYPE_ARP case.
func (r *Router) handleARP(raw []byte, iface *netif.Record, now int64) {
	if len(raw) < ethernet.HeaderSize+arpcache.PacketSize {
		netlog.L.Debug("router: arp frame too short")
		return
	}
	pkt, err := arpcache.Parse(raw[ethernet.HeaderSize:])
	if err != nil {
		netlog.L.WithError(err).Debug("router: malformed arp packet")
		return
	}

	switch pkt.Operation {
	case arpcache.OperationRequest:
		netlog.L.Debugf("router: arp request for %s on %s", pkt.TargetIP, iface.Name)
		if err := r.ARP.ConvertRequestToReply(raw, iface); err != nil {
			netlog.L.WithError(err).Warn("router: failed replying to arp request")
		}
	case arpcache.OperationReply:
		netlog.L.Debugf("router: arp reply %s is at %s", pkt.SenderIP, pkt.SenderMAC)
		r.ARP.Set(pkt.SenderIP, pkt.SenderMAC, iface, now)
		r.drainBacklog(now)
	default:
		netlog.L.Debugf("router: unknown arp operation %d", pkt.Operation)
	}
}

// handleIP validates and routes an inbound IPv4 datagram, then drains the
// backlog and attempts to send it. Mirrors sr_handlepacket's ETHERTYPE_IP
// case: the subnet filter, checksum check, and TTL/ICMP/local/forward
// branch order are all load-bearing and reproduced in the same sequence.
func (r *Router) handleIP(raw []byte, iface *netif.Record, now int64) {
	if len(raw) < ethernet.HeaderSize+ipstack.IPHeaderLen {
		netlog.L.Debug("router: ip frame too short")
		return
	}

	b := ipstack.NewBundle(raw, iface)
	h := b.Header

	dst, src := h.Destination(), h.Source()
	subnetVal, maskVal := r.subnet.ToUint32(), r.mask.ToUint32()
	if dst.ToUint32()&subnetVal&maskVal != subnetVal && src.ToUint32()&subnetVal&maskVal != subnetVal {
		netlog.L.Debug("router: not for our subnet")
		return
	}

	if !h.VerifyChecksum() {
		netlog.L.Warn("router: ip checksum failed")
		return
	}

	rawLen := len(raw)
	switch {
	case h.TTL() <= 1:
		netlog.L.Debug("router: ttl expired, sending unreachable")
		if !r.buildUnreachable(b) {
			return
		}

	case h.Protocol() == common.ProtocolICMP:
		destIsLocal := r.Ifaces.FindByIP(dst) != nil
		switch ipstack.Classify(h, destIsLocal) {
		case ipstack.ActionEchoReply:
			ipstack.EchoReply(b, rawLen)
		case ipstack.ActionTraceroute:
			ipstack.Traceroute(b, rawLen, r.Ifaces.FindByIP(src))
		case ipstack.ActionForward:
			ipstack.Forward(b)
		case ipstack.ActionDrop:
			return
		}

	case r.Ifaces.FindByIP(dst) != nil:
		netlog.L.Debugf("router: non-ICMP datagram for our interface %s", iface.Name)
		if !r.buildUnreachable(b) {
			return
		}

	case h.Protocol() == common.ProtocolTCP || h.Protocol() == common.ProtocolUDP:
		ipstack.Forward(b)

	default:
		netlog.L.Debugf("router: dropping unsupported protocol %s", h.Protocol())
		return
	}

	r.drainBacklog(now)
	if _, err := r.Send(b, now); err != nil {
		netlog.L.WithError(err).Debug("router: send failed")
	}
}

// buildUnreachable locates the route that would have carried b's current
// destination onward and rewrites b in place into an ICMP time-exceeded
// reply addressed back to the original sender, using that route's
// outgoing interface address as described in spec.md section 4.6. It
// reports whether the rewrite happened; false means no route exists for
// the original destination and b should be dropped untouched.
func (r *Router) buildUnreachable(b *ipstack.Bundle) bool {
	origDst := b.Header.Destination()
	route := r.Routes.Locate(origDst)
	if route == nil {
		netlog.L.Warnf("router: no route to %s, dropping undeliverable datagram", origDst)
		return false
	}
	outIface := r.Ifaces.FindByName(route.Iface)
	if outIface == nil {
		netlog.L.Warnf("router: route to %s names unregistered interface %q", origDst, route.Iface)
		return false
	}

	ipstack.Unreachable(b, outIface.IP)
	return true
}

// drainBacklog hands every backlogged bundle whose age is within the
// backlog's stale timeout to Send, translating Result into the
// deferred/not-deferred bit backlog.Table.Drain acts on.
func (r *Router) drainBacklog(now int64) {
	r.Backlog.Drain(now, func(b *ipstack.Bundle) bool {
		result, err := r.Send(b, now)
		if err != nil {
			netlog.L.WithError(err).Debug("router: dropping backlogged datagram")
		}
		return result == ResultDeferred
	})
}

// Send attempts to transmit b to its IP destination, implementing
// sr_router_send's ARP state machine (spec.md section 4.7):
//
//   - Unknown (no cache entry yet): a Pending placeholder is installed
//     (see DESIGN.md's fourth open-question resolution for why, since the
//     original never does this), the bundle is buffered, and a probe is
//     sent; reports Deferred.
//   - Failed (tries >= ARP_MAX_TRIES): an ICMP unreachable is synthesized
//     in place and resent for its own (different) destination; if that
//     destination's own next hop has also exhausted its tries, reports
//     Error.
//   - Pending (tries > 0, not yet failed): the bundle is buffered again;
//     reports Deferred.
//   - Still Pending (tries == 0 but the mac is still the zero placeholder,
//     i.e. the probe hasn't been answered yet): the bundle is buffered
//     again; reports Deferred.
//   - Resolved (tries == 0, mac known): the frame's Ethernet addresses are
//     set and it is transmitted; reports Sent, or Error if the send fails.
func (r *Router) Send(b *ipstack.Bundle, now int64) (Result, error) {
	dst := b.Header.Destination()
	route := r.Routes.Locate(dst)
	if route == nil {
		netlog.L.Warnf("router: no route to %s", dst)
		return ResultError, fmt.Errorf("router: no route to %s", dst)
	}

	mac, arpIface, tries, found := r.ARP.Get(route.Gateway)

	if !found {
		netlog.L.Debugf("router: arp unresolved for %s, buffering datagram to %s", route.Gateway, dst)
		outIface := r.Ifaces.FindByName(route.Iface)
		if outIface == nil {
			return ResultError, fmt.Errorf("router: route to %s names unregistered interface %q", dst, route.Iface)
		}
		r.ARP.Set(route.Gateway, common.MACAddress{}, outIface, now)
		if !r.Backlog.Add(b, now) {
			netlog.L.Warnf("router: backlog full, dropping datagram to %s", dst)
		}
		_ = r.ARP.Refresh(route.Gateway, outIface)
		return ResultDeferred, nil
	}

	if tries >= arpcache.MaxTries {
		netlog.L.Warnf("router: out of arp tries for %s", route.Gateway)
		if !r.buildUnreachable(b) {
			return ResultError, fmt.Errorf("router: could not build unreachable for %s", dst)
		}

		newDst := b.Header.Destination()
		newRoute := r.Routes.Locate(newDst)
		if newRoute == nil {
			return ResultError, fmt.Errorf("router: no route to %s", newDst)
		}
		_, _, newTries, newFound := r.ARP.Get(newRoute.Gateway)
		if newFound && newTries >= arpcache.MaxTries {
			netlog.L.Warn("router: aborting, next hop for the unreachable reply has also exhausted its tries")
			return ResultError, fmt.Errorf("router: arp retries exhausted for %s", newRoute.Gateway)
		}
		return r.Send(b, now)
	}

	if tries > 0 {
		netlog.L.Debugf("router: arp entry for %s still refreshing (tries %d), buffering", route.Gateway, tries)
		if !r.Backlog.Add(b, now) {
			netlog.L.Warnf("router: backlog full, dropping datagram to %s", dst)
		}
		return ResultDeferred, nil
	}

	if mac.IsZero() {
		netlog.L.Debugf("router: arp entry for %s still pending, buffering", route.Gateway)
		if !r.Backlog.Add(b, now) {
			netlog.L.Warnf("router: backlog full, dropping datagram to %s", dst)
		}
		return ResultDeferred, nil
	}

	b.SetEthernetAddresses(mac, arpIface.MAC)
	if err := r.sender.Send(b.Raw, arpIface.Name); err != nil {
		netlog.L.WithError(err).Warnf("router: send on %s failed", arpIface.Name)
		return ResultError, err
	}
	return ResultSent, nil
}

// Tick runs the router's periodic maintenance: aging the ARP cache (which
// may push entries into or out of their retry budget) and draining
// anything in the backlog that can now make progress.
func (r *Router) Tick(now int64) {
	r.ARP.CheckAge(now)
	r.drainBacklog(now)
}

// Close releases the router's runtime state. The interface registry and
// routing table are cleared too, since callers construct a fresh Router
// for a fresh configuration rather than reusing one across a reload.
func (r *Router) Close() {
	r.ARP.Clear()
	r.Backlog.Clear()
	r.Ifaces.Clear()
	r.Routes = routing.NewTable()
}
