// Command vrouter runs the router core against real network interfaces:
// it opens one raw AF_PACKET socket per configured interface, reads a
// routing table, and dispatches frames through pkg/router until it
// receives SIGINT/SIGTERM.
//
// Usage:
//
//	sudo vrouter -rtable rtable.txt -subnet 10.0.0.0 -mask 255.255.255.0 \
//	    -if eth0=10.0.0.1,00:00:00:00:00:01,1000000000 \
//	    -if eth1=192.168.1.1,00:00:00:00:00:02,1000000000
//
// Grounded on the teacher's examples/capture/main.go: plain flag parsing,
// an os.Geteuid() root check before opening raw sockets, and
// os/signal-driven graceful shutdown.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/elliotchong/vrouter/pkg/arpcache"
	"github.com/elliotchong/vrouter/pkg/common"
	"github.com/elliotchong/vrouter/pkg/ethernet"
	"github.com/elliotchong/vrouter/pkg/netif"
	"github.com/elliotchong/vrouter/pkg/netlog"
	"github.com/elliotchong/vrouter/pkg/router"
	"github.com/elliotchong/vrouter/pkg/routing"
)

// tickInterval is how often the dispatch loop calls Router.Tick to age the
// ARP cache and retry the backlog. The ARP age scan gates itself to once
// every arpcache.CheckEvery (10) seconds, so the shorter interval only
// makes backlog retries more frequent.
const tickInterval = 1 * time.Second

// ifaceSpec holds one parsed -if flag value: "name=ip,mac,speed".
type ifaceSpec struct {
	name  string
	ip    common.IPv4Address
	mac   common.MACAddress
	speed uint32
}

// ifaceFlags collects repeated -if flags; flag.Value lets a single flag
// name be passed more than once on the command line.
type ifaceFlags []ifaceSpec

func (f *ifaceFlags) String() string {
	return fmt.Sprintf("%v", []ifaceSpec(*f))
}

func (f *ifaceFlags) Set(value string) error {
	nameAndRest := strings.SplitN(value, "=", 2)
	if len(nameAndRest) != 2 {
		return fmt.Errorf("expected name=ip,mac,speed, got %q", value)
	}
	fields := strings.Split(nameAndRest[1], ",")
	if len(fields) != 3 {
		return fmt.Errorf("expected name=ip,mac,speed, got %q", value)
	}

	ip, err := common.ParseIPv4(fields[0])
	if err != nil {
		return fmt.Errorf("interface %s: invalid ip %q: %w", nameAndRest[0], fields[0], err)
	}
	mac, err := common.ParseMAC(fields[1])
	if err != nil {
		return fmt.Errorf("interface %s: invalid mac %q: %w", nameAndRest[0], fields[1], err)
	}
	speed, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return fmt.Errorf("interface %s: invalid speed %q: %w", nameAndRest[0], fields[2], err)
	}

	*f = append(*f, ifaceSpec{name: nameAndRest[0], ip: ip, mac: mac, speed: uint32(speed)})
	return nil
}

var (
	rtableFlag  = flag.String("rtable", "", "routing table file (required)")
	subnetFlag  = flag.String("subnet", "", "subnet this router filters inbound traffic to (required)")
	maskFlag    = flag.String("mask", "", "subnet mask for -subnet (required)")
	verboseFlag = flag.Bool("v", false, "verbose (debug-level) logging")
	ifaces      ifaceFlags
)

func init() {
	flag.Var(&ifaces, "if", "interface spec name=ip,mac,speed (repeatable)")
}

func main() {
	flag.Parse()
	netlog.SetVerbose(*verboseFlag)

	if os.Geteuid() != 0 {
		netlog.L.Fatal("vrouter requires root privileges to open raw sockets")
	}
	if *rtableFlag == "" || *subnetFlag == "" || *maskFlag == "" || len(ifaces) == 0 {
		flag.Usage()
		netlog.L.Fatal("vrouter: -rtable, -subnet, -mask, and at least one -if are required")
	}

	subnet, err := common.ParseIPv4(*subnetFlag)
	if err != nil {
		netlog.L.WithError(err).Fatal("invalid -subnet")
	}
	mask, err := common.ParseIPv4(*maskFlag)
	if err != nil {
		netlog.L.WithError(err).Fatal("invalid -mask")
	}

	routes := routing.NewTable()
	if err := routes.Load(*rtableFlag); err != nil {
		netlog.L.WithError(err).Fatal("loading routing table")
	}

	registry := netif.NewRegistry()
	sockets := make(map[string]*ethernet.Interface, len(ifaces))
	for _, spec := range ifaces {
		registry.Add(spec.name)
		registry.SetIP(spec.ip)
		registry.SetMAC(spec.mac)
		registry.SetSpeed(spec.speed)

		sock, err := ethernet.OpenInterface(spec.name)
		if err != nil {
			netlog.L.WithError(err).Fatalf("opening interface %s", spec.name)
		}
		defer sock.Close()
		sockets[spec.name] = sock

		netlog.L.Infof("interface %s: ip=%s mac=%s speed=%d", spec.name, spec.ip, spec.mac, spec.speed)
	}

	sender := &socketSender{sockets: sockets}
	r := router.New(registry, routes, subnet, mask, sender)
	defer r.Close()

	seedARPCache(r, registry, routes)

	type arrival struct {
		raw   []byte
		iface string
	}
	inbound := make(chan arrival, 256)

	for _, spec := range ifaces {
		sock := sockets[spec.name]
		name := spec.name
		go func() {
			for {
				frame, err := sock.ReadFrame()
				if err != nil {
					netlog.L.WithError(err).Warnf("reading from %s", name)
					continue
				}
				inbound <- arrival{raw: frame.Serialize(), iface: name}
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	netlog.L.Info("vrouter: dispatch loop running, press Ctrl+C to stop")
	for {
		select {
		case a := <-inbound:
			r.Handle(a.raw, a.iface, time.Now().Unix())
		case <-ticker.C:
			r.Tick(time.Now().Unix())
		case <-sigCh:
			netlog.L.Info("vrouter: shutting down")
			return
		}
	}
}

// seedARPCache probes every distinct gateway named by the routing table at
// startup, mirroring sr_arp_table.c's sr_arp_scan sweep over configured
// next hops rather than waiting for the first datagram to trigger a miss.
// Each gateway is installed as a Pending entry first, so the probe's
// eventual reply has a slot to resolve into.
func seedARPCache(r *router.Router, registry *netif.Registry, routes *routing.Table) {
	seen := make(map[common.IPv4Address]bool)
	var targets []arpcache.ScanTarget
	now := time.Now().Unix()

	for _, route := range routes.Routes() {
		if route.Gateway.IsZero() || seen[route.Gateway] {
			continue
		}
		seen[route.Gateway] = true

		iface := registry.FindByName(route.Iface)
		if iface == nil {
			netlog.L.Warnf("route to %s names unregistered interface %q, skipping ARP seed", route.Dest, route.Iface)
			continue
		}

		r.ARP.Set(route.Gateway, common.MACAddress{}, iface, now)
		targets = append(targets, arpcache.ScanTarget{IP: route.Gateway, Iface: iface})
	}

	r.ARP.Scan(targets)
}

// socketSender implements router.Sender over a set of open raw-socket
// interfaces, keyed by interface name.
type socketSender struct {
	sockets map[string]*ethernet.Interface
}

func (s *socketSender) Send(frame []byte, ifaceName string) error {
	sock, ok := s.sockets[ifaceName]
	if !ok {
		return fmt.Errorf("vrouter: unknown interface %q", ifaceName)
	}
	f, err := ethernet.Parse(frame)
	if err != nil {
		return fmt.Errorf("vrouter: re-parsing outbound frame: %w", err)
	}
	return sock.WriteFrame(f)
}
