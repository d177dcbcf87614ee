// Package routing implements the router's forwarding table: an ordered list
// of routes and a prefix-match lookup (numerically largest matching prefix,
// with a default-route fallback) used to pick an outbound interface and
// next hop for a destination address.
package routing

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/elliotchong/vrouter/pkg/common"
)

// Route is one entry in the forwarding table.
type Route struct {
	Dest    common.IPv4Address
	Gateway common.IPv4Address
	Mask    common.IPv4Address
	Iface   string
}

// Table is an ordered, append-only list of routes. Entries are matched in
// insertion order and ties are broken numerically rather than by mask
// length - see Locate.
type Table struct {
	routes []Route
}

// NewTable returns an empty routing table.
func NewTable() *Table {
	return &Table{}
}

// Add appends a route to the table.
func (t *Table) Add(r Route) {
	t.routes = append(t.routes, r)
}

// Routes returns every entry in insertion order.
func (t *Table) Routes() []Route {
	return t.routes
}

// Load reads a routing table file in the four-whitespace-field-per-line
// format "dest gateway mask iface" and appends every entry it parses. It
// mirrors sr_load_rt: any line that fails to parse is a fatal configuration
// error, not a skip.
func (t *Table) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("routing: opening table file: %w", err)
	}
	defer f.Close()
	return t.load(f)
}

func (t *Table) load(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 4 {
			return fmt.Errorf("routing: line %d: expected 4 fields, got %d", lineNo, len(fields))
		}

		dest, err := common.ParseIPv4(fields[0])
		if err != nil {
			return fmt.Errorf("routing: line %d: invalid destination %q: %w", lineNo, fields[0], err)
		}
		gw, err := common.ParseIPv4(fields[1])
		if err != nil {
			return fmt.Errorf("routing: line %d: invalid gateway %q: %w", lineNo, fields[1], err)
		}
		mask, err := common.ParseIPv4(fields[2])
		if err != nil {
			return fmt.Errorf("routing: line %d: invalid mask %q: %w", lineNo, fields[2], err)
		}

		t.Add(Route{Dest: dest, Gateway: gw, Mask: mask, Iface: fields[3]})
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("routing: reading table file: %w", err)
	}
	return nil
}

// Locate returns the route that should handle traffic to ip, or nil if no
// route applies.
//
// This reproduces sr_rt_locate exactly, tie-break included: a route whose
// destination is 0.0.0.0 is remembered as the default route rather than
// compared as a prefix; among the remaining entries whose masked destination
// equals ip&mask, the one with the NUMERICALLY LARGEST masked prefix wins,
// not the one with the longest mask. On most configured topologies the two
// coincide, but they can diverge - a /24 with a masked prefix that happens
// to be numerically smaller than a competing /16's can lose to it. This is
// preserved rather than "fixed" to standard longest-prefix-match; see the
// design notes for why.
//
// A route whose mask is 255.255.255.255 (an exact host route) short-circuits
// the scan the moment it matches, same as the original.
func (t *Table) Locate(ip common.IPv4Address) *Route {
	if len(t.routes) == 0 {
		return nil
	}

	var defaultRoute *Route
	var best *Route
	var bestPrefix uint32
	haveBest := false

	ipVal := ip.ToUint32()

	for i := range t.routes {
		route := &t.routes[i]
		maskVal := route.Mask.ToUint32()
		destVal := route.Dest.ToUint32()

		if destVal == 0 {
			defaultRoute = route
			continue
		}

		prefix := destVal & maskVal
		if prefix != ipVal&maskVal {
			continue
		}

		if !haveBest || prefix > bestPrefix {
			bestPrefix = prefix
			best = route
			haveBest = true
			if maskVal == 0xFFFFFFFF {
				return best
			}
		}
	}

	if !haveBest {
		return defaultRoute
	}
	return best
}
