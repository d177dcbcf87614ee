// Package backlog holds IPv4 datagrams whose next-hop ARP entry has not
// resolved yet. It is a fixed arena of slots threaded into a doubly linked
// list via integer indices (-1 as the "no slot" sentinel) rather than
// pointers, grounded on original_source/sr_buf.c and sr_buf.h.
package backlog

import "github.com/elliotchong/vrouter/pkg/ipstack"

// Bounds mirroring original_source/sr_buf.h.
const (
	Capacity            = 256   // BUFFSIZE
	SlotSize            = 11016 // QSIZE (11000) + QPADDING (16)
	StaleTimeoutSeconds = 6     // STALE_TIMEOUT
)

// slot is one arena entry: a private copy of a bundle's raw bytes, the
// bundle view overlaying that copy, and the doubly-linked-list threading.
// Mirrors sr_buf_entry/sr_buf_add's per-slot struct sr_bundle copy.
type slot struct {
	bundle  ipstack.Bundle
	raw     [SlotSize]byte
	created int64
	prev    int
	next    int
}

// Table is the router's fixed-capacity pending-packet backlog.
type Table struct {
	slots [Capacity]slot
	start int
	end   int
}

// NewTable returns an empty backlog with every slot free.
func NewTable() *Table {
	t := &Table{start: -1, end: -1}
	for i := range t.slots {
		t.slots[i].prev = -1
		t.slots[i].next = -1
	}
	return t
}

// alloc finds the first slot whose bundle isn't buffered, mirroring
// sr_buf_malloc's scan. Returns -1 if the arena is full.
func (t *Table) alloc() int {
	for i := range t.slots {
		if !t.slots[i].bundle.Buffered {
			return i
		}
	}
	return -1
}

// free resets a slot to its zero state: zeroed buffer, unbuffered bundle,
// detached from the list. Mirrors sr_buf_free.
func (t *Table) free(i int) {
	s := &t.slots[i]
	s.raw = [SlotSize]byte{}
	s.bundle = ipstack.Bundle{}
	s.created = 0
	s.prev = -1
	s.next = -1
}

// Add copies b's raw bytes into a free slot and appends it to the backlog,
// marking b as buffered. It reports whether the packet was accepted; a
// false return means the backlog is full and the packet was dropped. A
// bundle that is already buffered is a no-op (it's already in the list, or
// mid-resend) and reports true, mirroring sr_buf_add's own-buffered guard.
//
// The free-slot lookup happens and is checked before any slot is touched -
// the original dereferences the candidate slot's raw pointer before
// checking whether allocation actually succeeded.
func (t *Table) Add(b *ipstack.Bundle, now int64) bool {
	if b.Buffered {
		return true
	}

	idx := t.alloc()
	if idx == -1 {
		return false
	}

	s := &t.slots[idx]
	n := copy(s.raw[:], b.Raw)
	s.bundle = *b
	s.bundle.Rebind(s.raw[:n])
	s.bundle.Buffered = true
	s.created = now
	s.next = -1

	b.Buffered = true

	if t.start == -1 {
		s.prev = -1
		t.start = idx
	} else {
		t.slots[t.end].next = idx
		s.prev = t.end
	}
	t.end = idx

	return true
}

// Remove unlinks the slot at index i from the backlog and frees it.
// Mirrors sr_buf_remove.
func (t *Table) Remove(i int) {
	s := &t.slots[i]

	if s.next != -1 || s.prev != -1 {
		if t.end == i {
			t.end = s.prev
		}
		if t.start == i {
			t.start = s.next
		}
		prev, next := s.prev, s.next
		if next != -1 {
			t.slots[next].prev = prev
		}
		if prev != -1 {
			t.slots[prev].next = next
		}
	} else {
		t.start, t.end = -1, -1
	}

	t.free(i)
}

// SendFunc attempts to deliver a backlogged bundle and reports whether it
// should remain buffered: true means the attempt deferred again (its
// next-hop ARP entry is still unresolved) and the entry stays in the
// backlog; false means the entry is done - sent, or given up on with an
// ICMP unreachable - and should be removed. This collapses
// sr_router_send's int return (0 only on re-buffering, 1 for every other
// outcome including send failure and unreachable generation) into the
// single bit sr_clear_backlog actually branches on.
type SendFunc func(*ipstack.Bundle) (deferred bool)

// Drain walks the backlog from its oldest entry to its newest, removing
// any entry older than StaleTimeoutSeconds and otherwise handing it to
// send; entries send reports as still-deferred are left in place. The
// walk captures each entry's next pointer before send or removal can
// mutate it, mirroring sr_clear_backlog.
func (t *Table) Drain(now int64, send SendFunc) {
	i := t.start
	for i != -1 {
		s := &t.slots[i]
		next := s.next

		if now-s.created > StaleTimeoutSeconds {
			t.Remove(i)
		} else if !send(&s.bundle) {
			t.Remove(i)
		}

		i = next
	}
}

// Len reports the number of currently buffered entries, by walking the
// list - used by callers (and tests) that want to assert the invariant
// that list length equals the count of buffered slots.
func (t *Table) Len() int {
	n := 0
	for i := t.start; i != -1; i = t.slots[i].next {
		n++
	}
	return n
}

// Clear empties the backlog, releasing every slot.
func (t *Table) Clear() {
	*t = Table{start: -1, end: -1}
	for i := range t.slots {
		t.slots[i].prev = -1
		t.slots[i].next = -1
	}
}
