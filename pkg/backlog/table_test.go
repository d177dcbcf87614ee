package backlog

import (
	"testing"

	"github.com/elliotchong/vrouter/pkg/common"
	"github.com/elliotchong/vrouter/pkg/ipstack"
	"github.com/elliotchong/vrouter/pkg/netif"
)

func testBundle(t *testing.T, src, dst common.IPv4Address) *ipstack.Bundle {
	t.Helper()
	raw := make([]byte, ipstack.EthernetHeaderLen+ipstack.IPHeaderLen+8)
	raw[12], raw[13] = 0x08, 0x00
	ip := raw[ipstack.EthernetHeaderLen:]
	ip[0] = 0x45
	copy(ip[12:16], src[:])
	copy(ip[16:20], dst[:])
	return ipstack.NewBundle(raw, &netif.Record{Name: "eth0"})
}

func TestAddThenDrainRemovesOnSuccess(t *testing.T) {
	tbl := NewTable()
	b := testBundle(t, common.IPv4Address{10, 0, 0, 1}, common.IPv4Address{10, 0, 0, 2})

	if ok := tbl.Add(b, 100); !ok {
		t.Fatal("Add() = false, want true")
	}
	if !b.Buffered {
		t.Error("Add() did not mark the bundle buffered")
	}
	if got := tbl.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}

	// The bundle send receives lives in the backlog slot, which Remove
	// zeroes, so its source is read inside the callback.
	called := false
	var deliveredSrc common.IPv4Address
	tbl.Drain(100, func(bb *ipstack.Bundle) bool {
		called = true
		deliveredSrc = bb.Header.Source()
		return false // sent, remove it
	})

	if !called {
		t.Fatal("Drain() never invoked send")
	}
	if deliveredSrc != (common.IPv4Address{10, 0, 0, 1}) {
		t.Errorf("delivered bundle source = %s, want 10.0.0.1", deliveredSrc)
	}
	if got := tbl.Len(); got != 0 {
		t.Errorf("Len() after drain = %d, want 0", got)
	}
}

func TestDrainLeavesDeferredEntriesInPlace(t *testing.T) {
	tbl := NewTable()
	b := testBundle(t, common.IPv4Address{10, 0, 0, 1}, common.IPv4Address{10, 0, 0, 2})
	tbl.Add(b, 100)

	calls := 0
	tbl.Drain(101, func(bb *ipstack.Bundle) bool {
		calls++
		return true // still deferred
	})

	if calls != 1 {
		t.Fatalf("send called %d times, want 1", calls)
	}
	if got := tbl.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1 (entry should remain buffered)", got)
	}
}

func TestDrainRemovesStaleEntriesWithoutCallingSend(t *testing.T) {
	tbl := NewTable()
	b := testBundle(t, common.IPv4Address{10, 0, 0, 1}, common.IPv4Address{10, 0, 0, 2})
	tbl.Add(b, 0)

	called := false
	tbl.Drain(StaleTimeoutSeconds+1, func(bb *ipstack.Bundle) bool {
		called = true
		return true
	})

	if called {
		t.Error("Drain() called send for a stale entry, want silent removal")
	}
	if got := tbl.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0 after stale removal", got)
	}
}

func TestDrainCapturesNextBeforeRemoval(t *testing.T) {
	tbl := NewTable()
	for i := 0; i < 3; i++ {
		b := testBundle(t, common.IPv4Address{10, 0, 0, byte(i + 1)}, common.IPv4Address{10, 0, 0, 250})
		tbl.Add(b, 100)
	}

	var seen []common.IPv4Address
	tbl.Drain(100, func(bb *ipstack.Bundle) bool {
		seen = append(seen, bb.Header.Source())
		return false // remove every one of them
	})

	if len(seen) != 3 {
		t.Fatalf("send invoked %d times, want 3", len(seen))
	}
	want := []common.IPv4Address{{10, 0, 0, 1}, {10, 0, 0, 2}, {10, 0, 0, 3}}
	for i, w := range want {
		if seen[i] != w {
			t.Errorf("seen[%d] = %s, want %s (drain order must be oldest-first)", i, seen[i], w)
		}
	}
	if got := tbl.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0", got)
	}
}

func TestAddNoOpWhenAlreadyBuffered(t *testing.T) {
	tbl := NewTable()
	b := testBundle(t, common.IPv4Address{10, 0, 0, 1}, common.IPv4Address{10, 0, 0, 2})
	b.Buffered = true

	if ok := tbl.Add(b, 100); !ok {
		t.Fatal("Add() = false for an already-buffered bundle, want true (no-op)")
	}
	if got := tbl.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0 (bundle should not have entered this table's list)", got)
	}
}

func TestAddFailsWhenFull(t *testing.T) {
	tbl := NewTable()
	for i := 0; i < Capacity; i++ {
		b := testBundle(t, common.IPv4Address{10, 0, byte(i >> 8), byte(i)}, common.IPv4Address{10, 0, 0, 250})
		if ok := tbl.Add(b, 100); !ok {
			t.Fatalf("Add() = false at entry %d, want true (table not yet full)", i)
		}
	}

	overflow := testBundle(t, common.IPv4Address{9, 9, 9, 9}, common.IPv4Address{10, 0, 0, 250})
	if ok := tbl.Add(overflow, 100); ok {
		t.Error("Add() = true on a full table, want false (dropped)")
	}
	if got := tbl.Len(); got != Capacity {
		t.Errorf("Len() = %d, want %d", got, Capacity)
	}
}

func TestRemoveMiddleOfListPreservesNeighbors(t *testing.T) {
	tbl := NewTable()
	indices := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		b := testBundle(t, common.IPv4Address{10, 0, 0, byte(i + 1)}, common.IPv4Address{10, 0, 0, 250})
		tbl.Add(b, 100)
		indices = append(indices, tbl.end)
	}

	tbl.Remove(indices[1]) // remove the middle entry directly, bypassing Drain

	var seen []common.IPv4Address
	tbl.Drain(100, func(bb *ipstack.Bundle) bool {
		seen = append(seen, bb.Header.Source())
		return false
	})

	want := []common.IPv4Address{{10, 0, 0, 1}, {10, 0, 0, 3}}
	if len(seen) != len(want) {
		t.Fatalf("got %d surviving entries, want %d", len(seen), len(want))
	}
	for i, w := range want {
		if seen[i] != w {
			t.Errorf("seen[%d] = %s, want %s", i, seen[i], w)
		}
	}
}

func TestClearEmptiesBacklog(t *testing.T) {
	tbl := NewTable()
	b := testBundle(t, common.IPv4Address{10, 0, 0, 1}, common.IPv4Address{10, 0, 0, 2})
	tbl.Add(b, 100)

	tbl.Clear()

	if got := tbl.Len(); got != 0 {
		t.Errorf("Len() after Clear = %d, want 0", got)
	}
	if tbl.start != -1 || tbl.end != -1 {
		t.Errorf("start/end after Clear = %d/%d, want -1/-1", tbl.start, tbl.end)
	}
}
