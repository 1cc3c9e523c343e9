package scsynth

import (
	"reflect"
	"testing"
)

func TestAllocatorBusesAreStereoPairsAboveHardware(t *testing.T) {
	a := NewAllocator()
	for i, expected := range []BusID{10, 12, 14, 16} {
		if got := a.Bus(); got != expected {
			t.Fatalf("bus %d: expected %d, got %d", i, expected, got)
		}
	}
}

func TestAllocatorNodesAreMonotonic(t *testing.T) {
	a := NewAllocator()
	prev := a.Node()
	for i := 0; i < 100; i++ {
		n := a.Node()
		if n != prev+1 {
			t.Fatalf("node after %d: expected %d, got %d", prev, prev+1, n)
		}
		prev = n
	}
}

func TestAllocatorGroupTree(t *testing.T) {
	a := NewAllocator()
	g1 := a.Group(GroupSynths)
	g2 := a.Group(g1)
	g3 := a.Group(g1)
	if g1 < 4 || g2 <= g1 || g3 <= g2 {
		t.Fatalf("group ids not monotonic above the defaults: %d %d %d", g1, g2, g3)
	}
	if got := a.Children(g1); !reflect.DeepEqual(got, []GroupID{g2, g3}) {
		t.Fatalf("children of %d: expected [%d %d], got %v", g1, g2, g3, got)
	}
	removed := a.FreeGroup(g1)
	if len(removed) != 3 {
		t.Fatalf("expected freeing %d to remove 3 groups, got %v", g1, removed)
	}
	if removed[len(removed)-1] != g1 {
		t.Fatalf("expected the freed group last (depth first), got %v", removed)
	}
	if got := a.Children(GroupSynths); len(got) != 0 {
		t.Fatalf("expected %d detached from its parent, still got children %v", g1, got)
	}
	if got := a.FreeGroup(g2); got != nil {
		t.Fatalf("expected freeing an already freed group to be a no-op, got %v", got)
	}
}

func TestAllocatorDefaultGroupsCannotBeFreed(t *testing.T) {
	a := NewAllocator()
	for _, g := range []GroupID{GroupRoot, GroupSynths, GroupEffects, GroupMaster} {
		if got := a.FreeGroup(g); got != nil {
			t.Fatalf("expected freeing default group %d to be refused, got %v", g, got)
		}
	}
	if got := a.Children(GroupRoot); !reflect.DeepEqual(got, []GroupID{GroupSynths, GroupEffects, GroupMaster}) {
		t.Fatalf("default hierarchy damaged: %v", got)
	}
}

func TestAllocatorReset(t *testing.T) {
	a := NewAllocator()
	a.Bus()
	a.Node()
	a.Buffer()
	a.Group(GroupEffects)
	a.Reset()
	if got := a.Bus(); got != 10 {
		t.Errorf("bus counter not reset: got %d", got)
	}
	if got := a.Node(); got != 1000 {
		t.Errorf("node counter not reset: got %d", got)
	}
	if got := a.Buffer(); got != 0 {
		t.Errorf("buffer counter not reset: got %d", got)
	}
	if got := a.Children(GroupEffects); len(got) != 0 {
		t.Errorf("group tree not reset: %v", got)
	}
}
