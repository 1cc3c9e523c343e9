// Package scsynth talks to the external synthesis engine: it allocates the
// engine-side resources (audio buses, node ids, the node group tree, sample
// buffers) and encodes the fire-and-forget UDP control messages the engine
// understands. It holds no scheduling state; the engine package decides what
// should sound, scsynth only says it on the wire.
package scsynth

import "sync"

type (
	// NodeID is the handle of one live voice or effect instance in the
	// synthesis engine. The scheduler's maps from NodeID to meaning are the
	// only record of what is sounding; losing one without freeing the node
	// leaks an audible voice.
	NodeID int32

	// BusID is the first channel of a stereo audio bus pair.
	BusID int32

	// GroupID is a node group in the engine's execution tree.
	GroupID int32

	// BufferID is a sample buffer in the engine.
	BufferID int32

	// Allocator hands out engine resource ids. Allocation is a plain counter
	// increment with no freelist: ids are cheap and the 32-bit space is large
	// relative to a session, so freeing numeric ranges is intentionally not
	// done (FreeGroup only maintains the group tree). The allocator is shared
	// by the transport and launcher goroutines and therefore locks.
	Allocator struct {
		mu         sync.Mutex
		nextBus    BusID
		nextNode   NodeID
		nextGroup  GroupID
		nextBuffer BufferID
		groups     map[GroupID]*groupNode
	}

	groupNode struct {
		parent   GroupID
		children []GroupID
	}
)

// The engine's fixed default group hierarchy. Everything the scheduler
// creates hangs under one of these.
const (
	GroupRoot    GroupID = 0
	GroupSynths  GroupID = 1
	GroupEffects GroupID = 2
	GroupMaster  GroupID = 3
)

const (
	// Buses 0 and 1 are the hardware stereo output; allocated pairs start
	// above them with some headroom for other fixed routing.
	firstBus BusID = 10

	firstNode   NodeID   = 1000
	firstGroup  GroupID  = 4
	firstBuffer BufferID = 0
)

// IDAllocator is the allocation surface the scheduling side uses: the seam
// for swapping in a reclaiming allocator without touching the mixer or the
// note scheduler. Group management stays on the concrete Allocator.
type IDAllocator interface {
	Bus() BusID
	Node() NodeID
	Buffer() BufferID
}

var _ IDAllocator = (*Allocator)(nil)

func NewAllocator() *Allocator {
	a := &Allocator{}
	a.reset()
	return a
}

// Bus allocates a stereo bus pair and returns the id of its first channel.
func (a *Allocator) Bus() BusID {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextBus
	a.nextBus += 2
	return id
}

// Node allocates a fresh node id.
func (a *Allocator) Node() NodeID {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextNode
	a.nextNode++
	return id
}

// Buffer allocates a fresh sample buffer id.
func (a *Allocator) Buffer() BufferID {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextBuffer
	a.nextBuffer++
	return id
}

// Group allocates a group id under the given parent. The parent must exist;
// unknown parents are treated as the root group.
func (a *Allocator) Group(parent GroupID) GroupID {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.groups[parent]; !ok {
		parent = GroupRoot
	}
	id := a.nextGroup
	a.nextGroup++
	a.groups[id] = &groupNode{parent: parent}
	p := a.groups[parent]
	p.children = append(p.children, id)
	return id
}

// FreeGroup removes a group and, recursively, all of its children from the
// tree, detaching it from its parent's child list. The default groups cannot
// be freed. It returns the ids of every removed group, depth first, so the
// caller can free the corresponding engine nodes.
func (a *Allocator) FreeGroup(id GroupID) []GroupID {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id < firstGroup {
		return nil
	}
	node, ok := a.groups[id]
	if !ok {
		return nil
	}
	if parent, ok := a.groups[node.parent]; ok {
		for i, child := range parent.children {
			if child == id {
				parent.children = append(parent.children[:i], parent.children[i+1:]...)
				break
			}
		}
	}
	return a.removeSubtree(id)
}

func (a *Allocator) removeSubtree(id GroupID) []GroupID {
	node := a.groups[id]
	var removed []GroupID
	for _, child := range node.children {
		removed = append(removed, a.removeSubtree(child)...)
	}
	delete(a.groups, id)
	return append(removed, id)
}

// Children returns the direct children of a group, for tests and diagnostics.
func (a *Allocator) Children(id GroupID) []GroupID {
	a.mu.Lock()
	defer a.mu.Unlock()
	node, ok := a.groups[id]
	if !ok {
		return nil
	}
	children := make([]GroupID, len(node.children))
	copy(children, node.children)
	return children
}

// Reset clears all allocator state back to the fixed default group hierarchy.
func (a *Allocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reset()
}

func (a *Allocator) reset() {
	a.nextBus = firstBus
	a.nextNode = firstNode
	a.nextGroup = firstGroup
	a.nextBuffer = firstBuffer
	a.groups = map[GroupID]*groupNode{
		GroupRoot:    {parent: GroupRoot, children: []GroupID{GroupSynths, GroupEffects, GroupMaster}},
		GroupSynths:  {parent: GroupRoot},
		GroupEffects: {parent: GroupRoot},
		GroupMaster:  {parent: GroupRoot},
	}
}
