// Copyright 2022 Sogang University
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package quadtree implements a bounded-memory quadtree of axis-aligned
// rectangles.
//
// All storage is allocated when the tree is created: a fixed array of nodes,
// a fixed array of entries and the buffers that queries write their results
// to.  Relationships between nodes and entries are integer indices into those
// arrays rather than pointers, so after construction no operation allocates
// and nothing is left for the garbage collector.
//
// Each node keeps its entries in an intrusive doubly-linked list threaded
// through the entry array, which makes removal O(1).  Removed entry slots are
// pushed onto a singly-linked free list and handed out again by the next
// insertion.  A leaf is split into four quadrants once it holds
// SubdivisionThreshold entries; entries that straddle a midline stay at the
// node they are in.  Nodes are never merged back, even when every descendant
// becomes empty.
//
// A Quadtree is not safe for concurrent use.  Every query overwrites the same
// result buffer, so a returned slice is only valid until the next query.
package quadtree

import "github.com/golang/glog"

// SubdivisionThreshold is the number of entries a leaf holds before it is
// split on the next insertion.
const SubdivisionThreshold = 4

// EntryIndex addresses a slot in the entry arena.  NoEntry terminates lists.
type EntryIndex int32

// NodeIndex addresses a slot in the node arena.  The root is always 0, which
// is why 0 also means "no children" in a node's child field.
type NodeIndex int32

const (
	// NoEntry is the sentinel "no entry" index.  Valid entries start at 1.
	NoEntry EntryIndex = 0

	// root is the index of the root node.
	root NodeIndex = 0

	// freeNode marks an entry that sits on the free list.
	freeNode NodeIndex = -1
)

// Config holds the capacities fixed at construction.
type Config struct {
	// MaxNodes is the size of the node arena, root included.
	MaxNodes int

	// MaxEntries is the maximum number of live entries.
	MaxEntries int

	// MaxResults is the size of the shared result buffer and hence the
	// absolute cap on the length of any query result.
	MaxResults int
}

// DefaultConfig returns the capacities used when none are given.
func DefaultConfig() Config {
	return Config{
		MaxNodes:   1 << 12,
		MaxEntries: 1 << 14,
		MaxResults: 1 << 8,
	}
}

// Entry is a rectangle stored in the tree together with its payload.
type Entry[T any] struct {
	Index EntryIndex
	Rect  Rectangle
	Data  T

	node NodeIndex
	next EntryIndex
	prev EntryIndex
}

// Node returns the index of the node that holds the entry.
func (e Entry[T]) Node() NodeIndex {
	return e.node
}

// node is a single cell of the tree.
//
// It must at all times maintain the invariant that either
//   - children == 0 (a leaf), or
//   - children..children+3 are its four quadrants in nw, ne, sw, se order.
type node struct {
	bounds   Rectangle
	center   Point
	entries  EntryIndex
	count    int32
	children NodeIndex
}

// Quadtree is a fixed-capacity spatial index of rectangles carrying a
// payload of type T.
type Quadtree[T any] struct {
	config     Config
	nodes      []node
	entries    []Entry[T]
	nodeCount  int
	entryCount int
	nextFree   EntryIndex
	size       int

	results []Entry[T]
	heap    []candidate
	scratch []candidate
}

// New creates a new quadtree covering bounds, allocating every arena and
// buffer up front.
func New[T any](bounds Rectangle, config Config) *Quadtree[T] {
	if config.MaxNodes < 1 || config.MaxEntries < 1 || config.MaxResults < 1 {
		panic("bad config")
	}
	t := &Quadtree[T]{
		config:  config,
		nodes:   make([]node, config.MaxNodes),
		entries: make([]Entry[T], config.MaxEntries+1),
		results: make([]Entry[T], 0, config.MaxResults),
		heap:    make([]candidate, 0, config.MaxResults),
		scratch: make([]candidate, config.MaxResults),
	}
	t.Init(bounds)
	return t
}

// Init resets the tree to a single empty root covering bounds.  The arenas
// are reused as they are; stale slots are overwritten when handed out again.
func (t *Quadtree[T]) Init(bounds Rectangle) {
	if !(0 < bounds.Width && 0 < bounds.Height) {
		panic("bad bounds")
	}
	t.nodes[root] = node{bounds: bounds, center: bounds.Center()}
	t.nodeCount = 1
	t.entryCount = 0
	t.nextFree = NoEntry
	t.size = 0
	t.results = t.results[:0]
	t.heap = t.heap[:0]
}

// Bounds returns the bounds of the root node.
func (t *Quadtree[T]) Bounds() Rectangle {
	return t.nodes[root].bounds
}

// Config returns the capacities the tree was created with.
func (t *Quadtree[T]) Config() Config {
	return t.config
}

// Len returns the number of live entries.
func (t *Quadtree[T]) Len() int {
	return t.size
}

// NodeCount returns the number of nodes in use.  Nodes are never released,
// so this only grows until the next Init.
func (t *Quadtree[T]) NodeCount() int {
	return t.nodeCount
}

// EntryCount returns the high-water mark of the entry arena: the largest
// entry index ever handed out since the last Init.
func (t *Quadtree[T]) EntryCount() int {
	return t.entryCount
}

// FreeHead returns the entry slot the next insertion will reuse, or NoEntry
// if the free list is empty.
func (t *Quadtree[T]) FreeHead() EntryIndex {
	return t.nextFree
}

// Get returns the live entry at index.
func (t *Quadtree[T]) Get(index EntryIndex) (_ Entry[T], _ bool) {
	if !t.live(index) {
		return
	}
	return t.entries[index], true
}

// live reports whether index addresses an entry currently stored in a node.
func (t *Quadtree[T]) live(index EntryIndex) bool {
	return NoEntry < index && int(index) <= t.entryCount && t.entries[index].node != freeNode
}

// full reports whether no entry slot can be handed out.
func (t *Quadtree[T]) full() bool {
	return t.nextFree == NoEntry && t.config.MaxEntries <= t.entryCount
}

// nextIndex pops the head of the free list, or grows the high-water mark if
// the free list is empty.  Callers must check full first.
func (t *Quadtree[T]) nextIndex() (index EntryIndex) {
	if t.nextFree != NoEntry {
		index = t.nextFree
		t.nextFree = t.entries[index].next
		return
	}
	t.entryCount++
	return EntryIndex(t.entryCount)
}

// pushFront links entry e at the head of node n's list.
func (t *Quadtree[T]) pushFront(n NodeIndex, e EntryIndex) {
	nd := &t.nodes[n]
	entry := &t.entries[e]
	entry.node = n
	entry.prev = NoEntry
	entry.next = nd.entries
	if nd.entries != NoEntry {
		t.entries[nd.entries].prev = e
	}
	nd.entries = e
	nd.count++
}

// unlink detaches entry e from the list of the node that holds it.
func (t *Quadtree[T]) unlink(e EntryIndex) {
	entry := &t.entries[e]
	nd := &t.nodes[entry.node]
	if entry.prev != NoEntry {
		t.entries[entry.prev].next = entry.next
	} else {
		nd.entries = entry.next
	}
	if entry.next != NoEntry {
		t.entries[entry.next].prev = entry.prev
	}
	entry.next, entry.prev = NoEntry, NoEntry
	nd.count--
}

// subdivide splits leaf n into four quadrants and moves every entry that
// fits wholly in one quadrant down into it.  It returns false, leaving n a
// leaf, if the node arena cannot hold four more nodes.
func (t *Quadtree[T]) subdivide(n NodeIndex) bool {
	if t.nodes[n].children != root {
		panic("node already subdivided")
	}
	if len(t.nodes) < t.nodeCount+4 {
		if glog.V(2) {
			glog.Infof("node arena exhausted at %d nodes, keeping node %d a leaf", t.nodeCount, n)
		}
		return false
	}

	first := NodeIndex(t.nodeCount)
	t.nodeCount += 4
	bounds := t.nodes[n].bounds
	for q := nw; q <= se; q++ {
		b := bounds.split(q)
		t.nodes[first+NodeIndex(q)] = node{bounds: b, center: b.Center()}
	}
	t.nodes[n].children = first

	center := t.nodes[n].center
	for e := t.nodes[n].entries; e != NoEntry; {
		next := t.entries[e].next
		if q := quadrantOf(t.entries[e].Rect, center); q != none {
			t.unlink(e)
			t.pushFront(first+NodeIndex(q), e)
		}
		e = next
	}
	return true
}

// Insert adds rect with the given payload to the tree and returns the index
// of the new entry, which stays valid until the entry is removed.  It fails
// without modifying the tree if rect has a negative size, is not contained in
// the root's bounds or the entry arena is exhausted.
func (t *Quadtree[T]) Insert(rect Rectangle, data T) (EntryIndex, bool) {
	if !(0 <= rect.Width && 0 <= rect.Height) || !t.nodes[root].bounds.Contains(rect) {
		return NoEntry, false
	}
	if t.full() {
		if glog.V(1) {
			glog.Infof("entry arena exhausted at %d entries", t.entryCount)
		}
		return NoEntry, false
	}

	n := t.descend(root, rect)
	index := t.nextIndex()
	entry := &t.entries[index]
	entry.Index = index
	entry.Rect = rect
	entry.Data = data
	t.pushFront(n, index)
	t.size++
	return index, true
}

// descend returns the node rect should be stored at, subdividing full leaves
// on the way down.
func (t *Quadtree[T]) descend(n NodeIndex, rect Rectangle) NodeIndex {
	for {
		nd := &t.nodes[n]
		if nd.children == root {
			if nd.count < SubdivisionThreshold {
				return n
			}
			if !t.subdivide(n) {
				return n
			}
		}
		q := quadrantOf(rect, nd.center)
		if q == none {
			return n
		}
		n = nd.children + NodeIndex(q)
	}
}

// Remove deletes the entry at index and recycles its slot.  It returns false
// without modifying the tree if index does not address a live entry.
func (t *Quadtree[T]) Remove(index EntryIndex) bool {
	if !t.live(index) {
		return false
	}
	t.unlink(index)
	entry := &t.entries[index]
	entry.node = freeNode
	entry.next = t.nextFree
	var zero T
	entry.Data = zero
	t.nextFree = index
	t.size--
	return true
}

// Update moves the entry at index to rect with a new payload, returning the
// index of the resulting entry.  It is a Remove followed by an Insert: if the
// removal fails nothing changes, but if the insertion fails the original
// entry is already gone and ok is false.
func (t *Quadtree[T]) Update(index EntryIndex, rect Rectangle, data T) (EntryIndex, bool) {
	if !t.Remove(index) {
		return NoEntry, false
	}
	return t.Insert(rect, data)
}
