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

package quadtree

// NearestOptions alters the behaviour of nearest neighbor queries.
type NearestOptions[T any] struct {
	// MaxResults is the number of neighbors to find.  Zero or a value above
	// the tree's MaxResults means the tree's MaxResults.
	MaxResults int

	// MaxDistance, if positive, excludes entries farther than it from the
	// query point.  Zero means unbounded.
	MaxDistance float32

	// Predicate, if set, must accept an entry for it to be returned.
	Predicate Predicate[T]
}

// candidate is a heap slot of a nearest neighbor query.  dist is the squared
// distance from the query point to the entry's rectangle.
type candidate struct {
	dist  float32
	index EntryIndex
}

// nearestQuery carries the parameters of a nearest neighbor query down the
// recursion.
type nearestQuery[T any] struct {
	x, y    float32
	limit   int
	bounded bool
	maxDist float32
	pred    Predicate[T]
}

// QueryNearest returns up to the tree's MaxResults entries nearest to (x, y),
// ordered by ascending distance.
func (t *Quadtree[T]) QueryNearest(x, y float32) []Entry[T] {
	return t.QueryNearestWithOptions(x, y, NearestOptions[T]{})
}

// QueryNearestWithOptions returns the entries nearest to (x, y) ordered by
// ascending distance from the point to each entry's rectangle.  Entries at
// equal distance keep the order in which the traversal found them.
func (t *Quadtree[T]) QueryNearestWithOptions(x, y float32, opts NearestOptions[T]) []Entry[T] {
	if opts.MaxDistance < 0 {
		panic("negative distance")
	}
	q := nearestQuery[T]{
		x:     x,
		y:     y,
		limit: t.limit(opts.MaxResults),
		pred:  opts.Predicate,
	}
	if 0 < opts.MaxDistance {
		q.bounded = true
		q.maxDist = opts.MaxDistance * opts.MaxDistance
	}

	t.heap = t.heap[:0]
	t.nearest(root, q)

	// The heap is only partially ordered.
	mergeSort(t.heap, t.scratch[:len(t.heap)])

	t.results = t.results[:0]
	for _, c := range t.heap {
		t.results = append(t.results, t.entries[c.index])
	}
	return t.results
}

// nearest offers every entry of node n to the heap, then visits the children
// closest first, skipping those that cannot hold a better candidate.
func (t *Quadtree[T]) nearest(n NodeIndex, q nearestQuery[T]) {
	nd := &t.nodes[n]
	for e := nd.entries; e != NoEntry; e = t.entries[e].next {
		entry := &t.entries[e]
		dist := entry.Rect.DistanceSquared(q.x, q.y)
		if q.bounded && q.maxDist < dist {
			continue
		}
		if q.pred != nil && !q.pred(*entry) {
			continue
		}
		t.offer(candidate{dist: dist, index: e}, q.limit)
	}
	if nd.children == root {
		return
	}

	// insertion sort of the four children by box distance
	var (
		order [4]NodeIndex
		dists [4]float32
	)
	for i := 0; i < len(order); i++ {
		child := nd.children + NodeIndex(i)
		dist := t.nodes[child].bounds.DistanceSquared(q.x, q.y)
		j := i
		for ; 0 < j && dist < dists[j-1]; j-- {
			order[j], dists[j] = order[j-1], dists[j-1]
		}
		order[j], dists[j] = child, dist
	}

	// Children are sorted, so once one is out of reach the rest are too.
	for i, child := range order {
		if q.bounded && q.maxDist < dists[i] {
			break
		}
		if len(t.heap) == q.limit && t.heap[0].dist < dists[i] {
			break
		}
		t.nearest(child, q)
	}
}

// offer inserts c into the bounded max-heap, evicting the current farthest
// candidate if the heap is full and c is strictly closer.
func (t *Quadtree[T]) offer(c candidate, limit int) {
	if len(t.heap) < limit {
		t.heap = append(t.heap, c)
		t.up(len(t.heap) - 1)
		return
	}
	if c.dist < t.heap[0].dist {
		t.heap[0] = c
		t.down(0)
	}
}

func (t *Quadtree[T]) up(i int) {
	h := t.heap
	for 0 < i {
		parent := (i - 1) / 2
		if h[i].dist <= h[parent].dist {
			break
		}
		h[i], h[parent] = h[parent], h[i]
		i = parent
	}
}

func (t *Quadtree[T]) down(i int) {
	h := t.heap
	for {
		largest := i
		if left := 2*i + 1; left < len(h) && h[largest].dist < h[left].dist {
			largest = left
		}
		if right := 2*i + 2; right < len(h) && h[largest].dist < h[right].dist {
			largest = right
		}
		if largest == i {
			return
		}
		h[i], h[largest] = h[largest], h[i]
		i = largest
	}
}

// mergeSort stably sorts items by ascending distance using scratch, which
// must be at least as long as items, as the merge buffer.
func mergeSort(items, scratch []candidate) {
	if len(items) < 2 {
		return
	}
	mid := len(items) / 2
	mergeSort(items[:mid], scratch[:mid])
	mergeSort(items[mid:], scratch[mid:])

	copy(scratch, items)
	i, j, k := 0, mid, 0
	for i < mid && j < len(items) {
		if scratch[j].dist < scratch[i].dist {
			items[k] = scratch[j]
			j++
		} else {
			items[k] = scratch[i]
			i++
		}
		k++
	}
	k += copy(items[k:], scratch[i:mid])
	copy(items[k:], scratch[j:len(items)])
}
