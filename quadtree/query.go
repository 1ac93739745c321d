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

// Predicate filters query results.  A nil Predicate accepts every entry.
type Predicate[T any] func(Entry[T]) bool

// QueryOptions alters the behaviour of point, rectangle and circle queries.
type QueryOptions[T any] struct {
	// MaxResults caps the number of results.  Zero or a value above the
	// tree's MaxResults means the tree's MaxResults.
	MaxResults int

	// Predicate, if set, must accept an entry for it to be returned.
	Predicate Predicate[T]
}

// limit returns the effective result cap for the requested one.
func (t *Quadtree[T]) limit(requested int) int {
	if requested <= 0 || t.config.MaxResults < requested {
		return t.config.MaxResults
	}
	return requested
}

// shape is the query region shared by the point, rectangle and circle
// queries.  Only one of the fields is meaningful, selected by kind.
type shape struct {
	kind   shapeKind
	rect   Rectangle
	x, y   float32
	radius float32
}

type shapeKind int

const (
	pointShape shapeKind = iota
	rectangleShape
	circleShape
)

// intersects tests the query region against a rectangle, which is either a
// node's bounds or an entry's rectangle.
func (s shape) intersects(r Rectangle) bool {
	switch s.kind {
	case pointShape:
		return r.ContainsPoint(s.x, s.y)
	case rectangleShape:
		return r.Intersects(s.rect)
	case circleShape:
		return r.IntersectsCircle(s.x, s.y, s.radius)
	default:
		panic("invalid shape")
	}
}

// QueryPoint returns every entry whose rectangle contains (x, y).
func (t *Quadtree[T]) QueryPoint(x, y float32) []Entry[T] {
	return t.QueryPointWithOptions(x, y, QueryOptions[T]{})
}

// QueryPointWithOptions returns the entries whose rectangle contains (x, y),
// filtered and capped by opts.
func (t *Quadtree[T]) QueryPointWithOptions(x, y float32, opts QueryOptions[T]) []Entry[T] {
	return t.query(shape{kind: pointShape, x: x, y: y}, opts)
}

// QueryRectangle returns every entry whose rectangle intersects rect.
func (t *Quadtree[T]) QueryRectangle(rect Rectangle) []Entry[T] {
	return t.QueryRectangleWithOptions(rect, QueryOptions[T]{})
}

// QueryRectangleWithOptions returns the entries whose rectangle intersects
// rect, filtered and capped by opts.
func (t *Quadtree[T]) QueryRectangleWithOptions(rect Rectangle, opts QueryOptions[T]) []Entry[T] {
	return t.query(shape{kind: rectangleShape, rect: rect}, opts)
}

// QueryCircle returns every entry whose rectangle intersects the circle
// centered at (x, y).  radius must not be negative.
func (t *Quadtree[T]) QueryCircle(x, y, radius float32) []Entry[T] {
	return t.QueryCircleWithOptions(x, y, radius, QueryOptions[T]{})
}

// QueryCircleWithOptions returns the entries whose rectangle intersects the
// circle centered at (x, y), filtered and capped by opts.
func (t *Quadtree[T]) QueryCircleWithOptions(x, y, radius float32, opts QueryOptions[T]) []Entry[T] {
	if radius < 0 {
		panic("negative radius")
	}
	return t.query(shape{kind: circleShape, x: x, y: y, radius: radius}, opts)
}

func (t *Quadtree[T]) query(s shape, opts QueryOptions[T]) []Entry[T] {
	t.results = t.results[:0]
	t.collect(root, s, t.limit(opts.MaxResults), opts.Predicate)
	return t.results
}

// collect appends the matching entries of the subtree rooted at n to the
// result buffer, visiting children in nw, ne, sw, se order.  It returns
// false once limit results have been gathered.
func (t *Quadtree[T]) collect(n NodeIndex, s shape, limit int, pred Predicate[T]) bool {
	nd := &t.nodes[n]
	if !s.intersects(nd.bounds) {
		return true
	}
	for e := nd.entries; e != NoEntry; e = t.entries[e].next {
		entry := &t.entries[e]
		if !s.intersects(entry.Rect) {
			continue
		}
		if pred != nil && !pred(*entry) {
			continue
		}
		t.results = append(t.results, *entry)
		if limit <= len(t.results) {
			return false
		}
	}
	if nd.children == root {
		return true
	}
	for q := nw; q <= se; q++ {
		if !t.collect(nd.children+NodeIndex(q), s, limit, pred) {
			return false
		}
	}
	return true
}
