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

import "strconv"

// Point is a location in the coordinate space of the tree.
type Point struct {
	X float32
	Y float32
}

// Rectangle is an axis-aligned rectangle anchored at its top-left corner.
// Smaller Y values are "top".
type Rectangle struct {
	X      float32
	Y      float32
	Width  float32
	Height float32
}

func (r Rectangle) String() string {
	return "[" + format(r.X) + "," + format(r.Y) + "," + format(r.Width) + "," + format(r.Height) + "]"
}

func format(f float32) string {
	return strconv.FormatFloat(float64(f), 'f', -1, 32)
}

// Center returns the midpoint of the rectangle.
func (r Rectangle) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// Contains reports whether other lies entirely within r. Edges are inclusive.
func (r Rectangle) Contains(other Rectangle) bool {
	return other.X >= r.X &&
		other.Y >= r.Y &&
		other.X+other.Width <= r.X+r.Width &&
		other.Y+other.Height <= r.Y+r.Height
}

// ContainsPoint reports whether (x, y) lies within r. Edges are inclusive.
func (r Rectangle) ContainsPoint(x, y float32) bool {
	return x >= r.X &&
		x <= r.X+r.Width &&
		y >= r.Y &&
		y <= r.Y+r.Height
}

// Intersects reports whether r and other share at least one point, so
// rectangles that only touch along an edge do intersect.
func (r Rectangle) Intersects(other Rectangle) bool {
	return r.X <= other.X+other.Width &&
		r.X+r.Width >= other.X &&
		r.Y <= other.Y+other.Height &&
		r.Y+r.Height >= other.Y
}

// IntersectsCircle reports whether the circle centered at (x, y) with the
// given radius touches r. The center is clamped to r and the squared
// distance to the clamped point is compared against the squared radius.
func (r Rectangle) IntersectsCircle(x, y, radius float32) bool {
	dx := x - clamp(x, r.X, r.X+r.Width)
	dy := y - clamp(y, r.Y, r.Y+r.Height)
	return dx*dx+dy*dy <= radius*radius
}

// DistanceSquared returns the squared distance from (x, y) to the closest
// point of r, which is zero when the point lies inside r.
func (r Rectangle) DistanceSquared(x, y float32) float32 {
	dx := axisDistance(x, r.X, r.X+r.Width)
	dy := axisDistance(y, r.Y, r.Y+r.Height)
	return dx*dx + dy*dy
}

func axisDistance(k, min, max float32) float32 {
	if k < min {
		return min - k
	}
	if k <= max {
		return 0
	}
	return k - max
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if hi < v {
		return hi
	}
	return v
}

// quadrant identifies one of the four children of a subdivided node.
// The ordinal of a quadrant is the offset of that child from the node's
// first child.
type quadrant int

const (
	nw quadrant = iota
	ne
	sw
	se
	none
)

// quadrantOf returns the child quadrant that wholly contains rect with
// respect to center, or none if rect straddles (or touches) either midline.
// A rectangle whose far edge lies exactly on a midline is not on the near
// side, while one whose near edge lies on it is on the far side.
func quadrantOf(rect Rectangle, center Point) quadrant {
	top := rect.Y+rect.Height < center.Y
	bottom := rect.Y >= center.Y
	left := rect.X+rect.Width < center.X
	right := rect.X >= center.X

	switch {
	case top && right:
		return ne
	case top && left:
		return nw
	case bottom && left:
		return sw
	case bottom && right:
		return se
	default:
		return none
	}
}

// split returns the bounds of the given quadrant of r.
func (r Rectangle) split(q quadrant) Rectangle {
	w, h := r.Width/2, r.Height/2
	switch q {
	case nw:
		return Rectangle{X: r.X, Y: r.Y, Width: w, Height: h}
	case ne:
		return Rectangle{X: r.X + w, Y: r.Y, Width: w, Height: h}
	case sw:
		return Rectangle{X: r.X, Y: r.Y + h, Width: w, Height: h}
	case se:
		return Rectangle{X: r.X + w, Y: r.Y + h, Width: w, Height: h}
	default:
		panic("invalid quadrant")
	}
}
