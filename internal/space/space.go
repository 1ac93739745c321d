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

// Package space provides a synchronized, keyed store of rectangles on top of
// a quadtree.  Every object is addressed by a unique key, may carry an opaque
// string value and is optionally persisted so that the index survives a
// restart.  Unlike the bare quadtree, a Space may be shared by goroutines and
// the results it returns are copies that remain valid indefinitely.
package space

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/9rum/spatial/quadtree"
	"github.com/golang/glog"
	"github.com/google/btree"
	"github.com/tidwall/buntdb"
	"github.com/tidwall/gjson"
	"github.com/tidwall/match"
	"github.com/tidwall/sjson"
)

// Errors returned by a Space.  They are wrapped with the offending argument, so
// test for them with errors.Is.
var (
	ErrOutOfBounds     = errors.New("rectangle out of bounds")
	ErrCapacity        = errors.New("entry capacity exhausted")
	ErrNotFound        = errors.New("key not found")
	ErrUpdateDropped   = errors.New("update dropped the object")
	ErrInvalidArgument = errors.New("invalid argument")
)

const (
	// prefix is prepended to the key of every persisted object.
	prefix = "obj:"

	// degree is the degree of the key index.
	degree = 32
)

// Object is the payload stored with each rectangle.
type Object struct {
	Key   string
	Value string
}

// Item is a copy of a stored object together with its rectangle.
type Item struct {
	Index quadtree.EntryIndex
	Rect  quadtree.Rectangle
	Key   string
	Value string
}

// Options alters the behaviour of queries.
type Options struct {
	// MaxResults caps the number of results; zero means the tree's limit.
	MaxResults int

	// MaxDistance bounds nearest neighbor queries; zero means unbounded.
	MaxDistance float32

	// Match, if set, is a glob pattern the key of every result must match.
	Match string
}

// predicate returns the quadtree predicate for the key pattern, if any.
func (o Options) predicate() quadtree.Predicate[Object] {
	if o.Match == "" || o.Match == "*" {
		return nil
	}
	pattern := o.Match
	return func(entry quadtree.Entry[Object]) bool {
		return match.Match(entry.Data.Key, pattern)
	}
}

// Stats describes the occupancy of a Space.
type Stats struct {
	Nodes     int
	Entries   int
	HighWater int
	Free      int
	Bounds    quadtree.Rectangle
}

// handle maps a key to the entry that currently stores it.
type handle struct {
	key   string
	index quadtree.EntryIndex
}

func lessHandle(a, b handle) bool {
	return a.key < b.key
}

// Space is a keyed spatial index.
type Space struct {
	mu   sync.Mutex
	tree *quadtree.Quadtree[Object]
	keys *btree.BTreeG[handle]
	db   *buntdb.DB
}

// Open creates a new space covering bounds and backed by the buntdb database
// at path, which may be ":memory:".  Objects already persisted at path are
// loaded back; those that no longer fit are skipped.
func Open(path string, bounds quadtree.Rectangle, config quadtree.Config) (*Space, error) {
	if !valid(bounds) || bounds.Width == 0 || bounds.Height == 0 {
		return nil, fmt.Errorf("bounds %v: %w", bounds, ErrInvalidArgument)
	}
	if config.MaxNodes < 1 || config.MaxEntries < 1 || config.MaxResults < 1 {
		return nil, fmt.Errorf("config %+v: %w", config, ErrInvalidArgument)
	}
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	s := &Space{
		tree: quadtree.New[Object](bounds, config),
		keys: btree.NewG[handle](degree, lessHandle),
		db:   db,
	}
	if err := s.load(); err != nil {
		db.Close()
		return nil, err
	}
	glog.Infof("opened %s with %d objects", path, s.keys.Len())
	return s, nil
}

// load inserts every persisted object into the tree.
func (s *Space) load() error {
	return s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefix+"*", func(k, v string) bool {
			key := k[len(prefix):]
			rect, value, err := decode(v)
			if err != nil {
				glog.Warningf("skipping object %q: %v", key, err)
				return true
			}
			index, ok := s.tree.Insert(rect, Object{Key: key, Value: value})
			if !ok {
				glog.Warningf("skipping object %q: %v does not fit", key, rect)
				return true
			}
			s.keys.ReplaceOrInsert(handle{key: key, index: index})
			return true
		})
	})
}

// Close releases the underlying database.
func (s *Space) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Set stores rect and value under key, replacing the previous rectangle if
// key already exists.  If the new rectangle of an existing key cannot be
// stored, the old one is gone as well and the error wraps ErrUpdateDropped.
func (s *Space) Set(key string, rect quadtree.Rectangle, value string) (quadtree.EntryIndex, error) {
	if !valid(rect) {
		return quadtree.NoEntry, fmt.Errorf("rectangle %v: %w", rect, ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	object := Object{Key: key, Value: value}
	old, found := s.keys.Get(handle{key: key})
	if !found {
		index, ok := s.tree.Insert(rect, object)
		if !ok {
			return quadtree.NoEntry, s.insertError(rect)
		}
		s.keys.ReplaceOrInsert(handle{key: key, index: index})
		return index, s.persist(key, rect, value)
	}

	index, ok := s.tree.Update(old.index, rect, object)
	if !ok {
		s.keys.Delete(old)
		if err := s.unpersist(key); err != nil {
			glog.Warningf("forgetting object %q: %v", key, err)
		}
		return quadtree.NoEntry, fmt.Errorf("%w: %w", ErrUpdateDropped, s.insertError(rect))
	}
	s.keys.ReplaceOrInsert(handle{key: key, index: index})
	return index, s.persist(key, rect, value)
}

// insertError tells why the tree refused rect.
func (s *Space) insertError(rect quadtree.Rectangle) error {
	if !s.tree.Bounds().Contains(rect) {
		return fmt.Errorf("%v in %v: %w", rect, s.tree.Bounds(), ErrOutOfBounds)
	}
	return ErrCapacity
}

// Get returns the object stored under key.
func (s *Space) Get(key string) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, found := s.keys.Get(handle{key: key})
	if !found {
		return Item{}, fmt.Errorf("%q: %w", key, ErrNotFound)
	}
	entry, ok := s.tree.Get(h.index)
	if !ok {
		panic("key index out of sync")
	}
	return item(entry), nil
}

// Delete removes the object stored under key.
func (s *Space) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, found := s.keys.Delete(handle{key: key})
	if !found {
		return fmt.Errorf("%q: %w", key, ErrNotFound)
	}
	if !s.tree.Remove(h.index) {
		panic("key index out of sync")
	}
	return s.unpersist(key)
}

// Keys returns the keys matching the glob pattern in ascending order.
func (s *Space) Keys(pattern string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0)
	s.keys.Ascend(func(h handle) bool {
		if match.Match(h.key, pattern) {
			keys = append(keys, h.key)
		}
		return true
	})
	return keys
}

// Len returns the number of stored objects.
func (s *Space) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Len()
}

// QueryPoint returns the objects whose rectangle contains (x, y).
func (s *Space) QueryPoint(x, y float32, opts Options) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return items(s.tree.QueryPointWithOptions(x, y, quadtree.QueryOptions[Object]{
		MaxResults: opts.MaxResults,
		Predicate:  opts.predicate(),
	}))
}

// QueryRectangle returns the objects whose rectangle intersects rect.
func (s *Space) QueryRectangle(rect quadtree.Rectangle, opts Options) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return items(s.tree.QueryRectangleWithOptions(rect, quadtree.QueryOptions[Object]{
		MaxResults: opts.MaxResults,
		Predicate:  opts.predicate(),
	}))
}

// QueryCircle returns the objects whose rectangle intersects the circle
// centered at (x, y).
func (s *Space) QueryCircle(x, y, radius float32, opts Options) ([]Item, error) {
	if !(0 <= radius) {
		return nil, fmt.Errorf("radius %v: %w", radius, ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return items(s.tree.QueryCircleWithOptions(x, y, radius, quadtree.QueryOptions[Object]{
		MaxResults: opts.MaxResults,
		Predicate:  opts.predicate(),
	})), nil
}

// QueryNearest returns the objects nearest to (x, y) by ascending distance.
func (s *Space) QueryNearest(x, y float32, opts Options) ([]Item, error) {
	if !(0 <= opts.MaxDistance) {
		return nil, fmt.Errorf("max distance %v: %w", opts.MaxDistance, ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return items(s.tree.QueryNearestWithOptions(x, y, quadtree.NearestOptions[Object]{
		MaxResults:  opts.MaxResults,
		MaxDistance: opts.MaxDistance,
		Predicate:   opts.predicate(),
	})), nil
}

// Reset drops every object and re-roots the tree at bounds.
func (s *Space) Reset(bounds quadtree.Rectangle) error {
	if !valid(bounds) || bounds.Width == 0 || bounds.Height == 0 {
		return fmt.Errorf("bounds %v: %w", bounds, ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tree.Init(bounds)
	s.keys.Clear(false)
	return s.db.Update(func(tx *buntdb.Tx) error {
		var keys []string
		if err := tx.AscendKeys(prefix+"*", func(k, _ string) bool {
			keys = append(keys, k)
			return true
		}); err != nil {
			return err
		}
		for _, k := range keys {
			if _, err := tx.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Stats reports the occupancy of the underlying tree.
func (s *Space) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Nodes:     s.tree.NodeCount(),
		Entries:   s.tree.Len(),
		HighWater: s.tree.EntryCount(),
		Free:      s.tree.EntryCount() - s.tree.Len(),
		Bounds:    s.tree.Bounds(),
	}
}

func (s *Space) persist(key string, rect quadtree.Rectangle, value string) error {
	v, err := encode(rect, value)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	if err := s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(prefix+key, v, nil)
		return err
	}); err != nil {
		return fmt.Errorf("persist %q: %w", key, err)
	}
	return nil
}

func (s *Space) unpersist(key string) error {
	err := s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(prefix + key)
		return err
	})
	if err != nil && err != buntdb.ErrNotFound {
		return fmt.Errorf("unpersist %q: %w", key, err)
	}
	return nil
}

// encode renders a persisted object as {"x","y","w","h","value"}.
func encode(rect quadtree.Rectangle, value string) (v string, err error) {
	for _, field := range []struct {
		path  string
		value interface{}
	}{
		{"x", rect.X},
		{"y", rect.Y},
		{"w", rect.Width},
		{"h", rect.Height},
		{"value", value},
	} {
		if v, err = sjson.Set(v, field.path, field.value); err != nil {
			return
		}
	}
	return
}

func decode(v string) (rect quadtree.Rectangle, value string, err error) {
	if !gjson.Valid(v) {
		err = errors.New("invalid json")
		return
	}
	fields := gjson.GetMany(v, "x", "y", "w", "h", "value")
	for _, field := range fields[:4] {
		if field.Type != gjson.Number {
			err = errors.New("missing coordinate")
			return
		}
	}
	rect = quadtree.Rectangle{
		X:      float32(fields[0].Float()),
		Y:      float32(fields[1].Float()),
		Width:  float32(fields[2].Float()),
		Height: float32(fields[3].Float()),
	}
	if !valid(rect) {
		err = errors.New("negative size")
		return
	}
	value = fields[4].String()
	return
}

// valid reports whether rect has non-negative, non-NaN dimensions.
func valid(rect quadtree.Rectangle) bool {
	return 0 <= rect.Width && 0 <= rect.Height &&
		!math.IsNaN(float64(rect.X)) && !math.IsNaN(float64(rect.Y))
}

func item(entry quadtree.Entry[Object]) Item {
	return Item{
		Index: entry.Index,
		Rect:  entry.Rect,
		Key:   entry.Data.Key,
		Value: entry.Data.Value,
	}
}

// items copies a query result out of the tree's shared buffer.
func items(entries []quadtree.Entry[Object]) []Item {
	out := make([]Item, len(entries))
	for i, entry := range entries {
		out[i] = item(entry)
	}
	return out
}
