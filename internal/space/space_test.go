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

package space

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/9rum/spatial/quadtree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var bounds = quadtree.Rectangle{X: 0, Y: 0, Width: 100, Height: 100}

func open(t *testing.T) *Space {
	t.Helper()
	s, err := Open(":memory:", bounds, quadtree.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func keys(items []Item) (out []string) {
	for _, item := range items {
		out = append(out, item.Key)
	}
	return
}

func TestSetGet(t *testing.T) {
	s := open(t)
	rect := quadtree.Rectangle{X: 10, Y: 20, Width: 5, Height: 5}
	index, err := s.Set("truck:1", rect, "red")
	require.NoError(t, err)
	require.Equal(t, quadtree.EntryIndex(1), index)

	item, err := s.Get("truck:1")
	require.NoError(t, err)
	require.Equal(t, Item{Index: index, Rect: rect, Key: "truck:1", Value: "red"}, item)

	_, err = s.Get("truck:2")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSetReplace(t *testing.T) {
	s := open(t)
	from := quadtree.Rectangle{X: 10, Y: 10, Width: 5, Height: 5}
	to := quadtree.Rectangle{X: 80, Y: 80, Width: 5, Height: 5}
	_, err := s.Set("truck:1", from, "red")
	require.NoError(t, err)
	_, err = s.Set("truck:1", to, "blue")
	require.NoError(t, err)

	require.Equal(t, 1, s.Len())
	require.Equal(t, []string{"truck:1"}, s.Keys("*"))
	require.Empty(t, s.QueryRectangle(from, Options{}))
	items := s.QueryRectangle(to, Options{})
	require.Len(t, items, 1)
	require.Equal(t, "blue", items[0].Value)
}

func TestSetErrors(t *testing.T) {
	s := open(t)
	_, err := s.Set("a", quadtree.Rectangle{X: 99, Y: 99, Width: 5, Height: 5}, "")
	require.ErrorIs(t, err, ErrOutOfBounds)
	require.Zero(t, s.Len())

	_, err = s.Set("a", quadtree.Rectangle{X: 10, Y: 10, Width: -1, Height: 5}, "")
	require.ErrorIs(t, err, ErrInvalidArgument)

	// a failed move drops the object
	_, err = s.Set("a", quadtree.Rectangle{X: 10, Y: 10, Width: 5, Height: 5}, "")
	require.NoError(t, err)
	_, err = s.Set("a", quadtree.Rectangle{X: 99, Y: 99, Width: 5, Height: 5}, "")
	require.ErrorIs(t, err, ErrUpdateDropped)
	require.ErrorIs(t, err, ErrOutOfBounds)
	_, err = s.Get("a")
	require.ErrorIs(t, err, ErrNotFound)
	require.Empty(t, s.Keys("*"))
}

func TestCapacity(t *testing.T) {
	s, err := Open(":memory:", bounds, quadtree.Config{MaxNodes: 16, MaxEntries: 2, MaxResults: 8})
	require.NoError(t, err)
	defer s.Close()

	rect := quadtree.Rectangle{X: 10, Y: 10, Width: 5, Height: 5}
	for _, key := range []string{"a", "b"} {
		_, err := s.Set(key, rect, "")
		require.NoError(t, err)
	}
	_, err = s.Set("c", rect, "")
	require.ErrorIs(t, err, ErrCapacity)

	// existing keys can still move
	_, err = s.Set("a", quadtree.Rectangle{X: 50, Y: 50, Width: 5, Height: 5}, "")
	require.NoError(t, err)

	require.NoError(t, s.Delete("b"))
	_, err = s.Set("c", rect, "")
	require.NoError(t, err)
}

func TestDelete(t *testing.T) {
	s := open(t)
	rect := quadtree.Rectangle{X: 10, Y: 10, Width: 5, Height: 5}
	_, err := s.Set("a", rect, "")
	require.NoError(t, err)

	require.NoError(t, s.Delete("a"))
	require.ErrorIs(t, s.Delete("a"), ErrNotFound)
	require.Empty(t, s.QueryPoint(12, 12, Options{}))
	require.Equal(t, Stats{Nodes: 1, Entries: 0, HighWater: 1, Free: 1, Bounds: bounds}, s.Stats())
}

func TestKeys(t *testing.T) {
	s := open(t)
	for _, key := range []string{"truck:2", "car:1", "truck:10", "truck:1"} {
		_, err := s.Set(key, quadtree.Rectangle{X: 1, Y: 1, Width: 1, Height: 1}, "")
		require.NoError(t, err)
	}
	require.Equal(t, []string{"car:1", "truck:1", "truck:10", "truck:2"}, s.Keys("*"))
	require.Equal(t, []string{"truck:1", "truck:10"}, s.Keys("truck:1*"))
	require.Empty(t, s.Keys("bus:*"))
}

func TestQueries(t *testing.T) {
	s := open(t)
	for i, rect := range []quadtree.Rectangle{
		{X: 25, Y: 25, Width: 10, Height: 10},
		{X: 75, Y: 25, Width: 10, Height: 10},
		{X: 25, Y: 75, Width: 10, Height: 10},
		{X: 75, Y: 75, Width: 10, Height: 10},
		{X: 45, Y: 45, Width: 10, Height: 10},
	} {
		kind := "car"
		if i%2 == 0 {
			kind = "truck"
		}
		_, err := s.Set(fmt.Sprintf("%s:%d", kind, i+1), rect, "")
		require.NoError(t, err)
	}

	require.Equal(t, []string{"truck:5"}, keys(s.QueryPoint(50, 50, Options{})))
	require.Equal(t, []string{"truck:5", "truck:1", "car:2", "truck:3", "car:4"}, keys(s.QueryRectangle(bounds, Options{})))
	require.Equal(t, []string{"truck:5", "truck:1", "truck:3"}, keys(s.QueryRectangle(bounds, Options{Match: "truck:*"})))
	require.Equal(t, []string{"truck:5", "truck:1"}, keys(s.QueryRectangle(bounds, Options{MaxResults: 2})))

	items, err := s.QueryCircle(30, 30, 5, Options{})
	require.NoError(t, err)
	require.Equal(t, []string{"truck:1"}, keys(items))
	_, err = s.QueryCircle(30, 30, -5, Options{})
	require.ErrorIs(t, err, ErrInvalidArgument)

	items, err = s.QueryNearest(90, 25, Options{MaxResults: 3})
	require.NoError(t, err)
	require.Equal(t, []string{"car:2", "truck:5", "car:4"}, keys(items))
	items, err = s.QueryNearest(90, 25, Options{MaxDistance: 10, Match: "truck:*"})
	require.NoError(t, err)
	require.Empty(t, items)
	_, err = s.QueryNearest(90, 25, Options{MaxDistance: -1})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestQueryResultsAreCopies(t *testing.T) {
	s := open(t)
	_, err := s.Set("a", quadtree.Rectangle{X: 10, Y: 10, Width: 5, Height: 5}, "")
	require.NoError(t, err)
	_, err = s.Set("b", quadtree.Rectangle{X: 80, Y: 80, Width: 5, Height: 5}, "")
	require.NoError(t, err)

	first := s.QueryPoint(12, 12, Options{})
	s.QueryPoint(82, 82, Options{})
	require.Equal(t, []string{"a"}, keys(first))
}

func TestReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "space.db")
	s, err := Open(path, bounds, quadtree.DefaultConfig())
	require.NoError(t, err)
	_, err = s.Set("a", quadtree.Rectangle{X: 10, Y: 10, Width: 5, Height: 5}, "")
	require.NoError(t, err)

	moved := quadtree.Rectangle{X: -100, Y: -100, Width: 50, Height: 50}
	require.ErrorIs(t, s.Reset(quadtree.Rectangle{Width: 0, Height: 10}), ErrInvalidArgument)
	require.NoError(t, s.Reset(moved))
	require.Zero(t, s.Len())
	require.Empty(t, s.Keys("*"))
	require.Equal(t, Stats{Nodes: 1, Bounds: moved}, s.Stats())
	require.NoError(t, s.Close())

	s, err = Open(path, bounds, quadtree.DefaultConfig())
	require.NoError(t, err)
	defer s.Close()
	require.Zero(t, s.Len())
}

func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "space.db")
	s, err := Open(path, bounds, quadtree.DefaultConfig())
	require.NoError(t, err)
	for key, rect := range map[string]quadtree.Rectangle{
		"a": {X: 10, Y: 10, Width: 5, Height: 5},
		"b": {X: 90, Y: 90, Width: 5, Height: 5},
		"c": {X: 50.5, Y: 0.25, Width: 1.5, Height: 0},
	} {
		_, err := s.Set(key, rect, "value of "+key)
		require.NoError(t, err)
	}
	require.NoError(t, s.Delete("c"))
	require.NoError(t, s.Close())

	s, err = Open(path, bounds, quadtree.DefaultConfig())
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, s.Keys("*"))
	item, err := s.Get("b")
	require.NoError(t, err)
	require.Equal(t, quadtree.Rectangle{X: 90, Y: 90, Width: 5, Height: 5}, item.Rect)
	require.Equal(t, "value of b", item.Value)
	require.NoError(t, s.Close())

	// objects outside smaller bounds are skipped
	s, err = Open(path, quadtree.Rectangle{Width: 50, Height: 50}, quadtree.DefaultConfig())
	require.NoError(t, err)
	defer s.Close()
	require.Equal(t, []string{"a"}, s.Keys("*"))
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(":memory:", quadtree.Rectangle{Width: -1, Height: 1}, quadtree.DefaultConfig())
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = Open(":memory:", bounds, quadtree.Config{})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDecode(t *testing.T) {
	for _, v := range []string{`not json`, `{}`, `{"x":1,"y":2,"w":3}`, `{"x":1,"y":2,"w":-3,"h":4}`, `{"x":"1","y":2,"w":3,"h":4}`} {
		_, _, err := decode(v)
		require.Error(t, err, v)
	}
	rect, value, err := decode(`{"x":1,"y":2,"w":3,"h":4.5,"value":"v"}`)
	require.NoError(t, err)
	require.Equal(t, quadtree.Rectangle{X: 1, Y: 2, Width: 3, Height: 4.5}, rect)
	require.Equal(t, "v", value)
}

func TestConcurrent(t *testing.T) {
	s := open(t)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("w%d:%d", w, i%10)
				_, err := s.Set(key, quadtree.Rectangle{X: float32(i % 90), Y: float32(w), Width: 5, Height: 5}, "")
				assert.NoError(t, err)
				for _, item := range s.QueryRectangle(quadtree.Rectangle{X: 0, Y: float32(w), Width: 100, Height: 0}, Options{Match: fmt.Sprintf("w%d:*", w)}) {
					assert.Equal(t, float32(w), item.Rect.Y)
				}
			}
		}(w)
	}
	wg.Wait()
	require.Equal(t, 80, s.Len())
}
