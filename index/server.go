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

// Package index implements the Index gRPC service, which exposes a space of
// keyed rectangles to remote clients.  Requests and replies are
// google.protobuf.Struct messages whose fields are listed on IndexClient.
package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/9rum/spatial/internal/space"
	"github.com/9rum/spatial/quadtree"
	"github.com/golang/glog"
	"github.com/golang/protobuf/ptypes/empty"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// indexServer implements the server API for Index service.
type indexServer struct {
	UnimplementedIndexServer
	space *space.Space
	done  chan<- os.Signal
	once  sync.Once
}

// NewIndexServer creates a new index server over the given space.  Finalize
// closes done to tell the owner of the gRPC server to stop it.
func NewIndexServer(s *space.Space, done chan<- os.Signal) IndexServer {
	return &indexServer{
		space: s,
		done:  done,
	}
}

// Init drops every object and re-roots the index.
func (s *indexServer) Init(ctx context.Context, in *structpb.Struct) (*empty.Empty, error) {
	bounds, err := rectangle(in)
	if err != nil {
		return nil, err
	}
	glog.Infof("Init called with bounds: %v", bounds)

	if err = s.space.Reset(bounds); err != nil {
		return nil, statusError(err)
	}
	return new(empty.Empty), nil
}

// Set stores an object and replies the index of its entry.
func (s *indexServer) Set(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	key, err := str(in, "key")
	if err != nil {
		return nil, err
	}
	rect, err := rectangle(in)
	if err != nil {
		return nil, err
	}
	value := in.GetFields()["value"].GetStringValue()
	glog.Infof("Set called with key: %s rect: %v", key, rect)

	index, err := s.space.Set(key, rect, value)
	if err != nil {
		return nil, statusError(err)
	}
	return structpb.NewStruct(map[string]interface{}{"index": int64(index)})
}

// Get replies the object stored under a key.
func (s *indexServer) Get(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	key, err := str(in, "key")
	if err != nil {
		return nil, err
	}
	glog.Infof("Get called with key: %s", key)

	item, err := s.space.Get(key)
	if err != nil {
		return nil, statusError(err)
	}
	return structpb.NewStruct(map[string]interface{}{"item": fields(item)})
}

// Delete removes the object stored under a key.
func (s *indexServer) Delete(ctx context.Context, in *structpb.Struct) (*empty.Empty, error) {
	key, err := str(in, "key")
	if err != nil {
		return nil, err
	}
	glog.Infof("Delete called with key: %s", key)

	if err = s.space.Delete(key); err != nil {
		return nil, statusError(err)
	}
	return new(empty.Empty), nil
}

// QueryPoint replies the objects containing a point.
func (s *indexServer) QueryPoint(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	x, y, err := point(in)
	if err != nil {
		return nil, err
	}
	opts, err := options(in)
	if err != nil {
		return nil, err
	}
	glog.Infof("QueryPoint called with x: %v y: %v", x, y)

	return reply(s.space.QueryPoint(x, y, opts), nil)
}

// QueryRectangle replies the objects intersecting a rectangle.
func (s *indexServer) QueryRectangle(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	rect, err := rectangle(in)
	if err != nil {
		return nil, err
	}
	opts, err := options(in)
	if err != nil {
		return nil, err
	}
	glog.Infof("QueryRectangle called with rect: %v", rect)

	return reply(s.space.QueryRectangle(rect, opts), nil)
}

// QueryCircle replies the objects intersecting a circle.
func (s *indexServer) QueryCircle(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	x, y, err := point(in)
	if err != nil {
		return nil, err
	}
	radius, err := number(in, "radius")
	if err != nil {
		return nil, err
	}
	opts, err := options(in)
	if err != nil {
		return nil, err
	}
	glog.Infof("QueryCircle called with x: %v y: %v radius: %v", x, y, radius)

	return reply(s.space.QueryCircle(x, y, radius, opts))
}

// QueryNearest replies the objects nearest to a point, closest first.
func (s *indexServer) QueryNearest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	x, y, err := point(in)
	if err != nil {
		return nil, err
	}
	opts, err := options(in)
	if err != nil {
		return nil, err
	}
	if _, ok := in.GetFields()["max_distance"]; ok {
		if opts.MaxDistance, err = number(in, "max_distance"); err != nil {
			return nil, err
		}
	}
	glog.Infof("QueryNearest called with x: %v y: %v max distance: %v", x, y, opts.MaxDistance)

	return reply(s.space.QueryNearest(x, y, opts))
}

// Stats replies the occupancy of the index.
func (s *indexServer) Stats(ctx context.Context, in *empty.Empty) (*structpb.Struct, error) {
	glog.Info("Stats called")

	stats := s.space.Stats()
	return structpb.NewStruct(map[string]interface{}{
		"nodes":      stats.Nodes,
		"entries":    stats.Entries,
		"high_water": stats.HighWater,
		"free":       stats.Free,
		"bounds":     rectFields(stats.Bounds),
	})
}

// Finalize asks the owner of the gRPC server to stop it.
func (s *indexServer) Finalize(ctx context.Context, in *empty.Empty) (*empty.Empty, error) {
	defer s.once.Do(func() {
		close(s.done)
	})

	glog.Info("Finalize called")
	defer glog.Flush()

	return new(empty.Empty), nil
}

// statusError converts an error of the space into a gRPC status.
func statusError(err error) error {
	switch {
	case errors.Is(err, space.ErrInvalidArgument), errors.Is(err, space.ErrOutOfBounds):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, space.ErrCapacity):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, space.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func number(in *structpb.Struct, name string) (float32, error) {
	v, ok := in.GetFields()[name]
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "missing field %q", name)
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "field %q is not a number", name)
	}
	return float32(n.NumberValue), nil
}

func str(in *structpb.Struct, name string) (string, error) {
	v, ok := in.GetFields()[name]
	if !ok {
		return "", status.Errorf(codes.InvalidArgument, "missing field %q", name)
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", status.Errorf(codes.InvalidArgument, "field %q is not a string", name)
	}
	return s.StringValue, nil
}

func point(in *structpb.Struct) (x, y float32, err error) {
	if x, err = number(in, "x"); err != nil {
		return
	}
	y, err = number(in, "y")
	return
}

func rectangle(in *structpb.Struct) (rect quadtree.Rectangle, err error) {
	if rect.X, rect.Y, err = point(in); err != nil {
		return
	}
	if rect.Width, err = number(in, "width"); err != nil {
		return
	}
	rect.Height, err = number(in, "height")
	return
}

// options reads the optional max_results and match fields.
func options(in *structpb.Struct) (opts space.Options, err error) {
	if v, ok := in.GetFields()["max_results"]; ok {
		n := v.GetNumberValue()
		if n < 0 || n != float64(int(n)) {
			err = status.Errorf(codes.InvalidArgument, "bad max_results %v", n)
			return
		}
		opts.MaxResults = int(n)
	}
	opts.Match = in.GetFields()["match"].GetStringValue()
	return
}

func rectFields(r quadtree.Rectangle) map[string]interface{} {
	return map[string]interface{}{
		"x":      r.X,
		"y":      r.Y,
		"width":  r.Width,
		"height": r.Height,
	}
}

func fields(item space.Item) map[string]interface{} {
	m := rectFields(item.Rect)
	m["index"] = int64(item.Index)
	m["key"] = item.Key
	m["value"] = item.Value
	return m
}

func reply(items []space.Item, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, statusError(err)
	}
	list := make([]interface{}, len(items))
	for i, item := range items {
		list[i] = fields(item)
	}
	out, err := structpb.NewStruct(map[string]interface{}{"items": list})
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode reply: %v", err))
	}
	return out, nil
}
