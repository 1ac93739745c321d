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

package index

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/9rum/spatial/internal/space"
	"github.com/9rum/spatial/quadtree"
	"github.com/golang/protobuf/ptypes/empty"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

var bounds = quadtree.Rectangle{X: 0, Y: 0, Width: 100, Height: 100}

// serve starts srv on an in-memory listener and returns a client of it along
// with a channel that receives the result of Serve.
func serve(t *testing.T, register func(*grpc.Server, chan os.Signal)) (IndexClient, <-chan error) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			grpc_recovery.UnaryServerInterceptor(),
		),
	)
	done := make(chan os.Signal)
	go func() {
		<-done
		server.GracefulStop()
	}()
	register(server, done)

	stopped := make(chan error, 1)
	go func() {
		stopped <- server.Serve(lis)
	}()

	conn, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		server.Stop()
	})
	return NewIndexClient(conn), stopped
}

func newClient(t *testing.T, config quadtree.Config) (IndexClient, <-chan error) {
	t.Helper()
	s, err := space.Open(":memory:", bounds, config)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return serve(t, func(server *grpc.Server, done chan os.Signal) {
		RegisterIndexServer(server, NewIndexServer(s, done))
	})
}

func request(t *testing.T, fields map[string]interface{}) *structpb.Struct {
	t.Helper()
	in, err := structpb.NewStruct(fields)
	require.NoError(t, err)
	return in
}

func keys(out *structpb.Struct) (keys []string) {
	for _, v := range out.GetFields()["items"].GetListValue().GetValues() {
		keys = append(keys, v.GetStructValue().GetFields()["key"].GetStringValue())
	}
	return
}

func TestIndexServer(t *testing.T) {
	c, _ := newClient(t, quadtree.DefaultConfig())
	ctx := context.Background()

	for i, object := range []struct {
		key        string
		x, y, w, h float64
	}{
		{"truck:1", 25, 25, 10, 10},
		{"car:2", 75, 25, 10, 10},
		{"truck:3", 25, 75, 10, 10},
		{"car:4", 75, 75, 10, 10},
		{"truck:5", 45, 45, 10, 10},
	} {
		out, err := c.Set(ctx, request(t, map[string]interface{}{
			"key": object.key, "x": object.x, "y": object.y, "width": object.w, "height": object.h, "value": "v",
		}))
		require.NoError(t, err)
		require.Equal(t, float64(i+1), out.GetFields()["index"].GetNumberValue())
	}

	out, err := c.Get(ctx, request(t, map[string]interface{}{"key": "car:2"}))
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{
		"index": 2.0, "key": "car:2", "value": "v", "x": 75.0, "y": 25.0, "width": 10.0, "height": 10.0,
	}, out.GetFields()["item"].GetStructValue().AsMap())

	out, err = c.QueryRectangle(ctx, request(t, map[string]interface{}{"x": 0, "y": 0, "width": 100, "height": 100}))
	require.NoError(t, err)
	require.Equal(t, []string{"truck:5", "truck:1", "car:2", "truck:3", "car:4"}, keys(out))

	out, err = c.QueryRectangle(ctx, request(t, map[string]interface{}{"x": 0, "y": 0, "width": 100, "height": 100, "match": "car:*", "max_results": 1}))
	require.NoError(t, err)
	require.Equal(t, []string{"car:2"}, keys(out))

	out, err = c.QueryPoint(ctx, request(t, map[string]interface{}{"x": 50, "y": 50}))
	require.NoError(t, err)
	require.Equal(t, []string{"truck:5"}, keys(out))

	out, err = c.QueryCircle(ctx, request(t, map[string]interface{}{"x": 20, "y": 30, "radius": 5}))
	require.NoError(t, err)
	require.Equal(t, []string{"truck:1"}, keys(out))

	out, err = c.QueryNearest(ctx, request(t, map[string]interface{}{"x": 90, "y": 25, "max_results": 3}))
	require.NoError(t, err)
	require.Equal(t, []string{"car:2", "truck:5", "car:4"}, keys(out))

	out, err = c.QueryNearest(ctx, request(t, map[string]interface{}{"x": 90, "y": 25, "max_distance": 10}))
	require.NoError(t, err)
	require.Equal(t, []string{"car:2"}, keys(out))

	_, err = c.Delete(ctx, request(t, map[string]interface{}{"key": "car:2"}))
	require.NoError(t, err)

	out, err = c.Stats(ctx, new(empty.Empty))
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{
		"nodes": 5.0, "entries": 4.0, "high_water": 5.0, "free": 1.0,
		"bounds": map[string]interface{}{"x": 0.0, "y": 0.0, "width": 100.0, "height": 100.0},
	}, out.AsMap())

	_, err = c.Init(ctx, request(t, map[string]interface{}{"x": -10, "y": -10, "width": 20, "height": 20}))
	require.NoError(t, err)
	out, err = c.QueryRectangle(ctx, request(t, map[string]interface{}{"x": -10, "y": -10, "width": 200, "height": 200}))
	require.NoError(t, err)
	require.Empty(t, keys(out))
}

func TestIndexServerErrors(t *testing.T) {
	c, _ := newClient(t, quadtree.Config{MaxNodes: 16, MaxEntries: 1, MaxResults: 8})
	ctx := context.Background()

	_, err := c.Set(ctx, request(t, map[string]interface{}{"key": "a", "x": 10, "y": 10, "width": 5, "height": 5}))
	require.NoError(t, err)

	for name, tt := range map[string]struct {
		call func() error
		want codes.Code
	}{
		"missing field": {func() error {
			_, err := c.QueryPoint(ctx, request(t, map[string]interface{}{"x": 1}))
			return err
		}, codes.InvalidArgument},
		"wrong type": {func() error {
			_, err := c.Get(ctx, request(t, map[string]interface{}{"key": 1}))
			return err
		}, codes.InvalidArgument},
		"out of bounds": {func() error {
			_, err := c.Set(ctx, request(t, map[string]interface{}{"key": "b", "x": 99, "y": 99, "width": 5, "height": 5}))
			return err
		}, codes.InvalidArgument},
		"capacity": {func() error {
			_, err := c.Set(ctx, request(t, map[string]interface{}{"key": "b", "x": 1, "y": 1, "width": 5, "height": 5}))
			return err
		}, codes.ResourceExhausted},
		"not found": {func() error {
			_, err := c.Delete(ctx, request(t, map[string]interface{}{"key": "b"}))
			return err
		}, codes.NotFound},
		"negative radius": {func() error {
			_, err := c.QueryCircle(ctx, request(t, map[string]interface{}{"x": 1, "y": 1, "radius": -1}))
			return err
		}, codes.InvalidArgument},
		"bad max results": {func() error {
			_, err := c.QueryNearest(ctx, request(t, map[string]interface{}{"x": 1, "y": 1, "max_results": 1.5}))
			return err
		}, codes.InvalidArgument},
		"non-numeric max distance": {func() error {
			_, err := c.QueryNearest(ctx, request(t, map[string]interface{}{"x": 1, "y": 1, "max_distance": "far"}))
			return err
		}, codes.InvalidArgument},
		"bad bounds": {func() error {
			_, err := c.Init(ctx, request(t, map[string]interface{}{"x": 0, "y": 0, "width": 0, "height": 1}))
			return err
		}, codes.InvalidArgument},
	} {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tt.want, status.Code(tt.call()))
		})
	}
}

func TestFinalize(t *testing.T) {
	c, stopped := newClient(t, quadtree.DefaultConfig())
	_, err := c.Finalize(context.Background(), new(empty.Empty))
	require.NoError(t, err)

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

type panickingServer struct {
	UnimplementedIndexServer
}

func (panickingServer) Stats(context.Context, *empty.Empty) (*structpb.Struct, error) {
	panic("stats")
}

func TestRecoveryAndUnimplemented(t *testing.T) {
	c, _ := serve(t, func(server *grpc.Server, _ chan os.Signal) {
		RegisterIndexServer(server, panickingServer{})
	})
	ctx := context.Background()

	_, err := c.Stats(ctx, new(empty.Empty))
	require.Equal(t, codes.Internal, status.Code(err))

	_, err = c.Get(ctx, request(t, map[string]interface{}{"key": "a"}))
	require.Equal(t, codes.Unimplemented, status.Code(err))
}
