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

	"github.com/golang/protobuf/ptypes/empty"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified name of the Index service.
const ServiceName = "quadtree.Index"

// IndexClient is the client API for Index service.
type IndexClient interface {
	// Init drops every object and re-roots the index at {x, y, width, height}.
	Init(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*empty.Empty, error)
	// Set stores {key, x, y, width, height, value} and replies {index}.
	Set(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	// Get replies {item} for {key}.
	Get(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	// Delete removes {key}.
	Delete(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*empty.Empty, error)
	// QueryPoint replies {items} containing {x, y}.
	QueryPoint(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	// QueryRectangle replies {items} intersecting {x, y, width, height}.
	QueryRectangle(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	// QueryCircle replies {items} intersecting {x, y, radius}.
	QueryCircle(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	// QueryNearest replies {items} nearest to {x, y} within max_distance.
	QueryNearest(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	// Stats replies the occupancy of the index.
	Stats(ctx context.Context, in *empty.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	// Finalize stops the server.
	Finalize(ctx context.Context, in *empty.Empty, opts ...grpc.CallOption) (*empty.Empty, error)
}

type indexClient struct {
	cc grpc.ClientConnInterface
}

// NewIndexClient creates a new client of Index service.
func NewIndexClient(cc grpc.ClientConnInterface) IndexClient {
	return &indexClient{cc}
}

func invoke[Out any](ctx context.Context, cc grpc.ClientConnInterface, method string, in interface{}, opts []grpc.CallOption) (*Out, error) {
	out := new(Out)
	if err := cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *indexClient) Init(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*empty.Empty, error) {
	return invoke[empty.Empty](ctx, c.cc, "Init", in, opts)
}

func (c *indexClient) Set(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, "Set", in, opts)
}

func (c *indexClient) Get(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, "Get", in, opts)
}

func (c *indexClient) Delete(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*empty.Empty, error) {
	return invoke[empty.Empty](ctx, c.cc, "Delete", in, opts)
}

func (c *indexClient) QueryPoint(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, "QueryPoint", in, opts)
}

func (c *indexClient) QueryRectangle(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, "QueryRectangle", in, opts)
}

func (c *indexClient) QueryCircle(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, "QueryCircle", in, opts)
}

func (c *indexClient) QueryNearest(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, "QueryNearest", in, opts)
}

func (c *indexClient) Stats(ctx context.Context, in *empty.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, "Stats", in, opts)
}

func (c *indexClient) Finalize(ctx context.Context, in *empty.Empty, opts ...grpc.CallOption) (*empty.Empty, error) {
	return invoke[empty.Empty](ctx, c.cc, "Finalize", in, opts)
}

// IndexServer is the server API for Index service.
// All implementations must embed UnimplementedIndexServer
// for forward compatibility.
type IndexServer interface {
	Init(context.Context, *structpb.Struct) (*empty.Empty, error)
	Set(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Get(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Delete(context.Context, *structpb.Struct) (*empty.Empty, error)
	QueryPoint(context.Context, *structpb.Struct) (*structpb.Struct, error)
	QueryRectangle(context.Context, *structpb.Struct) (*structpb.Struct, error)
	QueryCircle(context.Context, *structpb.Struct) (*structpb.Struct, error)
	QueryNearest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Stats(context.Context, *empty.Empty) (*structpb.Struct, error)
	Finalize(context.Context, *empty.Empty) (*empty.Empty, error)
	mustEmbedUnimplementedIndexServer()
}

// UnimplementedIndexServer must be embedded to have forward compatible implementations.
type UnimplementedIndexServer struct {
}

func (UnimplementedIndexServer) Init(context.Context, *structpb.Struct) (*empty.Empty, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Init not implemented")
}
func (UnimplementedIndexServer) Set(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Set not implemented")
}
func (UnimplementedIndexServer) Get(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Get not implemented")
}
func (UnimplementedIndexServer) Delete(context.Context, *structpb.Struct) (*empty.Empty, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Delete not implemented")
}
func (UnimplementedIndexServer) QueryPoint(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method QueryPoint not implemented")
}
func (UnimplementedIndexServer) QueryRectangle(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method QueryRectangle not implemented")
}
func (UnimplementedIndexServer) QueryCircle(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method QueryCircle not implemented")
}
func (UnimplementedIndexServer) QueryNearest(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method QueryNearest not implemented")
}
func (UnimplementedIndexServer) Stats(context.Context, *empty.Empty) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Stats not implemented")
}
func (UnimplementedIndexServer) Finalize(context.Context, *empty.Empty) (*empty.Empty, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Finalize not implemented")
}
func (UnimplementedIndexServer) mustEmbedUnimplementedIndexServer() {}

// RegisterIndexServer registers srv with the given service registrar.
func RegisterIndexServer(s grpc.ServiceRegistrar, srv IndexServer) {
	s.RegisterService(&Index_ServiceDesc, srv)
}

// unary builds the descriptor of a unary method that decodes an In, calls the
// server and replies an Out.
func unary[In, Out any](method string, call func(IndexServer, context.Context, *In) (*Out, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(In)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(IndexServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + method,
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(IndexServer), ctx, req.(*In))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// Index_ServiceDesc is the grpc.ServiceDesc for Index service.
var Index_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IndexServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Init", IndexServer.Init),
		unary("Set", IndexServer.Set),
		unary("Get", IndexServer.Get),
		unary("Delete", IndexServer.Delete),
		unary("QueryPoint", IndexServer.QueryPoint),
		unary("QueryRectangle", IndexServer.QueryRectangle),
		unary("QueryCircle", IndexServer.QueryCircle),
		unary("QueryNearest", IndexServer.QueryNearest),
		unary("Stats", IndexServer.Stats),
		unary("Finalize", IndexServer.Finalize),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "index.proto",
}
