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

// Package main implements the spatial index server.  The index is served over
// gRPC and, if a RESP port is given, over the Redis protocol as well.  The
// server stops when a client calls Finalize or on SIGINT or SIGTERM.
package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/9rum/spatial/index"
	"github.com/9rum/spatial/internal/space"
	"github.com/9rum/spatial/quadtree"
	"github.com/9rum/spatial/resp"
	"github.com/golang/glog"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	"google.golang.org/grpc"
)

func main() {
	defaults := quadtree.DefaultConfig()
	port := flag.Int("p", 50051, "The server port")
	respPort := flag.Int("resp", 0, "The RESP server port, 0 to disable")
	path := flag.String("db", ":memory:", "The database path")
	bounds := flag.String("bounds", "0,0,1024,1024", "The bounds of the index as x,y,width,height")
	maxNodes := flag.Int("max-nodes", defaults.MaxNodes, "The maximum number of nodes")
	maxEntries := flag.Int("max-entries", defaults.MaxEntries, "The maximum number of objects")
	maxResults := flag.Int("max-results", defaults.MaxResults, "The maximum number of results per query")
	flag.Parse()
	defer glog.Flush()

	rect, err := parseBounds(*bounds)
	if err != nil {
		glog.Fatalf("invalid bounds: %v", err)
	}
	s, err := space.Open(*path, rect, quadtree.Config{
		MaxNodes:   *maxNodes,
		MaxEntries: *maxEntries,
		MaxResults: *maxResults,
	})
	if err != nil {
		glog.Fatalf("failed to open: %v", err)
	}
	defer s.Close()

	if *respPort != 0 {
		srv := resp.NewServer(fmt.Sprintf(":%d", *respPort), s)
		defer srv.Close()
		go func() {
			glog.Infof("RESP server listening at :%d", *respPort)
			if err := srv.ListenAndServe(); err != nil {
				glog.Errorf("failed to serve RESP: %v", err)
			}
		}()
	}

	if err = serve(*port, s); err != nil {
		glog.Errorf("failed to serve: %v", err)
	}
}

func serve(port int, s *space.Space) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}

	server := newServer(s)
	glog.Infof("server listening at %v", lis.Addr())

	return server.Serve(lis)
}

func newServer(s *space.Space) *grpc.Server {
	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			grpc_recovery.UnaryServerInterceptor(),
		),
	)
	done := make(chan os.Signal)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	go func(server *grpc.Server) {
		select {
		case <-done:
		case sig := <-sigs:
			glog.Infof("received %v", sig)
		}
		signal.Stop(sigs)
		server.GracefulStop()
	}(server)

	index.RegisterIndexServer(server, index.NewIndexServer(s, done))

	return server
}

// parseBounds parses x,y,width,height.
func parseBounds(v string) (rect quadtree.Rectangle, err error) {
	fields := strings.Split(v, ",")
	if len(fields) != 4 {
		return rect, errors.New("want x,y,width,height")
	}
	var f [4]float32
	for i, field := range fields {
		n, err := strconv.ParseFloat(strings.TrimSpace(field), 32)
		if err != nil {
			return rect, err
		}
		f[i] = float32(n)
	}
	return quadtree.Rectangle{X: f[0], Y: f[1], Width: f[2], Height: f[3]}, nil
}
