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

// Package resp serves a space over the Redis protocol, so that any Redis
// client can store and query rectangles.
//
//	QSET key x y w h [value]
//	QGET key
//	QDEL key
//	QKEYS pattern
//	QPOINT x y [MATCH pattern] [LIMIT n]
//	QRECT x y w h [MATCH pattern] [LIMIT n]
//	QCIRCLE x y radius [MATCH pattern] [LIMIT n]
//	QNEAREST x y [MAXDIST d] [MATCH pattern] [LIMIT n]
//	QSTATS
//	QRESET x y w h
//
// Queries reply a flat array of key, value pairs.
package resp

import (
	"errors"
	"net"
	"strconv"
	"strings"

	"github.com/9rum/spatial/internal/space"
	"github.com/9rum/spatial/quadtree"
	"github.com/golang/glog"
	"github.com/tidwall/redcon"
)

var (
	errWrongNumberOfArguments = errors.New("ERR wrong number of arguments for command")
	errSyntaxError            = errors.New("ERR syntax error")
	errInvalidNumber          = errors.New("ERR value is not a valid number")
)

// Server is a Redis protocol front end of a space.
type Server struct {
	space *space.Space
	srv   *redcon.Server
}

// NewServer creates a new server listening at addr once started.
func NewServer(addr string, s *space.Space) *Server {
	server := &Server{space: s}
	server.srv = redcon.NewServer(addr, server.handle,
		func(conn redcon.Conn) bool {
			glog.V(1).Infof("accept: %s", conn.RemoteAddr())
			return true
		},
		func(conn redcon.Conn, err error) {
			glog.V(1).Infof("closed: %s, err: %v", conn.RemoteAddr(), err)
		},
	)
	return server
}

// ListenAndServe serves connections until Close is called.
func (s *Server) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// ListenServeAndSignal is like ListenAndServe but sends nil on signal once
// the listener is bound, or the error if binding failed.
func (s *Server) ListenServeAndSignal(signal chan error) error {
	return s.srv.ListenServeAndSignal(signal)
}

// Addr returns the bound address of a started server.
func (s *Server) Addr() net.Addr {
	return s.srv.Addr()
}

// Close stops the server.
func (s *Server) Close() error {
	return s.srv.Close()
}

func (s *Server) handle(conn redcon.Conn, cmd redcon.Command) {
	glog.V(1).Infof("%s called from %s", cmd.Args[0], conn.RemoteAddr())

	var err error
	switch strings.ToLower(string(cmd.Args[0])) {
	default:
		conn.WriteError("ERR unknown command '" + string(cmd.Args[0]) + "'")
		return
	case "ping":
		err = s.doPing(conn, cmd)
	case "qset":
		err = s.doSet(conn, cmd)
	case "qget":
		err = s.doGet(conn, cmd)
	case "qdel":
		err = s.doDel(conn, cmd)
	case "qkeys":
		err = s.doKeys(conn, cmd)
	case "qpoint":
		err = s.doPoint(conn, cmd)
	case "qrect":
		err = s.doRect(conn, cmd)
	case "qcircle":
		err = s.doCircle(conn, cmd)
	case "qnearest":
		err = s.doNearest(conn, cmd)
	case "qstats":
		err = s.doStats(conn, cmd)
	case "qreset":
		err = s.doReset(conn, cmd)
	}
	if err != nil {
		writeError(conn, err)
	}
}

// writeError replies err, prefixing errors of the space with ERR.
func writeError(conn redcon.Conn, err error) {
	msg := err.Error()
	if !strings.HasPrefix(msg, "ERR ") {
		msg = "ERR " + msg
	}
	conn.WriteError(msg)
}

func (s *Server) doPing(conn redcon.Conn, cmd redcon.Command) error {
	// PING [message]
	switch len(cmd.Args) {
	case 1:
		conn.WriteString("PONG")
	case 2:
		conn.WriteBulk(cmd.Args[1])
	default:
		return errWrongNumberOfArguments
	}
	return nil
}

func (s *Server) doSet(conn redcon.Conn, cmd redcon.Command) error {
	// QSET key x y w h [value]
	if len(cmd.Args) != 6 && len(cmd.Args) != 7 {
		return errWrongNumberOfArguments
	}
	rect, err := parseRect(cmd.Args[2:6])
	if err != nil {
		return err
	}
	var value string
	if len(cmd.Args) == 7 {
		value = string(cmd.Args[6])
	}
	index, err := s.space.Set(string(cmd.Args[1]), rect, value)
	if err != nil {
		return err
	}
	conn.WriteInt64(int64(index))
	return nil
}

func (s *Server) doGet(conn redcon.Conn, cmd redcon.Command) error {
	// QGET key
	if len(cmd.Args) != 2 {
		return errWrongNumberOfArguments
	}
	item, err := s.space.Get(string(cmd.Args[1]))
	if errors.Is(err, space.ErrNotFound) {
		conn.WriteNull()
		return nil
	}
	if err != nil {
		return err
	}
	conn.WriteArray(5)
	conn.WriteBulkString(formatFloat(item.Rect.X))
	conn.WriteBulkString(formatFloat(item.Rect.Y))
	conn.WriteBulkString(formatFloat(item.Rect.Width))
	conn.WriteBulkString(formatFloat(item.Rect.Height))
	conn.WriteBulkString(item.Value)
	return nil
}

func (s *Server) doDel(conn redcon.Conn, cmd redcon.Command) error {
	// QDEL key
	if len(cmd.Args) != 2 {
		return errWrongNumberOfArguments
	}
	err := s.space.Delete(string(cmd.Args[1]))
	if errors.Is(err, space.ErrNotFound) {
		conn.WriteInt(0)
		return nil
	}
	if err != nil {
		return err
	}
	conn.WriteInt(1)
	return nil
}

func (s *Server) doKeys(conn redcon.Conn, cmd redcon.Command) error {
	// QKEYS pattern
	if len(cmd.Args) != 2 {
		return errWrongNumberOfArguments
	}
	keys := s.space.Keys(string(cmd.Args[1]))
	conn.WriteArray(len(keys))
	for _, key := range keys {
		conn.WriteBulkString(key)
	}
	return nil
}

func (s *Server) doPoint(conn redcon.Conn, cmd redcon.Command) error {
	// QPOINT x y [MATCH pattern] [LIMIT n]
	if len(cmd.Args) < 3 {
		return errWrongNumberOfArguments
	}
	x, y, err := parsePoint(cmd.Args[1:3])
	if err != nil {
		return err
	}
	opts, err := parseSearchArgs(cmd.Args[3:], false)
	if err != nil {
		return err
	}
	writeItems(conn, s.space.QueryPoint(x, y, opts))
	return nil
}

func (s *Server) doRect(conn redcon.Conn, cmd redcon.Command) error {
	// QRECT x y w h [MATCH pattern] [LIMIT n]
	if len(cmd.Args) < 5 {
		return errWrongNumberOfArguments
	}
	rect, err := parseRect(cmd.Args[1:5])
	if err != nil {
		return err
	}
	opts, err := parseSearchArgs(cmd.Args[5:], false)
	if err != nil {
		return err
	}
	writeItems(conn, s.space.QueryRectangle(rect, opts))
	return nil
}

func (s *Server) doCircle(conn redcon.Conn, cmd redcon.Command) error {
	// QCIRCLE x y radius [MATCH pattern] [LIMIT n]
	if len(cmd.Args) < 4 {
		return errWrongNumberOfArguments
	}
	x, y, err := parsePoint(cmd.Args[1:3])
	if err != nil {
		return err
	}
	radius, err := parseFloat(cmd.Args[3])
	if err != nil {
		return err
	}
	opts, err := parseSearchArgs(cmd.Args[4:], false)
	if err != nil {
		return err
	}
	items, err := s.space.QueryCircle(x, y, radius, opts)
	if err != nil {
		return err
	}
	writeItems(conn, items)
	return nil
}

func (s *Server) doNearest(conn redcon.Conn, cmd redcon.Command) error {
	// QNEAREST x y [MAXDIST d] [MATCH pattern] [LIMIT n]
	if len(cmd.Args) < 3 {
		return errWrongNumberOfArguments
	}
	x, y, err := parsePoint(cmd.Args[1:3])
	if err != nil {
		return err
	}
	opts, err := parseSearchArgs(cmd.Args[3:], true)
	if err != nil {
		return err
	}
	items, err := s.space.QueryNearest(x, y, opts)
	if err != nil {
		return err
	}
	writeItems(conn, items)
	return nil
}

func (s *Server) doStats(conn redcon.Conn, cmd redcon.Command) error {
	// QSTATS
	if len(cmd.Args) != 1 {
		return errWrongNumberOfArguments
	}
	stats := s.space.Stats()
	conn.WriteArray(10)
	conn.WriteBulkString("nodes")
	conn.WriteInt(stats.Nodes)
	conn.WriteBulkString("entries")
	conn.WriteInt(stats.Entries)
	conn.WriteBulkString("high_water")
	conn.WriteInt(stats.HighWater)
	conn.WriteBulkString("free")
	conn.WriteInt(stats.Free)
	conn.WriteBulkString("bounds")
	conn.WriteBulkString(stats.Bounds.String())
	return nil
}

func (s *Server) doReset(conn redcon.Conn, cmd redcon.Command) error {
	// QRESET x y w h
	if len(cmd.Args) != 5 {
		return errWrongNumberOfArguments
	}
	bounds, err := parseRect(cmd.Args[1:5])
	if err != nil {
		return err
	}
	if err = s.space.Reset(bounds); err != nil {
		return err
	}
	conn.WriteString("OK")
	return nil
}

func writeItems(conn redcon.Conn, items []space.Item) {
	conn.WriteArray(len(items) * 2)
	for _, item := range items {
		conn.WriteBulkString(item.Key)
		conn.WriteBulkString(item.Value)
	}
}

// parseSearchArgs parses the trailing options of a query.  MAXDIST is only
// accepted if nearest is set.
func parseSearchArgs(args [][]byte, nearest bool) (opts space.Options, err error) {
	for len(args) > 0 {
		switch strings.ToLower(string(args[0])) {
		default:
			err = errSyntaxError
			return
		case "match":
			args = args[1:]
			if len(args) == 0 {
				err = errWrongNumberOfArguments
				return
			}
			opts.Match = string(args[0])
		case "limit":
			args = args[1:]
			if len(args) == 0 {
				err = errWrongNumberOfArguments
				return
			}
			var n uint64
			if n, err = strconv.ParseUint(string(args[0]), 10, 31); err != nil {
				err = errInvalidNumber
				return
			}
			opts.MaxResults = int(n)
		case "maxdist":
			if !nearest {
				err = errSyntaxError
				return
			}
			args = args[1:]
			if len(args) == 0 {
				err = errWrongNumberOfArguments
				return
			}
			if opts.MaxDistance, err = parseFloat(args[0]); err != nil {
				return
			}
		}
		args = args[1:]
	}
	return
}

func parseFloat(arg []byte) (float32, error) {
	f, err := strconv.ParseFloat(string(arg), 32)
	if err != nil {
		return 0, errInvalidNumber
	}
	return float32(f), nil
}

func parsePoint(args [][]byte) (x, y float32, err error) {
	if x, err = parseFloat(args[0]); err != nil {
		return
	}
	y, err = parseFloat(args[1])
	return
}

func parseRect(args [][]byte) (rect quadtree.Rectangle, err error) {
	if rect.X, rect.Y, err = parsePoint(args[:2]); err != nil {
		return
	}
	if rect.Width, err = parseFloat(args[2]); err != nil {
		return
	}
	rect.Height, err = parseFloat(args[3])
	return
}

func formatFloat(f float32) string {
	return strconv.FormatFloat(float64(f), 'f', -1, 32)
}
