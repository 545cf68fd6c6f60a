package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"net"

	"github.com/rfclab/peerdex/protocol"
)

// Server answers peer-to-server requests over plain TCP, one goroutine
// per connection. A connection may carry any number of requests; it is
// the peer that decides when to hang up. Once a connection has sent a
// successful ADD it is considered the registration session of that
// peer, and closing it drops everything the peer announced.
type Server struct {
	logger   *log.Logger
	registry *Registry
}

// NewServer creates a server that answers from the supplied registry.
func NewServer(logger *log.Logger, registry *Registry) *Server {
	return &Server{
		logger:   logger,
		registry: registry,
	}
}

// ListenAndServe listens on the given TCP address and serves requests
// until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %q: %v", addr, err)
	}

	return s.Serve(lis)
}

// Serve accepts connections from lis until it is closed.
func (s *Server) Serve(lis net.Listener) error {
	for {
		conn, err := lis.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %v", err)
		}

		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	// The identity announced by the most recent successful ADD. The
	// cleanup runs exactly once, when the read loop exits, no matter
	// how the connection dies.
	var owner protocol.PeerID
	var registered bool

	defer func() {
		if !registered {
			return
		}

		dropped, err := s.registry.RemovePeer(owner)
		if err != nil {
			s.logger.Printf("Could not clean up after peer %s: %v", owner, err)
			return
		}

		s.logger.Printf("Peer %s disconnected, dropped %d of its records", owner, dropped)
	}()

	r := bufio.NewReader(conn)

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				s.logger.Printf("Reading from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}

		req, err := protocol.ParseRequest(line)
		if err != nil {
			// A malformed line gets an error response but does not
			// cost the peer its connection or its registrations.
			s.logger.Printf("Bad request from %s: %v", conn.RemoteAddr(), err)
			if !s.reply(conn, protocol.Response{Status: protocol.StatusBadRequest}, false) {
				return
			}
			continue
		}

		resp := s.handle(req)

		// The identity must be recorded before the reply goes out: if
		// the peer dies while we write, the record it just added is
		// already in the registry and the cleanup has to know about it.
		if req.Cmd == protocol.CmdAdd && resp.Status == protocol.StatusOK {
			owner = req.Owner
			registered = true
		}

		if !s.reply(conn, resp, req.Cmd == protocol.CmdList) {
			return
		}
	}
}

func (s *Server) handle(req protocol.Request) protocol.Response {
	switch req.Cmd {
	case protocol.CmdAdd:
		if err := s.registry.Add(req.Number, req.Title, req.Owner); err != nil {
			s.logger.Printf("ADD %d from %s failed: %v", req.Number, req.Owner, err)
			return protocol.Response{Status: protocol.StatusBadRequest}
		}

		return protocol.Response{
			Status:  protocol.StatusOK,
			Records: []protocol.Record{{Number: req.Number, Title: req.Title, Owner: req.Owner}},
		}

	case protocol.CmdLookup:
		recs, err := s.registry.Lookup(req.Number)
		if err != nil {
			s.logger.Printf("LOOKUP %d failed: %v", req.Number, err)
			return protocol.Response{Status: protocol.StatusBadRequest}
		}

		// A document nobody serves is an empty result, not an error:
		// the peer can tell the difference from the record count.
		return protocol.Response{Status: protocol.StatusOK, Records: recs}

	case protocol.CmdList:
		recs, err := s.registry.List()
		if err != nil {
			s.logger.Printf("LIST failed: %v", err)
			return protocol.Response{Status: protocol.StatusBadRequest}
		}

		return protocol.Response{Status: protocol.StatusOK, Records: recs}
	}

	return protocol.Response{Status: protocol.StatusBadRequest}
}

// reply writes a response block and reports whether the connection is
// still usable.
func (s *Server) reply(conn net.Conn, resp protocol.Response, counted bool) bool {
	var wire string
	var err error
	if counted {
		wire, err = protocol.EncodeListResponse(resp)
	} else {
		wire, err = protocol.EncodeResponse(resp)
	}
	if err != nil {
		s.logger.Printf("Could not encode a response to %s: %v", conn.RemoteAddr(), err)
		return false
	}

	if _, err := conn.Write([]byte(wire)); err != nil {
		s.logger.Printf("Writing to %s: %v", conn.RemoteAddr(), err)
		return false
	}

	return true
}
