package client

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/rfclab/peerdex/protocol"
)

// noDeadline is the zero time: passing it to SetDeadline clears the
// deadline set for an earlier exchange on the same connection.
var noDeadline = time.Time{}

// Session is a peer's registration session with the index server: one
// long-lived connection carrying every ADD the peer makes. The server
// forgets the announced documents the moment the connection dies, so
// the session must outlive everything the peer wants to stay listed.
type Session struct {
	Logger *log.Logger

	owner protocol.PeerID
	debug bool

	// mu protects conn and r: the interactive loop and a finished
	// download may both announce documents.
	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
}

// Connect opens a registration session to the index server at addr on
// behalf of owner, the address of the peer's own upload listener.
func Connect(ctx context.Context, addr string, owner protocol.PeerID) (*Session, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing the index server: %v", err)
	}

	return &Session{
		owner: owner,
		conn:  conn,
		r:     bufio.NewReader(conn),
	}, nil
}

// SetDebug either enables or disables debug logging for the session.
func (s *Session) SetDebug(v bool) {
	s.debug = v
}

func (s *Session) logger() *log.Logger {
	if s.Logger == nil {
		return log.Default()
	}

	return s.Logger
}

// Owner returns the identity the session announces documents under.
func (s *Session) Owner() protocol.PeerID {
	return s.owner
}

// Add announces that this peer serves the given document. Announcing
// the same document twice is harmless.
func (s *Session) Add(ctx context.Context, number int, title string) (err error) {
	line, err := protocol.EncodeRequest(protocol.Request{
		Cmd:    protocol.CmdAdd,
		Number: number,
		Title:  title,
		Owner:  s.owner,
	})
	if err != nil {
		return fmt.Errorf("encoding ADD %d: %v", number, err)
	}

	if s.debug {
		s.logger().Printf("Announcing on the registration session: %q", line)
		defer func() { s.logger().Printf("Announce result: err=%v", err) }()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetDeadline(deadline)
		defer s.conn.SetDeadline(noDeadline)
	}

	if _, err := s.conn.Write([]byte(line)); err != nil {
		return fmt.Errorf("sending %q: %v", line, err)
	}

	block, err := readBlock(s.r)
	if err != nil {
		return err
	}

	resp, err := protocol.ParseResponse(block)
	if err != nil {
		return fmt.Errorf("bad ADD response: %v", err)
	}

	if resp.Status != protocol.StatusOK {
		return fmt.Errorf("index server replied %d %s to ADD %d", resp.Status, resp.Status.Reason(), number)
	}

	return nil
}

// Close ends the session. The index server treats this as the peer
// leaving and unlists everything it announced.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conn.Close()
}
