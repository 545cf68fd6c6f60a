package client

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"strings"

	"github.com/rfclab/peerdex/protocol"
)

// Index asks the central index server who serves what. Every call
// opens its own connection: lookups and listings are one-shot
// exchanges, unlike registrations, which live on a Session for as long
// as the peer serves its documents.
type Index struct {
	Logger *log.Logger

	addr  string
	debug bool
}

// NewIndex creates a client for the index server at addr.
func NewIndex(addr string) *Index {
	return &Index{addr: addr}
}

// SetDebug either enables or disables debug logging for the client.
func (c *Index) SetDebug(v bool) {
	c.debug = v
}

func (c *Index) logger() *log.Logger {
	if c.Logger == nil {
		return log.Default()
	}

	return c.Logger
}

// Lookup returns one record per peer that serves the given document.
// An empty result means nobody does; that is not an error.
func (c *Index) Lookup(ctx context.Context, number int) ([]protocol.Record, error) {
	block, err := c.exchange(ctx, protocol.Request{Cmd: protocol.CmdLookup, Number: number})
	if err != nil {
		return nil, err
	}

	resp, err := protocol.ParseResponse(block)
	if err != nil {
		return nil, fmt.Errorf("bad LOOKUP response: %v", err)
	}

	if resp.Status != protocol.StatusOK {
		return nil, fmt.Errorf("index server replied %d %s to LOOKUP %d", resp.Status, resp.Status.Reason(), number)
	}

	return resp.Records, nil
}

// List returns every (document, owner) record the index server knows.
func (c *Index) List(ctx context.Context) ([]protocol.Record, error) {
	block, err := c.exchange(ctx, protocol.Request{Cmd: protocol.CmdList})
	if err != nil {
		return nil, err
	}

	resp, err := protocol.ParseListResponse(block)
	if err != nil {
		return nil, fmt.Errorf("bad LIST response: %v", err)
	}

	if resp.Status != protocol.StatusOK {
		return nil, fmt.Errorf("index server replied %d %s to LIST", resp.Status, resp.Status.Reason())
	}

	return resp.Records, nil
}

// exchange dials the index server, sends a single request and reads a
// single response block.
func (c *Index) exchange(ctx context.Context, req protocol.Request) (block string, err error) {
	line, err := protocol.EncodeRequest(req)
	if err != nil {
		return "", fmt.Errorf("encoding the request: %v", err)
	}

	if c.debug {
		c.logger().Printf("Sending to %s: %q", c.addr, line)
		defer func() { c.logger().Printf("Exchange result: block=%q err=%v", block, err) }()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return "", fmt.Errorf("dialing the index server: %v", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if _, err := conn.Write([]byte(line)); err != nil {
		return "", fmt.Errorf("sending %q: %v", line, err)
	}

	return readBlock(bufio.NewReader(conn))
}

// readBlock reads one response block, up to and including the blank
// line that terminates it.
func readBlock(r *bufio.Reader) (string, error) {
	var b strings.Builder

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("reading a response block: %v", err)
		}

		b.WriteString(line)
		if line == "\r\n" {
			return b.String(), nil
		}
	}
}
