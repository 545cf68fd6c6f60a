package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"time"

	"github.com/rfclab/peerdex/protocol"
)

// ErrNotFound means the peer answered the download request but does
// not serve the requested document.
var ErrNotFound = errors.New("the peer does not serve the requested document")

// ErrTransferIncomplete means the peer promised more body bytes than
// it delivered. Whatever was received must be thrown away.
var ErrTransferIncomplete = errors.New("the peer did not deliver the whole document")

// Fetcher downloads documents straight from the peers that serve them.
type Fetcher struct {
	Logger *log.Logger

	// StallTimeout bounds how long a download may go without any data
	// arriving before it is abandoned. Zero means wait forever.
	StallTimeout time.Duration

	debug bool
}

// SetDebug either enables or disables debug logging for the fetcher.
func (f *Fetcher) SetDebug(v bool) {
	f.debug = v
}

func (f *Fetcher) logger() *log.Logger {
	if f.Logger == nil {
		return log.Default()
	}

	return f.Logger
}

// Fetch downloads document number from owner and writes the body to w.
// It returns the title the owner serves the document under and how
// many body bytes arrived. The write is only trustworthy when the
// error is nil: on ErrTransferIncomplete the caller got a prefix.
func (f *Fetcher) Fetch(ctx context.Context, owner protocol.PeerID, number int, w io.Writer) (title string, n int64, err error) {
	line, err := protocol.EncodeGetRequest(protocol.GetRequest{Number: number})
	if err != nil {
		return "", 0, fmt.Errorf("encoding GET %d: %v", number, err)
	}

	if f.debug {
		f.logger().Printf("Downloading document %d from %s", number, owner)
		defer func() { f.logger().Printf("Download result: title=%q n=%d err=%v", title, n, err) }()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", owner.Addr())
	if err != nil {
		return "", 0, fmt.Errorf("dialing peer %s: %v", owner, err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(line)); err != nil {
		return "", 0, fmt.Errorf("sending %q to %s: %v", line, owner, err)
	}

	r := bufio.NewReader(conn)

	conn.SetReadDeadline(f.readDeadline(ctx))
	block, err := readBlock(r)
	if err != nil {
		return "", 0, err
	}

	resp, err := protocol.ParseGetResponse(block)
	if err != nil {
		return "", 0, fmt.Errorf("bad GET response from %s: %v", owner, err)
	}

	switch resp.Status {
	case protocol.StatusOK:
	case protocol.StatusNotFound:
		return "", 0, fmt.Errorf("GET %d from %s: %w", number, owner, ErrNotFound)
	default:
		return "", 0, fmt.Errorf("peer %s replied %d %s to GET %d", owner, resp.Status, resp.Status.Reason(), number)
	}

	// The body is copied in chunks so that the deadline can be pushed
	// back after every read: a slow peer is fine, a silent one is not.
	buf := make([]byte, 32*1024)
	for n < resp.Length {
		chunk := buf
		if rem := resp.Length - n; rem < int64(len(chunk)) {
			chunk = chunk[:rem]
		}

		conn.SetReadDeadline(f.readDeadline(ctx))
		rd, rerr := r.Read(chunk)
		if rd > 0 {
			if _, werr := w.Write(chunk[:rd]); werr != nil {
				return "", n, fmt.Errorf("writing the document body: %v", werr)
			}
			n += int64(rd)
		}
		if rerr != nil {
			return "", n, fmt.Errorf("%w: got %d of %d bytes from %s: %v", ErrTransferIncomplete, n, resp.Length, owner, rerr)
		}
	}

	return resp.Title, n, nil
}

// readDeadline computes the deadline for the next read: the stall
// timeout from now, capped by the context deadline if that is sooner.
func (f *Fetcher) readDeadline(ctx context.Context) time.Time {
	var deadline time.Time
	if f.StallTimeout > 0 {
		deadline = time.Now().Add(f.StallTimeout)
	}

	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}

	return deadline
}
