package peer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"

	"github.com/rfclab/peerdex/protocol"
)

// UploadServer serves this peer's documents to other peers: one GET
// per connection, one goroutine per connection. It reads only the
// catalog, so downloads in the other direction never block it.
type UploadServer struct {
	logger  *log.Logger
	catalog *Catalog
}

// NewUploadServer creates an upload server backed by the given catalog.
func NewUploadServer(logger *log.Logger, catalog *Catalog) *UploadServer {
	return &UploadServer{
		logger:  logger,
		catalog: catalog,
	}
}

// Serve accepts connections from lis until it is closed.
func (u *UploadServer) Serve(lis net.Listener) error {
	for {
		conn, err := lis.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %v", err)
		}

		go u.handleConn(conn)
	}
}

func (u *UploadServer) handleConn(conn net.Conn) {
	defer conn.Close()

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		u.logger.Printf("Reading from %s: %v", conn.RemoteAddr(), err)
		return
	}

	req, err := protocol.ParseGetRequest(line)
	if err != nil {
		u.logger.Printf("Bad download request from %s: %v", conn.RemoteAddr(), err)
		u.replyHeader(conn, protocol.GetResponse{Status: protocol.StatusBadRequest})
		return
	}

	doc, ok := u.catalog.Get(req.Number)
	if !ok {
		u.replyHeader(conn, protocol.GetResponse{Status: protocol.StatusNotFound})
		return
	}

	fp, err := os.Open(doc.Path)
	if err != nil {
		// The catalog entry is there but the file is not readable:
		// from the requester's point of view we do not serve it.
		u.logger.Printf("Could not open %q to serve document %d: %v", doc.Path, doc.Number, err)
		u.replyHeader(conn, protocol.GetResponse{Status: protocol.StatusNotFound})
		return
	}
	defer fp.Close()

	st, err := fp.Stat()
	if err != nil {
		u.logger.Printf("Could not stat %q to serve document %d: %v", doc.Path, doc.Number, err)
		u.replyHeader(conn, protocol.GetResponse{Status: protocol.StatusNotFound})
		return
	}

	if !u.replyHeader(conn, protocol.GetResponse{
		Status: protocol.StatusOK,
		Title:  doc.Title,
		Length: st.Size(),
	}) {
		return
	}

	if _, err := io.CopyN(conn, fp, st.Size()); err != nil {
		u.logger.Printf("Sending document %d to %s: %v", doc.Number, conn.RemoteAddr(), err)
	}
}

// replyHeader writes a response header block and reports whether the
// connection is still usable.
func (u *UploadServer) replyHeader(conn net.Conn, resp protocol.GetResponse) bool {
	wire, err := protocol.EncodeGetResponse(resp)
	if err != nil {
		u.logger.Printf("Could not encode a download response to %s: %v", conn.RemoteAddr(), err)
		return false
	}

	if _, err := conn.Write([]byte(wire)); err != nil {
		u.logger.Printf("Writing to %s: %v", conn.RemoteAddr(), err)
		return false
	}

	return true
}
