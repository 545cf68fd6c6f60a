package peer

import (
	"bufio"
	"io"
	"log"
	"net"
	"strings"
	"testing"

	"github.com/rfclab/peerdex/protocol"
)

func TestUploadServesTheExactBytes(t *testing.T) {
	contents := "A Proposal for Testing\n\nthe body of the document\n"
	addr := startUploadServer(t, map[string]string{"rfc123.txt": contents})

	resp, body := download(t, addr, "GET 123\r\n")
	if resp.Status != protocol.StatusOK {
		t.Fatalf("GET 123 = %+v, want a 200 response", resp)
	}

	if resp.Title != "A Proposal for Testing" {
		t.Errorf("GET 123 title = %q, want %q", resp.Title, "A Proposal for Testing")
	}
	if body != contents {
		t.Errorf("GET 123 body = %q, want %q", body, contents)
	}
	if resp.Length != int64(len(contents)) {
		t.Errorf("GET 123 declared %d bytes, the document has %d", resp.Length, len(contents))
	}
}

func TestUploadOfAnUnknownDocumentIs404(t *testing.T) {
	addr := startUploadServer(t, map[string]string{"rfc123.txt": "First\n"})

	resp, body := download(t, addr, "GET 999\r\n")
	if resp.Status != protocol.StatusNotFound {
		t.Errorf("GET 999 = %+v, want a 404 response", resp)
	}
	if body != "" {
		t.Errorf("GET 999 carried the body %q, want none", body)
	}
}

func TestUploadRejectsGarbage(t *testing.T) {
	addr := startUploadServer(t, nil)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("NONSENSE 123\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	block, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	resp, err := protocol.ParseGetResponse(string(block))
	if err != nil {
		t.Fatalf("ParseGetResponse(%q) = %v, want no errors", block, err)
	}
	if resp.Status != protocol.StatusBadRequest {
		t.Errorf("a garbage request got %+v, want a 400 response", resp)
	}
}

func startUploadServer(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, contents := range files {
		writeFile(t, dir, name, contents)
	}

	docs, err := Scan(dir)
	if err != nil {
		t.Fatalf("Scan(%q) = %v, want no errors", dir, err)
	}

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { lis.Close() })

	go NewUploadServer(log.Default(), NewCatalog(docs)).Serve(lis)

	return lis.Addr().String()
}

// download issues one raw request and returns the parsed header block
// and whatever body bytes followed it.
func download(t *testing.T, addr, request string) (protocol.GetResponse, string) {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(request)); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := bufio.NewReader(conn)

	var block strings.Builder
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading the header block: %v", err)
		}
		block.WriteString(line)
		if line == "\r\n" {
			break
		}
	}

	resp, err := protocol.ParseGetResponse(block.String())
	if err != nil {
		t.Fatalf("ParseGetResponse(%q) = %v, want no errors", block.String(), err)
	}

	body, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("reading the body: %v", err)
	}

	return resp, string(body)
}
