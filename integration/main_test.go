package integration

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/phayes/freeport"
	"github.com/rfclab/peerdex/client"
	"github.com/rfclab/peerdex/peer"
	"github.com/rfclab/peerdex/protocol"
)

const (
	tcpIPIllustrated = "TCP/IP Illustrated\n\nthe contents of document 123\n"
	standards        = "Internet Official Protocol Standards\n\nthe contents of document 2000\n"
	routingProtocols = "Routing Protocols\n\nthe contents of document 2345\n"
)

func TestTwoPeersAndAnIndexServer(t *testing.T) {
	t.Parallel()

	serverAddr, _ := runIndexServer(t)

	dirA := t.TempDir()
	writeDocument(t, dirA, 123, tcpIPIllustrated)
	writeDocument(t, dirA, 2000, standards)

	dirB := t.TempDir()
	writeDocument(t, dirB, 2345, routingProtocols)

	nodeA := runPeer(t, serverAddr, dirA)
	nodeB := runPeer(t, serverAddr, dirB)

	ctx := context.Background()

	// Everything both peers announced, sorted by number.
	recs, err := nodeA.List(ctx)
	if err != nil {
		t.Fatalf("List() = %v, want no errors", err)
	}
	if len(recs) != 3 || recs[0].Number != 123 || recs[1].Number != 2000 || recs[2].Number != 2345 {
		t.Fatalf("List() = %+v, want documents 123, 2000 and 2345 in that order", recs)
	}

	recs, err = nodeA.Lookup(ctx, 2345)
	if err != nil {
		t.Fatalf("Lookup(2345) = %v, want no errors", err)
	}
	if len(recs) != 1 || recs[0].Owner != nodeB.Self() {
		t.Fatalf("Lookup(2345) = %+v, want exactly one record naming %s", recs, nodeB.Self())
	}

	// A pulls the document straight from B and becomes an owner too.
	doc, err := nodeA.Get(ctx, 2345)
	if err != nil {
		t.Fatalf("Get(2345) = %v, want no errors", err)
	}
	if doc.Title != "Routing Protocols" {
		t.Errorf("Get(2345) title = %q, want %q", doc.Title, "Routing Protocols")
	}

	got, err := os.ReadFile(filepath.Join(dirA, peer.DocumentFileName(2345)))
	if err != nil {
		t.Fatalf("reading the downloaded document: %v", err)
	}
	if string(got) != routingProtocols {
		t.Errorf("downloaded contents = %q, want %q", got, routingProtocols)
	}

	recs, err = nodeA.Lookup(ctx, 2345)
	if err != nil {
		t.Fatalf("Lookup(2345) after the download = %v, want no errors", err)
	}
	if len(recs) != 2 {
		t.Fatalf("Lookup(2345) after the download = %+v, want both %s and %s", recs, nodeA.Self(), nodeB.Self())
	}

	// B leaves; the server notices the dropped session and unlists
	// everything B announced, leaving A as the only owner of 2345.
	if err := nodeB.Close(); err != nil {
		t.Fatalf("Close() = %v, want no errors", err)
	}

	waitFor(t, "the index server to unlist the departed peer", func() bool {
		recs, err := nodeA.List(ctx)
		if err != nil {
			return false
		}

		for _, rec := range recs {
			if rec.Owner == nodeB.Self() {
				return false
			}
		}

		owners := 0
		for _, rec := range recs {
			if rec.Number == 2345 {
				owners++
			}
		}
		return owners == 1
	})
}

func TestPartialTransferLeavesNoTrace(t *testing.T) {
	t.Parallel()

	serverAddr, _ := runIndexServer(t)

	// A peer that declares the full length and hangs up after the
	// first few bytes of the body.
	runFlakyOwner(t, serverAddr, 2345, int64(len(routingProtocols)), routingProtocols[:7])

	dirA := t.TempDir()
	nodeA := runPeer(t, serverAddr, dirA)

	ctx := context.Background()

	if _, err := nodeA.Get(ctx, 2345); err == nil {
		t.Fatalf("Get(2345) from a peer that drops mid-body: got no errors, expected an error")
	}

	if entries, err := os.ReadDir(dirA); err != nil {
		t.Fatalf("reading the document directory: %v", err)
	} else if len(entries) != 0 {
		t.Errorf("the document directory holds %v after the failed download, want nothing", entries)
	}

	recs, err := nodeA.List(ctx)
	if err != nil {
		t.Fatalf("List() = %v, want no errors", err)
	}
	for _, rec := range recs {
		if rec.Owner == nodeA.Self() {
			t.Errorf("List() names us (%s) after the failed download", nodeA.Self())
		}
	}
}

func TestStatusEndpointSeesThePeers(t *testing.T) {
	t.Parallel()

	serverAddr, debugAddr := runIndexServer(t)

	dir := t.TempDir()
	writeDocument(t, dir, 123, tcpIPIllustrated)
	node := runPeer(t, serverAddr, dir)

	resp, err := http.Get("http://" + debugAddr + "/documents")
	if err != nil {
		t.Fatalf("GET /documents: %v", err)
	}
	defer resp.Body.Close()

	var docs []struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Host   string `json:"host"`
		Port   int    `json:"port"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&docs); err != nil {
		t.Fatalf("decoding /documents: %v", err)
	}

	if len(docs) != 1 || docs[0].Number != 123 || docs[0].Port != node.Self().Port {
		t.Errorf("GET /documents = %+v, want the one document announced by %s", docs, node.Self())
	}
}

func runIndexServer(t *testing.T) (addr, debugAddr string) {
	t.Helper()

	port, err := freeport.GetFreePort()
	if err != nil {
		t.Fatalf("Failed to get free port: %v", err)
	}

	debugPort, err := freeport.GetFreePort()
	if err != nil {
		t.Fatalf("Failed to get free port: %v", err)
	}

	addr = fmt.Sprintf("127.0.0.1:%d", port)
	debugAddr = fmt.Sprintf("127.0.0.1:%d", debugPort)

	errCh := make(chan error, 1)
	go func() {
		errCh <- InitAndServe(InitArgs{
			LogWriter:       log.Default().Writer(),
			ListenAddr:      addr,
			DebugListenAddr: debugAddr,
		})
	}()

	waitForPort(t, port, errCh)

	return addr, debugAddr
}

func runPeer(t *testing.T, serverAddr, dir string) *peer.Node {
	t.Helper()

	node, err := peer.Start(context.Background(), peer.Config{
		ServerAddr:   serverAddr,
		Dir:          dir,
		ListenAddr:   "127.0.0.1:0",
		Host:         "127.0.0.1",
		StallTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("peer.Start() = %v, want no errors", err)
	}
	t.Cleanup(func() { node.Close() })

	return node
}

// runFlakyOwner registers one document with the index server and
// serves download requests for it with fewer body bytes than declared.
func runFlakyOwner(t *testing.T, serverAddr string, number int, declared int64, body string) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { lis.Close() })

	self := protocol.PeerID{Host: "127.0.0.1", Port: lis.Addr().(*net.TCPAddr).Port}

	sess, err := client.Connect(context.Background(), serverAddr, self)
	if err != nil {
		t.Fatalf("client.Connect(%q) = %v, want no errors", serverAddr, err)
	}
	t.Cleanup(func() { sess.Close() })

	if err := sess.Add(context.Background(), number, "Routing Protocols"); err != nil {
		t.Fatalf("Add(%d) = %v, want no errors", number, err)
	}

	go func() {
		for {
			conn, err := lis.Accept()
			if err != nil {
				return
			}

			go func(conn net.Conn) {
				defer conn.Close()

				bufio.NewReader(conn).ReadString('\n')

				header, _ := protocol.EncodeGetResponse(protocol.GetResponse{
					Status: protocol.StatusOK,
					Title:  "Routing Protocols",
					Length: declared,
				})
				conn.Write([]byte(header))
				conn.Write([]byte(body))
			}(conn)
		}
	}()
}

func writeDocument(t *testing.T, dir string, number int, contents string) {
	t.Helper()

	name := peer.DocumentFileName(number)
	if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0666); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

func waitForPort(t *testing.T, port int, errCh chan error) {
	t.Helper()

	for i := 0; i <= 100; i++ {
		select {
		case err := <-errCh:
			if err != nil {
				t.Fatalf("The index server exited with an error: %v", err)
			}
		default:
		}

		timeout := time.Millisecond * 50
		conn, err := net.DialTimeout("tcp", net.JoinHostPort("localhost", fmt.Sprint(port)), timeout)
		if err != nil {
			time.Sleep(timeout)
			continue
		}
		conn.Close()
		return
	}

	t.Fatalf("The port %d never opened", port)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	for i := 0; i < 100; i++ {
		if cond() {
			return
		}

		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %s", what)
}
