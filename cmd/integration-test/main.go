// Command integration-test is a process-level smoke test: it builds
// the real binaries, boots an index server and two peers, drives one
// peer's standard input through the whole command surface and checks
// that the document actually arrived.
package main

import (
	"context"
	"fmt"
	"go/build"
	"log"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rfclab/peerdex/client"
)

const routingProtocols = "Routing Protocols\n\nthe contents of document 2345\n"

func main() {
	if err := runTest(); err != nil {
		log.Fatalf("Test failed: %v", err)
	}

	log.Printf("Test passed!")
}

func runTest() error {
	log.SetFlags(log.Flags() | log.Lmicroseconds)

	goPath := os.Getenv("GOPATH")
	if goPath == "" {
		goPath = build.Default.GOPATH
	}

	log.Printf("Compiling peerdex")
	out, err := exec.Command("go", "install", "-v",
		"github.com/rfclab/peerdex",
		"github.com/rfclab/peerdex/cmd/peer").CombinedOutput()
	if err != nil {
		return fmt.Errorf("compilation failed: %v (out: %s)", err, string(out))
	}

	// TODO: make port random
	port := 7357 // "test" in l33t
	serverAddr := fmt.Sprintf("localhost:%d", port)

	log.Printf("Running the index server on port %d", port)

	srv := exec.Command(goPath+"/bin/peerdex", fmt.Sprintf("-listen=:%d", port))
	srv.Stdout = os.Stdout
	srv.Stderr = os.Stderr

	if err := srv.Start(); err != nil {
		return fmt.Errorf("starting the index server: %v", err)
	}
	defer srv.Process.Kill()

	log.Printf("Waiting for the port %s to open", serverAddr)
	waitForPort(port)

	dirA, err := os.MkdirTemp("", "peerdex-a")
	if err != nil {
		return fmt.Errorf("creating a temp dir: %v", err)
	}
	defer os.RemoveAll(dirA)

	dirB, err := os.MkdirTemp("", "peerdex-b")
	if err != nil {
		return fmt.Errorf("creating a temp dir: %v", err)
	}
	defer os.RemoveAll(dirB)

	if err := os.WriteFile(filepath.Join(dirB, "rfc2345.txt"), []byte(routingProtocols), 0666); err != nil {
		return fmt.Errorf("writing the document: %v", err)
	}

	log.Printf("Starting peer B, which serves document 2345")

	peerB := exec.Command(goPath+"/bin/peer", "-server="+serverAddr, "-dir="+dirB, "-host=127.0.0.1", "-listen=127.0.0.1:0")
	peerB.Stdout = os.Stdout
	peerB.Stderr = os.Stderr

	// Peer B's stdin stays open so that its command loop keeps
	// running and its registrations stay alive.
	stdinB, err := peerB.StdinPipe()
	if err != nil {
		return fmt.Errorf("piping peer B's stdin: %v", err)
	}
	defer stdinB.Close()

	if err := peerB.Start(); err != nil {
		return fmt.Errorf("starting peer B: %v", err)
	}
	defer peerB.Process.Kill()

	log.Printf("Waiting for peer B to register its document")
	if err := waitForDocument(serverAddr, 2345); err != nil {
		return err
	}

	log.Printf("Starting peer A and driving it through list, lookup, get and quit")

	peerA := exec.Command(goPath+"/bin/peer", "-server="+serverAddr, "-dir="+dirA, "-host=127.0.0.1", "-listen=127.0.0.1:0")
	peerA.Stderr = os.Stderr
	peerA.Stdin = strings.NewReader("list\nlookup 2345\nget 2345\nquit\n")

	outA, err := peerA.Output()
	if err != nil {
		return fmt.Errorf("running peer A: %v (out: %s)", err, string(outA))
	}

	log.Printf("Peer A printed:\n%s", outA)

	for _, want := range []string{"2345 Routing Protocols", "saved "} {
		if !strings.Contains(string(outA), want) {
			return fmt.Errorf("peer A's output does not contain %q", want)
		}
	}

	got, err := os.ReadFile(filepath.Join(dirA, "rfc2345.txt"))
	if err != nil {
		return fmt.Errorf("the downloaded document is missing: %v", err)
	}
	if string(got) != routingProtocols {
		return fmt.Errorf("the downloaded contents are %q, want %q", got, routingProtocols)
	}

	return nil
}

func waitForPort(port int) {
	for i := 0; i <= 100; i++ {
		timeout := time.Millisecond * 50
		conn, err := net.DialTimeout("tcp", net.JoinHostPort("localhost", fmt.Sprint(port)), timeout)
		if err != nil {
			time.Sleep(timeout)
			continue
		}
		conn.Close()
		break
	}
}

// waitForDocument polls the index server until it lists the document.
func waitForDocument(serverAddr string, number int) error {
	idx := client.NewIndex(serverAddr)

	for i := 0; i <= 100; i++ {
		recs, err := idx.Lookup(context.Background(), number)
		if err == nil && len(recs) > 0 {
			return nil
		}

		time.Sleep(time.Millisecond * 50)
	}

	return fmt.Errorf("the index server never listed document %d", number)
}
