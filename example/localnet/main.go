// Command localnet boots a throwaway index server and two in-process
// peers, then walks through list, lookup and get to show the system
// end to end on one machine.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/rfclab/peerdex/peer"
	"github.com/rfclab/peerdex/server"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("localnet failed: %v", err)
	}
}

func run() error {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	defer lis.Close()

	registry := server.NewRegistry()
	go server.NewServer(log.Default(), registry).Serve(lis)

	serverAddr := lis.Addr().String()
	log.Printf("Index server listening on %s", serverAddr)

	dirA, err := os.MkdirTemp("", "localnet-a")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dirA)

	dirB, err := os.MkdirTemp("", "localnet-b")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dirB)

	if err := os.WriteFile(filepath.Join(dirB, "rfc2345.txt"),
		[]byte("Routing Protocols\n\nan example document\n"), 0666); err != nil {
		return err
	}

	ctx := context.Background()

	nodeB, err := startPeer(ctx, serverAddr, dirB)
	if err != nil {
		return err
	}
	defer nodeB.Close()

	nodeA, err := startPeer(ctx, serverAddr, dirA)
	if err != nil {
		return err
	}
	defer nodeA.Close()

	recs, err := nodeA.List(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("The index knows %d documents:\n", len(recs))
	for _, rec := range recs {
		fmt.Printf("  %d %s served by %s\n", rec.Number, rec.Title, rec.Owner)
	}

	doc, err := nodeA.Get(ctx, 2345)
	if err != nil {
		return err
	}
	fmt.Printf("Peer A downloaded %q to %s\n", doc.Title, doc.Path)

	recs, err = nodeA.Lookup(ctx, 2345)
	if err != nil {
		return err
	}
	fmt.Printf("Document 2345 is now served by %d peers\n", len(recs))

	return nil
}

func startPeer(ctx context.Context, serverAddr, dir string) (*peer.Node, error) {
	return peer.Start(ctx, peer.Config{
		ServerAddr:   serverAddr,
		Dir:          dir,
		ListenAddr:   "127.0.0.1:0",
		Host:         "127.0.0.1",
		StallTimeout: 10 * time.Second,
	})
}
