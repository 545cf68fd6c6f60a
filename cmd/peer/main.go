package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/rfclab/peerdex/peer"
)

var (
	serverAddr   = flag.String("server", "localhost:7734", "Address of the index server")
	dirname      = flag.String("dir", "", "The directory with this peer's documents")
	listenAddr   = flag.String("listen", ":0", "TCP address for serving downloads to other peers")
	host         = flag.String("host", "", "Hostname to announce to the index server (default: os.Hostname())")
	stallTimeout = flag.Duration("stall-timeout", 10*time.Second, "How long a download may sit without data before it is abandoned")
)

func main() {
	flag.Parse()

	if *dirname == "" {
		log.Fatalf("The flag `--dir` must be provided")
	}

	node, err := peer.Start(context.Background(), peer.Config{
		ServerAddr:   *serverAddr,
		Dir:          *dirname,
		ListenAddr:   *listenAddr,
		Host:         *host,
		StallTimeout: *stallTimeout,
	})
	if err != nil {
		log.Fatalf("Could not start the peer: %v", err)
	}

	log.Printf("Commands: list | lookup <number> | get <number> | quit")

	if err := peer.NewCLI(node, os.Stdin, os.Stdout, nil).Run(); err != nil {
		log.Fatalf("The command loop failed: %v", err)
	}
}
