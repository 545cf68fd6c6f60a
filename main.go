package main

import (
	"flag"
	"log"
	"os"

	"github.com/rfclab/peerdex/integration"
)

var (
	listenAddr      = flag.String("listen", ":7734", "TCP address for the peer-facing protocol")
	debugListenAddr = flag.String("debug-listen", "", "Optional HTTP status endpoint address (empty to disable)")
)

func main() {
	flag.Parse()

	if err := integration.InitAndServe(integration.InitArgs{
		LogWriter:       os.Stderr,
		ListenAddr:      *listenAddr,
		DebugListenAddr: *debugListenAddr,
	}); err != nil {
		log.Fatalf("The index server failed: %v", err)
	}
}
