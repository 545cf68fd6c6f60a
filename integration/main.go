// Package integration wires the index server's pieces together so
// that main() and the end-to-end tests share the exact same startup
// path.
package integration

import (
	"io"
	"log"

	"github.com/rfclab/peerdex/server"
	"github.com/rfclab/peerdex/web"
)

// InitArgs are the arguments to InitAndServe.
type InitArgs struct {
	LogWriter io.Writer

	// ListenAddr is the TCP address the peer-facing protocol listens
	// on.
	ListenAddr string

	// DebugListenAddr is the optional HTTP status endpoint address.
	// Empty disables it.
	DebugListenAddr string
}

// InitAndServe starts the index server and blocks until its listener
// fails.
func InitAndServe(a InitArgs) error {
	logger := log.New(a.LogWriter, "[peerdex] ", log.LstdFlags|log.Lmicroseconds)

	registry := server.NewRegistry()
	defer registry.Close()

	if a.DebugListenAddr != "" {
		go func() {
			logger.Printf("Status endpoint listening on %s", a.DebugListenAddr)
			if err := web.NewServer(logger, registry, a.DebugListenAddr).Serve(); err != nil {
				logger.Printf("Status endpoint failed: %v", err)
			}
		}()
	}

	logger.Printf("Listening connections on %s", a.ListenAddr)
	return server.NewServer(logger, registry).ListenAndServe(a.ListenAddr)
}
