package peer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/rfclab/peerdex/client"
	"github.com/rfclab/peerdex/protocol"
)

// ErrNotListed means no peer at all serves the requested document.
var ErrNotListed = errors.New("no peer serves that document")

// ErrOnlyUs means the index server only named this very peer as an
// owner, so there is nobody to download from.
var ErrOnlyUs = errors.New("we are the only peer serving that document")

// Config is everything a peer node needs to start. All fields except
// Dir and ServerAddr have usable defaults.
type Config struct {
	// ServerAddr is the index server to register with.
	ServerAddr string

	// Dir is the document directory: scanned at startup, written to
	// by downloads.
	Dir string

	// ListenAddr is where the upload listener binds. Defaults to an
	// ephemeral port on all interfaces.
	ListenAddr string

	// Host is the hostname announced to the index server. Defaults to
	// os.Hostname().
	Host string

	// StallTimeout bounds how long a download may sit without data.
	StallTimeout time.Duration

	Logger *log.Logger
}

// Node is a running peer: the document catalog, the upload listener
// serving it, the registration session that keeps the documents
// listed, and the clients used to query the index and download from
// other peers.
type Node struct {
	logger  *log.Logger
	dir     string
	self    protocol.PeerID
	catalog *Catalog
	lis     net.Listener
	session *client.Session
	index   *client.Index
	fetcher *client.Fetcher
}

// Start brings up a peer node: it scans the document directory, binds
// the upload listener, opens the registration session and announces
// every scanned document before returning.
func Start(ctx context.Context, cfg Config) (*Node, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	docs, err := Scan(cfg.Dir)
	if err != nil {
		return nil, err
	}

	listenAddr := cfg.ListenAddr
	if listenAddr == "" {
		listenAddr = ":0"
	}

	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("binding the upload listener on %q: %v", listenAddr, err)
	}

	host := cfg.Host
	if host == "" {
		if host, err = os.Hostname(); err != nil {
			lis.Close()
			return nil, fmt.Errorf("resolving our own hostname: %v", err)
		}
	}

	self := protocol.PeerID{
		Host: host,
		Port: lis.Addr().(*net.TCPAddr).Port,
	}

	sess, err := client.Connect(ctx, cfg.ServerAddr, self)
	if err != nil {
		lis.Close()
		return nil, err
	}

	n := &Node{
		logger:  logger,
		dir:     cfg.Dir,
		self:    self,
		catalog: NewCatalog(docs),
		lis:     lis,
		session: sess,
		index:   client.NewIndex(cfg.ServerAddr),
		fetcher: &client.Fetcher{Logger: logger, StallTimeout: cfg.StallTimeout},
	}
	n.index.Logger = logger
	sess.Logger = logger

	for _, doc := range docs {
		if err := sess.Add(ctx, doc.Number, doc.Title); err != nil {
			n.Close()
			return nil, fmt.Errorf("announcing document %d: %v", doc.Number, err)
		}
	}

	go NewUploadServer(logger, n.catalog).Serve(lis)

	logger.Printf("Peer %s is up, serving %d documents from %s", self, len(docs), cfg.Dir)
	return n, nil
}

// Self returns the identity this node registers documents under.
func (n *Node) Self() protocol.PeerID {
	return n.self
}

// Catalog returns the node's document catalog.
func (n *Node) Catalog() *Catalog {
	return n.catalog
}

// List returns every record the index server knows.
func (n *Node) List(ctx context.Context) ([]protocol.Record, error) {
	return n.index.List(ctx)
}

// Lookup returns one record per peer serving the given document.
func (n *Node) Lookup(ctx context.Context, number int) ([]protocol.Record, error) {
	return n.index.Lookup(ctx, number)
}

// Get downloads a document from whichever peer serves it: it looks the
// number up, tries the listed owners in order skipping ourselves, and
// on the first complete transfer stores the file in the document
// directory and announces it to the index server. A failed or partial
// transfer leaves nothing behind and just moves on to the next owner.
func (n *Node) Get(ctx context.Context, number int) (Document, error) {
	recs, err := n.index.Lookup(ctx, number)
	if err != nil {
		return Document{}, err
	}

	if len(recs) == 0 {
		return Document{}, fmt.Errorf("document %d: %w", number, ErrNotListed)
	}

	var tried int
	for _, rec := range recs {
		if rec.Owner == n.self {
			continue
		}
		tried++

		doc, err := n.download(ctx, rec.Owner, number)
		if err != nil {
			n.logger.Printf("Downloading document %d from %s failed: %v", number, rec.Owner, err)
			continue
		}

		n.catalog.Put(doc)
		if err := n.session.Add(ctx, doc.Number, doc.Title); err != nil {
			return doc, fmt.Errorf("the download succeeded but announcing it did not: %v", err)
		}

		return doc, nil
	}

	if tried == 0 {
		return Document{}, fmt.Errorf("document %d: %w", number, ErrOnlyUs)
	}

	return Document{}, fmt.Errorf("could not download document %d from any of the %d peers serving it", number, tried)
}

// download fetches one document from one owner into the document
// directory. The body goes to a scratch file first and is only moved
// to its real name once every promised byte arrived, so a dropped
// transfer never leaves a half-written document behind.
func (n *Node) download(ctx context.Context, owner protocol.PeerID, number int) (Document, error) {
	path := filepath.Join(n.dir, DocumentFileName(number))
	partial := path + ".partial"

	fp, err := os.Create(partial)
	if err != nil {
		return Document{}, fmt.Errorf("creating %q: %v", partial, err)
	}

	title, _, err := n.fetcher.Fetch(ctx, owner, number, fp)
	if cerr := fp.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("closing %q: %v", partial, cerr)
	}
	if err != nil {
		os.Remove(partial)
		return Document{}, err
	}

	if err := os.Rename(partial, path); err != nil {
		os.Remove(partial)
		return Document{}, fmt.Errorf("moving the downloaded document into place: %v", err)
	}

	return Document{Number: number, Title: title, Path: path}, nil
}

// Close shuts the node down: the registration session closes, which
// makes the index server forget everything we announced, and the
// upload listener stops accepting.
func (n *Node) Close() error {
	serr := n.session.Close()
	lerr := n.lis.Close()

	if serr != nil {
		return serr
	}
	return lerr
}
