// Package web is the optional HTTP status endpoint of the index
// server: read-only JSON snapshots of the registry for operators. It
// is not part of the peer-facing protocol.
package web

import (
	"encoding/json"
	"log"

	"github.com/rfclab/peerdex/server"
	"github.com/valyala/fasthttp"
)

// Server implements the status web server.
type Server struct {
	logger     *log.Logger
	registry   *server.Registry
	listenAddr string
}

// NewServer creates *Server
func NewServer(logger *log.Logger, registry *server.Registry, listenAddr string) *Server {
	return &Server{
		logger:     logger,
		registry:   registry,
		listenAddr: listenAddr,
	}
}

type documentEntry struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
}

type peerEntry struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (s *Server) handler(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case "/documents":
		s.documentsHandler(ctx)
	case "/peers":
		s.peersHandler(ctx)
	default:
		ctx.WriteString("peerdex index server status endpoint: /documents, /peers\n")
	}
}

// documentsHandler dumps every (document, owner) record currently in
// the registry, in the same order a LIST response would use.
func (s *Server) documentsHandler(ctx *fasthttp.RequestCtx) {
	recs, err := s.registry.List()
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.WriteString(err.Error())
		return
	}

	res := make([]documentEntry, 0, len(recs))
	for _, rec := range recs {
		res = append(res, documentEntry{
			Number: rec.Number,
			Title:  rec.Title,
			Host:   rec.Owner.Host,
			Port:   rec.Owner.Port,
		})
	}

	json.NewEncoder(ctx).Encode(res)
}

func (s *Server) peersHandler(ctx *fasthttp.RequestCtx) {
	peers, err := s.registry.Peers()
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.WriteString(err.Error())
		return
	}

	res := make([]peerEntry, 0, len(peers))
	for _, id := range peers {
		res = append(res, peerEntry{Host: id.Host, Port: id.Port})
	}

	json.NewEncoder(ctx).Encode(res)
}

// Serve listens to HTTP connections
func (s *Server) Serve() error {
	return fasthttp.ListenAndServe(s.listenAddr, s.handler)
}
