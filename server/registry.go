package server

import (
	"errors"
	"sort"
	"sync"

	"github.com/rfclab/peerdex/protocol"
)

// ErrRegistryClosed is returned by all registry operations after Close.
var ErrRegistryClosed = errors.New("the registry is shut down")

// Registry is the in-memory index of which peer serves which document.
// It keeps two views of the same facts: documents by number and
// documents by owner, so that a lookup and a disconnect are both cheap.
// Both views are always updated together, so every listed owner is a
// known peer and known peers own at least one document.
type Registry struct {
	// mu protects everything below
	mu     sync.Mutex
	closed bool
	docs   map[int]map[protocol.PeerID]string
	owned  map[protocol.PeerID]map[int]bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		docs:  make(map[int]map[protocol.PeerID]string),
		owned: make(map[protocol.PeerID]map[int]bool),
	}
}

// Add registers owner as serving the given document. Re-adding the
// same document is not an error: the stored title is replaced and the
// registry is otherwise unchanged.
func (r *Registry) Add(number int, title string, owner protocol.PeerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}

	owners, ok := r.docs[number]
	if !ok {
		owners = make(map[protocol.PeerID]string)
		r.docs[number] = owners
	}
	owners[owner] = title

	numbers, ok := r.owned[owner]
	if !ok {
		numbers = make(map[int]bool)
		r.owned[owner] = numbers
	}
	numbers[number] = true

	return nil
}

// Lookup returns one record per peer that currently serves the given
// document, sorted by owner. An unknown number is not an error: the
// result is simply empty.
func (r *Registry) Lookup(number int) ([]protocol.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}

	var recs []protocol.Record
	for owner, title := range r.docs[number] {
		recs = append(recs, protocol.Record{Number: number, Title: title, Owner: owner})
	}

	sortRecords(recs)
	return recs, nil
}

// List returns every (document, owner) entry in the registry, sorted
// by document number and then by owner.
func (r *Registry) List() ([]protocol.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}

	var recs []protocol.Record
	for number, owners := range r.docs {
		for owner, title := range owners {
			recs = append(recs, protocol.Record{Number: number, Title: title, Owner: owner})
		}
	}

	sortRecords(recs)
	return recs, nil
}

// Peers returns the peers that currently own at least one document,
// sorted by host and port.
func (r *Registry) Peers() ([]protocol.PeerID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}

	var peers []protocol.PeerID
	for owner := range r.owned {
		peers = append(peers, owner)
	}

	sort.Slice(peers, func(i, j int) bool { return lessPeer(peers[i], peers[j]) })
	return peers, nil
}

// RemovePeer drops every record owned by the given peer and returns
// how many documents that removed. Removing a peer that owns nothing
// is not an error.
func (r *Registry) RemovePeer(owner protocol.PeerID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, ErrRegistryClosed
	}

	numbers := r.owned[owner]
	for number := range numbers {
		owners := r.docs[number]
		delete(owners, owner)
		if len(owners) == 0 {
			delete(r.docs, number)
		}
	}
	delete(r.owned, owner)

	return len(numbers), nil
}

// Close marks the registry as shut down. All subsequent operations
// return ErrRegistryClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
}

func sortRecords(recs []protocol.Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Number != recs[j].Number {
			return recs[i].Number < recs[j].Number
		}

		return lessPeer(recs[i].Owner, recs[j].Owner)
	})
}

func lessPeer(a, b protocol.PeerID) bool {
	if a.Host != b.Host {
		return a.Host < b.Host
	}

	return a.Port < b.Port
}
