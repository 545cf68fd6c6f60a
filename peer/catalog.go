package peer

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"
)

// maxTitleLen caps how much of a document's first line becomes its
// announced title.
const maxTitleLen = 80

// Document is one locally held document: its number, the title it is
// announced under and where its bytes live on disk.
type Document struct {
	Number int
	Title  string
	Path   string
}

// Catalog is the set of documents this peer serves. It only ever
// grows: scanning fills it at startup and every successful download
// adds one more entry.
type Catalog struct {
	// mu protects docs
	mu   sync.Mutex
	docs map[int]Document
}

// NewCatalog creates a catalog holding the given documents.
func NewCatalog(docs []Document) *Catalog {
	c := &Catalog{docs: make(map[int]Document)}
	for _, doc := range docs {
		c.docs[doc.Number] = doc
	}

	return c
}

// Get returns the document with the given number, if the peer has it.
func (c *Catalog) Get(number int) (Document, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, ok := c.docs[number]
	return doc, ok
}

// Put adds a document to the catalog, replacing any previous entry
// with the same number.
func (c *Catalog) Put(doc Document) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.docs[doc.Number] = doc
}

// All returns every document in the catalog, sorted by number.
func (c *Catalog) All() []Document {
	c.mu.Lock()
	defer c.mu.Unlock()

	docs := make([]Document, 0, len(c.docs))
	for _, doc := range c.docs {
		docs = append(docs, doc)
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].Number < docs[j].Number })
	return docs
}

// DocumentFileName returns the file name a document is stored under
// inside a peer's document directory.
func DocumentFileName(number int) string {
	return fmt.Sprintf("rfc%d.txt", number)
}

// Scan enumerates the documents in a directory: files named
// rfc<number>.txt, case-insensitive. The title is the first non-empty
// line of the file, or "RFC <number>" for files that have none. Files
// with other names are ignored. The result is sorted by number.
func Scan(dir string) ([]Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading the document directory %q: %v", dir, err)
	}

	var docs []Document
	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		number, ok := parseDocumentFileName(e.Name())
		if !ok {
			continue
		}

		path := filepath.Join(dir, e.Name())
		docs = append(docs, Document{
			Number: number,
			Title:  readTitle(path, number),
			Path:   path,
		})
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].Number < docs[j].Number })
	return docs, nil
}

func parseDocumentFileName(name string) (int, bool) {
	lower := strings.ToLower(name)
	if !strings.HasPrefix(lower, "rfc") || !strings.HasSuffix(lower, ".txt") {
		return 0, false
	}

	n, err := strconv.Atoi(lower[len("rfc") : len(lower)-len(".txt")])
	if err != nil || n < 0 {
		return 0, false
	}

	return n, true
}

// readTitle extracts the announced title from the first non-empty line
// of the file. The line is squeezed to single spaces and capped so
// that it stays a single line of the wire protocol.
func readTitle(path string, number int) string {
	fallback := fmt.Sprintf("RFC %d", number)

	fp, err := os.Open(path)
	if err != nil {
		return fallback
	}
	defer fp.Close()

	sc := bufio.NewScanner(fp)
	for sc.Scan() {
		title := strings.Join(strings.Fields(sc.Text()), " ")
		if title == "" {
			continue
		}

		if len(title) > maxTitleLen {
			// The cap is in bytes, so back off to a rune boundary
			// rather than splitting a multi-byte rune in half.
			cut := maxTitleLen
			for cut > 0 && !utf8.RuneStart(title[cut]) {
				cut--
			}
			title = strings.TrimRight(title[:cut], " ")
			if title == "" {
				return fallback
			}
		}

		return title
	}

	return fallback
}
