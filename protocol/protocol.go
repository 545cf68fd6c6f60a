package protocol

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Version is the protocol version token that starts every response
// status line on both the peer-to-server and the peer-to-peer wire.
const Version = "P2P-CI/1.0"

const crlf = "\r\n"

// ErrMalformed is returned by the parsing functions when the input does
// not match the wire grammar exactly. Parsers never partially succeed.
var ErrMalformed = errors.New("malformed message")

// Status is a response status code.
type Status int

const (
	StatusOK         Status = 200
	StatusBadRequest Status = 400
	StatusNotFound   Status = 404
)

// Reason returns the canonical reason phrase for the status code.
func (s Status) Reason() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusBadRequest:
		return "Bad Request"
	case StatusNotFound:
		return "Not Found"
	}

	return "Unknown"
}

func parseStatus(code string) (Status, error) {
	n, err := strconv.Atoi(code)
	if err != nil {
		return 0, fmt.Errorf("%w: non-numeric status code %q", ErrMalformed, code)
	}

	st := Status(n)
	switch st {
	case StatusOK, StatusBadRequest, StatusNotFound:
		return st, nil
	}

	return 0, fmt.Errorf("%w: unknown status code %d", ErrMalformed, n)
}

// PeerID identifies a peer by the address of its upload listener.
// It is a value type so that registry entries can be compared and
// removed independently of any live connection.
type PeerID struct {
	Host string
	Port int
}

// Addr returns the id in a form suitable for dialing.
func (id PeerID) Addr() string {
	return net.JoinHostPort(id.Host, strconv.Itoa(id.Port))
}

func (id PeerID) String() string { return id.Addr() }

// Record is one (document, owner) entry as it appears on the wire:
// one line of a LOOKUP or LIST response.
type Record struct {
	Number int
	Title  string
	Owner  PeerID
}

// Command is a peer-to-server request verb.
type Command string

const (
	CmdAdd    Command = "ADD"
	CmdLookup Command = "LOOKUP"
	CmdList   Command = "LIST"
)

// Request is a single peer-to-server request line. Number is set for
// ADD and LOOKUP; Title and Owner only for ADD.
type Request struct {
	Cmd    Command
	Number int
	Title  string
	Owner  PeerID
}

// EncodeRequest serializes the request into its exact wire form,
// including the terminating CRLF. Encoding is injective: equal requests
// produce equal bytes, so ParseRequest(EncodeRequest(r)) == r for every
// valid r.
func EncodeRequest(req Request) (string, error) {
	switch req.Cmd {
	case CmdList:
		return "LIST" + crlf, nil
	case CmdLookup:
		if req.Number < 0 {
			return "", fmt.Errorf("encode LOOKUP: negative document number %d", req.Number)
		}
		return fmt.Sprintf("LOOKUP %d%s", req.Number, crlf), nil
	case CmdAdd:
		if err := validRecord(Record{Number: req.Number, Title: req.Title, Owner: req.Owner}); err != nil {
			return "", fmt.Errorf("encode ADD: %v", err)
		}
		return fmt.Sprintf("ADD %d %s %s %d%s", req.Number, req.Title, req.Owner.Host, req.Owner.Port, crlf), nil
	}

	return "", fmt.Errorf("encode request: unknown command %q", req.Cmd)
}

// ParseRequest parses one request line, as read off the wire including
// the terminating CRLF.
func ParseRequest(line string) (Request, error) {
	parts, err := splitLine(line)
	if err != nil {
		return Request{}, err
	}

	switch Command(parts[0]) {
	case CmdList:
		if len(parts) != 1 {
			return Request{}, fmt.Errorf("%w: LIST takes no arguments", ErrMalformed)
		}
		return Request{Cmd: CmdList}, nil

	case CmdLookup:
		if len(parts) != 2 {
			return Request{}, fmt.Errorf("%w: LOOKUP takes exactly one argument", ErrMalformed)
		}
		n, err := parseNumber(parts[1])
		if err != nil {
			return Request{}, err
		}
		return Request{Cmd: CmdLookup, Number: n}, nil

	case CmdAdd:
		// ADD <number> <title...> <host> <port>: the title may span
		// several tokens, so host and port are taken from the end.
		if len(parts) < 5 {
			return Request{}, fmt.Errorf("%w: ADD takes at least four arguments", ErrMalformed)
		}
		n, err := parseNumber(parts[1])
		if err != nil {
			return Request{}, err
		}
		port, err := parsePort(parts[len(parts)-1])
		if err != nil {
			return Request{}, err
		}
		return Request{
			Cmd:    CmdAdd,
			Number: n,
			Title:  strings.Join(parts[2:len(parts)-2], " "),
			Owner:  PeerID{Host: parts[len(parts)-2], Port: port},
		}, nil
	}

	return Request{}, fmt.Errorf("%w: unknown verb %q", ErrMalformed, parts[0])
}

// Response is a peer-to-server response: a status and zero or more
// records. ADD responses echo the registered record; LOOKUP responses
// carry one record per owner; LIST responses carry the whole registry
// and additionally prefix the records with their total count on the
// wire (see EncodeListResponse).
type Response struct {
	Status  Status
	Records []Record
}

// EncodeResponse serializes an ADD- or LOOKUP-shaped response: status
// line, record lines, terminating blank line.
func EncodeResponse(resp Response) (string, error) {
	return encodeResponse(resp, false)
}

// EncodeListResponse is EncodeResponse with the LIST count line
// between the status line and the records.
func EncodeListResponse(resp Response) (string, error) {
	return encodeResponse(resp, true)
}

func encodeResponse(resp Response, counted bool) (string, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %d %s%s", Version, resp.Status, resp.Status.Reason(), crlf)
	if counted {
		fmt.Fprintf(&b, "%d%s", len(resp.Records), crlf)
	}

	for _, rec := range resp.Records {
		if err := validRecord(rec); err != nil {
			return "", fmt.Errorf("encode response: %v", err)
		}
		fmt.Fprintf(&b, "%d %s %s %d%s", rec.Number, rec.Title, rec.Owner.Host, rec.Owner.Port, crlf)
	}

	b.WriteString(crlf)
	return b.String(), nil
}

// ParseResponse parses an ADD- or LOOKUP-shaped response block, as read
// off the wire including the terminating blank line.
func ParseResponse(block string) (Response, error) {
	resp, rest, err := parseResponseHead(block)
	if err != nil {
		return Response{}, err
	}

	for _, line := range rest {
		rec, err := parseRecordLine(line)
		if err != nil {
			return Response{}, err
		}
		resp.Records = append(resp.Records, rec)
	}

	return resp, nil
}

// ParseListResponse parses a LIST response block and verifies that the
// count line matches the number of records that follow it.
func ParseListResponse(block string) (Response, error) {
	resp, rest, err := parseResponseHead(block)
	if err != nil {
		return Response{}, err
	}

	if len(rest) == 0 {
		return Response{}, fmt.Errorf("%w: LIST response is missing the count line", ErrMalformed)
	}

	count, err := parseNumber(rest[0])
	if err != nil {
		return Response{}, err
	}

	for _, line := range rest[1:] {
		rec, err := parseRecordLine(line)
		if err != nil {
			return Response{}, err
		}
		resp.Records = append(resp.Records, rec)
	}

	if count != len(resp.Records) {
		return Response{}, fmt.Errorf("%w: count line says %d records, got %d", ErrMalformed, count, len(resp.Records))
	}

	return resp, nil
}

func parseResponseHead(block string) (resp Response, rest []string, err error) {
	lines, err := splitBlock(block)
	if err != nil {
		return Response{}, nil, err
	}

	st, err := parseStatusLine(lines[0])
	if err != nil {
		return Response{}, nil, err
	}

	return Response{Status: st}, lines[1:], nil
}

func parseStatusLine(line string) (Status, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return 0, fmt.Errorf("%w: short status line %q", ErrMalformed, line)
	}

	if parts[0] != Version {
		return 0, fmt.Errorf("%w: unsupported version %q", ErrMalformed, parts[0])
	}

	st, err := parseStatus(parts[1])
	if err != nil {
		return 0, err
	}

	if parts[2] != st.Reason() {
		return 0, fmt.Errorf("%w: reason %q does not match status %d", ErrMalformed, parts[2], st)
	}

	return st, nil
}

func parseRecordLine(line string) (Record, error) {
	parts := strings.Split(line, " ")
	for _, p := range parts {
		if p == "" {
			return Record{}, fmt.Errorf("%w: empty token in record line %q", ErrMalformed, line)
		}
	}

	if len(parts) < 4 {
		return Record{}, fmt.Errorf("%w: record line %q needs a number, a title, a host and a port", ErrMalformed, line)
	}

	n, err := parseNumber(parts[0])
	if err != nil {
		return Record{}, err
	}

	port, err := parsePort(parts[len(parts)-1])
	if err != nil {
		return Record{}, err
	}

	return Record{
		Number: n,
		Title:  strings.Join(parts[1:len(parts)-2], " "),
		Owner:  PeerID{Host: parts[len(parts)-2], Port: port},
	}, nil
}

// splitLine checks that line is a single CRLF-terminated line made of
// tokens separated by single spaces and returns the tokens.
func splitLine(line string) ([]string, error) {
	s, ok := cutSuffix(line, crlf)
	if !ok {
		return nil, fmt.Errorf("%w: line %q is not CRLF-terminated", ErrMalformed, line)
	}

	if strings.ContainsAny(s, "\r\n") {
		return nil, fmt.Errorf("%w: unexpected line break inside %q", ErrMalformed, line)
	}

	parts := strings.Split(s, " ")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%w: empty token in line %q", ErrMalformed, line)
		}
	}

	return parts, nil
}

// splitBlock splits a CRLF-separated block that is terminated by a
// blank line into its non-empty lines.
func splitBlock(block string) ([]string, error) {
	s, ok := cutSuffix(block, crlf+crlf)
	if !ok {
		return nil, fmt.Errorf("%w: response block does not end with a blank line", ErrMalformed)
	}

	lines := strings.Split(s, crlf)
	for _, line := range lines {
		if line == "" {
			return nil, fmt.Errorf("%w: unexpected blank line inside a response block", ErrMalformed)
		}
		if strings.ContainsAny(line, "\r\n") {
			return nil, fmt.Errorf("%w: stray CR or LF inside a response line", ErrMalformed)
		}
	}

	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: empty response block", ErrMalformed)
	}

	return lines, nil
}

func cutSuffix(s, suffix string) (string, bool) {
	if !strings.HasSuffix(s, suffix) {
		return s, false
	}

	return s[:len(s)-len(suffix)], true
}

func parseNumber(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q is not a valid document number", ErrMalformed, s)
	}

	return n, nil
}

func parsePort(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 65535 {
		return 0, fmt.Errorf("%w: %q is not a valid port", ErrMalformed, s)
	}

	return n, nil
}

// validRecord rejects values that cannot survive a round-trip through
// the space-separated wire form.
func validRecord(rec Record) error {
	if rec.Number < 0 {
		return fmt.Errorf("negative document number %d", rec.Number)
	}

	if err := validTitle(rec.Title); err != nil {
		return err
	}

	if rec.Owner.Host == "" || strings.IndexFunc(rec.Owner.Host, isSpace) >= 0 {
		return fmt.Errorf("host %q must be a single non-empty token", rec.Owner.Host)
	}

	if rec.Owner.Port < 1 || rec.Owner.Port > 65535 {
		return fmt.Errorf("port %d out of range", rec.Owner.Port)
	}

	return nil
}

func validTitle(title string) error {
	if title == "" {
		return fmt.Errorf("empty title")
	}

	if strings.Join(strings.Fields(title), " ") != title {
		return fmt.Errorf("title %q must be single-space separated words", title)
	}

	return nil
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\r' || r == '\n'
}
