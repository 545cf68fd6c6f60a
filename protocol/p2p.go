package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// GetRequest asks a peer for the contents of one document.
type GetRequest struct {
	Number int
}

// GetResponse is the header block a peer sends back before the
// document body. Title and Length are only meaningful for StatusOK;
// exactly Length body bytes follow the block on the wire.
type GetResponse struct {
	Status Status
	Title  string
	Length int64
}

// EncodeGetRequest serializes a GET line, including the terminating
// CRLF.
func EncodeGetRequest(req GetRequest) (string, error) {
	if req.Number < 0 {
		return "", fmt.Errorf("encode GET: negative document number %d", req.Number)
	}

	return fmt.Sprintf("GET %d%s", req.Number, crlf), nil
}

// ParseGetRequest parses one GET line, as read off the wire including
// the terminating CRLF.
func ParseGetRequest(line string) (GetRequest, error) {
	parts, err := splitLine(line)
	if err != nil {
		return GetRequest{}, err
	}

	if parts[0] != "GET" {
		return GetRequest{}, fmt.Errorf("%w: unknown verb %q", ErrMalformed, parts[0])
	}

	if len(parts) != 2 {
		return GetRequest{}, fmt.Errorf("%w: GET takes exactly one argument", ErrMalformed)
	}

	n, err := parseNumber(parts[1])
	if err != nil {
		return GetRequest{}, err
	}

	return GetRequest{Number: n}, nil
}

// EncodeGetResponse serializes the response header block. The header
// layout is fixed: a successful response carries exactly the Title and
// Content-Length lines in that order, any other status carries no
// header lines at all.
func EncodeGetResponse(resp GetResponse) (string, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %d %s%s", Version, resp.Status, resp.Status.Reason(), crlf)

	if resp.Status == StatusOK {
		if err := validTitle(resp.Title); err != nil {
			return "", fmt.Errorf("encode GET response: %v", err)
		}
		if resp.Length < 0 {
			return "", fmt.Errorf("encode GET response: negative content length %d", resp.Length)
		}
		fmt.Fprintf(&b, "Title: %s%s", resp.Title, crlf)
		fmt.Fprintf(&b, "Content-Length: %d%s", resp.Length, crlf)
	}

	b.WriteString(crlf)
	return b.String(), nil
}

// ParseGetResponse parses the response header block, as read off the
// wire including the terminating blank line. The body is not part of
// the block and stays on the connection.
func ParseGetResponse(block string) (GetResponse, error) {
	lines, err := splitBlock(block)
	if err != nil {
		return GetResponse{}, err
	}

	st, err := parseStatusLine(lines[0])
	if err != nil {
		return GetResponse{}, err
	}

	if st != StatusOK {
		if len(lines) != 1 {
			return GetResponse{}, fmt.Errorf("%w: unexpected header lines on a %d response", ErrMalformed, st)
		}
		return GetResponse{Status: st}, nil
	}

	if len(lines) != 3 {
		return GetResponse{}, fmt.Errorf("%w: a 200 response carries exactly the Title and Content-Length headers", ErrMalformed)
	}

	title, ok := cutPrefix(lines[1], "Title: ")
	if !ok {
		return GetResponse{}, fmt.Errorf("%w: expected a Title header, got %q", ErrMalformed, lines[1])
	}
	if err := validTitle(title); err != nil {
		return GetResponse{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	lengthStr, ok := cutPrefix(lines[2], "Content-Length: ")
	if !ok {
		return GetResponse{}, fmt.Errorf("%w: expected a Content-Length header, got %q", ErrMalformed, lines[2])
	}

	length, err := strconv.ParseInt(lengthStr, 10, 64)
	if err != nil || length < 0 {
		return GetResponse{}, fmt.Errorf("%w: %q is not a valid content length", ErrMalformed, lengthStr)
	}

	return GetResponse{Status: st, Title: title, Length: length}, nil
}

func cutPrefix(s, prefix string) (string, bool) {
	if !strings.HasPrefix(s, prefix) {
		return s, false
	}

	return s[len(prefix):], true
}
