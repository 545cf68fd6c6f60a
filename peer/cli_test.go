package peer

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestCLIListAndLookup(t *testing.T) {
	_, addr := startIndexServer(t)

	dir := t.TempDir()
	writeFile(t, dir, "rfc123.txt", "TCP/IP Illustrated\n")
	node := startNode(t, addr, dir)

	var out bytes.Buffer
	cli := NewCLI(node, strings.NewReader(""), &out, nil)

	if err := cli.RunLine("list"); err != nil {
		t.Fatalf("RunLine(list) = %v, want no errors", err)
	}
	if got := out.String(); !strings.Contains(got, "1 documents") || !strings.Contains(got, "123 TCP/IP Illustrated") {
		t.Errorf("list printed %q, want the count and the record", got)
	}

	out.Reset()
	if err := cli.RunLine("lookup 999"); err != nil {
		t.Fatalf("RunLine(lookup 999) = %v, want no errors", err)
	}
	if got := out.String(); !strings.Contains(got, "not found") {
		t.Errorf("lookup of an unknown document printed %q, want a not-found line", got)
	}
}

func TestCLIRejectsBadInput(t *testing.T) {
	_, addr := startIndexServer(t)
	node := startNode(t, addr, t.TempDir())

	var out bytes.Buffer
	cli := NewCLI(node, strings.NewReader(""), &out, nil)

	for _, line := range []string{"dance", "lookup", "lookup x", "get", "get -1"} {
		out.Reset()
		if err := cli.RunLine(line); err != nil {
			t.Fatalf("RunLine(%q) = %v, want no errors", line, err)
		}
		if out.Len() == 0 {
			t.Errorf("RunLine(%q) printed nothing, want a usage hint", line)
		}
	}
}

func TestCLIQuit(t *testing.T) {
	_, addr := startIndexServer(t)
	node := startNode(t, addr, t.TempDir())

	quit := make(chan struct{}, 1)

	var out bytes.Buffer
	cli := NewCLI(node, strings.NewReader("quit\n"), &out, func() { quit <- struct{}{} })

	if err := cli.Run(); err != nil {
		t.Fatalf("Run() = %v, want no errors", err)
	}

	select {
	case <-quit:
	default:
		t.Errorf("Run() finished without invoking the quit hook")
	}

	if err := cli.RunLine("quit"); err != io.EOF {
		t.Errorf("RunLine(quit) = %v, want io.EOF", err)
	}
}
