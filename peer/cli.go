package peer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// CLI is the interactive command surface of a peer node: a thin
// dispatcher that turns text commands into node operations and prints
// one line per outcome. It does not own the node beyond the quit
// command.
type CLI struct {
	node *Node
	in   io.Reader
	out  io.Writer
	quit func()
}

// NewCLI creates a CLI over a running node. in and out are the I/O
// streams; quit is invoked once when the user asks to leave.
func NewCLI(node *Node, in io.Reader, out io.Writer, quit func()) *CLI {
	if quit == nil {
		quit = func() {}
	}

	return &CLI{node: node, in: in, out: out, quit: quit}
}

// Run reads commands from the input stream until it ends or the user
// quits.
func (cli *CLI) Run() error {
	sc := bufio.NewScanner(cli.in)
	for sc.Scan() {
		if err := cli.RunLine(sc.Text()); err == io.EOF {
			return nil
		}
	}

	return sc.Err()
}

// RunLine executes a single command line: list, lookup <n>, get <n>
// or quit. Unknown commands and bad arguments get a usage hint;
// failures get a one-line explanation. The returned error is io.EOF
// after quit and nil otherwise: command failures are already reported
// on the output stream.
func (cli *CLI) RunLine(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	ctx := context.Background()

	switch fields[0] {
	case "list":
		recs, err := cli.node.List(ctx)
		if err != nil {
			fmt.Fprintf(cli.out, "list failed: %v\n", err)
			return nil
		}

		fmt.Fprintf(cli.out, "%d documents\n", len(recs))
		for _, rec := range recs {
			fmt.Fprintf(cli.out, "%d %s %s\n", rec.Number, rec.Title, rec.Owner)
		}

	case "lookup":
		number, ok := cli.numberArg(fields, "lookup <number>")
		if !ok {
			return nil
		}

		recs, err := cli.node.Lookup(ctx, number)
		if err != nil {
			fmt.Fprintf(cli.out, "lookup failed: %v\n", err)
			return nil
		}

		if len(recs) == 0 {
			fmt.Fprintf(cli.out, "document %d not found\n", number)
			return nil
		}

		for _, rec := range recs {
			fmt.Fprintf(cli.out, "%d %s %s\n", rec.Number, rec.Title, rec.Owner)
		}

	case "get":
		number, ok := cli.numberArg(fields, "get <number>")
		if !ok {
			return nil
		}

		doc, err := cli.node.Get(ctx, number)
		switch {
		case errors.Is(err, ErrNotListed):
			fmt.Fprintf(cli.out, "document %d not found\n", number)
		case errors.Is(err, ErrOnlyUs):
			fmt.Fprintf(cli.out, "document %d is only served by us\n", number)
		case err != nil:
			fmt.Fprintf(cli.out, "get failed: %v\n", err)
		default:
			fmt.Fprintf(cli.out, "saved %s (%s)\n", doc.Path, doc.Title)
		}

	case "quit":
		if err := cli.node.Close(); err != nil {
			fmt.Fprintf(cli.out, "shutting down: %v\n", err)
		}
		cli.quit()
		return io.EOF

	default:
		fmt.Fprintf(cli.out, "unknown command %q, try: list | lookup <number> | get <number> | quit\n", fields[0])
	}

	return nil
}

func (cli *CLI) numberArg(fields []string, usage string) (int, bool) {
	if len(fields) != 2 {
		fmt.Fprintf(cli.out, "usage: %s\n", usage)
		return 0, false
	}

	n, err := strconv.Atoi(fields[1])
	if err != nil || n < 0 {
		fmt.Fprintf(cli.out, "%q is not a document number, usage: %s\n", fields[1], usage)
		return 0, false
	}

	return n, true
}
