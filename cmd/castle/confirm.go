package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

// stdinConfirmer asks the operator to type "yes" before a trading run.
// Without a terminal it always declines.
type stdinConfirmer struct {
	in    io.Reader
	out   io.Writer
	isTTY func() bool
}

func newStdinConfirmer() *stdinConfirmer {
	return &stdinConfirmer{
		in:    os.Stdin,
		out:   os.Stderr,
		isTTY: func() bool { return term.IsTerminal(int(os.Stdin.Fd())) },
	}
}

// Confirm implements ports.Confirmer.
func (c *stdinConfirmer) Confirm(prompt string) bool {
	if !c.isTTY() {
		slog.Warn("confirmation requires an interactive terminal, declining")
		return false
	}

	fmt.Fprintf(c.out, "%s\nType 'yes' to continue: ", prompt)
	line, err := bufio.NewReader(c.in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line), "yes")
}
