package operator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// TerminalInteractor reads decisions from an interactive terminal. The
// operator answers with /yes or /no; anything else reprompts.
type TerminalInteractor struct {
	in  *bufio.Scanner
	out io.Writer
	mu  sync.Mutex
}

func NewTerminalInteractor(in io.Reader, out io.Writer) *TerminalInteractor {
	return &TerminalInteractor{
		in:  bufio.NewScanner(in),
		out: out,
	}
}

// Decide prints the question and blocks on stdin until the operator types
// /yes or /no. Cancellation is checked between reads; a blocked terminal
// read itself cannot be interrupted, so the answer after cancel is dropped.
func (t *TerminalInteractor) Decide(ctx context.Context, question string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintf(t.out, "%s [/yes | /no]: ", question)
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if !t.in.Scan() {
			if err := t.in.Err(); err != nil {
				return false, fmt.Errorf("read answer: %w", err)
			}
			return false, io.EOF
		}
		switch strings.TrimSpace(t.in.Text()) {
		case "/yes":
			return true, nil
		case "/no":
			return false, nil
		default:
			fmt.Fprintf(t.out, "please answer /yes or /no: ")
		}
	}
}

func (t *TerminalInteractor) Send(ctx context.Context, message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := fmt.Fprintln(t.out, message)
	return err
}
