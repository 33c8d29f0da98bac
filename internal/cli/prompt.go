package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
)

// ErrCancelled is returned when the user interrupts a prompt.
var ErrCancelled = errors.New("cancelled")

// LineReader reads one line at a time. *readline.Instance implements it.
type LineReader interface {
	Readline() (string, error)
	Close() error
}

// NewLineReader creates a readline prompt on the terminal.
func NewLineReader(prompt string) (LineReader, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline instance: %w", err)
	}
	return rl, nil
}

// ReadRedirect reads lines until one is accepted and returns it. Empty lines
// are skipped; rejected lines print hint to out. Ctrl+C or Ctrl+D return
// ErrCancelled.
func ReadRedirect(r LineReader, out io.Writer, accept func(string) bool, hint string) (string, error) {
	for {
		line, err := r.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt), errors.Is(err, io.EOF):
			return "", ErrCancelled
		case err != nil:
			return "", fmt.Errorf("readline error: %w", err)
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if accept(input) {
			return input, nil
		}
		if hint != "" {
			_, _ = fmt.Fprintln(out, hint)
		}
	}
}
