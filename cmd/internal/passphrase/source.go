package passphrase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source resolves a keystore passphrase once, from an environment variable
// or an interactive prompt, and caches the result.
type Source struct {
	envVar string
	label  string

	// terminal is the descriptor prompted on; prompts are written to out.
	terminal int
	out      io.Writer

	once  sync.Once
	value string
	err   error
}

// NewSource checks envVar before prompting on stdin. label names the
// keystore in prompts and errors, e.g. "wallet" or "oracle".
func NewSource(envVar, label string) *Source {
	label = strings.TrimSpace(label)
	if label == "" {
		label = "keystore"
	}
	return &Source{
		envVar:   strings.TrimSpace(envVar),
		label:    label,
		terminal: int(os.Stdin.Fd()),
		out:      os.Stderr,
	}
}

// Get returns the passphrase. Whitespace-only values are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}
	if !term.IsTerminal(s.terminal) {
		if s.envVar != "" {
			return "", fmt.Errorf("%s passphrase required; set %s or run interactively", s.label, s.envVar)
		}
		return "", fmt.Errorf("%s passphrase required and no terminal available", s.label)
	}

	fmt.Fprintf(s.out, "Enter %s passphrase: ", s.label)
	raw, err := term.ReadPassword(s.terminal)
	fmt.Fprintln(s.out)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	value := string(raw)
	if strings.TrimSpace(value) == "" {
		return "", errors.New(s.label + " passphrase cannot be empty")
	}
	return value, nil
}
