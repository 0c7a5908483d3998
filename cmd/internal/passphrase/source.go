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

// ErrMismatch is returned when the confirmation prompt does not repeat the
// first entry.
var ErrMismatch = errors.New("custody passphrases do not match")

// Source supplies the custody keystore passphrase. The environment variable
// wins; otherwise the operator is prompted on the terminal. The first result
// is cached.
type Source struct {
	envVar  string
	confirm bool

	stdin        int
	prompts      io.Writer
	isTerminal   func(fd int) bool
	readPassword func(fd int) ([]byte, error)

	once  sync.Once
	value string
	err   error
}

// Option customises a Source.
type Option func(*Source)

// WithConfirmation asks for the passphrase twice. Used when a new custody
// keystore is about to be written.
func WithConfirmation() Option {
	return func(s *Source) { s.confirm = true }
}

// WithTerminal replaces the terminal hooks. Tests use it to script prompts.
func WithTerminal(prompts io.Writer, isTerminal func(fd int) bool, readPassword func(fd int) ([]byte, error)) Option {
	return func(s *Source) {
		if prompts != nil {
			s.prompts = prompts
		}
		if isTerminal != nil {
			s.isTerminal = isTerminal
		}
		if readPassword != nil {
			s.readPassword = readPassword
		}
	}
}

// NewSource returns a Source reading envVar before falling back to a prompt.
func NewSource(envVar string, opts ...Option) *Source {
	s := &Source{
		envVar:       strings.TrimSpace(envVar),
		stdin:        int(os.Stdin.Fd()),
		prompts:      os.Stderr,
		isTerminal:   term.IsTerminal,
		readPassword: term.ReadPassword,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the passphrase. Environment values are used verbatim and
// whitespace-only values are rejected from either source.
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
	if !s.isTerminal(s.stdin) {
		if s.envVar != "" {
			return "", fmt.Errorf("custody keystore passphrase required; set %s or run interactively", s.envVar)
		}
		return "", errors.New("custody keystore passphrase required and no terminal available")
	}

	first, err := s.prompt("Enter custody keystore passphrase: ")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(first) == "" {
		return "", errors.New("custody keystore passphrase cannot be empty")
	}
	if !s.confirm {
		return first, nil
	}
	second, err := s.prompt("Repeat custody keystore passphrase: ")
	if err != nil {
		return "", err
	}
	if second != first {
		return "", ErrMismatch
	}
	return first, nil
}

func (s *Source) prompt(label string) (string, error) {
	fmt.Fprint(s.prompts, label)
	raw, err := s.readPassword(s.stdin)
	fmt.Fprintln(s.prompts)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return string(raw), nil
}
