// Package console is the operator-facing terminal surface: it shows
// confirmation prompts and reads accept/deny answers from stdin.
package console

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"github.com/actiongate/actiongate/internal/request"
)

var (
	promptColor = color.New(color.FgYellow, color.Bold)
	infoColor   = color.New(color.FgCyan)
	okColor     = color.New(color.FgGreen)
	denyColor   = color.New(color.FgRed)
)

// Terminal implements request.Confirmer and request.Indicator over a line
// oriented reader/writer pair, normally stdin and stdout.
type Terminal struct {
	in  io.Reader
	out io.Writer
	log zerolog.Logger

	mu      sync.Mutex
	resolve func(accept bool) bool
}

// NewTerminal creates a terminal surface. The resolve function is attached
// afterwards because the request controller needs the confirmer first.
func NewTerminal(in io.Reader, out io.Writer, log zerolog.Logger) *Terminal {
	return &Terminal{in: in, out: out, log: log}
}

// SetResolve attaches the controller's resolve function.
func (t *Terminal) SetResolve(fn func(accept bool) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resolve = fn
}

// Show implements request.Confirmer.
func (t *Terminal) Show(p request.Prompt) {
	t.mu.Lock()
	defer t.mu.Unlock()
	promptColor.Fprintf(t.out, "\n[%s] The agent wants to %s\n", p.Action, p.Text)
	if p.Timeout > 0 {
		infoColor.Fprintf(t.out, "Answer within %s. ", p.Timeout)
	}
	fmt.Fprintln(t.out, "Accept? [y/n]")
}

// Say prints a message from the agent.
func (t *Terminal) Say(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	okColor.Fprintf(t.out, "agent: %s\n", message)
}

// SetPending implements request.Indicator.
func (t *Terminal) SetPending(p request.Prompt) {}

// SetIdle implements request.Indicator.
func (t *Terminal) SetIdle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	infoColor.Fprintln(t.out, "(no approval pending)")
}

// Run reads answers line by line until the reader is exhausted. Meant to be
// run on its own goroutine for the life of the process.
func (t *Terminal) Run() {
	scanner := bufio.NewScanner(t.in)
	for scanner.Scan() {
		t.answer(strings.ToLower(strings.TrimSpace(scanner.Text())))
	}
}

func (t *Terminal) answer(line string) {
	var accept bool
	switch line {
	case "y", "yes", "accept":
		accept = true
	case "n", "no", "deny":
		accept = false
	case "":
		return
	default:
		t.mu.Lock()
		fmt.Fprintln(t.out, "Please answer y or n.")
		t.mu.Unlock()
		return
	}

	t.mu.Lock()
	resolve := t.resolve
	t.mu.Unlock()
	if resolve == nil {
		return
	}

	resolved := resolve(accept)
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case !resolved:
		fmt.Fprintln(t.out, "Nothing is awaiting approval.")
	case accept:
		okColor.Fprintln(t.out, "Accepted.")
	default:
		denyColor.Fprintln(t.out, "Denied.")
	}
}
