// Package termio serialises console output and wraps the terminal queries
// the command line needs.
package termio

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"golang.org/x/term"
)

type item struct {
	buf  []byte
	done chan struct{}
}

// writer hands writes to a single goroutine so progress lines from transfer
// workers never interleave mid-line.
type writer struct {
	file *os.File
	ch   chan item
}

func (w *writer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	w.ch <- item{buf: buf}
	return len(p), nil
}

// flush waits until everything queued before it has been written.
func (w *writer) flush() {
	done := make(chan struct{})
	w.ch <- item{done: done}
	<-done
}

func newWriter(f *os.File) *writer {
	w := &writer{
		file: f,
		ch:   make(chan item, 1024),
	}
	go func() {
		for it := range w.ch {
			if it.done != nil {
				close(it.done)
				continue
			}
			_, _ = w.file.Write(it.buf)
		}
	}()
	return w
}

type manager struct {
	once   sync.Once
	stdout *writer
	stderr *writer
	stdin  *bufio.Reader
}

var global manager

// Init starts the output goroutines. It is safe to call more than once.
func Init() {
	global.once.Do(func() {
		global.stdout = newWriter(os.Stdout)
		global.stderr = newWriter(os.Stderr)
		global.stdin = bufio.NewReader(os.Stdin)
	})
}

func Stdout() io.Writer {
	Init()
	return global.stdout
}

func Stderr() io.Writer {
	Init()
	return global.stderr
}

// Flush blocks until queued output has reached the terminal.
func Flush() {
	Init()
	global.stdout.flush()
	global.stderr.flush()
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// StdoutIsTerminal reports whether standard output is a terminal.
func StdoutIsTerminal() bool {
	return IsTerminal(os.Stdout)
}

// StdinIsTerminal reports whether standard input is a terminal.
func StdinIsTerminal() bool {
	return IsTerminal(os.Stdin)
}

// ReadPassword prints prompt on stderr and reads a line without echo.
func ReadPassword(prompt string) (string, error) {
	if !StdinIsTerminal() {
		return "", errors.New("password required but standard input is not a terminal")
	}
	fmt.Fprint(Stderr(), prompt)
	Flush()
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(Stderr())
	if err != nil {
		return "", errors.Wrap(err, "read password")
	}
	return string(pw), nil
}

// Prompt prints question on stderr and returns the trimmed answer line.
func Prompt(question string) (string, error) {
	Init()
	fmt.Fprint(Stderr(), question)
	Flush()
	line, err := global.stdin.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", errors.Wrap(err, "read answer")
	}
	return strings.TrimSpace(line), nil
}
