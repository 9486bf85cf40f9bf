package serialport

import (
	"io"
	"os"

	"golang.org/x/term"
)

// StdioLink joins stdin and stdout into one link. When stdin is a terminal
// it is switched to raw mode so control bytes pass through unmodified.
type StdioLink struct {
	in    *os.File
	out   io.Writer
	state *term.State
}

func Stdio(in *os.File, out io.Writer) (*StdioLink, error) {
	l := &StdioLink{in: in, out: out}
	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		st, err := term.MakeRaw(fd)
		if err != nil {
			return nil, err
		}
		l.state = st
	}
	return l, nil
}

func (l *StdioLink) Read(p []byte) (int, error)  { return l.in.Read(p) }
func (l *StdioLink) Write(p []byte) (int, error) { return l.out.Write(p) }

// Raw reports whether the terminal was switched to raw mode.
func (l *StdioLink) Raw() bool { return l.state != nil }

// Close restores the terminal. stdin and stdout stay open.
func (l *StdioLink) Close() error {
	if l.state == nil {
		return nil
	}
	st := l.state
	l.state = nil
	return term.Restore(int(l.in.Fd()), st)
}
