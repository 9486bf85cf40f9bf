// Package serialport provides the byte links the device and the host talk
// over: real terminals, the process's own stdio, and a TCP listener that
// stands in for a USB-serial adapter.
package serialport

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// DefaultBaud matches the firmware's UART setting.
const DefaultBaud = 115200

var ErrTimeout = errors.New("serial read timeout")

type timeoutError struct{}

func (timeoutError) Error() string   { return ErrTimeout.Error() }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
func (timeoutError) Is(err error) bool {
	return err == ErrTimeout
}

type tty interface {
	io.ReadWriteCloser
	SetReadTimeout(d time.Duration) error
}

// Port is an open terminal device. Reads that time out fail with an error
// matching ErrTimeout instead of returning zero bytes.
type Port struct {
	name    string
	t       tty
	mu      sync.Mutex
	timeout time.Duration
}

func newPort(name string, t tty) *Port {
	return &Port{name: name, t: t}
}

func (p *Port) Name() string { return p.name }

func (p *Port) Read(b []byte) (int, error) {
	p.mu.Lock()
	timeout := p.timeout
	p.mu.Unlock()

	n, err := p.t.Read(b)
	if n == 0 && err == nil && len(b) > 0 {
		if timeout > 0 {
			return 0, timeoutError{}
		}
		return 0, io.EOF
	}
	return n, err
}

func (p *Port) Write(b []byte) (int, error) { return p.t.Write(b) }

// SetReadTimeout bounds every following Read. Zero blocks until data arrives.
func (p *Port) SetReadTimeout(d time.Duration) error {
	if err := p.t.SetReadTimeout(d); err != nil {
		return fmt.Errorf("%s: set read timeout: %w", p.name, err)
	}
	p.mu.Lock()
	p.timeout = d
	p.mu.Unlock()
	return nil
}

func (p *Port) Close() error { return p.t.Close() }

// OpenDevice opens the link the emulated device listens on:
// "-" is stdio, "tcp://addr" listens for one host at a time, anything else
// is a terminal device opened at baud.
func OpenDevice(spec string, baud int, logger *slog.Logger) (io.ReadWriteCloser, error) {
	if spec == "" {
		return nil, errors.New("no serial link configured")
	}
	if spec == "-" {
		l, err := Stdio(os.Stdin, os.Stdout)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
	if addr, ok := strings.CutPrefix(spec, "tcp://"); ok {
		l, err := Listen(addr, logger)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
	p, err := Open(spec, baud)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// OpenHost opens the host side of a link: "tcp://addr" dials an emulated
// device, anything else is a terminal device opened at baud.
func OpenHost(spec string, baud int, timeout time.Duration) (io.ReadWriteCloser, error) {
	if addr, ok := strings.CutPrefix(spec, "tcp://"); ok {
		return Dial(addr, timeout)
	}
	p, err := Open(spec, baud)
	if err != nil {
		return nil, err
	}
	return p, nil
}
