package serialport

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Link is a listening TCP endpoint that behaves like a serial wire: one
// host is attached at a time, a new connection replaces the old one, and
// writes while nobody is attached are dropped.
type Link struct {
	ln     net.Listener
	logger *slog.Logger

	mu   sync.Mutex
	conn net.Conn

	cur  net.Conn
	next chan net.Conn
	done chan struct{}
	once sync.Once
}

// Listen starts accepting hosts on addr.
func Listen(addr string, logger *slog.Logger) (*Link, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("serial listen: %w", err)
	}
	l := &Link{
		ln:     ln,
		logger: logger,
		next:   make(chan net.Conn, 4),
		done:   make(chan struct{}),
	}
	logger.Info("serial link listening", "addr", ln.Addr().String())
	go l.accept()
	return l, nil
}

func (l *Link) Addr() net.Addr { return l.ln.Addr() }

func (l *Link) accept() {
	for {
		c, err := l.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				l.logger.Error("serial accept", "error", err)
			}
			l.once.Do(func() { close(l.done) })
			return
		}
		if tcp, ok := c.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}
		l.mu.Lock()
		old := l.conn
		l.conn = c
		l.mu.Unlock()
		if old != nil {
			l.logger.Info("serial host replaced", "old", old.RemoteAddr().String())
			_ = old.Close()
		}
		l.logger.Info("serial host attached", "remote", c.RemoteAddr().String())
		select {
		case l.next <- c:
		case <-l.done:
			_ = c.Close()
			return
		}
	}
}

// Read blocks until an attached host sends data. It returns io.EOF once the
// link is closed.
func (l *Link) Read(p []byte) (int, error) {
	for {
		if l.cur == nil {
			select {
			case c := <-l.next:
				l.cur = c
			case <-l.done:
				return 0, io.EOF
			}
		}
		n, err := l.cur.Read(p)
		if n > 0 {
			return n, nil
		}
		if err != nil {
			l.drop(l.cur)
			l.cur = nil
		}
	}
}

func (l *Link) Write(p []byte) (int, error) {
	l.mu.Lock()
	c := l.conn
	l.mu.Unlock()
	if c == nil {
		return len(p), nil
	}
	if _, err := c.Write(p); err != nil {
		l.drop(c)
	}
	return len(p), nil
}

func (l *Link) drop(c net.Conn) {
	l.mu.Lock()
	if l.conn == c {
		l.conn = nil
		l.logger.Info("serial host detached", "remote", c.RemoteAddr().String())
	}
	l.mu.Unlock()
	_ = c.Close()
}

func (l *Link) Close() error {
	err := l.ln.Close()
	l.once.Do(func() { close(l.done) })
	l.mu.Lock()
	if l.conn != nil {
		_ = l.conn.Close()
		l.conn = nil
	}
	l.mu.Unlock()
	return err
}

// Dial connects to a device listening with Listen.
func Dial(addr string, timeout time.Duration) (net.Conn, error) {
	c, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("serial dial: %w", err)
	}
	if tcp, ok := c.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	return c, nil
}
