package log

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"
)

// RawLogger dumps serial traffic.
type RawLogger interface {
	// Log records one chunk. in=true is host->device.
	Log(in bool, data []byte)
}

type rawLogger struct {
	w   io.Writer
	mu  sync.Mutex
	now func() time.Time
}

// NewRaw creates a RawLogger writing to w. A nil writer yields a no-op logger.
func NewRaw(w io.Writer) RawLogger {
	return &rawLogger{w: w, now: time.Now}
}

func (r *rawLogger) Log(in bool, data []byte) {
	if len(data) == 0 || r.w == nil {
		return
	}

	dir := "DEV->HOST"
	if in {
		dir = "HOST->DEV"
	}

	var hexbuf bytes.Buffer
	const hexdigits = "0123456789abcdef"
	for i, b := range data {
		if i > 0 {
			hexbuf.WriteByte(' ')
		}
		hexbuf.WriteByte(hexdigits[b>>4])
		hexbuf.WriteByte(hexdigits[b&0x0f])
	}

	line := fmt.Sprintf("%s %s %d bytes: %s\n",
		r.now().Format("2006/01/02 15:04:05.000"),
		dir,
		len(data),
		hexbuf.String())

	r.mu.Lock()
	_, _ = r.w.Write([]byte(line))
	r.mu.Unlock()
}

// Writer wraps w so every chunk written through it is logged as device->host.
func Writer(w io.Writer, raw RawLogger) io.Writer {
	if raw == nil {
		return w
	}
	return &loggedWriter{w: w, raw: raw}
}

type loggedWriter struct {
	w   io.Writer
	raw RawLogger
}

func (l *loggedWriter) Write(p []byte) (int, error) {
	n, err := l.w.Write(p)
	l.raw.Log(false, p[:n])
	return n, err
}
