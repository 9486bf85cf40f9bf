package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/Alia5/easycon/internal/server/api/auth"
)

// ErrUnframeable is returned for requests the server could not split back
// into path and payload.
var ErrUnframeable = errors.New("request cannot be framed")

// Config controls dialing, timeouts and authentication of a Transport.
type Config struct {
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// Password switches the transport to the encrypted session. Empty sends
	// plain requests.
	Password string
}

func defaultConfig() Config {
	return Config{
		DialTimeout:  3 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// Responder answers requests of a mock Transport.
type Responder func(path string, payload any) (string, error)

// Transport sends one request per connection to the easycon control API.
//
// A request is `<path>[ SP <payload>] \x00`. The payload may span lines, only
// NUL ends it. The server answers with one JSON line (or nothing on an empty
// success) and closes the connection.
type Transport struct {
	addr string
	cfg  Config
	mock Responder

	keyOnce sync.Once
	key     []byte
	keyErr  error
}

// NewTransport creates a transport for plain requests.
func NewTransport(addr string) *Transport { return NewTransportWithConfig(addr, nil) }

func NewTransportWithPassword(addr, password string) *Transport {
	cfg := defaultConfig()
	cfg.Password = password
	return NewTransportWithConfig(addr, &cfg)
}

// NewTransportWithConfig creates a transport; a nil cfg uses the defaults.
func NewTransportWithConfig(addr string, cfg *Config) *Transport {
	c := defaultConfig()
	if cfg != nil {
		c = *cfg
	}
	return &Transport{addr: addr, cfg: c}
}

// NewMockTransport creates a transport that hands every well-formed request
// to respond instead of the network.
func NewMockTransport(respond Responder) *Transport {
	return &Transport{addr: "mock", cfg: defaultConfig(), mock: respond}
}

// Do sends a request and returns the response without its trailing newline.
//
//	nil    -> no payload
//	[]byte -> sent as is
//	string -> sent as is
//	other  -> JSON
func (t *Transport) Do(path string, payload any) (string, error) {
	return t.DoCtx(context.Background(), path, payload)
}

// DoCtx is Do bounded by ctx. Cancelling ctx aborts a pending read or write.
func (t *Transport) DoCtx(ctx context.Context, path string, payload any) (string, error) {
	req, err := encodeRequest(path, payload)
	if err != nil {
		return "", err
	}
	if t.mock != nil {
		return t.mock(path, payload)
	}

	d := &net.Dialer{Timeout: t.cfg.DialTimeout}
	raw, err := d.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return "", fmt.Errorf("dial: %w", err)
	}
	defer raw.Close()
	stop := context.AfterFunc(ctx, func() { _ = raw.SetDeadline(time.Now()) })
	defer stop()

	_ = raw.SetWriteDeadline(deadline(ctx, t.cfg.WriteTimeout))
	conn, err := t.secure(ctx, raw)
	if err != nil {
		return "", ctxErr(ctx, err)
	}
	if _, err := conn.Write(req); err != nil {
		return "", ctxErr(ctx, fmt.Errorf("write: %w", err))
	}

	if ctx.Err() == nil {
		_ = raw.SetReadDeadline(deadline(ctx, t.cfg.ReadTimeout))
	}
	resp, err := io.ReadAll(conn)
	if err != nil && len(resp) == 0 {
		return "", ctxErr(ctx, fmt.Errorf("read: %w", err))
	}
	return strings.TrimSuffix(string(resp), "\n"), nil
}

// secure runs the handshake when a password is configured. The PBKDF2 key is
// derived once per transport.
func (t *Transport) secure(ctx context.Context, conn net.Conn) (net.Conn, error) {
	if t.cfg.Password == "" {
		return conn, nil
	}
	t.keyOnce.Do(func() { t.key, t.keyErr = auth.DeriveKey(t.cfg.Password) })
	if t.keyErr != nil {
		return nil, t.keyErr
	}
	_ = conn.SetReadDeadline(deadline(ctx, t.cfg.ReadTimeout))
	return auth.Connect(conn, t.key)
}

func encodeRequest(path string, payload any) ([]byte, error) {
	if path == "" || strings.ContainsAny(path, " \t\r\n\x00") {
		return nil, fmt.Errorf("path %q: %w", path, ErrUnframeable)
	}
	body, err := payloadBytes(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", path, err)
	}
	if bytes.IndexByte(body, 0) >= 0 {
		return nil, fmt.Errorf("%s payload contains NUL: %w", path, ErrUnframeable)
	}
	req := make([]byte, 0, len(path)+len(body)+2)
	req = append(req, path...)
	if len(body) > 0 {
		req = append(req, ' ')
		req = append(req, body...)
	}
	return append(req, 0), nil
}

func payloadBytes(v any) ([]byte, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	}
	return json.Marshal(v)
}

// deadline is now+d capped by the context deadline. Zero means none.
func deadline(ctx context.Context, d time.Duration) time.Time {
	var dl time.Time
	if d > 0 {
		dl = time.Now().Add(d)
	}
	if cd, ok := ctx.Deadline(); ok && (dl.IsZero() || cd.Before(dl)) {
		dl = cd
	}
	return dl
}

func ctxErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return fmt.Errorf("%w: %w", cerr, err)
	}
	return err
}
