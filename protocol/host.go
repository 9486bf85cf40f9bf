package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Alia5/easycon/report"
	"github.com/Alia5/easycon/script"
)

var (
	ErrBusy            = errors.New("device busy: script running")
	ErrUnexpectedReply = errors.New("unexpected reply")
	ErrFlashParams     = errors.New("flash window does not fit in 14 bits")
)

// ChunkSize is the largest flash transfer the client sends at once.
const ChunkSize = BufferSize

// EncodeCommand frames a command with the ready handshake.
func EncodeCommand(cmd byte) []byte {
	return []byte{CmdReady, cmd}
}

// EncodeFlash frames a flash request for count bytes at dest.
func EncodeFlash(dest, count int) ([]byte, error) {
	if dest < 0 || count < 0 || dest > maxFlashWord || count > maxFlashWord {
		return nil, fmt.Errorf("dest %d count %d: %w", dest, count, ErrFlashParams)
	}
	return []byte{
		CmdReady,
		byte(dest) & 0x7F, byte(dest>>7) & 0x7F,
		byte(count) & 0x7F, byte(count>>7) & 0x7F,
		CmdFlash,
	}, nil
}

// EncodeReport frames a direct report.
func EncodeReport(r report.Report) []byte {
	p := report.Pack(r)
	return p[:]
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type readTimeouter interface {
	SetReadTimeout(d time.Duration) error
}

// Client talks to a device over a serial link.
type Client struct {
	rw      io.ReadWriter
	timeout time.Duration
}

type ClientOption func(*Client)

// WithTimeout bounds every reply wait. It needs a link that supports read
// deadlines (net.Conn) or read timeouts (a terminal).
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

func NewClient(rw io.ReadWriter, opts ...ClientOption) *Client {
	c := &Client{rw: rw, timeout: 2 * time.Second}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Hello checks that a device answers on the link.
func (c *Client) Hello() error {
	return c.expect(EncodeCommand(CmdHello), ReplyHello)
}

func (c *Client) Version() (byte, error) {
	b, err := c.roundTrip(EncodeCommand(CmdVersion), 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *Client) Start() error {
	return c.expect(EncodeCommand(CmdScriptStart), ReplyScriptAck)
}

func (c *Client) Stop() error {
	return c.expect(EncodeCommand(CmdScriptStop), ReplyScriptAck)
}

func (c *Client) Debug() (script.DebugInfo, error) {
	b, err := c.roundTrip(EncodeCommand(CmdDebug), DebugSize)
	if err != nil {
		return script.DebugInfo{}, err
	}
	return script.DebugInfo{
		Loop:    binary.LittleEndian.Uint32(b[0:4]),
		Elapsed: binary.LittleEndian.Uint32(b[4:8]),
		PC:      binary.LittleEndian.Uint16(b[8:10]),
	}, nil
}

// SendReport applies r on an idle device.
func (c *Client) SendReport(r report.Report) error {
	b, err := c.roundTrip(EncodeReport(r), 1)
	if err != nil {
		return err
	}
	switch b[0] {
	case ReplyAck:
		return nil
	case ReplyBusy:
		return ErrBusy
	}
	return fmt.Errorf("report: %w %#02x", ErrUnexpectedReply, b[0])
}

// Flash writes data at dest, split into chunks that fit the device's staging buffer.
func (c *Client) Flash(dest int, data []byte) error {
	for off := 0; off < len(data); off += ChunkSize {
		chunk := data[off:min(off+ChunkSize, len(data))]
		req, err := EncodeFlash(dest+off, len(chunk))
		if err != nil {
			return err
		}
		if err := c.expect(req, ReplyFlashStart); err != nil {
			return fmt.Errorf("flash %d bytes at %d: %w", len(chunk), dest+off, err)
		}
		if err := c.expect(chunk, ReplyFlashEnd); err != nil {
			return fmt.Errorf("flash %d bytes at %d: %w", len(chunk), dest+off, err)
		}
	}
	return nil
}

// Upload flashes a program image (header included) and optionally starts it.
func (c *Client) Upload(image []byte, start bool) error {
	if err := c.Flash(0, image); err != nil {
		return err
	}
	if start {
		return c.Start()
	}
	return nil
}

func (c *Client) expect(req []byte, want byte) error {
	b, err := c.roundTrip(req, 1)
	if err != nil {
		return err
	}
	if b[0] != want {
		return fmt.Errorf("want %#02x got %#02x: %w", want, b[0], ErrUnexpectedReply)
	}
	return nil
}

func (c *Client) roundTrip(req []byte, n int) ([]byte, error) {
	if _, err := c.rw.Write(req); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	if err := c.armTimeout(); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(c.rw, b); err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}
	return b, nil
}

func (c *Client) armTimeout() error {
	if c.timeout <= 0 {
		return nil
	}
	switch rw := c.rw.(type) {
	case readDeadliner:
		return rw.SetReadDeadline(time.Now().Add(c.timeout))
	case readTimeouter:
		return rw.SetReadTimeout(c.timeout)
	}
	return nil
}
