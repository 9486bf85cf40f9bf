package apiclient

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	apitypes "github.com/Alia5/easycon/apitypes"
)

// Client provides a high-level interface to the easycon control API, handling request
// formatting, response parsing, and error handling.
type Client struct{ transport *Transport }

// New constructs a high-level API client using the internal low-level Transport.
// The addr parameter specifies the TCP address (host:port) of the easycon API server.
func New(addr string) *Client { return &Client{transport: NewTransport(addr)} }

// NewWithPassword constructs a client that authenticates with the given password.
func NewWithPassword(addr, password string) *Client {
	return &Client{transport: NewTransportWithPassword(addr, password)}
}

// NewWithConfig constructs a client with custom transport timeouts.
func NewWithConfig(addr string, cfg *Config) *Client {
	return &Client{transport: NewTransportWithConfig(addr, cfg)}
}

// WithTransport constructs a Client using a custom Transport implementation.
// This is primarily useful for testing or when advanced transport configuration is needed.
func WithTransport(t *Transport) *Client { return &Client{transport: t} }

// Ping returns the version and identity of the easycon server.
func (c *Client) Ping() (*apitypes.PingResponse, error) {
	return c.PingCtx(context.Background())
}

// PingCtx is the context-aware version of Ping.
func (c *Client) PingCtx(ctx context.Context) (*apitypes.PingResponse, error) {
	const path = "ping"
	raw, err := c.transport.DoCtx(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	return parse[apitypes.PingResponse](raw)
}

// Status returns the script machine, report and serial link state.
func (c *Client) Status() (*apitypes.StatusResponse, error) {
	return c.StatusCtx(context.Background())
}

func (c *Client) StatusCtx(ctx context.Context) (*apitypes.StatusResponse, error) {
	raw, err := c.transport.DoCtx(ctx, "status", nil)
	if err != nil {
		return nil, err
	}
	return parse[apitypes.StatusResponse](raw)
}

// ScriptStart restarts the stored program from its first instruction.
func (c *Client) ScriptStart() (*apitypes.ScriptResponse, error) {
	return c.ScriptStartCtx(context.Background())
}

func (c *Client) ScriptStartCtx(ctx context.Context) (*apitypes.ScriptResponse, error) {
	raw, err := c.transport.DoCtx(ctx, "script/start", nil)
	if err != nil {
		return nil, err
	}
	return parse[apitypes.ScriptResponse](raw)
}

// ScriptStop halts the running program.
func (c *Client) ScriptStop() (*apitypes.ScriptResponse, error) {
	return c.ScriptStopCtx(context.Background())
}

func (c *Client) ScriptStopCtx(ctx context.Context) (*apitypes.ScriptResponse, error) {
	raw, err := c.transport.DoCtx(ctx, "script/stop", nil)
	if err != nil {
		return nil, err
	}
	return parse[apitypes.ScriptResponse](raw)
}

// Report returns the pending controller report.
func (c *Client) Report() (*apitypes.Report, error) {
	return c.ReportCtx(context.Background())
}

func (c *Client) ReportCtx(ctx context.Context) (*apitypes.Report, error) {
	raw, err := c.transport.DoCtx(ctx, "report", nil)
	if err != nil {
		return nil, err
	}
	return parse[apitypes.Report](raw)
}

// SetReport applies a report while no script is running. Fields left nil
// take their neutral value. A running script yields a 409 problem.
func (c *Client) SetReport(req apitypes.ReportRequest) (*apitypes.Report, error) {
	return c.SetReportCtx(context.Background(), req)
}

func (c *Client) SetReportCtx(ctx context.Context, req apitypes.ReportRequest) (*apitypes.Report, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal report request: %w", err)
	}
	raw, err := c.transport.DoCtx(ctx, "report", string(payload))
	if err != nil {
		return nil, err
	}
	return parse[apitypes.Report](raw)
}

// SetPackedReport applies a report given as the 16 hex digits of its
// packed serial frame.
func (c *Client) SetPackedReport(packed string) (*apitypes.Report, error) {
	return c.SetPackedReportCtx(context.Background(), packed)
}

func (c *Client) SetPackedReportCtx(ctx context.Context, packed string) (*apitypes.Report, error) {
	if strings.TrimSpace(packed) == "" {
		return nil, errors.New("empty report")
	}
	raw, err := c.transport.DoCtx(ctx, "report", packed)
	if err != nil {
		return nil, err
	}
	return parse[apitypes.Report](raw)
}

// Program returns the stored program with its disassembly.
func (c *Client) Program() (*apitypes.ProgramResponse, error) {
	return c.ProgramCtx(context.Background())
}

func (c *Client) ProgramCtx(ctx context.Context) (*apitypes.ProgramResponse, error) {
	raw, err := c.transport.DoCtx(ctx, "program", nil)
	if err != nil {
		return nil, err
	}
	return parse[apitypes.ProgramResponse](raw)
}

// Flash writes a program image, header included, and stops a running script.
func (c *Client) Flash(image []byte) (*apitypes.FlashResponse, error) {
	return c.FlashCtx(context.Background(), image)
}

func (c *Client) FlashCtx(ctx context.Context, image []byte) (*apitypes.FlashResponse, error) {
	if len(image) == 0 {
		return nil, errors.New("empty image")
	}
	raw, err := c.transport.DoCtx(ctx, "program/flash", hex.EncodeToString(image))
	if err != nil {
		return nil, err
	}
	return parse[apitypes.FlashResponse](raw)
}

func parse[T any](data string) (*T, error) {
	if data == "" {
		return nil, errors.New("empty response")
	}
	var problem apitypes.ApiError
	if err := json.Unmarshal([]byte(data), &problem); err == nil && (problem.Status != 0 || problem.Title != "") {
		return nil, &problem
	}
	var out T
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &out, nil
}
