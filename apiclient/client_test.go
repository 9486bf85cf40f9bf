package apiclient_test

import (
	"context"
	"errors"
	"testing"

	apiclient "github.com/Alia5/easycon/apiclient"
	apitypes "github.com/Alia5/easycon/apitypes"

	"github.com/stretchr/testify/assert"
)

// testClient constructs a client backed by a simple in-memory responder.
// responses maps full, already-filled paths (after path param substitution) to raw JSON payloads.
// If err is non-nil, every request returns that error, simulating dial failures.
func testClient(responses map[string]string, err error) *apiclient.Client {
	return apiclient.WithTransport(apiclient.NewMockTransport(func(path string, _ any) (string, error) {
		if err != nil {
			return "", err
		}
		if out, ok := responses[path]; ok {
			return out, nil
		}
		return "", nil
	}))
}

func TestHighLevelClient(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(responses map[string]string) (err error)
		call       func(c *apiclient.Client) (any, error)
		wantErr    string
		assertFunc func(t *testing.T, got any)
	}{
		{
			name:  "ping",
			setup: func(responses map[string]string) error { responses["ping"] = `{"server":"easycon","version":"dev","protocolVersion":70}`; return nil },
			call:  func(c *apiclient.Client) (any, error) { return c.Ping() },
			assertFunc: func(t *testing.T, got any) {
				resp := got.(*apitypes.PingResponse)
				assert.Equal(t, 70, resp.ProtocolVersion)
			},
		},
		{
			name: "report busy structured",
			setup: func(responses map[string]string) error {
				responses["report"] = `{"status":409,"title":"Conflict","detail":"script running"}`
				return nil
			},
			call: func(c *apiclient.Client) (any, error) {
				a := uint16(4)
				return c.SetReport(apitypes.ReportRequest{Buttons: &a})
			},
			wantErr: "409 Conflict: script running",
		},
		{
			name: "program listing",
			setup: func(responses map[string]string) error {
				responses["program"] = `{"size":2,"autoStart":true,"bytes":"800a","lines":[{"addr":2,"bytes":"800a","text":"KEY A 100ms"}]}`
				return nil
			},
			call: func(c *apiclient.Client) (any, error) { return c.Program() },
			assertFunc: func(t *testing.T, got any) {
				resp := got.(*apitypes.ProgramResponse)
				assert.True(t, resp.AutoStart)
				assert.Len(t, resp.Lines, 1)
			},
		},
		{
			name:    "transport failure",
			setup:   func(responses map[string]string) error { return errors.New("dial fail") },
			call:    func(c *apiclient.Client) (any, error) { return c.Status() },
			wantErr: "dial fail",
		},
		{
			name:    "blank response error",
			setup:   func(responses map[string]string) error { return nil },
			call:    func(c *apiclient.Client) (any, error) { return c.ScriptStop() },
			wantErr: "empty response",
		},
		{
			name:    "empty image refused locally",
			call:    func(c *apiclient.Client) (any, error) { return c.Flash(nil) },
			wantErr: "empty image",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			responses := map[string]string{}
			errInject := error(nil)
			if tt.setup != nil {
				if e := tt.setup(responses); e != nil {
					errInject = e
				}
			}
			c := testClient(responses, errInject)
			got, err := tt.call(c)
			if tt.wantErr != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			assert.NoError(t, err)
			if tt.assertFunc != nil {
				tt.assertFunc(t, got)
			}
		})
	}
}

func TestContextCancellation(t *testing.T) {
	c := apiclient.WithTransport(apiclient.NewTransport("127.0.0.1:9")) // address irrelevant due to early cancel
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.StatusCtx(ctx)
	assert.Error(t, err)
}

func TestStrictJSONDecode(t *testing.T) {
	responses := map[string]string{}
	responses["script/start"] = `{"running":true,"extra":true}` // extra field should cause decode error
	c := testClient(responses, nil)
	_, err := c.ScriptStart()
	assert.Error(t, err)
}

func TestFlashSendsHexImage(t *testing.T) {
	var gotPath string
	var gotPayload any
	c := apiclient.WithTransport(apiclient.NewMockTransport(func(path string, payload any) (string, error) {
		gotPath, gotPayload = path, payload
		return `{"bytes":4,"capacity":924}`, nil
	}))

	resp, err := c.Flash([]byte{0x04, 0x00, 0x80, 0x0A})
	assert.NoError(t, err)
	assert.Equal(t, "program/flash", gotPath)
	assert.Equal(t, "0400800a", gotPayload)
	assert.Equal(t, 924, resp.Capacity)
}
