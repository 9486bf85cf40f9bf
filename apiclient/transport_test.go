package apiclient_test

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alia5/easycon/apiclient"
	apitypes "github.com/Alia5/easycon/apitypes"
	"github.com/Alia5/easycon/firmware"
	"github.com/Alia5/easycon/internal/server/api"
	"github.com/Alia5/easycon/internal/server/api/handler"
	handlerTest "github.com/Alia5/easycon/internal/testing"
	"github.com/Alia5/easycon/script"
)

// recordOne accepts a single connection, captures the request up to and
// including its terminator and answers with response.
func recordOne(t *testing.T, response string) (addr string, request <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	got := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		req, _ := bufio.NewReader(conn).ReadString(0)
		got <- req
		_, _ = conn.Write([]byte(response))
	}()
	return ln.Addr().String(), got
}

func TestTransportRequestFraming(t *testing.T) {
	buttons, hat := uint16(4), uint8(8)
	image := script.NewImage([]byte{0x80, 0x0A}, false)

	type testCase struct {
		name     string
		path     string
		payload  any
		response string
		request  string
		out      string
	}

	cases := []testCase{
		{
			name:     "status without payload",
			path:     "status",
			response: `{"running":false}` + "\n",
			request:  "status\x00",
			out:      `{"running":false}`,
		},
		{
			name:     "empty string payload is omitted",
			path:     "script/start",
			payload:  "",
			response: `{"running":true}` + "\n",
			request:  "script/start\x00",
			out:      `{"running":true}`,
		},
		{
			name:     "packed report as string",
			path:     "report",
			payload:  "0001010804020180",
			response: `{"packed":"0001010804020180"}` + "\n",
			request:  "report 0001010804020180\x00",
			out:      `{"packed":"0001010804020180"}`,
		},
		{
			name:     "report request marshalled to json",
			path:     "report",
			payload:  apitypes.ReportRequest{Buttons: &buttons, HAT: &hat},
			response: "{}\n",
			request:  `report {"buttons":4,"hat":8}` + "\x00",
			out:      "{}",
		},
		{
			name:     "flash image as hex bytes",
			path:     "program/flash",
			payload:  []byte(hex.EncodeToString(image)),
			response: `{"bytes":4,"capacity":924}` + "\n",
			request:  "program/flash " + hex.EncodeToString(image) + "\x00",
			out:      `{"bytes":4,"capacity":924}`,
		},
		{
			name:     "multi-line payload and response",
			path:     "report",
			payload:  "{\n\"lx\":0\n}",
			response: "{\n  \"lx\": 0\n}\n",
			request:  "report {\n\"lx\":0\n}\x00",
			out:      "{\n  \"lx\": 0\n}",
		},
		{
			name:    "empty success",
			path:    "script/stop",
			request: "script/stop\x00",
			out:     "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			addr, request := recordOne(t, tc.response)
			out, err := apiclient.NewTransport(addr).Do(tc.path, tc.payload)
			require.NoError(t, err)
			assert.Equal(t, tc.out, out)
			assert.Equal(t, tc.request, <-request)
		})
	}
}

func TestTransportRejectsUnframeableRequests(t *testing.T) {
	type testCase struct {
		name    string
		path    string
		payload any
		err     error
		detail  string
	}

	cases := []testCase{
		{name: "empty path", path: "", err: apiclient.ErrUnframeable},
		{name: "space in path", path: "script start", err: apiclient.ErrUnframeable},
		{name: "nul in payload", path: "program/flash", payload: []byte{'0', 0, '1'}, err: apiclient.ErrUnframeable},
		{name: "payload json fails", path: "report", payload: make(chan int), detail: "encode report payload"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := apiclient.NewMockTransport(func(string, any) (string, error) {
				t.Fatal("request must not be sent")
				return "", nil
			})
			_, err := tr.Do(tc.path, tc.payload)
			require.Error(t, err)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
			}
			if tc.detail != "" {
				assert.ErrorContains(t, err, tc.detail)
			}
		})
	}
}

func TestTransportCancelWhileWaiting(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	held := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		held <- conn
	}()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err = apiclient.NewTransport(ln.Addr().String()).DoCtx(ctx, "status", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)

	select {
	case conn := <-held:
		conn.Close()
	default:
	}
}

// startAuthDevice serves the device routes behind a password.
func startAuthDevice(t *testing.T, password string) string {
	t.Helper()
	cfg := firmware.DefaultConfig()
	cfg.ReportInterval = time.Millisecond
	dev := firmware.New(cfg, script.NewMemBackend(script.BackendSize(cfg.Capacity)), nil, nil, nil)
	require.NoError(t, dev.Boot())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- dev.Run(ctx, nil) }()
	<-dev.Ready()
	t.Cleanup(func() {
		cancel()
		<-errc
	})

	addr, done := handlerTest.StartAPIServerWithConfig(t, api.ServerConfig{Password: password}, func(r *api.Router, _ *api.Server) {
		r.Register("status", handler.Status(dev))
		r.Register("report", handler.Report(dev))
		r.Register("program/flash", handler.ProgramFlash(dev))
	})
	t.Cleanup(done)
	return addr
}

func TestEncryptedTransportDrivesDevice(t *testing.T) {
	addr := startAuthDevice(t, "hunter22")
	tr := apiclient.NewTransportWithPassword(addr, "hunter22")

	image := script.NewImage([]byte{0x80, 0x0A}, false)
	line, err := tr.Do("program/flash", hex.EncodeToString(image))
	require.NoError(t, err)
	var fl apitypes.FlashResponse
	require.NoError(t, json.Unmarshal([]byte(line), &fl))
	assert.Equal(t, len(image), fl.Bytes)

	// flashing resets the report, so set it afterwards
	line, err = tr.Do("report", "0001010804020180")
	require.NoError(t, err)
	var rep apitypes.Report
	require.NoError(t, json.Unmarshal([]byte(line), &rep))
	assert.Equal(t, uint16(4), rep.Buttons)

	line, err = tr.Do("status", nil)
	require.NoError(t, err)
	var st apitypes.StatusResponse
	require.NoError(t, json.Unmarshal([]byte(line), &st))
	assert.Equal(t, 2, st.ProgramSize)
	assert.Equal(t, "0001010804020180", st.Report.Packed)
}

func TestEncryptedTransportFailures(t *testing.T) {
	addr := startAuthDevice(t, "hunter22")

	t.Run("wrong password", func(t *testing.T) {
		_, err := apiclient.NewTransportWithPassword(addr, "hunter23").Do("status", nil)
		var apiErr apitypes.ApiError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, 401, apiErr.Status)
	})

	t.Run("plain request", func(t *testing.T) {
		line, err := apiclient.NewTransport(addr).Do("status", nil)
		require.NoError(t, err)
		assert.JSONEq(t, `{"status":401,"title":"Unauthorized","detail":"authentication required"}`, line)
	})

	t.Run("server without handshake support", func(t *testing.T) {
		plain, _ := recordOne(t, "")
		_, err := apiclient.NewTransportWithPassword(plain, "hunter22").Do("status", nil)
		assert.Error(t, err)
		assert.False(t, errors.Is(err, apiclient.ErrUnframeable))
	})
}
