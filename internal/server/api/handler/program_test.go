package handler_test

import (
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alia5/easycon/apiclient"
	"github.com/Alia5/easycon/apitypes"
	handlerTest "github.com/Alia5/easycon/internal/testing"
	"github.com/Alia5/easycon/script"
)

func TestProgram(t *testing.T) {
	wait := script.Wait{Millis: 10}.Encode()
	program := append(append([]byte{}, wait...), wait...)
	dev := startDevice(t, program)
	addr, done := handlerTest.StartAPIServer(t, register(dev))
	defer done()

	line, err := apiclient.NewTransport(addr).Do("program", nil)
	require.NoError(t, err)

	var res apitypes.ProgramResponse
	require.NoError(t, json.Unmarshal([]byte(line), &res))
	assert.Equal(t, len(program), res.Size)
	assert.False(t, res.AutoStart)
	assert.Equal(t, hex.EncodeToString(program), res.Bytes)
	require.Len(t, res.Lines, 2)
	assert.Equal(t, uint16(script.HeaderSize), res.Lines[0].Addr)
	assert.Equal(t, uint16(script.HeaderSize+len(wait)), res.Lines[1].Addr)
	assert.Equal(t, "WAIT 10ms", res.Lines[1].Text)
	assert.Equal(t, hex.EncodeToString(wait), res.Lines[0].Bytes)
}

func TestProgramEmpty(t *testing.T) {
	dev := startDevice(t, nil)
	addr, done := handlerTest.StartAPIServer(t, register(dev))
	defer done()

	line, err := apiclient.NewTransport(addr).Do("program", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"size":0,"autoStart":false,"bytes":"","lines":[]}`, line)
}

func TestProgramFlash(t *testing.T) {
	type testCase struct {
		name             string
		payload          any
		expectedResponse string
	}

	image := script.NewImage(script.Assemble(script.Wait{Millis: 10}), true)

	cases := []testCase{
		{
			name:             "valid image",
			payload:          hex.EncodeToString(image),
			expectedResponse: `{"bytes":4,"capacity":924}`,
		},
		{
			name:             "missing image",
			payload:          nil,
			expectedResponse: `{"status":400,"title":"Bad Request","detail":"missing image"}`,
		},
		{
			name:             "odd hex",
			payload:          "abc",
			expectedResponse: `{"status":400,"title":"Bad Request","detail":"invalid image: encoding/hex: odd length hex string"}`,
		},
		{
			name:             "shorter than header",
			payload:          "01",
			expectedResponse: `{"status":400,"title":"Bad Request","detail":"invalid program image: 1 bytes is shorter than the header"}`,
		},
		{
			name:             "larger than the store",
			payload:          hex.EncodeToString(make([]byte, script.DefaultCapacity+1)),
			expectedResponse: `{"status":400,"title":"Bad Request","detail":"window [0,925) of 924: flash window exceeds store capacity"}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dev := startDevice(t, nil)
			addr, done := handlerTest.StartAPIServer(t, register(dev))
			defer done()

			line, err := apiclient.NewTransport(addr).Do("program/flash", tc.payload)
			require.NoError(t, err)
			assert.JSONEq(t, tc.expectedResponse, line)
		})
	}
}

func TestFlashedImageShowsInStatus(t *testing.T) {
	dev := startDevice(t, nil)
	addr, done := handlerTest.StartAPIServer(t, register(dev))
	defer done()
	c := apiclient.NewTransport(addr)

	image := script.NewImage(script.Assemble(script.Wait{Millis: 10}), true)
	_, err := c.Do("program/flash", hex.EncodeToString(image))
	require.NoError(t, err)

	line, err := c.Do("status", nil)
	require.NoError(t, err)
	var st apitypes.StatusResponse
	require.NoError(t, json.Unmarshal([]byte(line), &st))
	assert.True(t, st.AutoStart)
	assert.Equal(t, len(image)-script.HeaderSize, st.ProgramSize)
	assert.False(t, st.Running)
	assert.Equal(t, "awaiting-control", st.SerialPhase)
	assert.Len(t, st.Registers, script.RegisterCount)
}
