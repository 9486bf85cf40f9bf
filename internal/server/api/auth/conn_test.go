package auth_test

import (
	"encoding/binary"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/Alia5/easycon/internal/server/api/auth"
)

// sessionPair wraps both ends of a pipe with the given roles.
func sessionPair(t *testing.T, a, b auth.Role) (net.Conn, net.Conn) {
	t.Helper()
	key := mustKey(t, "hunter22")
	x, y := net.Pipe()
	t.Cleanup(func() {
		x.Close()
		y.Close()
	})
	cx, err := auth.WrapConn(x, key, a)
	require.NoError(t, err)
	cy, err := auth.WrapConn(y, key, b)
	require.NoError(t, err)
	return cx, cy
}

// capture returns the raw packet sealed by conn for p.
func capture(t *testing.T, role auth.Role, p []byte) []byte {
	t.Helper()
	x, y := net.Pipe()
	defer x.Close()
	defer y.Close()
	sender, err := auth.WrapConn(x, mustKey(t, "hunter22"), role)
	require.NoError(t, err)

	go func() { _, _ = sender.Write(p) }()
	var hdr [4]byte
	_, err = io.ReadFull(y, hdr[:])
	require.NoError(t, err)
	body := make([]byte, binary.BigEndian.Uint32(hdr[:]))
	_, err = io.ReadFull(y, body)
	require.NoError(t, err)
	return append(hdr[:], body...)
}

// deliver feeds a raw packet to a receiver with role and returns its read.
func deliver(t *testing.T, role auth.Role, pkt []byte, n int) ([]byte, error) {
	t.Helper()
	x, y := net.Pipe()
	defer x.Close()
	defer y.Close()
	receiver, err := auth.WrapConn(y, mustKey(t, "hunter22"), role)
	require.NoError(t, err)

	go func() { _, _ = x.Write(pkt) }()
	buf := make([]byte, n)
	_, err = io.ReadFull(receiver, buf)
	return buf, err
}

func TestConnRequestAndResponse(t *testing.T) {
	client, server := sessionPair(t, auth.RoleClient, auth.RoleServer)

	go func() { _, _ = client.Write([]byte("report 0001010804020180\x00")) }()
	buf := make([]byte, len("report 0001010804020180\x00"))
	_, err := io.ReadFull(server, buf)
	require.NoError(t, err)
	assert.Equal(t, "report 0001010804020180\x00", string(buf))

	go func() { _, _ = server.Write([]byte("{}\n")) }()
	buf = make([]byte, 3)
	_, err = io.ReadFull(client, buf)
	require.NoError(t, err)
	assert.Equal(t, "{}\n", string(buf))
}

func TestConnNonceCarriesRoleAndCounter(t *testing.T) {
	x, y := net.Pipe()
	defer x.Close()
	defer y.Close()
	sender, err := auth.WrapConn(x, mustKey(t, "hunter22"), auth.RoleServer)
	require.NoError(t, err)

	go func() {
		_, _ = sender.Write([]byte("{}\n"))
		_, _ = sender.Write([]byte("{}\n"))
	}()

	var packets [][]byte
	for range 2 {
		var hdr [4]byte
		_, err := io.ReadFull(y, hdr[:])
		require.NoError(t, err)
		body := make([]byte, binary.BigEndian.Uint32(hdr[:]))
		_, err = io.ReadFull(y, body)
		require.NoError(t, err)
		packets = append(packets, body)
	}

	for i, body := range packets {
		nonce := body[:chacha20poly1305.NonceSize]
		assert.Equal(t, byte(auth.RoleServer), nonce[0])
		assert.Equal(t, uint64(i), binary.BigEndian.Uint64(nonce[4:]))
	}
	assert.NotEqual(t, packets[0], packets[1], "same plaintext seals differently")
}

func TestConnRejectsReflectedPackets(t *testing.T) {
	// a client packet bounced back at the client
	pkt := capture(t, auth.RoleClient, []byte("status\x00"))
	_, err := deliver(t, auth.RoleClient, pkt, 7)
	assert.ErrorIs(t, err, auth.ErrReflected)

	got, err := deliver(t, auth.RoleServer, pkt, 7)
	require.NoError(t, err)
	assert.Equal(t, "status\x00", string(got))
}

func TestConnRejectsDamagedPackets(t *testing.T) {
	type testCase struct {
		name   string
		damage func(pkt []byte) []byte
		err    error
		detail string
	}

	cases := []testCase{
		{
			name: "flipped ciphertext bit",
			damage: func(pkt []byte) []byte {
				pkt[len(pkt)-1] ^= 1
				return pkt
			},
			detail: "message authentication failed",
		},
		{
			name: "rewritten role byte",
			damage: func(pkt []byte) []byte {
				pkt[4] = 'X'
				return pkt
			},
			detail: "message authentication failed",
		},
		{
			name: "length below nonce size",
			damage: func(pkt []byte) []byte {
				binary.BigEndian.PutUint32(pkt, 5)
				return pkt
			},
			err: io.ErrUnexpectedEOF,
		},
		{
			name: "oversized length",
			damage: func(pkt []byte) []byte {
				binary.BigEndian.PutUint32(pkt, 4<<20)
				return pkt
			},
			err: io.ErrUnexpectedEOF,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pkt := tc.damage(capture(t, auth.RoleClient, []byte("status\x00")))
			_, err := deliver(t, auth.RoleServer, pkt, 7)
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

func TestConnSmallReadsDrainOnePacket(t *testing.T) {
	client, server := sessionPair(t, auth.RoleClient, auth.RoleServer)
	payload := []byte(`{"buttons":4,"hat":8,"lx":128,"ly":128,"rx":128,"ry":128}`)

	go func() { _, _ = server.Write(payload) }()

	var got []byte
	buf := make([]byte, 5)
	for len(got) < len(payload) {
		n, err := client.Read(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, payload, got)
}

func TestWrapConnKeyLength(t *testing.T) {
	x, y := net.Pipe()
	defer x.Close()
	defer y.Close()
	_, err := auth.WrapConn(x, []byte{1, 2, 3}, auth.RoleClient)
	assert.ErrorContains(t, err, "bad key length")
}
