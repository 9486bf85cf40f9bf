package auth

import (
	"bufio"
	"errors"
	"net"
)

var errNoKey = errors.New("handshake: missing key")

// bufferedConn reads through r so bytes already buffered during the
// handshake are not lost.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) { return b.r.Read(p) }

// Accept runs the server side of the handshake on conn, whose inbound bytes
// are read through r, and returns the encrypted connection. Nothing is
// written to conn when the client is refused.
func Accept(conn net.Conn, r *bufio.Reader, key []byte) (net.Conn, error) {
	if len(key) == 0 {
		return nil, errNoKey
	}
	clientNonce, serverNonce, err := serverHandshake(r, conn, key)
	if err != nil {
		return nil, err
	}
	return WrapConn(&bufferedConn{Conn: conn, r: r}, DeriveSessionKey(key, serverNonce, clientNonce), RoleServer)
}

// Connect runs the client side of the handshake and returns the encrypted
// connection. A refusal from the server is returned as apitypes.ApiError.
func Connect(conn net.Conn, key []byte) (net.Conn, error) {
	if len(key) == 0 {
		return nil, errNoKey
	}
	r := bufio.NewReader(conn)
	clientNonce, serverNonce, err := clientHandshake(r, conn, key)
	if err != nil {
		return nil, err
	}
	return WrapConn(&bufferedConn{Conn: conn, r: r}, DeriveSessionKey(key, serverNonce, clientNonce), RoleClient)
}
