package auth

import (
	"bufio"
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/Alia5/easycon/apitypes"
)

// The client opens with magic | nonce | HMAC-SHA256(key, authContext | nonce).
// The server answers "OK\0" | nonce, or a problem JSON line when it refuses.
const (
	HandshakeMagic = "eEC1\x00"
	NonceSize      = 32
	authContext    = "EasyCon-Auth-v1"
	okPrefix       = "OK\x00"

	helloSize   = len(HandshakeMagic) + NonceSize + sha256.Size
	welcomeSize = len(okPrefix) + NonceSize
)

// Unauthorized is the problem returned for a failed handshake.
func Unauthorized(detail string) apitypes.ApiError {
	return apitypes.ApiError{Status: 401, Title: "Unauthorized", Detail: detail}
}

// IsAuthHandshake reports whether the buffered stream starts with the
// handshake magic. It does not consume anything.
func IsAuthHandshake(r *bufio.Reader) (bool, error) {
	b, err := r.Peek(len(HandshakeMagic))
	if err != nil {
		return false, err
	}
	return string(b) == HandshakeMagic, nil
}

func newNonce() ([]byte, error) {
	n := make([]byte, NonceSize)
	if _, err := rand.Read(n); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return n, nil
}

func proof(key, clientNonce []byte) []byte {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(authContext))
	_, _ = mac.Write(clientNonce)
	return mac.Sum(nil)
}

func serverHandshake(r *bufio.Reader, w io.Writer, key []byte) (clientNonce, serverNonce []byte, err error) {
	hello := make([]byte, helloSize)
	if _, err := io.ReadFull(r, hello); err != nil {
		return nil, nil, fmt.Errorf("read client hello: %w", err)
	}
	rest, ok := bytes.CutPrefix(hello, []byte(HandshakeMagic))
	if !ok {
		return nil, nil, Unauthorized("bad handshake magic")
	}
	clientNonce, mac := rest[:NonceSize], rest[NonceSize:]
	if !hmac.Equal(mac, proof(key, clientNonce)) {
		return nil, nil, Unauthorized("invalid password")
	}

	if serverNonce, err = newNonce(); err != nil {
		return nil, nil, err
	}
	if _, err := w.Write(append([]byte(okPrefix), serverNonce...)); err != nil {
		return nil, nil, fmt.Errorf("write server hello: %w", err)
	}
	return clientNonce, serverNonce, nil
}

func clientHandshake(r *bufio.Reader, w io.Writer, key []byte) (clientNonce, serverNonce []byte, err error) {
	if clientNonce, err = newNonce(); err != nil {
		return nil, nil, err
	}
	hello := make([]byte, 0, helloSize)
	hello = append(hello, HandshakeMagic...)
	hello = append(hello, clientNonce...)
	hello = append(hello, proof(key, clientNonce)...)
	if _, err := w.Write(hello); err != nil {
		return nil, nil, fmt.Errorf("write client hello: %w", err)
	}

	reply := make([]byte, welcomeSize)
	n, err := io.ReadFull(r, reply)
	if n >= len(okPrefix) && string(reply[:len(okPrefix)]) == okPrefix {
		if err != nil {
			return nil, nil, fmt.Errorf("read server nonce: %w", err)
		}
		return clientNonce, reply[len(okPrefix):], nil
	}
	switch {
	case n == 0 && errors.Is(err, io.EOF):
		return nil, nil, Unauthorized("connection closed during handshake")
	case err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF):
		return nil, nil, fmt.Errorf("read server hello: %w", err)
	}
	// a refusal is one problem line, possibly longer than the welcome
	tail, _ := io.ReadAll(r)
	return nil, nil, refusal(append(reply[:n], tail...))
}

func refusal(line []byte) error {
	line = bytes.TrimSpace(line)
	var apiErr apitypes.ApiError
	if err := json.Unmarshal(line, &apiErr); err == nil && (apiErr.Status != 0 || apiErr.Title != "") {
		return apiErr
	}
	return fmt.Errorf("invalid handshake response from server: %q", line)
}
