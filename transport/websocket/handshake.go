package websocket

import (
	"bufio"
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const handshakeGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// MaxHandshakeBytes bounds the request line and headers of the upgrade.
const MaxHandshakeBytes = http.DefaultMaxHeaderBytes

var (
	ErrNotUpgrade = errors.New("not a websocket upgrade request")
	ErrMissingKey = errors.New("missing Sec-WebSocket-Key header")
)

// AcceptKey derives the Sec-WebSocket-Accept value for a client key.
func AcceptKey(key string) string {
	sum := sha1.Sum([]byte(key + handshakeGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// HandshakeResponse returns the 101 response that completes the upgrade.
func HandshakeResponse(key string) []byte {
	return []byte("HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + AcceptKey(key) + "\r\n" +
		"\r\n")
}

// ReadHandshake reads the opening HTTP request from r and returns the
// client's key. Bytes after the request stay buffered in r.
func ReadHandshake(r *bufio.Reader) (string, error) {
	head, err := readHead(r, MaxHandshakeBytes)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotUpgrade, err)
	}
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(head)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotUpgrade, err)
	}
	if req.Body != nil {
		req.Body.Close()
	}
	if req.Method != http.MethodGet || req.Proto != "HTTP/1.1" {
		return "", fmt.Errorf("%w: %s %s", ErrNotUpgrade, req.Method, req.Proto)
	}
	if !headerHasToken(req.Header, "Upgrade", "websocket") ||
		!headerHasToken(req.Header, "Connection", "upgrade") {
		return "", ErrNotUpgrade
	}
	key := strings.TrimSpace(req.Header.Get("Sec-WebSocket-Key"))
	if key == "" {
		return "", ErrMissingKey
	}
	return key, nil
}

// readHead reads up to and including the blank line that ends the request
// headers, failing once more than limit bytes have been read.
func readHead(r *bufio.Reader, limit int) ([]byte, error) {
	var head []byte
	lineStart := true
	for {
		chunk, err := r.ReadSlice('\n')
		if len(head)+len(chunk) > limit {
			return nil, fmt.Errorf("request headers exceed %d bytes", limit)
		}
		head = append(head, chunk...)
		switch {
		case err == bufio.ErrBufferFull:
			lineStart = false
			continue
		case err != nil:
			return nil, err
		}
		if lineStart && (string(chunk) == "\r\n" || string(chunk) == "\n") {
			return head, nil
		}
		lineStart = true
	}
}

func headerHasToken(h http.Header, name, token string) bool {
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}
