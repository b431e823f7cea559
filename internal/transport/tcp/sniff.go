package tcp

import (
	"bufio"
	"bytes"
)

var httpMethods = [][]byte{
	[]byte("GET "),
	[]byte("POST"),
	[]byte("PUT "),
	[]byte("HEAD"),
	[]byte("OPTI"), // OPTIONS
	[]byte("PATC"), // PATCH
	[]byte("DELE"), // DELETE
	[]byte("CONN"), // CONNECT
}

// isHTTP peeks at the first bytes of a connection to tell an HTTP request
// (a WebSocket upgrade) from a chat client. It blocks until the peer sends
// at least one byte, but never waits for more than what has arrived, so a
// short legacy username is not held back.
func isHTTP(reader *bufio.Reader) (bool, error) {
	if _, err := reader.Peek(1); err != nil {
		return false, err
	}
	n := min(reader.Buffered(), 4)
	prefix, err := reader.Peek(n)
	if err != nil {
		return false, err
	}
	for _, method := range httpMethods {
		if bytes.Equal(prefix, method) {
			return true, nil
		}
	}
	return false, nil
}
