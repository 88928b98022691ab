// Package protocol holds the wire-level constants of the liveness check: the
// request a client sends and the acknowledgement the server answers with.
package protocol

import "strings"

const (
	// Terminator ends every line on the wire.
	Terminator = "\r\n"

	// Request is the only request the server recognizes.
	Request = "PING" + Terminator

	// Reply is written once for every recognized Request.
	Reply = "+PONG" + Terminator
)

// CountRequests returns the number of non-overlapping Request tokens in buf.
// It is a plain substring scan: tokens may appear anywhere, surrounded by
// arbitrary bytes.
func CountRequests(buf string) int {
	return strings.Count(buf, Request)
}

// Decode converts a raw chunk read from a connection into text. Invalid UTF-8
// sequences are replaced with U+FFFD.
func Decode(chunk []byte) string {
	return strings.ToValidUTF8(string(chunk), "�")
}
