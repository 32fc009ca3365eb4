package protocol

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	// HandshakeName is the name of the first frame the server sends after
	// the socket is accepted.
	HandshakeName = "connectionResponse"
	// ReplySuffix is appended to a command name to get its reply name.
	ReplySuffix = "Response"
	// RequestIDField is the body field correlating a command with its reply.
	RequestIDField = "reqId"
	// SessionIDField carries the session identity in the handshake body.
	SessionIDField = "ghostId"
)

// ReplyName returns the name of the frame answering command.
func ReplyName(command string) string {
	return command + ReplySuffix
}

// StampRequestID returns body with reqId set to id. An empty body is treated
// as an empty JSON object.
func StampRequestID(body string, id uint64) (string, error) {
	if strings.TrimSpace(body) == "" {
		body = "{}"
	}
	if !gjson.Valid(body) || !gjson.Parse(body).IsObject() {
		return "", fmt.Errorf("command body must be a JSON object: %q", body)
	}
	stamped, err := sjson.Set(body, RequestIDField, id)
	if err != nil {
		return "", fmt.Errorf("stamping %s: %w", RequestIDField, err)
	}
	return stamped, nil
}

// RequestID extracts reqId from a reply body. ok is false when the body
// carries no numeric reqId.
func RequestID(body string) (id uint64, ok bool) {
	v := gjson.Get(body, RequestIDField)
	if v.Type != gjson.Number {
		return 0, false
	}
	return v.Uint(), true
}

// Handshake is the decoded body of the connectionResponse frame.
type Handshake struct {
	SessionID string `json:"ghostId"`
	Raw       string `json:"-"`
}

// ParseHandshake reads the session identity out of a handshake body. A body
// without a ghostId yields an empty SessionID rather than an error; the
// server decides what an anonymous session means.
func ParseHandshake(body string) Handshake {
	return Handshake{
		SessionID: gjson.Get(body, SessionIDField).String(),
		Raw:       body,
	}
}
