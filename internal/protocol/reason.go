package protocol

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"nhooyr.io/websocket"
)

// Reason classifies why a connection closed. It travels from whichever side
// detected the termination to the terminal closed event.
type Reason uint8

const (
	ReasonUnspecified Reason = iota
	ReasonNormal
	ReasonProtocolError
	ReasonInvalidMessageType
	ReasonEndpointUnavailable
	ReasonInternalError
)

// MaxCloseText is the longest close message a close frame can carry.
const MaxCloseText = 123

// Goodbye is the close message used when nobody supplied one.
const Goodbye = "Goodbye!"

func (r Reason) String() string {
	switch r {
	case ReasonNormal:
		return "normal"
	case ReasonProtocolError:
		return "protocol error"
	case ReasonInvalidMessageType:
		return "invalid message type"
	case ReasonEndpointUnavailable:
		return "endpoint unavailable"
	case ReasonInternalError:
		return "internal error"
	default:
		return "unspecified"
	}
}

// StatusCode maps the reason onto the WebSocket close code sent on the wire.
// Unspecified has no wire form; it maps to 1005, which must never be sent.
func (r Reason) StatusCode() websocket.StatusCode {
	switch r {
	case ReasonNormal:
		return websocket.StatusNormalClosure
	case ReasonProtocolError:
		return websocket.StatusProtocolError
	case ReasonInvalidMessageType:
		return websocket.StatusUnsupportedData
	case ReasonEndpointUnavailable:
		return websocket.StatusGoingAway
	case ReasonInternalError:
		return websocket.StatusInternalError
	default:
		return websocket.StatusNoStatusRcvd
	}
}

// ReasonFromStatus classifies a close code received from the peer.
func ReasonFromStatus(code websocket.StatusCode) Reason {
	switch code {
	case websocket.StatusNormalClosure:
		return ReasonNormal
	case websocket.StatusGoingAway, websocket.StatusAbnormalClosure:
		return ReasonEndpointUnavailable
	case websocket.StatusProtocolError, websocket.StatusInvalidFramePayloadData,
		websocket.StatusPolicyViolation, websocket.StatusMessageTooBig,
		websocket.StatusMandatoryExtension:
		return ReasonProtocolError
	case websocket.StatusUnsupportedData:
		return ReasonInvalidMessageType
	case websocket.StatusInternalError:
		return ReasonInternalError
	default:
		return ReasonUnspecified
	}
}

var whitespace = regexp.MustCompile(`\s+`)

// CloseText turns an arbitrary message into something a close frame can
// carry: whitespace runs collapse to one space, the result is trimmed and cut
// to MaxCloseText bytes. An empty result falls back to the reason's name.
func CloseText(reason Reason, message string) string {
	text := strings.TrimSpace(whitespace.ReplaceAllString(message, " "))
	if text == "" {
		return reason.String()
	}
	if len(text) <= MaxCloseText {
		return text
	}
	cut := MaxCloseText
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
