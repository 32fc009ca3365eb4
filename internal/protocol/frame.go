package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Wire constants shared by the socket and its peers.
const (
	// Separator divides the name and body of every frame.
	Separator byte = ' '
	// ChunkSize is the largest slice of a frame handed to the transport in
	// one write. Inbound messages are read through a buffer of this size.
	ChunkSize = 1024 * 1024 // 1 MB
	// CloseName names every close frame. The close message lives only in
	// Frame.Close.
	CloseName = "close"
)

// ErrInvalidName is returned when a frame name is empty or contains the
// separator.
var ErrInvalidName = errors.New("invalid frame name")

// Direction records which side of the connection produced a frame.
type Direction uint8

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "in"
	}
	return "out"
}

// Close describes the close frame an outbound frame asks the sender to emit
// instead of a text message.
type Close struct {
	Reason  Reason
	Message string
}

// Frame is one named, bodied wire unit: "<name> <body>".
// Frames are immutable once built; share them freely between goroutines.
type Frame struct {
	Direction Direction
	Name      string
	Body      string
	Raw       []byte
	Close     *Close
	Created   time.Time
}

// Encode builds the wire form of a frame. The body is opaque.
func Encode(name, body string) []byte {
	raw := make([]byte, 0, len(name)+1+len(body))
	raw = append(raw, name...)
	raw = append(raw, Separator)
	raw = append(raw, body...)
	return raw
}

// Decode splits raw at the first separator. Without a separator the whole
// buffer is the name and the body is empty.
func Decode(raw []byte) (name, body string) {
	i := bytes.IndexByte(raw, Separator)
	if i < 0 {
		return string(raw), ""
	}
	return string(raw[:i]), string(raw[i+1:])
}

// NewFrame builds an outbound text frame.
func NewFrame(name, body string) (*Frame, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return &Frame{
		Direction: Outbound,
		Name:      name,
		Body:      body,
		Raw:       Encode(name, body),
		Created:   time.Now().UTC(),
	}, nil
}

// NewCloseFrame builds an outbound frame that makes the sender close the
// connection with reason and message.
func NewCloseFrame(reason Reason, message string) *Frame {
	return &Frame{
		Direction: Outbound,
		Name:      CloseName,
		Raw:       Encode(CloseName, ""),
		Close:     &Close{Reason: reason, Message: message},
		Created:   time.Now().UTC(),
	}
}

// ParseFrame builds an inbound frame from a fully reassembled message.
func ParseFrame(raw []byte) *Frame {
	name, body := Decode(raw)
	return &Frame{
		Direction: Inbound,
		Name:      name,
		Body:      body,
		Raw:       raw,
		Created:   time.Now().UTC(),
	}
}

// ValidateName checks that name can be framed and decoded back unchanged.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if strings.IndexByte(name, Separator) >= 0 {
		return fmt.Errorf("%w: %q contains a space", ErrInvalidName, name)
	}
	return nil
}

// IsClose reports whether the frame asks for the connection to be closed.
func (f *Frame) IsClose() bool { return f.Close != nil }

// String returns the frame in "<name> <body>" form.
func (f *Frame) String() string {
	if f.Close != nil {
		return fmt.Sprintf("close(%s) %s", f.Close.Reason, f.Close.Message)
	}
	if f.Raw != nil {
		return string(f.Raw)
	}
	return string(Encode(f.Name, f.Body))
}
