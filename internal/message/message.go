// Package message defines the immutable message value that flows through
// the mediation pipeline.
package message

import (
	"maps"

	"github.com/google/uuid"
)

// Format identifies the wire format of a message payload.
type Format string

// Well-known payload formats. Custom named formats are permitted; two
// formats are compatible only when they compare equal.
const (
	FormatXML  Format = "xml"
	FormatJSON Format = "json"
	FormatRaw  Format = "raw"
)

// String returns the string representation of the format.
func (f Format) String() string {
	return string(f)
}

// Message is an immutable unit of mediation. Each pipeline stage derives a
// new Message instead of mutating one in place, so messages can be shared
// across goroutines without synchronization.
type Message struct {
	payload       []byte
	format        Format
	headers       map[string]string
	correlationID string
}

// Option configures a Message at construction time.
type Option func(*Message)

// WithHeaders sets the initial headers. The map is copied.
func WithHeaders(headers map[string]string) Option {
	return func(m *Message) {
		m.headers = maps.Clone(headers)
	}
}

// WithCorrelationID sets an explicit correlation ID.
func WithCorrelationID(id string) Option {
	return func(m *Message) {
		m.correlationID = id
	}
}

// New creates a message from a payload and format. The payload is copied.
// A correlation ID is generated when none is supplied.
func New(payload []byte, format Format, opts ...Option) *Message {
	m := &Message{
		payload: append([]byte(nil), payload...),
		format:  format,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.headers == nil {
		m.headers = make(map[string]string)
	}
	if m.correlationID == "" {
		m.correlationID = uuid.New().String()
	}
	return m
}

// Payload returns a copy of the message payload.
func (m *Message) Payload() []byte {
	return append([]byte(nil), m.payload...)
}

// Format returns the payload format.
func (m *Message) Format() Format {
	return m.format
}

// CorrelationID returns the correlation ID.
func (m *Message) CorrelationID() string {
	return m.correlationID
}

// Header returns the value of a header and whether it is present.
func (m *Message) Header(key string) (string, bool) {
	v, ok := m.headers[key]
	return v, ok
}

// Headers returns a copy of all headers.
func (m *Message) Headers() map[string]string {
	return maps.Clone(m.headers)
}

// WithPayload derives a message with a new payload and format, preserving
// headers and correlation ID.
func (m *Message) WithPayload(payload []byte, format Format) *Message {
	return &Message{
		payload:       append([]byte(nil), payload...),
		format:        format,
		headers:       m.headers,
		correlationID: m.correlationID,
	}
}

// WithHeader derives a message with one header added or replaced.
func (m *Message) WithHeader(key, value string) *Message {
	headers := maps.Clone(m.headers)
	headers[key] = value
	return &Message{
		payload:       m.payload,
		format:        m.format,
		headers:       headers,
		correlationID: m.correlationID,
	}
}

// Size returns the payload length in bytes.
func (m *Message) Size() int {
	return len(m.payload)
}
