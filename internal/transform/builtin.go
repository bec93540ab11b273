package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/vyrodovalexey/avmedgw/internal/message"
)

// NewPassthrough creates a unit that returns the message unchanged. It is
// useful as a format assertion inside a chain.
func NewPassthrough(name string, format message.Format) Unit {
	return NewUnit(name, format, format,
		func(_ context.Context, msg *message.Message) (*message.Message, error) {
			return msg, nil
		})
}

// NewHeaderEnrich creates a format-preserving unit that stamps static
// headers onto every message passing through it.
func NewHeaderEnrich(name string, format message.Format, headers map[string]string) Unit {
	return NewUnit(name, format, format,
		func(_ context.Context, msg *message.Message) (*message.Message, error) {
			out := msg
			for k, v := range headers {
				out = out.WithHeader(k, v)
			}
			return out, nil
		})
}

// NewTemplate creates a unit that rewrites a JSON payload through a Go
// text/template. The decoded JSON document is the template's dot; message
// headers and the correlation ID are available under .Headers and
// .CorrelationID. The rendered output is tagged with the declared output
// format.
func NewTemplate(name string, output message.Format, tmpl string) (Unit, error) {
	parsed, err := template.New(name).Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse template %q: %w", name, err)
	}

	return NewUnit(name, message.FormatJSON, output,
		func(_ context.Context, msg *message.Message) (*message.Message, error) {
			var doc any
			if err := json.Unmarshal(msg.Payload(), &doc); err != nil {
				return nil, fmt.Errorf("decode json: %w", err)
			}

			var buf bytes.Buffer
			err := parsed.Execute(&buf, map[string]any{
				"Input":         doc,
				"Headers":       msg.Headers(),
				"CorrelationID": msg.CorrelationID(),
			})
			if err != nil {
				return nil, fmt.Errorf("execute template: %w", err)
			}
			return msg.WithPayload(buf.Bytes(), output), nil
		}), nil
}
