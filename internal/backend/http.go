package backend

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/vyrodovalexey/avmedgw/internal/message"
	"github.com/vyrodovalexey/avmedgw/internal/observability"
)

// CorrelationIDHeader carries the message correlation ID to the backend.
const CorrelationIDHeader = "X-Correlation-Id"

// maxResponseBytes bounds how much of a backend response is read.
const maxResponseBytes = 16 << 20

// HTTPEndpoint dispatches messages as HTTP POST requests.
type HTTPEndpoint struct {
	client *http.Client
	logger observability.Logger
}

// HTTPOption configures an HTTPEndpoint.
type HTTPOption func(*HTTPEndpoint)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(e *HTTPEndpoint) {
		e.client = client
	}
}

// WithHTTPLogger sets the logger.
func WithHTTPLogger(logger observability.Logger) HTTPOption {
	return func(e *HTTPEndpoint) {
		e.logger = logger
	}
}

// NewHTTPEndpoint creates an HTTP endpoint. Deadlines come from the caller's
// context, so the underlying client carries no timeout of its own.
func NewHTTPEndpoint(opts ...HTTPOption) *HTTPEndpoint {
	e := &HTTPEndpoint{
		client: &http.Client{},
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Send posts the message payload to the target and returns the response as
// a derived message. Transport failures are classified into the package's
// error taxonomy.
func (e *HTTPEndpoint) Send(ctx context.Context, target string, msg *message.Message) (*message.Message, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(msg.Payload()))
	if err != nil {
		return nil, NewError(target, ErrProtocol, err)
	}

	req.Header.Set("Content-Type", contentType(msg.Format()))
	req.Header.Set(CorrelationIDHeader, msg.CorrelationID())
	for k, v := range msg.Headers() {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, NewError(target, classify(err), err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, NewError(target, classify(err), err)
	}

	e.logger.Debug("backend call completed",
		observability.String("target", target),
		observability.Int("status", resp.StatusCode),
		observability.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, NewError(target, ErrConnection, errors.New(resp.Status))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, NewError(target, ErrProtocol, errors.New(resp.Status))
	}

	return msg.WithPayload(body, formatOf(resp.Header.Get("Content-Type"), msg.Format())), nil
}

// contentType maps a message format onto a MIME type.
func contentType(f message.Format) string {
	switch f {
	case message.FormatJSON:
		return "application/json"
	case message.FormatXML:
		return "application/xml"
	default:
		return "application/octet-stream"
	}
}

// formatOf maps a response MIME type back onto a message format, falling
// back to the request format when the type is unrecognized.
func formatOf(mime string, fallback message.Format) message.Format {
	switch {
	case mime == "":
		return fallback
	case strings.Contains(mime, "json"):
		return message.FormatJSON
	case strings.Contains(mime, "xml"):
		return message.FormatXML
	case strings.Contains(mime, "octet-stream"):
		return message.FormatRaw
	default:
		return fallback
	}
}

// classify buckets a transport error into the package taxonomy.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	return ErrConnection
}
