package backend

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avmedgw/internal/message"
)

func TestHTTPEndpoint_Send(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/xml", r.Header.Get("Content-Type"))
		assert.Equal(t, "corr-7", r.Header.Get(CorrelationIDHeader))
		assert.Equal(t, "acme", r.Header.Get("Tenant"))

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "<ping/>", string(body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"pong":true}`))
	}))
	defer server.Close()

	endpoint := NewHTTPEndpoint()
	msg := message.New([]byte("<ping/>"), message.FormatXML,
		message.WithCorrelationID("corr-7"),
		message.WithHeaders(map[string]string{"Tenant": "acme"}),
	)

	resp, err := endpoint.Send(context.Background(), server.URL, msg)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"pong":true}`), resp.Payload())
	assert.Equal(t, message.FormatJSON, resp.Format())
	assert.Equal(t, "corr-7", resp.CorrelationID())
}

func TestHTTPEndpoint_Send_ServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	endpoint := NewHTTPEndpoint()
	_, err := endpoint.Send(context.Background(), server.URL, message.New(nil, message.FormatRaw))
	assert.ErrorIs(t, err, ErrConnection)
}

func TestHTTPEndpoint_Send_ClientError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	endpoint := NewHTTPEndpoint()
	_, err := endpoint.Send(context.Background(), server.URL, message.New(nil, message.FormatRaw))
	assert.ErrorIs(t, err, ErrProtocol)
	assert.False(t, IsRetryable(err))
}

func TestHTTPEndpoint_Send_ConnectionRefused(t *testing.T) {
	t.Parallel()

	endpoint := NewHTTPEndpoint()
	_, err := endpoint.Send(context.Background(), "http://127.0.0.1:1", message.New(nil, message.FormatRaw))
	assert.ErrorIs(t, err, ErrConnection)
	assert.True(t, IsRetryable(err))
}

func TestHTTPEndpoint_Send_DeadlineExceeded(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	endpoint := NewHTTPEndpoint()
	_, err := endpoint.Send(ctx, server.URL, message.New(nil, message.FormatRaw))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, IsRetryable(err))
}

func TestHTTPEndpoint_Send_FallbackFormat(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("opaque"))
	}))
	defer server.Close()

	endpoint := NewHTTPEndpoint()
	resp, err := endpoint.Send(context.Background(), server.URL, message.New(nil, message.FormatRaw))
	require.NoError(t, err)
	assert.Equal(t, message.FormatRaw, resp.Format())
}

func TestFormatOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mime string
		want message.Format
	}{
		{"application/json", message.FormatJSON},
		{"application/json; charset=utf-8", message.FormatJSON},
		{"application/xml", message.FormatXML},
		{"text/xml", message.FormatXML},
		{"application/octet-stream", message.FormatRaw},
		{"", message.FormatJSON},
		{"text/plain", message.FormatJSON},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatOf(tt.mime, message.FormatJSON), "mime %q", tt.mime)
	}
}
