package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vyrodovalexey/avmedgw/internal/auth"
	"github.com/vyrodovalexey/avmedgw/internal/mediation"
	"github.com/vyrodovalexey/avmedgw/internal/message"
	"github.com/vyrodovalexey/avmedgw/internal/observability"
)

// maxRequestBody bounds inbound payload size.
const maxRequestBody = 16 << 20

// msgHeaderPrefix marks HTTP headers carried into the mediated message.
const msgHeaderPrefix = "X-Mediation-"

// serviceDirectory lists registered proxy services.
type serviceDirectory interface {
	Names() []string
}

// newHandler builds the gateway's HTTP mux: the mediation endpoints plus
// health and metrics.
func newHandler(mediator *mediation.Mediator, directory serviceDirectory, logger observability.Logger) http.Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /mediate", mediateHandler(mediator, logger))
	mux.HandleFunc("POST /mediate/{service}", mediateHandler(mediator, logger))
	mux.HandleFunc("GET /services", servicesHandler(mediator, directory))
	mux.HandleFunc("GET /services/{service}/health", serviceHealthHandler(mediator))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// mediateHandler mediates one message. The optional {service} path value
// names the target explicitly; without it routing predicates decide.
func mediateHandler(mediator *mediation.Mediator, logger observability.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable request body", "")
			return
		}

		msg := buildMessage(r, payload)
		identity := buildIdentity(r)

		response, err := mediator.Handle(r.Context(), msg, identity, r.PathValue("service"))
		if err != nil {
			logger.Debug("mediation failed",
				observability.String("correlation_id", msg.CorrelationID()),
				observability.Error(err),
			)
			status, kind := classify(err)
			writeError(w, status, kind, msg.CorrelationID())
			return
		}

		w.Header().Set("Content-Type", mimeOf(response.Format()))
		w.Header().Set("X-Correlation-Id", response.CorrelationID())
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(response.Payload())
	}
}

// servicesHandler lists registered services with their circuit health.
func servicesHandler(mediator *mediation.Mediator, directory serviceDirectory) http.HandlerFunc {
	type entry struct {
		Name        string  `json:"name"`
		State       string  `json:"state"`
		SuccessRate float64 `json:"success_rate"`
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		names := directory.Names()
		entries := make([]entry, 0, len(names))
		for _, name := range names {
			health, err := mediator.Health(name)
			if err != nil {
				continue
			}
			entries = append(entries, entry{
				Name:        name,
				State:       health.State.String(),
				SuccessRate: health.SuccessRate,
			})
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

// serviceHealthHandler reports one service's circuit health.
func serviceHealthHandler(mediator *mediation.Mediator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("service")
		health, err := mediator.Health(name)
		if err != nil {
			writeError(w, http.StatusNotFound, "service not found", "")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"name":         name,
			"state":        health.State.String(),
			"success_rate": health.SuccessRate,
		})
	}
}

// buildMessage derives the mediated message from the HTTP request. Headers
// under the X-Mediation- prefix travel with the message; an inbound
// X-Correlation-Id is honored, otherwise one is generated.
func buildMessage(r *http.Request, payload []byte) *message.Message {
	headers := make(map[string]string)
	for name, values := range r.Header {
		if strings.HasPrefix(name, msgHeaderPrefix) && len(values) > 0 {
			headers[strings.TrimPrefix(name, msgHeaderPrefix)] = values[0]
		}
	}

	opts := []message.Option{message.WithHeaders(headers)}
	if id := r.Header.Get("X-Correlation-Id"); id != "" {
		opts = append(opts, message.WithCorrelationID(id))
	}
	return message.New(payload, formatOfMIME(r.Header.Get("Content-Type")), opts...)
}

// buildIdentity reads the caller identity established by the fronting
// authentication layer from trusted headers.
func buildIdentity(r *http.Request) auth.Identity {
	subject := r.Header.Get("X-Auth-Subject")
	if subject == "" {
		return auth.Anonymous()
	}

	var roles []string
	if raw := r.Header.Get("X-Auth-Roles"); raw != "" {
		for _, role := range strings.Split(raw, ",") {
			if role = strings.TrimSpace(role); role != "" {
				roles = append(roles, role)
			}
		}
	}

	return auth.Identity{
		Subject: subject,
		Scheme:  auth.Scheme(r.Header.Get("X-Auth-Scheme")),
		Roles:   roles,
	}
}

// classify maps a mediation failure onto an HTTP status and a stable kind
// string for the response body.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, mediation.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, mediation.ErrNotFound):
		return http.StatusNotFound, "service not found"
	case errors.Is(err, mediation.ErrNoRoute):
		return http.StatusNotFound, "no route for message"
	case errors.Is(err, mediation.ErrRateLimited):
		return http.StatusTooManyRequests, "rate limit exceeded"
	case errors.Is(err, mediation.ErrTimeout):
		return http.StatusGatewayTimeout, "backend timed out"
	case errors.Is(err, mediation.ErrTransformation):
		return http.StatusBadGateway, "transformation failed"
	case errors.Is(err, mediation.ErrCircuitOpen):
		return http.StatusServiceUnavailable, "service circuit is open"
	case errors.Is(err, mediation.ErrBackendUnavailable):
		return http.StatusServiceUnavailable, "backend unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func formatOfMIME(contentType string) message.Format {
	mime := contentType
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	switch strings.TrimSpace(mime) {
	case "application/xml", "text/xml":
		return message.FormatXML
	case "application/json":
		return message.FormatJSON
	default:
		return message.FormatRaw
	}
}

func mimeOf(format message.Format) string {
	switch format {
	case message.FormatXML:
		return "application/xml"
	case message.FormatJSON:
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, kind, correlationID string) {
	writeJSON(w, status, map[string]string{
		"error":          kind,
		"correlation_id": correlationID,
	})
}
