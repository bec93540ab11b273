// Package config loads and validates the gateway configuration and
// builds the runtime transformer registry and proxy service manager from
// it. Configuration errors are surfaced at load time, before any traffic
// is accepted.
package config

import (
	"fmt"
	"net/url"
)

// Transformer types accepted in configuration.
const (
	TransformerXMLToJSON    = "xml-to-json"
	TransformerJSONToXML    = "json-to-xml"
	TransformerPassthrough  = "passthrough"
	TransformerHeaderEnrich = "header-enrich"
	TransformerTemplate     = "template"
)

// Config is the root configuration document.
type Config struct {
	Logging      LoggingConfig       `yaml:"logging"`
	Audit        AuditConfig         `yaml:"audit"`
	Transformers []TransformerConfig `yaml:"transformers"`
	Chains       []ChainConfig       `yaml:"chains"`
	Services     []ServiceConfig     `yaml:"services"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// AuditConfig configures the audit recorder.
type AuditConfig struct {
	// Buffer is the audit event buffer size. Zero selects the default.
	Buffer int `yaml:"buffer"`
}

// TransformerConfig declares one named transformer.
type TransformerConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`

	// Format is the declared format for format-preserving transformers
	// (passthrough, header-enrich).
	Format string `yaml:"format,omitempty"`

	// Output is the output format of a template transformer.
	Output string `yaml:"output,omitempty"`

	// Template is the template body of a template transformer.
	Template string `yaml:"template,omitempty"`

	// Headers are the static headers stamped by a header-enrich transformer.
	Headers map[string]string `yaml:"headers,omitempty"`
}

// ChainConfig declares an ordered chain of registered transformer names.
type ChainConfig struct {
	Name  string   `yaml:"name"`
	Units []string `yaml:"units"`
}

// ServiceConfig declares one proxy service.
type ServiceConfig struct {
	Name   string `yaml:"name"`
	Target string `yaml:"target"`

	// RequestChain and ResponseChain name registered transformers or
	// chains. Empty means no transformation.
	RequestChain  string `yaml:"requestChain,omitempty"`
	ResponseChain string `yaml:"responseChain,omitempty"`

	Security   SecurityConfig   `yaml:"security"`
	Resiliency ResiliencyConfig `yaml:"resiliency"`

	// Predicate is a routing expression over message attributes. Services
	// without one are reachable by explicit name only.
	Predicate string `yaml:"predicate,omitempty"`

	RateLimit *RateLimitConfig `yaml:"rateLimit,omitempty"`

	// CallTimeout bounds one backend attempt.
	CallTimeout Duration `yaml:"callTimeout,omitempty"`
}

// SecurityConfig is a service's authorization requirement.
type SecurityConfig struct {
	Required bool     `yaml:"required"`
	Scheme   string   `yaml:"scheme,omitempty"`
	Roles    []string `yaml:"roles,omitempty"`
}

// ResiliencyConfig combines retry and circuit breaker settings.
type ResiliencyConfig struct {
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"`
}

// RetryConfig configures the per-service retry policy. Zero values fall
// back to policy defaults.
type RetryConfig struct {
	MaxRetries   uint     `yaml:"maxRetries"`
	BaseInterval Duration `yaml:"baseInterval,omitempty"`
	Multiplier   float64  `yaml:"multiplier,omitempty"`
	MaxInterval  Duration `yaml:"maxInterval,omitempty"`
}

// CircuitBreakerConfig configures the per-service circuit breaker. Zero
// values fall back to breaker defaults.
type CircuitBreakerConfig struct {
	FailureThreshold uint32   `yaml:"failureThreshold"`
	OpenDuration     Duration `yaml:"openDuration,omitempty"`
	HalfOpenTrials   uint32   `yaml:"halfOpenTrials,omitempty"`
	SamplingInterval Duration `yaml:"samplingInterval,omitempty"`
}

// RateLimitConfig bounds a service's admitted request rate.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"perSecond"`
	Burst     int     `yaml:"burst,omitempty"`
}

// DefaultConfig returns a configuration with sensible defaults and no
// transformers or services.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Validate checks structural invariants that do not require building the
// runtime objects: unique names, known transformer types, and well-formed
// targets. Cross-references between sections are checked during Build.
func (c *Config) Validate() error {
	transformers := make(map[string]bool, len(c.Transformers))
	for i, t := range c.Transformers {
		if t.Name == "" {
			return fmt.Errorf("transformer %d: name is required", i)
		}
		if transformers[t.Name] {
			return fmt.Errorf("transformer %q: duplicate name", t.Name)
		}
		transformers[t.Name] = true

		switch t.Type {
		case TransformerXMLToJSON, TransformerJSONToXML:
		case TransformerPassthrough, TransformerHeaderEnrich:
			if t.Format == "" {
				return fmt.Errorf("transformer %q: type %q requires a format", t.Name, t.Type)
			}
		case TransformerTemplate:
			if t.Template == "" {
				return fmt.Errorf("transformer %q: template body is required", t.Name)
			}
		default:
			return fmt.Errorf("transformer %q: unknown type %q", t.Name, t.Type)
		}
	}

	chains := make(map[string]bool, len(c.Chains))
	for i, ch := range c.Chains {
		if ch.Name == "" {
			return fmt.Errorf("chain %d: name is required", i)
		}
		if transformers[ch.Name] || chains[ch.Name] {
			return fmt.Errorf("chain %q: duplicate name", ch.Name)
		}
		chains[ch.Name] = true
		if len(ch.Units) == 0 {
			return fmt.Errorf("chain %q: at least one unit is required", ch.Name)
		}
	}

	services := make(map[string]bool, len(c.Services))
	for i, s := range c.Services {
		if s.Name == "" {
			return fmt.Errorf("service %d: name is required", i)
		}
		if services[s.Name] {
			return fmt.Errorf("service %q: duplicate name", s.Name)
		}
		services[s.Name] = true

		u, err := url.Parse(s.Target)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("service %q: invalid target %q", s.Name, s.Target)
		}
		if s.Security.Required && s.Security.Scheme == "" {
			return fmt.Errorf("service %q: security requires a scheme", s.Name)
		}
		if s.RateLimit != nil && s.RateLimit.PerSecond <= 0 {
			return fmt.Errorf("service %q: rate limit perSecond must be positive", s.Name)
		}
	}

	return nil
}
