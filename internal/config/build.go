package config

import (
	"fmt"

	"github.com/vyrodovalexey/avmedgw/internal/auth"
	"github.com/vyrodovalexey/avmedgw/internal/backend"
	"github.com/vyrodovalexey/avmedgw/internal/circuitbreaker"
	"github.com/vyrodovalexey/avmedgw/internal/message"
	"github.com/vyrodovalexey/avmedgw/internal/metrics"
	"github.com/vyrodovalexey/avmedgw/internal/observability"
	"github.com/vyrodovalexey/avmedgw/internal/proxy"
	"github.com/vyrodovalexey/avmedgw/internal/retry"
	"github.com/vyrodovalexey/avmedgw/internal/route"
	"github.com/vyrodovalexey/avmedgw/internal/transform"
)

// Build materializes the runtime objects from a validated configuration:
// a transformer registry holding every declared transformer and chain, and
// a proxy manager holding every declared service with its compiled routing
// predicate and resiliency state. Any dangling reference fails the build.
func Build(cfg *Config, endpoint backend.Endpoint, sink metrics.Sink, logger observability.Logger) (*transform.Registry, *proxy.Manager, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if sink == nil {
		sink = metrics.NopSink()
	}

	registry := transform.NewRegistry(logger)

	for _, tc := range cfg.Transformers {
		unit, err := buildTransformer(tc)
		if err != nil {
			return nil, nil, err
		}
		if err := registry.Register(unit); err != nil {
			return nil, nil, fmt.Errorf("register transformer %q: %w", tc.Name, err)
		}
	}

	// Chains are declared after their units and register under their own
	// name, so a later chain or service can reference an earlier chain.
	for _, cc := range cfg.Chains {
		units := make([]transform.Unit, 0, len(cc.Units))
		for _, name := range cc.Units {
			unit, err := registry.Resolve(name)
			if err != nil {
				return nil, nil, fmt.Errorf("chain %q: unit %q: %w", cc.Name, name, err)
			}
			units = append(units, unit)
		}
		chain, err := transform.NewChain(cc.Name, units...)
		if err != nil {
			return nil, nil, fmt.Errorf("chain %q: %w", cc.Name, err)
		}
		if err := registry.Register(chain); err != nil {
			return nil, nil, fmt.Errorf("register chain %q: %w", cc.Name, err)
		}
	}

	manager := proxy.NewManager(endpoint,
		proxy.WithManagerLogger(logger),
		proxy.WithManagerSink(sink),
	)

	for _, sc := range cfg.Services {
		svcCfg, err := buildService(sc, registry)
		if err != nil {
			return nil, nil, err
		}
		if err := manager.Register(svcCfg); err != nil {
			return nil, nil, fmt.Errorf("register service %q: %w", sc.Name, err)
		}
	}

	return registry, manager, nil
}

// buildTransformer constructs one transform unit from its declaration.
func buildTransformer(tc TransformerConfig) (transform.Unit, error) {
	switch tc.Type {
	case TransformerXMLToJSON:
		return transform.NewXMLToJSON(tc.Name), nil
	case TransformerJSONToXML:
		return transform.NewJSONToXML(tc.Name), nil
	case TransformerPassthrough:
		return transform.NewPassthrough(tc.Name, message.Format(tc.Format)), nil
	case TransformerHeaderEnrich:
		return transform.NewHeaderEnrich(tc.Name, message.Format(tc.Format), tc.Headers), nil
	case TransformerTemplate:
		output := message.Format(tc.Output)
		if output == "" {
			output = message.FormatJSON
		}
		unit, err := transform.NewTemplate(tc.Name, output, tc.Template)
		if err != nil {
			return nil, fmt.Errorf("transformer %q: %w", tc.Name, err)
		}
		return unit, nil
	default:
		return nil, fmt.Errorf("transformer %q: unknown type %q", tc.Name, tc.Type)
	}
}

// buildService resolves a service declaration against the registry.
func buildService(sc ServiceConfig, registry *transform.Registry) (proxy.Config, error) {
	svcCfg := proxy.Config{
		Name:        sc.Name,
		Target:      sc.Target,
		Security:    buildSecurity(sc.Security),
		Resiliency:  buildResiliency(sc.Resiliency),
		CallTimeout: sc.CallTimeout.Duration(),
	}

	if sc.RequestChain != "" {
		unit, err := registry.Resolve(sc.RequestChain)
		if err != nil {
			return proxy.Config{}, fmt.Errorf("service %q: request chain %q: %w", sc.Name, sc.RequestChain, err)
		}
		svcCfg.RequestChain = unit
	}
	if sc.ResponseChain != "" {
		unit, err := registry.Resolve(sc.ResponseChain)
		if err != nil {
			return proxy.Config{}, fmt.Errorf("service %q: response chain %q: %w", sc.Name, sc.ResponseChain, err)
		}
		svcCfg.ResponseChain = unit
	}

	if sc.Predicate != "" {
		predicate, err := route.Compile(sc.Predicate)
		if err != nil {
			return proxy.Config{}, fmt.Errorf("service %q: predicate: %w", sc.Name, err)
		}
		svcCfg.Predicate = predicate
	}

	if sc.RateLimit != nil {
		svcCfg.RateLimit = &proxy.RateLimit{
			PerSecond: sc.RateLimit.PerSecond,
			Burst:     sc.RateLimit.Burst,
		}
	}

	return svcCfg, nil
}

func buildSecurity(sc SecurityConfig) auth.Requirement {
	if !sc.Required {
		return auth.None()
	}
	return auth.Require(auth.Scheme(sc.Scheme), sc.Roles...)
}

func buildResiliency(rc ResiliencyConfig) proxy.Resiliency {
	res := proxy.Resiliency{
		Retry:   retry.DefaultPolicy(),
		Breaker: circuitbreaker.DefaultConfig(),
	}

	res.Retry.MaxRetries = rc.Retry.MaxRetries
	if d := rc.Retry.BaseInterval.Duration(); d > 0 {
		res.Retry.BaseInterval = d
	}
	if rc.Retry.Multiplier > 0 {
		res.Retry.Multiplier = rc.Retry.Multiplier
	}
	if d := rc.Retry.MaxInterval.Duration(); d > 0 {
		res.Retry.MaxInterval = d
	}

	if rc.CircuitBreaker.FailureThreshold > 0 {
		res.Breaker.FailureThreshold = rc.CircuitBreaker.FailureThreshold
	}
	if d := rc.CircuitBreaker.OpenDuration.Duration(); d > 0 {
		res.Breaker.OpenDuration = d
	}
	if rc.CircuitBreaker.HalfOpenTrials > 0 {
		res.Breaker.HalfOpenTrials = rc.CircuitBreaker.HalfOpenTrials
	}
	if d := rc.CircuitBreaker.SamplingInterval.Duration(); d > 0 {
		res.Breaker.SamplingInterval = d
	}

	return res
}
