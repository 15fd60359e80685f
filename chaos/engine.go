package chaos

import (
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

// MatchedRule pairs a compiled rule with its ChaosConfig, in the order the
// rule was registered.
type MatchedRule struct {
	Rule   FailureDesignRule
	Config ChaosConfig
}

// Outcome is the composed effect of every matched, probability-selected rule
// for one request.
type Outcome struct {
	TotalLatency     time.Duration
	StatusCode       uint16 // 0 means unset
	ConnectionError  bool
	Timeout          bool
	TimeoutAfter     time.Duration
	PartialResponse  bool
	TruncateFraction float64
	MatchedRules     []string
}

// Engine holds a registered set of failure design rules and evaluates them
// against inbound requests.
type Engine struct {
	logger *slog.Logger

	mu    sync.RWMutex
	rules []FailureDesignRule
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger overrides the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine constructs an empty Engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddRule validates and registers a rule, returning an error if it fails
// validation.
func (e *Engine) AddRule(rule FailureDesignRule) error {
	if err := Validate(rule); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, rule)
	return nil
}

// Rules returns a snapshot of the currently registered rules.
func (e *Engine) Rules() []FailureDesignRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]FailureDesignRule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Match returns every rule whose target and conditions apply to req, in
// registration order, each paired with its compiled ChaosConfig.
func (e *Engine) Match(req Request) ([]MatchedRule, error) {
	e.mu.RLock()
	rules := make([]FailureDesignRule, len(e.rules))
	copy(rules, e.rules)
	e.mu.RUnlock()

	var matched []MatchedRule
	for _, rule := range rules {
		targetOK, err := matchesTarget(rule.Target, req)
		if err != nil {
			return nil, err
		}
		if !targetOK {
			continue
		}

		condOK, err := evaluateConditions(rule.Conditions, req)
		if err != nil {
			return nil, err
		}
		if !condOK {
			continue
		}

		cfg, err := RuleToConfig(rule)
		if err != nil {
			return nil, err
		}
		matched = append(matched, MatchedRule{Rule: rule, Config: cfg})
	}

	return matched, nil
}

// Apply matches req and performs probability-based fault selection across
// every matched rule, composing effects in declaration order: latencies sum,
// the first status/error/timeout wins.
func (e *Engine) Apply(req Request) (Outcome, error) {
	matched, err := e.Match(req)
	if err != nil {
		return Outcome{}, err
	}

	var out Outcome
	for _, m := range matched {
		if rand.Float64() >= m.Rule.Probability {
			continue
		}

		out.MatchedRules = append(out.MatchedRules, m.Rule.Name)

		if m.Config.Latency != nil && m.Config.Latency.Enabled {
			out.TotalLatency += time.Duration(m.Config.Latency.FixedDelayMS) * time.Millisecond
		}

		fi := m.Config.FaultInjection
		if fi == nil || !fi.Enabled {
			continue
		}

		if len(fi.HTTPErrors) > 0 && out.StatusCode == 0 {
			out.StatusCode = fi.HTTPErrors[0]
		}
		if fi.ConnectionErrors && !out.ConnectionError {
			out.ConnectionError = true
		}
		if fi.TimeoutErrors && !out.Timeout {
			out.Timeout = true
			out.TimeoutAfter = time.Duration(fi.TimeoutMS) * time.Millisecond
		}
		if fi.PartialResponses && !out.PartialResponse {
			out.PartialResponse = true
			out.TruncateFraction = partialResponseFraction(m.Rule)
		}
	}

	e.logger.Debug("chaos evaluated", "path", req.Path, "matched_rules", out.MatchedRules)

	return out, nil
}

func partialResponseFraction(rule FailureDesignRule) float64 {
	if rule.FailureType == FailurePartial {
		return rule.TruncatePercentage
	}
	return 0
}

// Truncate returns body truncated to len(body)*(1-fraction) bytes, per the
// PartialResponse fault's truncate semantics.
func Truncate(body []byte, fraction float64) []byte {
	if fraction <= 0 {
		return body
	}
	if fraction >= 1 {
		return body[:0]
	}
	keep := int(float64(len(body)) * (1 - fraction))
	return body[:keep]
}
