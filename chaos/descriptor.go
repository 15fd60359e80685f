package chaos

import "fmt"

// GenerateWebhookHook builds the hook descriptor consumed externally to
// intercept and fail webhook executions. Only valid for FailureWebhook
// rules.
func GenerateWebhookHook(rule FailureDesignRule) (map[string]any, error) {
	if rule.FailureType != FailureWebhook {
		return nil, fmt.Errorf("rule %q is not a webhook failure type", rule.Name)
	}

	return map[string]any{
		"type":            "webhook_failure",
		"name":            rule.Name,
		"webhook_pattern": rule.WebhookPattern,
		"probability":     rule.Probability,
		"target":          targetToMap(rule.Target),
		"conditions":      conditionsToSlice(rule.Conditions),
	}, nil
}

// GenerateRouteChaosConfig converts a validated rule into the per-endpoint
// route chaos configuration JSON shape consumed by a route-scoped chaos
// injector: one entry per endpoint glob in the rule's target.
func GenerateRouteChaosConfig(rule FailureDesignRule) (map[string]any, error) {
	if err := Validate(rule); err != nil {
		return nil, err
	}

	var routes []map[string]any

	for _, endpoint := range rule.Target.Endpoints {
		route := map[string]any{
			"path":        endpoint,
			"probability": rule.Probability,
		}

		if len(rule.Target.Methods) > 0 {
			route["methods"] = rule.Target.Methods
		}

		switch rule.FailureType {
		case FailureStatusCode:
			route["fault_injection"] = map[string]any{
				"enabled":     true,
				"status_code": rule.StatusCode,
			}
		case FailureLatency:
			route["latency"] = map[string]any{
				"enabled":  true,
				"delay_ms": rule.LatencyMS,
			}
		case FailureTimeout:
			route["fault_injection"] = map[string]any{
				"enabled":    true,
				"timeout":    true,
				"timeout_ms": rule.TimeoutMS,
			}
		case FailureConnection:
			route["fault_injection"] = map[string]any{
				"enabled":          true,
				"connection_error": true,
			}
		case FailurePartial:
			route["fault_injection"] = map[string]any{
				"enabled":             true,
				"partial_response":    true,
				"truncate_percentage": rule.TruncatePercentage,
			}
		case FailureWebhook:
			continue
		}

		if len(rule.Conditions) > 0 {
			route["conditions"] = conditionsToSlice(rule.Conditions)
		}
		if len(rule.Target.UserAgents) > 0 {
			route["user_agent_patterns"] = rule.Target.UserAgents
		}
		if len(rule.Target.IPRanges) > 0 {
			route["ip_ranges"] = rule.Target.IPRanges
		}
		if len(rule.Target.Headers) > 0 {
			route["header_filters"] = rule.Target.Headers
		}

		routes = append(routes, route)
	}

	return map[string]any{"routes": routes}, nil
}

func targetToMap(t FailureTarget) map[string]any {
	m := map[string]any{"endpoints": t.Endpoints}
	if len(t.UserAgents) > 0 {
		m["user_agents"] = t.UserAgents
	}
	if len(t.IPRanges) > 0 {
		m["ip_ranges"] = t.IPRanges
	}
	if len(t.Headers) > 0 {
		m["headers"] = t.Headers
	}
	if len(t.Methods) > 0 {
		m["methods"] = t.Methods
	}
	return m
}

func conditionsToSlice(conds []FailureCondition) []map[string]any {
	out := make([]map[string]any, len(conds))
	for i, c := range conds {
		out[i] = map[string]any{
			"condition_type": c.ConditionType,
			"field":          c.Field,
			"operator":       c.Operator,
			"value":          c.Value,
		}
	}
	return out
}
