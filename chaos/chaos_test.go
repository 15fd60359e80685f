package chaos

import "testing"

func TestValidateRejectsOutOfRangeProbability(t *testing.T) {
	rule := FailureDesignRule{
		Name:        "r1",
		Target:      FailureTarget{Endpoints: []string{"/api/*"}},
		FailureType: FailureStatusCode,
		StatusCode:  500,
		Probability: 1.5,
	}
	if err := Validate(rule); err == nil {
		t.Fatalf("expected error for out-of-range probability")
	}
}

func TestValidateRequiresEndpoints(t *testing.T) {
	rule := FailureDesignRule{
		Name:        "r1",
		FailureType: FailureConnection,
		Probability: 0.5,
	}
	if err := Validate(rule); err == nil {
		t.Fatalf("expected error for missing endpoints")
	}
}

func TestValidateRejectsBadStatusCode(t *testing.T) {
	rule := FailureDesignRule{
		Name:        "r1",
		Target:      FailureTarget{Endpoints: []string{"/api/*"}},
		FailureType: FailureStatusCode,
		StatusCode:  50,
		Probability: 0.5,
	}
	if err := Validate(rule); err == nil {
		t.Fatalf("expected error for invalid status code")
	}
}

func TestValidateRejectsZeroLatency(t *testing.T) {
	rule := FailureDesignRule{
		Name:        "r1",
		Target:      FailureTarget{Endpoints: []string{"/api/*"}},
		FailureType: FailureLatency,
		LatencyMS:   0,
		Probability: 0.5,
	}
	if err := Validate(rule); err == nil {
		t.Fatalf("expected error for zero delay")
	}
}

func TestRuleToConfigStatusCode(t *testing.T) {
	rule := FailureDesignRule{
		Name:        "r1",
		Target:      FailureTarget{Endpoints: []string{"/api/*"}},
		FailureType: FailureStatusCode,
		StatusCode:  503,
		Probability: 0.2,
	}
	cfg, err := RuleToConfig(rule)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.FaultInjection == nil || cfg.FaultInjection.HTTPErrors[0] != 503 {
		t.Fatalf("expected compiled status code 503, got %+v", cfg.FaultInjection)
	}
}

func TestRuleToConfigWebhookIsEmpty(t *testing.T) {
	rule := FailureDesignRule{
		Name:           "r1",
		Target:         FailureTarget{Endpoints: []string{"/hooks/*"}},
		FailureType:    FailureWebhook,
		WebhookPattern: "https://example.com/*",
		Probability:    0.5,
	}
	cfg, err := RuleToConfig(rule)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Enabled {
		t.Fatalf("expected empty config for webhook rule")
	}
}

func TestMatchesTargetEndpointGlobAndMethod(t *testing.T) {
	target := FailureTarget{
		Endpoints: []string{"api/users/**"},
		Methods:   []string{"GET", "POST"},
	}
	req := Request{Path: "/api/users/42/profile", Method: "GET"}

	ok, err := matchesTarget(target, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected target to match")
	}

	req.Method = "DELETE"
	ok, err = matchesTarget(target, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected method mismatch to exclude request")
	}
}

func TestMatchesTargetIPRange(t *testing.T) {
	target := FailureTarget{
		Endpoints: []string{"api/*"},
		IPRanges:  []string{"10.0.0.0/8"},
	}
	inside := Request{Path: "/api/x", ClientIP: "10.1.2.3"}
	outside := Request{Path: "/api/x", ClientIP: "192.168.1.1"}

	ok, err := matchesTarget(target, inside)
	if err != nil || !ok {
		t.Fatalf("expected IP in CIDR to match: ok=%v err=%v", ok, err)
	}
	ok, err = matchesTarget(target, outside)
	if err != nil || ok {
		t.Fatalf("expected IP outside CIDR to not match: ok=%v err=%v", ok, err)
	}
}

func TestEvaluateConditionsOperators(t *testing.T) {
	req := Request{Headers: map[string]string{"X-Plan": "premium"}}
	conds := []FailureCondition{
		{ConditionType: ConditionHeader, Field: "X-Plan", Operator: OpEquals, Value: "premium"},
		{ConditionType: ConditionHeader, Field: "X-Plan", Operator: OpContains, Value: "rem"},
	}
	ok, err := evaluateConditions(conds, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected all conditions to pass")
	}
}

func TestEvaluateConditionsNumericComparison(t *testing.T) {
	req := Request{Query: map[string]string{"age": "30"}}
	conds := []FailureCondition{
		{ConditionType: ConditionQuery, Field: "age", Operator: OpGreaterThan, Value: 18},
	}
	ok, err := evaluateConditions(conds, req)
	if err != nil || !ok {
		t.Fatalf("expected numeric gt to pass: ok=%v err=%v", ok, err)
	}
}

func TestEngineApplyComposesAcrossMultipleRules(t *testing.T) {
	e := NewEngine()
	if err := e.AddRule(FailureDesignRule{
		Name:        "latency-1",
		Target:      FailureTarget{Endpoints: []string{"api/*"}},
		FailureType: FailureLatency,
		LatencyMS:   100,
		Probability: 1.0,
	}); err != nil {
		t.Fatalf("add rule: %v", err)
	}
	if err := e.AddRule(FailureDesignRule{
		Name:        "latency-2",
		Target:      FailureTarget{Endpoints: []string{"api/*"}},
		FailureType: FailureLatency,
		LatencyMS:   50,
		Probability: 1.0,
	}); err != nil {
		t.Fatalf("add rule: %v", err)
	}
	if err := e.AddRule(FailureDesignRule{
		Name:        "status-1",
		Target:      FailureTarget{Endpoints: []string{"api/*"}},
		FailureType: FailureStatusCode,
		StatusCode:  503,
		Probability: 1.0,
	}); err != nil {
		t.Fatalf("add rule: %v", err)
	}

	out, err := e.Apply(Request{Path: "/api/widgets"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if out.TotalLatency.Milliseconds() != 150 {
		t.Fatalf("expected summed latency of 150ms, got %v", out.TotalLatency)
	}
	if out.StatusCode != 503 {
		t.Fatalf("expected status 503, got %d", out.StatusCode)
	}
	if len(out.MatchedRules) != 3 {
		t.Fatalf("expected 3 matched rules, got %d", len(out.MatchedRules))
	}
}

func TestTruncate(t *testing.T) {
	body := []byte("0123456789")
	got := Truncate(body, 0.3)
	if len(got) != 7 {
		t.Fatalf("expected 7 bytes kept, got %d", len(got))
	}
	if string(Truncate(body, 0)) != string(body) {
		t.Fatalf("expected zero fraction to return body unchanged")
	}
}

func TestGenerateRouteChaosConfigShape(t *testing.T) {
	rule := FailureDesignRule{
		Name:        "r1",
		Target:      FailureTarget{Endpoints: []string{"api/a", "api/b"}, Methods: []string{"GET"}},
		FailureType: FailureTimeout,
		TimeoutMS:   2000,
		Probability: 0.1,
	}
	out, err := GenerateRouteChaosConfig(rule)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	routes, ok := out["routes"].([]map[string]any)
	if !ok || len(routes) != 2 {
		t.Fatalf("expected 2 route entries, got %v", out["routes"])
	}
}

func TestGenerateWebhookHookRejectsNonWebhookRule(t *testing.T) {
	rule := FailureDesignRule{
		Name:        "r1",
		Target:      FailureTarget{Endpoints: []string{"api/*"}},
		FailureType: FailureStatusCode,
		StatusCode:  500,
		Probability: 0.5,
	}
	if _, err := GenerateWebhookHook(rule); err == nil {
		t.Fatalf("expected error for non-webhook rule")
	}
}
