// Package chaos implements the route-scoped failure/latency injection
// engine: compiling declarative failure design rules into chaos
// configurations, matching inbound requests against those rules, and
// selecting which faults actually fire for a given request.
package chaos

import (
	"fmt"

	"github.com/SaaSy-Solutions/mockforge-sub003/mockerr"
)

// FailureType discriminates the kind of fault a FailureDesignRule injects.
type FailureType string

const (
	FailureWebhook    FailureType = "webhook_failure"
	FailureStatusCode FailureType = "status_code"
	FailureLatency    FailureType = "latency"
	FailureTimeout    FailureType = "timeout"
	FailureConnection FailureType = "connection_error"
	FailurePartial    FailureType = "partial_response"
)

// FailureDesignRule specifies a failure scenario with target conditions and
// a failure type, the user-facing unit compiled into a ChaosConfig.
type FailureDesignRule struct {
	Name        string
	Target      FailureTarget
	FailureType FailureType
	Conditions  []FailureCondition
	Probability float64

	StatusCode         uint16  // FailureStatusCode
	LatencyMS          uint64  // FailureLatency
	TimeoutMS          uint64  // FailureTimeout
	TruncatePercentage float64 // FailurePartial
	WebhookPattern     string  // FailureWebhook

	Description string
}

// FailureTarget specifies which requests a rule applies to.
type FailureTarget struct {
	Endpoints  []string // glob patterns, matched via doublestar
	UserAgents []string // regex patterns, nil means unconstrained
	IPRanges   []string // CIDR or single IPs, nil means unconstrained
	Headers    map[string]string
	Methods    []string
}

// ConditionType names the part of the request a FailureCondition inspects.
type ConditionType string

const (
	ConditionHeader ConditionType = "header"
	ConditionQuery  ConditionType = "query"
	ConditionBody   ConditionType = "body"
	ConditionPath   ConditionType = "path"
)

// ConditionOperator is the comparison applied between a condition's Field
// value and its Value.
type ConditionOperator string

const (
	OpEquals      ConditionOperator = "eq"
	OpNotEquals   ConditionOperator = "ne"
	OpContains    ConditionOperator = "contains"
	OpMatches     ConditionOperator = "matches"
	OpGreaterThan ConditionOperator = "gt"
	OpLessThan    ConditionOperator = "lt"
)

// FailureCondition is an additional predicate a request must satisfy for a
// rule to match, beyond its FailureTarget.
type FailureCondition struct {
	ConditionType ConditionType
	Field         string
	Operator      ConditionOperator
	Value any
}

func validationErr(message string) error {
	return mockerr.New(mockerr.KindChaosValidation, "invalid_rule", message)
}

// Validate checks a FailureDesignRule for internal consistency, returning a
// *mockerr.Error describing the first violation found. It is total: every
// rule either validates or fails with a specific reason.
func Validate(rule FailureDesignRule) error {
	if rule.Probability < 0.0 || rule.Probability > 1.0 {
		return validationErr("probability must be between 0.0 and 1.0")
	}
	if len(rule.Target.Endpoints) == 0 {
		return validationErr("at least one endpoint must be specified")
	}

	switch rule.FailureType {
	case FailureWebhook:
		if rule.WebhookPattern == "" {
			return validationErr("webhook pattern cannot be empty")
		}
	case FailureStatusCode:
		if rule.StatusCode < 100 || rule.StatusCode > 599 {
			return validationErr("status code must be between 100 and 599")
		}
	case FailureLatency:
		if rule.LatencyMS == 0 {
			return validationErr("delay must be greater than 0")
		}
	case FailureTimeout:
		if rule.TimeoutMS == 0 {
			return validationErr("timeout must be greater than 0")
		}
	case FailureConnection:
		// no further validation
	case FailurePartial:
		if rule.TruncatePercentage < 0.0 || rule.TruncatePercentage > 1.0 {
			return validationErr("truncate percentage must be between 0.0 and 1.0")
		}
	default:
		return validationErr(fmt.Sprintf("unknown failure type %q", rule.FailureType))
	}

	return nil
}
