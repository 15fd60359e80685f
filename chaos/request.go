package chaos

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Request is the subset of an inbound HTTP/gRPC request the chaos engine
// needs in order to evaluate targets and conditions. Callers adapt their own
// transport's request type into this shape.
type Request struct {
	Path      string
	Method    string
	UserAgent string
	ClientIP  string
	Headers   map[string]string
	Query     map[string]string
	Body      map[string]any
	PathParams map[string]string
}

// matchesTarget reports whether req falls under target's scope. Endpoints
// are matched with doublestar globs; an empty Endpoints list never matches
// (callers must supply at least one, enforced by Validate).
func matchesTarget(target FailureTarget, req Request) (bool, error) {
	endpointMatched := false
	for _, pattern := range target.Endpoints {
		ok, err := doublestar.Match(pattern, strings.TrimPrefix(req.Path, "/"))
		if err != nil {
			return false, fmt.Errorf("invalid endpoint pattern %q: %w", pattern, err)
		}
		if ok {
			endpointMatched = true
			break
		}
	}
	if !endpointMatched {
		return false, nil
	}

	if len(target.Methods) > 0 {
		found := false
		for _, m := range target.Methods {
			if strings.EqualFold(m, req.Method) {
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
	}

	if len(target.UserAgents) > 0 {
		found := false
		for _, pattern := range target.UserAgents {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return false, fmt.Errorf("invalid user agent pattern %q: %w", pattern, err)
			}
			if re.MatchString(req.UserAgent) {
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
	}

	if len(target.IPRanges) > 0 {
		found, err := ipInRanges(req.ClientIP, target.IPRanges)
		if err != nil {
			return false, err
		}
		if !found {
			return false, nil
		}
	}

	for name, want := range target.Headers {
		if req.Headers[name] != want {
			return false, nil
		}
	}

	return true, nil
}

func ipInRanges(ip string, ranges []string) (bool, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false, nil
	}
	for _, r := range ranges {
		if !strings.Contains(r, "/") {
			if r == ip {
				return true, nil
			}
			continue
		}
		_, cidr, err := net.ParseCIDR(r)
		if err != nil {
			return false, fmt.Errorf("invalid IP range %q: %w", r, err)
		}
		if cidr.Contains(parsed) {
			return true, nil
		}
	}
	return false, nil
}

// evaluateConditions reports whether every condition in conditions holds for
// req. An empty slice trivially holds.
func evaluateConditions(conditions []FailureCondition, req Request) (bool, error) {
	for _, cond := range conditions {
		ok, err := evaluateCondition(cond, req)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evaluateCondition(cond FailureCondition, req Request) (bool, error) {
	actual, ok := fieldValue(cond.ConditionType, cond.Field, req)
	if !ok {
		return false, nil
	}

	switch cond.Operator {
	case OpEquals:
		return fmt.Sprint(actual) == fmt.Sprint(cond.Value), nil
	case OpNotEquals:
		return fmt.Sprint(actual) != fmt.Sprint(cond.Value), nil
	case OpContains:
		return strings.Contains(fmt.Sprint(actual), fmt.Sprint(cond.Value)), nil
	case OpMatches:
		re, err := regexp.Compile(fmt.Sprint(cond.Value))
		if err != nil {
			return false, fmt.Errorf("invalid condition pattern %q: %w", cond.Value, err)
		}
		return re.MatchString(fmt.Sprint(actual)), nil
	case OpGreaterThan:
		a, b, err := numericPair(actual, cond.Value)
		if err != nil {
			return false, err
		}
		return a > b, nil
	case OpLessThan:
		a, b, err := numericPair(actual, cond.Value)
		if err != nil {
			return false, err
		}
		return a < b, nil
	default:
		return false, fmt.Errorf("unknown condition operator %q", cond.Operator)
	}
}

func fieldValue(ct ConditionType, field string, req Request) (any, bool) {
	switch ct {
	case ConditionHeader:
		v, ok := req.Headers[field]
		return v, ok
	case ConditionQuery:
		v, ok := req.Query[field]
		return v, ok
	case ConditionPath:
		v, ok := req.PathParams[field]
		return v, ok
	case ConditionBody:
		v, ok := req.Body[field]
		return v, ok
	default:
		return nil, false
	}
}

func numericPair(a, b any) (float64, float64, error) {
	af, err := toFloat(a)
	if err != nil {
		return 0, 0, err
	}
	bf, err := toFloat(b)
	if err != nil {
		return 0, 0, err
	}
	return af, bf, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot compare %q numerically", n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("cannot compare %v numerically", v)
	}
}
