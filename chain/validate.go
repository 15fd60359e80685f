package chain

import "fmt"

// ValidationError reports a structural problem with a ChainDefinition. Its
// Error() text is the exact wording asserted on by chain validation scenario
// tests, not a wrapped/prefixed diagnostic, so it must not be routed through
// mockerr's kind-prefixed formatting.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func chainErr(code, message string) error {
	return &ValidationError{Code: code, Message: message}
}

// Validate checks a ChainDefinition's structural invariants: non-empty
// links, length within MaxChainLength, unique link ids, every depends_on
// referencing an existing link, and an acyclic dependency graph.
func Validate(def ChainDefinition) error {
	if len(def.Links) == 0 {
		return chainErr("empty_chain", "chain must have at least one link")
	}

	maxLen := def.Config.MaxChainLength
	if maxLen == 0 {
		maxLen = DefaultConfig().MaxChainLength
	}
	if len(def.Links) > maxLen {
		return chainErr("too_long", formatLengthError(len(def.Links), maxLen))
	}

	seen := make(map[string]bool, len(def.Links))
	for _, link := range def.Links {
		if seen[link.Request.ID] {
			return chainErr("duplicate_ids", "Duplicate request IDs found in chain")
		}
		seen[link.Request.ID] = true
	}

	byID := make(map[string]ChainLink, len(def.Links))
	for _, link := range def.Links {
		byID[link.Request.ID] = link
	}

	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(def.Links))

	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case black:
			return nil
		case grey:
			return chainErr("circular_dependency",
				"Circular dependency detected involving request '"+id+"'")
		}

		color[id] = grey
		link, ok := byID[id]
		if !ok {
			return chainErr("unknown_dependency",
				"Request '"+id+"' does not exist in the chain")
		}

		for _, dep := range link.Request.DependsOn {
			if _, exists := byID[dep]; !exists {
				return chainErr("missing_dependency",
					"Request '"+id+"' depends on '"+dep+"' which does not exist in the chain")
			}
			if err := visit(dep); err != nil {
				return err
			}
		}

		color[id] = black
		return nil
	}

	for _, link := range def.Links {
		if err := visit(link.Request.ID); err != nil {
			return err
		}
	}

	return nil
}

func formatLengthError(got, max int) string {
	return fmt.Sprintf("chain length %d exceeds maximum allowed length %d", got, max)
}
