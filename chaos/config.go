package chaos

// LatencyConfig injects a delay before a request completes.
type LatencyConfig struct {
	Enabled          bool
	FixedDelayMS     uint64
	RandomRangeMinMS uint64
	RandomRangeMaxMS uint64
	JitterPercent    float64
	Probability      float64
}

// CorruptionType names a payload corruption strategy; reserved for future
// use, mirroring the compiled config's corruption_type field.
type CorruptionType string

const CorruptionNone CorruptionType = "none"

// FaultInjectionConfig injects errors, timeouts, or partial responses.
type FaultInjectionConfig struct {
	Enabled bool

	HTTPErrors            []uint16
	HTTPErrorProbability  float64
	ConnectionErrors      bool
	ConnectionErrorProb   float64
	TimeoutErrors         bool
	TimeoutMS             uint64
	TimeoutProbability    float64
	PartialResponses      bool
	PartialResponseProb   float64
	PayloadCorruption     bool
	PayloadCorruptionProb float64
	CorruptionType        CorruptionType
}

// ChaosConfig is the compiled form of one or more FailureDesignRules: an
// optional sub-policy per concern, composed additively when multiple rules
// target the same request.
type ChaosConfig struct {
	Enabled         bool
	Latency         *LatencyConfig
	FaultInjection  *FaultInjectionConfig
}

// RuleToConfig compiles a validated FailureDesignRule into its ChaosConfig
// form. WebhookFailure rules do not produce a ChaosConfig; use
// GenerateWebhookHook for those instead.
func RuleToConfig(rule FailureDesignRule) (ChaosConfig, error) {
	if err := Validate(rule); err != nil {
		return ChaosConfig{}, err
	}

	switch rule.FailureType {
	case FailureStatusCode:
		return ChaosConfig{
			Enabled: true,
			FaultInjection: &FaultInjectionConfig{
				Enabled:              true,
				HTTPErrors:           []uint16{rule.StatusCode},
				HTTPErrorProbability: rule.Probability,
			},
		}, nil

	case FailureLatency:
		return ChaosConfig{
			Enabled: true,
			Latency: &LatencyConfig{
				Enabled:      true,
				FixedDelayMS: rule.LatencyMS,
				Probability:  rule.Probability,
			},
		}, nil

	case FailureTimeout:
		return ChaosConfig{
			Enabled: true,
			FaultInjection: &FaultInjectionConfig{
				Enabled:            true,
				TimeoutErrors:      true,
				TimeoutMS:          rule.TimeoutMS,
				TimeoutProbability: rule.Probability,
			},
		}, nil

	case FailureConnection:
		return ChaosConfig{
			Enabled: true,
			FaultInjection: &FaultInjectionConfig{
				Enabled:             true,
				ConnectionErrors:    true,
				ConnectionErrorProb: rule.Probability,
			},
		}, nil

	case FailurePartial:
		return ChaosConfig{
			Enabled: true,
			FaultInjection: &FaultInjectionConfig{
				Enabled:             true,
				PartialResponses:    true,
				PartialResponseProb: rule.Probability,
			},
		}, nil

	case FailureWebhook:
		return ChaosConfig{}, nil

	default:
		return ChaosConfig{}, validationErr("unknown failure type")
	}
}
