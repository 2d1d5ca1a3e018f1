package security

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func SeverityFor(riskScore float64) Severity {
	switch {
	case riskScore < 0.4:
		return SeverityLow
	case riskScore < 0.6:
		return SeverityMedium
	case riskScore < 0.8:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

type Stage string

const (
	StageInput  Stage = "input"
	StageOutput Stage = "output"
)
