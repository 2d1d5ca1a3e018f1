package security

import (
	"encoding/json"
	"regexp"

	"github.com/aman-churiwal/ai-gateway/internal/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const DefaultPreviewLength = 200

// NewIncident builds the immutable record for a blocked check. The preview
// holds at most previewLen runes of the offending text, with PII masked.
func NewIncident(projectID uuid.UUID, keyID *uuid.UUID, requestID string, result CheckResult, content string, previewLen int) *models.SecurityIncident {
	patterns := result.Patterns
	if patterns == nil {
		patterns = []string{}
	}
	raw, _ := json.Marshal(patterns)

	incidentType := string(result.Layer)
	if incidentType == "" {
		incidentType = "policy_violation"
	}

	return &models.SecurityIncident{
		ProjectID:        projectID,
		APIKeyID:         keyID,
		RequestID:        requestID,
		IncidentType:     incidentType,
		Severity:         string(SeverityFor(result.RiskScore)),
		Stage:            string(result.Stage),
		RiskScore:        result.RiskScore,
		Confidence:       result.Confidence,
		PatternsDetected: datatypes.JSON(raw),
		ContentPreview:   Preview(content, previewLen),
	}
}

// Most specific first, so a card number is not half-matched as a phone.
var redactions = []struct {
	label   string
	pattern *regexp.Regexp
}{
	{"[REDACTED_SSN]", ssnPattern},
	{"[REDACTED_CARD]", creditCardPattern},
	{"[REDACTED_EMAIL]", emailPattern},
	{"[REDACTED_PHONE]", phonePattern},
	{"[REDACTED_ADDRESS]", addressPattern},
}

// Redact masks every PII match in content.
func Redact(content string) string {
	for _, r := range redactions {
		content = r.pattern.ReplaceAllString(content, r.label)
	}
	return content
}

// Preview redacts content, then truncates it to n runes.
func Preview(content string, n int) string {
	if n <= 0 {
		n = DefaultPreviewLength
	}
	content = Redact(content)
	runes := []rune(content)
	if len(runes) <= n {
		return content
	}
	return string(runes[:n])
}
