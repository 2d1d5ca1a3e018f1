package security

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
)

type Layer string

const (
	LayerPII           Layer = "pii"
	LayerObfuscatedPII Layer = "obfuscated_pii"
	LayerJailbreak     Layer = "jailbreak"
	LayerHarmful       Layer = "harmful"

	// Reported when the classifier failed and the stage fails closed.
	LayerUnavailable Layer = "classifier_unavailable"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ClassifyRequest is one stage's worth of text. Only the requested layers
// are evaluated.
type ClassifyRequest struct {
	Stage   Stage
	Text    string
	Layers  []Layer
	History []Message

	// Output stage only.
	InputText          string
	InputJailbreakRisk float64
}

type Classification struct {
	Layer      Layer
	RiskScore  float64
	Confidence float64
	Patterns   []string
}

// Classifier scores text per layer. Implementations may call remote
// models; the scanner bounds every call with its own timeout.
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) ([]Classification, error)
}

var (
	emailPattern           = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	obfuscatedEmailPattern = regexp.MustCompile(`(?i)\b[A-Za-z0-9._%+-]+\s*(dot|at|\[at\]|\(at\))\s*[A-Za-z0-9.-]+\s*(dot|\[dot\])\s*[A-Za-z]{2,}\b`)
	phonePattern           = regexp.MustCompile(`\b(\+\d{1,2}\s?)?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}\b`)
	ssnPattern             = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	creditCardPattern      = regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`)
	addressPattern         = regexp.MustCompile(`(?i)\b\d{1,5}\s+[\w\s]+\s+(street|st|avenue|ave|road|rd|drive|dr|lane|ln|boulevard|blvd)\b`)
)

type piiRule struct {
	name    string
	pattern *regexp.Regexp
	risk    float64
}

var piiRules = []piiRule{
	{"email", emailPattern, 0.5},
	{"phone", phonePattern, 0.5},
	{"ssn", ssnPattern, 0.8},
	{"credit_card", creditCardPattern, 0.8},
	{"address", addressPattern, 0.4},
}

type jailbreakCategory struct {
	name     string
	weight   float64
	keywords []string
}

var jailbreakCategories = []jailbreakCategory{
	{"instruction_override", 0.6, []string{
		"ignore previous instructions", "ignore all previous", "disregard your instructions",
		"forget your rules", "developer mode", "you are now dan", "no longer bound by",
	}},
	{"social_engineering", 0.35, []string{
		"writing a story", "imagine if", "hypothetically", "let's say", "pretend that",
		"in a fictional", "for a novel", "character needs to", "creative writing", "roleplay",
	}},
	{"system_extraction", 0.4, []string{
		"what powers you", "under the hood", "underlying technology", "foundation model",
		"what are you built on", "reveal your system", "show me your instructions",
		"what are your rules", "internal instructions", "core directives", "system prompt",
	}},
	{"behavioral_probe", 0.3, []string{
		"would you correct me if", "would you push back", "what would you do if",
		"how would you respond to", "versus what you're told", "even if it meant", "testing your",
	}},
	{"indirect_pii", 0.5, []string{
		"how to share contact", "how to mention email", "naturally weave", "subtle way",
		"without it sounding", "integrate it naturally", "incidental detail", "share information subtly",
	}},
	{"multi_vector", 0.2, []string{
		"quick question", "totally separate thought", "one more thing", "by the way",
		"just curious", "genuinely curious", "intellectually curious",
	}},
}

type combination struct {
	first  []string
	second []string
	risk   float64
}

var suspiciousCombinations = []combination{
	{[]string{"reveal your system", "show me your instructions"}, []string{"email", "contact", "share personal"}, 0.6},
	{[]string{"story", "character"}, []string{"real email", "real phone", "real address", "actual contact"}, 0.7},
	{[]string{"genuinely curious", "intellectually curious"}, []string{"bypass", "workaround", "get around"}, 0.5},
}

// Two or more of these mean the text is agent tool traffic, not a person.
var agentToolMarkers = []string{
	"<tool_call>", "<tool_name>", "<parameters>", "</tool_call>", "<thought>", "<final_answer>",
	"tool_result", "function_call", "tool_use", "list_directory", "read_file", "write_file",
	"directory_tree", "allowed_directories",
}

var harmfulInputPatterns = []string{
	"build a bomb", "make a weapon", "write malware", "ransomware", "steal credentials",
	"keylogger", "credit card dump",
}

var harmfulOutputPatterns = []string{
	"here's how to bypass", "to circumvent", "exploit this", "backdoor",
	"social engineering technique", "phishing",
}

var instructionLeakage = regexp.MustCompile(`(?i)(here are.*ways to|methods.*to share|how.*could.*mention|append.*@|for example.*@|such as.*@|would be.*@)`)

// HeuristicClassifier is the built-in keyword and pattern scorer.
type HeuristicClassifier struct{}

func NewHeuristicClassifier() *HeuristicClassifier {
	return &HeuristicClassifier{}
}

func (c *HeuristicClassifier) Classify(ctx context.Context, req ClassifyRequest) ([]Classification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make([]Classification, 0, len(req.Layers))
	for _, layer := range req.Layers {
		var r Classification
		switch layer {
		case LayerPII:
			r = c.pii(req)
		case LayerObfuscatedPII:
			r = c.obfuscatedPII(req.Text)
		case LayerJailbreak:
			r = c.jailbreak(req.Text, req.History)
		case LayerHarmful:
			r = c.harmful(req)
		default:
			return nil, fmt.Errorf("unknown layer %q", layer)
		}
		r.Layer = layer

		if req.Stage == StageOutput && req.InputJailbreakRisk > 0.5 && r.RiskScore > 0 {
			r.RiskScore += 0.2
			r.Patterns = append(r.Patterns, "elevated_scrutiny")
		}
		r.RiskScore = math.Min(r.RiskScore, 1)
		results = append(results, r)
	}
	return results, nil
}

func (c *HeuristicClassifier) pii(req ClassifyRequest) Classification {
	var r Classification
	instances := 0
	for _, rule := range piiRules {
		matches := rule.pattern.FindAllString(req.Text, -1)
		if len(matches) == 0 {
			continue
		}
		r.RiskScore += rule.risk
		r.Patterns = append(r.Patterns, rule.name)
		if rule.name != "address" {
			instances += len(matches)
		}
	}

	if instances >= 3 {
		r.RiskScore += 0.4
		r.Patterns = append(r.Patterns, "pii_density")
	}

	if req.Stage == StageOutput && len(r.Patterns) > 0 && askedToShare(req.InputText) {
		r.RiskScore += 0.3
		r.Patterns = append(r.Patterns, "pii_after_sharing_request")
	}

	r.Confidence = confidence(len(r.Patterns), 0.25)
	return r
}

func (c *HeuristicClassifier) obfuscatedPII(text string) Classification {
	var r Classification
	if obfuscatedEmailPattern.MatchString(text) {
		r.RiskScore = 0.6
		r.Patterns = []string{"email_obfuscated"}
		r.Confidence = 0.5
	}
	return r
}

func (c *HeuristicClassifier) jailbreak(text string, history []Message) Classification {
	var r Classification
	if isAgentTraffic(text) {
		return r
	}
	start := len(history) - 5
	if start < 0 {
		start = 0
	}
	for _, m := range history[start:] {
		if isAgentTraffic(m.Content) {
			return r
		}
	}

	lower := strings.ToLower(text)
	matches := 0
	for _, category := range jailbreakCategories {
		for _, kw := range category.keywords {
			if strings.Contains(lower, kw) {
				r.RiskScore += category.weight
				r.Patterns = append(r.Patterns, category.name+": "+kw)
				matches++
			}
		}
	}

	for _, combo := range suspiciousCombinations {
		if containsAny(lower, combo.first) && containsAny(lower, combo.second) {
			r.RiskScore += combo.risk
			r.Patterns = append(r.Patterns, "suspicious_combination")
			matches++
		}
	}

	questions := strings.Count(text, "?")
	toolOutput := strings.Contains(text, "```") || strings.Contains(text, "<tool")
	if questions >= 3 && !toolOutput {
		r.RiskScore += 0.2
		r.Patterns = append(r.Patterns, "multiple_questions")
	}
	if len(text) > 500 && questions >= 2 && !toolOutput {
		r.RiskScore += 0.15
		r.Patterns = append(r.Patterns, "long_multi_topic")
	}

	r.Confidence = confidence(matches, 0.15)
	return r
}

func (c *HeuristicClassifier) harmful(req ClassifyRequest) Classification {
	var r Classification
	lower := strings.ToLower(req.Text)

	patterns := harmfulInputPatterns
	if req.Stage == StageOutput {
		patterns = harmfulOutputPatterns
		if instructionLeakage.MatchString(req.Text) &&
			(strings.Contains(lower, "@") || strings.Contains(lower, "email") || strings.Contains(lower, "contact")) {
			r.RiskScore += 0.7
			r.Patterns = append(r.Patterns, "instruction_leakage")
		}
	}

	for _, p := range patterns {
		if strings.Contains(lower, p) {
			r.RiskScore += 0.4
			r.Patterns = append(r.Patterns, "harmful: "+p)
		}
	}

	r.Confidence = confidence(len(r.Patterns), 0.5)
	return r
}

func isAgentTraffic(text string) bool {
	lower := strings.ToLower(text)
	hits := 0
	for _, marker := range agentToolMarkers {
		if strings.Contains(lower, marker) {
			hits++
			if hits >= 2 {
				return true
			}
		}
	}
	return false
}

func askedToShare(input string) bool {
	return containsAny(strings.ToLower(input), []string{"how to share", "how to mention", "naturally weave", "subtle way"})
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func confidence(signals int, step float64) float64 {
	return math.Min(float64(signals)*step, 0.95)
}
