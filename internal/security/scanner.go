package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var ErrClassifierUnavailable = errors.New("content classifier unavailable")

// Minimum confidence before a layer's score can block. Layers not listed
// have no floor on input.
var (
	minJailbreakConfidence = 0.3
	minOutputConfidence    = 0.5
)

type CheckResult struct {
	Blocked    bool     `json:"blocked"`
	Stage      Stage    `json:"stage"`
	Layer      Layer    `json:"layer,omitempty"`
	RiskScore  float64  `json:"risk_score"`
	Confidence float64  `json:"confidence"`
	Severity   Severity `json:"severity,omitempty"`
	Patterns   []string `json:"patterns,omitempty"`

	// JailbreakRisk feeds the output stage's context.
	JailbreakRisk float64 `json:"-"`
	Skipped       bool    `json:"skipped,omitempty"`
	FailedOpen    bool    `json:"failed_open,omitempty"`
}

// ScanContext links an output scan to the request that produced it.
type ScanContext struct {
	InputText string
	Input     CheckResult
}

type Scanner struct {
	classifier    Classifier
	timeout       time.Duration
	inputFailOpen bool
	logger        *slog.Logger

	// OnClassifierFailure, when set, observes every classifier error.
	OnClassifierFailure func(stage Stage, err error)
}

func NewScanner(classifier Classifier, timeout time.Duration, inputFailOpen bool, logger *slog.Logger) *Scanner {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Scanner{
		classifier:    classifier,
		timeout:       timeout,
		inputFailOpen: inputFailOpen,
		logger:        logger,
	}
}

// ScanInput runs the enabled input layers. A non-nil error means the
// classifier failed; the returned result already carries the fail-open or
// fail-closed decision.
func (s *Scanner) ScanInput(ctx context.Context, text string, history []Message, cfg Config) (CheckResult, error) {
	var layers []Layer
	if cfg.EnablePII {
		layers = append(layers, LayerPII)
	}
	if cfg.EnableObfuscatedPII {
		layers = append(layers, LayerObfuscatedPII)
	}
	if cfg.EnableJailbreak {
		layers = append(layers, LayerJailbreak)
	}
	if cfg.EnableHarmful {
		layers = append(layers, LayerHarmful)
	}

	result := CheckResult{Stage: StageInput}
	if len(layers) == 0 {
		result.Skipped = true
		return result, nil
	}

	classifications, err := s.classify(ctx, ClassifyRequest{
		Stage:   StageInput,
		Text:    text,
		Layers:  layers,
		History: history,
	})
	if err != nil {
		return s.failure(result, err, s.inputFailOpen), err
	}

	for _, c := range classifications {
		if c.Layer == LayerJailbreak {
			result.JailbreakRisk = c.RiskScore
		}
		result.merge(c)

		var blocks bool
		if c.Layer == LayerJailbreak {
			blocks = c.RiskScore >= cfg.JailbreakThreshold && c.Confidence >= minJailbreakConfidence
		} else {
			blocks = c.RiskScore >= cfg.InputThreshold
		}
		if blocks && c.RiskScore > 0 {
			result.block(c)
		}
	}

	result.Severity = SeverityFor(result.RiskScore)
	return result, nil
}

// ScanOutput never relays unscanned text while output scanning is enabled:
// classifier failures always block.
func (s *Scanner) ScanOutput(ctx context.Context, text string, sc ScanContext, cfg Config) (CheckResult, error) {
	result := CheckResult{Stage: StageOutput}
	if !cfg.EnableOutput {
		result.Skipped = true
		return result, nil
	}

	var layers []Layer
	if cfg.EnablePII {
		layers = append(layers, LayerPII)
	}
	if cfg.EnableObfuscatedPII {
		layers = append(layers, LayerObfuscatedPII)
	}
	if cfg.EnableHarmful {
		layers = append(layers, LayerHarmful)
	}
	if len(layers) == 0 {
		result.Skipped = true
		return result, nil
	}

	classifications, err := s.classify(ctx, ClassifyRequest{
		Stage:              StageOutput,
		Text:               text,
		Layers:             layers,
		InputText:          sc.InputText,
		InputJailbreakRisk: sc.Input.JailbreakRisk,
	})
	if err != nil {
		return s.failure(result, err, false), err
	}

	for _, c := range classifications {
		result.merge(c)
		if c.RiskScore > 0 && c.RiskScore >= cfg.OutputThreshold && c.Confidence >= minOutputConfidence {
			result.block(c)
		}
	}

	result.Severity = SeverityFor(result.RiskScore)
	return result, nil
}

func (s *Scanner) classify(ctx context.Context, req ClassifyRequest) ([]Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type outcome struct {
		classifications []Classification
		err             error
	}
	done := make(chan outcome, 1)
	go func() {
		c, err := s.classifier.Classify(ctx, req)
		done <- outcome{c, err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrClassifierUnavailable, o.err)
		}
		return o.classifications, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrClassifierUnavailable, ctx.Err())
	}
}

func (s *Scanner) failure(result CheckResult, err error, failOpen bool) CheckResult {
	if s.OnClassifierFailure != nil {
		s.OnClassifierFailure(result.Stage, err)
	}

	if failOpen {
		s.logger.Warn("classifier failed, allowing request", "stage", result.Stage, "error", err)
		result.FailedOpen = true
		return result
	}

	s.logger.Error("classifier failed, blocking", "stage", result.Stage, "error", err)
	result.Blocked = true
	result.Layer = LayerUnavailable
	result.Patterns = []string{string(LayerUnavailable)}
	result.Severity = SeverityFor(result.RiskScore)
	return result
}

// merge folds a layer into the combined score, which is the max across layers.
func (r *CheckResult) merge(c Classification) {
	if c.RiskScore > r.RiskScore {
		r.RiskScore = c.RiskScore
		if !r.Blocked {
			r.Layer = c.Layer
		}
	}
	if c.Confidence > r.Confidence {
		r.Confidence = c.Confidence
	}
	r.Patterns = append(r.Patterns, c.Patterns...)
}

func (r *CheckResult) block(c Classification) {
	if !r.Blocked || c.RiskScore >= r.RiskScore {
		r.Layer = c.Layer
	}
	r.Blocked = true
}
