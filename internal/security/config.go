package security

import (
	"math"

	"github.com/aman-churiwal/ai-gateway/internal/models"
)

const DefaultSafetyThreshold = 0.7

// Config is the resolved per-project policy for one request.
type Config struct {
	InputThreshold     float64
	OutputThreshold    float64
	JailbreakThreshold float64

	EnablePII           bool
	EnableObfuscatedPII bool
	EnableJailbreak     bool
	EnableHarmful       bool
	EnableOutput        bool
}

// Thresholds derives the three thresholds from the tenant-facing dial.
// Output is stricter than input and floors at 0.1; jailbreak floors at 0.2.
func Thresholds(safetyThreshold float64) (input, output, jailbreak float64) {
	input = round(1 - safetyThreshold)
	output = round(math.Max(0.1, input-0.1))
	jailbreak = round(math.Max(0.2, input))
	return input, output, jailbreak
}

// DefaultConfig has every layer enabled.
func DefaultConfig(safetyThreshold float64) Config {
	in, out, jb := Thresholds(safetyThreshold)
	return Config{
		InputThreshold:      in,
		OutputThreshold:     out,
		JailbreakThreshold:  jb,
		EnablePII:           true,
		EnableObfuscatedPII: true,
		EnableJailbreak:     true,
		EnableHarmful:       true,
		EnableOutput:        true,
	}
}

// ConfigFromSettings applies a project's settings. Granular thresholds,
// when present, win over the derived ones.
func ConfigFromSettings(settings *models.SecuritySettings, defaultSafety float64) Config {
	if settings == nil {
		return DefaultConfig(defaultSafety)
	}

	cfg := DefaultConfig(settings.SafetyThreshold)
	if settings.InputThreshold != nil {
		cfg.InputThreshold = *settings.InputThreshold
	}
	if settings.OutputThreshold != nil {
		cfg.OutputThreshold = *settings.OutputThreshold
	}
	if settings.JailbreakThreshold != nil {
		cfg.JailbreakThreshold = *settings.JailbreakThreshold
	}

	cfg.EnablePII = settings.FilterPII
	cfg.EnableObfuscatedPII = settings.FilterObfuscatedPII
	cfg.EnableJailbreak = settings.FilterJailbreak
	cfg.EnableHarmful = settings.FilterHarmful
	cfg.EnableOutput = settings.ScanOutput
	return cfg
}

// Removes float noise such as 1-0.7 = 0.30000000000000004.
func round(v float64) float64 {
	return math.Round(v*1e9) / 1e9
}
