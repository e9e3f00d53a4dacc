package ai

import "os"

// Gemini model IDs used for image analysis and chat.
const (
	// ModelGemini25Pro is stable, for high-reasoning tasks.
	ModelGemini25Pro = "gemini-2.5-pro"

	// ModelGemini25Flash is stable, balanced performance.
	ModelGemini25Flash = "gemini-2.5-flash"

	// ModelGemini25FlashLite is for high-throughput, lowest cost.
	ModelGemini25FlashLite = "gemini-2.5-flash-lite"
)

// DefaultModelName is the default Gemini model.
// Can be overridden via the METASCAN_GEMINI_MODEL environment variable.
const DefaultModelName = ModelGemini25Flash

// ResolveModelName returns the model to use: the explicit configured
// name if non-empty, then METASCAN_GEMINI_MODEL, then the default.
func ResolveModelName(configured string) string {
	if configured != "" {
		return configured
	}
	if env := os.Getenv("METASCAN_GEMINI_MODEL"); env != "" {
		return env
	}
	return DefaultModelName
}
