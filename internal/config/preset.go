package config

import "github.com/yungtweek/byte-proxy/internal/logger"

const (
	GroqChatURL   = "https://api.groq.com/openai/v1/chat/completions"
	GroqChatModel = "llama-3.3-70b-versatile"

	VLLMChatURL = "http://localhost:8000/v1/chat/completions"
)

// ApplyPresetOverrides fills upstream settings the environment left empty.
// Explicit UPSTREAM_URL / UPSTREAM_MODEL always win over the preset.
func ApplyPresetOverrides(cfg *Config) {
	logger.Log.Infow("[config] apply preset", "preset", cfg.Preset)

	var url, model string
	switch cfg.Preset {
	case "vllm":
		// No default model: it is whatever the local server was launched with.
		url = VLLMChatURL
	default:
		url = GroqChatURL
		model = GroqChatModel
	}

	if cfg.UpstreamURL == "" {
		cfg.UpstreamURL = url
	}
	if cfg.UpstreamModel == "" {
		cfg.UpstreamModel = model
	}
}
