package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultSystemPrompt = `You are BYTE Mini, an advanced AI assistant developed by AJ STUDIOZ.

You should respond naturally and conversationally. When asked about your identity, mention that you're BYTE Mini created by AJ STUDIOZ in a natural way, but don't give the same scripted response every time. Vary your responses and be conversational like other AI assistants.

Be helpful, intelligent, and professional while maintaining a friendly and approachable tone. Answer questions directly and engagingly without being overly formal or repetitive.`

// Persona is the branding layered over the upstream model: the injected system
// prompt and the names reported to callers. It is fixed at startup.
type Persona struct {
	SystemPrompt string `yaml:"system_prompt"`
	PublicModel  string `yaml:"public_model"` // advertised alias, never the upstream model
	Developer    string `yaml:"developer"`
	Service      string `yaml:"service"` // reported by /health
}

func DefaultPersona() Persona {
	return Persona{
		SystemPrompt: defaultSystemPrompt,
		PublicModel:  "byte-mini",
		Developer:    "AJ STUDIOZ",
		Service:      "BYTE AI Backend",
	}
}

// LoadPersona returns the default persona, or the one described by the YAML
// file at path. Fields missing from the file keep their defaults.
func LoadPersona(path string) (Persona, error) {
	p := DefaultPersona()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, fmt.Errorf("read persona file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Persona{}, fmt.Errorf("parse persona file %q: %w", path, err)
	}

	p.SystemPrompt = strings.TrimSpace(p.SystemPrompt)
	if p.SystemPrompt == "" {
		return Persona{}, fmt.Errorf("persona file %q: system_prompt is empty", path)
	}
	if p.PublicModel == "" {
		return Persona{}, fmt.Errorf("persona file %q: public_model is empty", path)
	}
	return p, nil
}
