package capabilities

import "gopkg.in/yaml.v3"

// ModelCapabilities is the metadata loom consults for a model: primarily
// the context window, which seeds the default token ceiling when a caller
// builds context without specifying one.
type ModelCapabilities struct {
	// Model identifier (set during YAML unmarshaling)
	ID string `yaml:"-" json:"id"`

	DisplayName      string `yaml:"display_name" json:"display_name"`
	SupportsThinking bool   `yaml:"supports_thinking" json:"supports_thinking"`

	// Limits
	ContextWindow int `yaml:"context_window" json:"context_window"`
	MaxOutput     int `yaml:"max_output" json:"max_output"`
}

// ProviderCapabilities holds all models for one provider, in YAML order.
type ProviderCapabilities struct {
	Provider string              `json:"provider"`
	Models   []ModelCapabilities `json:"models"`
}

// UnmarshalYAML preserves the model ordering of the source file while
// capturing each model's map key as its ID.
func (pc *ProviderCapabilities) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Provider string      `yaml:"provider"`
		Models   []yaml.Node `yaml:"models"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	pc.Provider = raw.Provider

	for i := range raw.Models {
		// Each entry is a single-key map: model id -> capabilities.
		var entry map[string]ModelCapabilities
		if err := raw.Models[i].Decode(&entry); err != nil {
			return err
		}
		for id, caps := range entry {
			caps.ID = id
			pc.Models = append(pc.Models, caps)
		}
	}
	return nil
}
