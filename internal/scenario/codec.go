package scenario

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// nodeHeader carries the fields common to every variant.
type nodeHeader struct {
	ID          string   `json:"nodeId"`
	Type        NodeType `json:"type"`
	DisplayName string   `json:"displayName,omitempty"`
	Position    Position `json:"position"`
	Tags        []string `json:"tags,omitempty"`
}

// UnmarshalJSON decodes a node: the common header first, then the
// type-specific config from the same object (variant fields are inline at
// the node level, discriminated by "type").
func (n *Node) UnmarshalJSON(data []byte) error {
	var h nodeHeader
	if err := json.Unmarshal(data, &h); err != nil {
		return err
	}
	n.ID = h.ID
	n.Type = h.Type
	n.DisplayName = h.DisplayName
	n.Position = h.Position
	n.Tags = h.Tags

	if !nodeTypes[h.Type] {
		return &ConfigError{
			Code:    ErrCodeBadConfig,
			Path:    fmt.Sprintf("nodes[%s].type", h.ID),
			Message: fmt.Sprintf("unknown node type %q", h.Type),
		}
	}

	var cfg NodeConfig
	switch h.Type {
	case TypeDataSource:
		cfg = &DataSourceConfig{}
	case TypeQueue:
		cfg = &QueueConfig{}
	case TypeProcess:
		cfg = &ProcessConfig{}
	case TypeFSMProcess:
		cfg = &FSMProcessConfig{}
	case TypeSink:
		cfg = &SinkConfig{}
	case TypeModule:
		cfg = &ModuleConfig{}
	case TypeGroup:
		cfg = &GroupConfig{}
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("node %s: %w", h.ID, err)
	}
	n.Config = cfg
	return nil
}

// MarshalJSON flattens the config back beside the common fields so the
// document round-trips through edit/apply cycles.
func (n Node) MarshalJSON() ([]byte, error) {
	merged := map[string]any{}

	if n.Config != nil {
		cfgJSON, err := json.Marshal(n.Config)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", n.ID, err)
		}
		if err := json.Unmarshal(cfgJSON, &merged); err != nil {
			return nil, fmt.Errorf("node %s: %w", n.ID, err)
		}
	}

	headerJSON, err := json.Marshal(nodeHeader{
		ID:          n.ID,
		Type:        n.Type,
		DisplayName: n.DisplayName,
		Position:    n.Position,
		Tags:        n.Tags,
	})
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(headerJSON, &merged); err != nil {
		return nil, err
	}

	return json.Marshal(merged)
}

// DecodeJSON parses scenario JSON without validating it. Malformed input
// yields a ConfigError; nothing is partially constructed.
func DecodeJSON(data []byte) (*Scenario, error) {
	var s Scenario
	if err := json.Unmarshal(data, &s); err != nil {
		var ce *ConfigError
		if asConfigError(err, &ce) {
			return nil, ce
		}
		return nil, &ConfigError{Code: ErrCodeParse, Message: err.Error()}
	}
	return &s, nil
}

// DecodeYAML parses a YAML rendering of the same document by converting to
// JSON-compatible values first, so both codecs share one decode path.
func DecodeYAML(data []byte) (*Scenario, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Code: ErrCodeParse, Message: err.Error()}
	}
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, &ConfigError{Code: ErrCodeParse, Message: err.Error()}
	}
	return DecodeJSON(jsonData)
}

// Load fully loads scenario JSON: CUE schema check, decode, structural
// validation. The first failing stage rejects the document.
func Load(data []byte) (*Scenario, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, err
	}
	s, err := DecodeJSON(data)
	if err != nil {
		return nil, err
	}
	if errs := Validate(s); len(errs) > 0 {
		return nil, errs[0]
	}
	return s, nil
}

// LoadFile loads a scenario from disk, selecting the codec by extension
// (.yaml/.yml uses YAML, everything else JSON). YAML input skips the CUE
// schema stage; structural validation still applies.
func LoadFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Code: ErrCodeParse, Message: fmt.Sprintf("read scenario: %v", err)}
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		s, err := DecodeYAML(data)
		if err != nil {
			return nil, err
		}
		if errs := Validate(s); len(errs) > 0 {
			return nil, errs[0]
		}
		return s, nil
	default:
		return Load(data)
	}
}

// Marshal renders a scenario as indented JSON, the format the editing UI
// round-trips.
func Marshal(s *Scenario) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}
