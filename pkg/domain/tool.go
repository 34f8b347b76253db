package domain

// ToolParameter describes one configurable parameter of a tool.
// Parameters are carried for display and export; they play no part in
// compatibility checks.
type ToolParameter struct {
	Name        string `json:"name" yaml:"name" mapstructure:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty" mapstructure:"type"`
	Default     any    `json:"default,omitempty" yaml:"default,omitempty" mapstructure:"default"`
	Choices     []any  `json:"choices,omitempty" yaml:"choices,omitempty" mapstructure:"choices"`
}

// ToolDescriptor is the catalog record for one processing tool.
// Descriptors are immutable once loaded and owned by the tool directory;
// graph nodes reference them, they never copy.
type ToolDescriptor struct {
	ID          string           `json:"id" yaml:"id"`
	Version     string           `json:"version" yaml:"version"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Inputs      []TypeRef        `json:"inputs" yaml:"inputs"`
	Outputs     []AnnotationType `json:"outputs" yaml:"outputs"`
	Parameters  []ToolParameter  `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}
