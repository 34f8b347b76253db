// Package validator decides whether two tools can be chained. The check
// is pure type identity: a producer's output feeds a consumer's input iff
// the identifiers match once their trailing version segments are
// stripped. Parameters and type properties are never consulted.
package validator

import "github.com/avannotate/pipechat/pkg/domain"

// Compatible reports whether output can feed a slot requiring input.
// Compatibility is direction-specific: the producer's output type is
// checked against the consumer's required type, not vice-versa, but the
// comparison itself is version-agnostic identifier equality.
func Compatible(output, input domain.AnnotationType) bool {
	return output.Base() == input.Base()
}

// Satisfies reports whether at least one of the produced outputs matches
// the given input slot (any alternative of a "one of" slot counts).
func Satisfies(outputs []domain.AnnotationType, req domain.TypeRef) bool {
	for _, out := range outputs {
		for _, alt := range req.OneOf {
			if Compatible(out, alt) {
				return true
			}
		}
	}
	return false
}

// Connectable reports whether src's outputs can feed at least one input
// slot of dst. This is the validity computed for a candidate edge.
// A destination with no declared inputs accepts nothing.
func Connectable(src, dst *domain.ToolDescriptor) bool {
	if src == nil || dst == nil {
		return false
	}
	for _, req := range dst.Inputs {
		if Satisfies(src.Outputs, req) {
			return true
		}
	}
	return false
}
