// Package rule implements a deterministic, offline reasoning fallback.
// It matches keywords in the user's message against the tool directory
// and chains whatever connects to the pipeline's last node. Useful
// when no model endpoint is configured and in tests.
package rule

import (
	"context"
	"fmt"
	"strings"

	"github.com/avannotate/pipechat/pkg/catalog"
	"github.com/avannotate/pipechat/pkg/domain"
	"github.com/avannotate/pipechat/pkg/ports"
	"github.com/avannotate/pipechat/pkg/validator"
)

// Planner recommends at most one tool per turn.
type Planner struct {
	directory *catalog.Directory
}

// New creates a rule planner over the directory.
func New(dir *catalog.Directory) *Planner {
	return &Planner{directory: dir}
}

// keywords maps task vocabulary to directory search terms.
var keywords = map[string][]string{
	"transcribe":    {"whisper", "speech", "transcription"},
	"transcription": {"whisper", "speech", "transcription"},
	"speech":        {"whisper", "speech", "transcription"},
	"audio":         {"whisper", "speech", "transcription"},
	"entity":        {"spacy", "entity", "ner"},
	"entities":      {"spacy", "entity", "ner"},
	"ner":           {"spacy", "entity", "ner"},
	"scene":         {"transnet", "scene", "shot"},
	"shot":          {"transnet", "scene", "shot"},
	"scenes":        {"transnet", "scene", "shot"},
	"text":          {"ocr", "text recognition", "tesseract"},
	"ocr":           {"ocr", "text recognition", "tesseract"},
	"chyron":        {"chyron", "text recognition"},
	"caption":       {"caption", "swt"},
	"slate":         {"slate", "classifier"},
	"bars":          {"bars", "detection"},
}

// Propose implements ports.Planner.
func (p *Planner) Propose(ctx context.Context, pc ports.PlanContext) (*ports.Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	message := lastUserMessage(pc.History)
	if message == "" {
		message = pc.Task
	}

	match := p.match(message)
	if match == nil {
		return &ports.Proposal{
			Reply: "I couldn't match that request to a tool in the directory. " +
				"Try naming the analysis you want, like transcription, scene detection, or named entities.",
		}, nil
	}

	reason := fmt.Sprintf("matched %q against the tool directory", match.ID)
	if warn := p.chainWarning(pc, match); warn != "" {
		reason += "; " + warn
	}

	return &ports.Proposal{
		Reply: fmt.Sprintf("Adding %s (%s).", match.ID, match.Description),
		Candidates: []ports.Candidate{{
			ToolID: match.ID,
			Reason: reason,
		}},
	}, nil
}

func (p *Planner) match(message string) *domain.ToolDescriptor {
	lower := strings.ToLower(message)
	for word, terms := range keywords {
		if !strings.Contains(lower, word) {
			continue
		}
		for _, term := range terms {
			if results := p.directory.Search(term); len(results) > 0 {
				return results[0]
			}
		}
	}
	// Last resort: try the message words directly as search terms.
	for _, word := range strings.Fields(lower) {
		if len(word) < 4 {
			continue
		}
		if results := p.directory.Search(word); len(results) > 0 {
			return results[0]
		}
	}
	return nil
}

// chainWarning reports when the candidate will not connect cleanly to
// the pipeline's last node. The graph still records the edge; this
// only shapes the explanation.
func (p *Planner) chainWarning(pc ports.PlanContext, cand *domain.ToolDescriptor) string {
	if pc.Pipeline == nil || len(pc.Pipeline.Nodes) == 0 {
		return ""
	}
	last := pc.Pipeline.Nodes[len(pc.Pipeline.Nodes)-1]
	prev, err := p.directory.Resolve(last.ToolID)
	if err != nil {
		return ""
	}
	if !validator.Connectable(prev, cand) {
		return fmt.Sprintf("note: %s does not produce the input types %s expects", prev.ID, cand.ID)
	}
	return ""
}

func lastUserMessage(history []ports.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "user" {
			return history[i].Content
		}
	}
	return ""
}
