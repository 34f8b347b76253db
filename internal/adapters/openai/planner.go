// Package openai implements the reasoning capability over an
// OpenAI-compatible chat completion endpoint.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/avannotate/pipechat/pkg/catalog"
	"github.com/avannotate/pipechat/pkg/ports"
	"github.com/kaptinlin/jsonrepair"
	"github.com/mitchellh/mapstructure"
	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

// Planner asks a chat model which tools to add next. The model answers
// with a JSON block that is parsed into a Proposal.
type Planner struct {
	client    openai.Client
	model     string
	directory *catalog.Directory
	logger    *slog.Logger
}

// Config holds the endpoint settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Option configures the Planner.
type Option func(*Planner)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Planner) {
		p.logger = logger
	}
}

// New creates a Planner bound to the tool directory it may recommend
// from.
func New(cfg Config, dir *catalog.Directory, opts ...Option) *Planner {
	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	p := &Planner{
		client:    openai.NewClient(reqOpts...),
		model:     model,
		directory: dir,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

const systemPrompt = `You help users assemble multimedia analysis pipelines from a fixed tool directory.
Given the user's request, the conversation so far, and the pipeline built so far, decide which tools (if any) to append next.
Only recommend tools listed in the directory below. Chain tools so each one's input types are produced by the previous one's outputs.
Respond with a single JSON object and nothing else:
{"reply": "<short message to the user>", "tools": [{"tool": "<tool id>", "reason": "<why>", "needs_confirmation": <true|false>}]}
Use an empty "tools" array when no tool should be added. Set "needs_confirmation" to true when the choice is a judgement call the user should approve.

Tool directory:
%s`

// Propose implements ports.Planner.
func (p *Planner) Propose(ctx context.Context, pc ports.PlanContext) (*ports.Proposal, error) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(fmt.Sprintf(systemPrompt, p.describeDirectory())),
	}
	if pc.Task != "" {
		messages = append(messages, openai.SystemMessage("Overall task: "+pc.Task))
	}
	if pc.Pipeline != nil && len(pc.Pipeline.Nodes) > 0 {
		snapshot, err := pc.Pipeline.EncodeJSON()
		if err != nil {
			return nil, fmt.Errorf("encode pipeline snapshot: %w", err)
		}
		messages = append(messages, openai.SystemMessage("Pipeline so far: "+string(snapshot)))
	}
	for _, msg := range pc.History {
		switch msg.Role {
		case "assistant":
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    p.model,
		Messages: messages,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	proposal, err := parseProposal(resp.Choices[0].Message.Content)
	if err != nil {
		p.logger.Warn("unparseable model response, treating as plain reply", "err", err)
		return &ports.Proposal{Reply: strings.TrimSpace(resp.Choices[0].Message.Content)}, nil
	}
	return proposal, nil
}

func (p *Planner) describeDirectory() string {
	var b strings.Builder
	for _, td := range p.directory.List() {
		fmt.Fprintf(&b, "- %s: %s\n", td.ID, td.Description)
		if len(td.Inputs) > 0 {
			b.WriteString("  inputs:")
			for _, ref := range td.Inputs {
				for _, at := range ref.OneOf {
					b.WriteString(" " + at.Base())
				}
			}
			b.WriteString("\n")
		}
		if len(td.Outputs) > 0 {
			b.WriteString("  outputs:")
			for _, at := range td.Outputs {
				b.WriteString(" " + at.Base())
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

type rawProposal struct {
	Reply string `mapstructure:"reply"`
	Tools []struct {
		Tool              string `mapstructure:"tool"`
		Reason            string `mapstructure:"reason"`
		NeedsConfirmation bool   `mapstructure:"needs_confirmation"`
	} `mapstructure:"tools"`
}

// parseProposal extracts the JSON object from the model output.
// Malformed JSON gets one repair attempt before giving up.
func parseProposal(content string) (*ports.Proposal, error) {
	block := extractJSON(content)
	if block == "" {
		return nil, fmt.Errorf("no json object in response")
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(block), &payload); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(block)
		if repairErr != nil {
			return nil, fmt.Errorf("parse response: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &payload); err != nil {
			return nil, fmt.Errorf("parse repaired response: %w", err)
		}
	}

	var raw rawProposal
	if err := mapstructure.Decode(payload, &raw); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	proposal := &ports.Proposal{Reply: raw.Reply}
	for _, tool := range raw.Tools {
		if tool.Tool == "" {
			continue
		}
		proposal.Candidates = append(proposal.Candidates, ports.Candidate{
			ToolID:            tool.Tool,
			Reason:            tool.Reason,
			NeedsConfirmation: tool.NeedsConfirmation,
		})
	}
	return proposal, nil
}

// extractJSON returns the first JSON object in the text, tolerating
// markdown code fences.
func extractJSON(content string) string {
	content = strings.TrimSpace(content)
	if idx := strings.Index(content, "```json"); idx >= 0 {
		rest := content[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}
	start := strings.Index(content, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}
	// Unbalanced braces happen on truncated output. Hand the fragment
	// to the repair pass.
	return content[start:]
}
