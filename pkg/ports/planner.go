package ports

import (
	"context"
	"time"

	"github.com/avannotate/pipechat/pkg/graph"
)

// Message is one turn of the accumulated conversation.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// PlanContext is everything the reasoning capability sees when asked to
// propose the next tools: the task, the conversation so far, and a
// snapshot of the pipeline under construction.
type PlanContext struct {
	Task     string
	History  []Message
	Pipeline *graph.Document
}

// Candidate is one tool selection proposed by the planner.
type Candidate struct {
	ToolID     string         `json:"tool" mapstructure:"tool"`
	Reason     string         `json:"reason,omitempty" mapstructure:"reason"`
	Parameters map[string]any `json:"parameters,omitempty" mapstructure:"parameters"`

	// NeedsConfirmation pauses the turn until human feedback arrives
	// before the candidate is added to the pipeline.
	NeedsConfirmation bool `json:"needs_confirmation,omitempty" mapstructure:"needs_confirmation"`
}

// Proposal is the planner's answer for one turn: zero or more candidate
// tools plus free-form commentary for the user.
type Proposal struct {
	Candidates []Candidate
	Reply      string
}

// Planner is the external reasoning capability. Implementations are
// expected to suspend for a non-trivial duration and must honor ctx
// cancellation.
type Planner interface {
	Propose(ctx context.Context, pc PlanContext) (*Proposal, error)
}

// Feedback is a human decision on a pending confirmation.
type Feedback struct {
	Approved bool   `json:"approved"`
	Comments string `json:"comments,omitempty"`
}
