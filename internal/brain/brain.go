package brain

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/bionixus/leadpilot-sub000/internal/agent"
	"github.com/bionixus/leadpilot-sub000/internal/memory"
	"github.com/bionixus/leadpilot-sub000/internal/provider"
	"github.com/bionixus/leadpilot-sub000/internal/task"
)

// ActionError is the fail-closed action name. A decision carrying it is
// never executed; it is routed to a human instead.
const ActionError = "error"

// Decision is the brain's single output for one task: an action from
// the legal set, a justification, a confidence score, and whether a
// human must approve before execution. Raw preserves the model's reply
// for audit when parsing fails.
type Decision struct {
	Action           string         `json:"action"`
	Reasoning        string         `json:"reasoning"`
	Confidence       float64        `json:"confidence"`
	RequiresApproval bool           `json:"requires_approval"`
	Data             map[string]any `json:"data,omitempty"`
	Raw              string         `json:"-"`
}

// Chatter is the slice of the provider router the brain needs.
type Chatter interface {
	Chat(ctx context.Context, orgID string, req *provider.ChatRequest) (*provider.ChatResponse, error)
}

// Input carries everything a single decision depends on.
type Input struct {
	Config    *agent.Config
	Task      *task.Task
	Context   string // task-type-specific situation description
	Memories  []*memory.Memory
	RuleLines []string // enabled rules rendered as IF/THEN text
	ToolLines []string // available tools as "name: description"
}

// Brain is the LLM-backed decision engine.
type Brain struct {
	llm    Chatter
	logger *zap.Logger
}

// New creates a decision engine over the given LLM.
func New(llm Chatter, logger *zap.Logger) *Brain {
	return &Brain{llm: llm, logger: logger}
}

// Decide produces one decision for the task. It never guesses: any
// malformed or illegal model output collapses to the fail-closed
// decision (action=error, confidence 0, approval required), and the
// config's approval set is a floor the model cannot lower.
func (b *Brain) Decide(ctx context.Context, in Input) (*Decision, error) {
	legal := LegalActions(in.Task.Type)

	req := &provider.ChatRequest{
		Model:       in.Config.Model,
		Temperature: in.Config.Temperature,
		MaxTokens:   1024,
		Messages: []provider.Message{
			{Role: "system", Content: b.systemPrompt(in)},
			{Role: "user", Content: b.userPrompt(in, legal)},
		},
	}

	resp, err := b.llm.Chat(ctx, in.Config.OrgID, req)
	if err != nil {
		return nil, fmt.Errorf("decision chat: %w", err)
	}

	d := parseDecision(resp.Content)
	if d.Action != ActionError && !IsLegal(in.Task.Type, d.Action) {
		b.logger.Warn("model chose illegal action, failing closed",
			zap.String("action", d.Action),
			zap.String("task_type", string(in.Task.Type)))
		d = failClosed(resp.Content, fmt.Sprintf("action %q not legal for %s", d.Action, in.Task.Type))
	}

	// The configuration floor: an action on the approval list requires
	// approval no matter what the model said.
	if in.Config.NeedsApproval(d.Action) {
		d.RequiresApproval = true
	}

	b.logger.Debug("decision",
		zap.String("task", in.Task.ID),
		zap.String("action", d.Action),
		zap.Float64("confidence", d.Confidence),
		zap.Bool("requires_approval", d.RequiresApproval))
	return d, nil
}

func (b *Brain) systemPrompt(in Input) string {
	var sb strings.Builder
	sb.WriteString("You are an autonomous sales-outreach agent acting for one organization. ")
	sb.WriteString("You decide the single next action for the task you are given.\n\n")

	if len(in.RuleLines) > 0 {
		sb.WriteString("Organization rules (highest priority first):\n")
		for _, l := range in.RuleLines {
			sb.WriteString(l)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if len(in.ToolLines) > 0 {
		sb.WriteString("Available tools:\n")
		for _, l := range in.ToolLines {
			sb.WriteString("- ")
			sb.WriteString(l)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	rl := in.Config.RateLimits
	fmt.Fprintf(&sb, "Limits: at most %d new leads/day, %d messages/day, %d actions/hour.\n",
		rl.MaxNewLeadsPerDay, rl.MaxMessagesPerDay, rl.MaxActionsPerHour)
	if in.Config.Schedule.Enabled {
		fmt.Fprintf(&sb, "Working window: %s-%s %s on %s.\n",
			in.Config.Schedule.Start, in.Config.Schedule.End,
			in.Config.Schedule.Timezone, strings.Join(in.Config.Schedule.Days, ", "))
	}

	sb.WriteString("\nRespond with a single JSON object:\n")
	sb.WriteString(`{"action":"<one of the legal actions>","reasoning":"<why>","confidence":<0..1>,"requires_approval":<bool>,"data":{<tool parameters>}}`)
	sb.WriteString("\nChoose skip when no action is useful, delay to wait, escalate when a human should decide.")
	return sb.String()
}

func (b *Brain) userPrompt(in Input, legal []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task type: %s\n", in.Task.Type)
	if in.Task.LeadID != "" {
		fmt.Fprintf(&sb, "Lead: %s\n", in.Task.LeadID)
	}
	if in.Task.CampaignID != "" {
		fmt.Fprintf(&sb, "Campaign: %s\n", in.Task.CampaignID)
	}
	sb.WriteString("\nSituation:\n")
	sb.WriteString(in.Context)
	sb.WriteString("\n")

	if len(in.Memories) > 0 {
		sb.WriteString("\nRelevant memories:\n")
		for _, m := range in.Memories {
			fmt.Fprintf(&sb, "- [%s, importance %.2f] %s: %s\n", m.Kind, m.Importance, m.Key, m.Value)
		}
	}

	fmt.Fprintf(&sb, "\nLegal actions for this task: %s\n", strings.Join(legal, ", "))
	sb.WriteString("Pick exactly one.")
	return sb.String()
}
