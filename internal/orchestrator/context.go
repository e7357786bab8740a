package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/bionixus/leadpilot-sub000/internal/agent"
	"github.com/bionixus/leadpilot-sub000/internal/task"
)

// situation assembles what the rules and the decision engine see for
// one task: a structured map for condition evaluation and a rendered
// text block for the model prompt. Both are built from the same facts
// so a rule and the model never disagree about the situation.
func (o *Orchestrator) situation(ctx context.Context, cfg *agent.Config, t *task.Task) (map[string]any, string) {
	sit := map[string]any{
		"task": map[string]any{
			"type":        string(t.Type),
			"priority":    t.Priority,
			"retry_count": t.RetryCount,
		},
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s", t.Type)
	if t.RetryCount > 0 {
		fmt.Fprintf(&sb, " (attempt %d of %d)", t.RetryCount+1, t.MaxRetries+1)
	}
	sb.WriteString("\n")

	describePayload(&sb, sit, t)

	if t.LeadID != "" && o.inbox != nil {
		o.describeLead(ctx, &sb, sit, t)
	}

	return sit, sb.String()
}

// describePayload surfaces the task's typed input.
func describePayload(sb *strings.Builder, sit map[string]any, t *task.Task) {
	switch p := t.Payload.(type) {
	case task.FindLeadsPayload:
		fmt.Fprintf(sb, "Find up to %d new leads for campaign %s.", p.Limit, p.CampaignID)
		if p.Criteria != "" {
			fmt.Fprintf(sb, " Criteria: %s", p.Criteria)
		}
		sb.WriteString("\n")
	case task.SendMessagePayload:
		fmt.Fprintf(sb, "Send a %s message to the lead.", p.Channel)
		if p.Subject != "" {
			fmt.Fprintf(sb, " Subject: %s.", p.Subject)
		}
		if p.Body != "" {
			fmt.Fprintf(sb, "\nDrafted body:\n%s", p.Body)
		}
		sb.WriteString("\n")
		sit["message"] = map[string]any{"channel": p.Channel, "step": p.SequenceStep}
	case task.ClassifyReplyPayload:
		fmt.Fprintf(sb, "Classify this reply from the lead:\n%s\n", p.Body)
		sit["reply"] = map[string]any{"body": p.Body}
	case task.RespondToReplyPayload:
		fmt.Fprintf(sb, "Respond to the lead's reply")
		if p.Classification != "" {
			fmt.Fprintf(sb, " (classified %s)", p.Classification)
		}
		if p.Body != "" {
			fmt.Fprintf(sb, ":\n%s", p.Body)
		}
		sb.WriteString("\n")
		sit["reply"] = map[string]any{"body": p.Body, "classification": p.Classification}
	case task.BookMeetingPayload:
		fmt.Fprintf(sb, "Book a meeting with the lead.")
		if len(p.ProposedTimes) > 0 {
			fmt.Fprintf(sb, " Proposed times: %s.", strings.Join(p.ProposedTimes, ", "))
		}
		sb.WriteString("\n")
	case task.FollowUpPayload:
		fmt.Fprintf(sb, "The lead has been silent for %d days after our last message. Decide the follow-up.\n", p.DaysSilent)
		sit["follow_up"] = map[string]any{"days_silent": p.DaysSilent}
	case task.EnrichLeadPayload:
		sb.WriteString("Fill in missing details on this lead's record.\n")
	case task.GenerateSequencePayload:
		fmt.Fprintf(sb, "Draft a %d-step outreach sequence for campaign %s.\n", p.Steps, p.CampaignID)
	case task.ReportPayload:
		fmt.Fprintf(sb, "Summarize %s outreach activity for the operator.\n", p.Period)
	}
}

// describeLead adds the lead record and recent thread to the situation.
func (o *Orchestrator) describeLead(ctx context.Context, sb *strings.Builder, sit map[string]any, t *task.Task) {
	l, err := o.inbox.GetLead(ctx, t.LeadID)
	if err != nil {
		o.logger.Warn("load lead for context failed",
			zap.String("lead_id", t.LeadID), zap.Error(err))
		return
	}

	sit["lead"] = map[string]any{
		"status":    l.Status,
		"company":   l.Company,
		"has_email": l.Email != "",
		"has_phone": l.Phone != "",
	}
	fmt.Fprintf(sb, "\nLead: %s", l.Name)
	if l.Company != "" {
		fmt.Fprintf(sb, " at %s", l.Company)
	}
	fmt.Fprintf(sb, " (status: %s)\n", l.Status)

	thread, err := o.inbox.Thread(ctx, t.OrgID, t.LeadID, 10)
	if err != nil {
		o.logger.Warn("load thread for context failed",
			zap.String("lead_id", t.LeadID), zap.Error(err))
		return
	}
	if len(thread) == 0 {
		sb.WriteString("No prior conversation with this lead.\n")
		return
	}

	sb.WriteString("\nConversation so far:\n")
	for _, m := range thread {
		who := "us"
		if m.Direction == "inbound" {
			who = "lead"
		}
		fmt.Fprintf(sb, "[%s via %s] %s\n", who, m.Channel, m.Body)
	}
	last := thread[len(thread)-1]
	sit["thread"] = map[string]any{
		"messages":       len(thread),
		"last_direction": last.Direction,
	}
}

// recallKeywords picks the memory search terms for a task.
func recallKeywords(t *task.Task) []string {
	kw := []string{string(t.Type)}
	switch p := t.Payload.(type) {
	case task.ClassifyReplyPayload:
		kw = append(kw, "reply")
	case task.FindLeadsPayload:
		if p.Criteria != "" {
			kw = append(kw, p.Criteria)
		}
	case task.FollowUpPayload:
		kw = append(kw, "follow up")
	}
	return kw
}
