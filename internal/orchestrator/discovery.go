package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bionixus/leadpilot-sub000/internal/agent"
	"github.com/bionixus/leadpilot-sub000/internal/store"
	"github.com/bionixus/leadpilot-sub000/internal/task"
)

// Inbox is the slice of the store work discovery reads: unprocessed
// replies and leads that went silent.
type Inbox interface {
	UnhandledInbound(ctx context.Context, orgID string, limit int) ([]*store.Message, error)
	MarkMessageHandled(ctx context.Context, id string) error
	StaleLeads(ctx context.Context, orgID string, cutoff time.Time, limit int) ([]*store.Lead, error)
	Thread(ctx context.Context, orgID, leadID string, limit int) ([]*store.Message, error)
	GetLead(ctx context.Context, id string) (*store.Lead, error)
}

// Discover enqueues the work the org's state implies: an inbox scan
// when none ran recently, and follow-ups for silent leads. Every
// enqueue is deduplicated so repeated discovery passes are idempotent.
func (o *Orchestrator) Discover(ctx context.Context, cfg *agent.Config) {
	orgID := cfg.OrgID
	log := o.logger.With(zap.String("org_id", orgID))

	// Inbox scan, at most one per window.
	n, err := o.queue.CountRecent(ctx, orgID, task.TypeCheckInbox, time.Now().Add(-o.inboxEvery))
	if err != nil {
		log.Warn("inbox dedup check failed", zap.Error(err))
	} else if n == 0 {
		if _, err := o.queue.Enqueue(ctx, &task.Task{
			OrgID:    orgID,
			Type:     task.TypeCheckInbox,
			Priority: 5,
			Payload:  task.CheckInboxPayload{},
		}); err != nil {
			log.Warn("enqueue check_inbox failed", zap.Error(err))
		}
	}

	// Follow-ups for silent leads, one in flight per lead.
	if o.inbox == nil {
		return
	}
	cutoff := time.Now().Add(-o.followUpAfter)
	stale, err := o.inbox.StaleLeads(ctx, orgID, cutoff, 20)
	if err != nil {
		log.Warn("stale lead scan failed", zap.Error(err))
		return
	}
	for _, l := range stale {
		inflight, err := o.queue.HasInFlight(ctx, orgID, l.ID, task.TypeFollowUp)
		if err != nil {
			log.Warn("follow-up dedup check failed", zap.String("lead_id", l.ID), zap.Error(err))
			continue
		}
		if inflight {
			continue
		}
		daysSilent := 0
		if l.LastTouch != nil {
			daysSilent = int(time.Since(*l.LastTouch).Hours() / 24)
		}
		if _, err := o.queue.Enqueue(ctx, &task.Task{
			OrgID:            orgID,
			Type:             task.TypeFollowUp,
			Priority:         3,
			LeadID:           l.ID,
			CampaignID:       l.CampaignID,
			RequiresApproval: cfg.NeedsApproval(string(task.TypeFollowUp)),
			Payload: task.FollowUpPayload{
				LeadID:     l.ID,
				CampaignID: l.CampaignID,
				DaysSilent: daysSilent,
			},
		}); err != nil {
			log.Warn("enqueue follow_up failed", zap.String("lead_id", l.ID), zap.Error(err))
			continue
		}
		log.Info("follow-up discovered", zap.String("lead_id", l.ID), zap.Int("days_silent", daysSilent))
	}
}

// processInbox executes a check_inbox task: every unprocessed inbound
// message becomes a classify_reply task and is marked handled, so the
// same reply can never fan out twice.
func (o *Orchestrator) processInbox(ctx context.Context, cfg *agent.Config, t *task.Task, log *zap.Logger) {
	if o.inbox == nil {
		if err := o.queue.MarkCompleted(ctx, t.ID, map[string]any{"found": 0}); err != nil {
			log.Error("complete inbox task failed", zap.Error(err))
		}
		return
	}

	msgs, err := o.inbox.UnhandledInbound(ctx, t.OrgID, 20)
	if err != nil {
		o.retryOrFail(ctx, t, fmt.Sprintf("scan inbox: %v", err), log)
		return
	}

	fanned := 0
	for _, m := range msgs {
		if _, err := o.queue.Enqueue(ctx, &task.Task{
			OrgID:            t.OrgID,
			Type:             task.TypeClassifyReply,
			Priority:         8,
			LeadID:           m.LeadID,
			RequiresApproval: cfg.NeedsApproval(string(task.TypeClassifyReply)),
			Payload: task.ClassifyReplyPayload{
				LeadID:    m.LeadID,
				MessageID: m.ID,
				Body:      m.Body,
			},
		}); err != nil {
			log.Warn("enqueue classify_reply failed", zap.String("message_id", m.ID), zap.Error(err))
			continue
		}
		if err := o.inbox.MarkMessageHandled(ctx, m.ID); err != nil {
			log.Warn("mark message handled failed", zap.String("message_id", m.ID), zap.Error(err))
		}
		fanned++
	}

	if err := o.queue.MarkCompleted(ctx, t.ID, map[string]any{"found": fanned}); err != nil {
		log.Error("complete inbox task failed", zap.Error(err))
		return
	}
	o.log(ctx, t, task.LogObservation,
		fmt.Sprintf("inbox scan found %d new replies", fanned), nil)
}
