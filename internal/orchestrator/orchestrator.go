package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bionixus/leadpilot-sub000/internal/agent"
	"github.com/bionixus/leadpilot-sub000/internal/brain"
	"github.com/bionixus/leadpilot-sub000/internal/memory"
	"github.com/bionixus/leadpilot-sub000/internal/notify"
	"github.com/bionixus/leadpilot-sub000/internal/queue"
	"github.com/bionixus/leadpilot-sub000/internal/ratelimit"
	"github.com/bionixus/leadpilot-sub000/internal/rules"
	"github.com/bionixus/leadpilot-sub000/internal/task"
	"github.com/bionixus/leadpilot-sub000/internal/tool"
)

// ConfigStore loads and mutates per-org agent configs.
type ConfigStore interface {
	GetConfig(ctx context.Context, orgID string) (*agent.Config, error)
	SaveConfig(ctx context.Context, c *agent.Config) error
	SetAgentStatus(ctx context.Context, orgID string, status agent.Status) error
	ListEnabledOrgs(ctx context.Context) ([]string, error)
}

// RuleStore fetches an org's rules for evaluation.
type RuleStore interface {
	ListRules(ctx context.Context, orgID string) ([]*rules.Rule, error)
}

// AuditLog receives append-only audit entries.
type AuditLog interface {
	AppendLog(ctx context.Context, e *task.LogEntry) error
}

// Decider produces one decision per task.
type Decider interface {
	Decide(ctx context.Context, in brain.Input) (*brain.Decision, error)
}

// RateLimiter is the slice of the Redis limiter the loop needs. A nil
// limiter means no caps.
type RateLimiter interface {
	Allow(ctx context.Context, orgID, counter string, window ratelimit.Window, limit int) (bool, error)
}

// ToolFactory builds the org-scoped tool registry.
type ToolFactory func(orgID string) *tool.Registry

// Orchestrator drives the autonomous loop for every running org:
// claim a task, decide, gate, execute, record. One Orchestrator is
// shared; per-org state lives in the queue and the config.
type Orchestrator struct {
	queue     queue.TaskQueue
	configs   ConfigStore
	ruleStore RuleStore
	engine    *rules.Engine
	brain     Decider
	tools     ToolFactory
	recaller  memory.Recaller
	learner   memory.Writer
	limiter   RateLimiter
	notifier  notify.Notifier
	audit     AuditLog
	inbox     Inbox
	backoff   queue.Backoff
	logger    *zap.Logger

	pollInterval   time.Duration
	followUpAfter  time.Duration
	inboxEvery     time.Duration
	retainTasksFor time.Duration
	taskTimeout    time.Duration
}

// Options bundles the orchestrator's dependencies. Queue, Configs,
// Rules, Engine, Brain, Tools and Logger are required; the rest
// degrade gracefully when nil.
type Options struct {
	Queue    queue.TaskQueue
	Configs  ConfigStore
	Rules    RuleStore
	Engine   *rules.Engine
	Brain    Decider
	Tools    ToolFactory
	Recaller memory.Recaller
	Learner  memory.Writer
	Limiter  RateLimiter
	Notifier notify.Notifier
	Audit    AuditLog
	Inbox    Inbox
	Backoff  queue.Backoff
	Logger   *zap.Logger

	// PollInterval is the idle wait between queue polls. Default 5s.
	PollInterval time.Duration
	// FollowUpAfter is how long a lead may stay silent before work
	// discovery enqueues a follow_up. Default 72h.
	FollowUpAfter time.Duration
	// InboxEvery is the minimum gap between check_inbox tasks. Default 15m.
	InboxEvery time.Duration
	// RetainTasksFor is how long terminal tasks are kept. Default 30 days.
	RetainTasksFor time.Duration
	// TaskTimeout bounds one task iteration end to end. Default 5m.
	TaskTimeout time.Duration
}

// New wires an Orchestrator from options.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		queue:          opts.Queue,
		configs:        opts.Configs,
		ruleStore:      opts.Rules,
		engine:         opts.Engine,
		brain:          opts.Brain,
		tools:          opts.Tools,
		recaller:       opts.Recaller,
		learner:        opts.Learner,
		limiter:        opts.Limiter,
		notifier:       opts.Notifier,
		audit:          opts.Audit,
		inbox:          opts.Inbox,
		backoff:        opts.Backoff,
		logger:         opts.Logger,
		pollInterval:   opts.PollInterval,
		followUpAfter:  opts.FollowUpAfter,
		inboxEvery:     opts.InboxEvery,
		retainTasksFor: opts.RetainTasksFor,
		taskTimeout:    opts.TaskTimeout,
	}
	if o.notifier == nil {
		o.notifier = notify.Nop{}
	}
	if o.pollInterval <= 0 {
		o.pollInterval = 5 * time.Second
	}
	if o.followUpAfter <= 0 {
		o.followUpAfter = 72 * time.Hour
	}
	if o.inboxEvery <= 0 {
		o.inboxEvery = 15 * time.Minute
	}
	if o.retainTasksFor <= 0 {
		o.retainTasksFor = 30 * 24 * time.Hour
	}
	if o.taskTimeout <= 0 {
		o.taskTimeout = 5 * time.Minute
	}
	return o
}

// RunOnce claims and processes at most one task for the org. Returns
// true when a task was processed, false when the queue was empty.
// The claimed task runs on its own timeout-bounded context: a stop or
// shutdown request must never abort a tool call mid-flight, it only
// keeps the loop from claiming the next task.
func (o *Orchestrator) RunOnce(ctx context.Context, cfg *agent.Config) (bool, error) {
	t, err := o.queue.ClaimNext(ctx, cfg.OrgID)
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	if t == nil {
		return false, nil
	}
	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.taskTimeout)
	defer cancel()
	o.process(taskCtx, cfg, t)
	return true, nil
}

// process runs one claimed task through the full pipeline: decision,
// rules, approval gate, rate limits, execution, outcome.
func (o *Orchestrator) process(ctx context.Context, cfg *agent.Config, t *task.Task) {
	log := o.logger.With(
		zap.String("org_id", t.OrgID),
		zap.String("task_id", t.ID),
		zap.String("type", string(t.Type)))

	// check_inbox is deterministic: scan and fan out, no model involved.
	if t.Type == task.TypeCheckInbox {
		o.processInbox(ctx, cfg, t, log)
		return
	}

	// An approved task carries its frozen decision; run it verbatim.
	if t.ApprovedAt != nil && t.PendingAction != "" {
		o.runApproved(ctx, cfg, t, log)
		return
	}

	situation, contextText := o.situation(ctx, cfg, t)

	ruleList, err := o.ruleStore.ListRules(ctx, t.OrgID)
	if err != nil {
		o.retryOrFail(ctx, t, fmt.Sprintf("load rules: %v", err), log)
		return
	}

	var memories []*memory.Memory
	if o.recaller != nil {
		scope := memory.Scope{LeadID: t.LeadID, CampaignID: t.CampaignID}
		memories, err = o.recaller.Recall(ctx, t.OrgID, scope, recallKeywords(t), 5)
		if err != nil {
			log.Warn("memory recall failed", zap.Error(err))
		}
	}

	reg := o.tools(t.OrgID)
	d, err := o.brain.Decide(ctx, brain.Input{
		Config:    cfg,
		Task:      t,
		Context:   contextText,
		Memories:  memories,
		RuleLines: rules.AsPromptLines(ruleList),
		ToolLines: reg.Descriptions(),
	})
	if err != nil {
		o.retryOrFail(ctx, t, fmt.Sprintf("decision: %v", err), log)
		return
	}

	o.log(ctx, t, task.LogDecision, d.Action, map[string]any{
		"confidence":        d.Confidence,
		"requires_approval": d.RequiresApproval,
		"reasoning":         d.Reasoning,
	})

	// A fail-closed decision never executes; a human takes over.
	if d.Action == brain.ActionError {
		o.escalate(ctx, t, d.Reasoning, log)
		return
	}

	// Rules judge the decided action, so a filter forbidding an action
	// fires no matter which task type tried it. Blocking beats the
	// approval gate: a forbidden action must not reach an approver.
	if blocked := o.applyRules(ctx, t, d, ruleList, situation, log); blocked {
		return
	}

	// Approval gate. An already-approved task (approved_at set) passes.
	// Anything else that needs approval, whether by the decision's own
	// flag or because the task was enqueued approval-required, parks
	// here with the decided action frozen.
	if (d.RequiresApproval || t.RequiresApproval) && t.ApprovedAt == nil {
		if err := o.queue.MarkAwaitingApproval(ctx, t.ID, d.Action, d.Data); err != nil {
			log.Error("park for approval failed", zap.Error(err))
			return
		}
		o.log(ctx, t, task.LogApproval, fmt.Sprintf("awaiting approval for %s", d.Action), nil)
		o.notifier.Notify(ctx, &notify.Event{
			Kind: notify.KindApprovalNeeded, OrgID: t.OrgID, TaskID: t.ID,
			Action: d.Action, Reason: d.Reasoning, At: time.Now(),
		})
		log.Info("task awaiting approval", zap.String("action", d.Action))
		return
	}

	o.execute(ctx, cfg, t, d, reg, log)
}

// runApproved executes the decision a human signed off on. The model
// is not consulted again, so the action that runs is exactly the one
// that was approved; rules still apply, since a filter added after
// parking must win over a stale approval.
func (o *Orchestrator) runApproved(ctx context.Context, cfg *agent.Config, t *task.Task, log *zap.Logger) {
	d := &brain.Decision{
		Action:     t.PendingAction,
		Data:       t.PendingData,
		Confidence: 1,
		Reasoning:  fmt.Sprintf("approved by %s", t.ApprovedBy),
	}
	log.Info("running approved action",
		zap.String("action", d.Action), zap.String("approved_by", t.ApprovedBy))

	situation, _ := o.situation(ctx, cfg, t)
	ruleList, err := o.ruleStore.ListRules(ctx, t.OrgID)
	if err != nil {
		o.retryOrFail(ctx, t, fmt.Sprintf("load rules: %v", err), log)
		return
	}
	if blocked := o.applyRules(ctx, t, d, ruleList, situation, log); blocked {
		return
	}
	o.execute(ctx, cfg, t, d, o.tools(t.OrgID), log)
}

// applyRules evaluates the org's rules against the situation with the
// decided action and its parameters merged in. A blocking filter fails
// the task and reports true.
func (o *Orchestrator) applyRules(ctx context.Context, t *task.Task, d *brain.Decision, ruleList []*rules.Rule, situation map[string]any, log *zap.Logger) bool {
	situation["action"] = d.Action
	if len(d.Data) > 0 {
		situation["data"] = d.Data
	}

	fired, err := o.engine.Evaluate(ctx, ruleList, situation)
	if err != nil {
		o.retryOrFail(ctx, t, fmt.Sprintf("evaluate rules: %v", err), log)
		return true
	}
	blocking := rules.FirstBlocking(fired)
	if blocking == nil {
		return false
	}

	msg := fmt.Sprintf("action %s blocked by rule %q", d.Action, blocking.Rule.Name)
	if err := o.queue.MarkFailed(ctx, t.ID, msg); err != nil {
		log.Error("mark blocked task failed", zap.Error(err))
	}
	o.log(ctx, t, task.LogError, msg, map[string]any{"rule_id": blocking.Rule.ID})
	log.Info("task blocked by rule",
		zap.String("rule", blocking.Rule.Name), zap.String("action", d.Action))
	return true
}

// execute runs the decided action through the rate limits and the tool
// registry, then applies the outcome.
func (o *Orchestrator) execute(ctx context.Context, cfg *agent.Config, t *task.Task, d *brain.Decision, reg *tool.Registry, log *zap.Logger) {
	if ok := o.withinLimits(ctx, cfg, t, d.Action, log); !ok {
		return
	}

	params := d.Data
	if params == nil {
		params = map[string]any{}
	}
	if _, present := params["lead_id"]; !present && t.LeadID != "" {
		params["lead_id"] = t.LeadID
	}

	res, err := reg.Execute(ctx, d.Action, params)
	if err != nil {
		o.retryOrFail(ctx, t, fmt.Sprintf("execute %s: %v", d.Action, err), log)
		return
	}

	o.finish(ctx, cfg, t, d, res, log)
}

// finish applies a tool result to the task.
func (o *Orchestrator) finish(ctx context.Context, cfg *agent.Config, t *task.Task, d *brain.Decision, res *tool.Result, log *zap.Logger) {
	switch {
	case res.Delayed():
		until := delayedUntil(res)
		if err := o.queue.Delay(ctx, t.ID, until); err != nil {
			log.Error("delay task failed", zap.Error(err))
			return
		}
		o.log(ctx, t, task.LogObservation, "delayed by decision", map[string]any{"until": until})
		log.Info("task delayed", zap.Time("until", until))

	case res.Escalated():
		reason, _ := res.Data["reason"].(string)
		o.escalate(ctx, t, reason, log)

	case res.Success:
		if err := o.queue.MarkCompleted(ctx, t.ID, res.Data); err != nil {
			log.Error("complete task failed", zap.Error(err))
			return
		}
		o.log(ctx, t, task.LogAction, d.Action, res.Data)
		o.learn(ctx, cfg, t, d)
		log.Info("task completed", zap.String("action", d.Action))

	case res.Permanent:
		if err := o.queue.MarkFailed(ctx, t.ID, res.Error); err != nil {
			log.Error("fail task failed", zap.Error(err))
			return
		}
		o.log(ctx, t, task.LogError, res.Error, nil)
		o.notifier.Notify(ctx, &notify.Event{
			Kind: notify.KindTaskFailed, OrgID: t.OrgID, TaskID: t.ID,
			Action: d.Action, Reason: res.Error, At: time.Now(),
		})
		log.Warn("task failed permanently", zap.String("error", res.Error))

	default:
		o.retryOrFail(ctx, t, res.Error, log)
	}
}

// escalate parks the task for a human and tells the operator channel.
// No action is frozen: approving an escalated task sends it back
// through the full decision pipeline.
func (o *Orchestrator) escalate(ctx context.Context, t *task.Task, reason string, log *zap.Logger) {
	if err := o.queue.MarkAwaitingApproval(ctx, t.ID, "", nil); err != nil {
		log.Error("escalate failed", zap.Error(err))
		return
	}
	o.log(ctx, t, task.LogApproval, "escalated to human", map[string]any{"reason": reason})
	o.notifier.Notify(ctx, &notify.Event{
		Kind: notify.KindEscalated, OrgID: t.OrgID, TaskID: t.ID,
		Reason: reason, At: time.Now(),
	})
	log.Info("task escalated", zap.String("reason", reason))
}

// retryOrFail reschedules with backoff while budget remains, then
// fails terminally.
func (o *Orchestrator) retryOrFail(ctx context.Context, t *task.Task, errMsg string, log *zap.Logger) {
	if t.RetryCount >= t.MaxRetries {
		if err := o.queue.MarkFailed(ctx, t.ID, errMsg); err != nil {
			log.Error("fail task failed", zap.Error(err))
			return
		}
		o.log(ctx, t, task.LogError, errMsg, map[string]any{"retries": t.RetryCount})
		o.notifier.Notify(ctx, &notify.Event{
			Kind: notify.KindTaskFailed, OrgID: t.OrgID, TaskID: t.ID,
			Reason: errMsg, At: time.Now(),
		})
		log.Warn("retry budget exhausted", zap.String("error", errMsg))
		return
	}

	at := time.Now().Add(o.backoff.Delay(t.RetryCount + 1))
	if err := o.queue.Reschedule(ctx, t.ID, at, errMsg); err != nil {
		log.Error("reschedule failed", zap.Error(err))
		return
	}
	o.log(ctx, t, task.LogError, errMsg, map[string]any{
		"retry": t.RetryCount + 1, "next_attempt": at,
	})
	log.Info("task rescheduled", zap.Time("at", at), zap.String("error", errMsg))
}

// withinLimits consumes rate-limit budget for the action. A denied
// check delays the task to the next window; it is not a failure.
func (o *Orchestrator) withinLimits(ctx context.Context, cfg *agent.Config, t *task.Task, action string, log *zap.Logger) bool {
	if o.limiter == nil {
		return true
	}

	type check struct {
		counter string
		window  ratelimit.Window
		limit   int
	}
	checks := []check{{ratelimit.CounterActions, ratelimit.PerHour, cfg.RateLimits.MaxActionsPerHour}}
	if isSendAction(action) {
		checks = append(checks, check{ratelimit.CounterMessages, ratelimit.PerDay, cfg.RateLimits.MaxMessagesPerDay})
	}
	if t.Type == task.TypeFindLeads {
		checks = append(checks, check{ratelimit.CounterNewLeads, ratelimit.PerDay, cfg.RateLimits.MaxNewLeadsPerDay})
	}

	for _, c := range checks {
		ok, err := o.limiter.Allow(ctx, t.OrgID, c.counter, c.window, c.limit)
		if err != nil {
			o.retryOrFail(ctx, t, fmt.Sprintf("rate limit check: %v", err), log)
			return false
		}
		if !ok {
			until := nextWindow(c.window)
			if err := o.queue.Delay(ctx, t.ID, until); err != nil {
				log.Error("delay rate-limited task failed", zap.Error(err))
				return false
			}
			o.log(ctx, t, task.LogObservation,
				fmt.Sprintf("rate limit %s reached", c.counter),
				map[string]any{"until": until})
			log.Info("task delayed by rate limit",
				zap.String("counter", c.counter), zap.Time("until", until))
			return false
		}
	}
	return true
}

// learn persists a learning memory from a completed decision.
func (o *Orchestrator) learn(ctx context.Context, cfg *agent.Config, t *task.Task, d *brain.Decision) {
	if o.learner == nil || d.Reasoning == "" {
		return
	}
	m := &memory.Memory{
		OrgID:      t.OrgID,
		Kind:       memory.KindLearning,
		Key:        fmt.Sprintf("%s/%s", t.Type, d.Action),
		Value:      d.Reasoning,
		Importance: d.Confidence,
		LeadID:     t.LeadID,
		CampaignID: t.CampaignID,
	}
	if err := o.learner.Save(ctx, m); err != nil {
		o.logger.Warn("save learning failed", zap.String("task_id", t.ID), zap.Error(err))
	}
}

// log writes one audit entry, best-effort.
func (o *Orchestrator) log(ctx context.Context, t *task.Task, kind task.LogKind, msg string, details map[string]any) {
	if o.audit == nil {
		return
	}
	e := &task.LogEntry{
		OrgID:   t.OrgID,
		TaskID:  t.ID,
		Kind:    kind,
		Message: msg,
		Details: details,
	}
	if kind == task.LogDecision && details != nil {
		if r, ok := details["reasoning"].(string); ok {
			e.Reasoning = r
		}
		if c, ok := details["confidence"].(float64); ok {
			e.Confidence = c
		}
	}
	if err := o.audit.AppendLog(ctx, e); err != nil {
		o.logger.Warn("append audit log failed", zap.Error(err))
	}
}

// Housekeep trims state past the retention window: terminal tasks,
// audit entries, and expired memories. Backends that don't support a
// sweep are skipped.
func (o *Orchestrator) Housekeep(ctx context.Context, orgID string) {
	cutoff := time.Now().Add(-o.retainTasksFor)

	n, err := o.queue.PurgeBefore(ctx, cutoff)
	if err != nil {
		o.logger.Warn("purge tasks failed", zap.Error(err))
	} else if n > 0 {
		o.logger.Info("purged terminal tasks", zap.Int("count", n))
	}

	if lp, ok := o.audit.(interface {
		PurgeLogsBefore(ctx context.Context, cutoff time.Time) (int, error)
	}); ok {
		if n, err := lp.PurgeLogsBefore(ctx, cutoff); err != nil {
			o.logger.Warn("purge logs failed", zap.Error(err))
		} else if n > 0 {
			o.logger.Info("purged audit entries", zap.Int("count", n))
		}
	}

	if mp, ok := o.learner.(interface {
		PruneExpired(ctx context.Context, orgID string) (int, error)
	}); ok {
		if n, err := mp.PruneExpired(ctx, orgID); err != nil {
			o.logger.Warn("prune memories failed", zap.Error(err))
		} else if n > 0 {
			o.logger.Info("pruned expired memories",
				zap.String("org_id", orgID), zap.Int("count", n))
		}
	}
}

func isSendAction(action string) bool {
	switch action {
	case "send_email", "send_whatsapp", "send_sms":
		return true
	}
	return false
}

// delayedUntil reads the reschedule time from a delay-tool result,
// falling back to one hour out.
func delayedUntil(res *tool.Result) time.Time {
	if s, ok := res.Data["until"].(string); ok {
		if at, err := time.Parse(time.RFC3339, s); err == nil {
			return at
		}
	}
	return time.Now().Add(time.Hour)
}

// nextWindow is when a rate-limited task becomes worth retrying.
func nextWindow(w ratelimit.Window) time.Time {
	now := time.Now().UTC()
	if w == ratelimit.PerHour {
		return now.Truncate(time.Hour).Add(time.Hour)
	}
	return now.Truncate(24 * time.Hour).Add(24 * time.Hour)
}
