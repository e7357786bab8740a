package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// BoolAsker answers a yes/no question with the language model. Natural-
// language conditions go through this; production behavior may vary
// between calls with identical input, so tests substitute a stub.
type BoolAsker interface {
	AskBool(ctx context.Context, prompt string) (string, error)
}

// TriggerRecorder persists a rule firing: increments times_triggered,
// stamps last_triggered_at, and writes a rule_triggered audit entry.
type TriggerRecorder interface {
	RecordTrigger(ctx context.Context, r *Rule, situation map[string]any) error
}

// Engine evaluates prioritized rules against runtime situations.
type Engine struct {
	asker    BoolAsker
	recorder TriggerRecorder
	logger   *zap.Logger
}

// NewEngine creates a rule engine. asker may be nil when no natural-
// language rules exist; recorder may be nil in tests.
func NewEngine(asker BoolAsker, recorder TriggerRecorder, logger *zap.Logger) *Engine {
	return &Engine{asker: asker, recorder: recorder, logger: logger}
}

// Evaluate runs all enabled rules against the situation in descending
// priority order and returns the ones that fired, each with its typed
// effect. Trigger counters are recorded for every firing. Callers must
// treat an EffectBlock firing as a hard stop.
func (e *Engine) Evaluate(ctx context.Context, all []*Rule, situation map[string]any) ([]Fired, error) {
	ordered := make([]*Rule, 0, len(all))
	for _, r := range all {
		if r.Enabled {
			ordered = append(ordered, r)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	var fired []Fired
	for _, r := range ordered {
		matched, err := e.matches(ctx, r, situation)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.Name, err)
		}
		if !matched {
			continue
		}

		now := time.Now()
		r.TimesTriggered++
		r.LastTriggeredAt = &now
		if e.recorder != nil {
			if recErr := e.recorder.RecordTrigger(ctx, r, situation); recErr != nil {
				e.logger.Warn("record rule trigger failed",
					zap.String("rule", r.ID), zap.Error(recErr))
			}
		}
		e.logger.Info("rule fired",
			zap.String("rule", r.Name),
			zap.String("kind", string(r.Kind)),
			zap.Int("priority", r.Priority))

		fired = append(fired, Fired{Rule: r, Effect: EffectOf(r.Kind)})
	}
	return fired, nil
}

// FirstBlocking returns the highest-priority blocking firing, if any.
func FirstBlocking(fired []Fired) *Fired {
	for i := range fired {
		if fired[i].Effect == EffectBlock {
			return &fired[i]
		}
	}
	return nil
}

func (e *Engine) matches(ctx context.Context, r *Rule, situation map[string]any) (bool, error) {
	if r.Condition != nil {
		return r.Condition.Eval(situation)
	}
	if r.ConditionText != "" {
		return e.askModel(ctx, r.ConditionText, situation)
	}
	return false, nil
}

// askModel submits a natural-language condition to the model and demands
// a strict TRUE/FALSE. Anything else — including transport errors — is
// treated as FALSE, so a flaky model can never fire a rule spuriously.
func (e *Engine) askModel(ctx context.Context, condition string, situation map[string]any) (bool, error) {
	if e.asker == nil {
		return false, nil
	}
	sit, err := json.Marshal(situation)
	if err != nil {
		return false, nil
	}
	prompt := fmt.Sprintf(
		"Evaluate whether this condition holds for the situation.\n\nCondition: %s\n\nSituation:\n%s\n\nAnswer with exactly TRUE or FALSE and nothing else.",
		condition, string(sit))

	answer, err := e.asker.AskBool(ctx, prompt)
	if err != nil {
		e.logger.Warn("natural-language condition evaluation failed", zap.Error(err))
		return false, nil
	}
	return strings.EqualFold(strings.TrimSpace(answer), "TRUE"), nil
}

// AsPromptLines renders enabled rules as IF/THEN text for the decision
// engine's system prompt.
func AsPromptLines(all []*Rule) []string {
	var lines []string
	for _, r := range all {
		if !r.Enabled {
			continue
		}
		cond := r.ConditionText
		if cond == "" && r.Condition != nil {
			if data, err := json.Marshal(r.Condition); err == nil {
				cond = string(data)
			}
		}
		then := r.Action
		if then == "" {
			then = string(r.Kind)
		}
		lines = append(lines, fmt.Sprintf("- [%s, priority %d] IF %s THEN %s", r.Kind, r.Priority, cond, then))
	}
	return lines
}
