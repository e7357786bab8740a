package rules

import "time"

// Kind categorizes what a rule is for. Only filter rules block execution;
// the rest are advisory and exist for audit and decision context.
type Kind string

const (
	KindFilter     Kind = "filter"
	KindAction     Kind = "action"
	KindConstraint Kind = "constraint"
	KindTemplate   Kind = "template"
	KindSchedule   Kind = "schedule"
	KindEscalation Kind = "escalation"
)

// Effect is what a fired rule demands of the caller.
type Effect string

const (
	// EffectBlock aborts execution with a rule-violation error.
	EffectBlock Effect = "block"
	// EffectCount is recorded but does not alter execution.
	EffectCount Effect = "count"
	// EffectInform is surfaced as decision context only.
	EffectInform Effect = "inform"
)

// EffectOf maps a rule kind to its typed effect, so callers never branch
// on rule kind themselves.
func EffectOf(k Kind) Effect {
	switch k {
	case KindFilter:
		return EffectBlock
	case KindConstraint, KindEscalation:
		return EffectCount
	default:
		return EffectInform
	}
}

// Rule is a named, prioritized condition→action pair owned by an org.
// Condition holds the structured form; when nil, ConditionText carries a
// natural-language condition evaluated by the language model.
type Rule struct {
	ID          string `json:"id"`
	OrgID       string `json:"org_id"`
	AgentID     string `json:"agent_id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Kind        Kind   `json:"kind"`

	Condition     *Condition `json:"condition,omitempty"`
	ConditionText string     `json:"condition_text,omitempty"`

	Action   string `json:"action,omitempty"`
	Priority int    `json:"priority"`
	Enabled  bool   `json:"enabled"`

	TimesTriggered  int        `json:"times_triggered"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Operator is a structured condition comparator.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpExists      Operator = "exists"
	OpNotExists   Operator = "not_exists"
	OpAnd         Operator = "and"
	OpOr          Operator = "or"
)

// Condition is a boolean tree evaluated against a situation. Leaf nodes
// compare a dotted-path field to a literal; and/or recurse over Children.
type Condition struct {
	Field    string       `json:"field,omitempty"`
	Operator Operator     `json:"operator"`
	Value    any          `json:"value,omitempty"`
	Children []*Condition `json:"children,omitempty"`
}

// Fired pairs a rule that matched with its typed effect.
type Fired struct {
	Rule   *Rule  `json:"rule"`
	Effect Effect `json:"effect"`
}
