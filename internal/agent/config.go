package agent

import (
	"time"
)

// Status is the lifecycle state of an organization's agent.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	StatusError   Status = "error"
)

// Config holds one organization's agent settings. At most one Config
// exists per org; the orchestrator creates a default one lazily on first
// start. The orchestrator only ever mutates the Status field — everything
// else belongs to the settings surface.
type Config struct {
	ID      string `json:"id"`
	OrgID   string `json:"org_id"`
	Enabled bool   `json:"enabled"`
	Status  Status `json:"status"`

	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`

	Schedule   Schedule   `json:"schedule"`
	RateLimits RateLimits `json:"rate_limits"`
	Autonomy   Autonomy   `json:"autonomy"`

	// RequireApprovalFor lists action names that always need a human sign-off,
	// regardless of what the decision model says.
	RequireApprovalFor []string `json:"require_approval_for"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RateLimits caps outbound activity per org.
type RateLimits struct {
	MaxNewLeadsPerDay  int `json:"max_new_leads_per_day"`
	MaxMessagesPerDay  int `json:"max_messages_per_day"`
	MaxActionsPerHour  int `json:"max_actions_per_hour"`
}

// Autonomy controls which decisions the agent may act on without a human.
type Autonomy struct {
	AutoRespondPositive  bool `json:"auto_respond_positive"`
	AutoRespondQuestions bool `json:"auto_respond_questions"`
	AutoBookMeetings     bool `json:"auto_book_meetings"`
}

// NeedsApproval reports whether the named action is on the config's
// mandatory approval list.
func (c *Config) NeedsApproval(action string) bool {
	for _, a := range c.RequireApprovalFor {
		if a == action {
			return true
		}
	}
	return false
}

// DefaultConfig returns the config created on first orchestrator start
// for an org that has none.
func DefaultConfig(orgID string) *Config {
	now := time.Now()
	return &Config{
		OrgID:       orgID,
		Enabled:     false,
		Status:      StatusIdle,
		Model:       "gpt-4o-mini",
		Temperature: 0.4,
		Schedule: Schedule{
			Enabled:  true,
			Timezone: "UTC",
			Days:     []string{"monday", "tuesday", "wednesday", "thursday", "friday"},
			Start:    "09:00",
			End:      "17:00",
		},
		RateLimits: RateLimits{
			MaxNewLeadsPerDay: 50,
			MaxMessagesPerDay: 100,
			MaxActionsPerHour: 30,
		},
		RequireApprovalFor: []string{"send_email", "send_whatsapp", "send_sms", "book_meeting"},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}
