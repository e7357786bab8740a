package brain

import (
	"github.com/bionixus/leadpilot-sub000/internal/task"
	"github.com/bionixus/leadpilot-sub000/internal/tool"
)

// controlActions are legal for every task type.
var controlActions = []string{tool.ActionSkip, tool.ActionEscalate, tool.ActionDelay}

// legalActions maps each task type to the closed set of actions a
// decision may choose for it. The control actions are appended to every
// entry by LegalActions; the table lists only the type-specific ones.
var legalActions = map[task.Type][]string{
	task.TypeFindLeads:        {"generate_content", "save_lead_note"},
	task.TypeEnrichLead:       {"update_lead_status", "save_lead_note", "generate_content"},
	task.TypeGenerateSequence: {"generate_content", "save_lead_note"},
	task.TypeSendMessage:      {"send_email", "send_whatsapp", "send_sms"},
	task.TypeCheckInbox:       {"update_lead_status", "save_lead_note"},
	task.TypeClassifyReply:    {"update_lead_status", "save_lead_note"},
	task.TypeRespondToReply:   {"send_email", "send_whatsapp", "send_sms", "generate_content"},
	task.TypeBookMeeting:      {"book_meeting", "send_email"},
	task.TypeFollowUp:         {"send_email", "send_whatsapp", "send_sms", "generate_content"},
	task.TypeReport:           {"generate_content", "save_lead_note"},
}

// LegalActions returns the closed action list for a task type. Every
// type gets at least the universal control actions, so the decision
// engine always has a safe way out.
func LegalActions(t task.Type) []string {
	specific := legalActions[t]
	out := make([]string, 0, len(specific)+len(controlActions))
	out = append(out, specific...)
	out = append(out, controlActions...)
	return out
}

// IsLegal reports whether the action is permitted for the task type.
func IsLegal(t task.Type, action string) bool {
	for _, a := range LegalActions(t) {
		if a == action {
			return true
		}
	}
	return false
}
