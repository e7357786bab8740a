package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/bionixus/leadpilot-sub000/internal/agent"
	"github.com/bionixus/leadpilot-sub000/internal/queue"
	"github.com/bionixus/leadpilot-sub000/internal/rules"
	"github.com/bionixus/leadpilot-sub000/internal/store"
	"github.com/bionixus/leadpilot-sub000/internal/task"
)

// AgentManager controls the per-org agent loops.
type AgentManager interface {
	StartAgent(ctx context.Context, orgID string) error
	StopAgent(ctx context.Context, orgID string) error
	Running(orgID string) bool
}

// ConfigStore reads and writes per-org agent settings.
type ConfigStore interface {
	GetConfig(ctx context.Context, orgID string) (*agent.Config, error)
	SaveConfig(ctx context.Context, c *agent.Config) error
}

// RuleStore is the rules CRUD surface.
type RuleStore interface {
	SaveRule(ctx context.Context, r *rules.Rule) error
	ListRules(ctx context.Context, orgID string) ([]*rules.Rule, error)
	DeleteRule(ctx context.Context, id string) error
}

// LogStore reads the audit trail.
type LogStore interface {
	ListLogs(ctx context.Context, orgID, taskID string, limit int) ([]*task.LogEntry, error)
}

// ProviderStore manages per-org LLM credentials.
type ProviderStore interface {
	SaveProvider(ctx context.Context, p *store.ProviderRow) error
	ListProviders(ctx context.Context, orgID string) ([]*store.ProviderRow, error)
	DeleteProvider(ctx context.Context, id string) error
	SetDefaultProvider(ctx context.Context, orgID, id string) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	queue     queue.TaskQueue
	manager   AgentManager
	configs   ConfigStore
	rules     RuleStore
	logs      LogStore
	providers ProviderStore
	logger    *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(
	q queue.TaskQueue,
	manager AgentManager,
	configs ConfigStore,
	ruleStore RuleStore,
	logs LogStore,
	providers ProviderStore,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		queue:     q,
		manager:   manager,
		configs:   configs,
		rules:     ruleStore,
		logs:      logs,
		providers: providers,
		logger:    logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Route("/orgs/{orgID}", func(r chi.Router) {
			r.Get("/agent", h.getAgent)
			r.Put("/agent/config", h.updateConfig)
			r.Post("/agent/start", h.startAgent)
			r.Post("/agent/stop", h.stopAgent)

			r.Get("/tasks", h.listTasks)
			r.Post("/tasks", h.enqueueTask)
			r.Get("/tasks/{taskID}", h.getTask)
			r.Post("/tasks/{taskID}/approve", h.approveTask)
			r.Post("/tasks/{taskID}/reject", h.rejectTask)
			r.Post("/tasks/{taskID}/cancel", h.cancelTask)

			r.Get("/rules", h.listRules)
			r.Post("/rules", h.saveRule)
			r.Delete("/rules/{ruleID}", h.deleteRule)

			r.Get("/logs", h.listLogs)

			r.Get("/providers", h.listProviders)
			r.Post("/providers", h.addProvider)
			r.Delete("/providers/{providerID}", h.deleteProvider)
			r.Post("/providers/{providerID}/default", h.setDefaultProvider)
		})
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	cfg, err := h.configs.GetConfig(r.Context(), orgID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if cfg == nil {
		cfg = agent.DefaultConfig(orgID)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"config":  cfg,
		"running": h.manager.Running(orgID),
	})
}

func (h *Handler) updateConfig(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	var cfg agent.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	cfg.OrgID = orgID

	// Preserve lifecycle fields the settings surface does not own.
	existing, err := h.configs.GetConfig(r.Context(), orgID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if existing != nil {
		cfg.ID = existing.ID
		cfg.Enabled = existing.Enabled
		cfg.Status = existing.Status
	}

	if err := h.configs.SaveConfig(r.Context(), &cfg); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *Handler) startAgent(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	if err := h.manager.StartAgent(r.Context(), orgID); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

func (h *Handler) stopAgent(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	if err := h.manager.StopAgent(r.Context(), orgID); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "idle"})
}

func (h *Handler) listTasks(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	status := task.Status(r.URL.Query().Get("status"))
	tasks, err := h.queue.List(r.Context(), orgID, status, 100)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

type enqueueRequest struct {
	Type       task.Type       `json:"type"`
	Priority   int             `json:"priority"`
	LeadID     string          `json:"lead_id,omitempty"`
	CampaignID string          `json:"campaign_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`

	// RequiresApproval overrides the org default (membership of the
	// task type in the config's approval set) when set.
	RequiresApproval *bool `json:"requires_approval,omitempty"`
}

func (h *Handler) enqueueTask(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if !req.Type.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown task type"})
		return
	}
	payload, err := task.DecodePayload(req.Type, req.Payload)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	needsApproval, err := h.approvalDefault(r.Context(), orgID, req)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	t := &task.Task{
		OrgID:            orgID,
		Type:             req.Type,
		Priority:         req.Priority,
		LeadID:           req.LeadID,
		CampaignID:       req.CampaignID,
		Payload:          payload,
		RequiresApproval: needsApproval,
	}
	id, err := h.queue.Enqueue(r.Context(), t)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// approvalDefault resolves a new task's approval requirement: the
// caller's explicit flag wins, otherwise membership of the task type
// in the org's approval set decides.
func (h *Handler) approvalDefault(ctx context.Context, orgID string, req enqueueRequest) (bool, error) {
	if req.RequiresApproval != nil {
		return *req.RequiresApproval, nil
	}
	cfg, err := h.configs.GetConfig(ctx, orgID)
	if err != nil {
		return false, err
	}
	if cfg == nil {
		cfg = agent.DefaultConfig(orgID)
	}
	return cfg.NeedsApproval(string(req.Type)), nil
}

func (h *Handler) getTask(w http.ResponseWriter, r *http.Request) {
	t, ok := h.loadOrgTask(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type approvalRequest struct {
	Approver string `json:"approver"`
	Reason   string `json:"reason,omitempty"`
}

func (h *Handler) approveTask(w http.ResponseWriter, r *http.Request) {
	t, ok := h.loadOrgTask(w, r)
	if !ok {
		return
	}
	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Approver == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "approver is required"})
		return
	}
	if err := h.queue.Approve(r.Context(), t.ID, req.Approver); err != nil {
		writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

func (h *Handler) rejectTask(w http.ResponseWriter, r *http.Request) {
	t, ok := h.loadOrgTask(w, r)
	if !ok {
		return
	}
	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Approver == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "approver is required"})
		return
	}
	if err := h.queue.Reject(r.Context(), t.ID, req.Approver, req.Reason); err != nil {
		writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

func (h *Handler) cancelTask(w http.ResponseWriter, r *http.Request) {
	t, ok := h.loadOrgTask(w, r)
	if !ok {
		return
	}
	if err := h.queue.Cancel(r.Context(), t.ID); err != nil {
		writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// loadOrgTask fetches the task and enforces that it belongs to the org
// in the URL, so one org can never act on another's tasks.
func (h *Handler) loadOrgTask(w http.ResponseWriter, r *http.Request) (*task.Task, bool) {
	orgID := chi.URLParam(r, "orgID")
	taskID := chi.URLParam(r, "taskID")
	t, err := h.queue.Get(r.Context(), taskID)
	if err != nil {
		writeQueueError(w, err)
		return nil, false
	}
	if t.OrgID != orgID {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return nil, false
	}
	return t, true
}

func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	list, err := h.rules.ListRules(r.Context(), orgID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if list == nil {
		list = []*rules.Rule{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) saveRule(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	var rule rules.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if rule.Name == "" || rule.Kind == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name and kind are required"})
		return
	}
	rule.OrgID = orgID
	if err := h.rules.SaveRule(r.Context(), &rule); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (h *Handler) deleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "ruleID")
	if err := h.rules.DeleteRule(r.Context(), id); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) listLogs(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	taskID := r.URL.Query().Get("task_id")
	entries, err := h.logs.ListLogs(r.Context(), orgID, taskID, 100)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []*task.LogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) listProviders(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	list, err := h.providers.ListProviders(r.Context(), orgID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	// Keys never leave the process.
	out := make([]*store.ProviderRow, 0, len(list))
	for _, p := range list {
		cp := *p
		cp.APIKey = ""
		out = append(out, &cp)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) addProvider(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	var p store.ProviderRow
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if p.Name == "" || p.Type == "" || p.APIKey == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name, type and api_key are required"})
		return
	}
	p.OrgID = orgID
	if err := h.providers.SaveProvider(r.Context(), &p); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	p.APIKey = ""
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) deleteProvider(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "providerID")
	if err := h.providers.DeleteProvider(r.Context(), id); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) setDefaultProvider(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	id := chi.URLParam(r, "providerID")
	if err := h.providers.SetDefaultProvider(r.Context(), orgID, id); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "default set"})
}

// writeQueueError maps queue sentinels onto HTTP statuses.
func writeQueueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, queue.ErrBadTransition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
