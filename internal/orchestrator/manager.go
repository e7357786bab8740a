package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bionixus/leadpilot-sub000/internal/agent"
)

// Manager owns one run loop per enabled org. Starting an agent flips
// its config on and spawns the loop; stopping cancels the loop and
// parks the agent idle. All state changes go through the config store
// so a restart resumes exactly the agents that were running.
type Manager struct {
	orch   *Orchestrator
	logger *zap.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager creates a manager over the orchestrator.
func NewManager(orch *Orchestrator, logger *zap.Logger) *Manager {
	return &Manager{
		orch:    orch,
		logger:  logger,
		running: make(map[string]context.CancelFunc),
	}
}

// Resume starts loops for every org whose config is enabled. Called
// once at boot.
func (m *Manager) Resume(ctx context.Context) error {
	orgs, err := m.orch.configs.ListEnabledOrgs(ctx)
	if err != nil {
		return fmt.Errorf("resume agents: %w", err)
	}
	for _, org := range orgs {
		if err := m.StartAgent(ctx, org); err != nil {
			m.logger.Error("resume agent failed", zap.String("org_id", org), zap.Error(err))
		}
	}
	return nil
}

// StartAgent enables the org's agent and spawns its loop. An org
// without a config gets the default one. Idempotent while running.
func (m *Manager) StartAgent(ctx context.Context, orgID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, up := m.running[orgID]; up {
		return nil
	}

	cfg, err := m.orch.configs.GetConfig(ctx, orgID)
	if err != nil {
		return fmt.Errorf("start agent %s: %w", orgID, err)
	}
	if cfg == nil {
		cfg = agent.DefaultConfig(orgID)
	}
	cfg.Enabled = true
	cfg.Status = agent.StatusRunning
	if err := m.orch.configs.SaveConfig(ctx, cfg); err != nil {
		return fmt.Errorf("start agent %s: %w", orgID, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	m.running[orgID] = cancel
	m.wg.Add(1)
	go m.runLoop(loopCtx, orgID)

	m.logger.Info("agent started", zap.String("org_id", orgID))
	return nil
}

// StopAgent cancels the org's loop and disables its config.
func (m *Manager) StopAgent(ctx context.Context, orgID string) error {
	m.mu.Lock()
	cancel, up := m.running[orgID]
	if up {
		delete(m.running, orgID)
	}
	m.mu.Unlock()

	if up {
		cancel()
	}

	cfg, err := m.orch.configs.GetConfig(ctx, orgID)
	if err != nil {
		return fmt.Errorf("stop agent %s: %w", orgID, err)
	}
	if cfg == nil {
		return nil
	}
	cfg.Enabled = false
	cfg.Status = agent.StatusIdle
	if err := m.orch.configs.SaveConfig(ctx, cfg); err != nil {
		return fmt.Errorf("stop agent %s: %w", orgID, err)
	}

	m.logger.Info("agent stopped", zap.String("org_id", orgID))
	return nil
}

// Running reports whether the org's loop is up.
func (m *Manager) Running(orgID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, up := m.running[orgID]
	return up
}

// Shutdown cancels all loops and waits for them to drain.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	for org, cancel := range m.running {
		cancel()
		delete(m.running, org)
	}
	m.mu.Unlock()
	m.wg.Wait()
	m.logger.Info("all agents stopped")
}

// runLoop is one org's heartbeat: reload config, honor the working
// window, discover work, then drain the queue a few tasks at a time.
func (m *Manager) runLoop(ctx context.Context, orgID string) {
	defer m.wg.Done()
	log := m.logger.With(zap.String("org_id", orgID))

	ticker := time.NewTicker(m.orch.pollInterval)
	defer ticker.Stop()

	lastDiscover := time.Time{}
	lastHousekeep := time.Time{}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cfg, err := m.orch.configs.GetConfig(ctx, orgID)
		if err != nil {
			log.Error("load config failed", zap.Error(err))
			continue
		}
		if cfg == nil || !cfg.Enabled {
			log.Info("config disabled, loop exiting")
			m.mu.Lock()
			delete(m.running, orgID)
			m.mu.Unlock()
			return
		}

		// Outside the working window nothing is claimed or enqueued;
		// pending tasks simply wait for the window to open.
		if !cfg.Schedule.Contains(time.Now()) {
			continue
		}

		if time.Since(lastDiscover) >= m.orch.inboxEvery {
			m.orch.Discover(ctx, cfg)
			lastDiscover = time.Now()
		}
		if time.Since(lastHousekeep) >= time.Hour {
			m.orch.Housekeep(ctx, cfg.OrgID)
			lastHousekeep = time.Now()
		}

		for i := 0; i < 10; i++ {
			// Between tasks only; an in-flight task always finishes
			// (RunOnce detaches its context before processing).
			if ctx.Err() != nil {
				return
			}
			processed, err := m.orch.RunOnce(ctx, cfg)
			if err != nil {
				log.Error("run once failed", zap.Error(err))
				break
			}
			if !processed {
				break
			}
		}
	}
}
