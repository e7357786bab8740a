package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/bionixus/leadpilot-sub000/internal/task"
)

// Memory is an in-process TaskQueue. It backs unit tests and the
// single-node dev profile; production uses the pgx-backed store, which
// provides the same claim guarantee across processes.
type Memory struct {
	mu    sync.Mutex
	tasks map[string]*task.Task
}

// NewMemory creates an empty in-memory queue.
func NewMemory() *Memory {
	return &Memory{tasks: make(map[string]*task.Task)}
}

func (q *Memory) Enqueue(_ context.Context, t *task.Task) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cp := *t
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	cp.Status = task.StatusPending
	cp.CreatedAt = time.Now()
	if cp.ScheduledFor.IsZero() {
		cp.ScheduledFor = cp.CreatedAt
	}
	if cp.MaxRetries == 0 {
		cp.MaxRetries = task.DefaultMaxRetries
	}
	q.tasks[cp.ID] = &cp
	return cp.ID, nil
}

func (q *Memory) ClaimNext(_ context.Context, orgID string) (*task.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var eligible []*task.Task
	for _, t := range q.tasks {
		if t.OrgID == orgID && t.Status == task.StatusPending && !t.ScheduledFor.After(now) {
			eligible = append(eligible, t)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})

	t := eligible[0]
	t.Status = task.StatusRunning
	started := now
	t.StartedAt = &started
	cp := *t
	return &cp, nil
}

func (q *Memory) MarkCompleted(_ context.Context, id string, output map[string]any) error {
	return q.transition(id, task.StatusCompleted, func(t *task.Task) {
		t.OutputData = output
		done := time.Now()
		t.CompletedAt = &done
		t.Error = ""
	})
}

func (q *Memory) MarkAwaitingApproval(_ context.Context, id, action string, data map[string]any) error {
	return q.transition(id, task.StatusAwaitingApproval, func(t *task.Task) {
		t.RequiresApproval = true
		t.PendingAction = action
		t.PendingData = data
	})
}

func (q *Memory) MarkFailed(_ context.Context, id string, errMsg string) error {
	return q.transition(id, task.StatusFailed, func(t *task.Task) {
		t.Error = errMsg
		done := time.Now()
		t.CompletedAt = &done
	})
}

func (q *Memory) Reschedule(_ context.Context, id string, at time.Time, errMsg string) error {
	return q.transition(id, task.StatusPending, func(t *task.Task) {
		t.RetryCount++
		t.ScheduledFor = at
		t.Error = errMsg
		t.StartedAt = nil
	})
}

func (q *Memory) Delay(_ context.Context, id string, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if t.Status != task.StatusPending && t.Status != task.StatusRunning {
		return ErrBadTransition
	}
	t.Status = task.StatusPending
	t.ScheduledFor = at
	t.StartedAt = nil
	return nil
}

func (q *Memory) Approve(_ context.Context, id, approver string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if t.Status != task.StatusAwaitingApproval {
		return ErrBadTransition
	}
	now := time.Now()
	t.Status = task.StatusPending
	t.ApprovedBy = approver
	t.ApprovedAt = &now
	t.ScheduledFor = now
	return nil
}

func (q *Memory) Reject(_ context.Context, id, approver, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if t.Status != task.StatusAwaitingApproval {
		return ErrBadTransition
	}
	t.Status = task.StatusCancelled
	t.ApprovedBy = approver
	t.RejectionReason = reason
	done := time.Now()
	t.CompletedAt = &done
	return nil
}

func (q *Memory) Cancel(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if !task.CanTransition(t.Status, task.StatusCancelled) {
		return ErrBadTransition
	}
	t.Status = task.StatusCancelled
	done := time.Now()
	t.CompletedAt = &done
	return nil
}

func (q *Memory) Get(_ context.Context, id string) (*task.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (q *Memory) List(_ context.Context, orgID string, status task.Status, limit int) ([]*task.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*task.Task
	for _, t := range q.tasks {
		if t.OrgID != orgID {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *Memory) CountRecent(_ context.Context, orgID string, tt task.Type, since time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, t := range q.tasks {
		if t.OrgID == orgID && t.Type == tt && t.Status != task.StatusCancelled && t.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (q *Memory) HasInFlight(_ context.Context, orgID, leadID string, tt task.Type) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, t := range q.tasks {
		if t.OrgID == orgID && t.LeadID == leadID && t.Type == tt && !t.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func (q *Memory) PurgeBefore(_ context.Context, cutoff time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for id, t := range q.tasks {
		if t.Status.Terminal() && t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			delete(q.tasks, id)
			n++
		}
	}
	return n, nil
}

// transition applies a guarded status change under the queue lock.
func (q *Memory) transition(id string, to task.Status, apply func(*task.Task)) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if !task.CanTransition(t.Status, to) {
		return ErrBadTransition
	}
	t.Status = to
	apply(t)
	return nil
}
