package workflow

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"inkwell/pkg/logger"
	"inkwell/pkg/store"
	"inkwell/pkg/telemetry"
)

const runPrefix = "workflow:run:"

// Run statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ErrSkip signals that a step's preconditions make it a no-op. The run
// proceeds to the next step without retrying.
var ErrSkip = errors.New("step skipped")

// ErrRunNotFound is returned when a run record does not exist.
var ErrRunNotFound = errors.New("workflow run not found")

// TerminalError marks a step failure that must not be retried. The run
// fails immediately; completed steps keep their effects.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string { return e.Err.Error() }
func (e *TerminalError) Unwrap() error { return e.Err }

// Terminal wraps err so the runner treats it as non-retryable.
func Terminal(err error) error { return &TerminalError{Err: err} }

// RetryPolicy controls per-step attempt counts and backoff growth.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	Multiplier     float64
	MaxBackoff     time.Duration
}

// Backoff returns the delay before the given attempt (1-based). The
// first attempt has no delay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	mult := p.Multiplier
	if mult <= 1 {
		mult = 2
	}
	d := float64(p.InitialBackoff) * math.Pow(mult, float64(attempt-2))
	if p.MaxBackoff > 0 && d > float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	return time.Duration(d)
}

// Step is a named unit of work within a workflow. Steps run in order;
// each commits its own effects, so a later failure never rolls an
// earlier step back.
type Step struct {
	Name string
	Run  func(ctx context.Context, run *Run) error
}

// Run is the durable record of one workflow execution.
type Run struct {
	ID        string            `json:"id"`
	Workflow  string            `json:"workflow"`
	Payload   json.RawMessage   `json:"payload"`
	Status    string            `json:"status"`
	Step      string            `json:"step,omitempty"`
	Attempts  map[string]int    `json:"attempts,omitempty"`
	StepNotes map[string]string `json:"stepNotes,omitempty"`
	Error     string            `json:"error,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// Runner owns the queue, the registered workflows and the durable run
// records. One Runner serves all workflow kinds.
type Runner struct {
	kv     store.KV
	queue  *Queue
	policy RetryPolicy

	mu        sync.RWMutex
	workflows map[string][]Step

	sleep func(ctx context.Context, d time.Duration) error
}

// NewRunner builds a Runner over the given KV store and queue capacity.
func NewRunner(kv store.KV, queueCapacity int, policy RetryPolicy) *Runner {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = 5 * time.Second
	}
	if policy.Multiplier <= 1 {
		policy.Multiplier = 2
	}
	return &Runner{
		kv:        kv,
		queue:     NewQueue(queueCapacity),
		policy:    policy,
		workflows: make(map[string][]Step),
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Register installs the ordered steps for a workflow name. Must be
// called before Start.
func (r *Runner) Register(name string, steps []Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflows[name] = steps
}

// Enqueue creates a durable run record and hands it to the queue.
// Returns the run ID.
func (r *Runner) Enqueue(ctx context.Context, workflow string, payload any) (string, error) {
	r.mu.RLock()
	_, ok := r.workflows[workflow]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown workflow %q", workflow)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	now := time.Now().UTC()
	run := &Run{
		ID:        ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		Workflow:  workflow,
		Payload:   raw,
		Status:    StatusPending,
		Attempts:  make(map[string]int),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.saveRun(run); err != nil {
		return "", err
	}
	if err := r.queue.TryEnqueue(&Job{RunID: run.ID, Workflow: workflow, Payload: raw}); err != nil {
		run.Status = StatusFailed
		run.Error = err.Error()
		run.UpdatedAt = time.Now().UTC()
		_ = r.saveRun(run)
		return run.ID, err
	}
	logger.Info("workflow_enqueued", "run", run.ID, "workflow", workflow)
	return run.ID, nil
}

// Start launches n worker goroutines consuming the queue until ctx is
// cancelled. Returns a wait function that blocks until workers exit.
func (r *Runner) Start(ctx context.Context, n int) func() {
	if n <= 0 {
		n = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.queue.RunWorker(ctx.Done(), func(job *Job) error {
				return r.execute(ctx, job.RunID)
			})
		}()
	}
	return wg.Wait
}

// Stop closes the queue and drains any pending items.
func (r *Runner) Stop() { r.queue.CloseAndDrain() }

// Queue exposes the underlying queue for health reporting.
func (r *Runner) Queue() *Queue { return r.queue }

// execute loads the run record and drives its steps to completion.
func (r *Runner) execute(ctx context.Context, runID string) error {
	run, err := r.GetRun(runID)
	if err != nil {
		logger.Error("workflow_run_load_failed", "run", runID, "error", err.Error())
		return err
	}
	r.mu.RLock()
	steps := r.workflows[run.Workflow]
	r.mu.RUnlock()

	run.Status = StatusRunning
	run.UpdatedAt = time.Now().UTC()
	_ = r.saveRun(run)

	for _, step := range steps {
		if err := r.runStep(ctx, run, step); err != nil {
			run.Status = StatusFailed
			run.Step = step.Name
			run.Error = err.Error()
			run.UpdatedAt = time.Now().UTC()
			_ = r.saveRun(run)
			logger.Error("workflow_run_failed", "run", run.ID, "workflow", run.Workflow, "step", step.Name, "error", err.Error())
			return err
		}
	}
	run.Status = StatusCompleted
	run.Step = ""
	run.Error = ""
	run.UpdatedAt = time.Now().UTC()
	if err := r.saveRun(run); err != nil {
		return err
	}
	logger.Info("workflow_run_completed", "run", run.ID, "workflow", run.Workflow)
	return nil
}

// runStep retries a single step per the runner policy. ErrSkip counts
// as success; TerminalError aborts without further attempts.
func (r *Runner) runStep(ctx context.Context, run *Run, step Step) error {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if err := r.sleep(ctx, r.policy.Backoff(attempt)); err != nil {
			return err
		}
		run.Step = step.Name
		run.Attempts[step.Name] = attempt
		run.UpdatedAt = time.Now().UTC()
		_ = r.saveRun(run)

		err := step.Run(ctx, run)
		if err == nil {
			telemetry.WorkflowStepAttempts.WithLabelValues(step.Name, "ok").Inc()
			return nil
		}
		if errors.Is(err, ErrSkip) {
			telemetry.WorkflowStepAttempts.WithLabelValues(step.Name, "skipped").Inc()
			run.noteStep(step.Name, strings.TrimPrefix(err.Error(), ErrSkip.Error()+": "))
			logger.Info("workflow_step_skipped", "run", run.ID, "step", step.Name, "reason", err.Error())
			return nil
		}
		var term *TerminalError
		if errors.As(err, &term) {
			telemetry.WorkflowStepAttempts.WithLabelValues(step.Name, "terminal").Inc()
			return term.Err
		}
		telemetry.WorkflowStepAttempts.WithLabelValues(step.Name, "retry").Inc()
		logger.Warn("workflow_step_retry", "run", run.ID, "step", step.Name, "attempt", attempt, "error", err.Error())
		lastErr = err
	}
	return fmt.Errorf("step %s exhausted %d attempts: %w", step.Name, r.policy.MaxAttempts, lastErr)
}

func (run *Run) noteStep(step, note string) {
	if run.StepNotes == nil {
		run.StepNotes = make(map[string]string)
	}
	run.StepNotes[step] = note
}

func (r *Runner) saveRun(run *Run) error {
	raw, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}
	if err := r.kv.Put(runPrefix+run.ID, raw); err != nil {
		return fmt.Errorf("persist run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun loads a run record by ID.
func (r *Runner) GetRun(id string) (*Run, error) {
	raw, err := r.kv.Get(runPrefix + id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	var run Run
	if err := json.Unmarshal(raw, &run); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}
	if run.Attempts == nil {
		run.Attempts = make(map[string]int)
	}
	return &run, nil
}

// DeleteRunsBefore removes completed and failed run records last
// updated before cutoff. Returns the number deleted.
func (r *Runner) DeleteRunsBefore(cutoff time.Time) (int, error) {
	var stale []string
	err := r.kv.ScanPrefix(runPrefix, func(key string, raw []byte) error {
		var run Run
		if err := json.Unmarshal(raw, &run); err != nil {
			return nil
		}
		if run.Status != StatusCompleted && run.Status != StatusFailed {
			return nil
		}
		if run.UpdatedAt.Before(cutoff) {
			stale = append(stale, key)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, key := range stale {
		if err := r.kv.Delete(key); err != nil {
			logger.Warn("workflow_run_delete_failed", "key", key, "error", err.Error())
			continue
		}
		deleted++
	}
	return deleted, nil
}
