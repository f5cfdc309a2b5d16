// Package executor runs translated skill commands as ordered shell
// steps with per-step timeouts, halt-on-failure, and a single rollback
// attempt, recording every outcome in the audit store.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kokoro-agent/kokoro/pkg/errors"
)

// StepStatus is the lifecycle state of one step.
type StepStatus string

const (
	StatusPending    StepStatus = "pending"
	StatusRunning    StepStatus = "running"
	StatusSucceeded  StepStatus = "succeeded"
	StatusFailed     StepStatus = "failed"
	StatusSkipped    StepStatus = "skipped"
	StatusRolledBack StepStatus = "rolled_back"
)

// Plan is an ordered list of shell commands with an optional rollback
// command to run once if any step fails.
type Plan struct {
	ID       string
	Skill    string
	Commands []string
	Rollback string
}

// NewPlan builds a plan with a fresh identifier.
func NewPlan(skill string, commands []string, rollback string) Plan {
	return Plan{
		ID:       uuid.NewString(),
		Skill:    skill,
		Commands: commands,
		Rollback: rollback,
	}
}

// StepResult is the outcome of one executed command.
type StepResult struct {
	Index      int
	Command    string
	Status     StepStatus
	Output     string
	Err        string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Result is the outcome of a whole plan. Err is set when any step
// failed; Rollback is non-nil when a rollback command ran.
type Result struct {
	PlanID   string
	Skill    string
	Steps    []StepResult
	Rollback *StepResult
	Err      error
}

// Executor runs plans. The zero value is not usable; call New.
type Executor struct {
	stepTimeout time.Duration
	outputLimit int
	audit       AuditStore
	logger      *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithStepTimeout bounds the wall time of each step.
func WithStepTimeout(d time.Duration) Option {
	return func(e *Executor) { e.stepTimeout = d }
}

// WithOutputLimit caps the captured bytes of each step's output.
func WithOutputLimit(n int) Option {
	return func(e *Executor) { e.outputLimit = n }
}

// WithAuditStore records every step outcome in the given store.
func WithAuditStore(store AuditStore) Option {
	return func(e *Executor) { e.audit = store }
}

// WithLogger sets the executor's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// New creates an executor.
func New(opts ...Option) *Executor {
	e := &Executor{
		stepTimeout: 2 * time.Minute,
		outputLimit: 16384,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes the plan's commands in order. Execution halts at the
// first failure; remaining steps are marked skipped and the rollback
// command, if any, runs exactly once. Cancellation is honored at step
// boundaries, never mid-command, and a cancelled run with completed
// steps still attempts rollback. Run never returns an error for a
// failed command; the failure lives in the Result.
func (e *Executor) Run(ctx context.Context, plan Plan) Result {
	result := Result{PlanID: plan.ID, Skill: plan.Skill}
	for i, cmd := range plan.Commands {
		result.Steps = append(result.Steps, StepResult{Index: i, Command: cmd, Status: StatusPending})
	}

	failedAt := -1
	for i := range result.Steps {
		if err := ctx.Err(); err != nil {
			result.Err = errors.Wrap(errors.CodeActionFailed, "plan cancelled before step", err)
			e.markSkipped(ctx, plan, result.Steps[i:])
			failedAt = i
			break
		}

		step := &result.Steps[i]
		e.runStep(ctx, plan, step)
		e.record(ctx, plan, *step)
		if step.Status != StatusSucceeded {
			result.Err = errors.New(errors.CodeActionFailed,
				fmt.Sprintf("step %d of %d failed: %s", i+1, len(plan.Commands), step.Err))
			e.markSkipped(ctx, plan, result.Steps[i+1:])
			failedAt = i
			break
		}
	}

	if failedAt >= 0 && plan.Rollback != "" {
		rollback := &StepResult{Index: -1, Command: plan.Rollback, Status: StatusPending}
		// Rollback runs against a fresh context so a cancelled plan
		// still gets unwound.
		rollbackCtx := context.WithoutCancel(ctx)
		e.runStep(rollbackCtx, plan, rollback)
		if rollback.Status == StatusSucceeded {
			rollback.Status = StatusRolledBack
		}
		e.record(rollbackCtx, plan, *rollback)
		result.Rollback = rollback
	}
	return result
}

func (e *Executor) runStep(ctx context.Context, plan Plan, step *StepResult) {
	step.Status = StatusRunning
	step.StartedAt = time.Now().UTC()

	// A started step is never killed by request cancellation; only its
	// own timeout bounds it. Cancellation is observed at step
	// boundaries in Run.
	stepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.stepTimeout)
	defer cancel()

	cmd := exec.CommandContext(stepCtx, "sh", "-c", step.Command)
	out, err := cmd.CombinedOutput()
	step.FinishedAt = time.Now().UTC()
	step.Output = e.clampOutput(out)

	switch {
	case stepCtx.Err() == context.DeadlineExceeded:
		step.Status = StatusFailed
		step.Err = fmt.Sprintf("timed out after %s", e.stepTimeout)
	case err != nil:
		step.Status = StatusFailed
		step.Err = err.Error()
	default:
		step.Status = StatusSucceeded
	}

	e.logger.Info("step finished",
		slog.String("plan_id", plan.ID),
		slog.String("skill", plan.Skill),
		slog.Int("step", step.Index),
		slog.String("status", string(step.Status)),
		slog.Duration("took", step.FinishedAt.Sub(step.StartedAt)))
}

func (e *Executor) markSkipped(ctx context.Context, plan Plan, steps []StepResult) {
	for i := range steps {
		if steps[i].Status != StatusPending {
			continue
		}
		steps[i].Status = StatusSkipped
		e.record(ctx, plan, steps[i])
	}
}

func (e *Executor) clampOutput(out []byte) string {
	s := strings.ToValidUTF8(string(out), "")
	if e.outputLimit > 0 && len(s) > e.outputLimit {
		s = s[:e.outputLimit] + "\n[output truncated]"
	}
	return s
}

func (e *Executor) record(ctx context.Context, plan Plan, step StepResult) {
	if e.audit == nil {
		return
	}
	event := AuditEvent{
		PlanID:     plan.ID,
		Skill:      plan.Skill,
		StepIndex:  step.Index,
		Command:    step.Command,
		Status:     string(step.Status),
		Output:     step.Output,
		Error:      step.Err,
		StartedAt:  step.StartedAt,
		FinishedAt: step.FinishedAt,
	}
	if err := e.audit.Record(context.WithoutCancel(ctx), event); err != nil {
		e.logger.Error("audit record failed", slog.String("plan_id", plan.ID), slog.Any("error", err))
	}
}
