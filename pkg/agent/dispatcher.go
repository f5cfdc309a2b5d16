// Package agent ties memory, skills, the model gateway, and the
// executor together behind a single dispatch loop. Every request holds
// the memory lease for its full lifetime, and every request produces a
// text response.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/kokoro-agent/kokoro/pkg/errors"
	"github.com/kokoro-agent/kokoro/pkg/executor"
	"github.com/kokoro-agent/kokoro/pkg/llm"
	"github.com/kokoro-agent/kokoro/pkg/memory"
	"github.com/kokoro-agent/kokoro/pkg/prompt"
	"github.com/kokoro-agent/kokoro/pkg/skills"
)

// ConsolidateInstruction is the reserved message text that triggers
// log consolidation instead of a model exchange. It is matched
// verbatim so ordinary conversation can never trip it by accident.
const ConsolidateInstruction = "consolidate-daily-logs"

// ActionOutcome is the externally visible result of one model action.
type ActionOutcome struct {
	Skill   string `json:"skill,omitempty"`
	Command string `json:"command,omitempty"`
	Status  string `json:"status"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Response is what the dispatcher returns for a handled message. Text
// is always non-empty.
type Response struct {
	Text    string          `json:"text"`
	Actions []ActionOutcome `json:"actions,omitempty"`
}

// Dispatcher serializes message handling over the shared memory store.
type Dispatcher struct {
	store     *memory.Store
	lease     *memory.Lease
	library   *skills.Library
	assembler *prompt.Assembler
	gateway   *llm.Gateway
	executor  *executor.Executor
	logger    *slog.Logger
	tracer    trace.Tracer
	messages  metric.Int64Counter
	actions   metric.Int64Counter
	now       func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// New wires a dispatcher over its collaborators.
func New(store *memory.Store, lease *memory.Lease, library *skills.Library, assembler *prompt.Assembler, gateway *llm.Gateway, exec *executor.Executor, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:     store,
		lease:     lease,
		library:   library,
		assembler: assembler,
		gateway:   gateway,
		executor:  exec,
		logger:    slog.Default(),
		tracer:    otel.Tracer("kokoro/agent"),
		now:       time.Now,
	}
	meter := otel.Meter("kokoro/agent")
	d.messages, _ = meter.Int64Counter("kokoro.messages",
		metric.WithDescription("Messages handled, by outcome."))
	d.actions, _ = meter.Int64Counter("kokoro.actions",
		metric.WithDescription("Actions executed, by status."))
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle processes one user message end to end: assemble context, call
// the model, record the exchange, run whatever actions the model
// requested, and record their outcomes. The exclusive memory lease is
// held for the whole span and released on every path out.
func (d *Dispatcher) Handle(ctx context.Context, text string) (_ Response, err error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Response{}, errors.New(errors.CodeInvalidInput, "message text is empty")
	}
	if text == ConsolidateInstruction {
		return d.Consolidate(ctx)
	}

	ctx, span := d.tracer.Start(ctx, "Agent.Handle",
		trace.WithAttributes(attribute.Int("message.bytes", len(text))))
	defer span.End()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(errors.CodeOf(err))
		}
		d.messages.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}()

	release, err := d.lease.AcquireExclusive(ctx)
	if err != nil {
		return Response{}, err
	}
	defer release()

	now := d.now().UTC()
	today := now.Format("2006-01-02")

	built, err := d.assembler.Build(text, now)
	if err != nil {
		return Response{}, err
	}
	if built.Truncated {
		d.logger.Warn("core memory truncated to fit context budget")
	}

	result, err := d.gateway.Complete(ctx, built.System, text)
	if err != nil {
		return Response{}, err
	}
	if result.ParseErr != nil {
		d.logger.Warn("model response failed to parse, degrading to plain text",
			slog.Any("error", result.ParseErr))
	}

	if _, err := d.store.AppendLog(today, "user: "+text); err != nil {
		return Response{}, err
	}
	reply := strings.TrimSpace(result.Reply)
	if reply == "" {
		reply = "I have nothing to say to that."
	}
	if _, err := d.store.AppendLog(today, "kokoro: "+reply); err != nil {
		return Response{}, err
	}

	outcomes := d.runActions(ctx, today, result.Payload)
	return Response{Text: reply, Actions: outcomes}, nil
}

// runActions executes the model's actions in order, halting at the
// first failure. Every entry in the returned slice is one command (or
// one unrunnable action), so a skill whose plan fails midway reports
// each step's status individually, including the rollback. Each
// outcome is appended to today's log whether it succeeded or not.
func (d *Dispatcher) runActions(ctx context.Context, today string, payload llm.Payload) []ActionOutcome {
	var outcomes []ActionOutcome
	halted := false
	for _, action := range payload.Actions {
		if halted {
			outcomes = append(outcomes, ActionOutcome{
				Skill:   action.Skill,
				Command: action.Command,
				Status:  string(executor.StatusSkipped),
			})
			continue
		}
		var results []ActionOutcome
		var failed bool
		if action.Skill != "" {
			results, failed = d.runSkill(ctx, action.Skill, payload.Rollback)
		} else {
			results, failed = d.runCommand(ctx, action.Command, payload.Rollback)
		}
		for _, outcome := range results {
			outcomes = append(outcomes, outcome)
			d.actions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", outcome.Status)))
			d.logOutcome(today, outcome)
		}
		if failed {
			halted = true
		}
	}
	return outcomes
}

func (d *Dispatcher) runSkill(ctx context.Context, name, fallbackRollback string) ([]ActionOutcome, bool) {
	skill, err := d.library.Resolve(name)
	if err != nil {
		return []ActionOutcome{{
			Skill:  name,
			Status: string(executor.StatusFailed),
			Error:  err.Error(),
		}}, true
	}

	commands, err := d.gateway.TranslateSteps(ctx, skill.Name, skill.Steps, skill.Body)
	if err != nil {
		return []ActionOutcome{{
			Skill:  name,
			Status: string(executor.StatusFailed),
			Error:  err.Error(),
		}}, true
	}

	rollback := fallbackRollback
	if skill.Rollback != "" {
		translated, err := d.gateway.TranslateSteps(ctx, skill.Name+" rollback", []string{skill.Rollback}, "")
		if err != nil {
			return []ActionOutcome{{
				Skill:  name,
				Status: string(executor.StatusFailed),
				Error:  err.Error(),
			}}, true
		}
		rollback = translated[0]
	}

	return d.execute(ctx, name, executor.NewPlan(skill.Name, commands, rollback))
}

func (d *Dispatcher) runCommand(ctx context.Context, command, rollback string) ([]ActionOutcome, bool) {
	if strings.TrimSpace(command) == "" {
		return []ActionOutcome{{
			Command: command,
			Status:  string(executor.StatusFailed),
			Error:   "empty command",
		}}, true
	}
	return d.execute(ctx, "", executor.NewPlan("", []string{command}, rollback))
}

// execute runs the plan and reports one outcome per command, in plan
// order, with the rollback command last when it ran.
func (d *Dispatcher) execute(ctx context.Context, skillName string, plan executor.Plan) ([]ActionOutcome, bool) {
	result := d.executor.Run(ctx, plan)

	outcomes := make([]ActionOutcome, 0, len(result.Steps)+1)
	for _, step := range result.Steps {
		outcomes = append(outcomes, ActionOutcome{
			Skill:   skillName,
			Command: step.Command,
			Status:  string(step.Status),
			Output:  strings.TrimSpace(step.Output),
			Error:   step.Err,
		})
	}
	if result.Rollback != nil {
		outcomes = append(outcomes, ActionOutcome{
			Skill:   skillName,
			Command: result.Rollback.Command,
			Status:  string(result.Rollback.Status),
			Output:  strings.TrimSpace(result.Rollback.Output),
			Error:   result.Rollback.Err,
		})
	}
	return outcomes, result.Err != nil
}

func (d *Dispatcher) logOutcome(today string, outcome ActionOutcome) {
	subject := outcome.Command
	if outcome.Skill != "" {
		subject = outcome.Skill
		if outcome.Command != "" {
			subject += " (" + outcome.Command + ")"
		}
	}
	entry := fmt.Sprintf("action %s: %s", subject, outcome.Status)
	if outcome.Error != "" {
		entry += " (" + outcome.Error + ")"
	}
	if _, err := d.store.AppendLog(today, entry); err != nil {
		d.logger.Error("failed to log action outcome", slog.Any("error", err))
	}
}

// ReadCore returns a core document under a shared lease.
func (d *Dispatcher) ReadCore(ctx context.Context, name string) (string, error) {
	release, err := d.lease.AcquireShared(ctx)
	if err != nil {
		return "", err
	}
	defer release()
	return d.store.ReadCore(name)
}

// UpdateCore replaces a writable core document under an exclusive
// lease. identity.md is rejected by the store.
func (d *Dispatcher) UpdateCore(ctx context.Context, name, content string) error {
	release, err := d.lease.AcquireExclusive(ctx)
	if err != nil {
		return err
	}
	defer release()
	return d.store.WriteCore(name, content)
}

// SearchLogs searches the daily logs under a shared lease.
func (d *Dispatcher) SearchLogs(ctx context.Context, query, from, to string, limit int) ([]memory.Hit, error) {
	release, err := d.lease.AcquireShared(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return d.store.SearchLogs(query, from, to, limit)
}

// ReadDailyLog returns one day's records under a shared lease.
func (d *Dispatcher) ReadDailyLog(ctx context.Context, date string) ([]memory.Record, error) {
	release, err := d.lease.AcquireShared(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return d.store.ReadDailyLog(date)
}

// ReloadSkills re-reads the skill directory under an exclusive lease
// so no request observes a half-loaded catalog.
func (d *Dispatcher) ReloadSkills(ctx context.Context) error {
	release, err := d.lease.AcquireExclusive(ctx)
	if err != nil {
		return err
	}
	defer release()
	if err := d.library.Reload(); err != nil {
		return err
	}
	d.logger.Info("skill library reloaded", slog.Int("skills", d.library.Len()))
	return nil
}
