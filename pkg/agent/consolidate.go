package agent

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const consolidateInstructions = `You maintain a personal agent's long-term memory. Summarize the
log entries below into a short markdown digest: what happened, what
was decided, and anything still open. Write plain prose bullets.
Respond with the digest only.`

const stateSectionHeader = "## Recent activity"

// Consolidate folds the last week of daily logs into a weekly summary
// and refreshes the recent-activity section of state.md. On the last
// day of a month it also rolls that month's weekly summaries into a
// monthly summary. Triggered by the reserved instruction, normally
// from a nightly scheduler.
func (d *Dispatcher) Consolidate(ctx context.Context) (Response, error) {
	ctx, span := d.tracer.Start(ctx, "Agent.Consolidate")
	defer span.End()

	release, err := d.lease.AcquireExclusive(ctx)
	if err != nil {
		return Response{}, err
	}
	defer release()

	now := d.now().UTC()
	to := now.Format("2006-01-02")
	from := now.AddDate(0, 0, -6).Format("2006-01-02")

	days, err := d.store.ReadDailyLogsRange(from, to)
	if err != nil {
		return Response{}, err
	}
	entries := 0
	var logText strings.Builder
	for _, day := range days {
		if len(day.Records) == 0 {
			continue
		}
		fmt.Fprintf(&logText, "# %s\n", day.Date)
		for _, rec := range day.Records {
			fmt.Fprintf(&logText, "- %s\n", rec.Text)
			entries++
		}
		logText.WriteString("\n")
	}
	if entries == 0 {
		return Response{Text: "No log entries in the last week; nothing to consolidate."}, nil
	}

	summary, err := d.gateway.Summarize(ctx, consolidateInstructions, logText.String())
	if err != nil {
		return Response{}, err
	}

	weekID := isoWeekID(now)
	content := fmt.Sprintf("# Week %s\n\n%s\n", weekID, summary)
	if err := d.store.WriteWeeklySummary(weekID, content); err != nil {
		return Response{}, err
	}

	state, err := d.store.ReadCore("state.md")
	if err != nil {
		return Response{}, err
	}
	if err := d.store.WriteCore("state.md", replaceStateSection(state, summary)); err != nil {
		return Response{}, err
	}

	text := fmt.Sprintf("Consolidated %d log entries into weekly summary %s.", entries, weekID)
	if lastDayOfMonth(now) {
		monthID, err := d.consolidateMonth(ctx, now)
		if err != nil {
			return Response{}, err
		}
		if monthID != "" {
			text += fmt.Sprintf(" Wrote monthly summary %s.", monthID)
		}
	}
	d.logger.Info("consolidation finished", "entries", entries, "week", weekID)
	return Response{Text: text}, nil
}

// consolidateMonth rolls the month's weekly summaries into one monthly
// summary. Returns the month id, or empty when there was nothing to
// roll up.
func (d *Dispatcher) consolidateMonth(ctx context.Context, now time.Time) (string, error) {
	seen := make(map[string]bool)
	var weekly strings.Builder
	for day := now.AddDate(0, 0, 1-now.Day()); !day.After(now); day = day.AddDate(0, 0, 1) {
		weekID := isoWeekID(day)
		if seen[weekID] {
			continue
		}
		seen[weekID] = true
		content, err := d.store.ReadWeeklySummary(weekID)
		if err != nil {
			return "", err
		}
		if content != "" {
			weekly.WriteString(content)
			weekly.WriteString("\n")
		}
	}
	if weekly.Len() == 0 {
		return "", nil
	}

	summary, err := d.gateway.Summarize(ctx, consolidateInstructions, weekly.String())
	if err != nil {
		return "", err
	}
	monthID := now.Format("2006-01")
	content := fmt.Sprintf("# Month %s\n\n%s\n", monthID, summary)
	if err := d.store.WriteMonthlySummary(monthID, content); err != nil {
		return "", err
	}
	return monthID, nil
}

// replaceStateSection swaps the recent-activity section of state.md
// for the new summary, appending the section if it is missing. All
// other content is preserved untouched.
func replaceStateSection(state, summary string) string {
	section := stateSectionHeader + "\n\n" + strings.TrimSpace(summary) + "\n"

	idx := strings.Index(state, stateSectionHeader)
	if idx < 0 {
		state = strings.TrimRight(state, "\n")
		if state == "" {
			return section
		}
		return state + "\n\n" + section
	}

	rest := state[idx+len(stateSectionHeader):]
	end := len(state)
	if next := strings.Index(rest, "\n## "); next >= 0 {
		end = idx + len(stateSectionHeader) + next + 1
		return state[:idx] + section + "\n" + state[end:]
	}
	return state[:idx] + section
}

func isoWeekID(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

func lastDayOfMonth(t time.Time) bool {
	return t.AddDate(0, 0, 1).Month() != t.Month()
}
