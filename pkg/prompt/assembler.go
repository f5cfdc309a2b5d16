// Package prompt assembles the system prompt for a model call from
// core memory, recent log excerpts, and the skill catalog, keeping the
// result inside a token budget.
package prompt

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/kokoro-agent/kokoro/pkg/memory"
	"github.com/kokoro-agent/kokoro/pkg/skills"
)

const (
	// excerptLookbackDays bounds how far back log excerpts are drawn
	// from. Older material reaches the prompt through the weekly and
	// monthly summaries folded into state.md during consolidation.
	excerptLookbackDays = 14

	// minTermLen filters filler words out of the excerpt query.
	minTermLen = 4
)

// Assembler builds system prompts. Core documents always appear; log
// excerpts and skill summaries fill the remaining budget.
type Assembler struct {
	store        *memory.Store
	library      *skills.Library
	budget       int
	maxExcerpts  int
	instructions string
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithBudget sets the approximate token budget for the whole prompt.
func WithBudget(n int) Option {
	return func(a *Assembler) { a.budget = n }
}

// WithMaxExcerpts caps how many log excerpts a prompt may carry.
func WithMaxExcerpts(n int) Option {
	return func(a *Assembler) { a.maxExcerpts = n }
}

// WithInstructions appends fixed instruction text, such as the
// response format contract, to every prompt.
func WithInstructions(s string) Option {
	return func(a *Assembler) { a.instructions = s }
}

// NewAssembler creates an assembler over the given store and library.
func NewAssembler(store *memory.Store, library *skills.Library, opts ...Option) *Assembler {
	a := &Assembler{
		store:       store,
		library:     library,
		budget:      24576,
		maxExcerpts: 10,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Prompt is an assembled system prompt. Truncated reports that even
// the core documents had to be cut to fit the budget.
type Prompt struct {
	System    string
	Excerpts  int
	Truncated bool
}

type excerpt struct {
	hit   memory.Hit
	score int
}

// Build assembles a prompt for the given user text. Trimming order
// under budget pressure: log excerpts first, then skill summaries,
// and as a last resort the core documents themselves, with a warning
// folded into the prompt so the model knows its context is partial.
func (a *Assembler) Build(userText string, now time.Time) (Prompt, error) {
	identity, err := a.store.ReadCore("identity.md")
	if err != nil {
		return Prompt{}, err
	}
	user, err := a.store.ReadCore("user.md")
	if err != nil {
		return Prompt{}, err
	}
	state, err := a.store.ReadCore("state.md")
	if err != nil {
		return Prompt{}, err
	}

	excerpts, err := a.selectExcerpts(userText, now)
	if err != nil {
		return Prompt{}, err
	}

	catalog := a.library.List()

	// Trim excerpts from the lowest-scored end until the prompt fits.
	for {
		system := render(identity, user, state, excerpts, catalog, true, a.instructions, false)
		if estimateTokens(system) <= a.budget || len(excerpts) == 0 {
			if estimateTokens(system) <= a.budget {
				return Prompt{System: system, Excerpts: len(excerpts)}, nil
			}
			break
		}
		excerpts = excerpts[:len(excerpts)-1]
	}

	// Drop the skill summaries, keeping the names so the model still
	// knows what it can invoke.
	system := render(identity, user, state, nil, catalog, false, a.instructions, false)
	if estimateTokens(system) <= a.budget {
		return Prompt{System: system}, nil
	}

	// Core documents alone exceed the budget. Cut them and say so.
	overhead := estimateTokens(render("", "", "", nil, catalog, false, a.instructions, true))
	remaining := a.budget - overhead
	if remaining < 0 {
		remaining = 0
	}
	identity, user, state = truncateCore(identity, user, state, remaining)
	system = render(identity, user, state, nil, catalog, false, a.instructions, true)
	return Prompt{System: system, Truncated: true}, nil
}

// selectExcerpts scores recent log records against the user text and
// keeps the best ones, most relevant first with a recency tie-break.
func (a *Assembler) selectExcerpts(userText string, now time.Time) ([]excerpt, error) {
	terms := queryTerms(userText)
	if len(terms) == 0 || a.maxExcerpts <= 0 {
		return nil, nil
	}

	to := now.Format("2006-01-02")
	from := now.AddDate(0, 0, -excerptLookbackDays).Format("2006-01-02")
	days, err := a.store.ReadDailyLogsRange(from, to)
	if err != nil {
		return nil, err
	}

	var scored []excerpt
	for _, day := range days {
		for _, rec := range day.Records {
			lower := strings.ToLower(rec.Text)
			score := 0
			for _, term := range terms {
				score += strings.Count(lower, term)
			}
			if score > 0 {
				scored = append(scored, excerpt{hit: memory.Hit{Date: day.Date, Record: rec}, score: score})
			}
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].hit.Date > scored[j].hit.Date
	})
	if len(scored) > a.maxExcerpts {
		scored = scored[:a.maxExcerpts]
	}
	return scored, nil
}

func render(identity, user, state string, excerpts []excerpt, catalog []skills.CatalogEntry, summaries bool, instructions string, truncated bool) string {
	var sb strings.Builder

	if truncated {
		sb.WriteString("Note: memory context below was truncated to fit the model window. Treat it as partial.\n\n")
	}
	if identity != "" {
		sb.WriteString(strings.TrimSpace(identity))
		sb.WriteString("\n\n")
	}
	if user != "" {
		sb.WriteString("## About the user\n\n")
		sb.WriteString(strings.TrimSpace(user))
		sb.WriteString("\n\n")
	}
	if state != "" {
		sb.WriteString("## Current state\n\n")
		sb.WriteString(strings.TrimSpace(state))
		sb.WriteString("\n\n")
	}
	if len(excerpts) > 0 {
		sb.WriteString("## Relevant log entries\n\n")
		// Chronological reads better than score order.
		ordered := make([]excerpt, len(excerpts))
		copy(ordered, excerpts)
		sort.SliceStable(ordered, func(i, j int) bool {
			if ordered[i].hit.Date != ordered[j].hit.Date {
				return ordered[i].hit.Date < ordered[j].hit.Date
			}
			return ordered[i].hit.Record.ID.Compare(ordered[j].hit.Record.ID) < 0
		})
		for _, e := range ordered {
			fmt.Fprintf(&sb, "- [%s] %s\n", e.hit.Date, e.hit.Record.Text)
		}
		sb.WriteString("\n")
	}
	if len(catalog) > 0 {
		sb.WriteString("## Skills\n\n")
		for _, entry := range catalog {
			if summaries && entry.Summary != "" {
				fmt.Fprintf(&sb, "- %s: %s\n", entry.Name, entry.Summary)
			} else {
				fmt.Fprintf(&sb, "- %s\n", entry.Name)
			}
		}
		sb.WriteString("\n")
	}
	if instructions != "" {
		sb.WriteString(strings.TrimSpace(instructions))
		sb.WriteString("\n")
	}
	return sb.String()
}

// truncateCore cuts the core documents down to roughly the given token
// allowance, split so identity keeps the largest share.
func truncateCore(identity, user, state string, tokens int) (string, string, string) {
	identity = cutToTokens(identity, tokens*4/10)
	user = cutToTokens(user, tokens*3/10)
	state = cutToTokens(state, tokens*3/10)
	return identity, user, state
}

func cutToTokens(s string, tokens int) string {
	limit := tokens * 4
	if len(s) <= limit {
		return s
	}
	if limit <= 0 {
		return ""
	}
	cut := s[:limit]
	// Back off to a rune boundary.
	for len(cut) > 0 && !utf8Start(cut[len(cut)-1]) {
		cut = cut[:len(cut)-1]
	}
	return cut
}

func utf8Start(b byte) bool { return b < 0x80 || b >= 0xC0 }

// estimateTokens approximates the token count of a prompt. Four bytes
// per token is a workable estimate for English markdown.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// queryTerms lowercases the user text and keeps the distinct words
// long enough to be meaningful search terms.
func queryTerms(text string) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		if len(word) < minTermLen || seen[word] {
			continue
		}
		seen[word] = true
		terms = append(terms, word)
	}
	return terms
}
