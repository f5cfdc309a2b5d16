package memory

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/kokoro-agent/kokoro/pkg/errors"
)

func TestReadCoreMissingIsEmpty(t *testing.T) {
	store := NewStore(t.TempDir())
	content, err := store.ReadCore("state.md")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if content != "" {
		t.Fatalf("expected empty content, got %q", content)
	}
}

func TestCoreWriteReadRoundtrip(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := store.WriteCore("user.md", "# User\n\nMasaki\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	content, err := store.ReadCore("user.md")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if content != "# User\n\nMasaki\n" {
		t.Fatalf("unexpected content: %q", content)
	}
}

func TestCoreNameValidation(t *testing.T) {
	store := NewStore(t.TempDir())

	readCases := []string{"../etc/passwd", "../../secret", "", "notes.md"}
	for _, name := range readCases {
		if _, err := store.ReadCore(name); err == nil {
			t.Fatalf("read %q should fail", name)
		}
	}

	// identity.md reads fine but is never writable.
	if _, err := store.ReadCore("identity.md"); err != nil {
		t.Fatalf("identity read: %v", err)
	}
	if err := store.WriteCore("identity.md", "hijacked"); err == nil {
		t.Fatal("identity.md write should fail")
	}
	if err := store.WriteCore("../hack.md", "x"); err == nil {
		t.Fatal("traversal write should fail")
	}
}

func TestConcurrentCoreWritesNeverTear(t *testing.T) {
	store := NewStore(t.TempDir())

	// Values chosen so a torn write is detectable: each is a single
	// repeated rune of fixed length.
	values := make([]string, 8)
	for i := range values {
		values[i] = strings.Repeat(string(rune('a'+i)), 4096)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})

	// Hammer writes.
	for _, v := range values {
		wg.Add(1)
		go func(v string) {
			defer wg.Done()
			for range 20 {
				if err := store.WriteCore("state.md", v); err != nil {
					t.Errorf("write: %v", err)
					return
				}
			}
		}(v)
	}

	// Concurrent readers must only ever observe a complete value.
	var readers sync.WaitGroup
	for range 4 {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				content, err := store.ReadCore("state.md")
				if err != nil {
					t.Errorf("read: %v", err)
					return
				}
				if content == "" {
					continue
				}
				if !isOneOf(content, values) {
					t.Errorf("torn read observed: len=%d head=%q", len(content), content[:1])
					return
				}
			}
		}()
	}

	wg.Wait()
	close(stop)
	readers.Wait()

	final, err := store.ReadCore("state.md")
	if err != nil {
		t.Fatalf("final read: %v", err)
	}
	if !isOneOf(final, values) {
		t.Fatalf("final content is not one of the submitted values (len=%d)", len(final))
	}
}

func isOneOf(content string, values []string) bool {
	for _, v := range values {
		if content == v {
			return true
		}
	}
	return false
}

func TestAppendLogCreatesDayWithHeader(t *testing.T) {
	store := NewStore(t.TempDir())
	if _, err := store.AppendLog("2026-08-31", "reviewed the deploy runbook"); err != nil {
		t.Fatalf("append: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(store.BaseDir(), "logs", "daily", "2026-08-31.md"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if !strings.HasPrefix(string(raw), "# 2026-08-31\n") {
		t.Fatalf("missing day header: %q", string(raw[:20]))
	}
}

func TestAppendLogPreservesOrderAndCount(t *testing.T) {
	store := NewStore(t.TempDir())
	const n = 50
	for i := range n {
		if _, err := store.AppendLog("2026-08-31", fmt.Sprintf("record %03d", i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	records, err := store.ReadDailyLog("2026-08-31")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != n {
		t.Fatalf("expected %d records, got %d", n, len(records))
	}
	for i, rec := range records {
		if rec.Text != fmt.Sprintf("record %03d", i) {
			t.Fatalf("record %d out of order: %q", i, rec.Text)
		}
	}
}

func TestConcurrentAppendsLoseNothing(t *testing.T) {
	store := NewStore(t.TempDir())
	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := range perWriter {
				if _, err := store.AppendLog("2026-08-31", fmt.Sprintf("w%d-%d", w, i)); err != nil {
					t.Errorf("append: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	records, err := store.ReadDailyLog("2026-08-31")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != writers*perWriter {
		t.Fatalf("expected %d records, got %d", writers*perWriter, len(records))
	}
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		if seen[rec.Text] {
			t.Fatalf("duplicate record: %s", rec.Text)
		}
		seen[rec.Text] = true
	}
}

func TestReadDailyLogMissingDay(t *testing.T) {
	store := NewStore(t.TempDir())
	records, err := store.ReadDailyLog("2026-01-01")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}

func TestReadDailyLogsRange(t *testing.T) {
	store := NewStore(t.TempDir())
	for _, date := range []string{"2026-08-29", "2026-08-30", "2026-08-31"} {
		if _, err := store.AppendLog(date, "entry for "+date); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	days, err := store.ReadDailyLogsRange("2026-08-30", "2026-08-31")
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(days) != 2 {
		t.Fatalf("expected 2 days, got %d", len(days))
	}
	if days[0].Date != "2026-08-30" || days[1].Date != "2026-08-31" {
		t.Fatalf("unexpected order: %s, %s", days[0].Date, days[1].Date)
	}
}

func TestValidateDate(t *testing.T) {
	valid := []string{"2026-02-17", "2000-01-01", "2026-12-31"}
	for _, d := range valid {
		if err := ValidateDate(d); err != nil {
			t.Fatalf("%s should be valid: %v", d, err)
		}
	}
	invalid := []string{
		"", "2026-2-17", "../../../etc", "2026-02-17/../../x",
		"2026-00-01", "2026-13-01", "2026-01-00", "2026-01-32", "2026-99-99",
	}
	for _, d := range invalid {
		err := ValidateDate(d)
		if err == nil {
			t.Fatalf("%s should be invalid", d)
		}
		if errors.CodeOf(err) != errors.CodeInvalidInput {
			t.Fatalf("%s: unexpected code %s", d, errors.CodeOf(err))
		}
	}
}

func TestValidateWeekAndMonthIDs(t *testing.T) {
	for _, id := range []string{"2026-W08", "2026-W52", "2026-W53"} {
		if err := ValidateWeekID(id); err != nil {
			t.Fatalf("%s should be valid: %v", id, err)
		}
	}
	for _, id := range []string{"../W08", "2026-08", "", "2026-W00", "2026-W54"} {
		if err := ValidateWeekID(id); err == nil {
			t.Fatalf("%s should be invalid", id)
		}
	}
	for _, id := range []string{"2026-02", "2000-12"} {
		if err := ValidateMonthID(id); err != nil {
			t.Fatalf("%s should be valid: %v", id, err)
		}
	}
	for _, id := range []string{"../../xx", "2026-2", "", "2026-00", "2026-13"} {
		if err := ValidateMonthID(id); err == nil {
			t.Fatalf("%s should be invalid", id)
		}
	}
}

func TestSummaryRoundtrip(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := store.WriteWeeklySummary("2026-W35", "# Week 35\n\nwork\n"); err != nil {
		t.Fatalf("write weekly: %v", err)
	}
	content, err := store.ReadWeeklySummary("2026-W35")
	if err != nil {
		t.Fatalf("read weekly: %v", err)
	}
	if !strings.Contains(content, "Week 35") {
		t.Fatalf("unexpected weekly content: %q", content)
	}

	if err := store.WriteMonthlySummary("2026-08", "# August\n"); err != nil {
		t.Fatalf("write monthly: %v", err)
	}
	content, err = store.ReadMonthlySummary("2026-08")
	if err != nil {
		t.Fatalf("read monthly: %v", err)
	}
	if content != "# August\n" {
		t.Fatalf("unexpected monthly content: %q", content)
	}

	// Missing summaries read as empty.
	content, err = store.ReadMonthlySummary("2026-01")
	if err != nil || content != "" {
		t.Fatalf("missing summary: %q, %v", content, err)
	}
}

func TestRecordLineParsing(t *testing.T) {
	store := NewStore(t.TempDir())
	rec, err := store.AppendLog("2026-08-31", "multi\nline\trecord")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if rec.Text != "multi line record" {
		t.Fatalf("sanitize: %q", rec.Text)
	}

	records, err := store.ReadDailyLog("2026-08-31")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].ID != rec.ID {
		t.Fatal("record id lost in roundtrip")
	}
	if records[0].Time().IsZero() {
		t.Fatal("record time should derive from the ulid")
	}
}

func TestStorageErrorsCarryCode(t *testing.T) {
	// Point the store at a file so directory creation fails.
	dir := t.TempDir()
	blocker := filepath.Join(dir, "base")
	if err := os.WriteFile(blocker, []byte("not a dir"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	store := NewStore(blocker)
	_, err := store.AppendLog("2026-08-31", "x")
	if err == nil {
		t.Fatal("expected storage error")
	}
	if errors.CodeOf(err) != errors.CodeStorageUnavailable {
		t.Fatalf("unexpected code: %s", errors.CodeOf(err))
	}
	var typed *errors.Error
	if !stderrors.As(err, &typed) {
		t.Fatal("error should be typed")
	}
}
