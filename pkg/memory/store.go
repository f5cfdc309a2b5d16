// Package memory persists the agent's core memory documents and the
// append-only daily logs. Core documents are whole-file replacements
// published atomically; daily logs are append-only and partitioned by
// date, one file per day. All access is gated by a Lease.
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kokoro-agent/kokoro/pkg/errors"
)

// The fixed core memory set. identity.md is read-only: it defines who
// the agent is and is only edited by the human operator.
var (
	CoreFiles         = []string{"identity.md", "user.md", "state.md"}
	WritableCoreFiles = []string{"user.md", "state.md"}
)

// Record is one entry of a daily log. The ULID doubles as the record's
// timestamp and gives a stable lexical append order.
type Record struct {
	ID   ulid.ULID
	Text string
}

// Time returns the record's timestamp, recovered from the ULID.
func (r Record) Time() time.Time {
	return ulid.Time(r.ID.Time())
}

// Store is the file-backed memory store rooted at a base directory.
type Store struct {
	baseDir string
}

// NewStore creates a store over the given base directory. The
// directory layout is created lazily on first write.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string { return s.baseDir }

// --- Validation ---

func validateCoreRead(name string) error {
	for _, f := range CoreFiles {
		if name == f {
			return nil
		}
	}
	return errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid core memory file: %s", name))
}

func validateCoreWrite(name string) error {
	for _, f := range WritableCoreFiles {
		if name == f {
			return nil
		}
	}
	return errors.New(errors.CodeInvalidInput, fmt.Sprintf("cannot write to core memory file: %s", name))
}

// ValidateDate checks a YYYY-MM-DD date string. Lengths and separators
// are checked byte-wise so path traversal never reaches the filesystem.
func ValidateDate(date string) error {
	bad := func() error {
		return errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid date (expected YYYY-MM-DD): %s", date))
	}
	if len(date) != 10 || date[4] != '-' || date[7] != '-' {
		return bad()
	}
	for i, c := range []byte(date) {
		if i == 4 || i == 7 {
			continue
		}
		if c < '0' || c > '9' {
			return bad()
		}
	}
	month := int(date[5]-'0')*10 + int(date[6]-'0')
	day := int(date[8]-'0')*10 + int(date[9]-'0')
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid date value: %s", date))
	}
	return nil
}

// ValidateWeekID checks a YYYY-Wnn week identifier.
func ValidateWeekID(id string) error {
	bad := func() error {
		return errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid week id (expected YYYY-Wnn): %s", id))
	}
	if len(id) != 8 || id[4] != '-' || id[5] != 'W' {
		return bad()
	}
	for _, i := range []int{0, 1, 2, 3, 6, 7} {
		if id[i] < '0' || id[i] > '9' {
			return bad()
		}
	}
	week := int(id[6]-'0')*10 + int(id[7]-'0')
	if week < 1 || week > 53 {
		return errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid week number: %s", id))
	}
	return nil
}

// ValidateMonthID checks a YYYY-MM month identifier.
func ValidateMonthID(id string) error {
	bad := func() error {
		return errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid month id (expected YYYY-MM): %s", id))
	}
	if len(id) != 7 || id[4] != '-' {
		return bad()
	}
	for _, i := range []int{0, 1, 2, 3, 5, 6} {
		if id[i] < '0' || id[i] > '9' {
			return bad()
		}
	}
	month := int(id[5]-'0')*10 + int(id[6]-'0')
	if month < 1 || month > 12 {
		return errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid month number: %s", id))
	}
	return nil
}

// --- Core memory ---

// ReadCore returns the content of a core memory document. A document
// that has never been written reads as empty content, not an error.
func (s *Store) ReadCore(name string) (string, error) {
	if err := validateCoreRead(name); err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(s.baseDir, "core", name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", errors.Wrap(errors.CodeStorageUnavailable, fmt.Sprintf("read core memory %s", name), err)
	}
	return string(data), nil
}

// WriteCore atomically replaces a core memory document. The content is
// written to a temporary file in the same directory and renamed over
// the target, so a concurrent reader sees either the old or the new
// document, never a partial write.
func (s *Store) WriteCore(name, content string) error {
	if err := validateCoreWrite(name); err != nil {
		return err
	}
	dir := filepath.Join(s.baseDir, "core")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(errors.CodeStorageUnavailable, "create core directory", err)
	}
	tmp, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return errors.Wrap(errors.CodeStorageUnavailable, "create temp file", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(errors.CodeStorageUnavailable, fmt.Sprintf("write core memory %s", name), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(errors.CodeStorageUnavailable, fmt.Sprintf("sync core memory %s", name), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(errors.CodeStorageUnavailable, fmt.Sprintf("close core memory %s", name), err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(errors.CodeStorageUnavailable, fmt.Sprintf("publish core memory %s", name), err)
	}
	return nil
}

// --- Daily logs ---

func (s *Store) dailyLogPath(date string) string {
	return filepath.Join(s.baseDir, "logs", "daily", date+".md")
}

// AppendLog appends one record to the given day's log, creating the
// day file on first write. The record is written with a single
// O_APPEND write so concurrent appends never interleave bytes. The
// stat that decides whether to prepend the "# <date>" header is not
// atomic with the write; callers are expected to serialize writers
// through the lease, or two first appends to a new day could both
// emit the header.
func (s *Store) AppendLog(date, text string) (Record, error) {
	if err := ValidateDate(date); err != nil {
		return Record{}, err
	}
	path := s.dailyLogPath(date)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Record{}, errors.Wrap(errors.CodeStorageUnavailable, "create log directory", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return Record{}, errors.Wrap(errors.CodeStorageUnavailable, fmt.Sprintf("open daily log %s", date), err)
	}
	defer file.Close()

	rec := Record{ID: ulid.Make(), Text: sanitizeRecordText(text)}

	line := formatRecord(rec)
	info, err := file.Stat()
	if err != nil {
		return Record{}, errors.Wrap(errors.CodeStorageUnavailable, fmt.Sprintf("stat daily log %s", date), err)
	}
	if info.Size() == 0 {
		line = fmt.Sprintf("# %s\n\n%s", date, line)
	}
	if _, err := file.WriteString(line); err != nil {
		return Record{}, errors.Wrap(errors.CodeStorageUnavailable, fmt.Sprintf("append daily log %s", date), err)
	}
	return rec, nil
}

// ReadDailyLog returns the ordered records of one day. A day with no
// log reads as an empty slice.
func (s *Store) ReadDailyLog(date string) ([]Record, error) {
	if err := ValidateDate(date); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.dailyLogPath(date))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.CodeStorageUnavailable, fmt.Sprintf("read daily log %s", date), err)
	}
	return parseRecords(string(data)), nil
}

// ReadDailyLogsRange returns (date, records) pairs for every day in
// the inclusive range that has a log, ordered by date ascending.
func (s *Store) ReadDailyLogsRange(from, to string) ([]DayLog, error) {
	if err := ValidateDate(from); err != nil {
		return nil, err
	}
	if err := ValidateDate(to); err != nil {
		return nil, err
	}
	dates, err := s.logDates()
	if err != nil {
		return nil, err
	}
	var out []DayLog
	for _, date := range dates {
		if date < from || date > to {
			continue
		}
		records, err := s.ReadDailyLog(date)
		if err != nil {
			return nil, err
		}
		out = append(out, DayLog{Date: date, Records: records})
	}
	return out, nil
}

// DayLog is one day's worth of records.
type DayLog struct {
	Date    string
	Records []Record
}

// logDates lists the dates that have a daily log, sorted ascending.
func (s *Store) logDates() ([]string, error) {
	dir := filepath.Join(s.baseDir, "logs", "daily")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.CodeStorageUnavailable, "list daily logs", err)
	}
	var dates []string
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".md") {
			continue
		}
		date := strings.TrimSuffix(name, ".md")
		if ValidateDate(date) != nil {
			continue
		}
		dates = append(dates, date)
	}
	sort.Strings(dates)
	return dates, nil
}

// --- Summaries ---

func (s *Store) summaryPath(kind, id string) string {
	return filepath.Join(s.baseDir, "logs", kind, id+".md")
}

// ReadWeeklySummary returns the weekly summary, or empty content when
// none has been written.
func (s *Store) ReadWeeklySummary(weekID string) (string, error) {
	if err := ValidateWeekID(weekID); err != nil {
		return "", err
	}
	return s.readSummary("weekly", weekID)
}

// ReadMonthlySummary returns the monthly summary, or empty content
// when none has been written.
func (s *Store) ReadMonthlySummary(monthID string) (string, error) {
	if err := ValidateMonthID(monthID); err != nil {
		return "", err
	}
	return s.readSummary("monthly", monthID)
}

// WriteWeeklySummary atomically replaces the weekly summary.
func (s *Store) WriteWeeklySummary(weekID, content string) error {
	if err := ValidateWeekID(weekID); err != nil {
		return err
	}
	return s.writeSummary("weekly", weekID, content)
}

// WriteMonthlySummary atomically replaces the monthly summary.
func (s *Store) WriteMonthlySummary(monthID, content string) error {
	if err := ValidateMonthID(monthID); err != nil {
		return err
	}
	return s.writeSummary("monthly", monthID, content)
}

func (s *Store) readSummary(kind, id string) (string, error) {
	data, err := os.ReadFile(s.summaryPath(kind, id))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", errors.Wrap(errors.CodeStorageUnavailable, fmt.Sprintf("read %s summary %s", kind, id), err)
	}
	return string(data), nil
}

func (s *Store) writeSummary(kind, id, content string) error {
	path := s.summaryPath(kind, id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(errors.CodeStorageUnavailable, "create summary directory", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return errors.Wrap(errors.CodeStorageUnavailable, fmt.Sprintf("write %s summary %s", kind, id), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(errors.CodeStorageUnavailable, fmt.Sprintf("publish %s summary %s", kind, id), err)
	}
	return nil
}

// --- Record wire format ---

// Records are markdown list items: "- [<ulid>] text". The ULID carries
// the timestamp, so lexical order within a file is append order.
func formatRecord(rec Record) string {
	return fmt.Sprintf("- [%s] %s\n", rec.ID, rec.Text)
}

func parseRecords(content string) []Record {
	var records []Record
	for _, line := range strings.Split(content, "\n") {
		rec, ok := parseRecordLine(line)
		if !ok {
			continue
		}
		records = append(records, rec)
	}
	return records
}

func parseRecordLine(line string) (Record, bool) {
	if !strings.HasPrefix(line, "- [") {
		return Record{}, false
	}
	rest := line[len("- ["):]
	end := strings.IndexByte(rest, ']')
	if end < 0 {
		return Record{}, false
	}
	id, err := ulid.ParseStrict(rest[:end])
	if err != nil {
		return Record{}, false
	}
	text := strings.TrimPrefix(rest[end+1:], " ")
	return Record{ID: id, Text: text}, true
}

// sanitizeRecordText keeps a record on a single line so the append-only
// file stays parseable.
func sanitizeRecordText(text string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(text, "\n", " ")), " ")
}
