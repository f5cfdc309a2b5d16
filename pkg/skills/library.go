package skills

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/kokoro-agent/kokoro/pkg/errors"
)

// Library holds an immutable snapshot of the loaded skills. Reload
// swaps the snapshot atomically, so an in-flight request that already
// resolved a skill keeps working against the definition it saw.
// Reloads happen only at process start or on an explicit signal, never
// implicitly during request handling.
type Library struct {
	dir      string
	snapshot atomic.Pointer[map[string]Skill]
}

// CatalogEntry is one row of the skill catalog shown to the model.
type CatalogEntry struct {
	Name    string
	Summary string
}

// NewLibrary loads the skill directory and returns the library.
func NewLibrary(dir string) (*Library, error) {
	lib := &Library{dir: dir}
	if err := lib.Reload(); err != nil {
		return nil, err
	}
	return lib, nil
}

// Reload re-reads the skill directory and atomically publishes the new
// snapshot. On error the previous snapshot stays in place.
func (l *Library) Reload() error {
	loaded, err := LoadDir(l.dir)
	if err != nil {
		return errors.Wrap(errors.CodeStorageUnavailable, "load skill directory", err)
	}
	snapshot := make(map[string]Skill, len(loaded))
	for _, skill := range loaded {
		snapshot[skill.Name] = skill
	}
	l.snapshot.Store(&snapshot)
	return nil
}

// Resolve returns the named skill.
func (l *Library) Resolve(name string) (Skill, error) {
	snapshot := l.snapshot.Load()
	if snapshot == nil {
		return Skill{}, errors.New(errors.CodeSkillNotFound, fmt.Sprintf("skill not found: %s", name))
	}
	skill, ok := (*snapshot)[name]
	if !ok {
		return Skill{}, errors.New(errors.CodeSkillNotFound, fmt.Sprintf("skill not found: %s", name))
	}
	return skill, nil
}

// List returns the catalog sorted by name.
func (l *Library) List() []CatalogEntry {
	snapshot := l.snapshot.Load()
	if snapshot == nil {
		return nil
	}
	entries := make([]CatalogEntry, 0, len(*snapshot))
	for _, skill := range *snapshot {
		entries = append(entries, CatalogEntry{Name: skill.Name, Summary: skill.Summary()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// Len returns the number of loaded skills.
func (l *Library) Len() int {
	snapshot := l.snapshot.Load()
	if snapshot == nil {
		return 0
	}
	return len(*snapshot)
}
