// Package skills loads declarative skill definitions from a directory
// of SKILL.md documents. A skill names an ordered sequence of
// intent-level steps and an optional rollback step; translating steps
// into concrete shell commands happens elsewhere, at invocation time.
package skills

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// Skill is one declarative skill definition.
type Skill struct {
	Name        string
	Description string
	Steps       []string
	Rollback    string
	Body        string
	Path        string
	Dir         string
}

const (
	maxNameLen        = 64
	maxDescriptionLen = 1024
	maxSteps          = 32
)

var namePattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// LoadDir scans a directory for skill subdirectories with SKILL.md.
// Duplicate names across directories are an error.
func LoadDir(root string) ([]Skill, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	seen := make(map[string]string)
	var out []Skill
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		skillPath := filepath.Join(root, entry.Name(), "SKILL.md")
		if _, err := os.Stat(skillPath); err != nil {
			continue
		}
		skill, err := LoadFile(skillPath)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", skillPath, err)
		}
		if prev, ok := seen[skill.Name]; ok {
			return nil, fmt.Errorf("duplicate skill name %q in %s and %s", skill.Name, prev, skillPath)
		}
		seen[skill.Name] = skillPath
		out = append(out, skill)
	}
	return out, nil
}

// LoadFile parses a single SKILL.md file.
func LoadFile(path string) (Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Skill{}, err
	}
	fm, body, err := splitFrontmatter(string(data))
	if err != nil {
		return Skill{}, err
	}
	var parsed frontmatter
	if err := yaml.Unmarshal([]byte(fm), &parsed); err != nil {
		return Skill{}, fmt.Errorf("parse frontmatter: %w", err)
	}
	dir := filepath.Dir(path)
	skill := Skill{
		Name:        strings.TrimSpace(parsed.Name),
		Description: strings.TrimSpace(parsed.Description),
		Steps:       normalizeSteps(parsed.Steps),
		Rollback:    strings.TrimSpace(parsed.Rollback),
		Body:        strings.TrimSpace(body),
		Path:        path,
		Dir:         dir,
	}
	if err := validate(skill); err != nil {
		return Skill{}, err
	}
	return skill, nil
}

// Summary returns the skill's one-line catalog entry.
func (s Skill) Summary() string {
	line := s.Description
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	return strings.TrimSpace(line)
}

type frontmatter struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Steps       []string `yaml:"steps"`
	Rollback    string   `yaml:"rollback"`
}

func splitFrontmatter(content string) (string, string, error) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "---") {
		return "", "", errors.New("missing frontmatter")
	}
	parts := strings.SplitN(trimmed, "---", 3)
	if len(parts) < 3 {
		return "", "", errors.New("invalid frontmatter")
	}
	return strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2]), nil
}

func normalizeSteps(steps []string) []string {
	out := make([]string, 0, len(steps))
	for _, step := range steps {
		step = strings.TrimSpace(step)
		if step == "" {
			continue
		}
		out = append(out, step)
	}
	return out
}

func validate(skill Skill) error {
	if skill.Name == "" {
		return errors.New("name is required")
	}
	if utf8.RuneCountInString(skill.Name) > maxNameLen {
		return fmt.Errorf("name exceeds %d characters", maxNameLen)
	}
	if !namePattern.MatchString(skill.Name) {
		return fmt.Errorf("name must match %s", namePattern.String())
	}
	if dirName := filepath.Base(skill.Dir); dirName != skill.Name {
		return fmt.Errorf("name must match directory name (%s)", dirName)
	}
	if skill.Description == "" {
		return errors.New("description is required")
	}
	if utf8.RuneCountInString(skill.Description) > maxDescriptionLen {
		return fmt.Errorf("description exceeds %d characters", maxDescriptionLen)
	}
	if len(skill.Steps) == 0 {
		return errors.New("at least one step is required")
	}
	if len(skill.Steps) > maxSteps {
		return fmt.Errorf("steps exceed %d entries", maxSteps)
	}
	return nil
}
