package config

import (
	"os"
	"path/filepath"
)

const defaultIdentity = `# Identity

I am Kokoro, a personal AI agent. I remember everything.
`

const defaultUser = `# User

(Not yet configured)
`

const defaultState = `# State

(No state yet)
`

const defaultConfigFile = `agent:
  name: kokoro

llm:
  provider: anthropic
  model: claude-sonnet-4-20250514
  api_key: YOUR_API_KEY
  max_tokens: 8192
  temperature: 1.0

api:
  bind: 127.0.0.1:3000

mcp:
  enabled: false
  bind: 127.0.0.1:3001
`

// DefaultBaseDir returns the data directory, ~/.kokoro when a home
// directory is resolvable, otherwise ./.kokoro.
func DefaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".kokoro")
}

// InitBaseDir creates the data directory layout and seeds the core
// memory documents and default config. Existing files are left alone.
func InitBaseDir(base string) error {
	for _, d := range []string{
		"core",
		"logs/daily",
		"logs/weekly",
		"logs/monthly",
		"skills",
	} {
		if err := os.MkdirAll(filepath.Join(base, d), 0o755); err != nil {
			return err
		}
	}
	seeds := map[string]string{
		"core/identity.md": defaultIdentity,
		"core/user.md":     defaultUser,
		"core/state.md":    defaultState,
		"config.yaml":      defaultConfigFile,
	}
	for rel, content := range seeds {
		path := filepath.Join(base, rel)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}
