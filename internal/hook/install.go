package hook

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const hookTimeoutSeconds = 5

// DefaultSettingsPath returns the Claude Code settings file location.
func DefaultSettingsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".claude", "settings.json"), nil
}

// Install registers the PreToolUse hook in the given settings file,
// preserving unrelated settings. The operation is idempotent: an
// existing specgate hook entry is left alone.
func Install(settingsPath, command string) error {
	if command == "" {
		command = "specgate hook"
	}

	settings, err := loadSettings(settingsPath)
	if err != nil {
		return err
	}

	hooks, ok := settings["hooks"].(map[string]interface{})
	if !ok {
		hooks = make(map[string]interface{})
		settings["hooks"] = hooks
	}

	preToolUse, _ := hooks["PreToolUse"].([]interface{})
	if hasHookCommand(preToolUse, command) {
		return nil
	}

	preToolUse = append(preToolUse, map[string]interface{}{
		"matcher": Matcher,
		"hooks": []interface{}{
			map[string]interface{}{
				"type":    "command",
				"command": command,
				"timeout": hookTimeoutSeconds,
			},
		},
	})
	hooks["PreToolUse"] = preToolUse

	return saveSettings(settingsPath, settings)
}

// loadSettings reads the settings file; a missing file yields an empty
// document so install works on fresh machines.
func loadSettings(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return make(map[string]interface{}), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}

	var settings map[string]interface{}
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("invalid JSON in settings file %s: %w", path, err)
	}
	return settings, nil
}

func saveSettings(path string, settings map[string]interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	return nil
}

// hasHookCommand scans existing PreToolUse entries for our command.
func hasHookCommand(entries []interface{}, command string) bool {
	for _, entry := range entries {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		inner, _ := m["hooks"].([]interface{})
		for _, h := range inner {
			hm, ok := h.(map[string]interface{})
			if !ok {
				continue
			}
			if cmd, _ := hm["command"].(string); strings.Contains(cmd, command) {
				return true
			}
		}
	}
	return false
}
