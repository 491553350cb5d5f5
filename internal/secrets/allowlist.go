package secrets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
)

// ErrInvalidTOML is returned when an allowlist file exists but cannot be
// parsed.
var ErrInvalidTOML = errors.New("invalid allowlist TOML")

// ErrInvalidRegex is returned when an allowlist pattern fails to compile.
var ErrInvalidRegex = errors.New("invalid allowlist regex")

// Allowlist contains path and content regex patterns excluded from secret
// detection.
type Allowlist struct {
	Paths   []string
	Regexes []string
}

// LoadAllowlists loads and merges the project and user allowlists with
// union logic. Missing files are skipped; existing but invalid files are
// errors.
//
// projectPath is the directory containing .gitleaks.toml (empty to skip);
// userPath is the full path to a user allowlist file (empty to skip).
func LoadAllowlists(projectPath, userPath string) (*Allowlist, error) {
	merged := &Allowlist{}

	if projectPath != "" {
		project, err := loadTOML(filepath.Join(projectPath, ".gitleaks.toml"))
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if project != nil {
			merged.Paths = append(merged.Paths, project.Paths...)
			merged.Regexes = append(merged.Regexes, project.Regexes...)
		}
	}

	if userPath != "" {
		user, err := loadTOML(userPath)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if user != nil {
			merged.Paths = append(merged.Paths, user.Paths...)
			merged.Regexes = append(merged.Regexes, user.Regexes...)
		}
	}

	return merged, nil
}

// loadTOML loads and validates a single allowlist file. Patterns are
// compiled here so the scanner can assume they are valid.
func loadTOML(path string) (*Allowlist, error) {
	var config struct {
		Allowlist struct {
			Paths   []string
			Regexes []string
		}
	}

	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}

	for _, pattern := range config.Allowlist.Paths {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: path pattern %q in %s: %v", ErrInvalidRegex, pattern, path, err)
		}
	}
	for _, pattern := range config.Allowlist.Regexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: content pattern %q in %s: %v", ErrInvalidRegex, pattern, path, err)
		}
	}

	return &Allowlist{
		Paths:   config.Allowlist.Paths,
		Regexes: config.Allowlist.Regexes,
	}, nil
}
