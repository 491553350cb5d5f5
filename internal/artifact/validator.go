package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/specgate/internal/gitmeta"
	"github.com/fyrsmithlabs/specgate/internal/secrets"
	"github.com/fyrsmithlabs/specgate/internal/state"
)

// ViolationCode identifies one failed authenticity rule.
type ViolationCode string

const (
	CodePlaceholder ViolationCode = "placeholder"
	CodeTooSmall    ViolationCode = "too-small"
	CodeStale       ViolationCode = "stale"
	CodeUnknownType ViolationCode = "unknown-type"
	CodeSecretLeak  ViolationCode = "secret-leak"
)

// Violation is one failed rule with its remediation message.
type Violation struct {
	Code    ViolationCode
	Message string
}

// ValidationError carries every rule the candidate failed.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = fmt.Sprintf("%s: %s", v.Code, v.Message)
	}
	return "artifact rejected: " + strings.Join(msgs, "; ")
}

// Has reports whether the error includes the given violation code.
func (e *ValidationError) Has(code ViolationCode) bool {
	for _, v := range e.Violations {
		if v.Code == code {
			return true
		}
	}
	return false
}

// Candidate is unvalidated evidence submitted for attachment.
type Candidate struct {
	Type        state.ArtifactType
	Path        string
	Description string
	Phase       state.Phase
	CreatedAt   time.Time
	SizeBytes   int64
	TestResult  state.TestResult
}

// Config tunes the authenticity rules.
type Config struct {
	// MinSizeBytes is the threshold binary evidence must exceed.
	MinSizeBytes int64

	// MaxAge is the staleness window. Evidence exactly at the edge is
	// still inside it.
	MaxAge time.Duration

	// SecretsScan enables the credential scan on readable log and
	// api-response content.
	SecretsScan bool

	// ProjectRoot is used for commit stamping and secret allowlist
	// discovery. Empty means the current directory.
	ProjectRoot string

	// UserAllowlistPath overrides the per-user allowlist location
	// (default ~/.config/specgate/allowlist.toml).
	UserAllowlistPath string
}

// DefaultConfig returns the rule defaults.
func DefaultConfig() *Config {
	return &Config{
		MinSizeBytes: 1024,
		MaxAge:       24 * time.Hour,
		SecretsScan:  true,
		ProjectRoot:  ".",
	}
}

// placeholderBlocklist rejects descriptions that are obviously filler
// rather than written evidence notes. Matched against the whole trimmed
// description, case-insensitive.
var placeholderBlocklist = []string{
	"pending", "todo", "tbd", "n/a", "none", "...",
}

// Validator judges evidence candidates.
type Validator struct {
	config  *Config
	scanner *secrets.Scanner
	logger  *zap.Logger
}

// NewValidator builds a validator. The secrets scanner is constructed
// eagerly when scanning is enabled so allowlist problems surface at
// startup rather than at first attach.
func NewValidator(cfg *Config, logger *zap.Logger) (*Validator, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	v := &Validator{config: cfg, logger: logger}

	if cfg.SecretsScan {
		userPath := cfg.UserAllowlistPath
		if userPath == "" {
			userPath = userAllowlistPath()
		}
		allowlist, err := secrets.LoadAllowlists(cfg.ProjectRoot, userPath)
		if err != nil {
			return nil, fmt.Errorf("load secret allowlists: %w", err)
		}
		scanner, err := secrets.NewScanner(allowlist)
		if err != nil {
			return nil, fmt.Errorf("build secret scanner: %w", err)
		}
		v.scanner = scanner
	}

	return v, nil
}

// Validate runs every rule against the candidate and, when all pass, mints
// the immutable Artifact. All rules are evaluated; a failing candidate
// yields a ValidationError listing each violated rule.
func (v *Validator) Validate(candidate *Candidate, now time.Time) (*state.Artifact, error) {
	if candidate == nil {
		return nil, fmt.Errorf("nil candidate")
	}

	var violations []Violation

	if viol := checkDescription(candidate.Description); viol != nil {
		violations = append(violations, *viol)
	}

	sizeBytes := candidate.SizeBytes
	if sizeBytes == 0 && candidate.Path != "" {
		if info, err := os.Stat(candidate.Path); err == nil {
			sizeBytes = info.Size()
		}
	}
	if candidate.Type.Binary() && sizeBytes <= v.config.MinSizeBytes {
		violations = append(violations, Violation{
			Code:    CodeTooSmall,
			Message: fmt.Sprintf("%s is %d bytes, below the %d byte evidence minimum (a near-empty file is not evidence)", candidate.Path, sizeBytes, v.config.MinSizeBytes),
		})
	}

	if age := now.Sub(candidate.CreatedAt); age > v.config.MaxAge {
		violations = append(violations, Violation{
			Code:    CodeStale,
			Message: fmt.Sprintf("evidence is %s old, past the %s window; rerun the test and submit fresh evidence", age.Round(time.Minute), v.config.MaxAge),
		})
	}

	if !candidate.Type.Valid() {
		violations = append(violations, Violation{
			Code:    CodeUnknownType,
			Message: fmt.Sprintf("unknown artifact type %q (valid: screenshot, log, api-response, document)", candidate.Type),
		})
	}

	if v.scanner != nil && scannable(candidate.Type) {
		viol, err := v.scanContent(candidate.Path)
		if err != nil {
			return nil, err
		}
		if viol != nil {
			violations = append(violations, *viol)
		}
	}

	if len(violations) > 0 {
		v.logger.Debug("artifact rejected",
			zap.String("path", candidate.Path),
			zap.Int("violations", len(violations)),
		)
		return nil, &ValidationError{Violations: violations}
	}

	return &state.Artifact{
		ID:          uuid.New().String(),
		Type:        candidate.Type,
		Path:        candidate.Path,
		Description: strings.TrimSpace(candidate.Description),
		Phase:       candidate.Phase,
		CreatedAt:   candidate.CreatedAt,
		SizeBytes:   sizeBytes,
		TestResult:  candidate.TestResult,
		CommitID:    gitmeta.HeadCommit(v.config.ProjectRoot),
	}, nil
}

// scanContent runs the credential scan over the evidence file. An absent
// file is skipped (the size rule already covers it); any other read
// failure means the content's cleanliness is unknown, which is an error,
// never a pass.
func (v *Validator) scanContent(path string) (*Violation, error) {
	if path == "" {
		return nil, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read evidence for secret scan: %w", err)
	}

	findings := v.scanner.Scan(string(content))
	if len(findings) == 0 {
		return nil, nil
	}
	return &Violation{
		Code:    CodeSecretLeak,
		Message: fmt.Sprintf("evidence contains %d credential finding(s), first: %s at line %d; redact and resubmit", len(findings), findings[0].RuleID, findings[0].Line),
	}, nil
}

func checkDescription(desc string) *Violation {
	trimmed := strings.TrimSpace(desc)
	if trimmed == "" {
		return &Violation{Code: CodePlaceholder, Message: "description is empty; describe what the evidence shows"}
	}
	if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
		return &Violation{Code: CodePlaceholder, Message: fmt.Sprintf("description %q looks like template placeholder text", trimmed)}
	}
	lower := strings.ToLower(trimmed)
	for _, blocked := range placeholderBlocklist {
		if lower == blocked {
			return &Violation{Code: CodePlaceholder, Message: fmt.Sprintf("description %q is a placeholder, not evidence", trimmed)}
		}
	}
	return nil
}

func scannable(t state.ArtifactType) bool {
	return t == state.ArtifactLog || t == state.ArtifactAPIResponse
}

func userAllowlistPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "specgate", "allowlist.toml")
}
