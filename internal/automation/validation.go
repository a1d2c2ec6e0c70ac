package automation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nerrad567/tailgate-core/internal/action"
	"github.com/nerrad567/tailgate-core/internal/monitor"
)

// Validation constants.
const (
	maxNameLength     = 100
	maxIDLength       = 64
	maxSteps          = 100
	maxPostActions    = 20
	maxMonitors       = 20
	maxDescriptionLen = 500
	maxDurationMS     = action.MaxWaitMS
)

// Pre-computed validation set for O(1) category lookups.
var validCategories map[Category]struct{}

func init() {
	validCategories = make(map[Category]struct{}, len(AllCategories()))
	for _, c := range AllCategories() {
		validCategories[c] = struct{}{}
	}
}

// ValidateConfig performs comprehensive validation on a config.
// Returns an error wrapping ErrInvalidConfig that describes the first
// failure found.
func ValidateConfig(c *Config) error {
	if c == nil {
		return ErrInvalidConfig
	}
	if err := validateConfig(c); err != nil {
		if errors.Is(err, ErrInvalidConfig) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// validateRunnable is ValidateConfig plus a required ID, so every execution
// record names the config it ran.
func validateRunnable(c *Config) error {
	if err := ValidateConfig(c); err != nil {
		return err
	}
	if c.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidConfig)
	}
	return nil
}

func validateConfig(c *Config) error {
	if c.ID != "" {
		if err := ValidateID(c.ID); err != nil {
			return err
		}
	}
	if err := ValidateName(c.Name); err != nil {
		return err
	}
	if len(c.Description) > maxDescriptionLen {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidConfig, maxDescriptionLen)
	}
	if c.Category != "" {
		if _, ok := validCategories[c.Category]; !ok {
			return fmt.Errorf("%w: invalid category %q", ErrInvalidConfig, c.Category)
		}
	}

	for i, p := range c.Preconditions {
		if err := p.Condition.Validate(); err != nil {
			return fmt.Errorf("precondition[%d]: %w", i, err)
		}
		if p.OnFail != "" && p.OnFail != OnFailAbort && p.OnFail != OnFailWarn {
			return fmt.Errorf("precondition[%d]: %w: on_fail must be abort or warn", i, ErrInvalidConfig)
		}
	}

	if len(c.Steps) == 0 {
		return ErrNoSteps
	}
	if len(c.Steps) > maxSteps {
		return fmt.Errorf("%w: exceeds maximum of %d steps", ErrInvalidStep, maxSteps)
	}
	for i, s := range c.Steps {
		if err := ValidateStep(s); err != nil {
			return fmt.Errorf("step[%d]: %w", i, err)
		}
	}

	if len(c.Monitors) > maxMonitors {
		return fmt.Errorf("%w: exceeds maximum of %d monitors", ErrInvalidConfig, maxMonitors)
	}
	seen := make(map[string]struct{}, len(c.Monitors))
	for i, m := range c.Monitors {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("monitor[%d]: %w", i, err)
		}
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("monitor[%d]: %w: duplicate id %q", i, monitor.ErrInvalidMonitor, m.ID)
		}
		seen[m.ID] = struct{}{}
	}

	if len(c.PostActions) > maxPostActions {
		return fmt.Errorf("%w: exceeds maximum of %d post actions", ErrInvalidConfig, maxPostActions)
	}
	for i, a := range c.PostActions {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("post_action[%d]: %w", i, err)
		}
	}
	return nil
}

// ValidateStep checks a single step.
func ValidateStep(s Step) error {
	if s.TimeoutMS < 0 {
		return fmt.Errorf("%w: timeout_ms must not be negative", ErrInvalidStep)
	}

	switch s.Type {
	case StepAction:
		if s.Action == "" {
			return fmt.Errorf("%w: action step needs an action", ErrInvalidStep)
		}
		return action.ValidateParams(s.Action, s.Params)

	case StepWait:
		if s.DurationMS < 0 || s.DurationMS > maxDurationMS {
			return fmt.Errorf("%w: duration_ms must be 0-%d", ErrInvalidStep, maxDurationMS)
		}
		if s.Condition == nil && s.DurationMS == 0 {
			return fmt.Errorf("%w: wait step needs duration_ms or condition", ErrInvalidStep)
		}
		if s.Condition != nil {
			return s.Condition.Validate()
		}
		return nil

	case StepCondition:
		if s.Condition == nil {
			return fmt.Errorf("%w: condition step needs a condition", ErrInvalidStep)
		}
		return s.Condition.Validate()

	default:
		return fmt.Errorf("%w: unknown step type %q", ErrInvalidStep, s.Type)
	}
}

// ValidateName checks if a config name is valid.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateID checks that a config ID is a slug or a UUID.
func ValidateID(id string) error {
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: id exceeds %d characters", ErrInvalidID, maxIDLength)
	}
	if _, err := uuid.Parse(id); err == nil {
		return nil
	}
	if GenerateSlug(id) != id {
		return fmt.Errorf("%w: %q must be lowercase alphanumeric with hyphens", ErrInvalidID, id)
	}
	return nil
}

// GenerateSlug creates a URL-safe slug from a name.
// It lowercases, replaces spaces/underscores with hyphens, removes
// non-alphanumeric characters, and trims to maxIDLength.
func GenerateSlug(name string) string {
	slug := strings.ToLower(name)
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.ReplaceAll(slug, "_", "-")

	var result strings.Builder
	for _, r := range slug {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			result.WriteRune(r)
		}
	}
	slug = result.String()

	slug = strings.Trim(slug, "-")
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}

	if len(slug) > maxIDLength {
		slug = slug[:maxIDLength]
		slug = strings.TrimRight(slug, "-")
	}

	return slug
}

// GenerateID creates a new UUID for a config or execution.
func GenerateID() string {
	return uuid.New().String()
}
