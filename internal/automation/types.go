package automation

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/tailgate-core/internal/action"
	"github.com/nerrad567/tailgate-core/internal/condition"
	"github.com/nerrad567/tailgate-core/internal/monitor"
)

// Config is a declarative, multi-step tailgate behaviour: preconditions
// checked once, ordered steps, monitors active while the steps run, and
// best-effort post-actions.
type Config struct {
	// Identity
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`

	// UI metadata
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Category    Category `json:"category,omitempty" yaml:"category,omitempty"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	Preconditions []Precondition    `json:"preconditions,omitempty" yaml:"preconditions,omitempty"`
	Steps         []Step            `json:"steps" yaml:"steps"`
	Monitors      []monitor.Monitor `json:"monitors,omitempty" yaml:"monitors,omitempty"`
	PostActions   []action.Action   `json:"post_actions,omitempty" yaml:"post_actions,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// FailPolicy decides what a failed precondition does.
type FailPolicy string

const (
	// OnFailAbort aborts the execution before any step runs (default).
	OnFailAbort FailPolicy = "abort"

	// OnFailWarn reports the failure and continues.
	OnFailWarn FailPolicy = "warn"
)

// Precondition is a condition checked once before any step runs.
type Precondition struct {
	condition.Condition `yaml:",inline"`

	OnFail  FailPolicy `json:"on_fail,omitempty" yaml:"on_fail,omitempty"`
	Message string     `json:"message,omitempty" yaml:"message,omitempty"`
}

// Aborts reports whether a failure of p aborts the execution.
func (p Precondition) Aborts() bool {
	return p.OnFail == "" || p.OnFail == OnFailAbort
}

// StepType tags a step.
type StepType string

const (
	StepAction    StepType = "action"
	StepWait      StepType = "wait"
	StepCondition StepType = "condition"
)

// Valid reports whether t is a known step type.
func (t StepType) Valid() bool {
	return t == StepAction || t == StepWait || t == StepCondition
}

// UnmarshalJSON rejects unknown step types at load time.
func (t *StepType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return t.set(s)
}

// UnmarshalYAML rejects unknown step types at load time.
func (t *StepType) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return t.set(s)
}

func (t *StepType) set(s string) error {
	if !StepType(s).Valid() {
		return fmt.Errorf("%w: unknown step type %q", ErrInvalidStep, s)
	}
	*t = StepType(s)
	return nil
}

// Step is one entry of a config's ordered step list.
//
// An action step names Action and Params. A wait step carries DurationMS or
// a Condition to wait for. A condition step asserts Condition once.
type Step struct {
	Type StepType `json:"type" yaml:"type"`
	Name string   `json:"name,omitempty" yaml:"name,omitempty"`

	Action action.Kind   `json:"action,omitempty" yaml:"action,omitempty"`
	Params action.Params `json:"params,omitempty" yaml:"params,omitempty"`

	DurationMS int                  `json:"duration_ms,omitempty" yaml:"duration_ms,omitempty"`
	Condition  *condition.Condition `json:"condition,omitempty" yaml:"condition,omitempty"`

	// TimeoutMS bounds motion waits for action steps and condition waits
	// for wait steps. Zero uses the engine default.
	TimeoutMS int `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`

	// When true, the execution continues if this step fails (default false: fail-fast)
	ContinueOnError bool `json:"continue_on_error,omitempty" yaml:"continue_on_error,omitempty"`
}

// Category groups configs for display.
type Category string

const (
	CategoryMotion      Category = "motion"
	CategorySafety      Category = "safety"
	CategoryDemo        Category = "demo"
	CategoryDiagnostics Category = "diagnostics"
	CategoryCustom      Category = "custom"
)

// AllCategories returns all valid config categories.
func AllCategories() []Category {
	return []Category{
		CategoryMotion,
		CategorySafety,
		CategoryDemo,
		CategoryDiagnostics,
		CategoryCustom,
	}
}

// Trigger records what started an execution.
type Trigger struct {
	Type   string `json:"type"`             // manual, sequence, safe_mode, cli
	Source string `json:"source,omitempty"` // api, mqtt, orchestrator, ...
}

// Execution tracks a single run of a config.
type Execution struct {
	ID            string          `json:"id"`
	ConfigID      string          `json:"config_id"`
	ConfigName    string          `json:"config_name"`
	TriggeredAt   time.Time       `json:"triggered_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	TriggerType   string          `json:"trigger_type"`
	TriggerSource *string         `json:"trigger_source,omitempty"`
	Status        ExecutionStatus `json:"status"`

	// Step counts
	StepsTotal     int `json:"steps_total"`
	StepsCompleted int `json:"steps_completed"`
	StepsFailed    int `json:"steps_failed"`
	StepsSkipped   int `json:"steps_skipped"`

	// Failure details (populated when steps fail)
	Failures []StepFailure `json:"failures,omitempty"`

	// Error is the error that ended the execution, if any.
	Error string `json:"error,omitempty"`

	DurationMS *int `json:"duration_ms,omitempty"`
}

// StepFailure records details of a failed step within an execution.
type StepFailure struct {
	StepIndex int         `json:"step_index"`
	StepType  StepType    `json:"step_type"`
	Action    action.Kind `json:"action,omitempty"`
	ErrorCode string      `json:"error_code"`
	ErrorMsg  string      `json:"error_message"`
}

// ExecutionStatus represents the state of an execution.
type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusPartial   ExecutionStatus = "partial"  // Some steps failed with continue_on_error
	StatusFailed    ExecutionStatus = "failed"   // A step failed and the execution aborted
	StatusStopped   ExecutionStatus = "stopped"  // Stopped externally
	StatusRejected  ExecutionStatus = "rejected" // Aborting precondition failed; no steps ran
)

// DeepCopy creates a complete independent copy of the Config.
// All map and slice fields are cloned so modifications to the copy
// do not affect the original. This is essential for cache isolation.
func (c *Config) DeepCopy() *Config {
	if c == nil {
		return nil
	}

	cpy := *c

	if c.Tags != nil {
		cpy.Tags = append([]string(nil), c.Tags...)
	}
	if c.Preconditions != nil {
		cpy.Preconditions = make([]Precondition, len(c.Preconditions))
		for i, p := range c.Preconditions {
			p.Value = deepCopyValue(p.Value)
			cpy.Preconditions[i] = p
		}
	}
	if c.Steps != nil {
		cpy.Steps = make([]Step, len(c.Steps))
		for i, s := range c.Steps {
			s.Params = deepCopyMap(s.Params)
			if s.Condition != nil {
				cond := *s.Condition
				cond.Value = deepCopyValue(cond.Value)
				s.Condition = &cond
			}
			cpy.Steps[i] = s
		}
	}
	if c.Monitors != nil {
		cpy.Monitors = make([]monitor.Monitor, len(c.Monitors))
		for i, m := range c.Monitors {
			m.Value = deepCopyValue(m.Value)
			cpy.Monitors[i] = m
		}
	}
	if c.PostActions != nil {
		cpy.PostActions = make([]action.Action, len(c.PostActions))
		for i, a := range c.PostActions {
			a.Params = deepCopyMap(a.Params)
			cpy.PostActions[i] = a
		}
	}

	return &cpy
}

// deepCopyMap creates a deep copy of a params map.
// Nested maps and slices are recursively copied.
func deepCopyMap(m action.Params) action.Params {
	if m == nil {
		return nil
	}
	cpy := make(action.Params, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies a value, handling nested maps and slices.
func deepCopyValue(v any) any {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case map[string]any:
		return map[string]any(deepCopyMap(val))
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		return v // Primitives are immutable
	}
}

func (e *Execution) clone() *Execution {
	if e == nil {
		return nil
	}
	cpy := *e
	if e.Failures != nil {
		cpy.Failures = append([]StepFailure(nil), e.Failures...)
	}
	return &cpy
}
