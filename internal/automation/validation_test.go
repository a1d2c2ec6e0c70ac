package automation

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/nerrad567/tailgate-core/internal/action"
	"github.com/nerrad567/tailgate-core/internal/condition"
	"github.com/nerrad567/tailgate-core/internal/monitor"
)

func validConfig() *Config {
	return &Config{
		ID:   "valid",
		Name: "Valid",
		Preconditions: []Precondition{{
			Condition: condition.Condition{Type: condition.TypeVehicleSpeed, Operator: condition.OpLess, Value: 5.0},
		}},
		Steps: []Step{
			{Type: StepAction, Action: action.KindMoveToAngle, Params: action.Params{"angle": 45.0}},
			{Type: StepWait, DurationMS: 100},
			{Type: StepCondition, Condition: &condition.Condition{Type: condition.TypeTailgateAngle, Operator: condition.OpGreaterEqual, Value: 40.0}},
		},
		Monitors: []monitor.Monitor{speedMonitor()},
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr error
	}{
		{"valid", func(*Config) {}, nil},
		{"empty name", func(c *Config) { c.Name = "  " }, ErrInvalidName},
		{"long name", func(c *Config) { c.Name = strings.Repeat("x", 101) }, ErrInvalidName},
		{"bad id", func(c *Config) { c.ID = "Not A Slug" }, ErrInvalidID},
		{"bad category", func(c *Config) { c.Category = "party" }, ErrInvalidConfig},
		{"no steps", func(c *Config) { c.Steps = nil }, ErrNoSteps},
		{"unknown step type", func(c *Config) { c.Steps[0].Type = "jump" }, ErrInvalidStep},
		{"unknown action", func(c *Config) { c.Steps[0].Action = "fly" }, action.ErrUnknownAction},
		{"bad params", func(c *Config) { c.Steps[0].Params = action.Params{"angle": 120.0} }, action.ErrInvalidParams},
		{"unknown param", func(c *Config) { c.Steps[0].Params["colour"] = "red" }, action.ErrInvalidParams},
		{"wait without duration or condition", func(c *Config) { c.Steps[1].DurationMS = 0 }, ErrInvalidStep},
		{"wait too long", func(c *Config) { c.Steps[1].DurationMS = maxDurationMS + 1 }, ErrInvalidStep},
		{"condition step without condition", func(c *Config) { c.Steps[2].Condition = nil }, ErrInvalidStep},
		{"bad condition operator", func(c *Config) { c.Steps[2].Condition.Operator = "~" }, condition.ErrInvalidOperator},
		{"bad precondition", func(c *Config) { c.Preconditions[0].Type = "wind" }, condition.ErrUnknownConditionType},
		{"bad on_fail", func(c *Config) { c.Preconditions[0].OnFail = "ignore" }, ErrInvalidConfig},
		{"bad monitor", func(c *Config) { c.Monitors[0].OnTrigger = "explode" }, monitor.ErrInvalidMonitor},
		{"duplicate monitor", func(c *Config) { c.Monitors = append(c.Monitors, speedMonitor()) }, monitor.ErrInvalidMonitor},
		{"bad post action", func(c *Config) {
			c.PostActions = []action.Action{{Kind: action.KindUpdateStatus}}
		}, action.ErrInvalidParams},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := validConfig()
			tc.mutate(c)
			err := ValidateConfig(c)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("ValidateConfig() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("ValidateConfig() error = %v, want %v", err, tc.wantErr)
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("ValidateConfig() error = %v, want wrapping ErrInvalidConfig", err)
			}
		})
	}
}

func TestValidateConfig_Nil(t *testing.T) {
	if err := ValidateConfig(nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("ValidateConfig(nil) = %v, want ErrInvalidConfig", err)
	}
}

func TestStepType_UnmarshalRejectsUnknown(t *testing.T) {
	var s Step
	err := json.Unmarshal([]byte(`{"type":"teleport"}`), &s)
	if !errors.Is(err, ErrInvalidStep) {
		t.Errorf("Unmarshal() error = %v, want ErrInvalidStep", err)
	}
	if err := json.Unmarshal([]byte(`{"type":"wait","duration_ms":10}`), &s); err != nil {
		t.Errorf("Unmarshal(wait) error = %v", err)
	}
}

func TestPrecondition_JSONShape(t *testing.T) {
	var p Precondition
	data := `{"type":"vehicle_speed","operator":"<","value":5,"on_fail":"warn","message":"slow down"}`
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if p.Type != condition.TypeVehicleSpeed || p.OnFail != OnFailWarn || p.Message != "slow down" {
		t.Errorf("Precondition = %+v", p)
	}
	if p.Aborts() {
		t.Error("Aborts() = true for warn")
	}
	if !(Precondition{}).Aborts() {
		t.Error("Aborts() = false for default on_fail")
	}
}

func TestGenerateSlug(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Safe Open", "safe-open"},
		{"  Demo__Cycle!! ", "demo-cycle"},
		{"Partial Open (45°)", "partial-open-45"},
		{"---", ""},
	}
	for _, tc := range tests {
		if got := GenerateSlug(tc.in); got != tc.want {
			t.Errorf("GenerateSlug(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestValidateID(t *testing.T) {
	if err := ValidateID(GenerateID()); err != nil {
		t.Errorf("ValidateID(uuid) error = %v", err)
	}
	if err := ValidateID("safe-open"); err != nil {
		t.Errorf("ValidateID(slug) error = %v", err)
	}
	if err := ValidateID(strings.Repeat("a", 65)); !errors.Is(err, ErrInvalidID) {
		t.Errorf("ValidateID(long) error = %v, want ErrInvalidID", err)
	}
}

func TestDeepCopy_Isolated(t *testing.T) {
	orig := validConfig()
	orig.Tags = []string{"a"}
	cpy := orig.DeepCopy()

	cpy.Tags[0] = "b"
	cpy.Steps[0].Params["angle"] = 10.0
	cpy.Steps[2].Condition.Value = 1.0
	cpy.Monitors[0].ID = "changed"

	if orig.Tags[0] != "a" {
		t.Error("Tags shared with copy")
	}
	if orig.Steps[0].Params["angle"] != 45.0 {
		t.Error("step params shared with copy")
	}
	if orig.Steps[2].Condition.Value != 40.0 {
		t.Error("step condition shared with copy")
	}
	if orig.Monitors[0].ID != "speed" {
		t.Error("monitors shared with copy")
	}
	if (*Config)(nil).DeepCopy() != nil {
		t.Error("DeepCopy(nil) != nil")
	}
}

func TestDefaultConfigsAreValid(t *testing.T) {
	for _, cfg := range DefaultConfigs(0) {
		if err := ValidateConfig(&cfg); err != nil {
			t.Errorf("%s: ValidateConfig() error = %v", cfg.ID, err)
		}
	}
}
