package harness

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"

	"github.com/34n0/ramptest/internal/fixture"
)

//go:embed schema.cue
var schemaCUE string

// Expect declares the verdict a scenario asserts after its final attempt.
type Expect struct {
	// Outcome is "success" or "failure" for the final attempt.
	Outcome string `yaml:"outcome"`

	// TallyExists, when set, asserts tally file existence for the user
	// immediately after the final attempt (before cleanup).
	TallyExists *bool `yaml:"tally_exists,omitempty"`

	// TallyCount, when set, asserts the recorded failure count.
	TallyCount *int `yaml:"tally_count,omitempty"`

	// LockedMessage, when set, asserts the conversation received a
	// message containing this substring during the final attempt.
	LockedMessage string `yaml:"locked_message,omitempty"`
}

// Scenario is one hermetic test case.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// User and Password are the credentials submitted on each attempt.
	User     string `yaml:"user"`
	Password string `yaml:"password"`

	// Lockout includes the lockout-on-failure directive in the policy.
	Lockout bool `yaml:"lockout,omitempty"`

	// Attempts is the number of times Password is submitted. Zero means 1.
	Attempts int `yaml:"attempts,omitempty"`

	// FinalPassword, when non-empty, adds one more attempt with these
	// credentials after the main loop; Expect applies to it. This is how
	// bounce scenarios show correct credentials being rejected.
	FinalPassword string `yaml:"final_password,omitempty"`

	Expect Expect `yaml:"expect"`
}

// attemptCount returns the effective main-loop attempt count.
func (s *Scenario) attemptCount() int {
	if s.Attempts < 1 {
		return 1
	}
	return s.Attempts
}

// policy derives the PAM service policy this scenario needs. The lockout
// variant matches the module's documented stacking: preauth hook, die-on-fail
// authfail hook, account hook.
func (s *Scenario) policy(modulePath string) fixture.Policy {
	p := fixture.Policy{
		{Phase: fixture.PhaseAuth, Control: fixture.ControlRequired, ModulePath: modulePath, Args: []string{"preauth"}},
	}
	if s.Lockout {
		p = append(p, fixture.Directive{
			Phase: fixture.PhaseAuth, Control: fixture.ControlDie, ModulePath: modulePath, Args: []string{"authfail"},
		})
	}
	p = append(p, fixture.Directive{
		Phase: fixture.PhaseAccount, Control: fixture.ControlRequired, ModulePath: modulePath,
	})
	return p
}

// LoadScenario reads, schema-validates, and parses a scenario YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	if err := validateAgainstSchema(data); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", filepath.Base(path), err)
	}

	// Strict decode catches typos the schema's open fields would miss.
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", filepath.Base(path), err)
	}

	return &scenario, nil
}

// LoadDir loads every .yaml/.yml scenario in dir, sorted by file name for
// deterministic run order.
func LoadDir(dir string) ([]Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario dir: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)

	scenarios := make([]Scenario, 0, len(paths))
	for _, path := range paths {
		s, err := LoadScenario(path)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, *s)
	}
	return scenarios, nil
}

// validateAgainstSchema checks the raw YAML against the embedded CUE schema.
func validateAgainstSchema(data []byte) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("internal schema error: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Scenario"))
	if err := def.Err(); err != nil {
		return fmt.Errorf("internal schema error: %w", err)
	}
	return cueyaml.Validate(data, def)
}

// validateScenario checks constraints the schema cannot express.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.User == "" {
		return fmt.Errorf("user is required")
	}
	switch s.Expect.Outcome {
	case "success", "failure":
	default:
		return fmt.Errorf("expect.outcome must be %q or %q, got %q", "success", "failure", s.Expect.Outcome)
	}
	if s.Attempts < 0 {
		return fmt.Errorf("attempts must be positive")
	}
	if strings.ContainsAny(s.User, "/") {
		return fmt.Errorf("user must be a bare name, got %q", s.User)
	}
	return nil
}

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

// BuiltinSuite returns the canonical scenarios for a module with the given
// lockout threshold, exercising the account user with the given password.
func BuiltinSuite(user, password string, freeTries int) []Scenario {
	return []Scenario{
		{
			Name:        "valid-auth",
			Description: "correct credentials with no lockout directive authenticate and leave no tally",
			User:        user,
			Password:    password,
			Expect: Expect{
				Outcome:     "success",
				TallyExists: boolPtr(false),
			},
		},
		{
			Name:        "invalid-auth",
			Description: "wrong credentials under a lockout policy are rejected and create a tally",
			User:        user,
			Password:    "INVALID",
			Lockout:     true,
			Expect: Expect{
				Outcome:     "failure",
				TallyExists: boolPtr(true),
			},
		},
		{
			Name:        "consecutive-invalid",
			Description: "repeated wrong credentials increment the tally count",
			User:        user,
			Password:    "INVALID",
			Lockout:     true,
			Attempts:    2,
			Expect: Expect{
				Outcome:     "failure",
				TallyExists: boolPtr(true),
				TallyCount:  intPtr(2),
			},
		},
		{
			Name:          "valid-auth-clears-tally",
			Description:   "a successful authentication resets the failure count to zero",
			User:          user,
			Password:      "INVALID",
			Lockout:       true,
			FinalPassword: password,
			Expect: Expect{
				Outcome:    "success",
				TallyCount: intPtr(0),
			},
		},
		{
			Name:          "bounce-auth",
			Description:   "once the threshold is crossed, correct credentials are still rejected",
			User:          user,
			Password:      "INVALID",
			Lockout:       true,
			Attempts:      freeTries + 1,
			FinalPassword: password,
			Expect: Expect{
				Outcome:       "failure",
				TallyExists:   boolPtr(true),
				LockedMessage: "Account locked!",
			},
		},
	}
}
