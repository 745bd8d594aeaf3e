package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tdowney/isolab/internal/store"
)

// Action is one primitive a scenario step asks of an actor.
type Action string

const (
	ActionBegin    Action = "BEGIN"
	ActionRead     Action = "READ"
	ActionCount    Action = "COUNT"
	ActionUpdate   Action = "UPDATE"
	ActionInsert   Action = "INSERT"
	ActionSleep    Action = "SLEEP"
	ActionCommit   Action = "COMMIT"
	ActionRollback Action = "ROLLBACK"
)

// Duration is a time.Duration that decodes from YAML strings like "500ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"500ms\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("duration must not be negative: %q", s)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// Scenario is one anomaly demonstration: a fixture, a set of actors with
// declared isolation levels, a totally ordered step list, and assertions
// over the recorded outcomes.
//
// The step list's total order is the whole mechanism: two actors may
// hold open transactions at the same time, but their statements reach
// the store in exactly this sequence, which is what makes an inherently
// concurrent phenomenon reproducible.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains which anomaly the scenario demonstrates or
	// proves absent.
	Description string `yaml:"description"`

	// Fixture is the initial committed contents of the items table,
	// reseeded at the start of every run.
	Fixture []store.Item `yaml:"fixture"`

	// Actors declares one transaction actor per role with its isolation
	// level. Roles are referenced by steps and assertions.
	Actors []ActorSpec `yaml:"actors"`

	// Steps is the global total order of actions across all actors.
	Steps []Step `yaml:"steps"`

	// Assertions validate the recorded outcome log and final state.
	Assertions []Assertion `yaml:"assertions"`
}

// ActorSpec declares one actor role and its isolation level.
type ActorSpec struct {
	Role      string               `yaml:"role"`
	Isolation store.IsolationLevel `yaml:"isolation"`
}

// Step is one dispatched action. The payload fields used depend on the
// action: READ and UPDATE address a row, UPDATE carries a delta, INSERT
// carries an item, COUNT carries a predicate, SLEEP may carry a real
// wall-clock duration.
type Step struct {
	Actor     string           `yaml:"actor"`
	Action    Action           `yaml:"action"`
	Row       int64            `yaml:"row,omitempty"`
	Delta     float64          `yaml:"delta,omitempty"`
	Item      *store.Item      `yaml:"item,omitempty"`
	Predicate *store.Predicate `yaml:"predicate,omitempty"`
	Duration  Duration         `yaml:"duration,omitempty"`

	// Fatal marks a step whose recoverable failure (serialization
	// failure, lock timeout) should still abort the run.
	Fatal bool `yaml:"fatal,omitempty"`
}

// Assertion validates the outcome log or final stored state.
type Assertion struct {
	// Type selects the assertion:
	//   - "observed_value": actor's first observation of Action equals Value
	//   - "reads_equal": all of the actor's observations of Action are equal
	//   - "reads_differ": the actor's last observation of Action differs
	//     from the first (by exactly Delta when Delta is set)
	//   - "count_delta": last COUNT minus first COUNT equals Delta
	//   - "serializable_guard": never both "observations differ" and
	//     "the actor's commit succeeded"
	//   - "final_state": committed price of Row equals Value after the run
	Type string `yaml:"type"`

	Actor  string  `yaml:"actor,omitempty"`
	Action Action  `yaml:"action,omitempty"`
	Row    int64   `yaml:"row,omitempty"`
	Value  float64 `yaml:"value,omitempty"`
	Delta  float64 `yaml:"delta,omitempty"`
}

// Assertion type constants.
const (
	AssertObservedValue     = "observed_value"
	AssertReadsEqual        = "reads_equal"
	AssertReadsDiffer       = "reads_differ"
	AssertCountDelta        = "count_delta"
	AssertSerializableGuard = "serializable_guard"
	AssertFinalState        = "final_state"
)

// LoadScenario reads and parses a scenario YAML file. The file is first
// checked against the embedded CUE schema, then decoded with strict
// field validation (catches typos like "assertion:" vs "assertions:").
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	if err := validateSchema(path, data); err != nil {
		return nil, err
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := scenario.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// Validate checks semantic constraints the schema cannot express: role
// references, per-action payload requirements, per-type assertion fields.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Actors) == 0 {
		return fmt.Errorf("actors list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	roles := make(map[string]bool, len(s.Actors))
	for i, a := range s.Actors {
		if a.Role == "" {
			return fmt.Errorf("actors[%d]: role is required", i)
		}
		if roles[a.Role] {
			return fmt.Errorf("actors[%d]: duplicate role %q", i, a.Role)
		}
		roles[a.Role] = true
		if _, err := store.ParseIsolation(string(a.Isolation)); err != nil {
			return fmt.Errorf("actors[%d]: %w", i, err)
		}
	}

	for i, f := range s.Fixture {
		if f.ID <= 0 {
			return fmt.Errorf("fixture[%d]: id must be positive", i)
		}
	}

	for i, step := range s.Steps {
		if !roles[step.Actor] {
			return fmt.Errorf("steps[%d]: unknown actor %q", i, step.Actor)
		}
		if err := validateStep(i, step); err != nil {
			return err
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, roles); err != nil {
			return err
		}
	}
	return nil
}

// validateStep checks that a step carries the payload its action needs.
func validateStep(index int, step Step) error {
	switch step.Action {
	case ActionBegin, ActionSleep, ActionCommit, ActionRollback:
		// No payload required.
	case ActionRead:
		if step.Row <= 0 {
			return fmt.Errorf("steps[%d]: READ requires a row id", index)
		}
	case ActionUpdate:
		if step.Row <= 0 {
			return fmt.Errorf("steps[%d]: UPDATE requires a row id", index)
		}
		if step.Delta == 0 {
			return fmt.Errorf("steps[%d]: UPDATE requires a non-zero delta", index)
		}
	case ActionInsert:
		if step.Item == nil {
			return fmt.Errorf("steps[%d]: INSERT requires an item", index)
		}
		if step.Item.Name == "" {
			return fmt.Errorf("steps[%d]: inserted item requires a name", index)
		}
	case ActionCount:
		if step.Predicate == nil {
			return fmt.Errorf("steps[%d]: COUNT requires a predicate", index)
		}
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", index, step.Action)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion, roles map[string]bool) error {
	needActor := func() error {
		if a.Actor == "" {
			return fmt.Errorf("assertions[%d]: actor is required for %s", index, a.Type)
		}
		if !roles[a.Actor] {
			return fmt.Errorf("assertions[%d]: unknown actor %q", index, a.Actor)
		}
		return nil
	}

	switch a.Type {
	case AssertObservedValue:
		if err := needActor(); err != nil {
			return err
		}
		if a.Action != ActionRead && a.Action != ActionCount {
			return fmt.Errorf("assertions[%d]: observed_value requires action READ or COUNT", index)
		}
	case AssertReadsEqual, AssertReadsDiffer:
		if err := needActor(); err != nil {
			return err
		}
		if a.Action != ActionRead && a.Action != ActionCount {
			return fmt.Errorf("assertions[%d]: %s requires action READ or COUNT", index, a.Type)
		}
	case AssertCountDelta:
		if err := needActor(); err != nil {
			return err
		}
	case AssertSerializableGuard:
		if err := needActor(); err != nil {
			return err
		}
	case AssertFinalState:
		if a.Row <= 0 {
			return fmt.Errorf("assertions[%d]: final_state requires a row id", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
