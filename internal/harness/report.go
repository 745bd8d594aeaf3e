package harness

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Entry is one recorded step outcome: the observed value for reads and
// counts, "ok" for effects, or a classified failure.
type Entry struct {
	Seq    int    `json:"seq"`
	Actor  string `json:"actor"`
	Action Action `json:"action"`

	// Detail describes the step payload (row, delta, predicate, level).
	Detail string `json:"detail,omitempty"`

	// Value is the observed value: float64 for READ, int for COUNT.
	Value any `json:"value,omitempty"`

	// ErrCode and ErrMsg carry a classified failure outcome.
	ErrCode string `json:"error_code,omitempty"`
	ErrMsg  string `json:"error,omitempty"`
}

// Result is the outcome of one scenario run: the ordered outcome log,
// collected final state, and the verdict. Purely additive; entries are
// never mutated after recording.
type Result struct {
	// RunID identifies this run in JSON output and logs.
	RunID string `json:"run_id"`

	// Scenario is the scenario name.
	Scenario string `json:"scenario"`

	// Pass is the verdict: true while no assertion or fatal step failed.
	Pass bool `json:"pass"`

	// Aborted is set when a fatal failure cut the step list short.
	Aborted bool `json:"aborted,omitempty"`

	// Log holds every recorded step outcome in dispatch order.
	Log []Entry `json:"log"`

	// Errors lists assertion mismatches and fatal step failures.
	Errors []string `json:"errors,omitempty"`

	// Final maps row id to committed price, collected after the run for
	// final_state assertions.
	Final map[int64]float64 `json:"final_state,omitempty"`
}

// NewResult creates a passing result for one scenario run.
func NewResult(scenario string) *Result {
	return &Result{
		RunID:    uuid.NewString(),
		Scenario: scenario,
		Pass:     true,
		Log:      []Entry{},
	}
}

// Record appends a step outcome.
func (r *Result) Record(e Entry) {
	r.Log = append(r.Log, e)
}

// AddError adds a failure message and flips the verdict to FAIL.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

// Render produces the user-facing report: one line per recorded step,
// any error lines, and a single verdict line last. The output contains
// nothing run-specific (no IDs, no timestamps), so two runs of the same
// scenario render identically.
func (r *Result) Render() string {
	var b strings.Builder
	for _, e := range r.Log {
		fmt.Fprintf(&b, "%s: %s", e.Actor, e.Action)
		if e.Detail != "" {
			fmt.Fprintf(&b, "(%s)", e.Detail)
		}
		b.WriteString(" -> ")
		switch {
		case e.ErrCode != "":
			fmt.Fprintf(&b, "%s: %s", e.ErrCode, e.ErrMsg)
		case e.Value != nil:
			b.WriteString(formatValue(e.Value))
		default:
			b.WriteString("ok")
		}
		b.WriteByte('\n')
	}
	for _, msg := range r.Errors {
		fmt.Fprintf(&b, "error: %s\n", msg)
	}
	if r.Pass {
		b.WriteString("verdict: PASS\n")
	} else {
		b.WriteString("verdict: FAIL\n")
	}
	return b.String()
}

// formatValue renders an observed value without trailing zeros, so the
// report and golden files stay stable across platforms.
func formatValue(v any) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case int:
		return strconv.Itoa(x)
	}
	return fmt.Sprintf("%v", v)
}
