package harness

import (
	"fmt"
	"math"
)

// Observed values are prices and counts; comparisons tolerate float
// noise well below one cent.
const valueEpsilon = 1e-9

func valuesEqual(a, b float64) bool {
	return math.Abs(a-b) < valueEpsilon
}

// observations extracts the actor's successful observed values for one
// action, in log order. COUNT values are widened to float64 so both
// observation kinds share one comparison path.
func observations(log []Entry, actor string, action Action) []float64 {
	var out []float64
	for _, e := range log {
		if e.Actor != actor || e.Action != action || e.ErrCode != "" {
			continue
		}
		switch v := e.Value.(type) {
		case float64:
			out = append(out, v)
		case int:
			out = append(out, float64(v))
		}
	}
	return out
}

// commitSucceeded reports whether the actor's COMMIT step was recorded
// without a failure.
func commitSucceeded(log []Entry, actor string) bool {
	for _, e := range log {
		if e.Actor == actor && e.Action == ActionCommit {
			return e.ErrCode == ""
		}
	}
	return false
}

// EvaluateAssertions evaluates every assertion against the result and
// returns one message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertObservedValue:
			err = assertObservedValue(result.Log, a)
		case AssertReadsEqual:
			err = assertReadsEqual(result.Log, a)
		case AssertReadsDiffer:
			err = assertReadsDiffer(result.Log, a)
		case AssertCountDelta:
			err = assertCountDelta(result.Log, a)
		case AssertSerializableGuard:
			err = assertSerializableGuard(result.Log, a)
		case AssertFinalState:
			err = assertFinalState(result.Final, a)
		default:
			err = fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func assertObservedValue(log []Entry, a Assertion) error {
	obs := observations(log, a.Actor, a.Action)
	if len(obs) == 0 {
		return &AssertionError{
			Type:     AssertObservedValue,
			Expected: fmt.Sprintf("%s %s observing %v", a.Actor, a.Action, a.Value),
			Actual:   "no successful observation recorded",
		}
	}
	if !valuesEqual(obs[0], a.Value) {
		return &AssertionError{
			Type:     AssertObservedValue,
			Expected: fmt.Sprintf("first %s by %s = %v", a.Action, a.Actor, a.Value),
			Actual:   fmt.Sprintf("%v", obs[0]),
		}
	}
	return nil
}

func assertReadsEqual(log []Entry, a Assertion) error {
	obs := observations(log, a.Actor, a.Action)
	if len(obs) < 2 {
		return &AssertionError{
			Type:     AssertReadsEqual,
			Expected: fmt.Sprintf("at least two %s observations by %s", a.Action, a.Actor),
			Actual:   fmt.Sprintf("%d recorded", len(obs)),
		}
	}
	for _, v := range obs[1:] {
		if !valuesEqual(v, obs[0]) {
			return &AssertionError{
				Type:     AssertReadsEqual,
				Expected: fmt.Sprintf("every %s by %s = %v", a.Action, a.Actor, obs[0]),
				Actual:   fmt.Sprintf("%v", v),
			}
		}
	}
	return nil
}

func assertReadsDiffer(log []Entry, a Assertion) error {
	obs := observations(log, a.Actor, a.Action)
	if len(obs) < 2 {
		return &AssertionError{
			Type:     AssertReadsDiffer,
			Expected: fmt.Sprintf("at least two %s observations by %s", a.Action, a.Actor),
			Actual:   fmt.Sprintf("%d recorded", len(obs)),
		}
	}
	first, last := obs[0], obs[len(obs)-1]
	if a.Delta != 0 {
		if !valuesEqual(last-first, a.Delta) {
			return &AssertionError{
				Type:     AssertReadsDiffer,
				Expected: fmt.Sprintf("%s observations by %s differing by %v", a.Action, a.Actor, a.Delta),
				Actual:   fmt.Sprintf("first %v, last %v", first, last),
			}
		}
		return nil
	}
	if valuesEqual(first, last) {
		return &AssertionError{
			Type:     AssertReadsDiffer,
			Expected: fmt.Sprintf("%s observations by %s to differ", a.Action, a.Actor),
			Actual:   fmt.Sprintf("both %v", first),
		}
	}
	return nil
}

func assertCountDelta(log []Entry, a Assertion) error {
	obs := observations(log, a.Actor, ActionCount)
	if len(obs) < 2 {
		return &AssertionError{
			Type:     AssertCountDelta,
			Expected: fmt.Sprintf("at least two COUNT observations by %s", a.Actor),
			Actual:   fmt.Sprintf("%d recorded", len(obs)),
		}
	}
	first, last := obs[0], obs[len(obs)-1]
	if !valuesEqual(last-first, a.Delta) {
		return &AssertionError{
			Type:     AssertCountDelta,
			Expected: fmt.Sprintf("COUNT by %s changing by %v", a.Actor, a.Delta),
			Actual:   fmt.Sprintf("first %v, last %v", first, last),
		}
	}
	return nil
}

// assertSerializableGuard enforces the pairing the stricter levels
// promise: an anomaly may be observed, or the commit may succeed, but
// never both.
func assertSerializableGuard(log []Entry, a Assertion) error {
	anomaly := false
	for _, action := range []Action{ActionRead, ActionCount} {
		obs := observations(log, a.Actor, action)
		if len(obs) >= 2 && !valuesEqual(obs[0], obs[len(obs)-1]) {
			anomaly = true
		}
	}
	if anomaly && commitSucceeded(log, a.Actor) {
		return &AssertionError{
			Type:     AssertSerializableGuard,
			Expected: fmt.Sprintf("%s never observes an anomaly AND commits", a.Actor),
			Actual:   "observations changed within the transaction and the commit succeeded",
		}
	}
	return nil
}

func assertFinalState(final map[int64]float64, a Assertion) error {
	price, ok := final[a.Row]
	if !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row %d present with price %v", a.Row, a.Value),
			Actual:   "row not found in final state",
		}
	}
	if !valuesEqual(price, a.Value) {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row %d price %v", a.Row, a.Value),
			Actual:   fmt.Sprintf("%v", price),
		}
	}
	return nil
}
