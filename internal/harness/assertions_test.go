package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEntry(actor string, value float64) Entry {
	return Entry{Actor: actor, Action: ActionRead, Value: value}
}

func countEntry(actor string, value int) Entry {
	return Entry{Actor: actor, Action: ActionCount, Value: value}
}

func TestObservations(t *testing.T) {
	log := []Entry{
		readEntry("A", 150),
		countEntry("A", 3),
		readEntry("B", 150),
		{Actor: "A", Action: ActionRead, ErrCode: "LOCK_TIMEOUT", ErrMsg: "timed out"},
		readEntry("A", 151),
	}

	assert.Equal(t, []float64{150, 151}, observations(log, "A", ActionRead))
	assert.Equal(t, []float64{3}, observations(log, "A", ActionCount))
	assert.Equal(t, []float64{150}, observations(log, "B", ActionRead))
	assert.Empty(t, observations(log, "B", ActionCount))
}

func TestAssertObservedValue(t *testing.T) {
	log := []Entry{readEntry("A", 150), readEntry("A", 151)}

	assert.NoError(t, assertObservedValue(log, Assertion{Actor: "A", Action: ActionRead, Value: 150}))

	err := assertObservedValue(log, Assertion{Actor: "A", Action: ActionRead, Value: 151})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assertion observed_value failed")

	err = assertObservedValue(nil, Assertion{Actor: "A", Action: ActionRead, Value: 150})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no successful observation")
}

func TestAssertReadsEqual(t *testing.T) {
	assert.NoError(t, assertReadsEqual(
		[]Entry{readEntry("A", 50), readEntry("A", 50)},
		Assertion{Actor: "A", Action: ActionRead}))

	err := assertReadsEqual(
		[]Entry{readEntry("A", 50), readEntry("A", 51)},
		Assertion{Actor: "A", Action: ActionRead})
	require.Error(t, err)

	err = assertReadsEqual(
		[]Entry{readEntry("A", 50)},
		Assertion{Actor: "A", Action: ActionRead})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least two")
}

func TestAssertReadsDiffer(t *testing.T) {
	log := []Entry{readEntry("A", 150), readEntry("A", 151)}

	// Any difference.
	assert.NoError(t, assertReadsDiffer(log, Assertion{Actor: "A", Action: ActionRead}))
	// Exact difference.
	assert.NoError(t, assertReadsDiffer(log, Assertion{Actor: "A", Action: ActionRead, Delta: 1}))

	err := assertReadsDiffer(log, Assertion{Actor: "A", Action: ActionRead, Delta: 2})
	require.Error(t, err)

	same := []Entry{readEntry("A", 150), readEntry("A", 150)}
	err = assertReadsDiffer(same, Assertion{Actor: "A", Action: ActionRead})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "to differ")
}

func TestAssertCountDelta(t *testing.T) {
	log := []Entry{countEntry("A", 3), countEntry("A", 4)}

	assert.NoError(t, assertCountDelta(log, Assertion{Actor: "A", Delta: 1}))

	err := assertCountDelta(log, Assertion{Actor: "A", Delta: 0})
	require.Error(t, err)

	err = assertCountDelta([]Entry{countEntry("A", 3)}, Assertion{Actor: "A", Delta: 1})
	require.Error(t, err)
}

func TestAssertSerializableGuard(t *testing.T) {
	commit := Entry{Actor: "A", Action: ActionCommit}
	failedCommit := Entry{Actor: "A", Action: ActionCommit, ErrCode: "SERIALIZATION_FAILURE", ErrMsg: "conflict"}

	// Stable observations and a successful commit.
	assert.NoError(t, assertSerializableGuard(
		[]Entry{countEntry("A", 3), countEntry("A", 3), commit},
		Assertion{Actor: "A"}))

	// Anomaly observed but the commit failed.
	assert.NoError(t, assertSerializableGuard(
		[]Entry{countEntry("A", 3), countEntry("A", 4), failedCommit},
		Assertion{Actor: "A"}))

	// Anomaly observed and the commit succeeded: the forbidden pairing.
	err := assertSerializableGuard(
		[]Entry{countEntry("A", 3), countEntry("A", 4), commit},
		Assertion{Actor: "A"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "never observes an anomaly AND commits")
}

func TestAssertFinalState(t *testing.T) {
	final := map[int64]float64{1: 151}

	assert.NoError(t, assertFinalState(final, Assertion{Row: 1, Value: 151}))

	err := assertFinalState(final, Assertion{Row: 1, Value: 150})
	require.Error(t, err)

	err = assertFinalState(final, Assertion{Row: 9, Value: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row not found")
}

func TestEvaluateAssertions(t *testing.T) {
	result := &Result{
		Log:   []Entry{readEntry("A", 150), readEntry("A", 151)},
		Final: map[int64]float64{1: 151},
	}
	assertions := []Assertion{
		{Type: AssertObservedValue, Actor: "A", Action: ActionRead, Value: 150},
		{Type: AssertReadsDiffer, Actor: "A", Action: ActionRead, Delta: 1},
		{Type: AssertFinalState, Row: 1, Value: 151},
	}
	assert.Empty(t, EvaluateAssertions(result, assertions))

	assertions[0].Value = 99
	assertions[2].Value = 99
	msgs := EvaluateAssertions(result, assertions)
	assert.Len(t, msgs, 2)
}
