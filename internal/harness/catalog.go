package harness

import "github.com/tdowney/isolab/internal/store"

// The built-in catalog holds the five canonical demonstrations. Each
// entry is pure data, identical in shape to what LoadScenario reads
// from YAML.

// Catalog returns fresh copies of the built-in scenarios, in a stable
// presentation order.
func Catalog() []*Scenario {
	return []*Scenario{
		dirtyReadAttempt(),
		nonRepeatableRead(),
		repeatableReadNoAnomaly(),
		phantomRead(),
		serializableNoPhantom(),
	}
}

// Lookup finds a built-in scenario by name.
func Lookup(name string) (*Scenario, bool) {
	for _, sc := range Catalog() {
		if sc.Name == name {
			return sc, true
		}
	}
	return nil, false
}

// dirtyReadAttempt shows the anomaly that cannot happen: stores mapping
// the weakest level to READ_COMMITTED never expose uncommitted writes,
// so the demonstration asserts absence rather than presence.
func dirtyReadAttempt() *Scenario {
	return &Scenario{
		Name:        "dirty-read-attempt",
		Description: "B reads while A holds an uncommitted update; B must see the last committed value, never the uncommitted one.",
		Fixture: []store.Item{
			{ID: 1, Name: "apple", Price: 150},
		},
		Actors: []ActorSpec{
			{Role: "A", Isolation: store.ReadCommitted},
			{Role: "B", Isolation: store.ReadCommitted},
		},
		Steps: []Step{
			{Actor: "A", Action: ActionBegin},
			{Actor: "A", Action: ActionUpdate, Row: 1, Delta: 50},
			{Actor: "A", Action: ActionSleep},
			{Actor: "B", Action: ActionBegin},
			{Actor: "B", Action: ActionRead, Row: 1},
			{Actor: "B", Action: ActionCommit},
			{Actor: "A", Action: ActionRollback},
		},
		Assertions: []Assertion{
			{Type: AssertObservedValue, Actor: "B", Action: ActionRead, Value: 150},
			{Type: AssertFinalState, Row: 1, Value: 150},
		},
	}
}

func nonRepeatableRead() *Scenario {
	return &Scenario{
		Name:        "non-repeatable-read",
		Description: "Under READ_COMMITTED, A's two reads of the same row differ after B commits an update between them.",
		Fixture: []store.Item{
			{ID: 1, Name: "apple", Price: 150},
		},
		Actors: []ActorSpec{
			{Role: "A", Isolation: store.ReadCommitted},
			{Role: "B", Isolation: store.ReadCommitted},
		},
		Steps: []Step{
			{Actor: "A", Action: ActionBegin},
			{Actor: "A", Action: ActionRead, Row: 1},
			{Actor: "B", Action: ActionBegin},
			{Actor: "B", Action: ActionUpdate, Row: 1, Delta: 1},
			{Actor: "B", Action: ActionCommit},
			{Actor: "A", Action: ActionRead, Row: 1},
			{Actor: "A", Action: ActionCommit},
		},
		Assertions: []Assertion{
			{Type: AssertObservedValue, Actor: "A", Action: ActionRead, Value: 150},
			{Type: AssertReadsDiffer, Actor: "A", Action: ActionRead, Delta: 1},
			{Type: AssertFinalState, Row: 1, Value: 151},
		},
	}
}

func repeatableReadNoAnomaly() *Scenario {
	return &Scenario{
		Name:        "repeatable-read-no-anomaly",
		Description: "Under REPEATABLE_READ, A's two reads are equal even though B commits an update between them.",
		Fixture: []store.Item{
			{ID: 1, Name: "apple", Price: 50},
		},
		Actors: []ActorSpec{
			{Role: "A", Isolation: store.RepeatableRead},
			{Role: "B", Isolation: store.ReadCommitted},
		},
		Steps: []Step{
			{Actor: "A", Action: ActionBegin},
			{Actor: "A", Action: ActionRead, Row: 1},
			{Actor: "B", Action: ActionBegin},
			{Actor: "B", Action: ActionUpdate, Row: 1, Delta: 1},
			{Actor: "B", Action: ActionCommit},
			{Actor: "A", Action: ActionRead, Row: 1},
			{Actor: "A", Action: ActionCommit},
		},
		Assertions: []Assertion{
			{Type: AssertObservedValue, Actor: "A", Action: ActionRead, Value: 50},
			{Type: AssertReadsEqual, Actor: "A", Action: ActionRead},
			{Type: AssertFinalState, Row: 1, Value: 51},
		},
	}
}

func phantomRead() *Scenario {
	return &Scenario{
		Name:        "phantom-read",
		Description: "Under READ_COMMITTED, A's second predicate count sees the row B inserted and committed between the counts.",
		Fixture:     phantomFixture(),
		Actors: []ActorSpec{
			{Role: "A", Isolation: store.ReadCommitted},
			{Role: "B", Isolation: store.ReadCommitted},
		},
		Steps: phantomSteps(),
		Assertions: []Assertion{
			{Type: AssertObservedValue, Actor: "A", Action: ActionCount, Value: 3},
			{Type: AssertCountDelta, Actor: "A", Delta: 1},
		},
	}
}

func serializableNoPhantom() *Scenario {
	return &Scenario{
		Name:        "serializable-no-phantom",
		Description: "Under SERIALIZABLE, A's counts stay equal; if the store cannot order A after B's insert, A's commit fails instead.",
		Fixture:     phantomFixture(),
		Actors: []ActorSpec{
			{Role: "A", Isolation: store.Serializable},
			{Role: "B", Isolation: store.ReadCommitted},
		},
		Steps: phantomSteps(),
		Assertions: []Assertion{
			{Type: AssertObservedValue, Actor: "A", Action: ActionCount, Value: 3},
			{Type: AssertReadsEqual, Actor: "A", Action: ActionCount},
			{Type: AssertSerializableGuard, Actor: "A"},
		},
	}
}

// phantomFixture has three rows matching the counting predicate and one
// below it, shared by both phantom scenarios.
func phantomFixture() []store.Item {
	return []store.Item{
		{ID: 1, Name: "gadget-1", Price: 80},
		{ID: 2, Name: "gadget-2", Price: 120},
		{ID: 3, Name: "gadget-3", Price: 60},
		{ID: 4, Name: "trinket", Price: 25},
	}
}

func phantomSteps() []Step {
	pred := &store.Predicate{MinPrice: 50}
	return []Step{
		{Actor: "A", Action: ActionBegin},
		{Actor: "A", Action: ActionCount, Predicate: pred},
		{Actor: "B", Action: ActionBegin},
		{Actor: "B", Action: ActionInsert, Item: &store.Item{Name: "gadget-4", Price: 100}},
		{Actor: "B", Action: ActionCommit},
		{Actor: "A", Action: ActionCount, Predicate: pred},
		{Actor: "A", Action: ActionCommit},
	}
}
