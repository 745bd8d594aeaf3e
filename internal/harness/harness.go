package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/tdowney/isolab/internal/store"
	"github.com/tdowney/isolab/internal/testutil"
)

// Runner executes scenarios against a store. It is the sole scheduler:
// steps are dispatched strictly in their declared order, one at a time,
// and "concurrency" exists only in that several actors may hold open
// transactions while the steps interleave.
type Runner struct {
	store  store.Store
	logger *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger attaches a structured logger for per-step diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// New creates a Runner over the given store. Logs are discarded unless
// WithLogger is supplied.
func New(st store.Store, opts ...Option) *Runner {
	r := &Runner{
		store:  st,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one scenario and returns its result.
//
// Execution flow:
//  1. Reset the fixture table to the scenario's declared rows.
//  2. Open one session per actor role.
//  3. Dispatch every step in declared order, recording each outcome.
//     Serialization failures and lock timeouts are recorded and the run
//     continues (they are demonstration data); actor misuse and broken
//     statements abort the remaining steps.
//  4. Roll back any actor still ACTIVE — guaranteed on every exit path.
//  5. Collect final committed state and evaluate the assertions.
//
// The returned error covers infrastructure failures only (fixture reset,
// session open); everything scenario-level lands in the Result.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Result, error) {
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario %q: %w", sc.Name, err)
	}
	if err := r.store.Reset(ctx, sc.Fixture); err != nil {
		return nil, fmt.Errorf("failed to reset fixture: %w", err)
	}

	result := NewResult(sc.Name)
	clock := testutil.NewStepClock()

	actors := make(map[string]*Actor, len(sc.Actors))
	defer func() {
		// Teardown in declared actor order; forced rollback keeps the
		// promise that no transaction outlives the run.
		cleanupCtx := context.WithoutCancel(ctx)
		for _, spec := range sc.Actors {
			a := actors[spec.Role]
			if a == nil {
				continue
			}
			if a.State() == StateActive {
				_ = a.Rollback(cleanupCtx)
				r.logger.Info("forced rollback during teardown", "run_id", result.RunID, "actor", spec.Role)
			}
			_ = a.Close(cleanupCtx)
		}
	}()

	for _, spec := range sc.Actors {
		sess, err := r.store.Session(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to open session for actor %s: %w", spec.Role, err)
		}
		actors[spec.Role] = NewActor(spec.Role, spec.Isolation, sess)
	}

	for i, step := range sc.Steps {
		actor := actors[step.Actor]
		entry := Entry{
			Seq:    clock.Next(),
			Actor:  step.Actor,
			Action: step.Action,
			Detail: stepDetail(actor, step),
		}

		value, err := r.dispatch(ctx, actor, step)
		if err != nil {
			entry.ErrCode = outcomeCode(err)
			entry.ErrMsg = outcomeMessage(err)
			result.Record(entry)
			r.logger.Info("step failed",
				"run_id", result.RunID, "step", i+1, "actor", step.Actor,
				"action", step.Action, "code", entry.ErrCode)

			if IsMisuse(err) || !store.IsRecoverable(err) {
				result.AddError(fmt.Sprintf("step %d (%s %s) failed: %v", i+1, step.Actor, step.Action, err))
				result.Aborted = true
				break
			}
			if step.Fatal {
				result.AddError(fmt.Sprintf("step %d (%s %s) marked fatal and failed: %v", i+1, step.Actor, step.Action, err))
				result.Aborted = true
				break
			}
			continue
		}

		entry.Value = value
		result.Record(entry)
		r.logger.Info("step completed",
			"run_id", result.RunID, "step", i+1, "actor", step.Actor,
			"action", step.Action, "value", value)
	}

	if err := r.collectFinalState(ctx, sc, result); err != nil {
		return nil, err
	}

	if !result.Aborted {
		for _, msg := range EvaluateAssertions(result, sc.Assertions) {
			result.AddError(msg)
		}
	}

	r.logger.Info("scenario finished", "run_id", result.RunID, "scenario", sc.Name, "pass", result.Pass)
	return result, nil
}

// dispatch routes one step to its actor.
func (r *Runner) dispatch(ctx context.Context, actor *Actor, step Step) (any, error) {
	switch step.Action {
	case ActionBegin:
		return nil, actor.Begin(ctx)
	case ActionRead:
		v, err := actor.Read(ctx, step.Row)
		if err != nil {
			return nil, err
		}
		return v, nil
	case ActionCount:
		n, err := actor.Count(ctx, *step.Predicate)
		if err != nil {
			return nil, err
		}
		return n, nil
	case ActionUpdate:
		return nil, actor.Update(ctx, step.Row, step.Delta)
	case ActionInsert:
		return nil, actor.Insert(ctx, *step.Item)
	case ActionSleep:
		return nil, actor.Sleep(ctx, time.Duration(step.Duration))
	case ActionCommit:
		return nil, actor.Commit(ctx)
	case ActionRollback:
		return nil, actor.Rollback(ctx)
	}
	// Unreachable after Validate.
	return nil, store.NewStepError(store.CodeStepExecution, "dispatch", fmt.Sprintf("unknown action %q", step.Action), nil)
}

// collectFinalState reads the committed prices of every row named by a
// final_state assertion, using a transaction of its own so open actor
// transactions do not leak into the check.
func (r *Runner) collectFinalState(ctx context.Context, sc *Scenario, result *Result) error {
	var rows []int64
	seen := make(map[int64]bool)
	for _, a := range sc.Assertions {
		if a.Type == AssertFinalState && !seen[a.Row] {
			rows = append(rows, a.Row)
			seen[a.Row] = true
		}
	}
	if len(rows) == 0 {
		return nil
	}

	sess, err := r.store.Session(ctx)
	if err != nil {
		return fmt.Errorf("failed to open final-state session: %w", err)
	}
	defer sess.Close()

	tx, err := sess.Begin(ctx, store.ReadCommitted)
	if err != nil {
		return fmt.Errorf("failed to begin final-state read: %w", err)
	}
	defer tx.Rollback(ctx)

	result.Final = make(map[int64]float64, len(rows))
	for _, id := range rows {
		price, err := tx.ReadPrice(ctx, id)
		if err != nil {
			// Absence is a legitimate final state; the assertion decides.
			continue
		}
		result.Final[id] = price
	}
	return nil
}

// stepDetail renders the step payload for the report.
func stepDetail(actor *Actor, step Step) string {
	switch step.Action {
	case ActionBegin:
		return string(actor.Isolation())
	case ActionRead:
		return fmt.Sprintf("row=%d", step.Row)
	case ActionUpdate:
		return fmt.Sprintf("row=%d delta=%+g", step.Row, step.Delta)
	case ActionCount:
		return step.Predicate.String()
	case ActionInsert:
		return fmt.Sprintf("name=%s price=%g", step.Item.Name, step.Item.Price)
	case ActionSleep:
		if step.Duration > 0 {
			return step.Duration.String()
		}
	}
	return ""
}
