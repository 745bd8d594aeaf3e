package harness

import (
	"context"
	"strings"
	"testing"
	"unicode"

	"github.com/sebdah/goldie/v2"
	"golang.org/x/text/unicode/norm"
)

// goldenName turns a scenario name into a stable fixture key. Names may
// come from YAML authored on platforms with different Unicode
// normalization, so NFC first; whitespace becomes hyphens.
func goldenName(name string) string {
	n := norm.NFC.String(name)
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return '-'
		}
		return r
	}, n)
}

// RunWithGolden executes a scenario and compares the rendered report
// against testdata/golden/{name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// The rendered report carries no run IDs or timestamps, so it is a
// byte-stable source of truth for a scenario's expected interleaving.
func RunWithGolden(t *testing.T, r *Runner, sc *Scenario) *Result {
	t.Helper()

	result, err := r.Run(context.Background(), sc)
	if err != nil {
		t.Fatalf("scenario %s failed to run: %v", sc.Name, err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, goldenName(sc.Name), []byte(result.Render()))
	return result
}
