package harness

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/refresher/internal/store"
)

// Report renders a result as a stable, line-oriented text report. Entity
// versions are left out; UUIDs come from the sequential generator.
func Report(name string, result *Result) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "scenario: %s\n", name)

	for _, step := range result.Steps {
		switch step.Kind {
		case "refresh":
			fmt.Fprintf(&buf, "step %d: refresh %s", step.Index, step.Owner)
			if step.DryRun {
				buf.WriteString(" (dry run)")
			}
			buf.WriteString("\n")
			writeRefresh(&buf, step)
		case "add_pool":
			fmt.Fprintf(&buf, "step %d: add_pool %s %s\n", step.Index, step.Owner, step.Pool)
		default:
			fmt.Fprintf(&buf, "step %d: remove_pool %s\n", step.Index, step.Pool)
		}
	}

	buf.WriteString("final:\n")
	for _, owner := range sortedOwners(result.Owners) {
		view := result.Owners[owner]
		if len(view) == 0 {
			fmt.Fprintf(&buf, "  %s (none)\n", owner)
			continue
		}
		for _, e := range view {
			fmt.Fprintf(&buf, "  %s %s %s %s %q\n", owner, e.Type, e.ID, e.UUID, e.Name)
		}
	}

	if len(result.Orphans) == 0 {
		buf.WriteString("orphans: none\n")
	} else {
		buf.WriteString("orphans:\n")
		for _, o := range result.Orphans {
			fmt.Fprintf(&buf, "  %s %s %s\n", o.Type, o.ID, o.UUID)
		}
	}

	fmt.Fprintf(&buf, "pass: %t\n", result.Pass)
	for _, e := range result.Errors {
		fmt.Fprintf(&buf, "  %s\n", strings.ReplaceAll(strings.TrimRight(e, "\n"), "\n", "\n  "))
	}
	return buf.Bytes()
}

func writeRefresh(buf *bytes.Buffer, step StepResult) {
	if step.ErrorCode != "" {
		fmt.Fprintf(buf, "  error: %s", step.ErrorCode)
		if len(step.Chain) > 0 {
			fmt.Fprintf(buf, " chain=%s", strings.Join(step.Chain, " -> "))
		}
		buf.WriteString("\n")
		return
	}

	for _, ch := range step.Changes {
		fmt.Fprintf(buf, "  %s\n", changeLine(ch))
	}
	for _, c := range step.Conflicts {
		fmt.Fprintf(buf, "  conflict %s %s %s pools=%s\n", c.Type, c.ID, c.UUID, strings.Join(c.Pools, ","))
	}
	c := step.Counts
	fmt.Fprintf(buf, "  counts: reused=%d adopted=%d created=%d mutated=%d removed=%d forked=%d\n",
		c.Reused, c.Adopted, c.Created, c.Mutated, c.Removed, c.Forked)
}

func changeLine(ch store.AppliedChange) string {
	uuid := ch.UUID
	if uuid == "" {
		uuid = "-"
	}
	line := fmt.Sprintf("%s %s %s %s", ch.Kind, ch.Type, ch.ID, uuid)
	if ch.Forked {
		line += " forked from " + ch.PreviousUUID
	}
	if ch.Collapsed {
		line += " collapsed"
	}
	return line
}

// RunWithGolden runs a scenario and compares its report with
// testdata/golden/<name>.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an existing result's report with its golden file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, Report(name, result))
}
