package harness

import (
	"fmt"
	"sort"
	"strings"
)

// AssertionError is a failed assertion with the owner views it was
// evaluated against.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Owners   map[string][]OwnerEntity
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Owners) > 0 {
		fmt.Fprintf(&buf, "\nOwner views:\n")
		for _, owner := range sortedOwners(e.Owners) {
			for _, ent := range e.Owners[owner] {
				fmt.Fprintf(&buf, "  %s %s %s %s\n", owner, ent.Type, ent.ID, ent.UUID)
			}
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertOwnerEntity:
		return assertOwnerEntity(result, a)
	case AssertOwnerAbsent:
		return assertOwnerAbsent(result, a)
	case AssertShared:
		return assertShared(result, a, true)
	case AssertDistinct:
		return assertShared(result, a, false)
	case AssertOrphans:
		return assertOrphans(result, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertOwnerEntity(result *Result, a Assertion) error {
	got, ok := result.Lookup(a.Owner, a.Entity, a.ID)
	if !ok {
		return &AssertionError{
			Type:     AssertOwnerEntity,
			Expected: fmt.Sprintf("%s has %s %s", a.Owner, a.Entity, a.ID),
			Actual:   "not associated",
			Owners:   result.Owners,
		}
	}
	if a.UUID != "" && got.UUID != a.UUID {
		return &AssertionError{
			Type:     AssertOwnerEntity,
			Expected: fmt.Sprintf("%s %s %s is %s", a.Owner, a.Entity, a.ID, a.UUID),
			Actual:   got.UUID,
			Owners:   result.Owners,
		}
	}
	if a.Name != "" && got.Name != a.Name {
		return &AssertionError{
			Type:     AssertOwnerEntity,
			Expected: fmt.Sprintf("%s %s %s named %q", a.Owner, a.Entity, a.ID, a.Name),
			Actual:   fmt.Sprintf("%q", got.Name),
			Owners:   result.Owners,
		}
	}
	return nil
}

func assertOwnerAbsent(result *Result, a Assertion) error {
	if got, ok := result.Lookup(a.Owner, a.Entity, a.ID); ok {
		return &AssertionError{
			Type:     AssertOwnerAbsent,
			Expected: fmt.Sprintf("%s has no %s %s", a.Owner, a.Entity, a.ID),
			Actual:   fmt.Sprintf("associated with %s", got.UUID),
			Owners:   result.Owners,
		}
	}
	return nil
}

// assertShared checks that the owners see one row (shared) or pairwise
// different rows (distinct) for the entity.
func assertShared(result *Result, a Assertion, shared bool) error {
	uuids := make([]string, 0, len(a.Owners))
	for _, owner := range a.Owners {
		got, ok := result.Lookup(owner, a.Entity, a.ID)
		if !ok {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s has %s %s", owner, a.Entity, a.ID),
				Actual:   "not associated",
				Owners:   result.Owners,
			}
		}
		uuids = append(uuids, got.UUID)
	}

	seen := make(map[string]bool, len(uuids))
	for _, u := range uuids {
		seen[u] = true
	}
	if shared && len(seen) != 1 {
		return &AssertionError{
			Type:     AssertShared,
			Expected: fmt.Sprintf("%v share one %s %s row", a.Owners, a.Entity, a.ID),
			Actual:   strings.Join(uuids, ", "),
			Owners:   result.Owners,
		}
	}
	if !shared && len(seen) != len(uuids) {
		return &AssertionError{
			Type:     AssertDistinct,
			Expected: fmt.Sprintf("%v have distinct %s %s rows", a.Owners, a.Entity, a.ID),
			Actual:   strings.Join(uuids, ", "),
			Owners:   result.Owners,
		}
	}
	return nil
}

func assertOrphans(result *Result, a Assertion) error {
	if len(result.Orphans) != a.Count {
		ids := make([]string, 0, len(result.Orphans))
		for _, o := range result.Orphans {
			ids = append(ids, fmt.Sprintf("%s %s %s", o.Type, o.ID, o.UUID))
		}
		return &AssertionError{
			Type:     AssertOrphans,
			Expected: fmt.Sprintf("%d orphans", a.Count),
			Actual:   fmt.Sprintf("%d orphans [%s]", len(result.Orphans), strings.Join(ids, "; ")),
		}
	}
	return nil
}

func sortedOwners(owners map[string][]OwnerEntity) []string {
	out := make([]string, 0, len(owners))
	for o := range owners {
		out = append(out, o)
	}
	sort.Strings(out)
	return out
}
