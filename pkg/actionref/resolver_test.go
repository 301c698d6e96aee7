package actionref

import "testing"

const resolverTestPrefix = "actionref:resolver_test"

func TestResolve_NoRangeReturnsHighest(t *testing.T) {
	candidates := []Version{{Major: 1}, {Major: 3, Minor: 2}, {Major: 2}}
	ref, _ := Parse("orders/submit")
	v, err := Resolve(ref, candidates)
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", resolverTestPrefix, err)
	}
	if v.Major != 3 || v.Minor != 2 {
		t.Errorf("%s - expected 3.2.0, got %s", resolverTestPrefix, v.String())
	}
}

func TestResolve_CaretConstraint(t *testing.T) {
	candidates := []Version{{Major: 1, Minor: 9, Patch: 0}, {Major: 2, Minor: 0, Patch: 0}, {Major: 2, Minor: 3, Patch: 1}}
	ref, _ := Parse("orders/submit@^2.0.0")
	v, err := Resolve(ref, candidates)
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", resolverTestPrefix, err)
	}
	if v.Major != 2 || v.Minor != 3 || v.Patch != 1 {
		t.Errorf("%s - expected highest within ^2.0.0 (2.3.1), got %s", resolverTestPrefix, v.String())
	}
}

func TestResolve_MajorOnlyConstraint(t *testing.T) {
	candidates := []Version{{Major: 1, Minor: 0}, {Major: 2, Minor: 5}}
	ref, _ := Parse("orders/submit@2")
	v, err := Resolve(ref, candidates)
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", resolverTestPrefix, err)
	}
	if v.Major != 2 {
		t.Errorf("%s - expected major 2, got %s", resolverTestPrefix, v.String())
	}
}

func TestResolve_NoSatisfyingVersion(t *testing.T) {
	candidates := []Version{{Major: 1, Minor: 0}}
	ref, _ := Parse("orders/submit@^2.0.0")
	if _, err := Resolve(ref, candidates); err == nil {
		t.Errorf("%s - expected error when no version satisfies constraint", resolverTestPrefix)
	}
}

func TestResolve_NoCandidates(t *testing.T) {
	ref, _ := Parse("orders/submit")
	if _, err := Resolve(ref, nil); err == nil {
		t.Errorf("%s - expected error for empty candidate set", resolverTestPrefix)
	}
}
